// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

package anchor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/capstan-io/capstan/lib/manifest"
	"github.com/capstan-io/capstan/lib/merkle"
)

func testSubmission() Submission {
	var id manifest.SessionID
	for i := range id {
		id[i] = byte(0xa0 + i)
	}
	return Submission{
		SessionID:    id,
		ManifestHash: merkle.HashManifest([]byte("manifest")),
		MerkleRoot:   merkle.HashPlaintext([]byte("root")),
		ChunkCount:   17,
	}
}

func newTestChain(t *testing.T, server *httptest.Server, profile Profile) *HTTPChain {
	t.Helper()
	if profile.Endpoint == "" {
		profile.Endpoint = server.URL
	}
	if profile.Name == "" {
		profile.Name = "test"
	}
	chain, err := NewHTTPChain(profile, server.Client())
	if err != nil {
		t.Fatalf("NewHTTPChain: %v", err)
	}
	return chain
}

func TestHTTPChain_SubmitAnchor(t *testing.T) {
	var gotBody map[string]any
	var gotPath, gotContentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"tx_ref": "0xfeed"})
	}))
	defer server.Close()

	chain := newTestChain(t, server, Profile{Contract: "0x4f2a"})
	sub := testSubmission()

	ref, err := chain.SubmitAnchor(context.Background(), sub)
	if err != nil {
		t.Fatalf("SubmitAnchor: %v", err)
	}
	if ref != "0xfeed" {
		t.Errorf("tx ref = %q, want 0xfeed", ref)
	}
	if gotPath != "/anchors" {
		t.Errorf("path = %q, want /anchors", gotPath)
	}
	if gotContentType != "application/json" {
		t.Errorf("content type = %q", gotContentType)
	}
	if gotBody["session_id"] != sub.SessionID.String() {
		t.Errorf("session_id = %v, want %s", gotBody["session_id"], sub.SessionID)
	}
	if gotBody["manifest_hash"] != sub.ManifestHash.String() {
		t.Errorf("manifest_hash = %v, want %s", gotBody["manifest_hash"], sub.ManifestHash)
	}
	if gotBody["merkle_root"] != sub.MerkleRoot.String() {
		t.Errorf("merkle_root = %v, want %s", gotBody["merkle_root"], sub.MerkleRoot)
	}
	if gotBody["chunk_count"] != float64(17) {
		t.Errorf("chunk_count = %v, want 17", gotBody["chunk_count"])
	}
	if gotBody["contract"] != "0x4f2a" {
		t.Errorf("contract = %v, want 0x4f2a", gotBody["contract"])
	}
}

func TestHTTPChain_SubmitAnchorAccepted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"tx_ref": "0xqueued"})
	}))
	defer server.Close()

	chain := newTestChain(t, server, Profile{})
	ref, err := chain.SubmitAnchor(context.Background(), testSubmission())
	if err != nil {
		t.Fatalf("SubmitAnchor: %v", err)
	}
	if ref != "0xqueued" {
		t.Errorf("tx ref = %q, want 0xqueued", ref)
	}
}

func TestHTTPChain_SubmitAnchorGatewayError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "wallet out of gas", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	chain := newTestChain(t, server, Profile{})
	_, err := chain.SubmitAnchor(context.Background(), testSubmission())
	if err == nil {
		t.Fatal("SubmitAnchor succeeded against a failing gateway")
	}
	if !strings.Contains(err.Error(), "503") {
		t.Errorf("error does not carry the status code: %v", err)
	}
	if !strings.Contains(err.Error(), "wallet out of gas") {
		t.Errorf("error does not carry the gateway detail: %v", err)
	}
}

func TestHTTPChain_SubmitAnchorEmptyTxRef(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer server.Close()

	chain := newTestChain(t, server, Profile{})
	if _, err := chain.SubmitAnchor(context.Background(), testSubmission()); err == nil {
		t.Fatal("SubmitAnchor accepted a response without a tx ref")
	}
}

func TestHTTPChain_GetConfirmation(t *testing.T) {
	var gotPath, gotDepth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotDepth = r.URL.Query().Get("depth")
		json.NewEncoder(w).Encode(map[string]any{
			"status":       "confirmed",
			"block_number": 40213,
		})
	}))
	defer server.Close()

	chain := newTestChain(t, server, Profile{ConfirmationDepth: 12})
	conf, err := chain.GetConfirmation(context.Background(), "0xfeed")
	if err != nil {
		t.Fatalf("GetConfirmation: %v", err)
	}
	if conf.Status != StatusConfirmed {
		t.Errorf("status = %q, want confirmed", conf.Status)
	}
	if conf.BlockNumber != 40213 {
		t.Errorf("block number = %d, want 40213", conf.BlockNumber)
	}
	if gotPath != "/transactions/0xfeed" {
		t.Errorf("path = %q, want /transactions/0xfeed", gotPath)
	}
	if gotDepth != "12" {
		t.Errorf("depth = %q, want 12", gotDepth)
	}
}

func TestHTTPChain_GetConfirmationNormalizesReverted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "reverted"})
	}))
	defer server.Close()

	chain := newTestChain(t, server, Profile{})
	conf, err := chain.GetConfirmation(context.Background(), "0xfeed")
	if err != nil {
		t.Fatalf("GetConfirmation: %v", err)
	}
	if conf.Status != StatusFailed {
		t.Errorf("status = %q, want failed", conf.Status)
	}
}

func TestHTTPChain_GetConfirmationUnknownStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "simmering"})
	}))
	defer server.Close()

	chain := newTestChain(t, server, Profile{})
	if _, err := chain.GetConfirmation(context.Background(), "0xfeed"); err == nil {
		t.Fatal("GetConfirmation accepted an unknown status")
	}
}

func TestHTTPChain_EndpointTrailingSlash(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(map[string]string{"tx_ref": "0x1"})
	}))
	defer server.Close()

	chain := newTestChain(t, server, Profile{Endpoint: server.URL + "/"})
	if _, err := chain.SubmitAnchor(context.Background(), testSubmission()); err != nil {
		t.Fatalf("SubmitAnchor: %v", err)
	}
	if gotPath != "/anchors" {
		t.Errorf("path = %q, want /anchors (no double slash)", gotPath)
	}
}

func TestNewHTTPChain_RejectsInvalidProfile(t *testing.T) {
	if _, err := NewHTTPChain(Profile{Name: "x"}, nil); err == nil {
		t.Fatal("NewHTTPChain accepted a profile without an endpoint")
	}
}
