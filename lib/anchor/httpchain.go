// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

package anchor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// HTTPChain implements [Chain] against a JSON-over-HTTP chain
// gateway. The gateway owns wallet keys and transaction construction;
// this side only ships commitments and polls status.
//
// Wire format:
//
//	POST {endpoint}/anchors
//	  {"session_id":..., "manifest_hash":..., "merkle_root":...,
//	   "chunk_count":..., "contract":...}
//	  → 200/202 {"tx_ref": "..."}
//
//	GET {endpoint}/transactions/{tx_ref}?depth=N
//	  → 200 {"status": "pending|confirmed|failed|reverted",
//	         "block_number": ...}
type HTTPChain struct {
	httpClient        *http.Client
	endpoint          string
	contract          string
	confirmationDepth int
}

// NewHTTPChain builds a chain client from a validated profile. A nil
// httpClient gets a default with a 30 second timeout; pass a custom
// client to control transport, TLS, or proxying.
func NewHTTPChain(profile Profile, httpClient *http.Client) (*HTTPChain, error) {
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPChain{
		httpClient:        httpClient,
		endpoint:          strings.TrimRight(profile.Endpoint, "/"),
		contract:          profile.Contract,
		confirmationDepth: profile.ConfirmationDepth,
	}, nil
}

type submitRequest struct {
	Submission
	Contract string `json:"contract,omitempty"`
}

type submitResponse struct {
	TxRef string `json:"tx_ref"`
}

type confirmationResponse struct {
	Status      string `json:"status"`
	BlockNumber uint64 `json:"block_number"`
}

// SubmitAnchor POSTs the commitment to the gateway and returns its
// transaction reference.
func (c *HTTPChain) SubmitAnchor(ctx context.Context, sub Submission) (TxRef, error) {
	body, err := json.Marshal(submitRequest{Submission: sub, Contract: c.contract})
	if err != nil {
		return "", fmt.Errorf("marshaling anchor submission: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.endpoint+"/anchors", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating anchor request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return "", fmt.Errorf("submitting anchor: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK && response.StatusCode != http.StatusAccepted {
		return "", readGatewayError("submitting anchor", response)
	}

	var wire submitResponse
	if err := json.NewDecoder(response.Body).Decode(&wire); err != nil {
		return "", fmt.Errorf("decoding anchor response: %w", err)
	}
	if wire.TxRef == "" {
		return "", fmt.Errorf("chain gateway accepted the anchor but returned no tx ref")
	}
	return TxRef(wire.TxRef), nil
}

// GetConfirmation polls the gateway for the transaction's status.
func (c *HTTPChain) GetConfirmation(ctx context.Context, ref TxRef) (Confirmation, error) {
	pollURL := fmt.Sprintf("%s/transactions/%s", c.endpoint, url.PathEscape(string(ref)))
	if c.confirmationDepth > 0 {
		pollURL += "?depth=" + strconv.Itoa(c.confirmationDepth)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, pollURL, nil)
	if err != nil {
		return Confirmation{}, fmt.Errorf("creating confirmation request: %w", err)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return Confirmation{}, fmt.Errorf("polling confirmation: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return Confirmation{}, readGatewayError("polling confirmation", response)
	}

	var wire confirmationResponse
	if err := json.NewDecoder(response.Body).Decode(&wire); err != nil {
		return Confirmation{}, fmt.Errorf("decoding confirmation response: %w", err)
	}

	// Reverted transactions are a rejection verdict like failed ones;
	// normalize the gateway's distinction away here so the client
	// sees one failure status.
	if wire.Status == "reverted" {
		wire.Status = string(StatusFailed)
	}
	status, err := ParseConfirmationStatus(wire.Status)
	if err != nil {
		return Confirmation{}, fmt.Errorf("confirmation for %s: %w", ref, err)
	}
	return Confirmation{Status: status, BlockNumber: wire.BlockNumber}, nil
}

// readGatewayError turns a non-success gateway response into an
// error, including a bounded slice of the body since gateways put the
// useful detail there.
func readGatewayError(op string, response *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(response.Body, 4096))
	message := strings.TrimSpace(string(body))
	if message == "" {
		message = response.Status
	}
	return fmt.Errorf("%s: chain gateway returned %d: %s", op, response.StatusCode, message)
}
