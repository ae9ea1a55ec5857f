// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

package chunker

import (
	"bytes"
	"testing"

	"github.com/capstan-io/capstan/lib/testutil"
)

func TestCodecString(t *testing.T) {
	tests := []struct {
		codec Codec
		want  string
	}{
		{CodecNone, "none"},
		{CodecLZ4, "lz4"},
		{CodecZstd, "zstd"},
		{Codec(99), "unknown(99)"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.codec.String(); got != tt.want {
				t.Errorf("Codec(%d).String() = %q, want %q", tt.codec, got, tt.want)
			}
		})
	}
}

func TestParseCodec(t *testing.T) {
	for _, name := range []string{"none", "lz4", "zstd"} {
		t.Run(name, func(t *testing.T) {
			codec, err := ParseCodec(name)
			if err != nil {
				t.Fatalf("ParseCodec(%q) failed: %v", name, err)
			}
			if codec.String() != name {
				t.Errorf("roundtrip: ParseCodec(%q).String() = %q", name, codec.String())
			}
		})
	}

	t.Run("unknown", func(t *testing.T) {
		if _, err := ParseCodec("gzip"); err == nil {
			t.Error("ParseCodec(\"gzip\") should fail")
		}
	})
}

func TestCodecTextMarshaling(t *testing.T) {
	for _, codec := range []Codec{CodecNone, CodecLZ4, CodecZstd} {
		t.Run(codec.String(), func(t *testing.T) {
			text, err := codec.MarshalText()
			if err != nil {
				t.Fatalf("MarshalText: %v", err)
			}
			var parsed Codec
			if err := parsed.UnmarshalText(text); err != nil {
				t.Fatalf("UnmarshalText(%q): %v", text, err)
			}
			if parsed != codec {
				t.Errorf("roundtrip: got %v, want %v", parsed, codec)
			}
		})
	}

	t.Run("invalid_marshal", func(t *testing.T) {
		if _, err := Codec(99).MarshalText(); err == nil {
			t.Error("MarshalText on unknown codec should fail")
		}
	})

	t.Run("invalid_unmarshal", func(t *testing.T) {
		var codec Codec
		if err := codec.UnmarshalText([]byte("brotli")); err == nil {
			t.Error("UnmarshalText(\"brotli\") should fail")
		}
	})
}

func TestValidateLevel(t *testing.T) {
	tests := []struct {
		name    string
		codec   Codec
		level   int
		wantErr bool
	}{
		{"none_zero", CodecNone, 0, false},
		{"none_nonzero", CodecNone, 3, true},
		{"lz4_zero", CodecLZ4, 0, false},
		{"lz4_nonzero", CodecLZ4, 1, true},
		{"zstd_min", CodecZstd, 1, false},
		{"zstd_default", CodecZstd, 3, false},
		{"zstd_max", CodecZstd, 11, false},
		{"zstd_zero", CodecZstd, 0, true},
		{"zstd_too_high", CodecZstd, 12, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.codec.ValidateLevel(tt.level)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateLevel(%d) error = %v, wantErr %v", tt.level, err, tt.wantErr)
			}
		})
	}
}

func TestCompressDecompressNone(t *testing.T) {
	data := []byte("uncompressed data should pass through unchanged")

	compressed, err := Compress(data, CodecNone, 0)
	if err != nil {
		t.Fatalf("Compress(none) failed: %v", err)
	}

	// For CodecNone, the output should be the same slice.
	if &compressed[0] != &data[0] {
		t.Error("CodecNone should return the same slice, not a copy")
	}

	decompressed, err := Decompress(compressed, CodecNone, len(data))
	if err != nil {
		t.Fatalf("Decompress(none) failed: %v", err)
	}
	if !bytes.Equal(decompressed, data) {
		t.Error("none codec roundtrip failed")
	}
}

func TestDecompressNoneSizeMismatch(t *testing.T) {
	data := []byte("five bytes extra")
	if _, err := Decompress(data, CodecNone, len(data)+5); err == nil {
		t.Error("Decompress(none) should fail when size does not match")
	}
}

func TestCompressDecompressLZ4(t *testing.T) {
	data := testutil.CompressiblePayload(64 * 1024)

	compressed, err := Compress(data, CodecLZ4, 0)
	if err != nil {
		t.Fatalf("Compress(lz4) failed: %v", err)
	}
	if len(compressed) >= len(data) {
		t.Errorf("lz4 did not shrink repetitive data: %d >= %d", len(compressed), len(data))
	}

	decompressed, err := Decompress(compressed, CodecLZ4, len(data))
	if err != nil {
		t.Fatalf("Decompress(lz4) failed: %v", err)
	}
	if !bytes.Equal(decompressed, data) {
		t.Error("lz4 roundtrip failed")
	}
}

func TestCompressDecompressZstd(t *testing.T) {
	data := testutil.CompressiblePayload(64 * 1024)

	for _, level := range []int{1, 3, 7, 11} {
		compressed, err := Compress(data, CodecZstd, level)
		if err != nil {
			t.Fatalf("Compress(zstd, level %d) failed: %v", level, err)
		}
		if len(compressed) >= len(data) {
			t.Errorf("zstd level %d did not shrink repetitive data: %d >= %d",
				level, len(compressed), len(data))
		}

		decompressed, err := Decompress(compressed, CodecZstd, len(data))
		if err != nil {
			t.Fatalf("Decompress(zstd, level %d) failed: %v", level, err)
		}
		if !bytes.Equal(decompressed, data) {
			t.Errorf("zstd level %d roundtrip failed", level)
		}
	}
}

func TestCompressIncompressible(t *testing.T) {
	// Seeded pseudo-random bytes do not compress; both codecs must
	// report incompressible rather than emit a larger payload.
	data := testutil.Payload(1, 64*1024)

	if _, err := Compress(data, CodecLZ4, 0); !IsIncompressible(err) {
		t.Errorf("Compress(lz4) on random data: err = %v, want incompressible", err)
	}
	if _, err := Compress(data, CodecZstd, 3); !IsIncompressible(err) {
		t.Errorf("Compress(zstd) on random data: err = %v, want incompressible", err)
	}
}

func TestIsIncompressibleOnlyMatchesSentinel(t *testing.T) {
	if IsIncompressible(nil) {
		t.Error("IsIncompressible(nil) = true")
	}
	if IsIncompressible(ErrFlushed) {
		t.Error("IsIncompressible matched an unrelated error")
	}
}

func TestDecompressZstdSizeMismatch(t *testing.T) {
	data := testutil.CompressiblePayload(4096)
	compressed, err := Compress(data, CodecZstd, 3)
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}

	if _, err := Decompress(compressed, CodecZstd, len(data)-1); err == nil {
		t.Error("Decompress(zstd) should fail when expected size is wrong")
	}
}

func TestDecompressCorruptPayload(t *testing.T) {
	data := testutil.CompressiblePayload(4096)

	for _, codec := range []Codec{CodecLZ4, CodecZstd} {
		level := 0
		if codec == CodecZstd {
			level = 3
		}
		compressed, err := Compress(data, codec, level)
		if err != nil {
			t.Fatalf("Compress(%s) failed: %v", codec, err)
		}

		corrupt := append([]byte(nil), compressed...)
		corrupt[len(corrupt)/2] ^= 0xFF
		if decompressed, err := Decompress(corrupt, codec, len(data)); err == nil && bytes.Equal(decompressed, data) {
			t.Errorf("Decompress(%s) returned original data from a corrupted payload", codec)
		}
	}
}
