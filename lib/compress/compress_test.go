package compress

import (
	"bytes"
	"testing"
)

func TestCompress_RoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("the quick brown fox "), 50)

	tests := []struct {
		name    string
		alg     Algorithm
		wantTag Algorithm
	}{
		{name: "uncompressed", alg: Uncompressed, wantTag: Uncompressed},
		{name: "zlib", alg: ZLIB, wantTag: ZLIB},
		{name: "lzma falls back to uncompressed", alg: LZMA, wantTag: Uncompressed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := Compress(payload, tt.alg)
			if err != nil {
				t.Fatalf("Compress() error = %v", err)
			}
			if Algorithm(enc[0]) != tt.wantTag {
				t.Errorf("tag = %d, want %d", enc[0], tt.wantTag)
			}

			dec, err := Decompress(enc)
			if err != nil {
				t.Fatalf("Decompress() error = %v", err)
			}
			if !bytes.Equal(dec, payload) {
				t.Error("round trip payload mismatch")
			}
		})
	}
}

func TestCompress_ZlibShrinks(t *testing.T) {
	payload := bytes.Repeat([]byte{'a'}, 4096)
	enc, err := Compress(payload, ZLIB)
	if err != nil {
		t.Fatalf("Compress() error = %v", err)
	}
	if len(enc) >= len(payload) {
		t.Errorf("zlib output %d bytes, input %d", len(enc), len(payload))
	}
}

func TestDecompress_UnknownTagPassesThrough(t *testing.T) {
	in := []byte{9, 'b', 'o', 'd', 'y'}
	out, err := Decompress(in)
	if err != nil {
		t.Fatalf("Decompress() error = %v", err)
	}
	if !bytes.Equal(out, []byte("body")) {
		t.Errorf("Decompress() = %q, want %q", out, "body")
	}
}

func TestDecompress_Empty(t *testing.T) {
	if _, err := Decompress(nil); err == nil {
		t.Error("Decompress(nil) error = nil, want error")
	}
}

func TestDecompress_TruncatedZlib(t *testing.T) {
	enc, err := Compress([]byte("hello hello hello"), ZLIB)
	if err != nil {
		t.Fatalf("Compress() error = %v", err)
	}
	if _, err := Decompress(enc[:3]); err == nil {
		t.Error("Decompress(truncated) error = nil, want error")
	}
}
