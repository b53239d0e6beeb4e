package util

import (
	"errors"
	"testing"
)

func TestPacketErrorMatchesKind(t *testing.T) {
	err := NewPacketError("index", "buffer shorter than header")
	if !errors.Is(err, ErrMalformedPacket) {
		t.Error("PacketError does not match ErrMalformedPacket")
	}
	if got := err.Error(); got != "index packet: buffer shorter than header" {
		t.Errorf("Error() = %q", got)
	}
}

func TestCryptoErrorMatchesKind(t *testing.T) {
	inner := errors.New("bad padding")
	err := &CryptoError{Op: "decrypt", Err: inner}
	if !errors.Is(err, ErrCryptoFailed) {
		t.Error("CryptoError does not match ErrCryptoFailed")
	}
	if got := err.Error(); got != "decrypt: bad padding" {
		t.Errorf("Error() = %q", got)
	}

	bare := &CryptoError{Op: "sign"}
	if got := bare.Error(); got != "sign: crypto operation failed" {
		t.Errorf("Error() without cause = %q", got)
	}
}
