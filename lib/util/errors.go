// Package util provides common utilities for the pboted email engine.
// This includes the tagged error kinds shared by the packet codec, the
// email pipeline, and the POP3 server.
package util

import (
	"errors"
	"fmt"
)

// Sentinel errors for the email engine.
// Every recoverable failure in the pipeline maps to one of these kinds;
// none of them is allowed to terminate a worker loop.
var (
	// ErrMalformedPacket indicates a wire packet that failed to parse.
	// Policy: drop the individual packet, log, continue the batch.
	ErrMalformedPacket = errors.New("malformed packet")

	// ErrCryptoFailed indicates an encrypt or decrypt operation failed.
	// Policy: mark the email skipped, leave the file in place.
	ErrCryptoFailed = errors.New("crypto operation failed")

	// ErrVerifyMismatch indicates a delete-authorization hash mismatch.
	// Policy: drop this encrypted copy; other copies may still verify.
	ErrVerifyMismatch = errors.New("delete authorization hash mismatch")

	// ErrAddressUnresolved indicates a From or To field that could not
	// be resolved to an identity or address-book entry.
	// Policy: mark the email skipped, do not move the file.
	ErrAddressUnresolved = errors.New("address unresolved")

	// ErrStoreNoPeers indicates a DHT store request that received zero
	// OK responses.
	// Policy: mark the email skipped, retry next round.
	ErrStoreNoPeers = errors.New("no peers accepted store request")

	// ErrDuplicateFile indicates a first-time save would overwrite an
	// existing mail file.
	ErrDuplicateFile = errors.New("mail file already exists")
)

// PacketError wraps a parse failure with packet context.
// It unwraps to ErrMalformedPacket so callers can branch on the kind.
type PacketError struct {
	Kind   string // packet kind, e.g. "email", "index", "encrypted"
	Reason string // human-readable failure reason
}

// NewPacketError creates a PacketError for the given packet kind.
func NewPacketError(kind, reason string) *PacketError {
	return &PacketError{Kind: kind, Reason: reason}
}

// Error implements the error interface.
func (e *PacketError) Error() string {
	return fmt.Sprintf("%s packet: %s", e.Kind, e.Reason)
}

// Unwrap makes every PacketError match ErrMalformedPacket.
func (e *PacketError) Unwrap() error {
	return ErrMalformedPacket
}

// CryptoError wraps a cryptographic failure with operation context.
// It unwraps to ErrCryptoFailed.
type CryptoError struct {
	Op  string // the operation being performed, e.g. "encrypt", "decrypt"
	Err error  // the underlying error (optional)
}

// Error implements the error interface.
func (e *CryptoError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Op + ": " + ErrCryptoFailed.Error()
}

// Unwrap makes every CryptoError match ErrCryptoFailed.
func (e *CryptoError) Unwrap() error {
	return ErrCryptoFailed
}
