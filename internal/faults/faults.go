// Package faults defines the error taxonomy shared by the proof pipeline and
// classifies transport failures into retryable and permanent ones.
package faults

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind labels a Failure for API consumers.
type Kind string

const (
	KindUnavailable     Kind = "service_unavailable"
	KindSchemaMismatch  Kind = "schema_mismatch"
	KindSignerNotFound  Kind = "signer_not_found"
	KindStoreUnresolved Kind = "store_address_unresolved"
)

// DefaultRetryAfter is the retry hint attached to transient faults.
const DefaultRetryAfter = 3 * time.Second

// Failure is the typed contract every error surfaced by the proof service
// satisfies: a kind the route layer can map to a response, and whether a
// retry is worthwhile.
type Failure interface {
	error
	FailureKind() Kind
	Retryable() bool
}

// TransientError is a transport fault (network or RPC unavailability) worth
// retrying. It carries the original cause and a suggested retry delay.
type TransientError struct {
	Op         string
	RetryAfter time.Duration
	Err        error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: service unavailable (retry in %s): %v", e.Op, e.RetryAfter, e.Err)
}

func (e *TransientError) Unwrap() error     { return e.Err }
func (e *TransientError) FailureKind() Kind { return KindUnavailable }
func (e *TransientError) Retryable() bool   { return true }

// SchemaMismatchError reports a transport response whose shape is not
// recognized. Fatal to the current submission and never auto-retried.
type SchemaMismatchError struct {
	Got string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("unrecognized transport response shape: %s", e.Got)
}

func (e *SchemaMismatchError) FailureKind() Kind { return KindSchemaMismatch }
func (e *SchemaMismatchError) Retryable() bool   { return false }

// SignerNotFoundError reports that chain augmentation could not locate its
// own signer address in a confirmed transaction. Callers degrade to
// no-augmentation; the proof itself stands.
type SignerNotFoundError struct {
	Address string
}

func (e *SignerNotFoundError) Error() string {
	return fmt.Sprintf("signer address %s not present in transaction", e.Address)
}

func (e *SignerNotFoundError) FailureKind() Kind { return KindSignerNotFound }
func (e *SignerNotFoundError) Retryable() bool   { return false }

// StoreAddressUnresolvedError reports that off-chain module-address discovery
// failed; archive reads and writes fail closed rather than guess an endpoint.
type StoreAddressUnresolvedError struct {
	Err error
}

func (e *StoreAddressUnresolvedError) Error() string {
	return fmt.Sprintf("off-chain store module address unresolved: %v", e.Err)
}

func (e *StoreAddressUnresolvedError) Unwrap() error     { return e.Err }
func (e *StoreAddressUnresolvedError) FailureKind() Kind { return KindStoreUnresolved }
func (e *StoreAddressUnresolvedError) Retryable() bool   { return false }

// transientSignatures are known failure-message fragments from flaky
// transports. Matching is case-insensitive on the full error chain text.
var transientSignatures = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"connection refused",
	"connection reset",
	"no such host",
	"dns failure",
	"unavailable",
	"temporarily",
	"try again",
}

var transientCodes = map[codes.Code]bool{
	codes.Unavailable:       true,
	codes.DeadlineExceeded:  true,
	codes.ResourceExhausted: true,
	codes.Aborted:           true,
}

// IsTransient reports whether err looks like a transient transport fault:
// an already-classified TransientError, a retryable gRPC status, a network
// timeout, or a message matching a known failure signature.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if s, ok := status.FromError(err); ok && transientCodes[s.Code()] {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range transientSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

// Transient re-throws err as a TransientError when it matches a known
// failure signature; permanent errors pass through untouched so they
// propagate generically.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransientError
	if errors.As(err, &te) {
		return err
	}
	if IsTransient(err) {
		return &TransientError{Op: op, RetryAfter: DefaultRetryAfter, Err: err}
	}
	return err
}
