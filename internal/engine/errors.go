package engine

import (
	"errors"

	"github.com/specialistvlad/modeljit/internal/diag"
	"github.com/specialistvlad/modeljit/internal/manifest"
)

var (
	ErrContract          = manifest.ErrContract
	ErrCompile           = diag.ErrCompile
	ErrInternal          = diag.ErrInternal
	ErrResourceExhausted = diag.ErrResourceExhausted

	// ErrClosed is returned by a Handle after Close.
	ErrClosed = errors.New("handle is closed")
	// ErrUnknownEntryPoint is returned for names the manifest did not declare.
	ErrUnknownEntryPoint = errors.New("unknown entry point")
	// ErrSignatureMismatch is returned when an entry point is requested with
	// a signature other than the one it was compiled for.
	ErrSignatureMismatch = errors.New("entry point signature mismatch")
)

// Retryable reports whether the same request may succeed later. Only
// resource exhaustion is transient; contract, compile and internal errors
// reproduce on every attempt.
func Retryable(err error) bool {
	return errors.Is(err, ErrResourceExhausted)
}
