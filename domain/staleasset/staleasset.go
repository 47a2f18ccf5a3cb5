// Package staleasset classifies failures caused by a deployed asset that no
// longer exists because a newer deployment replaced it.
package staleasset

import (
	"errors"
	"fmt"
	"strings"
)

// Known failure signatures. They are matched as substrings, byte for byte.
const (
	SignatureDynamicImport = "Failed to fetch dynamically imported module"
	SignatureChunkLoad     = "ChunkLoadError"
)

// Signatures lists every known stale-asset signature.
var Signatures = []string{
	SignatureDynamicImport,
	SignatureChunkLoad,
}

// Classify reports whether msg carries a stale-asset signature and which.
func Classify(msg string) (string, bool) {
	for _, sig := range Signatures {
		if strings.Contains(msg, sig) {
			return sig, true
		}
	}
	return "", false
}

// Is reports whether err (or anything it wraps) is a stale-asset failure.
func Is(err error) bool {
	if err == nil {
		return false
	}
	var se *Error
	if errors.As(err, &se) {
		return true
	}
	_, ok := Classify(err.Error())
	return ok
}

// Error is a stale-asset failure raised by the asset store.
type Error struct {
	Signature string // one of Signatures
	Asset     string // page id or hashed file that could not be loaded
	Err       error  // underlying cause, may be nil
}

// ChunkMissing returns the error for a page absent from the current manifest.
func ChunkMissing(asset string) *Error {
	return &Error{Signature: SignatureChunkLoad, Asset: asset}
}

// FetchFailed returns the error for a manifest entry whose file is gone.
func FetchFailed(asset string, err error) *Error {
	return &Error{Signature: SignatureDynamicImport, Asset: asset, Err: err}
}

func (e *Error) Error() string {
	switch e.Signature {
	case SignatureChunkLoad:
		return fmt.Sprintf("%s: Loading chunk %s failed", SignatureChunkLoad, e.Asset)
	default:
		return fmt.Sprintf("%s: %s", e.Signature, e.Asset)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}
