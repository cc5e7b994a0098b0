package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrSilentAcquisitionFailed marks a failed silent lookup. It never leaves
	// Client.Acquire.
	ErrSilentAcquisitionFailed = errors.New("silent token acquisition failed")
	// ErrAcquisitionFailed is matched by every error Client.Acquire returns
	// after the fallback flow failed.
	ErrAcquisitionFailed = errors.New("token acquisition failed")
	// ErrDeviceCodeExpired is reported when the device code lifetime ran out
	// before the user completed the sign-in.
	ErrDeviceCodeExpired = errors.New("device code expired")
	// ErrDeviceCodeCanceled is reported when the device code exchange was
	// canceled by the caller.
	ErrDeviceCodeCanceled = errors.New("device code flow canceled")
	// ErrNoAccount is reported by silent lookups without a known account.
	ErrNoAccount = errors.New("no account available for silent acquisition")
	// ErrUnsupportedFlow is returned for an unknown FlowKind.
	ErrUnsupportedFlow = errors.New("unsupported flow")
	// ErrInvalidConfig is returned by NewClient for an unusable ClientConfig.
	ErrInvalidConfig = errors.New("invalid client config")
)

// AcquisitionError is the terminal error of a failed acquisition. It matches
// both ErrAcquisitionFailed and the underlying provider error.
type AcquisitionError struct {
	Flow FlowKind
	Err  error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("%s via %s: %v", ErrAcquisitionFailed, e.Flow, e.Err)
}

func (e *AcquisitionError) Unwrap() []error {
	return []error{ErrAcquisitionFailed, e.Err}
}
