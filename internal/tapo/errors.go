package tapo

import (
	"errors"
	"fmt"
)

// Sentinel errors for each failure class. Every typed error below matches
// exactly one of them via errors.Is.
var (
	ErrAuthentication  = errors.New("tapo: authentication failed")
	ErrChildNotFound   = errors.New("tapo: child not found")
	ErrAmbiguousChild  = errors.New("tapo: ambiguous child nickname")
	ErrUnsupportedType = errors.New("tapo: unsupported device type")
	ErrTransport       = errors.New("tapo: transport failure")
	ErrConfiguration   = errors.New("tapo: configuration error")
	ErrReboot          = errors.New("tapo: reboot incomplete")
)

// AuthenticationError means credentials were rejected or the session could
// not be refreshed after one retry.
type AuthenticationError struct {
	Endpoint Endpoint
	Err      error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tapo: authentication failed for %s: %v", e.Endpoint, e.Err)
	}
	return fmt.Sprintf("tapo: authentication failed for %s", e.Endpoint)
}

func (e *AuthenticationError) Unwrap() error        { return e.Err }
func (e *AuthenticationError) Is(target error) bool { return target == ErrAuthentication }

// ChildNotFoundError means no enumerated child matched the requested identifier.
type ChildNotFoundError struct {
	Child    string
	Endpoint Endpoint
}

func (e *ChildNotFoundError) Error() string {
	return fmt.Sprintf("tapo: no child %q on %s", e.Child, e.Endpoint)
}

func (e *ChildNotFoundError) Is(target error) bool { return target == ErrChildNotFound }

// AmbiguousChildError means more than one child carries the requested nickname.
// Only returned when strict nickname resolution is enabled.
type AmbiguousChildError struct {
	Child    string
	Endpoint Endpoint
	IDs      []string
}

func (e *AmbiguousChildError) Error() string {
	return fmt.Sprintf("tapo: nickname %q matches %d children on %s", e.Child, len(e.IDs), e.Endpoint)
}

func (e *AmbiguousChildError) Is(target error) bool { return target == ErrAmbiguousChild }

// UnsupportedDeviceTypeError means the device kind is unknown, does not match
// what the endpoint reports, or the intent is invalid for the target.
type UnsupportedDeviceTypeError struct {
	Kind   string
	Reason string
}

func (e *UnsupportedDeviceTypeError) Error() string {
	return fmt.Sprintf("tapo: unsupported device type %q: %s", e.Kind, e.Reason)
}

func (e *UnsupportedDeviceTypeError) Is(target error) bool { return target == ErrUnsupportedType }

// TransportError is a network or protocol failure not related to auth.
type TransportError struct {
	Endpoint Endpoint
	Op       string
	Code     int
	Err      error
}

func (e *TransportError) Error() string {
	switch {
	case e.Code != 0 && e.Err != nil:
		return fmt.Sprintf("tapo: %s on %s failed (code %d): %v", e.Op, e.Endpoint, e.Code, e.Err)
	case e.Code != 0:
		return fmt.Sprintf("tapo: %s on %s failed (code %d)", e.Op, e.Endpoint, e.Code)
	default:
		return fmt.Sprintf("tapo: %s on %s failed: %v", e.Op, e.Endpoint, e.Err)
	}
}

func (e *TransportError) Unwrap() error        { return e.Err }
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// ConfigurationError means a required input was missing or malformed.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("tapo: invalid %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// Reboot phases.
const (
	PhaseOff    = "off"
	PhaseSettle = "settle"
	PhaseOn     = "on"
)

// RebootError reports where a reboot sequence stopped.
// LeftOff is true when the "off" command was applied but "on" never succeeded.
// Indeterminate is set instead when "on" was sent but its outcome is unknown.
type RebootError struct {
	Phase         string
	LeftOff       bool
	Indeterminate bool
	Err           error
}

func (e *RebootError) Error() string {
	if e.LeftOff {
		return fmt.Sprintf("tapo: reboot stopped during %s phase, device left powered off: %v", e.Phase, e.Err)
	}
	if e.Indeterminate {
		return fmt.Sprintf("tapo: reboot stopped during %s phase, device power state unknown: %v", e.Phase, e.Err)
	}
	return fmt.Sprintf("tapo: reboot stopped during %s phase: %v", e.Phase, e.Err)
}

func (e *RebootError) Unwrap() error        { return e.Err }
func (e *RebootError) Is(target error) bool { return target == ErrReboot }

// IsAuthentication returns true if err is an authentication failure.
func IsAuthentication(err error) bool { return errors.Is(err, ErrAuthentication) }

// IsChildNotFound returns true if err reports a missing child.
func IsChildNotFound(err error) bool { return errors.Is(err, ErrChildNotFound) }

// IsUnsupported returns true if err reports an unsupported device type or intent.
func IsUnsupported(err error) bool { return errors.Is(err, ErrUnsupportedType) }

// IsConfiguration returns true if err reports missing or invalid input.
func IsConfiguration(err error) bool { return errors.Is(err, ErrConfiguration) }

// IsTransport returns true if err is a non-auth transport failure.
func IsTransport(err error) bool { return errors.Is(err, ErrTransport) }
