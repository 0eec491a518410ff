// Package rpc is the request/response channel to a single physical device.
// The session layer treats it as opaque: it only distinguishes auth expiry
// from every other failure.
package rpc

import (
	"errors"
)

// Method is one of the fixed device commands.
type Method string

const (
	MethodLogin                 Method = "login_device"
	MethodGetDeviceInfo         Method = "get_device_info"
	MethodSetDeviceInfo         Method = "set_device_info"
	MethodGetChildDeviceList    Method = "get_child_device_list"
	MethodGetChildComponentList Method = "get_child_device_component_list"
	MethodControlChild          Method = "control_child"
)

// Token is an authenticated session handle issued by a device.
type Token string

// Command is a single request to a device. A non-empty ChildID scopes the
// command to that child.
type Command struct {
	Method  Method
	Params  map[string]any
	ChildID string
}

// Failure classes surfaced by a transport in addition to *tapo.TransportError.
var (
	ErrAuthExpired        = errors.New("rpc: session expired")
	ErrInvalidCredentials = errors.New("rpc: invalid credentials")
	ErrMalformedResponse  = errors.New("rpc: malformed response")
)

// GetDeviceInfo queries device state.
func GetDeviceInfo() Command {
	return Command{Method: MethodGetDeviceInfo}
}

// SetPower turns the device on or off.
func SetPower(on bool) Command {
	return Command{
		Method: MethodSetDeviceInfo,
		Params: map[string]any{"device_on": on},
	}
}

// GetChildDeviceList enumerates the children of a strip or hub.
func GetChildDeviceList() Command {
	return Command{
		Method: MethodGetChildDeviceList,
		Params: map[string]any{"start_index": 0},
	}
}

// GetChildComponentList enumerates the capabilities of each child.
func GetChildComponentList() Command {
	return Command{
		Method: MethodGetChildComponentList,
		Params: map[string]any{"start_index": 0},
	}
}

// ForChild returns a copy of c scoped to the given child id.
func (c Command) ForChild(childID string) Command {
	c.ChildID = childID
	return c
}
