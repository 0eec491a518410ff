// Package tapo holds the device-level types shared by the session, handle,
// children and orchestrator packages.
package tapo

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind is the physical device family an endpoint belongs to.
type Kind string

const (
	KindPlug  Kind = "plug"
	KindStrip Kind = "strip"
	KindHub   Kind = "hub"
)

// ParseKind parses a caller-supplied device kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindPlug:
		return KindPlug, nil
	case KindStrip:
		return KindStrip, nil
	case KindHub:
		return KindHub, nil
	}
	return "", &UnsupportedDeviceTypeError{Kind: s, Reason: "unknown device kind"}
}

// IsComposite reports whether devices of this kind host addressable children.
func (k Kind) IsComposite() bool {
	return k == KindStrip || k == KindHub
}

// Credentials are the account credentials used to authenticate against a device.
// They are owned by the caller and never persisted.
type Credentials struct {
	Username string
	Secret   string
}

// String redacts the secret.
func (c Credentials) String() string {
	return fmt.Sprintf("%s:***", c.Username)
}

// IsZero reports whether no credentials were supplied.
func (c Credentials) IsZero() bool {
	return c.Username == "" && c.Secret == ""
}

// Endpoint identifies one physical device and how to talk to it.
type Endpoint struct {
	Address string
	Kind    Kind
}

// String returns "kind@address".
func (e Endpoint) String() string {
	return fmt.Sprintf("%s@%s", e.Kind, e.Address)
}

// DeviceInfo is the state reported by get_device_info.
type DeviceInfo struct {
	DeviceID        string `json:"device_id"`
	Model           string `json:"model"`
	Type            string `json:"type"`
	Nickname        string `json:"nickname"`
	FirmwareVersion string `json:"fw_ver,omitempty"`
	HardwareVersion string `json:"hw_ver,omitempty"`
	MAC             string `json:"mac,omitempty"`
	IP              string `json:"ip,omitempty"`
	SignalLevel     int    `json:"signal_level,omitempty"`
	RSSI            int    `json:"rssi,omitempty"`
	DeviceOn        *bool  `json:"device_on,omitempty"`
	OnTime          int64  `json:"on_time,omitempty"`
	Overheated      bool   `json:"overheated,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// ParseDeviceInfo decodes a get_device_info result, keeping the raw payload.
func ParseDeviceInfo(raw json.RawMessage) (DeviceInfo, error) {
	var info DeviceInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return DeviceInfo{}, fmt.Errorf("failed to decode device info: %w", err)
	}
	info.Raw = raw
	return info, nil
}

// modelFamilies maps model prefixes to the kind of device they are.
var modelFamilies = []struct {
	prefix string
	kind   Kind
}{
	{"P30", KindStrip},
	{"P31", KindStrip},
	{"P1", KindPlug},
	{"H1", KindHub},
	{"H2", KindHub},
}

// InferKind maps the reported model to a device kind.
// The second return is false when the model family is unknown.
func (d DeviceInfo) InferKind() (Kind, bool) {
	model := strings.ToUpper(d.Model)
	for _, f := range modelFamilies {
		if strings.HasPrefix(model, f.prefix) {
			return f.kind, true
		}
	}
	if d.Type == "SMART.TAPOHUB" {
		return KindHub, true
	}
	return "", false
}
