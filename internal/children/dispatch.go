package children

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Descriptor is one entry of a child enumeration, as reported by the device.
// It is a snapshot and may be stale by the time it is used.
type Descriptor struct {
	DeviceID string          `json:"device_id"`
	Nickname string          `json:"nickname"`
	Model    string          `json:"model"`
	Type     string          `json:"type"`
	DeviceOn *bool           `json:"device_on,omitempty"`
	Raw      json.RawMessage `json:"-"`
}

// ReportedType is the tag the dispatcher switches on: the model when the
// device reports one, its device type otherwise.
func (d Descriptor) ReportedType() string {
	if d.Model != "" {
		return d.Model
	}
	return d.Type
}

type decoder func(json.RawMessage) (Variant, error)

func decodeAs[T Variant](raw json.RawMessage) (Variant, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// byModel maps reported model tags to their typed case.
var byModel = map[string]decoder{
	// Power strip outlets
	"P300":  decodeAs[Outlet],
	"P304M": decodeAs[Outlet],
	"P306":  decodeAs[Outlet],
	"P316M": decodeAs[Outlet],

	// Hub children
	"T110":  decodeAs[ContactSensor],
	"T100":  decodeAs[MotionSensor],
	"T310":  decodeAs[TempHumiditySensor],
	"T315":  decodeAs[TempHumiditySensor],
	"KE100": decodeAs[Thermostat],
	"S200B": decodeAs[Button],
	"S200D": decodeAs[Button],
	"T300":  decodeAs[WaterLeakSensor],
}

// byDeviceType is consulted when the model is not in byModel.
var byDeviceType = map[string]decoder{
	"SMART.TAPOPLUG": decodeAs[Outlet],
}

// Dispatch maps a descriptor to exactly one Variant case. Unknown tags and
// payloads that do not fit their typed case become Unrecognized.
func Dispatch(d Descriptor) Variant {
	raw := d.Raw
	if len(raw) == 0 {
		raw, _ = json.Marshal(d)
	}

	tag := d.ReportedType()
	dec, ok := byModel[strings.ToUpper(d.Model)]
	if !ok {
		dec, ok = byDeviceType[strings.ToUpper(d.Type)]
	}
	if !ok {
		return unrecognized(d, tag, raw, "")
	}

	v, err := dec(raw)
	if err != nil {
		return unrecognized(d, tag, raw, fmt.Sprintf("payload does not match %s: %v", tag, err))
	}
	return v
}

// DispatchAll maps every descriptor in order. len(result) == len(ds).
func DispatchAll(ds []Descriptor) []Variant {
	vs := make([]Variant, len(ds))
	for i, d := range ds {
		vs[i] = Dispatch(d)
	}
	return vs
}

func unrecognized(d Descriptor, tag string, raw json.RawMessage, reason string) Unrecognized {
	return Unrecognized{
		Common: Common{
			DeviceID: d.DeviceID,
			Nickname: d.Nickname,
			Model:    d.Model,
			Type:     d.Type,
		},
		RawType: tag,
		Raw:     raw,
		Reason:  reason,
	}
}

// ParseChildList decodes a get_child_device_list result. Entries that are
// not objects are kept with only their raw payload so they still dispatch
// to Unrecognized.
func ParseChildList(raw json.RawMessage) ([]Descriptor, error) {
	var page struct {
		Children []json.RawMessage `json:"child_device_list"`
	}
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, fmt.Errorf("failed to decode child list: %w", err)
	}

	ds := make([]Descriptor, 0, len(page.Children))
	for _, item := range page.Children {
		var d Descriptor
		if err := json.Unmarshal(item, &d); err != nil {
			d = Descriptor{}
		}
		d.Raw = item
		ds = append(ds, d)
	}
	return ds, nil
}
