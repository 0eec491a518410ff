// Package children enumerates the children of strips and hubs, maps each one
// to a typed variant and resolves nicknames to child-scoped handles.
package children

import (
	"encoding/json"
	"fmt"
)

// Tag discriminates the cases of Variant.
type Tag string

const (
	TagOutlet       Tag = "outlet"
	TagContact      Tag = "contact_sensor"
	TagMotion       Tag = "motion_sensor"
	TagClimate      Tag = "temperature_humidity_sensor"
	TagThermostat   Tag = "thermostat"
	TagButton       Tag = "button"
	TagWaterLeak    Tag = "water_leak_sensor"
	TagUnrecognized Tag = "unrecognized"
)

// Variant is a closed union over the known child kinds. The unexported
// method keeps other packages from adding cases.
type Variant interface {
	Tag() Tag
	Base() Common
	variant()
}

// Common holds the fields every child reports.
type Common struct {
	DeviceID     string `json:"device_id"`
	Nickname     string `json:"nickname"`
	Model        string `json:"model"`
	Type         string `json:"type"`
	Status       string `json:"status,omitempty"`
	AtLowBattery bool   `json:"at_low_battery,omitempty"`
	SignalLevel  int    `json:"signal_level,omitempty"`
	RSSI         int    `json:"rssi,omitempty"`
}

func (c Common) Base() Common { return c }
func (Common) variant()       {}

// Outlet is a switchable socket of a power strip.
type Outlet struct {
	Common
	DeviceOn      bool   `json:"device_on"`
	OnTime        int64  `json:"on_time,omitempty"`
	Position      int    `json:"position,omitempty"`
	AutoOffStatus string `json:"auto_off_status,omitempty"`
	AutoOffRemain int64  `json:"auto_off_remain_time,omitempty"`
}

// ContactSensor reports whether a door or window is open.
type ContactSensor struct {
	Common
	Open bool `json:"open"`
}

// MotionSensor reports whether motion was detected.
type MotionSensor struct {
	Common
	Detected bool `json:"detected"`
}

// TempHumiditySensor reports ambient temperature and humidity.
type TempHumiditySensor struct {
	Common
	CurrentTemp     float64 `json:"current_temp"`
	CurrentHumidity int     `json:"current_humidity"`
	TempUnit        string  `json:"temp_unit,omitempty"`
	TempException   string  `json:"current_temp_exception,omitempty"`
}

// Thermostat is a radiator valve.
type Thermostat struct {
	Common
	TargetTemp        float64 `json:"target_temp"`
	CurrentTemp       float64 `json:"current_temp"`
	TempOffset        float64 `json:"temp_offset,omitempty"`
	MinControlTemp    float64 `json:"min_control_temp,omitempty"`
	MaxControlTemp    float64 `json:"max_control_temp,omitempty"`
	FrostProtectionOn bool    `json:"frost_protection_on"`
	ChildProtection   bool    `json:"child_protection"`
	TempUnit          string  `json:"temp_unit,omitempty"`
}

// Button is a smart button or dimmer switch. It carries no state of its own.
type Button struct {
	Common
	ReportInterval int `json:"report_interval,omitempty"`
}

// WaterLeakSensor reports leak alarms.
type WaterLeakSensor struct {
	Common
	InAlarm         bool   `json:"in_alarm"`
	WaterLeakStatus string `json:"water_leak_status,omitempty"`
}

// Unrecognized is the fallback for any child whose reported type has no
// typed case. It carries the raw tag and payload untouched.
type Unrecognized struct {
	Common
	RawType string          `json:"raw_type"`
	Raw     json.RawMessage `json:"raw,omitempty"`
	Reason  string          `json:"reason,omitempty"`
}

func (Outlet) Tag() Tag             { return TagOutlet }
func (ContactSensor) Tag() Tag      { return TagContact }
func (MotionSensor) Tag() Tag       { return TagMotion }
func (TempHumiditySensor) Tag() Tag { return TagClimate }
func (Thermostat) Tag() Tag         { return TagThermostat }
func (Button) Tag() Tag             { return TagButton }
func (WaterLeakSensor) Tag() Tag    { return TagWaterLeak }
func (Unrecognized) Tag() Tag       { return TagUnrecognized }

// IsActuator reports whether the child accepts power commands.
func IsActuator(v Variant) bool {
	_, ok := v.(Outlet)
	return ok
}

// MarshalJSON methods add the "kind" discriminator so nothing downstream
// has to guess the case from the field set.

func (v Outlet) MarshalJSON() ([]byte, error) {
	type plain Outlet
	return withKind(v.Tag(), plain(v))
}

func (v ContactSensor) MarshalJSON() ([]byte, error) {
	type plain ContactSensor
	return withKind(v.Tag(), plain(v))
}

func (v MotionSensor) MarshalJSON() ([]byte, error) {
	type plain MotionSensor
	return withKind(v.Tag(), plain(v))
}

func (v TempHumiditySensor) MarshalJSON() ([]byte, error) {
	type plain TempHumiditySensor
	return withKind(v.Tag(), plain(v))
}

func (v Thermostat) MarshalJSON() ([]byte, error) {
	type plain Thermostat
	return withKind(v.Tag(), plain(v))
}

func (v Button) MarshalJSON() ([]byte, error) {
	type plain Button
	return withKind(v.Tag(), plain(v))
}

func (v WaterLeakSensor) MarshalJSON() ([]byte, error) {
	type plain WaterLeakSensor
	return withKind(v.Tag(), plain(v))
}

func (v Unrecognized) MarshalJSON() ([]byte, error) {
	type plain Unrecognized
	return withKind(v.Tag(), plain(v))
}

func withKind(tag Tag, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("failed to tag %s variant: %w", tag, err)
	}
	kind, _ := json.Marshal(tag)
	fields["kind"] = kind
	return json.Marshal(fields)
}
