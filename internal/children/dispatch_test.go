package children

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatch(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		tag  Tag
	}{
		{"outlet/P300", `{"device_id":"1","model":"P300","device_on":true}`, TagOutlet},
		{"outlet/P304M", `{"device_id":"1","model":"P304M","device_on":true}`, TagOutlet},
		{"outlet/by_device_type", `{"device_id":"1","model":"P999","type":"SMART.TAPOPLUG"}`, TagOutlet},
		{"contact/T110", `{"device_id":"1","model":"T110","open":false}`, TagContact},
		{"motion/T100", `{"device_id":"1","model":"T100","detected":true}`, TagMotion},
		{"climate/T310", `{"device_id":"1","model":"T310","current_temp":21.5,"current_humidity":40}`, TagClimate},
		{"climate/T315", `{"device_id":"1","model":"T315","current_temp":19,"current_humidity":55}`, TagClimate},
		{"thermostat/KE100", `{"device_id":"1","model":"KE100","target_temp":22,"current_temp":20}`, TagThermostat},
		{"button/S200B", `{"device_id":"1","model":"S200B"}`, TagButton},
		{"leak/T300", `{"device_id":"1","model":"T300","in_alarm":false}`, TagWaterLeak},
		{"unknown/X200", `{"device_id":"1","model":"X200"}`, TagUnrecognized},
		{"unknown/no_model", `{"device_id":"1"}`, TagUnrecognized},
		{"mismatch/bad_payload", `{"device_id":"1","model":"T110","open":"sometimes"}`, TagUnrecognized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds, err := ParseChildList(json.RawMessage(`{"child_device_list":[` + tt.raw + `]}`))
			require.NoError(t, err)
			require.Len(t, ds, 1)

			v := Dispatch(ds[0])
			assert.Equal(t, tt.tag, v.Tag())
			assert.Equal(t, "1", v.Base().DeviceID)
		})
	}
}

func TestDispatch_TypedPayload(t *testing.T) {
	ds, err := ParseChildList(json.RawMessage(`{"child_device_list":[
		{"device_id":"t","nickname":"Office","model":"T310","current_temp":21.5,"current_humidity":40,"temp_unit":"celsius"}
	]}`))
	require.NoError(t, err)

	climate, ok := Dispatch(ds[0]).(TempHumiditySensor)
	require.True(t, ok)
	assert.InDelta(t, 21.5, climate.CurrentTemp, 0.001)
	assert.Equal(t, 40, climate.CurrentHumidity)
	assert.Equal(t, "Office", climate.Nickname)
}

func TestDispatch_MismatchKeepsReason(t *testing.T) {
	v := Dispatch(Descriptor{DeviceID: "1", Model: "T110", Raw: json.RawMessage(`{"device_id":"1","model":"T110","open":"x"}`)})
	u, ok := v.(Unrecognized)
	require.True(t, ok)
	assert.Equal(t, "T110", u.RawType)
	assert.NotEmpty(t, u.Reason)
}

func TestDispatchAll_NoDrops(t *testing.T) {
	ds, err := ParseChildList(json.RawMessage(`{"child_device_list":[
		{"device_id":"1","model":"P300"},
		42,
		{"device_id":"3","model":"X200"}
	]}`))
	require.NoError(t, err)

	vs := DispatchAll(ds)
	require.Len(t, vs, len(ds))
	assert.Equal(t, TagOutlet, vs[0].Tag())
	assert.Equal(t, TagUnrecognized, vs[1].Tag())
	assert.Equal(t, json.RawMessage(`42`), vs[1].(Unrecognized).Raw)
	assert.Equal(t, TagUnrecognized, vs[2].Tag())
}

func TestVariantJSONIsDiscriminated(t *testing.T) {
	v := Dispatch(Descriptor{DeviceID: "9", Model: "X200", Raw: json.RawMessage(`{"device_id":"9","model":"X200"}`)})

	data, err := json.Marshal(v)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "unrecognized", decoded["kind"])
	assert.Equal(t, "X200", decoded["raw_type"])
	assert.Equal(t, "9", decoded["device_id"])

	data, err = json.Marshal(Outlet{Common: Common{DeviceID: "1"}, DeviceOn: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"outlet","device_id":"1","nickname":"","model":"","type":"","device_on":true}`, string(data))
}

func TestIsActuator(t *testing.T) {
	assert.True(t, IsActuator(Outlet{}))
	assert.False(t, IsActuator(ContactSensor{}))
	assert.False(t, IsActuator(Unrecognized{}))
}
