package handle

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/tapoctl/internal/tapo"
	"github.com/dokzlo13/tapoctl/internal/tapo/rpc"
)

// recorder is an Executor that records every command and can fail selected ones.
type recorder struct {
	mu       sync.Mutex
	commands []rpc.Command
	failOff  error
	failOn   error
	info     string
}

func (r *recorder) Execute(_ context.Context, _ tapo.Endpoint, _ tapo.Credentials, cmd rpc.Command) (json.RawMessage, error) {
	r.mu.Lock()
	r.commands = append(r.commands, cmd)
	r.mu.Unlock()

	if cmd.Method == rpc.MethodSetDeviceInfo {
		if on, _ := cmd.Params["device_on"].(bool); on {
			if r.failOn != nil {
				return nil, r.failOn
			}
		} else if r.failOff != nil {
			return nil, r.failOff
		}
		return json.RawMessage(`{}`), nil
	}
	if r.info != "" {
		return json.RawMessage(r.info), nil
	}
	return json.RawMessage(`{"device_id":"dev-1","model":"P115","device_on":true}`), nil
}

func (r *recorder) powerCalls() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	var calls []bool
	for _, c := range r.commands {
		if c.Method == rpc.MethodSetDeviceInfo {
			calls = append(calls, c.Params["device_on"].(bool))
		}
	}
	return calls
}

var (
	plug  = tapo.Endpoint{Address: "192.0.2.20", Kind: tapo.KindPlug}
	creds = tapo.Credentials{Username: "u", Secret: "p"}
)

func newTestHandle(r *recorder) *Handle {
	h := New(r, plug, creds)
	h.settle = 10 * time.Millisecond
	return h
}

func TestPower(t *testing.T) {
	r := &recorder{}
	h := newTestHandle(r)

	require.NoError(t, h.Power(context.Background(), true))
	require.NoError(t, h.Power(context.Background(), false))
	assert.Equal(t, []bool{true, false}, r.powerCalls())
}

func TestInfo(t *testing.T) {
	r := &recorder{}
	h := newTestHandle(r)

	info, err := h.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "dev-1", info.DeviceID)
	require.NotNil(t, info.DeviceOn)
	assert.True(t, *info.DeviceOn)
	assert.Empty(t, r.powerCalls(), "info must not mutate device state")
}

func TestInfo_MalformedPayload(t *testing.T) {
	r := &recorder{info: `[1,2,3]`}
	h := newTestHandle(r)

	_, err := h.Info(context.Background())
	require.Error(t, err)
	assert.True(t, tapo.IsTransport(err))
}

func TestChildScopesCommands(t *testing.T) {
	r := &recorder{}
	h := newTestHandle(r).Child("child-2")

	require.NoError(t, h.Power(context.Background(), true))
	require.Len(t, r.commands, 1)
	assert.Equal(t, "child-2", r.commands[0].ChildID)
	assert.Equal(t, "child-2", h.ChildID())
}

func TestReboot_OffThenOn(t *testing.T) {
	r := &recorder{}
	h := newTestHandle(r)

	require.NoError(t, h.Reboot(context.Background()))
	assert.Equal(t, []bool{false, true}, r.powerCalls())
}

func TestReboot_OffFailureSkipsOn(t *testing.T) {
	offErr := &tapo.TransportError{Endpoint: plug, Op: "set_device_info", Err: errors.New("timeout")}
	r := &recorder{failOff: offErr}
	h := newTestHandle(r)

	err := h.Reboot(context.Background())
	assert.Same(t, offErr, err, "off failure is surfaced as-is")
	assert.Equal(t, []bool{false}, r.powerCalls())
}

func TestReboot_CancelDuringSettleLeavesOff(t *testing.T) {
	r := &recorder{}
	h := newTestHandle(r)
	h.settle = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := h.Reboot(ctx)
	require.Error(t, err)

	var rebootErr *tapo.RebootError
	require.ErrorAs(t, err, &rebootErr)
	assert.Equal(t, tapo.PhaseSettle, rebootErr.Phase)
	assert.True(t, rebootErr.LeftOff)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []bool{false}, r.powerCalls(), "no on command after cancellation")
}

func TestReboot_DeadlineDuringSettle(t *testing.T) {
	r := &recorder{}
	h := newTestHandle(r)
	h.settle = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := h.Reboot(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, []bool{false}, r.powerCalls())
}

func TestReboot_OnFailureReportsLeftOff(t *testing.T) {
	r := &recorder{failOn: errors.New("device busy")}
	h := newTestHandle(r)

	err := h.Reboot(context.Background())
	var rebootErr *tapo.RebootError
	require.ErrorAs(t, err, &rebootErr)
	assert.Equal(t, tapo.PhaseOn, rebootErr.Phase)
	assert.True(t, rebootErr.LeftOff)
	assert.Equal(t, []bool{false, true}, r.powerCalls())
}

func TestReboot_OnTimeoutIsIndeterminate(t *testing.T) {
	r := &recorder{failOn: context.DeadlineExceeded}
	h := newTestHandle(r)

	err := h.Reboot(context.Background())
	var rebootErr *tapo.RebootError
	require.ErrorAs(t, err, &rebootErr)
	assert.Equal(t, tapo.PhaseOn, rebootErr.Phase)
	assert.False(t, rebootErr.LeftOff, "the on command may have been applied")
	assert.True(t, rebootErr.Indeterminate)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, []bool{false, true}, r.powerCalls())
}
