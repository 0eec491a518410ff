// Package handle provides typed power/info/reboot operations on one device or
// on one child of a composite device.
package handle

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/tapoctl/internal/tapo"
	"github.com/dokzlo13/tapoctl/internal/tapo/rpc"
)

// SettleDelay is the pause between the off and on phases of a reboot.
const SettleDelay = time.Second

// Executor runs a command against an endpoint. *session.Manager implements it.
type Executor interface {
	Execute(ctx context.Context, ep tapo.Endpoint, creds tapo.Credentials, cmd rpc.Command) (json.RawMessage, error)
}

// Handle is bound to one endpoint and, optionally, one child id.
type Handle struct {
	exec    Executor
	ep      tapo.Endpoint
	creds   tapo.Credentials
	childID string
	settle  time.Duration
}

// New creates a handle for the device itself.
func New(exec Executor, ep tapo.Endpoint, creds tapo.Credentials) *Handle {
	return &Handle{
		exec:   exec,
		ep:     ep,
		creds:  creds,
		settle: SettleDelay,
	}
}

// Child returns a handle scoped to the child with the given stable id.
func (h *Handle) Child(childID string) *Handle {
	c := *h
	c.childID = childID
	return &c
}

// Endpoint returns the physical device this handle talks to.
func (h *Handle) Endpoint() tapo.Endpoint {
	return h.ep
}

// ChildID returns the child this handle is scoped to, or "" for the device.
func (h *Handle) ChildID() string {
	return h.childID
}

func (h *Handle) execute(ctx context.Context, cmd rpc.Command) (json.RawMessage, error) {
	if h.childID != "" {
		cmd = cmd.ForChild(h.childID)
	}
	return h.exec.Execute(ctx, h.ep, h.creds, cmd)
}

// Power turns the target on or off.
func (h *Handle) Power(ctx context.Context, on bool) error {
	if _, err := h.execute(ctx, rpc.SetPower(on)); err != nil {
		return err
	}

	log.Debug().
		Str("endpoint", h.ep.String()).
		Str("child", h.childID).
		Bool("on", on).
		Msg("Power state set")
	return nil
}

// Info returns the current state of the target without changing it.
func (h *Handle) Info(ctx context.Context) (tapo.DeviceInfo, error) {
	raw, err := h.execute(ctx, rpc.GetDeviceInfo())
	if err != nil {
		return tapo.DeviceInfo{}, err
	}

	info, err := tapo.ParseDeviceInfo(raw)
	if err != nil {
		return tapo.DeviceInfo{}, &tapo.TransportError{Endpoint: h.ep, Op: string(rpc.MethodGetDeviceInfo), Err: err}
	}
	return info, nil
}

// Reboot powers the target off, waits SettleDelay and powers it on again.
// A failed "off" is returned as-is and "on" is not attempted. If ctx ends
// during the delay, or "on" fails, the result is a *tapo.RebootError with
// LeftOff set. An "on" that ends with ctx may have reached the device and is
// reported as Indeterminate.
func (h *Handle) Reboot(ctx context.Context) error {
	if err := h.Power(ctx, false); err != nil {
		return err
	}

	timer := time.NewTimer(h.settle)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
	}

	if ctx.Err() != nil {
		log.Warn().
			Str("endpoint", h.ep.String()).
			Str("child", h.childID).
			Msg("Reboot cancelled during settle delay, target left off")
		return &tapo.RebootError{Phase: tapo.PhaseSettle, LeftOff: true, Err: ctx.Err()}
	}

	if err := h.Power(ctx, true); err != nil {
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return &tapo.RebootError{Phase: tapo.PhaseOn, Indeterminate: true, Err: err}
		}
		return &tapo.RebootError{Phase: tapo.PhaseOn, LeftOff: true, Err: err}
	}
	return nil
}
