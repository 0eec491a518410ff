// Package orchestrator turns a user-level intent and a target into calls on
// the right device or child handle.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/tapoctl/internal/children"
	"github.com/dokzlo13/tapoctl/internal/eventbus"
	"github.com/dokzlo13/tapoctl/internal/handle"
	"github.com/dokzlo13/tapoctl/internal/tapo"
)

// Intent is the user-level command.
type Intent string

const (
	IntentOn     Intent = "on"
	IntentOff    Intent = "off"
	IntentReboot Intent = "reboot"
	IntentInfo   Intent = "info"
)

// ParseIntent parses one of on, off, reboot, info.
func ParseIntent(s string) (Intent, error) {
	switch i := Intent(strings.ToLower(strings.TrimSpace(s))); i {
	case IntentOn, IntentOff, IntentReboot, IntentInfo:
		return i, nil
	}
	return "", &tapo.ConfigurationError{Field: "intent", Reason: fmt.Sprintf("unknown intent %q (want on, off, reboot or info)", s)}
}

// Mutates reports whether the intent changes device state.
func (i Intent) Mutates() bool {
	return i != IntentInfo
}

// Target names the device, and optionally the child, an intent applies to.
type Target struct {
	// Name is a display label, e.g. the configured device name.
	Name        string
	Endpoint    tapo.Endpoint
	Credentials tapo.Credentials
	// Child is a nickname; ChildID a stable id. At most one should be set.
	Child           string
	ChildID         string
	StrictNicknames bool
}

func (t Target) hasChild() bool {
	return t.Child != "" || t.ChildID != ""
}

func (t Target) childLabel() string {
	if t.Child != "" {
		return t.Child
	}
	return t.ChildID
}

// Result is the typed success payload of Run.
type Result struct {
	ID       string             `json:"id"`
	Intent   Intent             `json:"intent"`
	Target   string             `json:"target"`
	Child    string             `json:"child_nickname,omitempty"`
	Device   *tapo.DeviceInfo   `json:"device,omitempty"`
	Children []children.Variant `json:"children,omitempty"`
	// ChildVariant is set when a single child was resolved.
	ChildVariant children.Variant `json:"child,omitempty"`
}

// Publisher receives command lifecycle events. *eventbus.Bus implements it.
type Publisher interface {
	Publish(eventbus.Event)
}

// Orchestrator routes intents to handles.
type Orchestrator struct {
	exec       handle.Executor
	publisher  Publisher
	verifyKind bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPublisher emits started/completed/failed events for every Run.
func WithPublisher(p Publisher) Option {
	return func(o *Orchestrator) {
		o.publisher = p
	}
}

// WithKindVerification compares the model the device reports against the
// endpoint kind before acting.
func WithKindVerification(enabled bool) Option {
	return func(o *Orchestrator) {
		o.verifyKind = enabled
	}
}

// New creates an orchestrator executing through exec.
func New(exec handle.Executor, opts ...Option) *Orchestrator {
	o := &Orchestrator{exec: exec}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Validate reports input errors that need no network call.
func Validate(intent Intent, t Target) error {
	switch intent {
	case IntentOn, IntentOff, IntentReboot, IntentInfo:
	default:
		return &tapo.ConfigurationError{Field: "intent", Reason: fmt.Sprintf("unknown intent %q (want on, off, reboot or info)", intent)}
	}
	if t.Endpoint.Address == "" {
		return &tapo.ConfigurationError{Field: "address", Reason: "device address is required"}
	}
	kind, err := tapo.ParseKind(string(t.Endpoint.Kind))
	if err != nil {
		return err
	}
	if kind != t.Endpoint.Kind {
		return &tapo.ConfigurationError{Field: "kind", Reason: fmt.Sprintf("kind %q is not canonical, use %q", t.Endpoint.Kind, kind)}
	}
	if t.Child != "" && t.ChildID != "" {
		return &tapo.ConfigurationError{Field: "child", Reason: "give a nickname or an id, not both"}
	}

	composite := t.Endpoint.Kind.IsComposite()
	if !composite && t.hasChild() {
		return &tapo.UnsupportedDeviceTypeError{Kind: string(t.Endpoint.Kind), Reason: "plugs have no children"}
	}
	if composite && intent.Mutates() && !t.hasChild() {
		return &tapo.ConfigurationError{
			Field:  "child",
			Reason: fmt.Sprintf("%s on a %s requires a child nickname", intent, t.Endpoint.Kind),
		}
	}
	return nil
}

// Run executes intent against t.
func (o *Orchestrator) Run(ctx context.Context, intent Intent, t Target) (Result, error) {
	if err := Validate(intent, t); err != nil {
		return Result{}, err
	}

	res := Result{
		ID:     uuid.NewString(),
		Intent: intent,
		Target: t.Name,
		Child:  t.Child,
	}
	if res.Target == "" {
		res.Target = t.Endpoint.String()
	}

	o.publish(eventbus.EventCommandStarted, res, t, nil, 0)
	logger := log.With().
		Str("command_id", res.ID).
		Str("intent", string(intent)).
		Str("endpoint", t.Endpoint.String()).
		Str("child", t.childLabel()).
		Logger()
	logger.Debug().Msg("Running command")

	start := time.Now()
	err := o.run(ctx, intent, t, &res)
	elapsed := time.Since(start)

	if err != nil {
		o.publish(eventbus.EventCommandFailed, res, t, err, elapsed)
		logger.Debug().Err(err).Dur("elapsed", elapsed).Msg("Command failed")
		return Result{}, err
	}

	o.publish(eventbus.EventCommandCompleted, res, t, nil, elapsed)
	logger.Info().Dur("elapsed", elapsed).Msg("Command completed")
	return res, nil
}

func (o *Orchestrator) run(ctx context.Context, intent Intent, t Target, res *Result) error {
	device := handle.New(o.exec, t.Endpoint, t.Credentials)

	if o.verifyKind || (intent == IntentInfo && !t.hasChild()) {
		info, err := o.deviceInfo(ctx, device)
		if err != nil {
			return err
		}
		if !t.hasChild() {
			res.Device = &info
		}
	}

	if !t.Endpoint.Kind.IsComposite() {
		return apply(ctx, intent, device)
	}

	resolver, err := children.NewResolver(o.exec, t.Endpoint, t.Credentials, children.Options{
		StrictNicknames: t.StrictNicknames,
	})
	if err != nil {
		return err
	}

	if !t.hasChild() {
		// Validate only lets info through here.
		list, err := resolver.List(ctx)
		if err != nil {
			return err
		}
		res.Children = list
		return nil
	}

	var resolved children.Resolved
	if t.ChildID != "" {
		resolved, err = resolver.ResolveID(ctx, t.ChildID)
	} else {
		resolved, err = resolver.Resolve(ctx, t.Child)
	}
	if err != nil {
		return err
	}
	res.ChildVariant = resolved.Variant
	res.Child = resolved.Descriptor.Nickname

	if intent == IntentInfo {
		if resolved.Handle != nil {
			info, err := resolved.Handle.Info(ctx)
			if err != nil {
				return err
			}
			res.Device = &info
		}
		return nil
	}

	if resolved.Handle == nil {
		return &tapo.UnsupportedDeviceTypeError{
			Kind:   resolved.Descriptor.ReportedType(),
			Reason: fmt.Sprintf("%s child %q does not accept %s", resolved.Variant.Tag(), t.childLabel(), intent),
		}
	}
	return apply(ctx, intent, resolved.Handle)
}

func (o *Orchestrator) deviceInfo(ctx context.Context, h *handle.Handle) (tapo.DeviceInfo, error) {
	info, err := h.Info(ctx)
	if err != nil {
		return tapo.DeviceInfo{}, err
	}
	if !o.verifyKind {
		return info, nil
	}

	want := h.Endpoint().Kind
	if got, ok := info.InferKind(); ok && got != want {
		return tapo.DeviceInfo{}, &tapo.UnsupportedDeviceTypeError{
			Kind:   string(want),
			Reason: fmt.Sprintf("device reports model %s, which is a %s", info.Model, got),
		}
	}
	return info, nil
}

func apply(ctx context.Context, intent Intent, h *handle.Handle) error {
	switch intent {
	case IntentOn:
		return h.Power(ctx, true)
	case IntentOff:
		return h.Power(ctx, false)
	case IntentReboot:
		return h.Reboot(ctx)
	case IntentInfo:
		return nil
	}
	return &tapo.ConfigurationError{Field: "intent", Reason: fmt.Sprintf("unknown intent %q", intent)}
}

func (o *Orchestrator) publish(typ eventbus.EventType, res Result, t Target, err error, elapsed time.Duration) {
	if o.publisher == nil {
		return
	}

	data := map[string]any{
		"intent":   string(res.Intent),
		"target":   res.Target,
		"endpoint": t.Endpoint.String(),
		"child":    t.childLabel(),
	}
	if typ != eventbus.EventCommandStarted {
		data["elapsed_ms"] = elapsed.Milliseconds()
	}
	if err != nil {
		data["error"] = err.Error()
	}

	o.publisher.Publish(eventbus.Event{Type: typ, CommandID: res.ID, Data: data})
}
