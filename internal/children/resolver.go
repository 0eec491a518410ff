package children

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/tapoctl/internal/handle"
	"github.com/dokzlo13/tapoctl/internal/tapo"
	"github.com/dokzlo13/tapoctl/internal/tapo/rpc"
)

// Options tunes nickname resolution.
type Options struct {
	// StrictNicknames makes a duplicated nickname an error instead of
	// resolving to the first match.
	StrictNicknames bool
}

// Resolver lists the children of one composite device and resolves them by
// nickname or stable id.
type Resolver struct {
	exec  handle.Executor
	ep    tapo.Endpoint
	creds tapo.Credentials
	opts  Options
}

// Resolved is the outcome of resolving one child.
type Resolved struct {
	Descriptor Descriptor
	Variant    Variant
	// Handle is scoped to the child's stable id. Nil for children that do
	// not accept power commands.
	Handle *handle.Handle
}

// NewResolver creates a resolver for a strip or hub endpoint.
func NewResolver(exec handle.Executor, ep tapo.Endpoint, creds tapo.Credentials, opts Options) (*Resolver, error) {
	if !ep.Kind.IsComposite() {
		return nil, &tapo.UnsupportedDeviceTypeError{Kind: string(ep.Kind), Reason: "device has no children"}
	}
	return &Resolver{exec: exec, ep: ep, creds: creds, opts: opts}, nil
}

// Enumerate fetches the child list with a single call, in device order.
func (r *Resolver) Enumerate(ctx context.Context) ([]Descriptor, error) {
	raw, err := r.exec.Execute(ctx, r.ep, r.creds, rpc.GetChildDeviceList())
	if err != nil {
		return nil, err
	}

	ds, err := ParseChildList(raw)
	if err != nil {
		return nil, &tapo.TransportError{Endpoint: r.ep, Op: string(rpc.MethodGetChildDeviceList), Err: err}
	}

	log.Debug().Str("endpoint", r.ep.String()).Int("children", len(ds)).Msg("Enumerated children")
	return ds, nil
}

// List returns every child as a Variant, unfiltered.
func (r *Resolver) List(ctx context.Context) ([]Variant, error) {
	ds, err := r.Enumerate(ctx)
	if err != nil {
		return nil, err
	}
	return DispatchAll(ds), nil
}

// Components returns the raw capability list of every child.
func (r *Resolver) Components(ctx context.Context) (json.RawMessage, error) {
	return r.exec.Execute(ctx, r.ep, r.creds, rpc.GetChildComponentList())
}

// Resolve finds the child whose nickname equals nickname exactly.
// The first match wins unless StrictNicknames is set.
func (r *Resolver) Resolve(ctx context.Context, nickname string) (Resolved, error) {
	if nickname == "" {
		return Resolved{}, &tapo.ConfigurationError{Field: "child", Reason: "nickname is required"}
	}

	ds, err := r.Enumerate(ctx)
	if err != nil {
		return Resolved{}, err
	}

	var matches []Descriptor
	for _, d := range ds {
		if d.Nickname == nickname {
			matches = append(matches, d)
		}
	}

	switch {
	case len(matches) == 0:
		return Resolved{}, &tapo.ChildNotFoundError{Child: nickname, Endpoint: r.ep}
	case len(matches) > 1:
		ids := make([]string, len(matches))
		for i, m := range matches {
			ids[i] = m.DeviceID
		}
		if r.opts.StrictNicknames {
			return Resolved{}, &tapo.AmbiguousChildError{Child: nickname, Endpoint: r.ep, IDs: ids}
		}
		log.Warn().
			Str("endpoint", r.ep.String()).
			Str("child", nickname).
			Strs("ids", ids).
			Msg("Nickname matches several children, using the first")
	}

	return r.resolved(matches[0]), nil
}

// ResolveID finds the child with the given stable id.
func (r *Resolver) ResolveID(ctx context.Context, id string) (Resolved, error) {
	if id == "" {
		return Resolved{}, &tapo.ConfigurationError{Field: "child_id", Reason: "id is required"}
	}

	ds, err := r.Enumerate(ctx)
	if err != nil {
		return Resolved{}, err
	}
	for _, d := range ds {
		if d.DeviceID == id {
			return r.resolved(d), nil
		}
	}
	return Resolved{}, &tapo.ChildNotFoundError{Child: id, Endpoint: r.ep}
}

func (r *Resolver) resolved(d Descriptor) Resolved {
	res := Resolved{Descriptor: d, Variant: Dispatch(d)}
	if IsActuator(res.Variant) {
		res.Handle = handle.New(r.exec, r.ep, r.creds).Child(d.DeviceID)
	}
	return res
}
