// Package session owns the authenticated session of every device endpoint and
// re-authenticates transparently when a device reports the session expired.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/tapoctl/internal/tapo"
	"github.com/dokzlo13/tapoctl/internal/tapo/rpc"
)

// Transport is the request/response channel the manager drives.
type Transport interface {
	Authenticate(ctx context.Context, ep tapo.Endpoint, creds tapo.Credentials) (rpc.Token, error)
	Send(ctx context.Context, ep tapo.Endpoint, token rpc.Token, cmd rpc.Command) (json.RawMessage, error)
}

// Config tunes per-endpoint behaviour.
type Config struct {
	// Timeout bounds each transport call (0 = caller context only).
	Timeout time.Duration
	// RateLimitRPS paces commands per endpoint (0 = unlimited).
	RateLimitRPS float64
	// MaxInFlight caps concurrent commands per endpoint (default 1).
	MaxInFlight int
}

// Manager keeps at most one live session per endpoint.
type Manager struct {
	transport Transport
	cfg       Config

	mu      sync.Mutex
	entries map[tapo.Endpoint]*entry
}

// NewManager creates a session manager on top of transport.
func NewManager(transport Transport, cfg Config) *Manager {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 1
	}
	return &Manager{
		transport: transport,
		cfg:       cfg,
		entries:   make(map[tapo.Endpoint]*entry),
	}
}

func (m *Manager) entry(ep tapo.Endpoint) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[ep]
	if !ok {
		e = newEntry(m.cfg)
		m.entries[ep] = e
	}
	return e
}

// Ensure returns a valid session for ep, authenticating if none is
// established, the previous one expired, or its state is indeterminate.
// Concurrent callers share a single authentication round trip.
func (m *Manager) Ensure(ctx context.Context, ep tapo.Endpoint, creds tapo.Credentials) (Session, error) {
	e := m.entry(ep)
	if s, ok := e.valid(ep, creds); ok {
		return s, nil
	}

	if err := acquire(ctx, e.authLock); err != nil {
		return Session{}, err
	}
	defer release(e.authLock)

	// Another caller may have refreshed while we waited.
	if s, ok := e.valid(ep, creds); ok {
		return s, nil
	}

	return m.authenticate(ctx, ep, creds, e)
}

func (m *Manager) authenticate(ctx context.Context, ep tapo.Endpoint, creds tapo.Credentials, e *entry) (Session, error) {
	callCtx, cancel := m.callContext(ctx)
	defer cancel()

	gen := e.generation()
	token, err := m.transport.Authenticate(callCtx, ep, creds)
	if err != nil {
		if isContextErr(callCtx, err) {
			e.markIndeterminate(gen)
			return Session{}, err
		}
		if errors.Is(err, rpc.ErrInvalidCredentials) || errors.Is(err, rpc.ErrAuthExpired) {
			log.Warn().Str("endpoint", ep.String()).Str("username", creds.Username).Msg("Device rejected credentials")
			return Session{}, &tapo.AuthenticationError{Endpoint: ep, Err: err}
		}
		return Session{}, err
	}

	s := e.establish(ep, creds, token)
	log.Debug().
		Str("endpoint", ep.String()).
		Uint64("generation", s.Generation).
		Msg("Session established")
	return s, nil
}

// Execute routes cmd through the current session. On auth expiry it
// invalidates the session, re-authenticates once and retries once; a second
// expiry is returned as *tapo.AuthenticationError. Credentials rejected
// mid-session are not retried.
func (m *Manager) Execute(ctx context.Context, ep tapo.Endpoint, creds tapo.Credentials, cmd rpc.Command) (json.RawMessage, error) {
	e := m.entry(ep)

	if err := acquire(ctx, e.slots); err != nil {
		return nil, err
	}
	defer release(e.slots)

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	s, err := m.Ensure(ctx, ep, creds)
	if err != nil {
		return nil, err
	}

	result, err := m.send(ctx, e, s, cmd)
	if errors.Is(err, rpc.ErrInvalidCredentials) {
		e.invalidate(s.Generation)
		return nil, &tapo.AuthenticationError{Endpoint: ep, Err: err}
	}
	if !errors.Is(err, rpc.ErrAuthExpired) {
		return result, err
	}

	log.Debug().
		Str("endpoint", ep.String()).
		Str("method", string(cmd.Method)).
		Msg("Session expired, re-authenticating")

	e.invalidate(s.Generation)
	s, err = m.Ensure(ctx, ep, creds)
	if err != nil {
		return nil, err
	}

	result, err = m.send(ctx, e, s, cmd)
	if errors.Is(err, rpc.ErrAuthExpired) || errors.Is(err, rpc.ErrInvalidCredentials) {
		e.invalidate(s.Generation)
		return nil, &tapo.AuthenticationError{Endpoint: ep, Err: err}
	}
	return result, err
}

func (m *Manager) send(ctx context.Context, e *entry, s Session, cmd rpc.Command) (json.RawMessage, error) {
	callCtx, cancel := m.callContext(ctx)
	defer cancel()

	result, err := m.transport.Send(callCtx, s.Endpoint, s.Token, cmd)
	if err != nil && isContextErr(callCtx, err) {
		// The device may or may not have seen the command.
		e.markIndeterminate(s.Generation)
	}
	return result, err
}

func (m *Manager) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, m.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

// Invalidate marks the session of ep as expired, forcing re-authentication
// on next use.
func (m *Manager) Invalidate(ep tapo.Endpoint) {
	e := m.entry(ep)
	e.invalidate(e.generation())
}

// State returns the validity state of the session for ep.
func (m *Manager) State(ep tapo.Endpoint) State {
	m.mu.Lock()
	e, ok := m.entries[ep]
	m.mu.Unlock()
	if !ok {
		return Unestablished
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func isContextErr(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}
