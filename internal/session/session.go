package session

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dokzlo13/tapoctl/internal/tapo"
	"github.com/dokzlo13/tapoctl/internal/tapo/rpc"
)

// State is the validity of an endpoint session.
type State int

const (
	Unestablished State = iota
	Valid
	Expired
	// Indeterminate follows a timed out or cancelled call: the session is
	// neither trusted nor assumed dead, and the next use re-validates it.
	Indeterminate
)

func (s State) String() string {
	switch s {
	case Unestablished:
		return "unestablished"
	case Valid:
		return "valid"
	case Expired:
		return "expired"
	case Indeterminate:
		return "indeterminate"
	}
	return "unknown"
}

// Session is a snapshot of an endpoint session.
type Session struct {
	Endpoint      tapo.Endpoint
	Token         rpc.Token
	State         State
	Generation    uint64
	EstablishedAt time.Time
}

// entry is the mutable per-endpoint state. Only the Manager touches it.
type entry struct {
	authLock chan struct{}
	slots    chan struct{}
	limiter  *rate.Limiter

	mu            sync.Mutex
	creds         tapo.Credentials
	token         rpc.Token
	state         State
	gen           uint64
	establishedAt time.Time
}

func newEntry(cfg Config) *entry {
	return &entry{
		authLock: make(chan struct{}, 1),
		slots:    make(chan struct{}, cfg.MaxInFlight),
		limiter:  newLimiter(cfg.RateLimitRPS),
	}
}

func (e *entry) valid(ep tapo.Endpoint, creds tapo.Credentials) (Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != Valid || e.creds != creds {
		return Session{}, false
	}
	return e.snapshot(ep), true
}

func (e *entry) establish(ep tapo.Endpoint, creds tapo.Credentials, token rpc.Token) Session {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.creds = creds
	e.token = token
	e.state = Valid
	e.gen++
	e.establishedAt = time.Now()
	return e.snapshot(ep)
}

func (e *entry) snapshot(ep tapo.Endpoint) Session {
	return Session{
		Endpoint:      ep,
		Token:         e.token,
		State:         e.state,
		Generation:    e.gen,
		EstablishedAt: e.establishedAt,
	}
}

func (e *entry) generation() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gen
}

// invalidate expires the session only if it is still the generation the
// caller observed; a newer session established meanwhile is left alone.
func (e *entry) invalidate(gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.gen == gen && e.state != Unestablished {
		e.state = Expired
	}
}

func (e *entry) markIndeterminate(gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.gen == gen && e.state != Unestablished {
		e.state = Indeterminate
	}
}

// acquire takes one slot of a semaphore channel, giving up when ctx ends.
func acquire(ctx context.Context, sem chan struct{}) error {
	select {
	case sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func release(sem chan struct{}) {
	select {
	case <-sem:
	default:
		panic("session: release of a slot that was never acquired")
	}
}
