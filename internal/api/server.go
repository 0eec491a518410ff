// Package api exposes the orchestrator over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/tapoctl/internal/config"
	"github.com/dokzlo13/tapoctl/internal/ledger"
	"github.com/dokzlo13/tapoctl/internal/orchestrator"
	"github.com/dokzlo13/tapoctl/internal/tapo"
)

// Runner executes an intent against a target. *orchestrator.Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, intent orchestrator.Intent, t orchestrator.Target) (orchestrator.Result, error)
}

// History returns recent command ledger entries. *ledger.Ledger implements it.
type History interface {
	Recent(target string, limit int) ([]*ledger.Entry, error)
}

// Server is the HTTP control surface.
type Server struct {
	addr       string
	runner     Runner
	history    History
	devices    map[string]config.DeviceConfig
	order      []string
	httpServer *http.Server
}

// NewServer creates a new control server. history may be nil.
func NewServer(addr string, runner Runner, devices []config.DeviceConfig, history History) *Server {
	s := &Server{
		addr:    addr,
		runner:  runner,
		history: history,
		devices: make(map[string]config.DeviceConfig, len(devices)),
	}
	for _, d := range devices {
		s.devices[d.Name] = d
		s.order = append(s.order, d.Name)
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /devices", s.handleListDevices)
	mux.HandleFunc("GET /devices/{name}", s.handleInfo)
	mux.HandleFunc("GET /devices/{name}/children", s.handleListChildren)
	mux.HandleFunc("GET /devices/{name}/children/{child}", s.handleChildInfo)
	mux.HandleFunc("POST /devices/{name}/{intent}", s.handleIntent)
	mux.HandleFunc("GET /commands", s.handleCommands)
	return mux
}

// Run starts the server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	log.Info().Str("addr", s.addr).Msg("Starting control server")

	// Handle graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Control server shutdown error")
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

type deviceView struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Kind    string `json:"kind"`
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	out := make([]deviceView, 0, len(s.order))
	for _, name := range s.order {
		d := s.devices[name]
		ep := d.Endpoint()
		out = append(out, deviceView{Name: d.Name, Address: ep.Address, Kind: string(ep.Kind)})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, orchestrator.IntentInfo, "", "")
}

func (s *Server) handleListChildren(w http.ResponseWriter, r *http.Request) {
	d, ok := s.device(w, r)
	if !ok {
		return
	}
	if !d.Endpoint().Kind.IsComposite() {
		writeError(w, &tapo.UnsupportedDeviceTypeError{Kind: d.Kind, Reason: "plugs have no children"})
		return
	}
	s.run(w, r, orchestrator.IntentInfo, "", "")
}

func (s *Server) handleChildInfo(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, orchestrator.IntentInfo, r.PathValue("child"), "")
}

func (s *Server) handleIntent(w http.ResponseWriter, r *http.Request) {
	intent, err := orchestrator.ParseIntent(r.PathValue("intent"))
	if err != nil {
		writeError(w, err)
		return
	}
	q := r.URL.Query()
	s.run(w, r, intent, q.Get("child"), q.Get("child_id"))
}

func (s *Server) run(w http.ResponseWriter, r *http.Request, intent orchestrator.Intent, child, childID string) {
	d, ok := s.device(w, r)
	if !ok {
		return
	}

	log.Debug().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("device", d.Name).
		Str("intent", string(intent)).
		Msg("Received control request")

	res, err := s.runner.Run(r.Context(), intent, orchestrator.Target{
		Name:            d.Name,
		Endpoint:        d.Endpoint(),
		Credentials:     d.Credentials(),
		Child:           child,
		ChildID:         childID,
		StrictNicknames: d.StrictNicknames,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: errorDetail{Class: "unavailable", Message: "command ledger is disabled"}})
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, &tapo.ConfigurationError{Field: "limit", Reason: "must be a positive integer"})
			return
		}
		limit = n
	}

	entries, err := s.history.Recent(r.URL.Query().Get("target"), limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read command ledger")
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []*ledger.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) device(w http.ResponseWriter, r *http.Request) (config.DeviceConfig, bool) {
	name := r.PathValue("name")
	d, ok := s.devices[name]
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: errorDetail{Class: "device_not_found", Message: "unknown device " + strconv.Quote(name)}})
		return config.DeviceConfig{}, false
	}
	return d, true
}

type errorDetail struct {
	Class         string `json:"class"`
	Message       string `json:"message"`
	LeftOff       bool   `json:"left_off,omitempty"`
	Indeterminate bool   `json:"indeterminate,omitempty"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

// Classify maps an error to a stable class name and HTTP status.
func Classify(err error) (string, int) {
	switch {
	case tapo.IsConfiguration(err):
		return "configuration", http.StatusBadRequest
	case tapo.IsUnsupported(err):
		return "unsupported_device_type", http.StatusUnprocessableEntity
	case tapo.IsChildNotFound(err):
		return "child_not_found", http.StatusNotFound
	case errors.Is(err, tapo.ErrAmbiguousChild):
		return "ambiguous_child", http.StatusConflict
	case errors.Is(err, tapo.ErrReboot):
		return "reboot_incomplete", http.StatusBadGateway
	case tapo.IsAuthentication(err):
		return "authentication", http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout", http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return "cancelled", http.StatusServiceUnavailable
	case tapo.IsTransport(err):
		return "transport", http.StatusBadGateway
	}
	return "internal", http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	class, status := Classify(err)
	detail := errorDetail{Class: class, Message: err.Error()}

	var rebootErr *tapo.RebootError
	if errors.As(err, &rebootErr) {
		detail.LeftOff = rebootErr.LeftOff
		detail.Indeterminate = rebootErr.Indeterminate
	}
	writeJSON(w, status, errorBody{Error: detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to write response")
	}
}
