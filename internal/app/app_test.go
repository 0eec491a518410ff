package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/tapoctl/internal/config"
	"github.com/dokzlo13/tapoctl/internal/orchestrator"
	"github.com/dokzlo13/tapoctl/internal/tapo"
)

// fakeStrip speaks just enough of the device protocol for a two-outlet strip.
type fakeStrip struct {
	mu     sync.Mutex
	logins int
	power  map[string]bool
}

func (f *fakeStrip) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Method string         `json:"method"`
		Params map[string]any `json:"params"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	f.mu.Lock()
	defer f.mu.Unlock()

	reply := func(result string) {
		w.Write([]byte(`{"error_code":0,"result":` + result + `}`))
	}

	switch req.Method {
	case "login_device":
		f.logins++
		reply(`{"token":"t1"}`)
	case "get_device_info":
		reply(`{"device_id":"strip","model":"P300","nickname":"Desk"}`)
	case "get_child_device_list":
		reply(`{"child_device_list":[
			{"device_id":"c1","nickname":"Lamp","model":"P300","device_on":true},
			{"device_id":"c2","nickname":"Fan","model":"P300","device_on":false}
		]}`)
	case "control_child":
		id, _ := req.Params["device_id"].(string)
		inner, _ := req.Params["requestData"].(map[string]any)
		if params, ok := inner["params"].(map[string]any); ok {
			if on, ok := params["device_on"].(bool); ok {
				f.power[id] = on
			}
		}
		reply(`{"responseData":{"error_code":0,"result":{}}}`)
	default:
		w.Write([]byte(`{"error_code":-1}`))
	}
}

func newTestApp(t *testing.T, ledger bool) (*App, *fakeStrip) {
	t.Helper()

	strip := &fakeStrip{power: map[string]bool{}}
	srv := httptest.NewServer(strip)
	t.Cleanup(srv.Close)

	yaml := `
devices:
  - name: desk
    address: ` + strings.TrimPrefix(srv.URL, "http://") + `
    kind: strip
    username: u
    password: p
session:
  timeout: 2s
  rate_limit_rps: 100
database:
  path: ` + filepath.Join(t.TempDir(), "tapoctl.sqlite") + `
ledger:
  enabled: ` + map[bool]string{true: "true", false: "false"}[ledger] + `
`
	cfg, err := config.Parse([]byte(yaml))
	require.NoError(t, err)

	a, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { a.Stop() })
	return a, strip
}

func TestRun_ChildPowerThroughConfiguredDevice(t *testing.T) {
	a, strip := newTestApp(t, false)

	res, err := a.Run(context.Background(), orchestrator.IntentOff, Selector{Device: "desk", Child: "Lamp"})
	require.NoError(t, err)
	assert.Equal(t, "Lamp", res.Child)
	assert.Equal(t, "desk", res.Target)

	_, err = a.Run(context.Background(), orchestrator.IntentOn, Selector{Device: "desk", Child: "Fan"})
	require.NoError(t, err)

	strip.mu.Lock()
	defer strip.mu.Unlock()
	assert.Equal(t, map[string]bool{"c1": false, "c2": true}, strip.power)
	assert.Equal(t, 1, strip.logins, "session reused across commands")
}

func TestRun_RecordsLedger(t *testing.T) {
	a, _ := newTestApp(t, true)

	res, err := a.Run(context.Background(), orchestrator.IntentInfo, Selector{Device: "desk"})
	require.NoError(t, err)
	assert.Len(t, res.Children, 2)

	_, err = a.Run(context.Background(), orchestrator.IntentOn, Selector{Device: "desk", Child: "Heater"})
	require.True(t, tapo.IsChildNotFound(err))

	// Drain the bus so every event has been written.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	a.Services().Bus.Close(ctx)

	entries, err := a.Services().Ledger.Command(res.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "command_started", entries[0].EventType)
	assert.Equal(t, "command_completed", entries[1].EventType)
	assert.Equal(t, "desk", entries[1].Target)

	recent, err := a.Services().Ledger.Recent("desk", 10)
	require.NoError(t, err)
	assert.Len(t, recent, 4)
	assert.Equal(t, "command_failed", recent[0].EventType)
	assert.Contains(t, recent[0].Error, "Heater")
}

func TestResolveTarget(t *testing.T) {
	a, _ := newTestApp(t, false)
	t.Setenv(EnvUsername, "env-user")
	t.Setenv(EnvPassword, "env-pass")

	tgt, err := a.ResolveTarget(Selector{Address: "192.0.2.9", Kind: "plug"})
	require.NoError(t, err)
	assert.Equal(t, tapo.Endpoint{Address: "192.0.2.9", Kind: tapo.KindPlug}, tgt.Endpoint)
	assert.Equal(t, tapo.Credentials{Username: "env-user", Secret: "env-pass"}, tgt.Credentials)

	tgt, err = a.ResolveTarget(Selector{Address: "192.0.2.9", Kind: "hub", Username: "me", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "me", tgt.Credentials.Username)

	_, err = a.ResolveTarget(Selector{Device: "garage"})
	assert.True(t, tapo.IsConfiguration(err))

	_, err = a.ResolveTarget(Selector{})
	assert.True(t, tapo.IsConfiguration(err))

	_, err = a.ResolveTarget(Selector{Device: "desk", Address: "192.0.2.9"})
	assert.True(t, tapo.IsConfiguration(err))

	_, err = a.ResolveTarget(Selector{Address: "192.0.2.9", Kind: "bulb"})
	assert.True(t, tapo.IsUnsupported(err))
}

func TestHealthReadyReportsSessions(t *testing.T) {
	a, _ := newTestApp(t, false)

	_, err := a.Run(context.Background(), orchestrator.IntentInfo, Selector{Device: "desk"})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	a.Services().Health.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready","sessions":{"desk":"valid"}}`, rec.Body.String())
}
