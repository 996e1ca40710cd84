package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telekom/sla-escalation/pkg/api"
	"github.com/telekom/sla-escalation/pkg/breach"
	"github.com/telekom/sla-escalation/pkg/notification"
)

type fakeAPI struct {
	t          *testing.T
	registered []api.BreachRegistration
	lastQuery  map[string]string
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.lastQuery = map[string]string{}
	for k, v := range r.URL.Query() {
		f.lastQuery[k] = v[0]
	}
	created := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/notifications":
		_ = json.NewEncoder(w).Encode([]notification.Record{{ID: "01A", ClaimID: "claim-1", Channel: notification.ChannelEmail, Status: notification.StatusSent, CreatedAt: created}})
	case r.Method == http.MethodGet && r.URL.Path == "/api/notifications/01A":
		_ = json.NewEncoder(w).Encode(notification.Record{ID: "01A", ClaimID: "claim-1", Channel: notification.ChannelEmail, Status: notification.StatusDelivered})
	case r.Method == http.MethodGet && r.URL.Path == "/api/breaches":
		_ = json.NewEncoder(w).Encode([]breach.Event{{ID: "br-1", ClaimID: "claim-1", Severity: breach.SeverityMajor, CreatedAt: created}})
	case r.Method == http.MethodGet && r.URL.Path == "/api/breaches/br-1":
		_ = json.NewEncoder(w).Encode(breach.Event{ID: "br-1", ClaimID: "claim-1", Severity: breach.SeverityMajor, CreatedAt: created})
	case r.Method == http.MethodPost && r.URL.Path == "/api/breaches":
		var reg api.BreachRegistration
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&reg))
		f.registered = append(f.registered, reg)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(breach.Event{ID: "br-new", ClaimID: reg.ClaimID, Severity: reg.Severity, CreatedAt: created})
	case r.Method == http.MethodPost && r.URL.Path == "/api/breaches/br-1/escalate":
		_ = json.NewEncoder(w).Encode(api.EscalationView{BreachID: "br-1", Tier: breach.TierAlert, Outcome: "advanced", Notifications: []*notification.Record{}})
	case r.Method == http.MethodPost && r.URL.Path == "/api/breaches/br-1/resolve":
		_ = json.NewEncoder(w).Encode(breach.Event{ID: "br-1", ClaimID: "claim-1", Severity: breach.SeverityMajor, Resolved: true})
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not found","code":"NOT_FOUND"}`))
	}
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	root := NewRootCommand(Config{OutputWriter: buf})
	root.SetArgs(args)
	root.SetOut(buf)
	root.SetErr(&bytes.Buffer{})
	err := root.Execute()
	return buf.String(), err
}

func newFakeServer(t *testing.T) (*fakeAPI, string) {
	t.Helper()
	f := &fakeAPI{t: t}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv.URL
}

func TestRootCommandStructure(t *testing.T) {
	root := NewRootCommand(DefaultConfig())
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["notifications"])
	assert.True(t, names["breaches"])
	assert.True(t, names["version"])

	breaches := NewBreachCommand()
	sub := map[string]bool{}
	for _, c := range breaches.Commands() {
		sub[c.Name()] = true
	}
	for _, want := range []string{"list", "get", "register", "escalate", "resolve"} {
		assert.True(t, sub[want], "missing breaches %s", want)
	}
}

func TestServerRequired(t *testing.T) {
	t.Setenv(EnvServer, "")
	_, err := runCommand(t, "notifications", "list")
	require.ErrorContains(t, err, "server is required")
}

func TestNotificationsListTable(t *testing.T) {
	f, url := newFakeServer(t)
	out, err := runCommand(t, "--server", url, "notifications", "list", "--claim", "claim-1", "--status", "sent", "--limit", "10")
	require.NoError(t, err)
	assert.Contains(t, out, "01A")
	assert.Contains(t, out, "CHANNEL")
	assert.Equal(t, "claim-1", f.lastQuery["claimId"])
	assert.Equal(t, "sent", f.lastQuery["status"])
	assert.Equal(t, "10", f.lastQuery["limit"])
}

func TestNotificationsGetJSON(t *testing.T) {
	_, url := newFakeServer(t)
	out, err := runCommand(t, "--server", url, "-o", "json", "notifications", "get", "01A")
	require.NoError(t, err)

	var rec notification.Record
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, notification.StatusDelivered, rec.Status)
}

func TestEnvFallbacks(t *testing.T) {
	_, url := newFakeServer(t)
	t.Setenv(EnvServer, url)
	t.Setenv(EnvOutput, "yaml")

	out, err := runCommand(t, "breaches", "get", "br-1")
	require.NoError(t, err)
	assert.Contains(t, out, "claimId: claim-1")
}

func TestInvalidOutputFormat(t *testing.T) {
	_, url := newFakeServer(t)
	_, err := runCommand(t, "--server", url, "-o", "xml", "breaches", "list")
	require.ErrorContains(t, err, "unknown output format")
}

func TestInvalidTimeoutEnv(t *testing.T) {
	t.Setenv(EnvTimeout, "soon")
	_, err := runCommand(t, "--server", "http://127.0.0.1:1", "breaches", "list")
	require.ErrorContains(t, err, EnvTimeout)
}

func TestBreachesListOpenFlag(t *testing.T) {
	f, url := newFakeServer(t)

	_, err := runCommand(t, "--server", url, "breaches", "list")
	require.NoError(t, err)
	_, set := f.lastQuery["open"]
	assert.False(t, set)

	out, err := runCommand(t, "--server", url, "breaches", "list", "--open", "-o", "wide")
	require.NoError(t, err)
	assert.Equal(t, "true", f.lastQuery["open"])
	assert.Contains(t, out, "RECIPIENTS")
}

func TestBreachesRegisterFromYAML(t *testing.T) {
	f, url := newFakeServer(t)
	path := filepath.Join(t.TempDir(), "breach.yaml")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join([]string{
		"claimId: claim-7",
		"severity: critical",
		"delayDays: 12",
		"recipients:",
		"  worker:",
		"    phone: \"+4917000000\"",
	}, "\n")), 0o600))

	out, err := runCommand(t, "--server", url, "breaches", "register", "-f", path)
	require.NoError(t, err)
	assert.Contains(t, out, "br-new")

	require.Len(t, f.registered, 1)
	reg := f.registered[0]
	assert.Equal(t, "claim-7", reg.ClaimID)
	assert.Equal(t, breach.SeverityCritical, reg.Severity)
	assert.Equal(t, 12, reg.DelayDays)
	assert.Equal(t, "+4917000000", reg.Recipients[breach.RoleWorker].Phone)
}

func TestBreachesRegisterRequiresFile(t *testing.T) {
	_, url := newFakeServer(t)
	_, err := runCommand(t, "--server", url, "breaches", "register")
	require.Error(t, err)

	empty := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	_, err = runCommand(t, "--server", url, "breaches", "register", "-f", empty)
	require.ErrorContains(t, err, "empty")
}

func TestBreachesEscalateAndResolve(t *testing.T) {
	_, url := newFakeServer(t)

	out, err := runCommand(t, "--server", url, "breaches", "escalate", "br-1")
	require.NoError(t, err)
	assert.Contains(t, out, "breach br-1: advanced")

	out, err = runCommand(t, "--server", url, "breaches", "resolve", "br-1")
	require.NoError(t, err)
	assert.Contains(t, out, "resolved")
}

func TestBreachNotFound(t *testing.T) {
	_, url := newFakeServer(t)
	_, err := runCommand(t, "--server", url, "breaches", "get", "unknown")
	require.ErrorContains(t, err, "request failed (404)")
}

func TestVersionCommand(t *testing.T) {
	out, err := runCommand(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "slactl")

	out, err = runCommand(t, "version", "-o", "json")
	require.NoError(t, err)
	var info map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Contains(t, info, "version")
}
