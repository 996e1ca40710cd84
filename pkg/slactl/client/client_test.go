package client

import (
	"context"
	"encoding/json"
	"errors"
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

func TestNewRequiresServer(t *testing.T) {
	_, err := New()
	require.Error(t, err)

	_, err = New(WithServer(""))
	require.Error(t, err)

	_, err = New(WithServer("localhost"))
	require.ErrorContains(t, err, "scheme and host")
}

func TestWithTLSConfig(t *testing.T) {
	_, err := New(WithServer("https://sla.example.com"), WithTLSConfig(filepath.Join(t.TempDir(), "missing.pem"), false))
	require.ErrorContains(t, err, "failed to read CA file")

	bad := filepath.Join(t.TempDir(), "bad.pem")
	require.NoError(t, os.WriteFile(bad, []byte("not a certificate"), 0o600))
	_, err = New(WithServer("https://sla.example.com"), WithTLSConfig(bad, false))
	require.ErrorContains(t, err, "failed to parse CA file")

	c, err := New(WithServer("https://sla.example.com"), WithTLSConfig("", true))
	require.NoError(t, err)
	assert.True(t, c.tlsConfig.InsecureSkipVerify)
}

func TestRequestHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.True(t, strings.HasPrefix(r.Header.Get("User-Agent"), "slactl/"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	c, err := New(WithServer(server.URL), WithToken("tok"))
	require.NoError(t, err)
	_, err = c.Notifications().List(context.Background(), notification.Filter{})
	require.NoError(t, err)
}

func TestNotificationsList(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/notifications", r.URL.Path)
		require.Equal(t, http.MethodGet, r.Method)
		q := r.URL.Query()
		assert.Equal(t, "claim-1", q.Get("claimId"))
		assert.Equal(t, "sms", q.Get("channel"))
		assert.Equal(t, "5", q.Get("limit"))
		assert.False(t, q.Has("status"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]notification.Record{
			{ID: "01B", ClaimID: "claim-1", Channel: notification.ChannelSMS, Status: notification.StatusSent},
			{ID: "01A", ClaimID: "claim-1", Channel: notification.ChannelSMS, Status: notification.StatusFailed},
		})
	}))
	defer server.Close()

	c, err := New(WithServer(server.URL))
	require.NoError(t, err)

	records, err := c.Notifications().List(context.Background(), notification.Filter{
		ClaimID: "claim-1",
		Channel: notification.ChannelSMS,
		Limit:   5,
	})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "01B", records[0].ID)
	assert.Equal(t, notification.StatusFailed, records[1].Status)
}

func TestNotificationsGetNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/notifications/missing", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"notification record not found: missing","code":"NOT_FOUND"}`))
	}))
	defer server.Close()

	c, err := New(WithServer(server.URL))
	require.NoError(t, err)

	_, err = c.Notifications().Get(context.Background(), "missing")
	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusNotFound, httpErr.StatusCode)
	assert.Equal(t, "NOT_FOUND", httpErr.Code)
	assert.Contains(t, httpErr.Error(), "notification record not found")
}

func TestErrorWithoutJSONBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	c, err := New(WithServer(server.URL))
	require.NoError(t, err)

	_, err = c.Breaches().Get(context.Background(), "br-1")
	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusBadGateway, httpErr.StatusCode)
	assert.Contains(t, httpErr.Message, "502")
}

func TestBreachesListAndRegister(t *testing.T) {
	created := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodGet:
			require.Equal(t, "/api/breaches", r.URL.Path)
			assert.Equal(t, "true", r.URL.Query().Get("open"))
			_ = json.NewEncoder(w).Encode([]breach.Event{{ID: "br-1", ClaimID: "claim-1", Severity: breach.SeverityMajor, CreatedAt: created}})
		case http.MethodPost:
			require.Equal(t, "/api/breaches", r.URL.Path)
			var reg api.BreachRegistration
			require.NoError(t, json.NewDecoder(r.Body).Decode(&reg))
			assert.Equal(t, "claim-2", reg.ClaimID)
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(breach.Event{ID: "generated", ClaimID: reg.ClaimID, Severity: reg.Severity, CreatedAt: created})
		}
	}))
	defer server.Close()

	c, err := New(WithServer(server.URL))
	require.NoError(t, err)

	open := true
	events, err := c.Breaches().List(context.Background(), ListOptions{Open: &open})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, created.Equal(events[0].CreatedAt))

	e, err := c.Breaches().Register(context.Background(), api.BreachRegistration{ClaimID: "claim-2", Severity: breach.SeverityCritical})
	require.NoError(t, err)
	assert.Equal(t, "generated", e.ID)
	assert.Equal(t, breach.SeverityCritical, e.Severity)
}

func TestBreachesEscalateAndResolve(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/breaches/br-1/escalate":
			_ = json.NewEncoder(w).Encode(api.EscalationView{
				BreachID: "br-1", PreviousTier: breach.TierNone, Tier: breach.TierAlert, Outcome: "advanced",
				Notifications: []*notification.Record{{ID: "01A", Channel: notification.ChannelEmail}},
			})
		case "/api/breaches/br-1/resolve":
			_ = json.NewEncoder(w).Encode(breach.Event{ID: "br-1", Resolved: true})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	c, err := New(WithServer(server.URL))
	require.NoError(t, err)

	res, err := c.Breaches().Escalate(context.Background(), "br-1")
	require.NoError(t, err)
	assert.Equal(t, breach.TierAlert, res.Tier)
	assert.Equal(t, "advanced", res.Outcome)
	require.Len(t, res.Notifications, 1)

	e, err := c.Breaches().Resolve(context.Background(), "br-1")
	require.NoError(t, err)
	assert.True(t, e.Resolved)
}

func TestServerVersion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/version", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"version":"v1.4.0","gitCommit":"abc123"}`))
	}))
	defer server.Close()

	c, err := New(WithServer(server.URL + "/"))
	require.NoError(t, err)
	info, err := c.ServerVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v1.4.0", info.Version)
	assert.Equal(t, "abc123", info.GitCommit)
}

func TestTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	c, err := New(WithServer(server.URL), WithTimeout(20*time.Millisecond))
	require.NoError(t, err)
	_, err = c.Breaches().List(context.Background(), ListOptions{})
	require.Error(t, err)
}
