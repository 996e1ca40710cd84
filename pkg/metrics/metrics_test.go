package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestEscalationMetricsExistAndIncrement(t *testing.T) {
	// Use a test label to avoid colliding with other tests
	tier := "test-tier"

	Escalations.WithLabelValues(tier, "advanced").Inc()
	if v := testutil.ToFloat64(Escalations.WithLabelValues(tier, "advanced")); v < 1 {
		t.Fatalf("expected Escalations >= 1, got %v", v)
	}

	NotificationsDispatched.WithLabelValues("test-channel", "sent").Add(2)
	if v := testutil.ToFloat64(NotificationsDispatched.WithLabelValues("test-channel", "sent")); v < 2 {
		t.Fatalf("expected NotificationsDispatched >= 2, got %v", v)
	}

	OpenBreaches.Set(7)
	if v := testutil.ToFloat64(OpenBreaches); v != 7 {
		t.Fatalf("expected OpenBreaches == 7, got %v", v)
	}
}

func TestStatusUpdatesLabelCardinality(t *testing.T) {
	StatusUpdates.Reset()
	defer StatusUpdates.Reset()
	labels := []string{"delivered", "applied"}
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("StatusUpdates panicked with labels %v: %v", labels, r)
		}
	}()

	StatusUpdates.WithLabelValues(labels...).Inc()
	if v := testutil.ToFloat64(StatusUpdates.WithLabelValues(labels...)); v != 1 {
		t.Fatalf("expected metric value 1 after increment, got %v", v)
	}
}

func TestMetricsHandlerExposesRegisteredMetrics(t *testing.T) {
	DispatchRetries.WithLabelValues("email").Inc()

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "sla_dispatch_retries_total") {
		t.Fatalf("expected sla_dispatch_retries_total in output")
	}
}
