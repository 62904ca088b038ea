package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/totegamma/aswan/internal/domain"
)

func TestMetrics(t *testing.T) {
	m := New(func() domain.CredentialStats {
		return domain.CredentialStats{Total: 6, Active: 3, Limited: 2, Revoked: 1}
	})

	m.ObserveOutcome(domain.OutcomeVerified)
	m.ObserveOutcome(domain.OutcomeVerified)
	m.ObserveOutcome(domain.OutcomeStaleRequest)
	m.ObserveDecision(domain.OutcomeVerified, 300*time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.outcomes.WithLabelValues("VERIFIED")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.outcomes.WithLabelValues("STALE_REQUEST")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `aswan_registry_credentials{status="Limited"} 2`)
	assert.Contains(t, string(body), `aswan_gateway_decision_duration_seconds_count{outcome="VERIFIED"} 1`)
}
