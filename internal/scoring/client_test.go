package scoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fairfin/internal/platform/config"
	dErrors "fairfin/pkg/domain-errors"
)

func testFeatures() map[string]any {
	return map[string]any{
		"Annual_Income":      85000.0,
		"Credit_Score":       710.0,
		"Loan_Amount":        25000.0,
		"Loan_Tenure_Months": 36.0,
	}
}

func newTestClient(baseURL string, timeout time.Duration) *HTTPClient {
	return NewHTTPClient(config.ScorerConfig{URL: baseURL, Timeout: timeout})
}

func TestScoreApproved(t *testing.T) {
	loanID := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/score", r.URL.Path)

		var req scoreRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, loanID, req.LoanID)
		assert.Equal(t, 710.0, req.Features["Credit_Score"])

		json.NewEncoder(w).Encode(Result{
			Decision: DecisionApproved,
			Attributions: map[string]float64{
				"Credit_Score":  0.42,
				"Annual_Income": 0.17,
			},
		})
	}))
	defer srv.Close()

	result, err := newTestClient(srv.URL, time.Second).Score(context.Background(), loanID, testFeatures())
	require.NoError(t, err)
	assert.Equal(t, DecisionApproved, result.Decision)
	assert.InDelta(t, 0.42, result.Attributions["Credit_Score"], 1e-9)
}

func TestScoreServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, time.Second).Score(context.Background(), uuid.New(), testFeatures())
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnavailable))
	assert.True(t, dErrors.Retryable(err))
}

func TestScoreTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 20*time.Millisecond).Score(context.Background(), uuid.New(), testFeatures())
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnavailable))
}

func TestScoreUnreachable(t *testing.T) {
	// Port 1 is never listening.
	_, err := newTestClient("http://127.0.0.1:1", time.Second).Score(context.Background(), uuid.New(), testFeatures())
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnavailable))
}

func TestScoreMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{not json"))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, time.Second).Score(context.Background(), uuid.New(), testFeatures())
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnavailable))
}

func TestScoreUnknownDecision(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"decision": "maybe"})
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, time.Second).Score(context.Background(), uuid.New(), testFeatures())
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnavailable))
}
