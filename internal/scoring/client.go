package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"fairfin/internal/platform/config"
	"fairfin/internal/platform/metrics"
	dErrors "fairfin/pkg/domain-errors"
)

// HTTPClient scores applications against a remote model service. Any failure
// to obtain a well-formed verdict surfaces as a retryable unavailable error;
// the collaborator being down must never turn into a decision.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	tracer  trace.Tracer
	metrics *metrics.Metrics
	logger  *slog.Logger
}

type ClientOption func(*HTTPClient)

func WithMetrics(m *metrics.Metrics) ClientOption {
	return func(c *HTTPClient) {
		c.metrics = m
	}
}

func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *HTTPClient) {
		c.logger = logger
	}
}

func NewHTTPClient(cfg config.ScorerConfig, opts ...ClientOption) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	c := &HTTPClient{
		baseURL: cfg.URL,
		client:  &http.Client{Timeout: timeout},
		tracer:  otel.Tracer("fairfin/scoring"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type scoreRequest struct {
	LoanID   uuid.UUID      `json:"loan_id"`
	Features map[string]any `json:"features"`
}

// Score posts the feature vector to the model service and returns its
// verdict. Timeouts, transport errors, non-200 responses and malformed
// verdicts all map to CodeUnavailable.
func (c *HTTPClient) Score(ctx context.Context, loanID uuid.UUID, features map[string]any) (*Result, error) {
	ctx, span := c.tracer.Start(ctx, "scoring.Score",
		trace.WithAttributes(attribute.String("loan_id", loanID.String())),
	)
	defer span.End()

	start := time.Now()
	result, err := c.score(ctx, loanID, features)
	if c.metrics != nil {
		c.metrics.ScoringLatency.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if c.metrics != nil {
			c.metrics.ScoringFailures.Inc()
		}
		if c.logger != nil {
			c.logger.WarnContext(ctx, "scoring call failed", "loan_id", loanID, "error", err)
		}
		return nil, err
	}
	span.SetAttributes(attribute.String("decision", string(result.Decision)))
	return result, nil
}

func (c *HTTPClient) score(ctx context.Context, loanID uuid.UUID, features map[string]any) (*Result, error) {
	body, err := json.Marshal(scoreRequest{LoanID: loanID, Features: features})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode scoring request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/score", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build scoring request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "scoring service unreachable")
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, dErrors.Newf(dErrors.CodeUnavailable, "scoring service returned status %d", resp.StatusCode)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "malformed scoring response")
	}
	if !result.Decision.Valid() {
		return nil, dErrors.Newf(dErrors.CodeUnavailable, "scoring service returned unknown decision %q", result.Decision)
	}
	return &result, nil
}
