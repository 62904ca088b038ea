package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"

	"github.com/totegamma/aswan"
	"github.com/totegamma/aswan/internal/domain"
)

var tracer = otel.Tracer("decision")

const defaultTimeout = 10 * time.Second

type decideRequest struct {
	SubjectID string `json:"subject_id"`
	Document  string `json:"document"`
	Selfie    string `json:"selfie"`
}

type decideResponse struct {
	Status string `json:"status"`
}

// DecisionEngineClient calls a remote matching service over HTTP. Consecutive
// failures open the breaker so a dead engine fails fast instead of holding
// every request for the full timeout.
type DecisionEngineClient struct {
	endpoint string
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker
}

type Options struct {
	Timeout          time.Duration
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

func NewDecisionEngineClient(endpoint string, opts Options) *DecisionEngineClient {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = 5
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        "decision-engine",
		MaxRequests: 1,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn(
				"circuit breaker state change",
				slog.String("name", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
				slog.String("module", domain.ModuleDecision),
			)
		},
		IsSuccessful: func(err error) bool {
			// the caller giving up says nothing about engine health
			return err == nil || errors.Is(err, context.Canceled)
		},
	}

	return &DecisionEngineClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: opts.Timeout},
		breaker:  gobreaker.NewCircuitBreaker(settings),
	}
}

func (c *DecisionEngineClient) State() gobreaker.State {
	return c.breaker.State()
}

func (c *DecisionEngineClient) Decide(ctx context.Context, subjectID string, document, face []byte) (domain.Outcome, error) {
	ctx, span := tracer.Start(ctx, "Decision.Gateway.Decide")
	defer span.End()

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.decide(ctx, subjectID, document, face)
	})
	if err != nil {
		span.RecordError(err)
		return domain.OutcomeUnknown, err
	}
	return result.(domain.Outcome), nil
}

func (c *DecisionEngineClient) decide(ctx context.Context, subjectID string, document, face []byte) (domain.Outcome, error) {
	body, err := json.Marshal(decideRequest{
		SubjectID: subjectID,
		Document:  base64.StdEncoding.EncodeToString(document),
		Selfie:    base64.StdEncoding.EncodeToString(face),
	})
	if err != nil {
		return domain.OutcomeUnknown, errors.Wrap(err, "failed to encode decision request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.OutcomeUnknown, errors.Wrap(err, "failed to create decision request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.OutcomeUnknown, errors.Wrap(err, "decision request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.OutcomeUnknown, fmt.Errorf("decision engine returned status %d", resp.StatusCode)
	}

	var decoded decideResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return domain.OutcomeUnknown, errors.Wrap(err, "failed to decode decision response")
	}

	switch decoded.Status {
	case aswan.StatusVerified:
		return domain.OutcomeVerified, nil
	case aswan.StatusNotVerified:
		return domain.OutcomeNotVerified, nil
	default:
		return domain.OutcomeUnknown, fmt.Errorf("decision engine returned unknown status %q", decoded.Status)
	}
}
