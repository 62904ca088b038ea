package usecase

import (
	"context"
	"time"

	"github.com/totegamma/aswan/internal/domain"
)

// CredentialRepository persists the registry. The registry keeps the
// authoritative in-memory copy and writes through on every mutation.
type CredentialRepository interface {
	Create(ctx context.Context, cred domain.Credential) error
	UpdateStatus(ctx context.Context, id string, status domain.Status) error
	IncrementUsage(ctx context.Context, id string) error
	Rename(ctx context.Context, id, name string) error
	LoadAll(ctx context.Context) ([]domain.Credential, error)
}

// IdempotencyStore records which (credential, subject) pairs already produced a determination.
type IdempotencyStore interface {
	HasResult(ctx context.Context, credentialID, subjectID string) (bool, error)
	RecordResult(ctx context.Context, credentialID, subjectID string, outcome domain.Outcome) error
}

// DecisionEngine performs the document/face match. It returns
// OutcomeVerified or OutcomeNotVerified, or an error treated as transient.
type DecisionEngine interface {
	Decide(ctx context.Context, subjectID string, document, face []byte) (domain.Outcome, error)
}

// UsageNotifier fans out usage events to dashboards.
type UsageNotifier interface {
	PublishUsage(ctx context.Context, event domain.UsageEvent) error
}

// GatewayObserver receives gateway measurements.
type GatewayObserver interface {
	ObserveOutcome(outcome domain.Outcome)
	ObserveDecision(outcome domain.Outcome, elapsed time.Duration)
}
