package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"

	"github.com/totegamma/aswan/internal/domain"
)

// VerificationGateway is the entry point for inbound verification requests.
// It resolves the credential, authenticates the attempt, enforces idempotency
// and forwards to the decision engine.
type VerificationGateway struct {
	registry *CredentialRegistry
	verifier *SignatureVerifier
	store    IdempotencyStore
	engine   DecisionEngine
	timeout  time.Duration

	policy   *AbusePolicy
	notifier UsageNotifier
	observer GatewayObserver
	now      func() time.Time
}

const commitTimeout = 5 * time.Second

type GatewayOption func(*VerificationGateway)

func WithAbusePolicy(policy *AbusePolicy) GatewayOption {
	return func(g *VerificationGateway) {
		g.policy = policy
	}
}

func WithUsageNotifier(notifier UsageNotifier) GatewayOption {
	return func(g *VerificationGateway) {
		g.notifier = notifier
	}
}

func WithObserver(observer GatewayObserver) GatewayOption {
	return func(g *VerificationGateway) {
		g.observer = observer
	}
}

func NewVerificationGateway(
	config domain.Config,
	registry *CredentialRegistry,
	verifier *SignatureVerifier,
	store IdempotencyStore,
	engine DecisionEngine,
	opts ...GatewayOption,
) *VerificationGateway {
	g := &VerificationGateway{
		registry: registry,
		verifier: verifier,
		store:    store,
		engine:   engine,
		timeout:  config.DecisionTimeout,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// HandleVerify evaluates one attempt. The error is nil for determinations and
// for AlreadyVerified; otherwise it carries the cause of the rejection.
func (g *VerificationGateway) HandleVerify(ctx context.Context, attempt domain.Attempt) (domain.Outcome, error) {
	ctx, span := tracer.Start(ctx, "Gateway.Usecase.HandleVerify")
	defer span.End()

	span.SetAttributes(attribute.String("CredentialId", attempt.CredentialID))

	outcome, err := g.handle(ctx, attempt)

	span.SetAttributes(attribute.String("Outcome", outcome.String()))
	if g.observer != nil {
		g.observer.ObserveOutcome(outcome)
	}

	if err != nil {
		span.RecordError(err)
		level := slog.LevelInfo
		if outcome.IsTransient() {
			level = slog.LevelError
		}
		slog.Log(
			ctx, level, "verification rejected",
			slog.String("credentialId", attempt.CredentialID),
			slog.String("outcome", outcome.String()),
			slog.String("error", err.Error()),
			slog.String("module", domain.ModuleGateway),
		)
	}

	return outcome, err
}

func (g *VerificationGateway) handle(ctx context.Context, attempt domain.Attempt) (domain.Outcome, error) {
	if attempt.CredentialID == "" {
		return domain.OutcomeMissingField, errors.Wrap(domain.ErrMissingField, "credentialId")
	}

	// Unknown keys are reported like malformed ones so the registry cannot be enumerated.
	cred, err := g.registry.Resolve(ctx, attempt.CredentialID)
	if err != nil {
		return domain.OutcomeInvalidCredential, errors.Wrap(err, "Gateway.handle: registry.Resolve failed")
	}

	if err := g.verifier.Verify(attempt, cred); err != nil {
		return domain.Classify(err), err
	}

	// The caller's ctx decides Cancelled; the gateway's own deadline only bounds the collaborators.
	parent := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	done, err := g.store.HasResult(ctx, cred.ID, attempt.SubjectID)
	if err != nil {
		return g.fault(parent, domain.ErrIdempotencyStore, err)
	}
	if done {
		return domain.OutcomeAlreadyVerified, nil
	}

	// Duplicates are answered above and do not spend abuse budget.
	if !g.policy.Allow(cred.ID) {
		if err := g.registry.SetLimited(parent, cred.ID); err != nil {
			slog.ErrorContext(
				ctx, "failed to limit credential",
				slog.String("credentialId", cred.ID),
				slog.String("error", err.Error()),
				slog.String("module", domain.ModuleGateway),
			)
		}
		return domain.OutcomeRateLimited, domain.ErrCredentialLimited
	}

	start := g.now()
	result, err := g.engine.Decide(ctx, attempt.SubjectID, attempt.DocumentPayload, attempt.FacePayload)
	if g.observer != nil {
		g.observer.ObserveDecision(result, g.now().Sub(start))
	}
	if err != nil {
		return g.fault(parent, domain.ErrDecisionEngine, err)
	}
	if !result.IsDetermination() {
		return domain.OutcomeDecisionEngineUnavailable, fmt.Errorf("%w: unexpected result %s", domain.ErrDecisionEngine, result)
	}

	// Nothing has been written yet, so a cancellation here still leaves no trace.
	if err := parent.Err(); err != nil {
		return domain.OutcomeCancelled, err
	}

	// Past this point the write and the usage increment happen together or the
	// attempt fails as a store fault; caller cancellation no longer interrupts them.
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()

	if err := g.store.RecordResult(commitCtx, cred.ID, attempt.SubjectID, result); err != nil {
		wrapped := fmt.Errorf("%w: %v", domain.ErrIdempotencyStore, err)
		return domain.Classify(wrapped), wrapped
	}

	count, err := g.registry.RecordUsage(commitCtx, cred.ID)
	if err != nil {
		slog.ErrorContext(
			ctx, "failed to record usage",
			slog.String("credentialId", cred.ID),
			slog.String("error", err.Error()),
			slog.String("module", domain.ModuleGateway),
		)
	} else if g.notifier != nil {
		event := domain.UsageEvent{
			CredentialID: cred.ID,
			Owner:        cred.Owner,
			Outcome:      result,
			UsageCount:   count,
			Timestamp:    g.now().UTC(),
		}
		if err := g.notifier.PublishUsage(commitCtx, event); err != nil {
			slog.WarnContext(
				ctx, "failed to publish usage event",
				slog.String("credentialId", cred.ID),
				slog.String("error", err.Error()),
				slog.String("module", domain.ModuleGateway),
			)
		}
	}

	return result, nil
}

// fault packages a collaborator failure. Cancellation of the caller's ctx wins
// over the collaborator's own error; the gateway's own timeout is a fault of kind.
func (g *VerificationGateway) fault(ctx context.Context, kind error, err error) (domain.Outcome, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(err, ctxErr) {
			return domain.OutcomeCancelled, errors.Wrap(err, "Gateway.fault")
		}
		return domain.OutcomeCancelled, errors.Wrapf(ctxErr, "Gateway.fault: %v", err)
	}
	wrapped := fmt.Errorf("%w: %v", kind, err)
	return domain.Classify(wrapped), wrapped
}

// ClearLimited reinstates a Limited credential and refills its abuse bucket.
func (g *VerificationGateway) ClearLimited(ctx context.Context, id string) error {
	if err := g.registry.ClearLimited(ctx, id); err != nil {
		return err
	}
	g.policy.Reset(id)
	return nil
}
