package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/totegamma/aswan"
	"github.com/totegamma/aswan/internal/domain"
)

type mockStore struct {
	mu      sync.Mutex
	results map[string]domain.Outcome
	err     error

	onRecord func()
}

func newMockStore() *mockStore {
	return &mockStore{results: map[string]domain.Outcome{}}
}

func (m *mockStore) HasResult(ctx context.Context, credentialID, subjectID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	_, ok := m.results[credentialID+"/"+subjectID]
	return ok, nil
}

func (m *mockStore) RecordResult(ctx context.Context, credentialID, subjectID string, outcome domain.Outcome) error {
	if m.onRecord != nil {
		m.onRecord()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.results[credentialID+"/"+subjectID] = outcome
	return nil
}

func (m *mockStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.results)
}

type mockEngine struct {
	mu     sync.Mutex
	calls  int
	result domain.Outcome
	err    error
	block  bool
}

func (m *mockEngine) Decide(ctx context.Context, subjectID string, document, face []byte) (domain.Outcome, error) {
	m.mu.Lock()
	m.calls++
	result, err, block := m.result, m.err, m.block
	m.mu.Unlock()

	if block {
		<-ctx.Done()
		return domain.OutcomeUnknown, ctx.Err()
	}
	return result, err
}

func (m *mockEngine) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockNotifier struct {
	events []domain.UsageEvent
}

func (m *mockNotifier) PublishUsage(ctx context.Context, event domain.UsageEvent) error {
	m.events = append(m.events, event)
	return nil
}

type mockObserver struct {
	outcomes  []domain.Outcome
	decisions int
}

func (m *mockObserver) ObserveOutcome(outcome domain.Outcome) { m.outcomes = append(m.outcomes, outcome) }
func (m *mockObserver) ObserveDecision(outcome domain.Outcome, elapsed time.Duration) {
	m.decisions++
}

type gatewayFixture struct {
	gateway  *VerificationGateway
	registry *CredentialRegistry
	store    *mockStore
	engine   *mockEngine
	cred     domain.Credential
}

func newGatewayFixture(t *testing.T, config domain.Config, opts ...GatewayOption) *gatewayFixture {
	t.Helper()
	registry := NewCredentialRegistry(config, nil)
	cred, err := registry.Issue(context.Background(), "dev-1", "Production Key")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	verifier := NewSignatureVerifier(config.FreshnessWindow)
	store := newMockStore()
	engine := &mockEngine{result: domain.OutcomeVerified}

	return &gatewayFixture{
		gateway:  NewVerificationGateway(config, registry, verifier, store, engine, opts...),
		registry: registry,
		store:    store,
		engine:   engine,
		cred:     cred,
	}
}

func (f *gatewayFixture) attempt(subject string) domain.Attempt {
	ts := time.Now().UTC().Format(time.RFC3339Nano)
	return domain.Attempt{
		SubjectID:       subject,
		CredentialID:    f.cred.ID,
		Timestamp:       ts,
		Signature:       aswan.Sign(f.cred.Secret, subject, ts, f.cred.ID),
		DocumentPayload: []byte("document"),
		FacePayload:     []byte("selfie"),
	}
}

func (f *gatewayFixture) usage(t *testing.T) int64 {
	t.Helper()
	c, err := f.registry.Resolve(context.Background(), f.cred.ID)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	return c.UsageCount
}

func TestGatewayVerifiedThenAlreadyVerified(t *testing.T) {
	notifier := &mockNotifier{}
	observer := &mockObserver{}
	f := newGatewayFixture(t, domain.Config{}, WithUsageNotifier(notifier), WithObserver(observer))
	ctx := context.Background()

	outcome, err := f.gateway.HandleVerify(ctx, f.attempt("user123"))
	if err != nil || outcome != domain.OutcomeVerified {
		t.Fatalf("expected Verified got %s (%v)", outcome, err)
	}
	if f.usage(t) != 1 || f.store.count() != 1 {
		t.Fatalf("expected usage and idempotency record to be written")
	}
	if len(notifier.events) != 1 || notifier.events[0].UsageCount != 1 || notifier.events[0].Owner != "dev-1" {
		t.Fatalf("unexpected usage events %+v", notifier.events)
	}

	outcome, err = f.gateway.HandleVerify(ctx, f.attempt("user123"))
	if err != nil || outcome != domain.OutcomeAlreadyVerified {
		t.Fatalf("expected AlreadyVerified got %s (%v)", outcome, err)
	}
	if f.engine.callCount() != 1 {
		t.Fatalf("decision engine must not be invoked for duplicates")
	}
	if f.usage(t) != 1 {
		t.Fatalf("duplicates must not be charged")
	}

	if len(observer.outcomes) != 2 || observer.decisions != 1 {
		t.Fatalf("unexpected observations %+v", observer)
	}
}

func TestGatewayNotVerifiedIsRecorded(t *testing.T) {
	f := newGatewayFixture(t, domain.Config{})
	f.engine.result = domain.OutcomeNotVerified
	ctx := context.Background()

	outcome, err := f.gateway.HandleVerify(ctx, f.attempt("user123"))
	if err != nil || outcome != domain.OutcomeNotVerified {
		t.Fatalf("expected NotVerified got %s (%v)", outcome, err)
	}
	outcome, _ = f.gateway.HandleVerify(ctx, f.attempt("user123"))
	if outcome != domain.OutcomeAlreadyVerified {
		t.Fatalf("expected AlreadyVerified got %s", outcome)
	}

	outcome, _ = f.gateway.HandleVerify(ctx, f.attempt("user456"))
	if outcome != domain.OutcomeNotVerified {
		t.Fatalf("other subjects must reach the engine, got %s", outcome)
	}
}

func TestGatewayUnknownCredential(t *testing.T) {
	f := newGatewayFixture(t, domain.Config{})
	attempt := f.attempt("user123")
	attempt.CredentialID = "ZZZZ-ZZZZ-ZZZZ-ZZZZ"

	outcome, err := f.gateway.HandleVerify(context.Background(), attempt)
	if outcome != domain.OutcomeInvalidCredential || err == nil {
		t.Fatalf("expected InvalidCredential got %s (%v)", outcome, err)
	}

	attempt.CredentialID = ""
	outcome, _ = f.gateway.HandleVerify(context.Background(), attempt)
	if outcome != domain.OutcomeMissingField {
		t.Fatalf("expected MissingField got %s", outcome)
	}
}

func TestGatewayRejectionsPropagate(t *testing.T) {
	f := newGatewayFixture(t, domain.Config{})
	ctx := context.Background()

	bad := f.attempt("user123")
	bad.Signature = aswan.Sign("wrong", bad.SubjectID, bad.Timestamp, bad.CredentialID)
	if outcome, _ := f.gateway.HandleVerify(ctx, bad); outcome != domain.OutcomeInvalidSignature {
		t.Fatalf("expected InvalidSignature got %s", outcome)
	}

	stale := f.attempt("user123")
	stale.Timestamp = time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	stale.Signature = aswan.Sign(f.cred.Secret, stale.SubjectID, stale.Timestamp, stale.CredentialID)
	if outcome, _ := f.gateway.HandleVerify(ctx, stale); outcome != domain.OutcomeStaleRequest {
		t.Fatalf("expected StaleRequest got %s", outcome)
	}

	_ = f.registry.SetLimited(ctx, f.cred.ID)
	if outcome, _ := f.gateway.HandleVerify(ctx, f.attempt("user123")); outcome != domain.OutcomeRateLimited {
		t.Fatalf("expected RateLimited got %s", outcome)
	}

	_ = f.registry.Revoke(ctx, f.cred.ID)
	if outcome, _ := f.gateway.HandleVerify(ctx, f.attempt("user123")); outcome != domain.OutcomeRevoked {
		t.Fatalf("expected Revoked got %s", outcome)
	}

	if f.engine.callCount() != 0 || f.usage(t) != 0 || f.store.count() != 0 {
		t.Fatalf("rejections must not reach the engine or mutate state")
	}
}

func TestGatewayEngineFailureThenRetry(t *testing.T) {
	f := newGatewayFixture(t, domain.Config{})
	f.engine.err = fmt.Errorf("connection refused")
	ctx := context.Background()
	attempt := f.attempt("user123")

	outcome, err := f.gateway.HandleVerify(ctx, attempt)
	if outcome != domain.OutcomeDecisionEngineUnavailable || !errors.Is(err, domain.ErrDecisionEngine) {
		t.Fatalf("expected DecisionEngineUnavailable got %s (%v)", outcome, err)
	}
	if f.usage(t) != 0 || f.store.count() != 0 {
		t.Fatalf("engine failure must not mutate state")
	}

	f.engine.err = nil
	outcome, err = f.gateway.HandleVerify(ctx, attempt)
	if err != nil || outcome != domain.OutcomeVerified {
		t.Fatalf("retry must proceed as a first attempt, got %s (%v)", outcome, err)
	}
}

func TestGatewayUnexpectedEngineResult(t *testing.T) {
	f := newGatewayFixture(t, domain.Config{})
	f.engine.result = domain.OutcomeAlreadyVerified

	outcome, _ := f.gateway.HandleVerify(context.Background(), f.attempt("user123"))
	if outcome != domain.OutcomeDecisionEngineUnavailable {
		t.Fatalf("expected DecisionEngineUnavailable got %s", outcome)
	}
	if f.store.count() != 0 {
		t.Fatalf("unexpected results must not be recorded")
	}
}

func TestGatewayCancellation(t *testing.T) {
	f := newGatewayFixture(t, domain.Config{})
	f.engine.block = true
	attempt := f.attempt("user123")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	outcome, err := f.gateway.HandleVerify(ctx, attempt)
	if outcome != domain.OutcomeCancelled || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected Cancelled got %s (%v)", outcome, err)
	}
	if f.usage(t) != 0 || f.store.count() != 0 {
		t.Fatalf("cancelled attempt must not mutate state")
	}

	f.engine.mu.Lock()
	f.engine.block = false
	f.engine.mu.Unlock()
	outcome, err = f.gateway.HandleVerify(context.Background(), attempt)
	if err != nil || outcome != domain.OutcomeVerified {
		t.Fatalf("retry after cancel must succeed, got %s (%v)", outcome, err)
	}
}

func TestGatewayCancelDuringRecordCommits(t *testing.T) {
	f := newGatewayFixture(t, domain.Config{})
	attempt := f.attempt("user123")

	ctx, cancel := context.WithCancel(context.Background())
	f.store.onRecord = cancel

	outcome, err := f.gateway.HandleVerify(ctx, attempt)
	if err != nil || outcome != domain.OutcomeVerified {
		t.Fatalf("expected Verified once the record is written, got %s (%v)", outcome, err)
	}
	if f.store.count() != 1 || f.usage(t) != 1 {
		t.Fatalf("record and usage must be committed together, records=%d usage=%d", f.store.count(), f.usage(t))
	}

	f.store.onRecord = nil
	outcome, err = f.gateway.HandleVerify(context.Background(), attempt)
	if err != nil || outcome != domain.OutcomeAlreadyVerified {
		t.Fatalf("expected AlreadyVerified got %s (%v)", outcome, err)
	}
	if f.engine.callCount() != 1 {
		t.Fatalf("engine must be called once, got %d", f.engine.callCount())
	}
}

func TestGatewayDecisionTimeout(t *testing.T) {
	f := newGatewayFixture(t, domain.Config{DecisionTimeout: 20 * time.Millisecond})
	f.engine.block = true

	attempt := f.attempt("user123")
	outcome, err := f.gateway.HandleVerify(context.Background(), attempt)
	if outcome != domain.OutcomeDecisionEngineUnavailable || !errors.Is(err, domain.ErrDecisionEngine) {
		t.Fatalf("expected DecisionEngineUnavailable got %s (%v)", outcome, err)
	}
	if f.usage(t) != 0 || f.store.count() != 0 {
		t.Fatalf("timed out attempt must not mutate state")
	}

	f.engine.mu.Lock()
	f.engine.block = false
	f.engine.mu.Unlock()
	outcome, err = f.gateway.HandleVerify(context.Background(), attempt)
	if err != nil || outcome != domain.OutcomeVerified {
		t.Fatalf("retry after timeout must succeed, got %s (%v)", outcome, err)
	}
}

func TestGatewayCallerDeadlineIsCancelled(t *testing.T) {
	f := newGatewayFixture(t, domain.Config{DecisionTimeout: time.Minute})
	f.engine.block = true

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	outcome, err := f.gateway.HandleVerify(ctx, f.attempt("user123"))
	if outcome != domain.OutcomeCancelled || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected Cancelled got %s (%v)", outcome, err)
	}
	if f.usage(t) != 0 || f.store.count() != 0 {
		t.Fatalf("cancelled attempt must not mutate state")
	}
}

func TestGatewayStoreUnavailable(t *testing.T) {
	f := newGatewayFixture(t, domain.Config{})
	f.store.err = fmt.Errorf("redis down")

	outcome, err := f.gateway.HandleVerify(context.Background(), f.attempt("user123"))
	if outcome != domain.OutcomeIdempotencyStoreUnavailable || !errors.Is(err, domain.ErrIdempotencyStore) {
		t.Fatalf("expected IdempotencyStoreUnavailable got %s (%v)", outcome, err)
	}
	if f.engine.callCount() != 0 || f.usage(t) != 0 {
		t.Fatalf("store failure must stop before the engine")
	}
}

func TestGatewayAbusePolicyLimitsCredential(t *testing.T) {
	policy := NewAbusePolicy(0.0001, 1)
	f := newGatewayFixture(t, domain.Config{}, WithAbusePolicy(policy))
	ctx := context.Background()

	if outcome, _ := f.gateway.HandleVerify(ctx, f.attempt("a")); outcome != domain.OutcomeVerified {
		t.Fatalf("expected Verified got %s", outcome)
	}
	if outcome, _ := f.gateway.HandleVerify(ctx, f.attempt("b")); outcome != domain.OutcomeRateLimited {
		t.Fatalf("expected RateLimited got %s", outcome)
	}
	c, _ := f.registry.Resolve(ctx, f.cred.ID)
	if c.Status != domain.StatusLimited {
		t.Fatalf("expected credential to be Limited, got %s", c.Status)
	}

	if err := f.gateway.ClearLimited(ctx, f.cred.ID); err != nil {
		t.Fatalf("clear limited failed: %v", err)
	}
	if outcome, _ := f.gateway.HandleVerify(ctx, f.attempt("b")); outcome != domain.OutcomeVerified {
		t.Fatalf("expected Verified after clearing, got %s", outcome)
	}
}

func TestGatewayDuplicatesDoNotSpendAbuseBudget(t *testing.T) {
	policy := NewAbusePolicy(0.0001, 2)
	f := newGatewayFixture(t, domain.Config{}, WithAbusePolicy(policy))
	ctx := context.Background()

	attempt := f.attempt("a")
	if outcome, _ := f.gateway.HandleVerify(ctx, attempt); outcome != domain.OutcomeVerified {
		t.Fatalf("expected Verified got %s", outcome)
	}
	for i := 0; i < 5; i++ {
		if outcome, _ := f.gateway.HandleVerify(ctx, attempt); outcome != domain.OutcomeAlreadyVerified {
			t.Fatalf("expected AlreadyVerified got %s", outcome)
		}
	}

	if outcome, _ := f.gateway.HandleVerify(ctx, f.attempt("b")); outcome != domain.OutcomeVerified {
		t.Fatalf("expected Verified for a new subject, got %s", outcome)
	}
	c, _ := f.registry.Resolve(ctx, f.cred.ID)
	if c.Status != domain.StatusActive {
		t.Fatalf("duplicates must not limit the credential, got %s", c.Status)
	}
}
