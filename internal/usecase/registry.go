package usecase

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/totegamma/aswan/internal/domain"
)

var tracer = otel.Tracer("usecase")

const (
	defaultMaxNameLength = 64
	keyIDAlphabet        = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	keyIDSegments        = 4
	keyIDSegmentLength   = 4
	secretBytes          = 32
	secretPrefix         = "sk_"
	maxIDAttempts        = 8
)

type entry struct {
	mu   sync.Mutex
	cred domain.Credential
	seq  uint64
}

func (e *entry) snapshot() domain.Credential {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cred
}

// CredentialRegistry owns every issued credential. The map is guarded by mu;
// each record is guarded by its own entry lock so unrelated credentials never
// contend on usage accounting or status changes.
type CredentialRegistry struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	reserved map[string]struct{}
	seq      uint64

	repo    CredentialRepository
	maxName int
	now     func() time.Time
}

// NewCredentialRegistry creates an empty registry. repo may be nil for a
// process-local registry.
func NewCredentialRegistry(config domain.Config, repo CredentialRepository) *CredentialRegistry {
	maxName := config.MaxNameLength
	if maxName <= 0 {
		maxName = defaultMaxNameLength
	}
	return &CredentialRegistry{
		entries:  make(map[string]*entry),
		reserved: make(map[string]struct{}),
		repo:     repo,
		maxName:  maxName,
		now:      time.Now,
	}
}

// Load fills the registry from the repository. It is meant to run once at startup.
func (r *CredentialRegistry) Load(ctx context.Context) error {
	if r.repo == nil {
		return nil
	}
	creds, err := r.repo.LoadAll(ctx)
	if err != nil {
		return errors.Wrap(err, "CredentialRegistry.Load: repo.LoadAll failed")
	}

	sort.SliceStable(creds, func(i, j int) bool {
		return creds[i].CreatedAt.Before(creds[j].CreatedAt)
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cred := range creds {
		r.seq++
		r.entries[cred.ID] = &entry{cred: cred, seq: r.seq}
	}

	slog.InfoContext(
		ctx, "credential registry loaded",
		slog.Int("count", len(creds)),
		slog.String("module", domain.ModuleRegistry),
	)
	return nil
}

func (r *CredentialRegistry) validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.Wrap(domain.ErrInvalidName, "name is empty")
	}
	if utf8.RuneCountInString(name) > r.maxName {
		return "", errors.Wrap(domain.ErrInvalidName, fmt.Sprintf("name exceeds %d characters", r.maxName))
	}
	return name, nil
}

// Issue mints a new Active credential owned by owner.
func (r *CredentialRegistry) Issue(ctx context.Context, owner, displayName string) (domain.Credential, error) {
	ctx, span := tracer.Start(ctx, "Registry.Usecase.Issue")
	defer span.End()

	name, err := r.validateName(displayName)
	if err != nil {
		span.RecordError(err)
		return domain.Credential{}, err
	}

	secret, err := newSecret()
	if err != nil {
		span.RecordError(err)
		return domain.Credential{}, err
	}

	id, err := r.reserveID()
	if err != nil {
		span.RecordError(err)
		return domain.Credential{}, err
	}

	cred := domain.Credential{
		ID:          id,
		Owner:       owner,
		DisplayName: name,
		Secret:      secret,
		Status:      domain.StatusActive,
		UsageCount:  0,
		CreatedAt:   r.now().UTC(),
	}

	if r.repo != nil {
		err = r.repo.Create(ctx, cred)
	}

	r.mu.Lock()
	delete(r.reserved, id)
	if err == nil {
		r.seq++
		r.entries[id] = &entry{cred: cred, seq: r.seq}
	}
	r.mu.Unlock()

	if err != nil {
		err = errors.Wrap(err, "CredentialRegistry.Issue: repo.Create failed")
		span.RecordError(err)
		return domain.Credential{}, err
	}

	span.SetAttributes(attribute.String("CredentialId", id))
	slog.InfoContext(
		ctx, "credential issued",
		slog.String("credentialId", id),
		slog.String("owner", owner),
		slog.String("module", domain.ModuleRegistry),
	)
	return cred, nil
}

// reserveID picks an id that has never been used by this registry and holds it
// until the caller inserts or releases it.
func (r *CredentialRegistry) reserveID() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := 0; i < maxIDAttempts; i++ {
		id, err := newKeyID()
		if err != nil {
			return "", err
		}
		if _, ok := r.entries[id]; ok {
			continue
		}
		if _, ok := r.reserved[id]; ok {
			continue
		}
		r.reserved[id] = struct{}{}
		return id, nil
	}
	return "", fmt.Errorf("could not allocate a unique credential id after %d attempts", maxIDAttempts)
}

func (r *CredentialRegistry) lookup(id string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, domain.NotFoundError{Resource: "credential"}
	}
	return e, nil
}

// Resolve returns the full record, secret included. It must never be used to
// build an external response.
func (r *CredentialRegistry) Resolve(ctx context.Context, id string) (domain.Credential, error) {
	e, err := r.lookup(id)
	if err != nil {
		return domain.Credential{}, err
	}
	return e.snapshot(), nil
}

// transition moves a credential to next under its entry lock. Moves that do not
// change the status are no-ops and skip persistence.
func (r *CredentialRegistry) transition(ctx context.Context, id string, next func(domain.Status) domain.Status) (domain.Credential, error) {
	e, err := r.lookup(id)
	if err != nil {
		return domain.Credential{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	target, err := e.cred.Status.Transition(next(e.cred.Status))
	if err != nil {
		return e.cred, err
	}
	if target == e.cred.Status {
		return e.cred, nil
	}

	if r.repo != nil {
		if err := r.repo.UpdateStatus(ctx, id, target); err != nil {
			return e.cred, errors.Wrap(err, "CredentialRegistry.transition: repo.UpdateStatus failed")
		}
	}
	e.cred.Status = target
	return e.cred, nil
}

// Revoke moves the credential to Revoked. Revoking twice is a no-op.
func (r *CredentialRegistry) Revoke(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "Registry.Usecase.Revoke")
	defer span.End()

	_, err := r.transition(ctx, id, func(domain.Status) domain.Status {
		return domain.StatusRevoked
	})
	if err != nil {
		span.RecordError(err)
		return err
	}

	slog.InfoContext(
		ctx, "credential revoked",
		slog.String("credentialId", id),
		slog.String("module", domain.ModuleRegistry),
	)
	return nil
}

// SetLimited moves an Active credential to Limited. Revoked credentials are left alone.
func (r *CredentialRegistry) SetLimited(ctx context.Context, id string) error {
	_, err := r.transition(ctx, id, func(s domain.Status) domain.Status {
		if s == domain.StatusActive {
			return domain.StatusLimited
		}
		return s
	})
	return err
}

// ClearLimited moves a Limited credential back to Active. Revoked credentials are left alone.
func (r *CredentialRegistry) ClearLimited(ctx context.Context, id string) error {
	_, err := r.transition(ctx, id, func(s domain.Status) domain.Status {
		if s == domain.StatusLimited {
			return domain.StatusActive
		}
		return s
	})
	return err
}

// Rename changes the display name of a non-revoked credential.
func (r *CredentialRegistry) Rename(ctx context.Context, id, displayName string) (domain.Credential, error) {
	name, err := r.validateName(displayName)
	if err != nil {
		return domain.Credential{}, err
	}

	e, err := r.lookup(id)
	if err != nil {
		return domain.Credential{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cred.Status == domain.StatusRevoked {
		return e.cred, domain.ErrCredentialRevoked
	}
	if r.repo != nil {
		if err := r.repo.Rename(ctx, id, name); err != nil {
			return e.cred, errors.Wrap(err, "CredentialRegistry.Rename: repo.Rename failed")
		}
	}
	e.cred.DisplayName = name
	return e.cred, nil
}

// RecordUsage increments the usage counter and returns the new value.
// Revoked credentials are never charged.
func (r *CredentialRegistry) RecordUsage(ctx context.Context, id string) (int64, error) {
	e, err := r.lookup(id)
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cred.Status == domain.StatusRevoked {
		return e.cred.UsageCount, domain.ErrCredentialRevoked
	}
	if r.repo != nil {
		if err := r.repo.IncrementUsage(ctx, id); err != nil {
			return e.cred.UsageCount, errors.Wrap(err, "CredentialRegistry.RecordUsage: repo.IncrementUsage failed")
		}
	}
	e.cred.UsageCount++
	return e.cred.UsageCount, nil
}

type snapshotEntry struct {
	cred domain.Credential
	seq  uint64
}

// snapshots copies every record and orders them by createdAt, breaking ties by
// insertion order so listings are stable across calls.
func (r *CredentialRegistry) snapshots() []snapshotEntry {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	list := make([]snapshotEntry, 0, len(entries))
	for _, e := range entries {
		list = append(list, snapshotEntry{cred: e.snapshot(), seq: e.seq})
	}

	sort.Slice(list, func(i, j int) bool {
		if !list[i].cred.CreatedAt.Equal(list[j].cred.CreatedAt) {
			return list[i].cred.CreatedAt.Before(list[j].cred.CreatedAt)
		}
		return list[i].seq < list[j].seq
	})
	return list
}

// List returns every credential with the secret redacted, oldest first.
func (r *CredentialRegistry) List(ctx context.Context) []domain.PublicCredential {
	return r.ListByOwner(ctx, "")
}

// ListByOwner is List restricted to one developer account. An empty owner matches all.
func (r *CredentialRegistry) ListByOwner(ctx context.Context, owner string) []domain.PublicCredential {
	list := r.snapshots()
	result := make([]domain.PublicCredential, 0, len(list))
	for _, s := range list {
		if owner != "" && s.cred.Owner != owner {
			continue
		}
		result = append(result, s.cred.Public())
	}
	return result
}

// Stats aggregates status counts and usage for owner (empty owner = everyone).
func (r *CredentialRegistry) Stats(ctx context.Context, owner string) domain.CredentialStats {
	var stats domain.CredentialStats
	for _, cred := range r.ListByOwner(ctx, owner) {
		stats.Total++
		stats.TotalUsage += cred.UsageCount
		switch cred.Status {
		case domain.StatusActive:
			stats.Active++
		case domain.StatusLimited:
			stats.Limited++
		case domain.StatusRevoked:
			stats.Revoked++
		}
	}
	return stats
}

func newSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "failed to read random secret")
	}
	return secretPrefix + hex.EncodeToString(buf), nil
}

// newKeyID renders XXXX-XXXX-XXXX-XXXX from crypto/rand. Bytes at or above the
// largest multiple of the alphabet size are discarded to keep the draw uniform.
func newKeyID() (string, error) {
	const n = len(keyIDAlphabet)
	const limit = 256 - (256 % n)

	out := make([]byte, 0, keyIDSegments*(keyIDSegmentLength+1))
	buf := make([]byte, 32)
	count := 0
	for count < keyIDSegments*keyIDSegmentLength {
		if _, err := rand.Read(buf); err != nil {
			return "", errors.Wrap(err, "failed to read random id")
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			if count > 0 && count%keyIDSegmentLength == 0 {
				out = append(out, '-')
			}
			out = append(out, keyIDAlphabet[int(b)%n])
			count++
			if count == keyIDSegments*keyIDSegmentLength {
				break
			}
		}
	}
	return string(out), nil
}
