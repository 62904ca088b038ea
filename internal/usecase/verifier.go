package usecase

import (
	"time"

	"github.com/pkg/errors"

	"github.com/totegamma/aswan"
	"github.com/totegamma/aswan/internal/domain"
)

const DefaultFreshnessWindow = 5 * time.Minute

// SignatureVerifier authenticates an attempt against a resolved credential.
// It proves identity and freshness only; the verdict comes from the decision engine.
type SignatureVerifier struct {
	window time.Duration
	now    func() time.Time
}

func NewSignatureVerifier(window time.Duration) *SignatureVerifier {
	if window <= 0 {
		window = DefaultFreshnessWindow
	}
	return &SignatureVerifier{
		window: window,
		now:    time.Now,
	}
}

// Verify returns nil when the attempt is authenticated. The checks run in a fixed
// order: fields, revocation, limiting, signature, timestamp.
func (v *SignatureVerifier) Verify(attempt domain.Attempt, cred domain.Credential) error {
	if err := checkFields(attempt); err != nil {
		return err
	}

	switch cred.Status {
	case domain.StatusRevoked:
		return domain.ErrCredentialRevoked
	case domain.StatusLimited:
		return domain.ErrCredentialLimited
	}

	expected := aswan.Sign(cred.Secret, attempt.SubjectID, attempt.Timestamp, attempt.CredentialID)
	if !aswan.CheckSignature(expected, attempt.Signature) {
		return domain.ErrInvalidSignature
	}

	ts, err := time.Parse(time.RFC3339Nano, attempt.Timestamp)
	if err != nil {
		return errors.Wrap(domain.ErrInvalidTimestamp, err.Error())
	}

	now := v.now()
	if ts.Before(now.Add(-v.window)) || ts.After(now.Add(v.window)) {
		return errors.Wrap(domain.ErrStaleRequest, ts.Format(time.RFC3339))
	}

	return nil
}

func checkFields(attempt domain.Attempt) error {
	switch {
	case attempt.SubjectID == "":
		return errors.Wrap(domain.ErrMissingField, "subjectId")
	case len(attempt.DocumentPayload) == 0:
		return errors.Wrap(domain.ErrMissingField, "documentPayload")
	case len(attempt.FacePayload) == 0:
		return errors.Wrap(domain.ErrMissingField, "facePayload")
	case attempt.CredentialID == "":
		return errors.Wrap(domain.ErrMissingField, "credentialId")
	case attempt.Signature == "":
		return errors.Wrap(domain.ErrMissingField, "signature")
	case attempt.Timestamp == "":
		return errors.Wrap(domain.ErrMissingField, "timestamp")
	}
	return nil
}
