package domain

import "time"

// Credential is an issued API key. Secret never leaves the process except in the
// issuance response; use Public for anything listed or logged.
type Credential struct {
	ID          string
	Owner       string
	DisplayName string
	Secret      string
	Status      Status
	UsageCount  int64
	CreatedAt   time.Time
}

// PublicCredential is the externally observable view of a Credential.
type PublicCredential struct {
	ID          string    `json:"id"`
	Owner       string    `json:"owner,omitempty"`
	DisplayName string    `json:"name"`
	Status      Status    `json:"status"`
	UsageCount  int64     `json:"requests"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (c Credential) Public() PublicCredential {
	return PublicCredential{
		ID:          c.ID,
		Owner:       c.Owner,
		DisplayName: c.DisplayName,
		Status:      c.Status,
		UsageCount:  c.UsageCount,
		CreatedAt:   c.CreatedAt,
	}
}

// CredentialStats summarizes a set of credentials for the dashboard.
type CredentialStats struct {
	Total      int   `json:"total"`
	Active     int   `json:"active"`
	Limited    int   `json:"limited"`
	Revoked    int   `json:"revoked"`
	TotalUsage int64 `json:"totalRequests"`
}

// UsageEvent is published every time a credential is charged for a verification.
type UsageEvent struct {
	CredentialID string    `json:"credentialId"`
	Owner        string    `json:"owner"`
	Outcome      Outcome   `json:"outcome"`
	UsageCount   int64     `json:"requests"`
	Timestamp    time.Time `json:"timestamp"`
}
