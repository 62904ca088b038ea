package aswan

const (
	HeaderAPIKey       = "X-API-Key"
	HeaderSignature    = "X-Signature"
	HeaderTimestamp    = "X-Timestamp"
	HeaderDocumentBlob = "X-Document-Blob"
	HeaderSelfieBlob   = "X-Selfie-Blob"
)

const (
	StatusVerified    = "VERIFIED"
	StatusNotVerified = "NOT_VERIFIED"

	CodeAlreadyVerified = "ALREADY_VERIFIED"
)

// VerifyRequest is the JSON body of POST /verify. Document and Selfie are only
// read when the corresponding blob header is absent.
type VerifyRequest struct {
	UserID   string `json:"user_id"`
	Document string `json:"document,omitempty"`
	Selfie   string `json:"selfie,omitempty"`
}

// VerifyResponse is returned when the decision engine produced a determination.
type VerifyResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is returned for every rejection.
type ErrorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

type Endpoint struct {
	Template string    `json:"template"`
	Method   string    `json:"method"`
	Headers  *[]string `json:"headers,omitempty"`
}

type WellKnownAswan struct {
	Version   string              `json:"version"`
	Domain    string              `json:"domain"`
	Endpoints map[string]Endpoint `json:"endpoints"`
}
