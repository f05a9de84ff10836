package models

// VerificationStatus discriminates verification outcomes.
type VerificationStatus string

const (
	VerificationVerified        VerificationStatus = "VERIFIED"
	VerificationAlreadyVerified VerificationStatus = "ALREADY_VERIFIED"
	VerificationNotFound        VerificationStatus = "NOT_FOUND_IN_BATCH"
	VerificationFailed          VerificationStatus = "VERIFICATION_ERROR"
)

// FailureKind classifies why an operation did not succeed.
type FailureKind string

const (
	FailureNone              FailureKind = ""
	FailureNotFound          FailureKind = "NOT_FOUND"
	FailureTransientIO       FailureKind = "TRANSIENT_IO"
	FailureTimeout           FailureKind = "TIMEOUT"
	FailureMalformedResponse FailureKind = "MALFORMED_RESPONSE"
	FailureRejected          FailureKind = "REJECTED"
)

// VerifyRequest is a scanned card checked against a target batch.
type VerifyRequest struct {
	CardID      string            `json:"card_id" validate:"required,max=64"`
	TargetBatch string            `json:"target_batch" validate:"required,max=128"`
	BatchNumber string            `json:"batch_number" validate:"max=32"`
	HolderName  string            `json:"holder_name" validate:"max=256"`
	Extra       map[string]string `json:"extra"`

	OperatorID string `json:"-"`
	DeviceID   string `json:"-"`
	SessionID  string `json:"-"`
}

// VerificationOutcome is the result of a single verification.
type VerificationOutcome struct {
	Status        VerificationStatus  `json:"status"`
	Kind          FailureKind         `json:"kind,omitempty"`
	CardID        string              `json:"card_id"`
	TargetBatch   string              `json:"target_batch"`
	BatchName     string              `json:"batch_name,omitempty"`
	InTargetBatch bool                `json:"in_target_batch"`
	Record        *VerifiedCardRecord `json:"record,omitempty"`
	Message       string              `json:"message"`
}

// Success reports whether the card counts as verified.
func (o VerificationOutcome) Success() bool {
	return o.Status == VerificationVerified || o.Status == VerificationAlreadyVerified
}

// EnquiryOutcome is the read-only, cross-batch view of a card.
type EnquiryOutcome struct {
	CardID     string      `json:"card_id"`
	Exists     bool        `json:"exists"`
	BatchName  string      `json:"batch_name,omitempty"`
	IsVerified bool        `json:"is_verified"`
	Message    string      `json:"message"`
	Kind       FailureKind `json:"kind,omitempty"`
}

// LocationSource names where a card location was found.
type LocationSource string

const (
	LocationLocal         LocationSource = "LOCAL_STORE"
	LocationRemoteBatch   LocationSource = "REMOTE_BATCH"
	LocationRemoteEnquiry LocationSource = "REMOTE_ENQUIRY"
)

// LocationResult tells the operator which batch a card belongs to.
type LocationResult struct {
	CardID      string         `json:"card_id"`
	BatchNumber string         `json:"batch_number,omitempty"`
	BatchName   string         `json:"batch_name"`
	IsVerified  bool           `json:"is_verified"`
	Source      LocationSource `json:"source"`
}

// RemoteVerifyRequest is posted to the remote card verification endpoint.
type RemoteVerifyRequest struct {
	CardID         string            `json:"cardId"`
	BatchNumber    string            `json:"batchNumber,omitempty"`
	HolderName     string            `json:"holderName,omitempty"`
	AdditionalData map[string]string `json:"additionalData,omitempty"`
}

// RemoteVerifyResponse is returned by the remote verification endpoint.
type RemoteVerifyResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	IsVerified bool   `json:"isVerified"`
	BatchName  string `json:"batchName,omitempty"`
}

// RemoteEnquiryResponse is returned by the remote enquiry endpoint.
type RemoteEnquiryResponse struct {
	Exists     bool   `json:"exists"`
	Message    string `json:"message"`
	IsVerified bool   `json:"isVerified"`
	BatchName  string `json:"batchName,omitempty"`
}

// VerificationEvent is published after a first-time verification.
type VerificationEvent struct {
	EventID    string `json:"event_id"`
	CardID     string `json:"card_id"`
	BatchName  string `json:"batch_name"`
	HolderName string `json:"holder_name,omitempty"`
	VerifiedAt string `json:"verified_at"`
	OperatorID string `json:"operator_id,omitempty"`
	DeviceID   string `json:"device_id,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
}
