package models

// TagRead is the best-effort result of a hardware or QR read.
type TagRead struct {
	CardID     string            `json:"card_id,omitempty"`
	HolderName string            `json:"holder_name,omitempty"`
	RawFields  map[string]string `json:"raw_fields,omitempty"`
	Source     string            `json:"source"`
}

// ScanStatus describes what happened to a scan event.
type ScanStatus string

const (
	ScanCompleted  ScanStatus = "COMPLETED"
	ScanNoCardID   ScanStatus = "NO_CARD_ID"
	ScanTimeout    ScanStatus = "READ_TIMEOUT"
	ScanSuperseded ScanStatus = "SUPERSEDED"
	ScanReadFailed ScanStatus = "READ_FAILED"
)

// QRScanRequest submits a decoded QR payload.
type QRScanRequest struct {
	Payload string `json:"payload" validate:"required,max=4096"`
}

// ScanResult is the end-to-end result of one scan event.
type ScanResult struct {
	Status         ScanStatus           `json:"status"`
	Channel        string               `json:"channel"`
	Read           *TagRead             `json:"read,omitempty"`
	Outcome        *VerificationOutcome `json:"outcome,omitempty"`
	AddedToSession bool                 `json:"added_to_session"`
	Session        *ScanningSession     `json:"session,omitempty"`
	Message        string               `json:"message"`
}

// TagScanRequest carries a tag already decoded by the device reader bridge.
type TagScanRequest struct {
	CardID     string            `json:"card_id" validate:"max=64"`
	HolderName string            `json:"holder_name" validate:"max=256"`
	RawFields  map[string]string `json:"raw_fields"`
}
