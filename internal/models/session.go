package models

import (
	"strings"
	"time"
)

// SessionState tracks the scanning session lifecycle.
type SessionState string

const (
	SessionNotStarted SessionState = "NOT_STARTED"
	SessionActive     SessionState = "ACTIVE"
	SessionSubmitted  SessionState = "SUBMITTED"
	SessionEnded      SessionState = "ENDED"
)

// Terminal reports whether no further mutation is allowed.
func (s SessionState) Terminal() bool {
	return s == SessionSubmitted || s == SessionEnded
}

// SubmittedCardData is one scan inside a session.
type SubmittedCardData struct {
	CardID   string `json:"cardId"`
	ScanTime string `json:"scanTime"`
}

// ScanningSession is an immutable snapshot of an operator's work interval.
// Mutators return a new snapshot and never touch the receiver's slice.
type ScanningSession struct {
	SessionID       string              `json:"session_id"`
	BatchNumber     string              `json:"batch_number"`
	BatchName       string              `json:"batch_name"`
	StartTime       time.Time           `json:"start_time"`
	DeviceID        string              `json:"device_id"`
	OperatorID      string              `json:"operator_id"`
	ScannedCards    []SubmittedCardData `json:"scanned_cards"`
	State           SessionState        `json:"state"`
	RemoteSessionID string              `json:"remote_session_id,omitempty"`
}

// WithCard returns a snapshot with card appended.
func (s ScanningSession) WithCard(card SubmittedCardData) ScanningSession {
	cards := make([]SubmittedCardData, len(s.ScannedCards), len(s.ScannedCards)+1)
	copy(cards, s.ScannedCards)
	s.ScannedCards = append(cards, card)
	return s
}

// WithoutCard returns a snapshot without the first entry matching cardID.
func (s ScanningSession) WithoutCard(cardID string) (ScanningSession, bool) {
	idx := s.indexOf(cardID)
	if idx < 0 {
		return s, false
	}
	cards := make([]SubmittedCardData, 0, len(s.ScannedCards)-1)
	cards = append(cards, s.ScannedCards[:idx]...)
	cards = append(cards, s.ScannedCards[idx+1:]...)
	s.ScannedCards = cards
	return s, true
}

// WithState returns a snapshot in the given state.
func (s ScanningSession) WithState(state SessionState) ScanningSession {
	s.State = state
	return s
}

// Contains reports whether cardID was already scanned, ignoring case.
func (s ScanningSession) Contains(cardID string) bool {
	return s.indexOf(cardID) >= 0
}

// Cards returns a copy of the scans in scan order.
func (s ScanningSession) Cards() []SubmittedCardData {
	cards := make([]SubmittedCardData, len(s.ScannedCards))
	copy(cards, s.ScannedCards)
	return cards
}

func (s ScanningSession) indexOf(cardID string) int {
	needle := strings.TrimSpace(cardID)
	for i, card := range s.ScannedCards {
		if strings.EqualFold(strings.TrimSpace(card.CardID), needle) {
			return i
		}
	}
	return -1
}

// StartSessionRequest opens a session against a batch.
type StartSessionRequest struct {
	BatchNumber string `json:"batch_number" validate:"required,max=32"`
	BatchName   string `json:"batch_name" validate:"max=128"`
}

// AddScanRequest records a scan manually.
type AddScanRequest struct {
	CardID   string `json:"card_id" validate:"required,max=64"`
	ScanTime string `json:"scan_time"`
}

// SubmitSessionRequest carries the operator's closing details.
type SubmitSessionRequest struct {
	EndTime  string `json:"end_time"`
	Notes    string `json:"notes" validate:"max=1024"`
	Location string `json:"location" validate:"max=256"`
}

// SubmissionRequest is the payload sent to the remote session endpoint.
type SubmissionRequest struct {
	BatchNumber      string              `json:"batchNumber"`
	SessionStartTime string              `json:"sessionStartTime"`
	SessionEndTime   string              `json:"sessionEndTime"`
	DeviceID         string              `json:"deviceId"`
	Location         string              `json:"location"`
	OperatorID       string              `json:"operatorId"`
	ScannedCards     []SubmittedCardData `json:"scannedCards"`
	Notes            *string             `json:"notes,omitempty"`
}

// SubmissionResult carries the server-side counts for a submitted session.
type SubmissionResult struct {
	SessionID      string `json:"sessionId"`
	SubmittedCount int    `json:"submittedCount"`
	DuplicateCount int    `json:"duplicateCount"`
	ErrorCount     int    `json:"errorCount"`
}

// SubmissionResponse is the remote session endpoint's answer.
type SubmissionResponse struct {
	Status     string            `json:"status"`
	StatusCode int               `json:"statusCode"`
	Message    string            `json:"message"`
	Data       *SubmissionResult `json:"data,omitempty"`
}

// SubmissionOutcome reports a submission attempt without failing the caller.
type SubmissionOutcome struct {
	Success  bool                `json:"success"`
	Kind     FailureKind         `json:"kind,omitempty"`
	Message  string              `json:"message"`
	Response *SubmissionResponse `json:"response,omitempty"`
	Session  ScanningSession     `json:"session"`
}

// SessionUpdate is returned by add/remove operations.
type SessionUpdate struct {
	Session ScanningSession `json:"session"`
	Changed bool            `json:"changed"`
	Message string          `json:"message"`
}
