package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// BatchStatus mirrors the remote batch lifecycle.
type BatchStatus string

const (
	BatchStatusActive   BatchStatus = "ACTIVE"
	BatchStatusInactive BatchStatus = "INACTIVE"
	BatchStatusClosed   BatchStatus = "CLOSED"
)

// IsActive reports whether the status is ACTIVE, ignoring case.
func (s BatchStatus) IsActive() bool {
	return strings.EqualFold(strings.TrimSpace(string(s)), string(BatchStatusActive))
}

// BatchSummary is one row of the remote batch listing.
type BatchSummary struct {
	BatchNumber string      `json:"batchNumber"`
	Status      BatchStatus `json:"status"`
	Name        string      `json:"name"`
}

// RemoteBatch is the remote representation of a batch and its expected cards.
type RemoteBatch struct {
	BatchNumber string   `json:"batchNumber"`
	BatchName   string   `json:"batchName"`
	CardIDs     []string `json:"cardIds"`
	TotalCards  int      `json:"totalCards"`
}

// BatchCacheEntry is an in-memory copy of a remote batch fetch.
type BatchCacheEntry struct {
	BatchNumber string    `json:"batch_number"`
	BatchName   string    `json:"batch_name"`
	CardIDs     []string  `json:"card_ids"`
	TotalCards  int       `json:"total_cards"`
	FetchTime   time.Time `json:"fetch_time"`
}

// Contains reports whether cardID is part of the batch, ignoring case.
func (e *BatchCacheEntry) Contains(cardID string) bool {
	if e == nil {
		return false
	}
	needle := NormalizeCardID(cardID)
	for _, id := range e.CardIDs {
		if NormalizeCardID(id) == needle {
			return true
		}
	}
	return false
}

// FormatBatchNumber renders n as a three digit batch identifier.
func FormatBatchNumber(n int) string {
	return fmt.Sprintf("%03d", n)
}

// ParseBatchNumber normalises "1", "001" or "Batch 001" into "001".
func ParseBatchNumber(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	end := len(raw)
	start := end
	for start > 0 && unicode.IsDigit(rune(raw[start-1])) {
		start--
	}
	if start == end {
		return "", false
	}
	n, err := strconv.Atoi(raw[start:end])
	if err != nil {
		return "", false
	}
	return FormatBatchNumber(n), true
}

// BatchNumberFromLabel returns the padded number for labels that are a batch number: a bare
// number or "Batch N". Names that merely end in digits, such as "Lagos 2", do not qualify.
func BatchNumberFromLabel(label string) (string, bool) {
	rest := strings.TrimSpace(label)
	if len(rest) >= 5 && strings.EqualFold(rest[:5], "batch") {
		rest = strings.TrimLeft(rest[5:], " -_#")
	}
	if rest == "" {
		return "", false
	}
	for _, r := range rest {
		if !unicode.IsDigit(r) {
			return "", false
		}
	}
	return ParseBatchNumber(rest)
}
