package models

import "time"

// Pagination describes paginated list metadata.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}

// MetricsSnapshot summarises agent activity for health checks.
type MetricsSnapshot struct {
	RequestsTotal  uint64    `json:"requests_total"`
	CardsVerified  uint64    `json:"cards_verified"`
	CacheHits      uint64    `json:"cache_hits"`
	CacheMisses    uint64    `json:"cache_misses"`
	CacheHitRatio  float64   `json:"cache_hit_ratio"`
	RemoteFailures uint64    `json:"remote_failures"`
	Goroutines     int       `json:"goroutines"`
	GeneratedAt    time.Time `json:"generated_at"`
}
