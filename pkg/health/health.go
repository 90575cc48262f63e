// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ensemble Contributors

// Package health holds the serializable health vocabulary shared by the
// monitor and the operational API.
package health

import "time"

// Status is the cached health verdict for one provider.
type Status string

const (
	StatusUnknown   Status = "unknown"
	StatusChecking  Status = "checking"
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// Record is a point-in-time snapshot of one provider's health state.
// All fields are safe to serialize to JSON.
type Record struct {
	Kind                string    `json:"kind"`
	Name                string    `json:"name"`
	Status              Status    `json:"status"`
	LastCheck           time.Time `json:"last_check"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	TotalChecks         int64     `json:"total_checks"`
	TotalFailures       int64     `json:"total_failures"`
	Error               string    `json:"error,omitempty"`
}
