package domain

import "time"

// MirrorStatus is the last observed health of a mirror.
type MirrorStatus string

const (
	MirrorHealthy     MirrorStatus = "healthy"
	MirrorSlow        MirrorStatus = "slow"
	MirrorUnreachable MirrorStatus = "unreachable"
	MirrorUnknown     MirrorStatus = "unknown"
)

// Mirror is an alternate base URL believed to serve the same resources
// as the primary origin. Health fields are updated in place after every
// probe or real transfer attempt.
type Mirror struct {
	Name               string        `json:"name"`
	BaseURL            string        `json:"base_url"`
	Priority           int           `json:"priority"`
	Status             MirrorStatus  `json:"status"`
	LastResponseTime   time.Duration `json:"last_response_time"`
	LastCheckedAt      time.Time     `json:"last_checked_at"`
	SuccessRate        float64       `json:"success_rate"`
	TotalRequests      int64         `json:"total_requests"`
	SuccessfulRequests int64         `json:"successful_requests"`
}

// RecordAttempt updates the rolling counters after a request against
// this mirror.
func (m *Mirror) RecordAttempt(ok bool) {
	m.TotalRequests++
	if ok {
		m.SuccessfulRequests++
	}
	m.SuccessRate = float64(m.SuccessfulRequests) / float64(m.TotalRequests)
}

// Available reports whether the mirror may be offered as a download
// candidate.
func (m *Mirror) Available() bool {
	return m.Status != MirrorUnreachable
}
