package domain

import (
	"net/url"
	"time"

	"github.com/google/uuid"
)

type TargetID string

// NewTargetID returns a fresh prefixed identifier for a target row.
func NewTargetID() TargetID {
	return TargetID("tgt_" + uuid.NewString())
}

type Target struct {
	ID                   TargetID  `json:"id"`
	Name                 string    `json:"name"`
	URL                  string    `json:"url"`
	CheckIntervalSeconds int       `json:"check_interval_seconds"`
	IsRunning            bool      `json:"is_running"`
	ExpectedStatusCode   *int      `json:"expected_status_code"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	ActiveAlert          bool      `json:"active_alert"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// DisplayName falls back to the URL host when no name was given.
func (t Target) DisplayName() string {
	if t.Name != "" {
		return t.Name
	}
	if u, err := url.Parse(t.URL); err == nil && u.Hostname() != "" {
		return u.Hostname()
	}
	return t.URL
}

// TargetPatch carries the configurable columns of a target. Nil fields are left untouched.
type TargetPatch struct {
	Name                 *string `json:"name,omitempty"`
	URL                  *string `json:"url,omitempty"`
	CheckIntervalSeconds *int    `json:"check_interval_seconds,omitempty"`
	ExpectedStatusCode   *int    `json:"expected_status_code,omitempty"`
	ClearExpectedStatus  bool    `json:"clear_expected_status,omitempty"`
	ActiveAlert          *bool   `json:"active_alert,omitempty"`
}

// Empty reports whether the patch would change nothing.
func (p TargetPatch) Empty() bool {
	return p.Name == nil && p.URL == nil && p.CheckIntervalSeconds == nil &&
		p.ExpectedStatusCode == nil && !p.ClearExpectedStatus && p.ActiveAlert == nil
}

// Apply writes the patch onto t.
func (p TargetPatch) Apply(t *Target) {
	if p.Name != nil {
		t.Name = *p.Name
	}
	if p.URL != nil {
		t.URL = *p.URL
	}
	if p.CheckIntervalSeconds != nil {
		t.CheckIntervalSeconds = *p.CheckIntervalSeconds
	}
	if p.ClearExpectedStatus {
		t.ExpectedStatusCode = nil
	}
	if p.ExpectedStatusCode != nil {
		v := *p.ExpectedStatusCode
		t.ExpectedStatusCode = &v
	}
	if p.ActiveAlert != nil {
		t.ActiveAlert = *p.ActiveAlert
	}
}

// CheckRecord is one completed probe attempt. Never mutated after insert.
type CheckRecord struct {
	ID             int64     `json:"id"`
	TargetID       TargetID  `json:"target_id"`
	Timestamp      time.Time `json:"timestamp"`
	HTTPStatus     *int      `json:"http_status"` // nil on transport errors
	ResponseTimeMS int64     `json:"response_time_ms"`
	IsUp           bool      `json:"is_up"`
	Reason         string    `json:"reason,omitempty"`
}

// ScheduleState is the durable state of one schedule entity.
type ScheduleState struct {
	TargetID             TargetID   `json:"target_id"`
	CheckIntervalSeconds int        `json:"check_interval_seconds"`
	NextWakeAt           *time.Time `json:"next_wake_at"` // nil while paused
	WakeToken            string     `json:"wake_token"`
	LastHandledToken     string     `json:"last_handled_token"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// Interval returns the check interval as a duration.
func (s ScheduleState) Interval() time.Duration {
	return time.Duration(s.CheckIntervalSeconds) * time.Second
}

// Paused reports whether no wake-up is armed.
func (s ScheduleState) Paused() bool { return s.NextWakeAt == nil }

// Clone returns a deep copy safe to hand out of the owning entity.
func (s ScheduleState) Clone() ScheduleState {
	if s.NextWakeAt != nil {
		at := *s.NextWakeAt
		s.NextWakeAt = &at
	}
	return s
}
