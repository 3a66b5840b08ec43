// Package destination holds the configured posting targets.
//
// A Store is the single owner of destination records. Readers always get
// copies; the scheduler is the only writer of LastSentAt (via MarkSent).
package destination

import (
	"errors"
	"time"
)

const (
	// DefaultInterval is used whenever an interval is missing or invalid.
	DefaultInterval = 3600
	// MaxInterval caps intervals so the repeat duration cannot overflow.
	MaxInterval = 1<<31 - 1
)

var ErrNotFound = errors.New("destination not found")

// Destination is one configured posting target.
type Destination struct {
	ID         string    `json:"id"`
	TargetRef  string    `json:"target_ref"`
	MentionRef string    `json:"mention_ref,omitempty"`
	Message    string    `json:"message"`
	Interval   int       `json:"interval_seconds"`
	LastSentAt time.Time `json:"last_sent_at,omitzero"`
}

// IntervalDuration returns the repeat interval, normalized as by
// NormalizeInterval.
func (d Destination) IntervalDuration() time.Duration {
	return time.Duration(NormalizeInterval(d.Interval)) * time.Second
}

// NormalizeInterval maps non-positive seconds to DefaultInterval and caps
// the rest at MaxInterval.
func NormalizeInterval(n int) int {
	switch {
	case n <= 0:
		return DefaultInterval
	case n > MaxInterval:
		return MaxInterval
	}
	return n
}

// Sendable reports which required field (if any) blocks a delivery attempt.
func (d Destination) Sendable() (missing string, ok bool) {
	switch {
	case d.TargetRef == "":
		return "target", false
	case d.Message == "":
		return "message", false
	}
	return "", true
}

// Patch is a partial edit. Nil fields are left untouched.
type Patch struct {
	TargetRef  *string
	MentionRef *string
	Message    *string
	Interval   *int
}

func (p Patch) apply(d *Destination) {
	if p.TargetRef != nil {
		d.TargetRef = *p.TargetRef
	}
	if p.MentionRef != nil {
		d.MentionRef = *p.MentionRef
	}
	if p.Message != nil {
		d.Message = *p.Message
	}
	if p.Interval != nil {
		d.Interval = *p.Interval
	}
	d.Interval = NormalizeInterval(d.Interval)
}

// Document is the persisted form of a Store.
type Document struct {
	BotToken     string        `json:"bot_token,omitempty"`
	Destinations []Destination `json:"destinations"`
}
