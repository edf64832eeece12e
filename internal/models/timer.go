package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// TimerType defines the kind of countdown a timer represents.
type TimerType string

const (
	TimerTypeWork  TimerType = "Work"
	TimerTypeBreak TimerType = "Break"
)

// Valid reports whether t is a known timer type.
func (t TimerType) Valid() bool {
	return t == TimerTypeWork || t == TimerTypeBreak
}

// TimerSchemaVersion is the current schema version written for new timers.
const TimerSchemaVersion = 1

// Timer is an immutable-once-created countdown record. A new countdown
// supersedes the previous one wholly; timers are never mutated in place.
// Invariant: EndTime == StartTime + DurationSeconds.
type Timer struct {
	Type            TimerType `json:"type"`
	DurationSeconds int       `json:"durationSeconds"`
	StartTime       time.Time `json:"startTime"`
	EndTime         time.Time `json:"endTime"`
	Version         int       `json:"version"`
}

// NewTimer builds a timer starting at now. Instants are truncated to whole
// seconds so that fingerprints survive a round-trip through the store.
func NewTimer(durationSeconds int, typ TimerType, now time.Time) Timer {
	start := now.UTC().Truncate(time.Second)
	return Timer{
		Type:            typ,
		DurationSeconds: durationSeconds,
		StartTime:       start,
		EndTime:         start.Add(time.Duration(durationSeconds) * time.Second),
		Version:         TimerSchemaVersion,
	}
}

// Fingerprint returns a deterministic hash of the timer's defining fields.
// Two timers with identical {type, duration, start, end} hash equal; any
// field difference changes the result. Used only as a reconciliation
// tie-breaker, never as a storage or security key.
func (t Timer) Fingerprint() string {
	h := sha256.Sum256([]byte(fmt.Sprintf(
		"%s|%d|%d|%d",
		t.Type,
		t.DurationSeconds,
		t.StartTime.UTC().Unix(),
		t.EndTime.UTC().Unix(),
	)))
	return hex.EncodeToString(h[:])
}

// SameAs reports whether both timers represent the same logical countdown.
func (t Timer) SameAs(other Timer) bool {
	return t.Fingerprint() == other.Fingerprint()
}

// TimeLeft is the displayable remaining-time view of a timer. It is
// recomputed on every tick and never persisted.
type TimeLeft struct {
	Minutes  int
	Seconds  int
	Finished bool
	Type     TimerType
}

// String renders the countdown as mm:ss.
func (tl TimeLeft) String() string {
	return fmt.Sprintf("%02d:%02d", tl.Minutes, tl.Seconds)
}

// TimeLeftAt computes the remaining-time view of t at the given instant.
// Once finished, minutes and seconds are clamped to zero so the displayed
// clock never counts below zero.
func (t Timer) TimeLeftAt(now time.Time) TimeLeft {
	remaining := int(t.EndTime.Sub(now) / time.Second)
	if remaining <= 0 {
		return TimeLeft{Finished: true, Type: t.Type}
	}
	return TimeLeft{
		Minutes: remaining / 60,
		Seconds: remaining % 60,
		Type:    t.Type,
	}
}
