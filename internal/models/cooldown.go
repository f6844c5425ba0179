package models

import "time"

type CooldownKind string

const (
	PostClose   CooldownKind = "post_close"
	SignalBurst CooldownKind = "signal_burst"
)

type CooldownEntry struct {
	Instrument string       `json:"instrument"`
	Kind       CooldownKind `json:"kind"`
	ExpiresAt  time.Time    `json:"expires_at"`
}

func (e CooldownEntry) Expired(now time.Time) bool { return !now.Before(e.ExpiresAt) }
