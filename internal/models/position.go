package models

import (
	"fmt"
	"slices"
	"time"
)

type Status string

const (
	StatusPending Status = "PENDING"
	StatusActive  Status = "ACTIVE"
	StatusClosing Status = "CLOSING"
	StatusClosed  Status = "CLOSED"
)

type Outcome string

const (
	TakeProfit Outcome = "TAKE_PROFIT"
	StopLoss   Outcome = "STOP_LOSS"
	NoTrigger  Outcome = "NO_TRIGGER"
)

type Position struct {
	ID         string               `json:"id"`
	Instrument string               `json:"instrument"`
	Direction  Direction            `json:"direction"`
	Entry      float64              `json:"entry"`
	Target     float64              `json:"target"`
	Stop       float64              `json:"stop"`
	Leverage   int                  `json:"leverage"`
	Votes      map[string]Direction `json:"votes,omitempty"`
	OpenedAt   time.Time            `json:"opened_at"`
	Status     Status               `json:"status"`

	MaxPrice   float64   `json:"max_price"`
	MinPrice   float64   `json:"min_price"`
	LastPrice  float64   `json:"last_price"`
	LastUpdate time.Time `json:"last_update"`

	// set on ACTIVE -> CLOSING
	ClosingOutcome Outcome   `json:"closing_outcome,omitempty"`
	ClosingPrice   float64   `json:"closing_price,omitempty"`
	ClosingAt      time.Time `json:"closing_at,omitempty"`
	// stat counters already incremented for this close
	Booked []string `json:"booked,omitempty"`
}

// Validate checks required fields, positive prices and level ordering.
func (p *Position) Validate() error {
	if p.Instrument == "" {
		return fmt.Errorf("missing instrument")
	}
	if !p.Direction.Valid() {
		return fmt.Errorf("bad direction %q", p.Direction)
	}
	if p.Entry <= 0 || p.Target <= 0 || p.Stop <= 0 {
		return fmt.Errorf("non-positive price: entry=%v target=%v stop=%v", p.Entry, p.Target, p.Stop)
	}
	if p.Leverage <= 0 {
		return fmt.Errorf("non-positive leverage %d", p.Leverage)
	}
	switch p.Direction {
	case Long:
		if !(p.Target > p.Entry && p.Entry > p.Stop) {
			return fmt.Errorf("LONG levels out of order: stop=%v entry=%v target=%v", p.Stop, p.Entry, p.Target)
		}
	case Short:
		if !(p.Target < p.Entry && p.Entry < p.Stop) {
			return fmt.Errorf("SHORT levels out of order: target=%v entry=%v stop=%v", p.Target, p.Entry, p.Stop)
		}
	}
	switch p.Status {
	case StatusActive, StatusClosing:
	default:
		return fmt.Errorf("unexpected status %q", p.Status)
	}
	return nil
}

func (p *Position) IsBooked(counter string) bool {
	return slices.Contains(p.Booked, counter)
}

func (p *Position) MarkBooked(counter string) {
	if !p.IsBooked(counter) {
		p.Booked = append(slices.Clip(p.Booked), counter)
	}
}

// LevelFor returns the price the outcome is booked at.
func (p *Position) LevelFor(o Outcome) float64 {
	if o == TakeProfit {
		return p.Target
	}
	return p.Stop
}

// Observe folds a price range into the running max/min.
func (p *Position) Observe(price, high, low float64, at time.Time) {
	if high <= 0 {
		high = price
	}
	if low <= 0 {
		low = price
	}
	if high > p.MaxPrice {
		p.MaxPrice = high
	}
	if p.MinPrice == 0 || (low > 0 && low < p.MinPrice) {
		p.MinPrice = low
	}
	if price > 0 {
		p.LastPrice = price
	}
	p.LastUpdate = at
}

// ActiveSignal is the display record kept next to a live position.
type ActiveSignal struct {
	Instrument   string               `json:"instrument"`
	Direction    Direction            `json:"direction"`
	Entry        float64              `json:"entry"`
	Target       float64              `json:"target"`
	Stop         float64              `json:"stop"`
	Leverage     int                  `json:"leverage"`
	Votes        map[string]Direction `json:"votes,omitempty"`
	CurrentPrice float64              `json:"current_price"`
	MaxPrice     float64              `json:"max_price"`
	MinPrice     float64              `json:"min_price"`
	OpenedAt     time.Time            `json:"opened_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

func NewActiveSignal(p *Position) ActiveSignal {
	return ActiveSignal{
		Instrument:   p.Instrument,
		Direction:    p.Direction,
		Entry:        p.Entry,
		Target:       p.Target,
		Stop:         p.Stop,
		Leverage:     p.Leverage,
		Votes:        p.Votes,
		CurrentPrice: p.LastPrice,
		MaxPrice:     p.MaxPrice,
		MinPrice:     p.MinPrice,
		OpenedAt:     p.OpenedAt,
		UpdatedAt:    p.LastUpdate,
	}
}
