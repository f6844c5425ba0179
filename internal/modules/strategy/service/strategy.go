package service

import (
	"signal_bot/internal/models"

	"github.com/pkg/errors"
)

var ErrNotEnoughBars = errors.New("not enough bars")

// Indicator turns the bars of one timeframe into a direction. There is no
// neutral answer: an implementation must always pick a side.
type Indicator interface {
	Direction(timeframe string, bars []models.Candle) (models.Direction, error)
	Name() string
}
