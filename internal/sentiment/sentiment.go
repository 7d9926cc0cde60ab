// Package sentiment defines the market-sentiment collaborator.
package sentiment

import (
	"context"
	"sync"
	"time"
)

// Direction is the overall sentiment call.
type Direction string

const (
	Neutral Direction = "neutral"
	Bullish Direction = "bullish"
	Bearish Direction = "bearish"
)

// Reading is one sentiment observation. Score is in [-1, 1].
type Reading struct {
	Direction Direction `json:"direction"`
	Score     float64   `json:"score"`
	At        time.Time `json:"at"`
}

// Provider returns the current reading.
type Provider interface {
	Current(ctx context.Context) (Reading, error)
}

// directionThreshold splits a score into bullish/neutral/bearish.
const directionThreshold = 0.2

// FromScore builds a Reading whose direction follows the score.
func FromScore(score float64, at time.Time) Reading {
	r := Reading{Direction: Neutral, Score: score, At: at}
	switch {
	case score > directionThreshold:
		r.Direction = Bullish
	case score < -directionThreshold:
		r.Direction = Bearish
	}
	return r
}

// Static serves a fixed reading. It is also the fallback when no sentiment
// source is configured.
type Static struct {
	mu      sync.RWMutex
	reading Reading
}

func NewStatic(r Reading) *Static {
	if r.Direction == "" {
		r.Direction = Neutral
	}
	return &Static{reading: r}
}

func (s *Static) Current(context.Context) (Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reading, nil
}

// Set replaces the reading, e.g. from an operator override.
func (s *Static) Set(r Reading) {
	s.mu.Lock()
	s.reading = r
	s.mu.Unlock()
}
