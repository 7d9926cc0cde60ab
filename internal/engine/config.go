package engine

import "time"

// Allocation selects how the per-cycle budget is split across candidates.
type Allocation string

const (
	AllocationEqual            Allocation = "equal"
	AllocationStrengthWeighted Allocation = "strength_weighted"
)

type Config struct {
	Instruments       []string      `yaml:"instruments" validate:"min=1,dive,required"`
	Interval          time.Duration `yaml:"interval" validate:"gt=0"`
	MaxTotalPositions int           `yaml:"max_total_positions" validate:"gte=1"`
	MaxPerInstrument  int           `yaml:"max_per_instrument" validate:"gte=1"`
	Allocation        Allocation    `yaml:"allocation" validate:"oneof=equal strength_weighted"`
	Workers           int           `yaml:"workers" validate:"gte=1"`
	FetchTimeout      time.Duration `yaml:"fetch_timeout" validate:"gt=0"`
	OrderTimeout      time.Duration `yaml:"order_timeout" validate:"gt=0"`
	// StalePrice drops board prices nobody refreshed for this long.
	StalePrice time.Duration `yaml:"stale_price" validate:"gte=0"`
}

func DefaultConfig() Config {
	return Config{
		Instruments:       []string{"BTCUSDT", "ETHUSDT"},
		Interval:          30 * time.Second,
		MaxTotalPositions: 1,
		MaxPerInstrument:  1,
		Allocation:        AllocationEqual,
		Workers:           4,
		FetchTimeout:      10 * time.Second,
		OrderTimeout:      10 * time.Second,
		StalePrice:        10 * time.Minute,
	}
}
