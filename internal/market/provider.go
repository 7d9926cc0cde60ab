package market

import (
	"context"
	"fmt"
	"time"
)

// Provider fetches a full market picture for one instrument.
type Provider interface {
	Fetch(ctx context.Context, instrument string) (*Data, error)
}

// FetchWithTimeout bounds a single Fetch so one slow instrument cannot stall
// the whole cycle.
func FetchWithTimeout(ctx context.Context, p Provider, instrument string, timeout time.Duration) (*Data, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	d, err := p.Fetch(ctx, instrument)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", instrument, err)
	}
	if d == nil {
		return nil, fmt.Errorf("fetch %s: %w", instrument, ErrNoData)
	}
	return d, nil
}
