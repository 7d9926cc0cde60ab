package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrices(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	p := NewPrices(func() time.Time { return now })

	p.Set("BTCUSDT", 50000)
	p.Set("ETHUSDT", 0)

	v, ok := p.LastPrice("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 50000.0, v)
	_, ok = p.LastPrice("ETHUSDT")
	assert.False(t, ok, "zero price is ignored")

	now = now.Add(time.Minute)
	p.Set("SOLUSDT", 150)
	age, ok := p.Age("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, time.Minute, age)

	assert.Equal(t, 1, p.Cleanup(30*time.Second))
	assert.Equal(t, map[string]float64{"SOLUSDT": 150}, p.All())
	assert.Equal(t, 1, p.Len())
}

func TestPricesConcurrent(t *testing.T) {
	p := NewPrices(nil)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sym := fmt.Sprintf("SYM%d", i)
			p.Set(sym, float64(i+1))
			p.LastPrice(sym)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 32, p.Len())
}
