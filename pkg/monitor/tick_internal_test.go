package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/surrealdb/surrealshop/pkg/store/memstore"
)

func TestFailingTicksAreSkipped(t *testing.T) {
	m := New(memstore.New(), memstore.New(), Config{}, zerolog.Nop())

	m.tick = func(context.Context) ([]DriftRecord, error) { panic("boom") }
	m.safeTick(context.Background())

	m.tick = func(context.Context) ([]DriftRecord, error) { return nil, errors.New("store down") }
	m.safeTick(context.Background())

	assert.Equal(t, 2.0, m.Snapshot()["monitor.skipped_ticks"])
}

func TestPercentile(t *testing.T) {
	ms := func(n int) time.Duration { return time.Duration(n) * time.Millisecond }
	sorted := []time.Duration{ms(1), ms(2), ms(3), ms(4), ms(5), ms(6), ms(7), ms(8), ms(9), ms(10)}

	assert.Equal(t, ms(5), percentile(sorted, 0.50))
	assert.Equal(t, ms(10), percentile(sorted, 0.95))
	assert.Equal(t, ms(1), percentile(sorted[:1], 0.95))
	assert.Zero(t, percentile(nil, 0.5))
}
