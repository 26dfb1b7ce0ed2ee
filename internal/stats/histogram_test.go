package stats

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeHistogramRecordsQuantiles(t *testing.T) {
	h := NewSafeHistogram()

	for v := int64(1); v <= 1000; v++ {
		require.NoError(t, h.RecordValue(v))
	}

	assert.Equal(t, int64(1000), h.TotalCount())
	assert.InDelta(t, 500, h.ValueAtQuantile(50), 5)
	assert.InDelta(t, 990, h.ValueAtQuantile(99), 10)
	assert.InDelta(t, 500.5, h.Mean(), 5)
	assert.InDelta(t, 1000, h.Max(), 1)
}

func TestSafeHistogramEmpty(t *testing.T) {
	h := NewSafeHistogram()

	assert.Equal(t, int64(0), h.TotalCount())
	assert.Equal(t, int64(0), h.ValueAtQuantile(99))
}

func TestSafeHistogramConcurrentRecording(t *testing.T) {
	h := NewSafeHistogram()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := int64(1); i <= 500; i++ {
				h.RecordValue(i)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(8*500), h.TotalCount())
}
