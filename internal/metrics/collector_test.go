package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_RecordRequest(t *testing.T) {
	c := NewCollector()
	c.RecordRequest("bots", 10*time.Millisecond, false)
	c.RecordRequest("bots", 30*time.Millisecond, true)
	c.RecordTiming("auth", 5*time.Millisecond)

	snap := c.Snapshot()
	require.Len(t, snap.Operations, 2)
	assert.Equal(t, "auth", snap.Operations[0].Name)
	assert.Equal(t, "bots", snap.Operations[1].Name)

	bots := snap.Operation("bots")
	require.NotNil(t, bots)
	assert.Equal(t, int64(2), bots.Count)
	assert.Equal(t, int64(1), bots.Errors)
	assert.Equal(t, int64(40), bots.TotalTimeMs)
	assert.InDelta(t, 20.0, bots.AvgTimeMs, 0.001)
	assert.Equal(t, int64(10), bots.MinTimeMs)
	assert.Equal(t, int64(30), bots.MaxTimeMs)

	assert.Nil(t, snap.Operation("chat"))
}

func TestCollector_Concurrent(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordRequest("training_jobs", time.Millisecond, false)
		}()
	}
	wg.Wait()

	op := c.Snapshot().Operation("training_jobs")
	require.NotNil(t, op)
	assert.Equal(t, int64(50), op.Count)
}
