package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotEmpty(t *testing.T) {
	snap := NewCollector().Snapshot()
	assert.Nil(t, snap.LLMGenerate)
	assert.Nil(t, snap.Jobs)
	assert.Nil(t, snap.JobOutcomes)
}

func TestRecordTiming(t *testing.T) {
	c := NewCollector()
	c.RecordTiming(OpCatalogQuery, 10*time.Millisecond)
	c.RecordTiming(OpCatalogQuery, 30*time.Millisecond)

	snap := c.Snapshot()
	require.NotNil(t, snap.CatalogQuery)
	assert.Equal(t, int64(2), snap.CatalogQuery.Count)
	assert.Equal(t, int64(40), snap.CatalogQuery.TotalTimeMs)
	assert.Equal(t, 20.0, snap.CatalogQuery.AvgTimeMs)
	assert.Equal(t, int64(10), snap.CatalogQuery.MinTimeMs)
	assert.Equal(t, int64(30), snap.CatalogQuery.MaxTimeMs)
	assert.Nil(t, snap.CatalogQuery.TotalInputTokens)
}

func TestRecordLLMUsage(t *testing.T) {
	c := NewCollector()
	c.RecordLLMUsage(OpLLMGenerate, 100*time.Millisecond, 50, 10)
	c.RecordLLMUsage(OpLLMGenerate, 300*time.Millisecond, 150, 30)

	snap := c.Snapshot()
	require.NotNil(t, snap.LLMGenerate)
	require.NotNil(t, snap.LLMGenerate.TotalInputTokens)
	assert.Equal(t, int64(200), *snap.LLMGenerate.TotalInputTokens)
	assert.Equal(t, int64(40), *snap.LLMGenerate.TotalOutputTokens)
	assert.Equal(t, 100.0, *snap.LLMGenerate.AvgInputTokens)
	assert.Equal(t, int64(50), *snap.LLMGenerate.MinInputTokens)
	assert.Equal(t, int64(30), *snap.LLMGenerate.MaxOutputTokens)
}

func TestJobBucketsAndOutcomes(t *testing.T) {
	c := NewCollector()
	c.RecordTiming(JobOp("ner"), 5*time.Millisecond)
	c.RecordTiming(JobOp("summarize"), 7*time.Millisecond)
	c.RecordJobOutcome("completed")
	c.RecordJobOutcome("completed")
	c.RecordJobOutcome("retry")

	snap := c.Snapshot()
	require.Len(t, snap.Jobs, 2)
	assert.Equal(t, int64(1), snap.Jobs["ner"].Count)
	assert.Equal(t, map[string]int64{"completed": 2, "retry": 1}, snap.JobOutcomes)
}

func TestCollectorConcurrent(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordTiming(OpDBQuery, time.Millisecond)
			c.RecordJobOutcome("completed")
			_ = c.Snapshot()
		}()
	}
	wg.Wait()

	snap := c.Snapshot()
	assert.Equal(t, int64(20), snap.DBQuery.Count)
	assert.Equal(t, int64(20), snap.JobOutcomes["completed"])
}
