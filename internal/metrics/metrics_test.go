package metrics

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"election-sim/internal/election"
)

var _ election.MetricsCollector = (*Metrics)(nil)

func TestNewMetrics(t *testing.T) {
	m := NewMetrics()

	assert.NotNil(t, m)
	assert.NotNil(t, m.electionDuration)
	assert.False(t, m.startTime.IsZero())
}

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics()

	m.RecordElectionStarted()
	m.RecordElectionStarted()
	m.RecordCandidacyAnnounced()
	m.RecordCandidacyAborted()
	m.RecordVoteCast()
	m.RecordVoteCast()
	m.RecordVoteCast()
	m.RecordHeartbeat()
	m.RecordElectionLost()
	m.RecordMessageDropped()

	assert.Equal(t, uint64(2), m.electionsStarted.Load())
	assert.Equal(t, uint64(1), m.candidacyCount.Load())
	assert.Equal(t, uint64(1), m.candidaciesAborted.Load())
	assert.Equal(t, uint64(3), m.voteCount.Load())
	assert.Equal(t, uint64(1), m.heartbeatCount.Load())
	assert.Equal(t, uint64(1), m.electionsLost.Load())
	assert.Equal(t, uint64(1), m.droppedMessagesCount.Load())
}

func TestMetrics_RecordLeaderElected(t *testing.T) {
	m := NewMetrics()

	m.RecordLeaderElected(200 * time.Millisecond)
	m.RecordLeaderElected(150 * time.Millisecond)

	assert.Equal(t, uint64(2), m.leadersElected.Load())

	m.electionMu.Lock()
	assert.Len(t, m.electionDuration, 2)
	assert.Equal(t, 200*time.Millisecond, m.electionDuration[0])
	assert.Equal(t, 150*time.Millisecond, m.electionDuration[1])
	m.electionMu.Unlock()
}

func TestMetrics_GetElectionStats(t *testing.T) {
	t.Run("returns empty stats without elections", func(t *testing.T) {
		stats := NewMetrics().GetElectionStats()
		assert.Equal(t, 0, stats.Count)
	})

	t.Run("calculates statistics", func(t *testing.T) {
		m := NewMetrics()
		m.RecordLeaderElected(1 * time.Second)
		m.RecordLeaderElected(2 * time.Second)
		m.RecordLeaderElected(3 * time.Second)

		stats := m.GetElectionStats()
		assert.Equal(t, 3, stats.Count)
		assert.InDelta(t, 2000.0, stats.Mean, 1.0)
		assert.InDelta(t, 2000.0, stats.P50, 1.0)
		assert.InDelta(t, 1000.0, stats.Min, 1.0)
		assert.InDelta(t, 3000.0, stats.Max, 1.0)
		assert.Greater(t, stats.StdDev, 0.0)
	})

	t.Run("calculates percentiles", func(t *testing.T) {
		m := NewMetrics()
		for i := 1; i <= 100; i++ {
			m.RecordLeaderElected(time.Duration(i) * time.Millisecond)
		}

		stats := m.GetElectionStats()
		assert.InDelta(t, 50.0, stats.P50, 5.0)
		assert.InDelta(t, 95.0, stats.P95, 5.0)
		assert.InDelta(t, 99.0, stats.P99, 5.0)
	})
}

func TestMetrics_Report(t *testing.T) {
	m := NewMetrics()
	m.RecordElectionStarted()
	m.RecordCandidacyAnnounced()
	m.RecordVoteCast()
	m.RecordLeaderElected(1500 * time.Millisecond)
	m.RecordHeartbeat()

	report := m.GetReport(3)

	assert.Equal(t, 3, report.ClusterSize)
	assert.Equal(t, uint64(1), report.ElectionsStarted)
	assert.Equal(t, uint64(1), report.LeadersElected)
	assert.Equal(t, 1, report.ElectionStats.Count)
	assert.GreaterOrEqual(t, report.Uptime, 0.0)

	t.Run("prints a readable summary", func(t *testing.T) {
		var buf bytes.Buffer
		report.PrintReport(&buf)

		assert.Contains(t, buf.String(), "LEADER ELECTION REPORT")
		assert.Contains(t, buf.String(), "Cluster Size: 3 nodes")
		assert.Contains(t, buf.String(), "Won: 1")
	})

	t.Run("saves as json", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "report.json")
		require.NoError(t, report.SaveJSON(path))

		data, err := os.ReadFile(path)
		require.NoError(t, err)

		var decoded map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.EqualValues(t, 3, decoded["cluster_size"])
		assert.EqualValues(t, 1, decoded["leaders_elected"])
	})

	t.Run("fails on an unwritable path", func(t *testing.T) {
		err := report.SaveJSON(filepath.Join(t.TempDir(), "missing", "report.json"))
		assert.Error(t, err)
	})
}

func TestMetrics_Reset(t *testing.T) {
	m := NewMetrics()
	m.RecordElectionStarted()
	m.RecordHeartbeat()
	m.RecordLeaderElected(time.Second)
	m.RecordMessageDropped()

	m.Reset()

	report := m.GetReport(1)
	assert.Zero(t, report.ElectionsStarted)
	assert.Zero(t, report.HeartbeatCount)
	assert.Zero(t, report.LeadersElected)
	assert.Zero(t, report.DroppedMessages)
	assert.Equal(t, 0, report.ElectionStats.Count)
}

func TestMetrics_Concurrency(t *testing.T) {
	m := NewMetrics()
	iterations := 1000

	var wg sync.WaitGroup
	for i := 0; i < iterations; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			m.RecordVoteCast()
		}()
		go func() {
			defer wg.Done()
			m.RecordLeaderElected(time.Millisecond)
		}()
		go func() {
			defer wg.Done()
			m.GetReport(3)
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(iterations), m.voteCount.Load())
	assert.Equal(t, iterations, m.GetElectionStats().Count)
}
