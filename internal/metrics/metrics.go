package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Metrics collects counters and timings of the leader election protocol. It satisfies election.MetricsCollector.
type Metrics struct {
	// Message counters
	heartbeatCount       *atomic.Uint64
	candidacyCount       *atomic.Uint64
	voteCount            *atomic.Uint64
	droppedMessagesCount *atomic.Uint64

	// Election counters
	electionsStarted   *atomic.Uint64
	candidaciesAborted *atomic.Uint64
	electionsLost      *atomic.Uint64
	leadersElected     *atomic.Uint64

	// Time from a follower timing out to the same node becoming leader
	electionDuration []time.Duration
	electionMu       sync.Mutex

	startMu   sync.RWMutex
	startTime time.Time
}

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	return &Metrics{
		heartbeatCount:       atomic.NewUint64(0),
		candidacyCount:       atomic.NewUint64(0),
		voteCount:            atomic.NewUint64(0),
		droppedMessagesCount: atomic.NewUint64(0),
		electionsStarted:     atomic.NewUint64(0),
		candidaciesAborted:   atomic.NewUint64(0),
		electionsLost:        atomic.NewUint64(0),
		leadersElected:       atomic.NewUint64(0),
		electionDuration:     make([]time.Duration, 0, 100),
		startTime:            time.Now(),
	}
}

// RecordElectionStarted increments the number of follower timeouts
func (m *Metrics) RecordElectionStarted() {
	m.electionsStarted.Inc()
}

// RecordCandidacyAnnounced increments the Candidacy broadcast counter
func (m *Metrics) RecordCandidacyAnnounced() {
	m.candidacyCount.Inc()
}

// RecordCandidacyAborted counts candidacies abandoned on another node's Candidacy
func (m *Metrics) RecordCandidacyAborted() {
	m.candidaciesAborted.Inc()
}

// RecordVoteCast increments the Vote broadcast counter
func (m *Metrics) RecordVoteCast() {
	m.voteCount.Inc()
}

// RecordHeartbeat increments the heartbeat counter
func (m *Metrics) RecordHeartbeat() {
	m.heartbeatCount.Inc()
}

// RecordLeaderElected records a won election and how long it took
func (m *Metrics) RecordLeaderElected(duration time.Duration) {
	m.leadersElected.Inc()

	m.electionMu.Lock()
	m.electionDuration = append(m.electionDuration, duration)
	m.electionMu.Unlock()
}

// RecordElectionLost counts announced candidacies that timed out without a quorum
func (m *Metrics) RecordElectionLost() {
	m.electionsLost.Inc()
}

// RecordMessageDropped counts messages addressed to crashed nodes
func (m *Metrics) RecordMessageDropped() {
	m.droppedMessagesCount.Inc()
}

// LatencyStats contains percentile statistics for durations
type LatencyStats struct {
	Count  int     `json:"count"`
	Min    float64 `json:"min_ms"`
	Max    float64 `json:"max_ms"`
	Mean   float64 `json:"mean_ms"`
	P50    float64 `json:"p50_ms"`
	P95    float64 `json:"p95_ms"`
	P99    float64 `json:"p99_ms"`
	StdDev float64 `json:"stddev_ms"`
}

// GetElectionStats returns statistics about won elections
func (m *Metrics) GetElectionStats() LatencyStats {
	m.electionMu.Lock()
	durations := make([]time.Duration, len(m.electionDuration))
	copy(durations, m.electionDuration)
	m.electionMu.Unlock()

	return computeStats(durations)
}

func computeStats(durations []time.Duration) LatencyStats {
	if len(durations) == 0 {
		return LatencyStats{}
	}

	sort.Slice(durations, func(i, j int) bool {
		return durations[i] < durations[j]
	})

	durationsMs := make([]float64, len(durations))
	var sum float64
	for i, dur := range durations {
		ms := float64(dur.Microseconds()) / 1000.0
		durationsMs[i] = ms
		sum += ms
	}

	mean := sum / float64(len(durationsMs))

	var variance float64
	for _, dur := range durationsMs {
		diff := dur - mean
		variance += diff * diff
	}
	stddev := math.Sqrt(variance / float64(len(durationsMs)))

	return LatencyStats{
		Count:  len(durations),
		Min:    durationsMs[0],
		Max:    durationsMs[len(durationsMs)-1],
		Mean:   mean,
		P50:    percentile(durationsMs, 50),
		P95:    percentile(durationsMs, 95),
		P99:    percentile(durationsMs, 99),
		StdDev: stddev,
	}
}

// percentile calculates the nth percentile from sorted data
func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	index := float64(p) / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(index))
	upper := int(math.Ceil(index))
	if lower == upper {
		return sorted[lower]
	}
	// Linear interpolation
	weight := index - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

// Report contains all collected metrics
type Report struct {
	ClusterSize int       `json:"cluster_size"`
	Uptime      float64   `json:"uptime_seconds"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`

	// Message metrics
	HeartbeatCount  uint64 `json:"heartbeat_count"`
	CandidacyCount  uint64 `json:"candidacy_count"`
	VoteCount       uint64 `json:"vote_count"`
	DroppedMessages uint64 `json:"dropped_messages"`

	// Election metrics
	ElectionsStarted   uint64       `json:"elections_started"`
	CandidaciesAborted uint64       `json:"candidacies_aborted"`
	ElectionsLost      uint64       `json:"elections_lost"`
	LeadersElected     uint64       `json:"leaders_elected"`
	ElectionStats      LatencyStats `json:"election_stats"`
}

// GetReport generates a snapshot of every counter
func (m *Metrics) GetReport(clusterSize int) Report {
	m.startMu.RLock()
	start := m.startTime
	m.startMu.RUnlock()

	endTime := time.Now()

	return Report{
		ClusterSize:        clusterSize,
		Uptime:             endTime.Sub(start).Seconds(),
		StartTime:          start,
		EndTime:            endTime,
		HeartbeatCount:     m.heartbeatCount.Load(),
		CandidacyCount:     m.candidacyCount.Load(),
		VoteCount:          m.voteCount.Load(),
		DroppedMessages:    m.droppedMessagesCount.Load(),
		ElectionsStarted:   m.electionsStarted.Load(),
		CandidaciesAborted: m.candidaciesAborted.Load(),
		ElectionsLost:      m.electionsLost.Load(),
		LeadersElected:     m.leadersElected.Load(),
		ElectionStats:      m.GetElectionStats(),
	}
}

// PrintReport writes the report in a human-readable format
func (r *Report) PrintReport(w io.Writer) {
	rule := strings.Repeat("=", 60)
	thin := strings.Repeat("-", 60)

	fmt.Fprintln(w, "\n"+rule)
	fmt.Fprintln(w, "LEADER ELECTION REPORT")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "  Cluster Size: %d nodes\n", r.ClusterSize)
	fmt.Fprintf(w, "  Uptime: %.2f seconds\n", r.Uptime)
	fmt.Fprintf(w, "  Start: %s\n", r.StartTime.Format("2006-01-02 15:04:05"))

	fmt.Fprintln(w, thin)
	fmt.Fprintf(w, "Messages:\n")
	fmt.Fprintf(w, "  Heartbeats: %d\n", r.HeartbeatCount)
	fmt.Fprintf(w, "  Candidacies: %d\n", r.CandidacyCount)
	fmt.Fprintf(w, "  Votes: %d\n", r.VoteCount)
	fmt.Fprintf(w, "  Dropped: %d\n", r.DroppedMessages)

	fmt.Fprintln(w, thin)
	fmt.Fprintf(w, "Elections:\n")
	fmt.Fprintf(w, "  Started: %d\n", r.ElectionsStarted)
	fmt.Fprintf(w, "  Aborted: %d\n", r.CandidaciesAborted)
	fmt.Fprintf(w, "  Lost: %d\n", r.ElectionsLost)
	fmt.Fprintf(w, "  Won: %d\n", r.LeadersElected)
	if r.ElectionStats.Count > 0 {
		fmt.Fprintf(w, "  Avg Duration: %.3f ms\n", r.ElectionStats.Mean)
		fmt.Fprintf(w, "  P50 Duration: %.3f ms\n", r.ElectionStats.P50)
		fmt.Fprintf(w, "  P95 Duration: %.3f ms\n", r.ElectionStats.P95)
	}

	fmt.Fprintln(w, rule)
}

// SaveJSON saves the report to a JSON file
func (r *Report) SaveJSON(filename string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// Reset clears all collected metrics
func (m *Metrics) Reset() {
	m.electionMu.Lock()
	m.electionDuration = make([]time.Duration, 0, 100)
	m.electionMu.Unlock()

	m.heartbeatCount.Store(0)
	m.candidacyCount.Store(0)
	m.voteCount.Store(0)
	m.droppedMessagesCount.Store(0)
	m.electionsStarted.Store(0)
	m.candidaciesAborted.Store(0)
	m.electionsLost.Store(0)
	m.leadersElected.Store(0)

	m.startMu.Lock()
	m.startTime = time.Now()
	m.startMu.Unlock()
}
