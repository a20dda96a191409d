package election

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"election-sim/internal/pubsub"
)

// NodeID is the id of a node in the cluster. Ids are sequential, starting at 0.
type NodeID int

// NoNode marks an unset NodeID field (no leader known, no vote cast).
const NoNode NodeID = -1

func (id NodeID) String() string {
	if id == NoNode {
		return "none"
	}
	return fmt.Sprintf("%d", int(id))
}

// Role is the election role of an active node
type Role int

const (
	// Follower is the initial role. Followers vote and wait for heartbeats.
	Follower Role = iota
	// Candidate is a node running an election attempt.
	Candidate
	// Leader has won a quorum of votes and emits heartbeats.
	Leader
)

func (r Role) String() string {
	switch r {
	case Follower:
		return "follower"
	case Candidate:
		return "candidate"
	case Leader:
		return "leader"
	default:
		return "unknown"
	}
}

// Status gates everything a node does. A crashed node drains nothing and emits nothing.
type Status int

const (
	Active Status = iota
	Crashed
)

func (s Status) String() string {
	switch s {
	case Active:
		return "active"
	case Crashed:
		return "crashed"
	default:
		return "unknown"
	}
}

// MessageType identifies the payload carried by a Message
type MessageType int

const (
	// HeartbeatMsg is sent periodically by a leader. Candidate holds the leader id.
	HeartbeatMsg MessageType = iota
	// CandidacyMsg announces a bid for leadership. Candidate holds the candidate id.
	CandidacyMsg
	// VoteMsg is broadcast by a voter. From is the voter, Candidate the node it votes for.
	VoteMsg
)

func (m MessageType) String() string {
	switch m {
	case HeartbeatMsg:
		return "Heartbeat"
	case CandidacyMsg:
		return "Candidacy"
	case VoteMsg:
		return "Vote"
	default:
		return "Unknown"
	}
}

// Message is an in-process value exchanged between nodes through a Transport
type Message struct {
	Type      MessageType
	From      NodeID
	Candidate NodeID
}

// Heartbeat builds a Heartbeat(leaderID) message.
func Heartbeat(leaderID NodeID) Message {
	return Message{Type: HeartbeatMsg, From: leaderID, Candidate: leaderID}
}

// Candidacy builds a Candidacy(candidateID) message.
func Candidacy(candidateID NodeID) Message {
	return Message{Type: CandidacyMsg, From: candidateID, Candidate: candidateID}
}

// Vote builds a Vote(voterID, candidateID) message.
func Vote(voterID, candidateID NodeID) Message {
	return Message{Type: VoteMsg, From: voterID, Candidate: candidateID}
}

func (m Message) String() string {
	switch m.Type {
	case VoteMsg:
		return fmt.Sprintf("Vote(%v, %v)", m.From, m.Candidate)
	default:
		return fmt.Sprintf("%v(%v)", m.Type, m.Candidate)
	}
}

var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the timing parameters of the election protocol
type Config struct {
	// HeartbeatTimeout is how long a follower waits without an accepted heartbeat before starting an election.
	// Default: 1 second
	HeartbeatTimeout time.Duration

	// HeartbeatInterval is how often a leader broadcasts a heartbeat. Must be below HeartbeatTimeout.
	// Default: 500 milliseconds
	HeartbeatInterval time.Duration

	// CandidacyWaitMin and CandidacyWaitMax bound the randomized wait a candidate observes before announcing itself.
	// The wait is drawn uniformly from [CandidacyWaitMin, CandidacyWaitMax) for every attempt.
	CandidacyWaitMin time.Duration
	CandidacyWaitMax time.Duration

	// VoteCollectionTimeout is how long an announced candidate collects votes before giving up.
	// Default: 2 seconds
	VoteCollectionTimeout time.Duration

	// TickInterval is the sleep between two iterations of the node loop
	TickInterval time.Duration

	// Seed seeds the per-node random generator. Zero means seed from the clock.
	Seed int64

	// Logger for debugging
	Logger Logger

	// Metrics is optional
	Metrics MetricsCollector
}

// DefaultConfig returns the protocol timings of the reference cluster
func DefaultConfig() *Config {
	return &Config{
		HeartbeatTimeout:      1 * time.Second,
		HeartbeatInterval:     500 * time.Millisecond,
		CandidacyWaitMin:      1 * time.Second,
		CandidacyWaitMax:      3 * time.Second,
		VoteCollectionTimeout: 2 * time.Second,
		TickInterval:          50 * time.Millisecond,
		Logger:                &defaultLogger{},
	}
}

// ValidateConfig checks that the timings are usable
func ValidateConfig(config *Config) error {
	if config == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalidConfig)
	}
	if config.HeartbeatTimeout <= 0 {
		return fmt.Errorf("%w: HeartbeatTimeout must be positive", ErrInvalidConfig)
	}
	if config.HeartbeatInterval <= 0 || config.HeartbeatInterval >= config.HeartbeatTimeout {
		return fmt.Errorf("%w: HeartbeatInterval must be positive and less than HeartbeatTimeout", ErrInvalidConfig)
	}
	if config.CandidacyWaitMin < 0 || config.CandidacyWaitMax <= config.CandidacyWaitMin {
		return fmt.Errorf("%w: CandidacyWaitMax must be greater than CandidacyWaitMin", ErrInvalidConfig)
	}
	if config.VoteCollectionTimeout <= 0 {
		return fmt.Errorf("%w: VoteCollectionTimeout must be positive", ErrInvalidConfig)
	}
	if config.TickInterval <= 0 {
		return fmt.Errorf("%w: TickInterval must be positive", ErrInvalidConfig)
	}
	return nil
}

// Logger interface for logging
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// defaultLogger is a no-op logger implementation
type defaultLogger struct{}

func (l *defaultLogger) Debugf(_ string, _ ...interface{}) {}
func (l *defaultLogger) Infof(_ string, _ ...interface{})  {}
func (l *defaultLogger) Warnf(_ string, _ ...interface{})  {}
func (l *defaultLogger) Errorf(_ string, _ ...interface{}) {}

// MetricsCollector is an optional interface for collecting protocol metrics
type MetricsCollector interface {
	RecordElectionStarted()
	RecordCandidacyAnnounced()
	RecordCandidacyAborted()
	RecordVoteCast()
	RecordHeartbeat()
	RecordLeaderElected(duration time.Duration)
	RecordElectionLost()
	RecordMessageDropped()
}

const (
	// ElectionStarted is published when a follower times out and becomes a candidate.
	ElectionStarted pubsub.EventType = iota
	// CandidacyAnnounced is published when a candidate broadcasts its Candidacy message.
	CandidacyAnnounced
	// CandidacyAborted is published when another node's candidacy cancels ours.
	CandidacyAborted
	// VoteCast is published when a node commits its vote for the round.
	VoteCast
	// LeaderElected is published when a candidate reaches quorum.
	LeaderElected
	// ElectionLost is published when the vote collection deadline passes without quorum.
	ElectionLost
	// LeaderFollowed is published when a node accepts a heartbeat from a new leader.
	LeaderFollowed
	// NodeCrashed is published on Crash.
	NodeCrashed
	// NodeRecovered is published on Recover.
	NodeRecovered
)

// EventName returns a short name for the election event types.
func EventName(t pubsub.EventType) string {
	switch t {
	case ElectionStarted:
		return "election_started"
	case CandidacyAnnounced:
		return "candidacy_announced"
	case CandidacyAborted:
		return "candidacy_aborted"
	case VoteCast:
		return "vote_cast"
	case LeaderElected:
		return "leader_elected"
	case ElectionLost:
		return "election_lost"
	case LeaderFollowed:
		return "leader_followed"
	case NodeCrashed:
		return "node_crashed"
	case NodeRecovered:
		return "node_recovered"
	default:
		return "unknown"
	}
}

// AllEvents lists every event type a Node publishes
var AllEvents = []pubsub.EventType{
	ElectionStarted,
	CandidacyAnnounced,
	CandidacyAborted,
	VoteCast,
	LeaderElected,
	ElectionLost,
	LeaderFollowed,
	NodeCrashed,
	NodeRecovered,
}

// NodeEvent is the payload of every event published by a Node.
type NodeEvent struct {
	Node NodeID
	// Round is the candidacy round the event belongs to. It is uuid.Nil outside of a candidacy.
	Round uuid.UUID
	// Peer is the other node involved: the leader followed, the candidate voted for, the candidacy that aborted ours.
	Peer  NodeID
	Votes int
	At    time.Time
}

// NodeState is a point in time copy of a node's election state
type NodeState struct {
	ID              NodeID
	Status          Status
	Role            Role
	CurrentLeader   NodeID
	VotedFor        NodeID
	ReceivedVotes   int
	LastHeartbeatAt time.Time
	Round           uuid.UUID
}

// Label is the role for an active node and "crashed" otherwise.
func (s NodeState) Label() string {
	if s.Status == Crashed {
		return Crashed.String()
	}
	return s.Role.String()
}
