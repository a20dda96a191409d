package election

import (
	"context"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/willf/bitset"
	"go.uber.org/atomic"

	"election-sim/internal/pubsub"
)

// Node runs the election state machine of one cluster member. All protocol state is owned by the goroutine executing
// Run; Crash and Recover may be called from any goroutine.
type Node struct {
	nodeState

	id        NodeID
	config    *Config
	logger    Logger
	transport Transport
	pubSub    *pubsub.PubSubClient

	// rng is only used from the node loop
	rng *rand.Rand
	now func() time.Time

	running *atomic.Bool
}

// Option customizes a Node
type Option func(*Node)

// WithRand sets the generator used to draw the candidacy wait
func WithRand(r *rand.Rand) Option {
	return func(n *Node) {
		n.rng = r
	}
}

// WithPubSub makes the node publish its transitions on p
func WithPubSub(p *pubsub.PubSubClient) Option {
	return func(n *Node) {
		n.pubSub = p
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(n *Node) {
		n.now = now
	}
}

// NewNode creates an active follower. The config is expected to be valid, see ValidateConfig.
func NewNode(id NodeID, config *Config, transport Transport, opts ...Option) *Node {
	logger := config.Logger
	if logger == nil {
		logger = &defaultLogger{}
	}

	n := &Node{
		nodeState: newNodeState(),
		id:        id,
		config:    config,
		logger:    logger,
		transport: transport,
		now:       time.Now,
		running:   atomic.NewBool(false),
	}

	for _, opt := range opts {
		opt(n)
	}

	if n.rng == nil {
		seed := config.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		n.rng = rand.New(rand.NewSource(seed + int64(id)))
	}

	return n
}

// ID returns the node id
func (n *Node) ID() NodeID {
	return n.id
}

// Run executes the node loop until ctx is cancelled. It keeps running while the node is crashed so that a later
// Recover takes effect on the next tick. A second concurrent call returns immediately.
func (n *Node) Run(ctx context.Context) {
	if !n.running.CompareAndSwap(false, true) {
		n.logger.Warnf("[NODE-%v] Run called while already running", n.id)
		return
	}
	defer n.running.Store(false)

	n.logger.Infof("[NODE-%v] started", n.id)

	ticker := time.NewTicker(n.config.TickInterval)
	defer ticker.Stop()

	for {
		n.tick()

		select {
		case <-ctx.Done():
			n.logger.Infof("[NODE-%v] stopping: %v", n.id, ctx.Err())
			return
		case <-ticker.C:
		}
	}
}

func (n *Node) tick() {
	n.drain()
	n.step(n.now())
}

// drain dispatches every pending message. Crashed nodes leave their (closed, empty) inbox alone.
func (n *Node) drain() {
	for {
		n.mu.Lock()
		if n.status != Active {
			n.mu.Unlock()
			return
		}

		msg, ok := n.transport.DrainOne(n.id)
		if !ok {
			n.mu.Unlock()
			return
		}

		n.dispatch(msg, n.now())
		n.mu.Unlock()
	}
}

// Deliver dispatches msg as if it had been drained from the inbox. Crashed nodes ignore it.
func (n *Node) Deliver(msg Message) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.status != Active {
		return
	}
	n.dispatch(msg, n.now())
}

// dispatch handles one message. Caller holds mu and has checked that the node is active.
func (n *Node) dispatch(msg Message, now time.Time) {
	switch msg.Type {
	case HeartbeatMsg:
		n.handleHeartbeat(msg.Candidate, now)
	case CandidacyMsg:
		n.handleCandidacy(msg.Candidate, now)
	case VoteMsg:
		n.handleVote(msg.From, msg.Candidate, now)
	default:
		n.logger.Warnf("[NODE-%v] Unknown message type: %v", n.id, msg.Type)
	}
}

// handleHeartbeat accepts leaderID as leader. A heartbeat always pre-empts a running candidacy or our own leadership.
func (n *Node) handleHeartbeat(leaderID NodeID, now time.Time) {
	previous := n.currentLeader
	n.currentLeader = leaderID
	n.lastHeartbeatAt = now

	if n.role != Follower {
		n.logger.Infof("[NODE-%v] now follows leader %v", n.id, leaderID)
		n.toFollower()
	}

	if previous != leaderID {
		n.logger.Debugf("[NODE-%v] accepted heartbeat from new leader %v", n.id, leaderID)
		n.publish(LeaderFollowed, NodeEvent{Node: n.id, Peer: leaderID, At: now})
	}
}

// handleCandidacy implements first-candidacy-seen-wins: any other node's Candidacy cancels ours, then we vote for it
// unless we already voted in this round.
func (n *Node) handleCandidacy(candidateID NodeID, now time.Time) {
	if n.role == Candidate && candidateID != n.id {
		round := n.candidacy.round
		n.logger.Infof("[NODE-%v] candidacy aborted by node %v", n.id, candidateID)
		n.toFollower()

		if n.config.Metrics != nil {
			n.config.Metrics.RecordCandidacyAborted()
		}
		n.publish(CandidacyAborted, NodeEvent{Node: n.id, Round: round, Peer: candidateID, At: now})
	}

	if n.votedFor != NoNode {
		n.logger.Debugf("[NODE-%v] ignoring candidacy of %v, already voted for %v", n.id, candidateID, n.votedFor)
		return
	}

	n.votedFor = candidateID
	n.logger.Infof("[NODE-%v] votes for node %v", n.id, candidateID)
	n.transport.Broadcast(n.id, Vote(n.id, candidateID))

	if n.config.Metrics != nil {
		n.config.Metrics.RecordVoteCast()
	}
	n.publish(VoteCast, NodeEvent{Node: n.id, Peer: candidateID, At: now})
}

// handleVote counts a vote for us. Votes for other candidates, or arriving outside of an announced candidacy, are
// stale and ignored.
func (n *Node) handleVote(voterID, candidateID NodeID, now time.Time) {
	if candidateID != n.id || n.role != Candidate || !n.candidacy.announced {
		return
	}
	if voterID < 0 {
		return
	}

	n.candidacy.votes.Set(uint(voterID))
	n.logger.Debugf("[NODE-%v] received vote from %v (%d/%d)", n.id, voterID, n.candidacy.voteCount(), n.transport.Size())

	if n.hasQuorum() {
		n.becomeLeader(now)
	}
}

// step evaluates the timeout driven transitions for the current role.
func (n *Node) step(now time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.status != Active {
		return
	}

	switch n.role {
	case Follower:
		if n.lastHeartbeatAt.IsZero() || now.Sub(n.lastHeartbeatAt) > n.config.HeartbeatTimeout {
			n.startElection(now)
		}
	case Candidate:
		c := n.candidacy
		switch {
		case !c.announced:
			if !now.Before(c.waitUntil) {
				n.announce(now)
			}
		case n.hasQuorum():
			n.becomeLeader(now)
		case !now.Before(c.voteDeadline):
			n.loseElection(now)
		}
	case Leader:
		if n.lastHeartbeatSent.IsZero() || now.Sub(n.lastHeartbeatSent) >= n.config.HeartbeatInterval {
			n.transport.Broadcast(n.id, Heartbeat(n.id))
			n.lastHeartbeatSent = now
			n.lastHeartbeatAt = now

			if n.config.Metrics != nil {
				n.config.Metrics.RecordHeartbeat()
			}
		}
	}
}

// startElection turns a follower into a candidate that waits a random time before announcing itself.
func (n *Node) startElection(now time.Time) {
	wait := n.drawCandidacyWait()

	n.role = Candidate
	n.currentLeader = NoNode
	n.votedFor = NoNode
	n.candidacy = &candidacy{
		round:     uuid.New(),
		startedAt: now,
		waitUntil: now.Add(wait),
	}

	n.logger.Infof("[NODE-%v] started an election (round %s, announcing in %v)", n.id, n.candidacy.round, wait)

	if n.config.Metrics != nil {
		n.config.Metrics.RecordElectionStarted()
	}
	n.publish(ElectionStarted, NodeEvent{Node: n.id, Round: n.candidacy.round, Peer: NoNode, At: now})
}

func (n *Node) drawCandidacyWait() time.Duration {
	span := n.config.CandidacyWaitMax - n.config.CandidacyWaitMin
	return n.config.CandidacyWaitMin + time.Duration(n.rng.Int63n(int64(span)))
}

// announce broadcasts Candidacy(self) once the wait window passed without another candidacy, and votes for itself.
func (n *Node) announce(now time.Time) {
	c := n.candidacy

	n.transport.Broadcast(n.id, Candidacy(n.id))
	n.votedFor = n.id
	c.announced = true
	c.votes = bitset.New(uint(n.transport.Size()))
	c.votes.Set(uint(n.id))
	c.voteDeadline = now.Add(n.config.VoteCollectionTimeout)

	n.logger.Infof("[NODE-%v] sent a candidacy message (round %s)", n.id, c.round)

	if n.config.Metrics != nil {
		n.config.Metrics.RecordCandidacyAnnounced()
	}
	n.publish(CandidacyAnnounced, NodeEvent{Node: n.id, Round: c.round, Peer: NoNode, Votes: 1, At: now})

	// a single node cluster is its own quorum
	if n.hasQuorum() {
		n.becomeLeader(now)
	}
}

// hasQuorum reports whether the announced candidacy holds a strict majority of the cluster. Caller holds mu.
func (n *Node) hasQuorum() bool {
	return n.candidacy != nil && n.candidacy.announced && n.candidacy.voteCount() > n.transport.Size()/2
}

func (n *Node) becomeLeader(now time.Time) {
	c := n.candidacy

	n.role = Leader
	n.currentLeader = n.id
	n.lastHeartbeatAt = now
	n.lastHeartbeatSent = time.Time{}
	n.electedRound = c.round
	n.electedVotes = c.voteCount()
	n.candidacy = nil

	n.logger.Infof("[NODE-%v] is now the leader with %d/%d votes (round %s)", n.id, n.electedVotes, n.transport.Size(), c.round)

	if n.config.Metrics != nil {
		n.config.Metrics.RecordLeaderElected(now.Sub(c.startedAt))
	}
	n.publish(LeaderElected, NodeEvent{Node: n.id, Round: c.round, Peer: n.id, Votes: n.electedVotes, At: now})
}

// loseElection reverts to follower without a heartbeat, so the next tick starts a fresh attempt.
func (n *Node) loseElection(now time.Time) {
	c := n.candidacy
	votes := c.voteCount()

	n.toFollower()
	n.lastHeartbeatAt = time.Time{}

	n.logger.Infof("[NODE-%v] lost the election with %d/%d votes (round %s)", n.id, votes, n.transport.Size(), c.round)

	if n.config.Metrics != nil {
		n.config.Metrics.RecordElectionLost()
	}
	n.publish(ElectionLost, NodeEvent{Node: n.id, Round: c.round, Peer: NoNode, Votes: votes, At: now})
}

// Crash makes the node deaf and mute until Recover. Crashing a crashed node is a no-op.
func (n *Node) Crash() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.status == Crashed {
		return
	}

	n.status = Crashed
	n.transport.Close(n.id)
	n.clearElectionState()

	n.logger.Warnf("[NODE-%v] crashed", n.id)
	n.publish(NodeCrashed, NodeEvent{Node: n.id, Peer: NoNode, At: n.now()})
}

// Recover brings a crashed node back as a follower with no leader and no heartbeat, so it either hears from the
// current leader soon or starts its own election. Recovering an active node is a no-op.
func (n *Node) Recover() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.status == Active {
		return
	}

	n.transport.Open(n.id)
	n.clearElectionState()
	n.status = Active

	n.logger.Infof("[NODE-%v] recovered", n.id)
	n.publish(NodeRecovered, NodeEvent{Node: n.id, Peer: NoNode, At: n.now()})
}

// Snapshot returns a copy of the node's current election state
func (n *Node) Snapshot() NodeState {
	n.mu.Lock()
	defer n.mu.Unlock()

	votes := n.candidacy.voteCount()
	if n.role == Leader {
		votes = n.electedVotes
	}

	return NodeState{
		ID:              n.id,
		Status:          n.status,
		Role:            n.role,
		CurrentLeader:   n.currentLeader,
		VotedFor:        n.votedFor,
		ReceivedVotes:   votes,
		LastHeartbeatAt: n.lastHeartbeatAt,
		Round:           n.round(),
	}
}

func (n *Node) publish(eventType pubsub.EventType, payload NodeEvent) {
	if n.pubSub == nil {
		return
	}
	pubsub.Publish(n.pubSub, pubsub.NewEvent(eventType, payload))
}
