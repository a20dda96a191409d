package election

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/willf/bitset"
)

// candidacy holds everything that only exists while a node is a Candidate. It is nil in every other role, so a
// follower or leader can never carry a stale deadline or vote set.
type candidacy struct {
	// round identifies this election attempt in logs and events
	round     uuid.UUID
	startedAt time.Time
	// waitUntil ends the randomized window during which another node's Candidacy aborts ours
	waitUntil time.Time
	// announced is set once Candidacy(self) has been broadcast. The fields below are only valid afterwards.
	announced    bool
	voteDeadline time.Time
	// votes has one bit per voter id that acknowledged us in this round, ourselves included
	votes *bitset.BitSet
}

func (c *candidacy) voteCount() int {
	if c == nil || c.votes == nil {
		return 0
	}
	return int(c.votes.Count())
}

// nodeState is the mutable election state of a Node. The node's own loop and the operator's Crash/Recover calls both
// go through mu; every state-committing transition re-checks status and role while holding it.
type nodeState struct {
	// Protects all fields below
	mu sync.Mutex

	status Status
	// role is meaningless while status is Crashed
	role Role
	// currentLeader is the node this node believes leads, NoNode if unknown
	currentLeader NodeID
	// lastHeartbeatAt is the time the last heartbeat was accepted. The zero time means none.
	lastHeartbeatAt time.Time
	// votedFor is the candidate this node voted for in the current round, NoNode if it has not voted
	votedFor NodeID
	// candidacy is non-nil exactly while role is Candidate
	candidacy *candidacy

	// lastHeartbeatSent is when this node, as leader, last broadcast a heartbeat
	lastHeartbeatSent time.Time
	// electedRound and electedVotes record the candidacy that made this node leader
	electedRound uuid.UUID
	electedVotes int
}

func newNodeState() nodeState {
	return nodeState{
		status:        Active,
		role:          Follower,
		currentLeader: NoNode,
		votedFor:      NoNode,
	}
}

// toFollower drops any candidacy or leadership and clears the vote. Caller holds mu.
func (s *nodeState) toFollower() {
	s.role = Follower
	s.candidacy = nil
	s.votedFor = NoNode
	s.lastHeartbeatSent = time.Time{}
}

// clearElectionState wipes everything a crash or recovery must not carry over. Caller holds mu.
func (s *nodeState) clearElectionState() {
	s.toFollower()
	s.currentLeader = NoNode
	s.lastHeartbeatAt = time.Time{}
	s.electedRound = uuid.Nil
	s.electedVotes = 0
}

func (s *nodeState) round() uuid.UUID {
	if s.candidacy != nil {
		return s.candidacy.round
	}
	if s.role == Leader {
		return s.electedRound
	}
	return uuid.Nil
}

func (s *nodeState) getStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *nodeState) getRole() Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

func (s *nodeState) getCurrentLeader() NodeID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentLeader
}

func (s *nodeState) getVotedFor() NodeID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.votedFor
}
