package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"election-sim/internal/cluster"
	"election-sim/internal/election"
	"election-sim/internal/metrics"
)

type clusterMock struct {
	mock.Mock
}

func (c *clusterMock) Snapshots() []election.NodeState {
	args := c.Called()
	return args.Get(0).([]election.NodeState)
}

func (c *clusterMock) Snapshot(id election.NodeID) (election.NodeState, error) {
	args := c.Called(id)
	return args.Get(0).(election.NodeState), args.Error(1)
}

func (c *clusterMock) Leader() (election.NodeID, bool) {
	args := c.Called()
	return args.Get(0).(election.NodeID), args.Bool(1)
}

func (c *clusterMock) Events(limit int) []cluster.Event {
	args := c.Called(limit)
	return args.Get(0).([]cluster.Event)
}

func (c *clusterMock) Crash(id election.NodeID) error {
	args := c.Called(id)
	return args.Error(0)
}

func (c *clusterMock) Recover(id election.NodeID) error {
	args := c.Called(id)
	return args.Error(0)
}

func (c *clusterMock) Report() (metrics.Report, bool) {
	args := c.Called()
	return args.Get(0).(metrics.Report), args.Bool(1)
}

func serve(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var body T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func threeNodeStates() []election.NodeState {
	heartbeat := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	return []election.NodeState{
		{ID: 0, Status: election.Active, Role: election.Follower, CurrentLeader: 1, VotedFor: 1, LastHeartbeatAt: heartbeat},
		{ID: 1, Status: election.Active, Role: election.Leader, CurrentLeader: 1, VotedFor: 1, ReceivedVotes: 2, LastHeartbeatAt: heartbeat, Round: uuid.New()},
		{ID: 2, Status: election.Crashed, Role: election.Follower, CurrentLeader: election.NoNode, VotedFor: election.NoNode},
	}
}

func TestHandler_State(t *testing.T) {
	c := &clusterMock{}
	c.On("Snapshots").Return(threeNodeStates())
	h := NewHandler(c, nil)

	rec := serve(t, h, http.MethodGet, "/api/state")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	body := decode[ClusterState](t, rec)
	assert.Equal(t, []cluster.NodeSummary{
		{ID: 0, State: "follower"},
		{ID: 1, State: "leader"},
		{ID: 2, State: "crashed"},
	}, body.Nodes)
	require.NotNil(t, body.Leader)
	assert.Equal(t, election.NodeID(1), *body.Leader)

	require.Len(t, body.Details, 3)
	assert.Equal(t, 2, body.Details[1].ReceivedVotes)
	assert.NotEmpty(t, body.Details[1].Round)
	assert.Nil(t, body.Details[2].CurrentLeader)
	assert.Nil(t, body.Details[2].LastHeartbeatAt)
	assert.Equal(t, "crashed", body.Details[2].Status)

	c.AssertExpectations(t)
}

func TestHandler_Leader(t *testing.T) {
	t.Run("elected", func(t *testing.T) {
		c := &clusterMock{}
		c.On("Leader").Return(election.NodeID(2), true)

		rec := serve(t, NewHandler(c, nil), http.MethodGet, "/api/leader")

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, map[string]election.NodeID{"leader": 2}, decode[map[string]election.NodeID](t, rec))
	})

	t.Run("no leader", func(t *testing.T) {
		c := &clusterMock{}
		c.On("Leader").Return(election.NoNode, false)

		rec := serve(t, NewHandler(c, nil), http.MethodGet, "/api/leader")

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "no leader elected", decode[errorResponse](t, rec).Error)
	})
}

func TestHandler_Events(t *testing.T) {
	events := []cluster.Event{{ID: uuid.New(), Type: "leader_elected", Node: 1, Message: "node 1 is now the leader with 2 votes"}}

	c := &clusterMock{}
	c.On("Events", 0).Return(events)
	c.On("Events", 5).Return(events)
	h := NewHandler(c, nil)

	rec := serve(t, h, http.MethodGet, "/api/events")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, events[0].Message, decode[[]cluster.Event](t, rec)[0].Message)

	rec = serve(t, h, http.MethodGet, "/api/events?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)

	for _, bad := range []string{"abc", "-1"} {
		rec = serve(t, h, http.MethodGet, "/api/events?limit="+bad)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "limit=%s", bad)
	}

	c.AssertExpectations(t)
}

func TestHandler_Metrics(t *testing.T) {
	t.Run("cluster metrics", func(t *testing.T) {
		c := &clusterMock{}
		c.On("Report").Return(metrics.Report{ClusterSize: 3, LeadersElected: 2}, true)

		rec := serve(t, NewHandler(c, nil), http.MethodGet, "/api/metrics")

		require.Equal(t, http.StatusOK, rec.Code)
		report := decode[metrics.Report](t, rec)
		assert.Equal(t, 3, report.ClusterSize)
		assert.Equal(t, uint64(2), report.LeadersElected)
	})

	t.Run("external collector", func(t *testing.T) {
		c := &clusterMock{}
		c.On("Report").Return(metrics.Report{}, false)

		rec := serve(t, NewHandler(c, nil), http.MethodGet, "/api/metrics")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandler_Node(t *testing.T) {
	states := threeNodeStates()

	c := &clusterMock{}
	c.On("Snapshot", election.NodeID(1)).Return(states[1], nil)
	c.On("Snapshot", election.NodeID(9)).Return(election.NodeState{}, fmt.Errorf("%w: 9", cluster.ErrUnknownNode))
	h := NewHandler(c, nil)

	rec := serve(t, h, http.MethodGet, "/api/nodes/1")
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[NodeView](t, rec)
	assert.Equal(t, "leader", view.State)
	require.NotNil(t, view.CurrentLeader)
	assert.Equal(t, election.NodeID(1), *view.CurrentLeader)

	rec = serve(t, h, http.MethodGet, "/api/nodes/9")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, decode[errorResponse](t, rec).Error, "unknown node")

	rec = serve(t, h, http.MethodGet, "/api/nodes/one")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_CrashAndRecover(t *testing.T) {
	crashed := election.NodeState{ID: 1, Status: election.Crashed, CurrentLeader: election.NoNode, VotedFor: election.NoNode}
	recovered := election.NodeState{ID: 1, Status: election.Active, Role: election.Follower, CurrentLeader: election.NoNode, VotedFor: election.NoNode}

	c := &clusterMock{}
	c.On("Crash", election.NodeID(1)).Return(nil).Once()
	c.On("Snapshot", election.NodeID(1)).Return(crashed, nil).Once()
	c.On("Recover", election.NodeID(1)).Return(nil).Once()
	c.On("Snapshot", election.NodeID(1)).Return(recovered, nil).Once()
	h := NewHandler(c, nil)

	rec := serve(t, h, http.MethodPost, "/api/nodes/1/crash")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "crashed", decode[NodeView](t, rec).State)

	rec = serve(t, h, http.MethodPost, "/api/nodes/1/recover")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "follower", decode[NodeView](t, rec).State)

	c.AssertExpectations(t)

	t.Run("unknown node", func(t *testing.T) {
		c := &clusterMock{}
		c.On("Crash", election.NodeID(7)).Return(fmt.Errorf("%w: 7", cluster.ErrUnknownNode))

		rec := serve(t, NewHandler(c, nil), http.MethodPost, "/api/nodes/7/crash")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		c.AssertNotCalled(t, "Snapshot", mock.Anything)
	})

	t.Run("only POST changes state", func(t *testing.T) {
		c := &clusterMock{}

		rec := serve(t, NewHandler(c, nil), http.MethodGet, "/api/nodes/1/crash")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
		c.AssertNotCalled(t, "Crash", mock.Anything)
	})
}

func TestHandler_AgainstRealCluster(t *testing.T) {
	cfg := &election.Config{
		HeartbeatTimeout:      150 * time.Millisecond,
		HeartbeatInterval:     30 * time.Millisecond,
		CandidacyWaitMin:      50 * time.Millisecond,
		CandidacyWaitMax:      250 * time.Millisecond,
		VoteCollectionTimeout: 150 * time.Millisecond,
		TickInterval:          5 * time.Millisecond,
	}

	c, err := cluster.New(3, cfg)
	require.NoError(t, err)
	defer c.Stop()

	server := httptest.NewServer(NewHandler(c, nil))
	defer server.Close()

	resp, err := http.Post(server.URL+"/api/nodes/2/crash", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "crashed", c.Describe()[2].State)

	resp, err = http.Post(server.URL+"/api/nodes/3/crash", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
