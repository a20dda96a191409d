package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"election-sim/internal/cluster"
	"election-sim/internal/election"
	"election-sim/internal/metrics"
)

// Cluster is the part of cluster.Cluster the operator surfaces use
type Cluster interface {
	Snapshots() []election.NodeState
	Snapshot(id election.NodeID) (election.NodeState, error)
	Leader() (election.NodeID, bool)
	Events(limit int) []cluster.Event
	Crash(id election.NodeID) error
	Recover(id election.NodeID) error
	Report() (metrics.Report, bool)
}

// NodeView is the JSON form of election.NodeState
type NodeView struct {
	ID              election.NodeID  `json:"id"`
	State           string           `json:"state"`
	Status          string           `json:"status"`
	Role            string           `json:"role"`
	CurrentLeader   *election.NodeID `json:"currentLeader"`
	VotedFor        *election.NodeID `json:"votedFor"`
	ReceivedVotes   int              `json:"receivedVotes"`
	LastHeartbeatAt *time.Time       `json:"lastHeartbeatAt"`
	Round           string           `json:"round,omitempty"`
}

// ClusterState is the body of GET /api/state
type ClusterState struct {
	Nodes     []cluster.NodeSummary `json:"nodes"`
	Details   []NodeView            `json:"details"`
	Leader    *election.NodeID      `json:"leader"`
	Timestamp time.Time             `json:"timestamp"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler serves the HTTP operator API
type Handler struct {
	cluster Cluster
	logger  election.Logger
	router  *mux.Router
}

// NewHandler builds the /api routes for c.
func NewHandler(c Cluster, logger election.Logger) *Handler {
	if logger == nil {
		logger = election.DefaultConfig().Logger
	}

	h := &Handler{
		cluster: c,
		logger:  logger,
		router:  mux.NewRouter(),
	}

	sr := h.router.PathPrefix("/api").Subrouter()
	sr.Path("/state").Methods(http.MethodGet).HandlerFunc(h.handleState)
	sr.Path("/leader").Methods(http.MethodGet).HandlerFunc(h.handleLeader)
	sr.Path("/events").Methods(http.MethodGet).HandlerFunc(h.handleEvents)
	sr.Path("/metrics").Methods(http.MethodGet).HandlerFunc(h.handleMetrics)

	sr.Handle("/nodes/{id}", withNodeID(http.HandlerFunc(h.handleNode))).Methods(http.MethodGet)
	sr.Handle("/nodes/{id}/crash", withNodeID(http.HandlerFunc(h.handleCrash))).Methods(http.MethodPost)
	sr.Handle("/nodes/{id}/recover", withNodeID(http.HandlerFunc(h.handleRecover))).Methods(http.MethodPost)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) handleState(w http.ResponseWriter, _ *http.Request) {
	snapshots := h.cluster.Snapshots()

	state := ClusterState{
		Nodes:     make([]cluster.NodeSummary, 0, len(snapshots)),
		Details:   make([]NodeView, 0, len(snapshots)),
		Timestamp: time.Now(),
	}
	// a single pass keeps nodes, details and leader consistent with each other
	var leaders []election.NodeID
	for _, s := range snapshots {
		state.Nodes = append(state.Nodes, cluster.NodeSummary{ID: s.ID, State: s.Label()})
		state.Details = append(state.Details, toView(s))
		if s.Status == election.Active && s.Role == election.Leader {
			leaders = append(leaders, s.ID)
		}
	}
	if len(leaders) == 1 {
		state.Leader = &leaders[0]
	}

	writeJSON(w, http.StatusOK, state)
}

func (h *Handler) handleLeader(w http.ResponseWriter, _ *http.Request) {
	leader, ok := h.cluster.Leader()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, errors.New("no leader elected"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]election.NodeID{"leader": leader})
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	writeJSON(w, http.StatusOK, h.cluster.Events(limit))
}

func (h *Handler) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	report, ok := h.cluster.Report()
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("metrics are collected externally"))
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleNode(w http.ResponseWriter, r *http.Request) {
	id, _ := GetCtxKey(r.Context(), nodeIDKey)

	state, err := h.cluster.Snapshot(id)
	if err != nil {
		h.writeClusterError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toView(state))
}

func (h *Handler) handleCrash(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, "crash", h.cluster.Crash)
}

func (h *Handler) handleRecover(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, "recover", h.cluster.Recover)
}

func (h *Handler) control(w http.ResponseWriter, r *http.Request, action string, apply func(election.NodeID) error) {
	id, _ := GetCtxKey(r.Context(), nodeIDKey)

	if err := apply(id); err != nil {
		h.writeClusterError(w, err)
		return
	}
	h.logger.Infof("[API] %s node %v", action, id)

	state, err := h.cluster.Snapshot(id)
	if err != nil {
		h.writeClusterError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toView(state))
}

func (h *Handler) writeClusterError(w http.ResponseWriter, err error) {
	if errors.Is(err, cluster.ErrUnknownNode) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	h.logger.Errorf("[API] request failed: %v", err)
	writeError(w, http.StatusInternalServerError, err)
}

func toView(s election.NodeState) NodeView {
	view := NodeView{
		ID:            s.ID,
		State:         s.Label(),
		Status:        s.Status.String(),
		Role:          s.Role.String(),
		ReceivedVotes: s.ReceivedVotes,
	}
	if s.CurrentLeader != election.NoNode {
		leader := s.CurrentLeader
		view.CurrentLeader = &leader
	}
	if s.VotedFor != election.NoNode {
		votedFor := s.VotedFor
		view.VotedFor = &votedFor
	}
	if !s.LastHeartbeatAt.IsZero() {
		at := s.LastHeartbeatAt
		view.LastHeartbeatAt = &at
	}
	if s.Round != uuid.Nil {
		view.Round = s.Round.String()
	}
	return view
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
