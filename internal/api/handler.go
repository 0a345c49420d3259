package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"netaccess/internal/monitor"
	"netaccess/internal/portal"
	"netaccess/internal/storage"
	"netaccess/internal/storage/models"
)

// Response is the envelope of every API reply.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// StatusView is the JSON form of the system status.
type StatusView struct {
	IP              string `json:"ip"`
	Active          bool   `json:"active"`
	ServerActive    bool   `json:"serverActive"`
	TimeLeftSeconds int64  `json:"timeLeftSeconds"`
	TimeLeft        string `json:"timeLeft"`
	Version         uint64 `json:"version"`
}

// StateView is the JSON form of a lifecycle state.
type StateView struct {
	State           string `json:"state"`
	Message         string `json:"message"`
	IP              string `json:"ip,omitempty"`
	SuspendSeconds  int64  `json:"suspendSeconds,omitempty"`
	Error           string `json:"error,omitempty"`
	CanWake         bool   `json:"canWake"`
	CanRetry        bool   `json:"canRetry"`
	ObservedVersion uint64 `json:"observedVersion"`
}

type Handler struct {
	status *monitor.Latest[portal.SystemStatus]
	states *monitor.Latest[monitor.State]
	store  storage.Storage
	now    func() time.Time
}

func NewHandler(opts Options) *Handler {
	return &Handler{
		status: opts.Status,
		states: opts.States,
		store:  opts.Store,
		now:    opts.Now,
	}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{"time": h.now().UTC().Format(time.RFC3339)}})
}

func (h *Handler) GetStatus(c *gin.Context) {
	if h.status == nil {
		unavailable(c, "status is not published")
		return
	}
	st, ok := h.status.Load()
	if !ok {
		unavailable(c, "no status received yet")
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: statusView(st, h.status.Version())})
}

func (h *Handler) GetState(c *gin.Context) {
	state, ok := h.currentState()
	if !ok {
		unavailable(c, "no monitor state received yet")
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: stateView(state, h.states.Version())})
}

func (h *Handler) Wake(c *gin.Context) {
	h.respond(c, monitor.ActionWake, monitor.KindSuspended)
}

func (h *Handler) Retry(c *gin.Context) {
	h.respond(c, monitor.ActionRetry, monitor.KindError)
}

func (h *Handler) respond(c *gin.Context, action monitor.Action, want monitor.Kind) {
	state, ok := h.currentState()
	if !ok {
		unavailable(c, "no monitor state received yet")
		return
	}
	if state.Kind() != want {
		c.JSON(http.StatusConflict, Response{
			Success: false,
			Error:   "monitor is " + state.Kind().String() + ", not " + want.String(),
		})
		return
	}
	if !state.Respond(action) {
		c.JSON(http.StatusConflict, Response{Success: false, Error: "signal already delivered"})
		return
	}
	c.JSON(http.StatusAccepted, Response{Success: true})
}

func (h *Handler) GetHistory(c *gin.Context) {
	filter := storage.ActionFilter{
		RunID:    c.Query("run"),
		Username: c.Query("user"),
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, Response{Success: false, Error: "limit must be a non-negative integer"})
			return
		}
		filter.Limit = limit
	}
	if raw := c.Query("kind"); raw != "" {
		kind := models.ActionKind(raw)
		filter.Kind = &kind
	}

	actions, err := h.store.ListActions(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: err.Error()})
		return
	}
	if actions == nil {
		actions = []*models.Action{}
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: actions})
}

func (h *Handler) currentState() (monitor.State, bool) {
	if h.states == nil {
		return nil, false
	}
	state, ok := h.states.Load()
	if !ok || state == nil {
		return nil, false
	}
	return state, true
}

func statusView(st portal.SystemStatus, version uint64) StatusView {
	return StatusView{
		IP:              st.IP.String(),
		Active:          st.IsActive(),
		ServerActive:    st.ServerActive,
		TimeLeftSeconds: int64(st.TimeLeft / time.Second),
		TimeLeft:        portal.FormatDuration(st.TimeLeft),
		Version:         version,
	}
}

func stateView(state monitor.State, version uint64) StateView {
	view := StateView{
		State:           state.Kind().String(),
		Message:         state.String(),
		ObservedVersion: version,
	}
	switch s := state.(type) {
	case monitor.Approving:
		view.IP = s.IP.String()
	case monitor.Suspended:
		view.SuspendSeconds = int64(s.Duration / time.Second)
		view.CanWake = true
	case monitor.Error:
		view.Error = s.Cause.Error()
		view.CanRetry = true
	}
	return view
}

func unavailable(c *gin.Context, msg string) {
	c.JSON(http.StatusServiceUnavailable, Response{Success: false, Error: msg})
}
