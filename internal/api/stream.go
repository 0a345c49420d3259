package api

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	streamWriteTimeout = 10 * time.Second
	streamPongTimeout  = 60 * time.Second
	streamPingInterval = 25 * time.Second
)

// Frame is the wire format of messages pushed over /api/events.
type Frame struct {
	Type    string      `json:"type"` // state, status
	Payload interface{} `json:"payload"`
}

// streamHub upgrades /api/events requests and ends every stream on shutdown.
// Hijacked connections are not closed by http.Server.Shutdown.
type streamHub struct {
	handler  *Handler
	log      logrus.FieldLogger
	upgrader websocket.Upgrader

	closing   chan struct{}
	closeOnce sync.Once
}

func newStreamHub(h *Handler, logger logrus.FieldLogger) *streamHub {
	return &streamHub{
		handler: h,
		log:     logger.WithField("component", "stream"),
		// The default origin check only admits same-host browsers and
		// clients that send no Origin.
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		closing: make(chan struct{}),
	}
}

func (s *streamHub) close() {
	s.closeOnce.Do(func() { close(s.closing) })
}

// Events pushes every state and status change until the client leaves.
func (s *streamHub) Events(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()

	readDone := make(chan struct{})
	go s.readLoop(conn, readDone)

	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()

	h := s.handler
	var stateSeen, statusSeen uint64
	for {
		// Take the wake-up channels before reading so no Store is missed.
		var stateC, statusC <-chan struct{}
		if h.states != nil {
			stateC = h.states.Changed()
			if v := h.states.Version(); v > stateSeen {
				if state, ok := h.currentState(); ok {
					if err := s.write(conn, Frame{Type: "state", Payload: stateView(state, v)}); err != nil {
						return
					}
				}
				stateSeen = v
			}
		}
		if h.status != nil {
			statusC = h.status.Changed()
			if v := h.status.Version(); v > statusSeen {
				if st, ok := h.status.Load(); ok {
					if err := s.write(conn, Frame{Type: "status", Payload: statusView(st, v)}); err != nil {
						return
					}
				}
				statusSeen = v
			}
		}

		select {
		case <-stateC:
		case <-statusC:
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-readDone:
			return
		case <-s.closing:
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
			conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return
		}
	}
}

func (s *streamHub) write(conn *websocket.Conn, frame Frame) error {
	conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	if err := conn.WriteJSON(frame); err != nil {
		s.log.WithError(err).Debug("websocket write failed")
		return err
	}
	return nil
}

// readLoop discards client messages and notices when the client goes away.
func (s *streamHub) readLoop(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(1024)
	conn.SetReadDeadline(time.Now().Add(streamPongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(streamPongTimeout))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.WithError(err).Debug("websocket read error")
			}
			return
		}
	}
}
