package handlers

import (
	"net/http"
	"time"

	"github.com/dvloznov/invoice-verifier/internal/domain"
	"github.com/dvloznov/invoice-verifier/internal/stream"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Subscriber hands out activity subscriptions.
type Subscriber interface {
	Subscribe(buffer int) *stream.Subscription
}

// ActivityHandler streams processing events over a websocket.
type ActivityHandler struct {
	hub         Subscriber
	departments DepartmentResolver
	buffer      int
	upgrader    websocket.Upgrader
	log         zerolog.Logger
}

// NewActivityHandler creates a new activity handler. buffer is the
// per-connection event buffer; a slow client loses events beyond it.
func NewActivityHandler(hub Subscriber, departments DepartmentResolver, buffer int, log zerolog.Logger) *ActivityHandler {
	return &ActivityHandler{
		hub:         hub,
		departments: departments,
		buffer:      buffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: log,
	}
}

// Stream handles GET /api/activity?department=&verdict=
// Each processed document is sent as one JSON text message.
func (h *ActivityHandler) Stream(w http.ResponseWriter, r *http.Request) {
	filter, err := parseAuditFilter(r.URL.Query(), h.departments)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		h.log.Debug().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	sub := h.hub.Subscribe(h.buffer)
	defer sub.Close()

	log := h.log.With().Str("remote_addr", r.RemoteAddr).Logger()
	log.Info().Msg("Activity subscriber connected")
	defer func() {
		log.Info().Uint64("dropped", sub.Dropped()).Msg("Activity subscriber disconnected")
	}()

	// The reader only services control frames and notices disconnects.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-sub.Events():
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(writeWait))
				return
			}
			if !eventMatches(filter, e) {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(e); err != nil {
				log.Debug().Err(err).Msg("Activity write failed")
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}

func eventMatches(f domain.AuditFilter, e domain.ProcessingEvent) bool {
	if f.Department != "" && e.Record.Department != f.Department {
		return false
	}
	if f.Verdict != "" && e.Verdict != f.Verdict {
		return false
	}
	if f.From != nil && e.Record.Date.Before(*f.From) {
		return false
	}
	if f.To != nil && e.Record.Date.After(*f.To) {
		return false
	}
	return true
}
