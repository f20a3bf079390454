package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/gridpull/gridpull/pkg/log"
	"github.com/gridpull/gridpull/pkg/registry"
)

func closeDeadline() time.Time {
	return time.Now().Add(time.Second)
}

// upgrader accepts any origin: the channel peers are worker processes,
// not browsers
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleWorkerChannel upgrades the connection and pumps frames between
// the worker and the protocol handler until either side closes
func (s *Server) handleWorkerChannel(w http.ResponseWriter, r *http.Request) {
	workerID := chi.URLParam(r, "worker_id")
	logger := log.WithWorkerID(workerID)

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := registry.NewWSConn(ws)
	if err := s.registry.Attach(workerID, conn); err != nil {
		logger.Warn().Err(err).Msg("worker channel refused")
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unknown worker"),
			closeDeadline())
		_ = ws.Close()
		return
	}
	defer ws.Close()
	defer s.registry.Detach(workerID, conn)

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn().Err(err).Msg("worker channel dropped")
			}
			return
		}
		s.protocol.Handle(workerID, raw)
	}
}
