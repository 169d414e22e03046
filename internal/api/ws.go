package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Время на запись одного сообщения клиенту.
	writeWait = 10 * time.Second
	// Время ожидания следующего pong от клиента.
	pongWait = 60 * time.Second
	// Период пингов, меньше pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Клиент ничего не шлет, кроме control-фреймов.
	maxMessageSize = 512
)

func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = struct{}{}
	}
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			if _, ok := allowed["*"]; ok {
				return true
			}
			_, ok := allowed[origin]
			return ok
		},
	}
}

// streamTask отдает снимки задачи по websocket до ее завершения.
func (h *Handler) streamTask(c *gin.Context) {
	taskID := c.Param("id")
	updates, unsubscribe, ok := h.tasks.Subscribe(taskID)
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, ErrorResponse{Code: ErrCodeTaskNotFound, Message: "Task not found"})
		return
	}
	defer unsubscribe()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade connection", zap.String("taskID", taskID), zap.Error(err))
		return
	}
	defer conn.Close()

	wsConnectionsActive.Inc()
	defer wsConnectionsActive.Dec()

	log := h.logger.With(zap.String("taskID", taskID))
	log.Info("Progress stream opened")

	closed := make(chan struct{})
	go readPump(conn, closed, log)
	writePump(conn, updates, closed, log)
}

// readPump читает control-фреймы и сообщает о закрытии соединения клиентом.
func readPump(conn *websocket.Conn, closed chan<- struct{}, log *zap.Logger) {
	defer close(closed)
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}
		log.Debug("Received unexpected message from client (ignored)")
	}
}

// writePump пишет снимки задачи и пинги до закрытия подписки или соединения.
func writePump(conn *websocket.Conn, updates <-chan TaskSnapshot, closed <-chan struct{}, log *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case snapshot, ok := <-updates:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "task finished")
				_ = conn.WriteMessage(websocket.CloseMessage, msg)
				log.Info("Progress stream finished")
				return
			}
			if err := conn.WriteJSON(snapshot); err != nil {
				log.Warn("Failed to write progress snapshot", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug("Ping failed, closing stream", zap.Error(err))
				return
			}
		case <-closed:
			log.Info("Progress stream closed by client")
			return
		}
	}
}
