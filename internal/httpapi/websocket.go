package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

// streamComments отдаёт новые комментарии статьи по websocket.
// Подписка оформляется до апгрейда соединения, чтобы не потерять комментарии,
// добавленные сразу после рукопожатия.
func (s *Server) streamComments(w http.ResponseWriter, r *http.Request) {
	postID := chi.URLParam(r, "id")
	if _, err := s.posts.Get(r.Context(), principal(r), postID); err != nil {
		s.writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	events := s.observer.Subscribe(ctx, postID)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade сам ответил клиенту
		s.logger.WarnContext(ctx, "websocket upgrade failed", "post_id", postID, "err", err)
		return
	}
	defer conn.Close()

	// Читаем только для того, чтобы заметить закрытие соединения клиентом
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(c); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
