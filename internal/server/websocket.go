package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/thiagokokada/gitcore/internal/git/backend"
	"github.com/thiagokokada/gitcore/internal/watch"
)

const writeWait = 10 * time.Second

// readUntilClosed discards client messages and closes the returned channel
// once the peer goes away.
func readUntilClosed(conn *websocket.Conn) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return done
}

func writeClose(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

// handleEvents streams bus events as JSON. With a commandId the socket is
// closed after that command's terminal event; without one every event is
// forwarded until the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("commandId")
	sub := s.bus.Subscribe(id)
	defer sub.Close()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		return
	}
	defer conn.Close()

	closed := readUntilClosed(conn)
	for {
		select {
		case <-closed:
			return
		case ev, ok := <-sub.Events():
			if !ok {
				writeClose(conn)
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				s.logger.Debug("websocket write failed", slog.String("commandId", ev.CommandID), slog.Any("error", err))
				return
			}
			if id != "" && ev.Terminal() {
				writeClose(conn)
				return
			}
		}
	}
}

// handleWatch notifies the client whenever the repository metadata changes.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	info, err := s.svc.DetectRepository(r.URL.Query().Get("repositoryPath"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !info.IsRepository {
		s.writeError(w, r, fmt.Errorf("%w: not a git repository", backend.ErrInvalidPath))
		return
	}
	watcher, err := watch.New(info.WorktreeRoot, info.GitDir, s.delay, s.logger)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer watcher.Close()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		return
	}
	defer conn.Close()

	s.logger.Debug("watching repository", slog.String("root", info.WorktreeRoot))
	closed := readUntilClosed(conn)
	for {
		select {
		case <-closed:
			return
		case change, ok := <-watcher.Changes():
			if !ok {
				writeClose(conn)
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(change); err != nil {
				return
			}
		}
	}
}
