package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sinanzx3473-web/0xzero-nation-state/pkg/auditlog"
)

const (
	eventBuffer       = 64
	keepaliveInterval = 15 * time.Second
	wsWriteTimeout    = 10 * time.Second
)

var errEvicted = errors.New("subscriber evicted")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// resumePoint returns the last sequence the client has already seen. It
// reads, in order, the Last-Event-ID header, ?last_event_id=N and ?from=N
// (first sequence wanted). With none of them the stream starts live.
func (s *Server) resumePoint(r *http.Request) (uint64, error) {
	q := r.URL.Query()
	last := r.Header.Get("Last-Event-ID")
	if last == "" {
		last = q.Get("last_event_id")
	}
	if last != "" {
		n, err := strconv.ParseUint(last, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid Last-Event-ID: %q", last)
		}
		return n, nil
	}
	if v := q.Get("from"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil || n == 0 {
			return 0, fmt.Errorf("invalid from: %q", v)
		}
		return n - 1, nil
	}
	return s.log.Sequence(), nil
}

// streamEntries backfills everything after last, then forwards live
// entries from sub until ctx ends. Entries are delivered once, in order.
// It returns errEvicted when sub was dropped for falling behind.
func (s *Server) streamEntries(ctx context.Context, sub *auditlog.Subscription, last uint64,
	emit func(*auditlog.Entry) error, keepalive func() error,
) error {
	send := func(e *auditlog.Entry) error {
		if e.Sequence <= last {
			return nil
		}
		if err := emit(e); err != nil {
			return err
		}
		last = e.Sequence
		return nil
	}

	for _, e := range s.log.Query(auditlog.Filter{FromSeq: last + 1}) {
		if err := send(e); err != nil {
			return err
		}
	}

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-sub.C:
			if !ok {
				s.logger.Warn("event stream closed for slow client", "last_sequence", last)
				return errEvicted
			}
			if err := send(e); err != nil {
				return err
			}
		case <-ticker.C:
			if err := keepalive(); err != nil {
				return err
			}
		}
	}
}

// handleEvents streams audit entries as server-sent events. A client that
// falls too far behind is disconnected and should reconnect with
// Last-Event-ID.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, r, http.StatusInternalServerError, "Internal Server Error", "streaming unsupported")
		return
	}
	last, err := s.resumePoint(r)
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}

	sub := s.log.Subscribe(eventBuffer)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	_ = s.streamEntries(r.Context(), sub, last,
		func(e *auditlog.Entry) error {
			data, err := json.Marshal(e)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", e.Sequence, e.Kind, data); err != nil {
				return err
			}
			flusher.Flush()
			return nil
		},
		func() error {
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return err
			}
			flusher.Flush()
			return nil
		},
	)
}

// handleWebSocket streams audit entries as JSON text messages. Eviction
// closes the socket with 1013 (try again later); the client resumes with
// ?last_event_id=N.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	last, err := s.resumePoint(r)
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	sub := s.log.Subscribe(eventBuffer)
	defer sub.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	// The feed is one-way; reading only services control frames and
	// notices the peer going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	err = s.streamEntries(ctx, sub, last,
		func(e *auditlog.Entry) error {
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			return conn.WriteJSON(e)
		},
		func() error {
			return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
		},
	)

	code, reason := websocket.CloseNormalClosure, ""
	if errors.Is(err, errEvicted) {
		code, reason = websocket.CloseTryAgainLater, "resume from last sequence"
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteTimeout))
}
