package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"agentvault/observability"
	"agentvault/services/walletd/journal"
)

const (
	wsWriteTimeout   = 10 * time.Second
	subscriberBuffer = 64
)

// eventMessage is the JSON form of a journal entry on the read API and the
// websocket stream.
type eventMessage struct {
	Seq        uint64            `json:"seq"`
	Type       string            `json:"type"`
	Account    string            `json:"account,omitempty"`
	Attributes map[string]string `json:"attributes"`
	Digest     string            `json:"digest"`
	RecordedAt time.Time         `json:"recordedAt"`
}

func messageFrom(entry journal.Entry) (eventMessage, error) {
	evt, err := entry.Event()
	if err != nil {
		return eventMessage{}, err
	}
	return eventMessage{
		Seq:        entry.Seq,
		Type:       entry.Type,
		Account:    entry.Account,
		Attributes: evt.Attributes,
		Digest:     entry.Digest,
		RecordedAt: entry.CreatedAt,
	}, nil
}

type subscriber struct {
	ch     chan journal.Entry
	closed bool
}

// Hub fans journal appends out to live stream subscribers. A subscriber that
// falls a full buffer behind is disconnected and resumes from its cursor.
type Hub struct {
	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

// NewHub constructs an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[*subscriber]struct{})}
}

// Publish implements the journal append listener.
func (h *Hub) Publish(entry journal.Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub.ch <- entry:
		default:
			observability.Stream().RecordDropped()
			h.removeLocked(sub)
		}
	}
}

func (h *Hub) subscribe() (*subscriber, func()) {
	sub := &subscriber{ch: make(chan journal.Entry, subscriberBuffer)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	observability.Stream().Subscribed(1)
	return sub, func() {
		h.mu.Lock()
		h.removeLocked(sub)
		h.mu.Unlock()
	}
}

func (h *Hub) removeLocked(sub *subscriber) {
	if sub.closed {
		return
	}
	sub.closed = true
	delete(h.subs, sub)
	close(sub.ch)
	observability.Stream().Subscribed(-1)
}

// Subscribers reports the number of live subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var cursor uint64
	if raw := strings.TrimSpace(query.Get("cursor")); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid cursor")
			return
		}
		cursor = parsed
	}
	filter := journal.Query{Account: strings.TrimSpace(query.Get("account")), Type: strings.TrimSpace(query.Get("type"))}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.cfg.StreamOrigins})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, cursor, filter); err != nil {
		if websocket.CloseStatus(err) == -1 {
			_ = conn.Close(websocket.StatusTryAgainLater, "stream interrupted")
		}
	}
}

// streamEvents replays the journal after cursor and then follows live
// appends. Subscribing before the replay and skipping already-sent sequence
// numbers leaves no gap between the two phases.
func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, cursor uint64, filter journal.Query) error {
	sub, cancel := s.hub.subscribe()
	defer cancel()

	last := cursor
	for {
		filter.After = last
		filter.Limit = 0
		backlog, err := s.journal.Entries(ctx, filter)
		if err != nil {
			return err
		}
		for _, entry := range backlog {
			if err := writeEntry(ctx, conn, entry); err != nil {
				return err
			}
			last = entry.Seq
		}
		if len(backlog) < journal.MaxPage {
			break
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case entry, ok := <-sub.ch:
			if !ok {
				return errSlowConsumer
			}
			if entry.Seq <= last || !matches(filter, entry) {
				continue
			}
			if err := writeEntry(ctx, conn, entry); err != nil {
				return err
			}
			last = entry.Seq
		}
	}
}

func matches(q journal.Query, entry journal.Entry) bool {
	if q.Account != "" && !strings.EqualFold(q.Account, entry.Account) {
		return false
	}
	if q.Type != "" && q.Type != entry.Type {
		return false
	}
	return true
}

func writeEntry(ctx context.Context, conn *websocket.Conn, entry journal.Entry) error {
	msg, err := messageFrom(entry)
	if err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
