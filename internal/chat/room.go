package chat

import (
	"fmt"
	"sync"

	"github.com/samber/lo"

	chaterr "chatd/internal/errors"
	"chatd/internal/metrics"
	"chatd/util"
)

// Room is the single shared chat space.  It owns the member list, kept in
// join order, and the rolling history window.
type Room struct {
	mu          sync.Mutex
	members     []*Session
	history     []string
	historySize int

	logger  *util.Logger
	metrics *metrics.Collector
}

// NewRoom creates an empty Room that replays up to historySize lines to
// each newly registered member.  m may be nil.
func NewRoom(historySize int, logger *util.Logger, m *metrics.Collector) *Room {
	if logger == nil {
		logger = util.NewLogger(0)
	}
	if historySize < 0 {
		historySize = 0
	}
	return &Room{
		historySize: historySize,
		logger:      logger,
		metrics:     m,
	}
}

// ── Membership ───────────────────────────────────────────────────────

// Join adds s to the Room.  Unregistered sessions are members too: they
// receive broadcasts but never hold a name.
func (r *Room) Join(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !lo.Contains(r.members, s) {
		r.members = append(r.members, s)
	}
}

// Leave removes s.  It reports whether s was a member; leaving twice is
// harmless.
func (r *Room) Leave(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !lo.Contains(r.members, s) {
		return false
	}
	r.members = lo.Without(r.members, s)
	return true
}

// Len returns the number of members, registered or not.
func (r *Room) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// Names returns the registered names in join order.
func (r *Room) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo.FilterMap(r.members, func(m *Session, _ int) (string, bool) {
		return m.name, m.name != ""
	})
}

// ── Fan-out ──────────────────────────────────────────────────────────

// Broadcast queues text for every member in join order.  Members that
// cannot keep up are evicted; the rest still receive the line.
func (r *Room) Broadcast(text string) {
	r.mu.Lock()
	dropped := r.broadcastLocked(text)
	r.mu.Unlock()
	r.evict(dropped)
}

// AppendHistory records a formatted chat line.
func (r *Room) AppendHistory(text string) {
	r.mu.Lock()
	r.appendHistoryLocked(text)
	r.mu.Unlock()
}

// ReplayHistory queues the retained history for s alone, oldest first.
func (r *Room) ReplayHistory(s *Session) {
	r.mu.Lock()
	var dropped []*Session
	if !r.replayLocked(s) {
		dropped = r.removeLocked(s)
	}
	r.mu.Unlock()
	r.evict(dropped)
}

// History returns a copy of the retained history window.
func (r *Room) History() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.history...)
}

// ── Protocol operations ──────────────────────────────────────────────

// Register claims name for s, announces it and replays history to s, all
// under one lock so no other registration or chat line can interleave.
// It returns ErrNameTaken when another member already holds name, and
// ErrSessionClosed when s could not take the announcement or replay and
// was dropped.
func (r *Room) Register(s *Session, name string) error {
	r.mu.Lock()
	if !lo.Contains(r.members, s) {
		r.mu.Unlock()
		return chaterr.ErrSessionClosed
	}
	if lo.ContainsBy(r.members, func(m *Session) bool { return m.name == name }) {
		r.mu.Unlock()
		r.metrics.NameRejected()
		return fmt.Errorf("%w: %s", chaterr.ErrNameTaken, name)
	}

	s.setName(name)
	dropped := r.broadcastLocked(NewUser(name))
	if !lo.Contains(dropped, s) && !r.replayLocked(s) {
		dropped = append(dropped, r.removeLocked(s)...)
	}
	r.mu.Unlock()

	r.evict(dropped)
	if lo.Contains(dropped, s) {
		return chaterr.ErrSessionClosed
	}
	r.metrics.Registered()
	return nil
}

// Post records a chat line from s and broadcasts it.  History order and
// delivery order are identical.
func (r *Room) Post(s *Session, text string) string {
	line := FormatChat(s.Name(), text)

	r.mu.Lock()
	r.appendHistoryLocked(line)
	dropped := r.broadcastLocked(line)
	r.mu.Unlock()

	r.metrics.MessageRelayed()
	r.evict(dropped)
	return line
}

// ── Locked helpers ───────────────────────────────────────────────────

// broadcastLocked queues text for every member and removes the ones whose
// queue is full.  The caller evicts the returned sessions after unlocking.
func (r *Room) broadcastLocked(text string) []*Session {
	var slow []*Session
	for _, m := range r.members {
		if !m.enqueue(text) {
			slow = append(slow, m)
		}
	}
	if len(slow) > 0 {
		r.members = lo.Without(r.members, slow...)
	}
	return slow
}

func (r *Room) replayLocked(s *Session) bool {
	for _, line := range r.history {
		if !s.enqueue(line) {
			return false
		}
	}
	return true
}

func (r *Room) appendHistoryLocked(text string) {
	r.history = append(r.history, text)
	if over := len(r.history) - r.historySize; over > 0 {
		n := copy(r.history, r.history[over:])
		r.history = r.history[:n]
	}
}

func (r *Room) removeLocked(s *Session) []*Session {
	if !lo.Contains(r.members, s) {
		return nil
	}
	r.members = lo.Without(r.members, s)
	return []*Session{s}
}

// evict closes the connections of members dropped for falling behind.
// Their read loops then observe the close and run the normal cleanup.
func (r *Room) evict(dropped []*Session) {
	for _, s := range dropped {
		r.metrics.MemberDropped()
		r.logger.Warn("dropping client %s: %v", s.Addr(), chaterr.ErrSlowConsumer)
		s.conn.Close()
	}
}
