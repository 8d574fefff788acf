// Package presence tracks which live sessions belong to which user and
// fans events out to them.
package presence

import (
	"strings"
	"sync"

	"github.com/iam-i-j-k/backend/pkg/models"
	"github.com/iam-i-j-k/backend/pkg/state/logger"
)

// Address space prefixes. Every joined session sits in both spaces of its user.
const (
	SenderSpace   = "sender"
	ReceiverSpace = "receiver"
)

// Session is one live transport connection.
type Session interface {
	ID() string
	Send(evt models.Event) error
}

func SenderAddress(userID string) string   { return SenderSpace + ":" + userID }
func ReceiverAddress(userID string) string { return ReceiverSpace + ":" + userID }

// ParseAddress splits "sender:<id>" or "receiver:<id>".
func ParseAddress(address string) (space, userID string, ok bool) {
	space, userID, found := strings.Cut(address, ":")
	if !found || userID == "" {
		return "", "", false
	}
	if space != SenderSpace && space != ReceiverSpace {
		return "", "", false
	}
	return space, userID, true
}

// JoinResult reports the subscription edges a Join produced.
type JoinResult struct {
	// First is true when the session is the user's only one.
	First bool
	// Previous is the user the session was bound to before a re-join as
	// someone else, and PreviousLast whether that user now has no sessions.
	Previous     string
	PreviousLast bool
}

type member struct {
	sess   Session
	userID string
}

// Registry maps sessions to users and addresses to sessions. It is process
// local and never persisted.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]member
	rooms    map[string]map[string]Session
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]member),
		rooms:    make(map[string]map[string]Session),
	}
}

// Join binds sess to userID. Joining again as the same user is a no-op; a
// join as a different user first leaves the old user's rooms.
func (r *Registry) Join(sess Session, userID string) JoinResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res JoinResult
	if cur, ok := r.sessions[sess.ID()]; ok {
		if cur.userID == userID {
			return res
		}
		res.Previous = cur.userID
		res.PreviousLast = r.removeLocked(sess.ID(), cur.userID)
	}
	r.sessions[sess.ID()] = member{sess: sess, userID: userID}
	for _, addr := range []string{SenderAddress(userID), ReceiverAddress(userID)} {
		room, ok := r.rooms[addr]
		if !ok {
			room = make(map[string]Session)
			r.rooms[addr] = room
		}
		room[sess.ID()] = sess
	}
	res.First = len(r.rooms[SenderAddress(userID)]) == 1
	logger.Debug("presence_joined", "session", sess.ID(), "user", userID, "first", res.First)
	return res
}

// Leave drops every registration of sessionID. It returns the user the
// session belonged to and whether it was that user's last session. Unknown
// sessions return ("", false).
func (r *Registry) Leave(sessionID string) (userID string, last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.sessions[sessionID]
	if !ok {
		return "", false
	}
	last = r.removeLocked(sessionID, cur.userID)
	logger.Debug("presence_left", "session", sessionID, "user", cur.userID, "last", last)
	return cur.userID, last
}

func (r *Registry) removeLocked(sessionID, userID string) bool {
	delete(r.sessions, sessionID)
	for _, addr := range []string{SenderAddress(userID), ReceiverAddress(userID)} {
		room := r.rooms[addr]
		delete(room, sessionID)
		if len(room) == 0 {
			delete(r.rooms, addr)
		}
	}
	_, still := r.rooms[SenderAddress(userID)]
	return !still
}

// UserOf returns the user sessionID joined as.
func (r *Registry) UserOf(sessionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.sessions[sessionID]
	return m.userID, ok
}

// Online reports whether userID has at least one local session.
func (r *Registry) Online(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[SenderAddress(userID)]) > 0
}

// SessionCount returns the number of joined sessions.
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Deliver sends evt to every session in one address space and returns how
// many sessions accepted it.
func (r *Registry) Deliver(address string, evt models.Event) int {
	r.mu.RLock()
	targets := make([]Session, 0, len(r.rooms[address]))
	for _, s := range r.rooms[address] {
		targets = append(targets, s)
	}
	r.mu.RUnlock()
	return send(targets, evt)
}

// DeliverUser sends evt once to every session in either address space of
// userID.
func (r *Registry) DeliverUser(userID string, evt models.Event) int {
	r.mu.RLock()
	seen := make(map[string]struct{})
	var targets []Session
	for _, addr := range []string{SenderAddress(userID), ReceiverAddress(userID)} {
		for id, s := range r.rooms[addr] {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			targets = append(targets, s)
		}
	}
	r.mu.RUnlock()
	return send(targets, evt)
}

func send(targets []Session, evt models.Event) int {
	n := 0
	for _, s := range targets {
		if err := s.Send(evt); err != nil {
			logger.Warn("presence_send_failed", "session", s.ID(), "event", evt.Name, "error", err)
			continue
		}
		n++
	}
	return n
}
