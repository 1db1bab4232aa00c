/**
 * @description
 * This package tracks which users currently hold a live realtime connection.
 * The Registry is created once at server start and handed by reference to both
 * the websocket lifecycle handler and the notifier. Entries live only in memory.
 *
 * @notes
 * - One connection per user: a second Register replaces and closes the first.
 * - Connection teardown uses UnregisterConn (compare-and-delete) so a stale
 *   socket never removes a newer registration for the same user.
 */

package presence

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/wallet-service/internal/domain"
)

// Conn is a live, push-capable client connection.
type Conn interface {
	Send(event domain.Event) error
	Close() error
}

// Entry is a registered connection plus the identity captured at connect time.
type Entry struct {
	Conn        Conn
	Identity    domain.User
	ConnectedAt time.Time
}

// Registry is a concurrency-safe userID -> Entry map.
type Registry struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]Entry
	now     func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[uuid.UUID]Entry),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Register stores conn for userID, replacing and closing any previous connection.
func (r *Registry) Register(userID uuid.UUID, conn Conn, identity domain.User) {
	r.mu.Lock()
	prev, hadPrev := r.entries[userID]
	r.entries[userID] = Entry{Conn: conn, Identity: identity, ConnectedAt: r.now()}
	r.mu.Unlock()

	if hadPrev && prev.Conn != conn {
		log.Printf("level=info component=presence msg=\"replacing existing connection\" user_id=%s", userID)
		if err := prev.Conn.Close(); err != nil {
			log.Printf("level=warn component=presence msg=\"closing replaced connection failed\" user_id=%s err=%v", userID, err)
		}
	}
}

// Unregister removes whatever connection is registered for userID.
func (r *Registry) Unregister(userID uuid.UUID) {
	r.mu.Lock()
	delete(r.entries, userID)
	r.mu.Unlock()
}

// UnregisterConn removes the entry only if it still holds conn. It reports
// whether an entry was removed.
func (r *Registry) UnregisterConn(userID uuid.UUID, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[userID]
	if !ok || entry.Conn != conn {
		return false
	}
	delete(r.entries, userID)
	return true
}

func (r *Registry) IsPresent(userID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[userID]
	return ok
}

// Lookup returns the user's entry, if any.
func (r *Registry) Lookup(userID uuid.UUID) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[userID]
	return entry, ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// CloseAll closes every registered connection and empties the registry.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[uuid.UUID]Entry)
	r.mu.Unlock()

	for userID, entry := range entries {
		if err := entry.Conn.Close(); err != nil {
			log.Printf("level=warn component=presence msg=\"closing connection on shutdown failed\" user_id=%s err=%v", userID, err)
		}
	}
}
