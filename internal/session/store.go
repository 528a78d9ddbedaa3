// ABOUTME: In-memory session store with per-user atomic read-modify-write.
// ABOUTME: Each user key has its own mutex so slow mutators never block other users.

package session

import (
	"sort"
	"sync"
	"time"
)

// record holds one user's session and transcript behind the user's own lock.
type record struct {
	mu         sync.Mutex
	session    Session
	exists     bool
	transcript []Entry
}

// MemoryStore keeps sessions and transcripts in process memory.
// Nothing is evicted; state is lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*record
	now     func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*record),
		now:     time.Now,
	}
}

// recordFor returns the record for userID, creating an empty one if needed.
// The global lock is held only for the map access.
func (m *MemoryStore) recordFor(userID string) *record {
	m.mu.RLock()
	r, ok := m.records[userID]
	m.mu.RUnlock()
	if ok {
		return r
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok = m.records[userID]; ok {
		return r
	}
	r = &record{}
	m.records[userID] = r
	return r
}

// Get returns a copy of the session for userID.
func (m *MemoryStore) Get(userID string) (Session, bool) {
	m.mu.RLock()
	r, ok := m.records[userID]
	m.mu.RUnlock()
	if !ok {
		return Session{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.exists {
		return Session{}, false
	}
	return r.session.clone(), true
}

// Upsert applies fn to the session for userID, creating it first if absent.
// fn runs under that user's lock and must not block on network I/O.
// Returns a copy of the updated session and whether it was newly created.
func (m *MemoryStore) Upsert(userID string, fn func(*Session)) (Session, bool) {
	r := m.recordFor(userID)

	r.mu.Lock()
	defer r.mu.Unlock()

	created := !r.exists
	if created {
		now := m.now()
		r.session = Session{
			UserID:    userID,
			Ownership: Automated,
			CreatedAt: now,
		}
		r.exists = true
	}
	if fn != nil {
		fn(&r.session)
	}
	r.session.UserID = userID
	r.session.UpdatedAt = m.now()
	return r.session.clone(), created
}

// Update applies fn only if a session for userID already exists.
func (m *MemoryStore) Update(userID string, fn func(*Session)) (Session, bool) {
	m.mu.RLock()
	r, ok := m.records[userID]
	m.mu.RUnlock()
	if !ok {
		return Session{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.exists {
		return Session{}, false
	}
	fn(&r.session)
	r.session.UpdatedAt = m.now()
	return r.session.clone(), true
}

// FindByRemoteConversationID returns the user bound to a remote conversation id.
// This is a linear scan over all sessions.
func (m *MemoryStore) FindByRemoteConversationID(conversationID string) (string, bool) {
	if conversationID == "" {
		return "", false
	}

	m.mu.RLock()
	records := make([]*record, 0, len(m.records))
	for _, r := range m.records {
		records = append(records, r)
	}
	m.mu.RUnlock()

	for _, r := range records {
		r.mu.Lock()
		match := r.exists && r.session.RemoteConversationID == conversationID
		userID := r.session.UserID
		r.mu.Unlock()
		if match {
			return userID, true
		}
	}
	return "", false
}

// AppendTranscript records a transcript line for userID. The transcript is
// created lazily and lives independently of the session.
func (m *MemoryStore) AppendTranscript(userID string, role Role, text string) {
	r := m.recordFor(userID)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcript = append(r.transcript, Entry{
		Role:      role,
		Text:      text,
		Timestamp: m.now(),
	})
}

// Transcript returns up to limit of the most recent entries, oldest first.
// A limit of zero or less returns the whole transcript.
func (m *MemoryStore) Transcript(userID string, limit int) []Entry {
	m.mu.RLock()
	r, ok := m.records[userID]
	m.mu.RUnlock()
	if !ok {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.transcript
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return append([]Entry(nil), entries...)
}

// List returns copies of every session ordered by user id.
func (m *MemoryStore) List() []Session {
	m.mu.RLock()
	records := make([]*record, 0, len(m.records))
	for _, r := range m.records {
		records = append(records, r)
	}
	m.mu.RUnlock()

	sessions := make([]Session, 0, len(records))
	for _, r := range records {
		r.mu.Lock()
		if r.exists {
			sessions = append(sessions, r.session.clone())
		}
		r.mu.Unlock()
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UserID < sessions[j].UserID
	})
	return sessions
}
