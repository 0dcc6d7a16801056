package session

import (
	"container/list"
	"sync"
	"time"
)

// Store holds active sessions. Implementations must be safe for concurrent
// use. Removing a session does not end it; the Manager does that.
type Store interface {
	Get(id string) (*Session, bool)
	Put(s *Session)
	Remove(id string)
	// Find returns the session a client has open on a project.
	Find(clientID, projectID string) (*Session, bool)
	List() []*Session
	// Expired removes and returns sessions idle since before cutoff.
	Expired(cutoff time.Time) []*Session
}

// MemoryStore is an LRU-bounded in-process Store. Sessions pushed out by the
// size limit are handed to onEvict so they can be ended.
type MemoryStore struct {
	mu          sync.Mutex
	maxSessions int
	lru         *list.List               // front=MRU
	m           map[string]*list.Element // id -> element(Value=*Session)
	byOwner     map[string]string        // client\nproject -> id
	onEvict     func(*Session)
}

// NewMemoryStore returns a store holding at most maxSessions sessions.
func NewMemoryStore(maxSessions int, onEvict func(*Session)) *MemoryStore {
	if maxSessions <= 0 {
		maxSessions = 1000
	}
	return &MemoryStore{
		maxSessions: maxSessions,
		lru:         list.New(),
		m:           map[string]*list.Element{},
		byOwner:     map[string]string{},
		onEvict:     onEvict,
	}
}

func ownerKey(clientID, projectID string) string {
	return clientID + "\n" + projectID
}

// Get implements Store and marks the session most recently used.
func (st *MemoryStore) Get(id string) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	e := st.m[id]
	if e == nil {
		return nil, false
	}
	s, _ := e.Value.(*Session)
	if s == nil || s.Ended() {
		st.deleteElemLocked(e)
		return nil, false
	}
	st.lru.MoveToFront(e)
	return s, true
}

// Put implements Store.
func (st *MemoryStore) Put(s *Session) {
	var evicted []*Session

	st.mu.Lock()
	if e := st.m[s.id]; e != nil {
		st.deleteElemLocked(e)
	}
	st.m[s.id] = st.lru.PushFront(s)
	st.byOwner[ownerKey(s.clientID, s.projectID)] = s.id
	for st.lru.Len() > st.maxSessions {
		e := st.lru.Back()
		if e == nil {
			break
		}
		if old, ok := e.Value.(*Session); ok {
			evicted = append(evicted, old)
		}
		st.deleteElemLocked(e)
	}
	st.mu.Unlock()

	if st.onEvict != nil {
		for _, old := range evicted {
			st.onEvict(old)
		}
	}
}

// Remove implements Store.
func (st *MemoryStore) Remove(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if e := st.m[id]; e != nil {
		st.deleteElemLocked(e)
	}
}

// Find implements Store.
func (st *MemoryStore) Find(clientID, projectID string) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	id, ok := st.byOwner[ownerKey(clientID, projectID)]
	if !ok {
		return nil, false
	}
	e := st.m[id]
	if e == nil {
		delete(st.byOwner, ownerKey(clientID, projectID))
		return nil, false
	}
	s, _ := e.Value.(*Session)
	return s, s != nil
}

// List implements Store, most recently used first.
func (st *MemoryStore) List() []*Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]*Session, 0, st.lru.Len())
	for e := st.lru.Front(); e != nil; e = e.Next() {
		if s, ok := e.Value.(*Session); ok {
			out = append(out, s)
		}
	}
	return out
}

// Expired implements Store.
func (st *MemoryStore) Expired(cutoff time.Time) []*Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	var out []*Session
	for e := st.lru.Back(); e != nil; {
		prev := e.Prev()
		s, _ := e.Value.(*Session)
		if s == nil || s.idleSince().Before(cutoff) {
			if s != nil {
				out = append(out, s)
			}
			st.deleteElemLocked(e)
		}
		e = prev
	}
	return out
}

// Len returns the number of stored sessions.
func (st *MemoryStore) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.lru.Len()
}

func (st *MemoryStore) deleteElemLocked(e *list.Element) {
	if s, ok := e.Value.(*Session); ok && s != nil {
		delete(st.m, s.id)
		key := ownerKey(s.clientID, s.projectID)
		if st.byOwner[key] == s.id {
			delete(st.byOwner, key)
		}
	}
	st.lru.Remove(e)
}

var _ Store = (*MemoryStore)(nil)
