package session

import "sync"

const shardCount = 16

type userLock struct {
	mu   sync.Mutex
	refs int
}

type shard struct {
	mu       sync.RWMutex
	sessions map[int64]Session
	locks    map[int64]*userLock
}

// Registry is a sharded concurrent session table with per-user locks.
// The zero value is not usable; call NewRegistry.
type Registry struct {
	shards [shardCount]*shard
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i] = &shard{
			sessions: make(map[int64]Session),
			locks:    make(map[int64]*userLock),
		}
	}
	return r
}

func (r *Registry) shardFor(userID int64) *shard {
	idx := uint64(userID) % shardCount
	return r.shards[idx]
}

// Lock acquires the per-user lock and returns the function releasing it.
// Locks of different users never contend beyond the brief shard map access.
func (r *Registry) Lock(userID int64) func() {
	s := r.shardFor(userID)
	s.mu.Lock()
	l, ok := s.locks[userID]
	if !ok {
		l = &userLock{}
		s.locks[userID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, userID)
		}
		s.mu.Unlock()
	}
}

// Get returns a copy of the user's session.
func (r *Registry) Get(userID int64) (Session, bool) {
	s := r.shardFor(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[userID]
	return sess, ok
}

// State returns the user's current state, StateNone when absent.
func (r *Registry) State(userID int64) State {
	sess, ok := r.Get(userID)
	if !ok {
		return StateNone
	}
	return sess.State
}

// Put stores sess, replacing any previous session of the same user.
func (r *Registry) Put(sess Session) {
	s := r.shardFor(sess.UserID)
	s.mu.Lock()
	s.sessions[sess.UserID] = sess
	s.mu.Unlock()
}

// Delete removes the user's session and reports whether one existed.
func (r *Registry) Delete(userID int64) bool {
	s := r.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[userID]
	delete(s.sessions, userID)
	return ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	n := 0
	for _, s := range r.shards {
		s.mu.RLock()
		n += len(s.sessions)
		s.mu.RUnlock()
	}
	return n
}

// Clear drops every session.
func (r *Registry) Clear() {
	for _, s := range r.shards {
		s.mu.Lock()
		clear(s.sessions)
		s.mu.Unlock()
	}
}
