package game

import "sync"

// Registry is the live session table: lookup by match id, by participant
// connection, or by player identity. It guards its own map; sessions
// guard themselves.
type Registry struct {
	mu   sync.RWMutex
	byID map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]*Session)}
}

func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	r.byID[s.ID()] = s
	r.mu.Unlock()
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.byID, id)
	r.mu.Unlock()
}

func (r *Registry) Get(id string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[id]
}

// FindByConn returns the session where c is a bound player connection.
func (r *Registry) FindByConn(c Conn) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.byID {
		if s.HasConn(c) {
			return s
		}
	}
	return nil
}

// FindByPlayer returns the session where identity plays, if any.
func (r *Registry) FindByPlayer(identity string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.byID {
		if s.HasPlayer(identity) {
			return s
		}
	}
	return nil
}

// DropSpectator removes c from every session's spectator set. Called on
// disconnect, when it is unknown which match c was watching.
func (r *Registry) DropSpectator(c Conn) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.byID {
		s.RemoveSpectator(c)
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
