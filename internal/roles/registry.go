package roles

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Registry is the single authority over which connection holds which role.
// Listeners registered with OnRelease run after the registry lock has been
// released, in registration order.
type Registry struct {
	mu        sync.RWMutex
	holders   map[Role]Conn
	viewers   map[string]Conn
	listeners []func(Release)
	logger    *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		holders: make(map[Role]Conn),
		viewers: make(map[string]Conn),
		logger:  logger.With("component", "roles"),
	}
}

func (r *Registry) OnRelease(fn func(Release)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Assign gives role to conn. For singular roles the previous holder, if any
// and different from conn, is returned and released as Superseded.
func (r *Registry) Assign(conn Conn, role Role) (Conn, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRole, role)
	}
	if role == Viewer {
		r.AddViewer(conn)
		return nil, nil
	}

	r.mu.Lock()
	prev, had := r.holders[role]
	if had && prev.ID() == conn.ID() {
		r.holders[role] = conn
		r.mu.Unlock()
		return nil, nil
	}
	r.holders[role] = conn
	listeners := r.listeners
	r.mu.Unlock()

	r.logger.Info("role assigned", "role", role, "conn_id", conn.ID())

	if !had {
		return nil, nil
	}

	r.logger.Info("role superseded", "role", role, "previous_conn_id", prev.ID(), "conn_id", conn.ID())
	notify(listeners, Release{Conn: prev, Role: role, Reason: Superseded, Successor: conn})
	return prev, nil
}

func (r *Registry) AddViewer(conn Conn) {
	r.mu.Lock()
	r.viewers[conn.ID()] = conn
	r.mu.Unlock()

	r.logger.Info("viewer added", "conn_id", conn.ID())
}

// RemoveViewer drops the viewer and notifies listeners. It reports whether
// the connection was a viewer.
func (r *Registry) RemoveViewer(id string) bool {
	r.mu.Lock()
	conn, ok := r.viewers[id]
	if ok {
		delete(r.viewers, id)
	}
	listeners := r.listeners
	r.mu.Unlock()

	if ok {
		notify(listeners, Release{Conn: conn, Role: Viewer, Reason: Disconnected})
	}
	return ok
}

func (r *Registry) Viewer(id string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.viewers[id]
	return conn, ok
}

func (r *Registry) Viewers() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]Conn, 0, len(r.viewers))
	for _, c := range r.viewers {
		conns = append(conns, c)
	}
	sort.Slice(conns, func(i, j int) bool { return conns[i].ID() < conns[j].ID() })
	return conns
}

func (r *Registry) ViewerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.viewers)
}

func (r *Registry) HolderOf(role Role) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.holders[role]
	return conn, ok
}

// IsHolder reports whether the connection with the given id currently holds role.
func (r *Registry) IsHolder(id string, role Role) bool {
	if role == Viewer {
		_, ok := r.Viewer(id)
		return ok
	}
	conn, ok := r.HolderOf(role)
	return ok && conn.ID() == id
}

func (r *Registry) RolesOf(id string) []Role {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var held []Role
	for _, role := range singularRoles {
		if c, ok := r.holders[role]; ok && c.ID() == id {
			held = append(held, role)
		}
	}
	if _, ok := r.viewers[id]; ok {
		held = append(held, Viewer)
	}
	return held
}

// Holders returns the connection id of every assigned singular role.
func (r *Registry) Holders() map[Role]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[Role]string, len(r.holders))
	for role, c := range r.holders {
		out[role] = c.ID()
	}
	return out
}

// Disconnect clears every role held by conn and returns them.
func (r *Registry) Disconnect(conn Conn) []Role {
	id := conn.ID()

	r.mu.Lock()
	var released []Release
	for _, role := range singularRoles {
		if c, ok := r.holders[role]; ok && c.ID() == id {
			delete(r.holders, role)
			released = append(released, Release{Conn: c, Role: role, Reason: Disconnected})
		}
	}
	if c, ok := r.viewers[id]; ok {
		delete(r.viewers, id)
		released = append(released, Release{Conn: c, Role: Viewer, Reason: Disconnected})
	}
	listeners := r.listeners
	r.mu.Unlock()

	held := make([]Role, 0, len(released))
	for _, rel := range released {
		held = append(held, rel.Role)
		notify(listeners, rel)
	}

	if len(held) > 0 {
		r.logger.Info("connection released roles", "conn_id", id, "roles", held)
	}
	return held
}

func notify(listeners []func(Release), rel Release) {
	for _, fn := range listeners {
		fn(rel)
	}
}
