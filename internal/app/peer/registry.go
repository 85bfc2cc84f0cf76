package peer

import (
	"sort"

	"github.com/dkeye/LiveStudio/internal/domain"
	"github.com/rs/zerolog/log"
)

// Registry keeps at most one link per remote participant.
type Registry struct {
	links map[domain.UserID]*Link
}

func NewRegistry() *Registry {
	return &Registry{links: make(map[domain.UserID]*Link)}
}

func (r *Registry) Get(id domain.UserID) (*Link, bool) {
	l, ok := r.links[id]
	return l, ok
}

// Put stores l, closing any link it replaces.
func (r *Registry) Put(l *Link) {
	if old, ok := r.links[l.Remote()]; ok && old != l {
		old.Close()
		log.Info().Str("module", "app.peer").Str("peer", string(l.Remote())).Msg("replaced link")
	}
	r.links[l.Remote()] = l
	log.Debug().Str("module", "app.peer").Str("peer", string(l.Remote())).Str("topology", l.Topology().String()).Msg("bound link")
}

// Remove closes and forgets the link to id. It reports whether one existed.
func (r *Registry) Remove(id domain.UserID) bool {
	l, ok := r.links[id]
	if !ok {
		return false
	}
	delete(r.links, id)
	l.Close()
	log.Info().Str("module", "app.peer").Str("peer", string(id)).Msg("unbind link")
	return true
}

// Forget drops the entry for l only if it is still the current one.
func (r *Registry) Forget(l *Link) {
	if cur, ok := r.links[l.Remote()]; ok && cur == l {
		delete(r.links, l.Remote())
	}
}

func (r *Registry) Len() int { return len(r.links) }

// Count returns how many links belong to topology t.
func (r *Registry) Count(t Topology) int {
	n := 0
	for _, l := range r.links {
		if l.Topology() == t {
			n++
		}
	}
	return n
}

// Of lists links of topology t ordered by remote id.
func (r *Registry) Of(t Topology) []*Link {
	out := make([]*Link, 0, len(r.links))
	for _, l := range r.links {
		if l.Topology() == t {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Remote() < out[j].Remote() })
	return out
}

// CloseAll closes every link and empties the registry.
func (r *Registry) CloseAll() {
	for id, l := range r.links {
		l.Close()
		delete(r.links, id)
	}
}

// View is a read-only snapshot of one link.
type View struct {
	Peer     domain.UserID `json:"peer"`
	Topology string        `json:"topology"`
	State    string        `json:"state"`
	Offerer  bool          `json:"offerer"`
}

func (r *Registry) Snapshot() []View {
	out := make([]View, 0, len(r.links))
	for _, t := range []Topology{Star, Mesh} {
		for _, l := range r.Of(t) {
			out = append(out, View{Peer: l.Remote(), Topology: t.String(), State: l.State().String(), Offerer: l.Offerer()})
		}
	}
	return out
}
