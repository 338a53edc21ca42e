package proxy

import (
	"net"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/kpelzel/sacnproxy/internal/sacn"
)

// FrameSource produces the frames of one universe. *sacn.Receiver is the
// production implementation.
type FrameSource interface {
	Start(universe uint16, ifi *net.Interface, onFrame func(sacn.Frame), onState func(sacn.State, error)) error
	Stop()
}

// Registry keeps one running FrameSource per universe that has at least one
// subscriber. It is not safe for concurrent use; the server only touches it
// from its event loop.
type Registry struct {
	ifi       *net.Interface
	newSource func() FrameSource
	onFrame   func(universe uint16, epoch uint64, f sacn.Frame)
	onFailure func(universe uint16, epoch uint64, err error)

	entries   map[uint16]*registryEntry
	lastEpoch uint64
}

type registryEntry struct {
	epoch       uint64
	source      FrameSource
	subscribers map[string]struct{}
	since       time.Time
	frames      uint64
}

// UniverseStatus describes one registry entry.
type UniverseStatus struct {
	Universe    uint16    `json:"universe"`
	Subscribers int       `json:"subscribers"`
	Since       time.Time `json:"since"`
	Frames      uint64    `json:"frames"`
}

// NewRegistry returns an empty registry. onFrame and onFailure are called from
// source goroutines and are tagged with the epoch of the entry that produced
// them, so events from a source that has since been stopped can be ignored.
func NewRegistry(ifi *net.Interface, newSource func() FrameSource,
	onFrame func(universe uint16, epoch uint64, f sacn.Frame),
	onFailure func(universe uint16, epoch uint64, err error)) *Registry {
	return &Registry{
		ifi:       ifi,
		newSource: newSource,
		onFrame:   onFrame,
		onFailure: onFailure,
		entries:   make(map[uint16]*registryEntry),
	}
}

// Attach subscribes id to universe, starting its source if this is the first
// subscriber. When the source fails to start nothing is registered.
func (r *Registry) Attach(universe uint16, id string) error {
	if e, ok := r.entries[universe]; ok {
		e.subscribers[id] = struct{}{}
		return nil
	}

	epoch := r.lastEpoch + 1
	src := r.newSource()
	err := src.Start(universe, r.ifi,
		func(f sacn.Frame) { r.onFrame(universe, epoch, f) },
		func(s sacn.State, err error) {
			if s == sacn.StateFailed {
				r.onFailure(universe, epoch, err)
			}
		})
	if err != nil {
		return &AttachError{Universe: universe, Err: err}
	}

	r.lastEpoch = epoch
	r.entries[universe] = &registryEntry{
		epoch:       epoch,
		source:      src,
		subscribers: map[string]struct{}{id: {}},
		since:       time.Now(),
	}
	log.Infof("started receiver for universe %v", universe)
	return nil
}

// Detach unsubscribes id. The last subscriber out stops the source. Unknown
// universes and ids are ignored.
func (r *Registry) Detach(universe uint16, id string) {
	e, ok := r.entries[universe]
	if !ok {
		return
	}
	if _, ok := e.subscribers[id]; !ok {
		return
	}
	delete(e.subscribers, id)
	if len(e.subscribers) == 0 {
		e.source.Stop()
		delete(r.entries, universe)
		log.Infof("stopped receiver for universe %v, no subscribers left", universe)
	}
}

// Remove stops the universe's source regardless of subscribers and returns
// the ids that were attached.
func (r *Registry) Remove(universe uint16) []string {
	e, ok := r.entries[universe]
	if !ok {
		return nil
	}
	e.source.Stop()
	delete(r.entries, universe)

	ids := make([]string, 0, len(e.subscribers))
	for id := range e.subscribers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// current returns the entry for universe only if it is still the one that
// was created at epoch.
func (r *Registry) current(universe uint16, epoch uint64) *registryEntry {
	e, ok := r.entries[universe]
	if !ok || e.epoch != epoch {
		return nil
	}
	return e
}

func (r *Registry) Len() int {
	return len(r.entries)
}

// Subscribers returns the ids attached to universe.
func (r *Registry) Subscribers(universe uint16) []string {
	e, ok := r.entries[universe]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(e.subscribers))
	for id := range e.subscribers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) Snapshot() []UniverseStatus {
	out := make([]UniverseStatus, 0, len(r.entries))
	for u, e := range r.entries {
		out = append(out, UniverseStatus{
			Universe:    u,
			Subscribers: len(e.subscribers),
			Since:       e.since,
			Frames:      e.frames,
		})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Universe < out[b].Universe })
	return out
}

// Close stops every source.
func (r *Registry) Close() {
	for u, e := range r.entries {
		e.source.Stop()
		delete(r.entries, u)
	}
}
