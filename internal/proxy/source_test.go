package proxy

import (
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kpelzel/sacnproxy/internal/sacn"
)

// fakeHub hands out fakeSources and records their lifecycle per universe.
type fakeHub struct {
	mu        sync.Mutex
	starts    map[uint16]int
	stops     map[uint16]int
	active    map[uint16]*fakeSource
	failStart map[uint16]error
}

func newFakeHub() *fakeHub {
	return &fakeHub{
		starts:    make(map[uint16]int),
		stops:     make(map[uint16]int),
		active:    make(map[uint16]*fakeSource),
		failStart: make(map[uint16]error),
	}
}

func (h *fakeHub) newSource() FrameSource {
	return &fakeSource{hub: h}
}

func (h *fakeHub) setFailStart(u uint16, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failStart[u] = err
}

func (h *fakeHub) counts(u uint16) (starts, stops int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.starts[u], h.stops[u]
}

func (h *fakeHub) isActive(u uint16) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.active[u]
	return ok
}

// emit delivers a frame from the running source of universe u, reporting
// whether there was one.
func (h *fakeHub) emit(t *testing.T, u uint16, seq byte, slots []byte) bool {
	t.Helper()
	h.mu.Lock()
	src, ok := h.active[u]
	h.mu.Unlock()
	if !ok {
		return false
	}
	src.onFrame(testFrame(t, u, seq, slots))
	return true
}

func (h *fakeHub) fail(u uint16, err error) bool {
	h.mu.Lock()
	src, ok := h.active[u]
	h.mu.Unlock()
	if !ok {
		return false
	}
	src.onState(sacn.StateFailed, err)
	return true
}

type fakeSource struct {
	hub      *fakeHub
	universe uint16
	onFrame  func(sacn.Frame)
	onState  func(sacn.State, error)
	started  bool
	stopped  bool
}

func (f *fakeSource) Start(universe uint16, ifi *net.Interface, onFrame func(sacn.Frame), onState func(sacn.State, error)) error {
	h := f.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.failStart[universe]; err != nil {
		return err
	}
	f.universe = universe
	f.onFrame = onFrame
	f.onState = onState
	f.started = true
	h.starts[universe]++
	h.active[universe] = f
	return nil
}

func (f *fakeSource) Stop() {
	h := f.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if !f.started || f.stopped {
		return
	}
	f.stopped = true
	h.stops[f.universe]++
	if h.active[f.universe] == f {
		delete(h.active, f.universe)
	}
}

func testDatagram(t *testing.T, u uint16, seq byte, slots []byte) []byte {
	t.Helper()
	b, err := sacn.Encode(u, seq, slots)
	require.NoError(t, err)
	return b
}

func testFrame(t *testing.T, u uint16, seq byte, slots []byte) sacn.Frame {
	t.Helper()
	f, err := sacn.Decode(testDatagram(t, u, seq, slots))
	require.NoError(t, err)
	return f
}
