package sacn

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
)

// State is reported to a receiver's state callback.
type State int

const (
	StateRunning State = iota
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// larger than any legal E1.31 packet so oversized datagrams are not silently truncated into valid ones
const readBufferSize = 1500

// ListenFunc opens the socket a receiver reads from. The default joins the
// universe's multicast group on ifi.
type ListenFunc func(ifi *net.Interface, group *net.UDPAddr) (net.PacketConn, error)

// StartError is returned when a receiver cannot bind or join its group.
type StartError struct {
	Universe uint16
	Err      error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("failed to start receiver for universe %d: %v", e.Universe, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// Receiver delivers decoded frames for a single universe.
type Receiver struct {
	listen     ListenFunc
	readBuffer int

	mu  sync.Mutex
	cur *receiverRun
}

type receiverRun struct {
	universe uint16
	group    *net.UDPAddr
	ifi      *net.Interface
	conn     net.PacketConn
	pc       *ipv4.PacketConn
	stopped  atomic.Bool
}

type ReceiverOption func(*Receiver)

// WithListenFunc replaces the multicast socket, mostly for tests.
func WithListenFunc(fn ListenFunc) ReceiverOption {
	return func(r *Receiver) { r.listen = fn }
}

// WithReadBuffer sets the kernel receive buffer size of the socket.
func WithReadBuffer(bytes int) ReceiverOption {
	return func(r *Receiver) { r.readBuffer = bytes }
}

func NewReceiver(opts ...ReceiverOption) *Receiver {
	r := &Receiver{listen: listenMulticast}
	for _, o := range opts {
		o(r)
	}
	return r
}

func listenMulticast(ifi *net.Interface, group *net.UDPAddr) (net.PacketConn, error) {
	return net.ListenMulticastUDP("udp4", ifi, group)
}

// Start joins universe's group on ifi (nil lets the OS choose) and starts
// delivering frames to onFrame from a dedicated goroutine. A running receiver
// is stopped first. onState may be nil.
func (r *Receiver) Start(universe uint16, ifi *net.Interface, onFrame func(Frame), onState func(State, error)) error {
	if !ValidUniverse(universe) {
		return &StartError{Universe: universe, Err: fmt.Errorf("universe out of range")}
	}

	r.Stop()

	group := MulticastGroup(universe)
	conn, err := r.listen(ifi, group)
	if err != nil {
		return &StartError{Universe: universe, Err: err}
	}

	if r.readBuffer > 0 {
		if uc, ok := conn.(*net.UDPConn); ok {
			if err := uc.SetReadBuffer(r.readBuffer); err != nil {
				log.Debugf("failed to set read buffer for universe %v: %v", universe, err)
			}
		}
	}

	pc := ipv4.NewPacketConn(conn)
	// not every platform reports the destination address; without it the universe check below still applies
	if err := pc.SetControlMessage(ipv4.FlagDst, true); err != nil {
		log.Debugf("destination filtering unavailable for universe %v: %v", universe, err)
	}

	run := &receiverRun{
		universe: universe,
		group:    group,
		ifi:      ifi,
		conn:     conn,
		pc:       pc,
	}

	r.mu.Lock()
	r.cur = run
	r.mu.Unlock()

	log.Infof("joined %v for universe %v", group, universe)
	if onState != nil {
		onState(StateRunning, nil)
	}

	go run.read(onFrame, onState)
	return nil
}

// Stop leaves the group and closes the socket. It does not wait for the read
// goroutine, so a callback that was already running when Stop was called may
// still finish after it returns. No callback starts after that.
func (r *Receiver) Stop() {
	r.mu.Lock()
	run := r.cur
	r.cur = nil
	r.mu.Unlock()

	if run == nil {
		return
	}
	run.close()
	log.Infof("left %v for universe %v", run.group, run.universe)
}

// Running reports whether the receiver has been started and not stopped.
func (r *Receiver) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cur != nil && !r.cur.stopped.Load()
}

func (run *receiverRun) close() {
	if run.stopped.Swap(true) {
		return
	}
	run.leave()
}

func (run *receiverRun) leave() {
	if err := run.pc.LeaveGroup(run.ifi, run.group); err != nil {
		log.Debugf("failed to leave %v: %v", run.group, err)
	}
	run.conn.Close()
}

func (run *receiverRun) read(onFrame func(Frame), onState func(State, error)) {
	buf := make([]byte, readBufferSize)
	for {
		n, cm, _, err := run.pc.ReadFrom(buf)
		if run.stopped.Load() {
			return
		}
		if err != nil {
			log.Errorf("failed to read sACN packet for universe %v: %v", run.universe, err)
			// a concurrent Stop wins and reports nothing
			if run.stopped.Swap(true) {
				return
			}
			run.leave()
			if onState != nil {
				onState(StateFailed, err)
			}
			return
		}

		if cm != nil && cm.Dst != nil && cm.Dst.IsMulticast() && !cm.Dst.Equal(run.group.IP) {
			continue
		}

		f, err := Decode(buf[:n])
		if err != nil {
			log.Debugf("dropping packet for universe %v: %v", run.universe, err)
			continue
		}
		if f.Universe != run.universe {
			continue
		}

		if run.stopped.Load() {
			return
		}
		onFrame(f)
	}
}
