// Package proxy relays sACN universes to TCP viewers.
//
// A viewer connects, sends one hello line naming the universe it wants and
// then receives every frame of that universe as a length-prefixed copy of the
// original datagram:
//
//	[uint16 big-endian length][datagram]
//
// All bookkeeping (sessions, the receiver registry, write accounting) happens
// on a single event loop goroutine. Socket goroutines and receivers only post
// events to it.
package proxy

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/kpelzel/sacnproxy/internal/sacn"
)

const (
	defaultMaxClients       = 16
	defaultMaxPendingWrites = 32
	eventBacklog            = 1024

	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

type Options struct {
	// Addr is the TCP address to listen on, e.g. ":5569".
	Addr string
	// Listener, when set, is served instead of binding Addr.
	Listener         net.Listener
	MaxClients       int
	MaxPendingWrites int
	// LockedUniverse, when non-zero, is served to every viewer regardless of
	// the universe in its hello.
	LockedUniverse uint16
	// HelloTimeout bounds how long a connection may sit without a complete
	// hello. Zero waits forever.
	HelloTimeout time.Duration
	// WriteTimeout bounds a single frame write. Zero waits forever.
	WriteTimeout time.Duration
	// Interface sACN is received on; nil lets the OS choose.
	Interface *net.Interface
	NewSource func() FrameSource
	Metrics   *Metrics
}

// Server accepts viewers and fans universes out to them.
type Server struct {
	opts    Options
	ln      net.Listener
	metrics *Metrics

	events   chan any
	ctx      context.Context
	cancel   context.CancelFunc
	loopDone chan struct{}
	wg       sync.WaitGroup

	// owned by the event loop
	sessions map[string]*viewerSession
	locals   map[string]*localSubscriber
	registry *Registry
}

type localSubscriber struct {
	id       string
	name     string
	universe uint16
	fn       func(sacn.Frame)
}

// Status is a point in time view of the server.
type Status struct {
	Addr           string           `json:"addr"`
	LockedUniverse uint16           `json:"locked_universe,omitempty"`
	MaxClients     int              `json:"max_clients"`
	Sessions       []SessionStatus  `json:"sessions"`
	Universes      []UniverseStatus `json:"universes"`
	Local          []string         `json:"local_subscribers"`
}

// events posted to the loop
type (
	connAccepted struct{ conn net.Conn }
	helloLine    struct {
		id   string
		line []byte
	}
	connFailed struct {
		id  string
		err error
	}
	writeDone struct {
		id  string
		n   int
		err error
	}
	frameArrived struct {
		universe uint16
		epoch    uint64
		frame    sacn.Frame
	}
	receiverFailed struct {
		universe uint16
		epoch    uint64
		err      error
	}
	subscribeReq struct {
		sub   *localSubscriber
		reply chan error
	}
	unsubscribeReq struct{ id string }
	statusReq      struct{ reply chan Status }
)

// Listen binds opts.Addr and starts serving. The server stops when ctx is
// cancelled or Close is called.
func Listen(ctx context.Context, opts Options) (*Server, error) {
	if opts.MaxClients <= 0 {
		opts.MaxClients = defaultMaxClients
	}
	if opts.MaxPendingWrites <= 0 {
		opts.MaxPendingWrites = defaultMaxPendingWrites
	}
	if opts.LockedUniverse != 0 && !sacn.ValidUniverse(opts.LockedUniverse) {
		return nil, fmt.Errorf("invalid locked universe: %v", opts.LockedUniverse)
	}
	if opts.NewSource == nil {
		opts.NewSource = func() FrameSource { return sacn.NewReceiver() }
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}

	ln := opts.Listener
	if ln == nil {
		var err error
		if ln, err = net.Listen("tcp", opts.Addr); err != nil {
			return nil, &BindError{Addr: opts.Addr, Err: err}
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Server{
		opts:     opts,
		ln:       ln,
		metrics:  opts.Metrics,
		events:   make(chan any, eventBacklog),
		ctx:      ctx,
		cancel:   cancel,
		loopDone: make(chan struct{}),
		sessions: make(map[string]*viewerSession),
		locals:   make(map[string]*localSubscriber),
	}
	s.registry = NewRegistry(opts.Interface, opts.NewSource,
		func(universe uint16, epoch uint64, f sacn.Frame) {
			s.post(frameArrived{universe: universe, epoch: epoch, frame: f})
		},
		func(universe uint16, epoch uint64, err error) {
			s.post(receiverFailed{universe: universe, epoch: epoch, err: err})
		})

	s.wg.Add(1)
	go s.acceptLoop()
	go s.run()

	if opts.LockedUniverse != 0 {
		log.Infof("listening on %v for viewers, locked to universe %v", ln.Addr(), opts.LockedUniverse)
	} else {
		log.Infof("listening on %v for viewers", ln.Addr())
	}
	return s, nil
}

func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Close stops accepting, disconnects every viewer, stops every receiver and
// waits for the server's goroutines to exit. It is safe to call more than once.
func (s *Server) Close() error {
	s.cancel()
	<-s.loopDone
	return nil
}

// Done is closed once the server has fully stopped.
func (s *Server) Done() <-chan struct{} {
	return s.loopDone
}

// Subscribe attaches an in-process subscriber to universe. fn runs on the
// event loop and must not block. The returned function detaches it.
func (s *Server) Subscribe(universe uint16, name string, fn func(sacn.Frame)) (func(), error) {
	if !sacn.ValidUniverse(universe) {
		return nil, fmt.Errorf("invalid universe: %v", universe)
	}

	sub := &localSubscriber{
		id:       "local-" + uuid.NewString(),
		name:     name,
		universe: universe,
		fn:       fn,
	}
	reply := make(chan error, 1)
	if !s.post(subscribeReq{sub: sub, reply: reply}) {
		return nil, ErrServerClosed
	}

	select {
	case err := <-reply:
		if err != nil {
			return nil, err
		}
	case <-s.ctx.Done():
		return nil, ErrServerClosed
	}

	var once sync.Once
	return func() {
		once.Do(func() { s.post(unsubscribeReq{id: sub.id}) })
	}, nil
}

// Status returns a snapshot of sessions and universes.
func (s *Server) Status(ctx context.Context) (Status, error) {
	reply := make(chan Status, 1)
	if !s.post(statusReq{reply: reply}) {
		return Status{}, ErrServerClosed
	}
	select {
	case st := <-reply:
		return st, nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	case <-s.ctx.Done():
		return Status{}, ErrServerClosed
	}
}

func (s *Server) post(ev any) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// acceptLoop treats every Accept error on an open listener as temporary, so
// running out of file descriptors never takes streaming viewers down with it.
func (s *Server) acceptLoop() {
	defer s.wg.Done()
	var backoff time.Duration
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			if backoff == 0 {
				backoff = minAcceptBackoff
			} else if backoff *= 2; backoff > maxAcceptBackoff {
				backoff = maxAcceptBackoff
			}
			log.Errorf("failed to accept viewer connection, retrying in %v: %v", backoff, err)
			select {
			case <-time.After(backoff):
			case <-s.ctx.Done():
				return
			}
			continue
		}
		backoff = 0

		if !s.post(connAccepted{conn: conn}) {
			conn.Close()
			return
		}
	}
}

func (s *Server) run() {
	defer close(s.loopDone)
	for {
		select {
		case ev := <-s.events:
			s.handle(ev)
		case <-s.ctx.Done():
			s.shutdown()
			return
		}
	}
}

func (s *Server) handle(ev any) {
	switch ev := ev.(type) {
	case frameArrived:
		s.handleFrame(ev)
	case writeDone:
		s.handleWriteDone(ev)
	case connAccepted:
		s.handleAccept(ev.conn)
	case helloLine:
		s.handleHello(ev)
	case connFailed:
		if sess, ok := s.sessions[ev.id]; ok {
			s.closeSession(sess, ev.err)
		}
	case receiverFailed:
		s.handleReceiverFailure(ev)
	case subscribeReq:
		s.handleSubscribe(ev)
	case unsubscribeReq:
		if sub, ok := s.locals[ev.id]; ok {
			delete(s.locals, ev.id)
			s.registry.Detach(sub.universe, sub.id)
			s.updateUniverses()
			log.Infof("%v unsubscribed from universe %v", sub.name, sub.universe)
		}
	case statusReq:
		ev.reply <- s.status()
	default:
		log.Warnf("unknown event type %T", ev)
	}
}

func (s *Server) handleAccept(conn net.Conn) {
	if len(s.sessions) >= s.opts.MaxClients {
		log.Infof("rejecting viewer %v: %v (%v)", conn.RemoteAddr(), ErrCapacity, s.opts.MaxClients)
		s.metrics.rejected("capacity")
		conn.Close()
		return
	}

	sess := newViewerSession(uuid.NewString(), conn)
	s.sessions[sess.id] = sess
	s.metrics.ConnectionsTotal.Inc()
	s.metrics.ActiveViewers.Inc()
	sess.log.Debugf("viewer connected")

	s.wg.Add(1)
	go s.readConn(sess)
}

func (s *Server) handleHello(ev helloLine) {
	sess, ok := s.sessions[ev.id]
	if !ok || sess.state != stateAwaitingHello {
		return
	}

	hello, err := ParseHello(ev.line)
	if err != nil {
		s.closeSession(sess, err)
		return
	}

	universe := hello.Universe
	if s.opts.LockedUniverse != 0 {
		universe = s.opts.LockedUniverse
	}
	if !sacn.ValidUniverse(universe) {
		s.closeSession(sess, &HelloError{Reason: fmt.Sprintf("universe out of range: %d", universe)})
		return
	}

	sess.hello = hello
	sess.universe = universe
	if err := s.registry.Attach(universe, sess.id); err != nil {
		s.closeSession(sess, err)
		return
	}
	sess.attached = true
	sess.state = stateStreaming
	sess.out = make(chan []byte, s.opts.MaxPendingWrites)
	s.updateUniverses()

	s.wg.Add(1)
	go s.writeConn(sess)

	sess.log.Infof("viewer %q (%v) streaming universe %v", hello.ViewerName, hello.ViewerVersion, universe)
}

func (s *Server) handleSubscribe(ev subscribeReq) {
	if err := s.registry.Attach(ev.sub.universe, ev.sub.id); err != nil {
		ev.reply <- err
		return
	}
	s.locals[ev.sub.id] = ev.sub
	s.updateUniverses()
	log.Infof("%v subscribed to universe %v", ev.sub.name, ev.sub.universe)
	ev.reply <- nil
}

func (s *Server) handleFrame(ev frameArrived) {
	e := s.registry.current(ev.universe, ev.epoch)
	if e == nil {
		return
	}
	e.frames++

	var packet []byte
	for id := range e.subscribers {
		if sess, ok := s.sessions[id]; ok {
			if packet == nil {
				packet = encodeFrame(ev.frame)
			}
			s.deliver(sess, packet)
			continue
		}
		if sub, ok := s.locals[id]; ok {
			sub.fn(ev.frame)
		}
	}
}

// deliver queues packet for sess or evicts it when it is too far behind.
// Stale lighting data is worthless, so there is no retry or backoff.
func (s *Server) deliver(sess *viewerSession, packet []byte) {
	if sess.pendingWrites >= s.opts.MaxPendingWrites {
		s.closeSession(sess, ErrSlowClient)
		return
	}

	sess.pendingWrites++
	select {
	case sess.out <- packet:
	default:
		sess.pendingWrites--
		s.closeSession(sess, ErrSlowClient)
	}
}

func (s *Server) handleWriteDone(ev writeDone) {
	sess, ok := s.sessions[ev.id]
	if !ok {
		return
	}
	sess.pendingWrites--
	if ev.err != nil {
		s.closeSession(sess, ev.err)
		return
	}
	s.metrics.FramesForwarded.Inc()
	s.metrics.BytesForwarded.Add(float64(ev.n))
}

func (s *Server) handleReceiverFailure(ev receiverFailed) {
	if s.registry.current(ev.universe, ev.epoch) == nil {
		return
	}
	log.Errorf("receiver for universe %v failed: %v", ev.universe, ev.err)
	s.metrics.ReceiverFailures.Inc()

	for _, id := range s.registry.Remove(ev.universe) {
		if sess, ok := s.sessions[id]; ok {
			// the entry is gone already
			sess.attached = false
			s.closeSession(sess, ErrReceiverFailed)
			continue
		}
		if sub, ok := s.locals[id]; ok {
			delete(s.locals, id)
			log.Errorf("%v lost universe %v: %v", sub.name, sub.universe, ErrReceiverFailed)
		}
	}
	s.updateUniverses()
}

// closeSession tears sess down and detaches it. Closing an already closed
// session does nothing.
func (s *Server) closeSession(sess *viewerSession, reason error) {
	if sess.state == stateClosed {
		return
	}
	prev := sess.state
	sess.state = stateClosed
	delete(s.sessions, sess.id)

	if sess.attached {
		s.registry.Detach(sess.universe, sess.id)
		sess.attached = false
		s.updateUniverses()
	}
	sess.conn.Close()
	if sess.out != nil {
		close(sess.out)
	}

	s.metrics.ActiveViewers.Dec()
	s.metrics.SessionDuration.Observe(time.Since(sess.connected).Seconds())

	var he *HelloError
	var ae *AttachError
	switch {
	case errors.Is(reason, ErrSlowClient):
		s.metrics.SlowClients.Inc()
		sess.log.Warnf("evicting slow viewer on universe %v: %v pending writes", sess.universe, sess.pendingWrites)
	case errors.As(reason, &he):
		s.metrics.rejected("hello")
		sess.log.Infof("closing viewer: %v", reason)
	case errors.As(reason, &ae):
		s.metrics.rejected("attach")
		sess.log.Errorf("closing viewer: %v", reason)
	case prev == stateAwaitingHello:
		s.metrics.rejected("hello")
		sess.log.Debugf("viewer left before hello: %v", reason)
	case errors.Is(reason, io.EOF) || errors.Is(reason, net.ErrClosed):
		sess.log.Infof("viewer on universe %v disconnected", sess.universe)
	default:
		sess.log.Infof("closing viewer on universe %v: %v", sess.universe, reason)
	}
}

func (s *Server) readConn(sess *viewerSession) {
	defer s.wg.Done()

	if s.opts.HelloTimeout > 0 {
		sess.conn.SetReadDeadline(time.Now().Add(s.opts.HelloTimeout))
	}
	line, err := readLine(sess.conn, &sess.inbound, maxHelloLength)
	if err != nil {
		s.post(connFailed{id: sess.id, err: err})
		return
	}
	sess.conn.SetReadDeadline(time.Time{})
	if !s.post(helloLine{id: sess.id, line: line}) {
		return
	}

	// viewers send nothing after the hello; keep reading to notice the close
	buf := make([]byte, 512)
	for {
		if _, err := sess.conn.Read(buf); err != nil {
			s.post(connFailed{id: sess.id, err: err})
			return
		}
	}
}

func (s *Server) writeConn(sess *viewerSession) {
	defer s.wg.Done()
	for packet := range sess.out {
		if s.opts.WriteTimeout > 0 {
			sess.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
		}
		n, err := sess.conn.Write(packet)
		if !s.post(writeDone{id: sess.id, n: n, err: err}) || err != nil {
			return
		}
	}
}

func (s *Server) updateUniverses() {
	s.metrics.ActiveUniverses.Set(float64(s.registry.Len()))
}

func (s *Server) status() Status {
	st := Status{
		Addr:           s.ln.Addr().String(),
		LockedUniverse: s.opts.LockedUniverse,
		MaxClients:     s.opts.MaxClients,
		Sessions:       make([]SessionStatus, 0, len(s.sessions)),
		Universes:      s.registry.Snapshot(),
		Local:          make([]string, 0, len(s.locals)),
	}
	for _, sess := range s.sessions {
		st.Sessions = append(st.Sessions, sess.status())
	}
	sort.Slice(st.Sessions, func(a, b int) bool { return st.Sessions[a].Connected.Before(st.Sessions[b].Connected) })
	for _, sub := range s.locals {
		st.Local = append(st.Local, sub.name)
	}
	sort.Strings(st.Local)
	return st
}

func (s *Server) shutdown() {
	log.Infof("shutting down viewer proxy")
	s.ln.Close()

	for _, sess := range s.sessions {
		s.closeSession(sess, ErrServerClosed)
	}
	s.locals = make(map[string]*localSubscriber)
	s.registry.Close()
	s.updateUniverses()

	s.wg.Wait()

	// connections accepted while we were stopping
	for {
		select {
		case ev := <-s.events:
			if ca, ok := ev.(connAccepted); ok {
				ca.conn.Close()
			}
		default:
			return
		}
	}
}

// encodeFrame prefixes the frame's datagram with its big-endian length.
func encodeFrame(f sacn.Frame) []byte {
	buf := make([]byte, 2+len(f.Raw))
	binary.BigEndian.PutUint16(buf, uint16(len(f.Raw)))
	copy(buf[2:], f.Raw)
	return buf
}
