package sacn

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loopbackListener hands the receiver a unicast socket and remembers it so
// tests can send to it or break it.
type loopbackListener struct {
	mu    sync.Mutex
	conns []net.PacketConn
}

func (l *loopbackListener) listen(ifi *net.Interface, group *net.UDPAddr) (net.PacketConn, error) {
	c, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.conns = append(l.conns, c)
	l.mu.Unlock()
	return c, nil
}

func (l *loopbackListener) last() net.PacketConn {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conns[len(l.conns)-1]
}

func send(t *testing.T, to net.Addr, data []byte) {
	t.Helper()
	c, err := net.Dial("udp4", to.String())
	require.NoError(t, err)
	defer c.Close()
	_, err = c.Write(data)
	require.NoError(t, err)
}

func TestReceiver_DeliversFramesForItsUniverse(t *testing.T) {
	l := &loopbackListener{}
	r := NewReceiver(WithListenFunc(l.listen))

	frames := make(chan Frame, 10)
	require.NoError(t, r.Start(5, nil, func(f Frame) { frames <- f }, nil))
	defer r.Stop()

	addr := l.last().LocalAddr()
	send(t, addr, mustEncode(t, 6, 1, []byte{0xff}))   // other universe
	send(t, addr, []byte("definitely not sACN"))        // malformed
	send(t, addr, mustEncode(t, 5, 2, []byte{1, 2, 3})) // ours

	select {
	case f := <-frames:
		assert.Equal(t, uint16(5), f.Universe)
		assert.Equal(t, uint8(2), f.Sequence)
		assert.Equal(t, []byte{1, 2, 3}, f.Slots[:3])
	case <-time.After(2 * time.Second):
		t.Fatal("no frame delivered")
	}

	select {
	case f := <-frames:
		t.Fatalf("unexpected frame for universe %d", f.Universe)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestReceiver_StartError(t *testing.T) {
	boom := errors.New("bind failed")
	r := NewReceiver(WithListenFunc(func(*net.Interface, *net.UDPAddr) (net.PacketConn, error) {
		return nil, boom
	}))

	err := r.Start(1, nil, func(Frame) {}, nil)
	require.Error(t, err)

	var se *StartError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, uint16(1), se.Universe)
	assert.ErrorIs(t, err, boom)
	assert.False(t, r.Running())
}

func TestReceiver_RejectsInvalidUniverse(t *testing.T) {
	r := NewReceiver(WithListenFunc((&loopbackListener{}).listen))
	assert.Error(t, r.Start(0, nil, func(Frame) {}, nil))
	assert.Error(t, r.Start(64000, nil, func(Frame) {}, nil))
}

func TestReceiver_StopSuppressesCallbacks(t *testing.T) {
	l := &loopbackListener{}
	r := NewReceiver(WithListenFunc(l.listen))

	var mu sync.Mutex
	var states []State
	frames := make(chan Frame, 10)
	require.NoError(t, r.Start(9, nil, func(f Frame) { frames <- f }, func(s State, err error) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}))
	require.True(t, r.Running())

	addr := l.last().LocalAddr()
	r.Stop()
	r.Stop()
	assert.False(t, r.Running())

	// the socket is gone; nothing may arrive and no failure may be reported
	c, err := net.Dial("udp4", addr.String())
	require.NoError(t, err)
	_, _ = c.Write(mustEncode(t, 9, 0, nil))
	c.Close()

	select {
	case <-frames:
		t.Fatal("frame delivered after stop")
	case <-time.After(100 * time.Millisecond):
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateRunning}, states)
}

func TestReceiver_RestartStopsPrevious(t *testing.T) {
	l := &loopbackListener{}
	r := NewReceiver(WithListenFunc(l.listen))

	require.NoError(t, r.Start(1, nil, func(Frame) {}, nil))
	first := l.last()
	require.NoError(t, r.Start(2, nil, func(Frame) {}, nil))
	defer r.Stop()

	// the first socket was closed by the implicit stop
	_, _, err := first.ReadFrom(make([]byte, 1))
	assert.Error(t, err)
	assert.True(t, r.Running())
}

func TestReceiver_ReportsSocketFailure(t *testing.T) {
	l := &loopbackListener{}
	r := NewReceiver(WithListenFunc(l.listen))

	failed := make(chan error, 1)
	require.NoError(t, r.Start(3, nil, func(Frame) {}, func(s State, err error) {
		if s == StateFailed {
			failed <- err
		}
	}))

	// closing the socket underneath the receiver looks like a fault
	l.last().Close()

	select {
	case err := <-failed:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("failure not reported")
	}
	assert.False(t, r.Running())
	r.Stop()
}

func TestReceiver_StopFromCallback(t *testing.T) {
	l := &loopbackListener{}
	r := NewReceiver(WithListenFunc(l.listen))

	var mu sync.Mutex
	var got []uint8
	var states []State
	require.NoError(t, r.Start(2, nil, func(f Frame) {
		mu.Lock()
		got = append(got, f.Sequence)
		mu.Unlock()
		r.Stop()
	}, func(s State, err error) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}))

	addr := l.last().LocalAddr()
	for seq := uint8(0); seq < 3; seq++ {
		send(t, addr, mustEncode(t, 2, seq, []byte{seq}))
	}

	require.Eventually(t, func() bool { return !r.Running() }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []uint8{0}, got, "nothing is delivered once Stop has run")
	assert.Equal(t, []State{StateRunning}, states, "a stop is not a failure")
}
