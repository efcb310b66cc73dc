package netio

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sweeney/steering-node/internal/protocol"
	"github.com/sweeney/steering-node/internal/state"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func newStore() *state.Store {
	return state.NewStore(t0, state.DefaultTimeouts, nil)
}

func vehicleDatagram(t *testing.T, seq uint32, v protocol.Vehicle) []byte {
	t.Helper()
	buf := make([]byte, protocol.MaxDatagram)
	n, err := protocol.EncodeVehicle(buf, seq, 0, &v)
	require.NoError(t, err)
	return buf[:n]
}

func batteryDatagram(t *testing.T, b protocol.Battery) []byte {
	t.Helper()
	buf := make([]byte, protocol.MaxDatagram)
	n, err := protocol.EncodeBattery(buf, 0, 0, &b)
	require.NoError(t, err)
	return buf[:n]
}

func steeringBuilder(buf []byte, seq uint32, snap state.Snapshot) (int, error) {
	m := protocol.Steering{
		Buttons:  uint16(snap.Steering.Pressed),
		Throttle: snap.Steering.Throttle(),
	}
	return protocol.EncodeSteering(buf, seq, uint32(snap.Uptime().Milliseconds()), &m)
}

var peerAddr = &net.UDPAddr{IP: net.IPv4(192, 168, 0, 20), Port: 3001}

func TestHandleVehicleAndBattery(t *testing.T) {
	store := newStore()
	r := NewReceiver(ReceiverConfig{}, store, nil, nil)

	err := r.Handle(vehicleDatagram(t, 1, protocol.Vehicle{Speed: 22, DriveMode: 2, LEDOverride: 0xffff}), peerAddr, t0)
	require.NoError(t, err)
	err = r.Handle(batteryDatagram(t, protocol.Battery{Voltage: 97, SOC: 0.5, Flags: 1}), peerAddr, t0)
	require.NoError(t, err)

	snap := store.ReadAt(t0)
	require.True(t, snap.VC.Received)
	require.Equal(t, float32(22), snap.VC.Data.Speed)
	require.Equal(t, state.DriveReverse, snap.VC.Data.DriveMode)
	require.Equal(t, uint16(0x03ff), uint16(snap.VC.Data.LEDOverride), "override is masked to the button bits")
	require.True(t, snap.BMS.Received)
	require.Equal(t, float32(0.5), snap.BMS.Data.SOC)
	require.Equal(t, uint64(2), r.Stats().Info().Accepted)
}

func TestHandleMalformedLeavesStateUntouched(t *testing.T) {
	store := newStore()
	r := NewReceiver(ReceiverConfig{}, store, nil, nil)
	require.NoError(t, r.Handle(vehicleDatagram(t, 1, protocol.Vehicle{Speed: 5}), peerAddr, t0))

	bad := vehicleDatagram(t, 2, protocol.Vehicle{Speed: 99})
	bad[0] = 0
	err := r.Handle(bad, peerAddr, t0.Add(time.Second))
	require.ErrorIs(t, err, protocol.ErrMagic)

	snap := store.ReadAt(t0.Add(time.Second))
	require.Equal(t, float32(5), snap.VC.Data.Speed)
	require.Equal(t, t0, snap.VC.LastReceived)
	require.Equal(t, uint64(1), r.Stats().Info().Malformed)
}

func TestHandleRejectsUnexpectedKind(t *testing.T) {
	store := newStore()
	r := NewReceiver(ReceiverConfig{}, store, nil, nil)

	buf := make([]byte, protocol.MaxDatagram)
	n, err := steeringBuilder(buf, 0, store.Read())
	require.NoError(t, err)
	require.ErrorIs(t, r.Handle(buf[:n], peerAddr, t0), ErrUnexpectedKind)
	require.Equal(t, uint64(1), r.Stats().Info().Rejected)
	require.False(t, store.ReadAt(t0).VC.Received)
}

func TestHandleSourcePinning(t *testing.T) {
	store := newStore()
	var sources [state.NumPeers]net.IP
	sources[state.PeerVC] = net.ParseIP("192.168.0.20")
	r := NewReceiver(ReceiverConfig{Sources: sources}, store, nil, nil)

	other := &net.UDPAddr{IP: net.IPv4(192, 168, 0, 99), Port: 3001}
	err := r.Handle(vehicleDatagram(t, 1, protocol.Vehicle{}), other, t0)
	require.ErrorIs(t, err, ErrSource)
	require.False(t, store.ReadAt(t0).VC.Received)

	require.NoError(t, r.Handle(vehicleDatagram(t, 1, protocol.Vehicle{}), peerAddr, t0))
	require.True(t, store.ReadAt(t0).VC.Received)

	// BMS is not pinned
	require.NoError(t, r.Handle(batteryDatagram(t, protocol.Battery{}), other, t0))
}

func TestReceiverEndToEnd(t *testing.T) {
	store := newStore()
	r := NewReceiver(ReceiverConfig{Addr: "127.0.0.1:0", ReadTimeout: 20 * time.Millisecond}, store, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	var addr net.Addr
	select {
	case addr = <-r.Bound():
	case <-time.After(2 * time.Second):
		t.Fatal("receiver did not bind")
	}

	conn, err := net.Dial("udp4", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte{0xde, 0xad, 0xbe, 0xef})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return r.Stats().Info().Malformed == 1 }, 2*time.Second, 5*time.Millisecond)
	require.False(t, store.Read().VC.Received, "malformed datagram must not change peer state")

	_, err = conn.Write(vehicleDatagram(t, 1, protocol.Vehicle{Speed: 12, DriveMode: 1}))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return store.Read().VC.Received }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, float32(12), store.Read().VC.Data.Speed)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("receiver did not stop")
	}
}

func TestReceiverRetriesListen(t *testing.T) {
	store := newStore()
	var mu sync.Mutex
	attempts := 0
	listen := func(addr string) (net.PacketConn, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 3 {
			return nil, errors.New("network is down")
		}
		return net.ListenPacket("udp4", "127.0.0.1:0")
	}
	r := NewReceiver(ReceiverConfig{Retry: time.Millisecond, ReadTimeout: 10 * time.Millisecond}, store, nil, listen)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	select {
	case <-r.Bound():
	case <-time.After(2 * time.Second):
		t.Fatal("receiver never bound after listen failures")
	}
	mu.Lock()
	require.Equal(t, 3, attempts)
	mu.Unlock()
}

func TestSenderDelivers(t *testing.T) {
	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	store := newStore()
	store.UpdateLocal(func(st *state.SteeringState) { st.Pressed = 0x10 })
	s := NewSender("vc", pc.LocalAddr().(*net.UDPAddr), store, steeringBuilder, nil)
	defer s.Close()

	s.Tick(t0.Add(1500 * time.Millisecond))
	s.Tick(t0.Add(1550 * time.Millisecond))

	buf := make([]byte, protocol.MaxDatagram+1)
	var m protocol.Message
	uptimes := []uint32{1500, 1550}
	for want := uint32(0); want < 2; want++ {
		require.NoError(t, pc.SetReadDeadline(time.Now().Add(2*time.Second)))
		n, _, err := pc.ReadFrom(buf)
		require.NoError(t, err)
		require.NoError(t, protocol.Decode(buf[:n], &m))
		require.Equal(t, protocol.KindSteering, m.Header.Kind)
		require.Equal(t, want, m.Header.Seq)
		require.Equal(t, uptimes[want], m.Header.UptimeMs)
		require.Equal(t, uint16(0x10), m.Steering.Buttons)
	}

	info := s.Info()
	require.Equal(t, uint64(2), info.Sent)
	require.Equal(t, uint64(0), info.Failed)
	require.Equal(t, uint32(1), info.Seq)
	require.Equal(t, "vc", info.Name)
}

type failingConn struct {
	net.PacketConn
	closed bool
}

func (c *failingConn) WriteTo([]byte, net.Addr) (int, error) {
	return 0, errors.New("no route to host")
}

func (c *failingConn) Close() error {
	c.closed = true
	return nil
}

func TestSenderAbsorbsFailures(t *testing.T) {
	store := newStore()
	opens := 0
	var last *failingConn
	open := func() (net.PacketConn, error) {
		opens++
		if opens == 1 {
			return nil, errors.New("socket: too many open files")
		}
		last = &failingConn{}
		return last, nil
	}
	s := NewSender("bms", peerAddr, store, steeringBuilder, open)

	for i := 0; i < 5; i++ {
		s.Tick(t0.Add(time.Duration(i) * 50 * time.Millisecond))
	}

	info := s.Info()
	require.Equal(t, uint64(5), info.Failed)
	require.Equal(t, uint64(0), info.Sent)
	require.Equal(t, 5, opens, "socket is reopened after every failed write")
	require.True(t, last.closed)
	require.Equal(t, uint32(4), info.Seq, "sequence advances even when sends fail")
}

func TestSenderEncodeError(t *testing.T) {
	store := newStore()
	build := func([]byte, uint32, state.Snapshot) (int, error) { return 0, protocol.ErrBuffer }
	opened := false
	s := NewSender("telemetry", peerAddr, store, build, func() (net.PacketConn, error) {
		opened = true
		return nil, errors.New("unused")
	})
	s.Tick(t0)
	require.False(t, opened)
	require.Equal(t, uint64(1), s.Info().Failed)
}

func TestShouldLog(t *testing.T) {
	require.True(t, shouldLog(1))
	require.False(t, shouldLog(2))
	require.True(t, shouldLog(logEvery))
	require.False(t, shouldLog(logEvery+1))
}
