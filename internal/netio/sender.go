// Package netio runs the UDP side of the node: periodic senders towards the
// vehicle computer, the BMS and telemetry listeners, and the receiver that
// feeds peer state into the store.
package netio

import (
	"fmt"
	"net"
	"time"

	"github.com/golang/glog"

	"github.com/sweeney/steering-node/internal/protocol"
	"github.com/sweeney/steering-node/internal/state"
)

// Builder encodes one outbound datagram for snap into buf.
type Builder func(buf []byte, seq uint32, snap state.Snapshot) (int, error)

// OpenFunc opens the socket used for sending.
type OpenFunc func() (net.PacketConn, error)

// OpenUDP opens an unbound IPv4 UDP socket. Broadcast is enabled by the
// Go runtime on datagram sockets.
func OpenUDP() (net.PacketConn, error) {
	return net.ListenUDP("udp4", nil)
}

// Sender transmits one message kind to one destination on every tick.
// Delivery is not acknowledged; failures are counted and the socket is
// reopened on the next tick.
type Sender struct {
	name  string
	dest  *net.UDPAddr
	store *state.Store
	build Builder
	open  OpenFunc

	conn        net.PacketConn
	buf         [protocol.MaxDatagram]byte
	seq         uint32
	consecutive uint64
	stats       LinkStats
}

// NewSender creates a sender. open may be nil to use OpenUDP.
func NewSender(name string, dest *net.UDPAddr, store *state.Store, build Builder, open OpenFunc) *Sender {
	if open == nil {
		open = OpenUDP
	}
	return &Sender{name: name, dest: dest, store: store, build: build, open: open}
}

// Name returns the destination name.
func (s *Sender) Name() string {
	return s.name
}

// Tick reads a snapshot and sends one datagram. It never returns an error;
// transient failures are absorbed here.
func (s *Sender) Tick(now time.Time) {
	snap := s.store.ReadAt(now)
	seq := s.seq
	s.seq++
	s.stats.seq.Store(seq)

	n, err := s.build(s.buf[:], seq, snap)
	if err != nil {
		s.fail(fmt.Errorf("encode: %w", err))
		return
	}

	if s.conn == nil {
		conn, err := s.open()
		if err != nil {
			s.fail(fmt.Errorf("open: %w", err))
			return
		}
		s.conn = conn
	}

	if _, err := s.conn.WriteTo(s.buf[:n], s.dest); err != nil {
		s.conn.Close()
		s.conn = nil
		s.fail(fmt.Errorf("write: %w", err))
		return
	}

	s.stats.sent.Add(1)
	if s.consecutive > 0 {
		glog.Infof("link %s up after %d failures", s.name, s.consecutive)
		s.consecutive = 0
	}
	if glog.V(4) {
		glog.Infof("sent %s seq=%d len=%d", s.name, seq, n)
	}
}

func (s *Sender) fail(err error) {
	s.stats.failed.Add(1)
	s.consecutive++
	if shouldLog(s.consecutive) {
		glog.Warningf("link %s (%s): %v (failures=%d)", s.name, s.dest, err, s.consecutive)
	}
}

// Info returns the link counters.
func (s *Sender) Info() state.LinkInfo {
	return state.LinkInfo{
		Name:   s.name,
		Addr:   s.dest.String(),
		Seq:    s.stats.seq.Load(),
		Sent:   s.stats.sent.Load(),
		Failed: s.stats.failed.Load(),
	}
}

// Close releases the socket.
func (s *Sender) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}
