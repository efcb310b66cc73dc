package mqtt

import "github.com/golang/glog"

// bufferedMsg stores a serialized MQTT message for replay after reconnection.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// ringBuffer is a fixed-capacity FIFO that stores messages while disconnected.
// Not safe for concurrent use; the caller must synchronize.
type ringBuffer struct {
	buf     []bufferedMsg
	head    int // next write position
	count   int
	dropped uint64
}

func newRingBuffer(capacity int) *ringBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &ringBuffer{buf: make([]bufferedMsg, capacity)}
}

// push appends msg, overwriting the oldest entry when full.
func (r *ringBuffer) push(msg bufferedMsg) {
	if r.count == len(r.buf) {
		if r.dropped == 0 {
			glog.Warningf("mqtt: offline buffer full (%d messages), dropping oldest", len(r.buf))
		}
		r.dropped++
		// head is already pointing at the oldest
		r.buf[r.head] = msg
		r.head = (r.head + 1) % len(r.buf)
		return
	}
	r.buf[r.head] = msg
	r.head = (r.head + 1) % len(r.buf)
	r.count++
}

// replace overwrites the buffered message with the same topic, or pushes
// msg if there is none. Status snapshots only need their latest value.
func (r *ringBuffer) replace(msg bufferedMsg) {
	start := r.start()
	for i := 0; i < r.count; i++ {
		idx := (start + i) % len(r.buf)
		if r.buf[idx].topic == msg.topic {
			r.buf[idx] = msg
			return
		}
	}
	r.push(msg)
}

func (r *ringBuffer) start() int {
	return (r.head - r.count + len(r.buf)) % len(r.buf)
}

// drainAll returns the buffered messages oldest first and empties the buffer.
func (r *ringBuffer) drainAll() []bufferedMsg {
	if r.count == 0 {
		return nil
	}
	result := make([]bufferedMsg, r.count)
	start := r.start()
	for i := range result {
		result[i] = r.buf[(start+i)%len(r.buf)]
	}
	r.count = 0
	r.head = 0
	if r.dropped > 0 {
		glog.Warningf("mqtt: %d buffered messages were dropped while offline", r.dropped)
		r.dropped = 0
	}
	return result
}

func (r *ringBuffer) len() int {
	return r.count
}
