package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/glog"

	"github.com/sweeney/steering-node/internal/buttons"
	"github.com/sweeney/steering-node/internal/state"
)

// Publishes must finish well inside the telemetry period.
const (
	connectTimeout = 10 * time.Second
	publishTimeout = 500 * time.Millisecond
	bufferSize     = 64
)

// RealPublisher publishes to an actual MQTT broker. Messages published while
// the connection is down are buffered and replayed on reconnect.
type RealPublisher struct {
	client paho.Client
	bootID string

	mu  sync.Mutex
	buf *ringBuffer
}

// NewRealPublisher creates a publisher for broker. The client id carries the
// boot id so restarts are distinguishable at the broker. The connection is
// retried in the background; a broker that is down at startup is not fatal.
func NewRealPublisher(broker, bootID string) (*RealPublisher, error) {
	p := &RealPublisher{bootID: bootID, buf: newRingBuffer(bufferSize)}

	will, err := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "OFFLINE", Reason: "MQTT_DISCONNECT", BootID: bootID})
	if err != nil {
		return nil, fmt.Errorf("format will: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID("steering-node-"+bootID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetBinaryWill(TopicSystem, will, 1, true).
		SetOnConnectHandler(func(paho.Client) { p.onConnect() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			glog.Warningf("mqtt: connection lost: %v", err)
		})

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if token.WaitTimeout(connectTimeout) {
		if err := token.Error(); err != nil {
			return nil, fmt.Errorf("connect to broker: %w", err)
		}
	} else {
		glog.Warningf("mqtt: broker %s not reachable yet, retrying in background", broker)
	}
	return p, nil
}

func (p *RealPublisher) onConnect() {
	glog.Infof("mqtt: connected")
	p.mu.Lock()
	pending := p.buf.drainAll()
	p.mu.Unlock()
	for _, m := range pending {
		// Fire and forget; waiting here would block the paho callback.
		p.client.Publish(m.topic, m.qos, m.retained, m.payload)
	}
	if len(pending) > 0 {
		glog.Infof("mqtt: replayed %d buffered messages", len(pending))
	}
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

func (p *RealPublisher) publish(m bufferedMsg, latestOnly bool) error {
	if !p.client.IsConnectionOpen() {
		p.mu.Lock()
		if latestOnly {
			p.buf.replace(m)
		} else {
			p.buf.push(m)
		}
		p.mu.Unlock()
		return nil
	}
	token := p.client.Publish(m.topic, m.qos, m.retained, m.payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timeout", m.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", m.topic, err)
	}
	return nil
}

// PublishStatus sends a telemetry snapshot, retained, QoS 0.
func (p *RealPublisher) PublishStatus(snap state.Snapshot, info state.Info) error {
	return p.publish(bufferedMsg{topic: TopicTelemetry, payload: state.FormatCompact(snap, info), retained: true}, true)
}

// PublishEvent sends a button event, QoS 1.
func (p *RealPublisher) PublishEvent(ev buttons.Event) error {
	payload, err := FormatEventPayload(ev)
	if err != nil {
		return fmt.Errorf("format event: %w", err)
	}
	return p.publish(bufferedMsg{topic: TopicButtons, payload: payload, qos: 1}, false)
}

// PublishSystem sends a system lifecycle event, QoS 1.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	if event.BootID == "" {
		event.BootID = p.bootID
	}
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.publish(bufferedMsg{topic: TopicSystem, payload: payload, qos: 1, retained: event.Retained}, false)
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second quiesce
	return nil
}
