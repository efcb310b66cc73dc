// Package redisstate mirrors node telemetry into a Redis hash and publishes
// button events on a Redis channel, for dashboards and loggers on the
// vehicle's local network.
package redisstate

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"github.com/redis/go-redis/v9"

	"github.com/sweeney/steering-node/internal/buttons"
	"github.com/sweeney/steering-node/internal/mqtt"
	"github.com/sweeney/steering-node/internal/state"
)

// Keys
const (
	KeySteering    = "steering"
	ChannelButtons = "steering:buttons"
)

const (
	defaultTimeout  = 200 * time.Millisecond
	defaultPoolSize = 2
)

// Client is the subset of *redis.Client the mirror uses.
type Client interface {
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// Mirror writes snapshots and events to Redis. Every call is bounded by a
// short timeout; a missing Redis server costs one failed call per period.
type Mirror struct {
	client  Client
	timeout time.Duration
	fails   atomic.Uint64
}

// New connects to the Redis server at addr. The server does not need to be
// up yet.
func New(addr string) *Mirror {
	c := redis.NewClient(&redis.Options{
		Addr:         addr,
		DB:           0,
		PoolSize:     defaultPoolSize,
		DialTimeout:  defaultTimeout,
		ReadTimeout:  defaultTimeout,
		WriteTimeout: defaultTimeout,
	})
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		glog.Warningf("redis: %s not reachable yet: %v", addr, err)
	} else {
		glog.Infof("redis: connected to %s", addr)
	}
	return NewWithClient(c)
}

// NewWithClient wraps an existing client.
func NewWithClient(c Client) *Mirror {
	return &Mirror{client: c, timeout: defaultTimeout}
}

// Fields flattens a snapshot into hash fields.
func Fields(snap state.Snapshot, info state.Info) map[string]interface{} {
	st := snap.Steering
	f := map[string]interface{}{
		"boot_id":     info.BootID,
		"uptime_ms":   snap.Uptime().Milliseconds(),
		"tick":        st.Tick,
		"buttons":     uint16(st.Pressed),
		"toggles":     uint16(st.Toggles),
		"throttle":    formatFloat(st.Throttle()),
		"brake":       formatFloat(st.Brake()),
		"calibrating": formatBool(st.Calibrating),
		"screen":      st.Screen.String(),
		"vc_stale":    formatBool(snap.Stale(state.PeerVC)),
		"bms_stale":   formatBool(snap.Stale(state.PeerBMS)),
	}
	if age, ok := snap.Age(state.PeerVC); ok {
		f["vc_age_ms"] = age.Milliseconds()
		f["speed"] = formatFloat(snap.VC.Data.Speed)
		f["drive_mode"] = snap.VC.Data.DriveMode.String()
	}
	if age, ok := snap.Age(state.PeerBMS); ok {
		f["bms_age_ms"] = age.Milliseconds()
		f["soc"] = formatFloat(snap.BMS.Data.SOC)
		f["voltage"] = formatFloat(snap.BMS.Data.Voltage)
	}
	f["status"] = string(state.FormatCompact(snap, info))
	return f
}

func formatFloat(v float32) string {
	return strconv.FormatFloat(float64(v), 'f', 3, 32)
}

func formatBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// PublishStatus writes the snapshot into the steering hash.
func (m *Mirror) PublishStatus(snap state.Snapshot, info state.Info) error {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	if err := m.client.HSet(ctx, KeySteering, Fields(snap, info)).Err(); err != nil {
		m.fails.Add(1)
		return fmt.Errorf("hset %s: %w", KeySteering, err)
	}
	return nil
}

// PublishEvent publishes a button event using the MQTT payload format so
// both mirrors carry identical event documents.
func (m *Mirror) PublishEvent(ev buttons.Event) error {
	payload, err := mqtt.FormatEventPayload(ev)
	if err != nil {
		return fmt.Errorf("format event: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	if err := m.client.Publish(ctx, ChannelButtons, payload).Err(); err != nil {
		m.fails.Add(1)
		return fmt.Errorf("publish %s: %w", ChannelButtons, err)
	}
	return nil
}

// Failures returns the number of failed Redis calls.
func (m *Mirror) Failures() uint64 {
	return m.fails.Load()
}

// Close closes the client.
func (m *Mirror) Close() error {
	return m.client.Close()
}
