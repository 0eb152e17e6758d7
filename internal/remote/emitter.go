package remote

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/time/rate"

	"github.com/e7canasta/wizard-playback/internal/config"
)

const connectTimeout = 5 * time.Second

// Emitter owns the MQTT connection and publishes player status.
type Emitter struct {
	cfg    config.MQTTConfig
	client Client
	encode Encoder
	limit  *rate.Limiter

	mu        sync.RWMutex
	published uint64
	errors    uint64
	connected bool
}

// NewEmitter creates an emitter publishing at most rateHz status messages
// per second. Call Connect before publishing, or Attach for a client built
// elsewhere.
func NewEmitter(cfg config.MQTTConfig, rateHz float64) *Emitter {
	if rateHz <= 0 {
		rateHz = 2
	}
	return &Emitter{
		cfg:    cfg,
		encode: EncoderFor(cfg.Encoding),
		limit:  rate.NewLimiter(rate.Limit(rateHz), 1),
	}
}

// Connect dials the broker with auto-reconnect enabled.
func (e *Emitter) Connect(ctx context.Context) error {
	broker := e.cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(e.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		e.setConnected(true)
		slog.Info("remote: mqtt connection established", "broker", broker, "client_id", e.cfg.ClientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		e.setConnected(false)
		slog.Warn("remote: mqtt connection lost, will auto-reconnect", "error", err, "broker", broker)
	}

	client := mqtt.NewClient(opts)
	e.Attach(client)

	slog.Info("remote: connecting to mqtt broker", "broker", broker)

	token := client.Connect()
	select {
	case <-token.Done():
	case <-time.After(connectTimeout):
		return fmt.Errorf("remote: mqtt connection timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("remote: mqtt connection failed: %w", err)
	}

	e.setConnected(true)
	return nil
}

// Attach uses an existing client.
func (e *Emitter) Attach(c Client) {
	e.mu.Lock()
	e.client = c
	e.connected = c.IsConnected()
	e.mu.Unlock()
}

// Client returns the connection for the control handler.
func (e *Emitter) Client() Client {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.client
}

// PublishStatus encodes and publishes v. Calls above the rate limit are
// skipped and return false.
func (e *Emitter) PublishStatus(v interface{}) (bool, error) {
	if !e.limit.Allow() {
		return false, nil
	}
	if !e.IsConnected() {
		e.countError()
		return false, fmt.Errorf("remote: mqtt not connected")
	}

	payload, err := e.encode(v)
	if err != nil {
		e.countError()
		return false, fmt.Errorf("remote: failed to encode status: %w", err)
	}

	token := e.Client().Publish(e.cfg.Topics.Status, e.cfg.QoS["status"], false, payload)
	if !token.WaitTimeout(publishTimeout) {
		e.countError()
		return false, fmt.Errorf("remote: status publish timeout")
	}
	if err := token.Error(); err != nil {
		e.countError()
		return false, fmt.Errorf("remote: status publish failed: %w", err)
	}

	e.mu.Lock()
	e.published++
	e.mu.Unlock()
	return true, nil
}

// Run publishes status() until ctx is done.
func (e *Emitter) Run(ctx context.Context, status func() interface{}) {
	ticker := time.NewTicker(time.Duration(float64(time.Second) / float64(e.limit.Limit())))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.PublishStatus(status()); err != nil {
				slog.Debug("remote: status not published", "error", err)
			}
		}
	}
}

// Disconnect closes the connection with a 250 ms grace period.
func (e *Emitter) Disconnect() {
	if c, ok := e.Client().(mqtt.Client); ok && c.IsConnected() {
		c.Disconnect(250)
		slog.Info("remote: mqtt disconnected")
	}
	e.setConnected(false)
}

// EmitterStats reports publishing totals.
type EmitterStats struct {
	Connected bool   `json:"connected"`
	Published uint64 `json:"published"`
	Errors    uint64 `json:"errors"`
}

// Stats returns a snapshot.
func (e *Emitter) Stats() EmitterStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return EmitterStats{Connected: e.connected, Published: e.published, Errors: e.errors}
}

// IsConnected reports the last known connection state.
func (e *Emitter) IsConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.client != nil && e.connected
}

func (e *Emitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *Emitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
