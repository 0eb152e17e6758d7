// Package remote exposes the player over MQTT and HTTP: a control topic for
// transport commands, a status topic and liveness/readiness endpoints.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/e7canasta/wizard-playback/internal/config"
)

const (
	subscribeTimeout = 5 * time.Second
	publishTimeout   = 2 * time.Second
	commandQueue     = 16
)

// Client is the part of mqtt.Client the handler and emitter use.
type Client interface {
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnected() bool
}

// Command is a control message.
type Command struct {
	Command string                 `json:"command"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// Response acknowledges a command on the status topic.
type Response struct {
	CommandAck string      `json:"command_ack"`
	Status     string      `json:"status"`
	Data       interface{} `json:"data,omitempty"`
	Error      string      `json:"error,omitempty"`
	Timestamp  string      `json:"timestamp"`
}

// Callbacks are invoked for each command. A nil callback answers
// "not implemented".
type Callbacks struct {
	OnPlay       func() error
	OnReverse    func() error
	OnStop       func() error
	OnTogglePlay func() error
	OnSetSpeed   func(speed float64) error
	OnSeek       func(playhead float64) error
	// OnScrub receives nil when scrubbing ends
	OnScrub func(t *float64) error
	// OnHover receives nil t when the pointer leaves the clip
	OnHover     func(clipID string, t *float64) error
	OnGetStatus func() interface{}
}

// Handler subscribes to the control topic and runs commands on its own
// goroutine, in arrival order.
type Handler struct {
	cfg       config.MQTTConfig
	client    Client
	encode    Encoder
	callbacks Callbacks
	commands  chan Command
	done      chan struct{}
	now       func() time.Time

	mu       sync.Mutex
	handled  uint64
	rejected uint64
	stopOnce sync.Once
}

// NewHandler creates a control handler publishing responses with cfg.Encoding.
func NewHandler(cfg config.MQTTConfig, client Client, callbacks Callbacks) *Handler {
	return &Handler{
		cfg:       cfg,
		client:    client,
		encode:    EncoderFor(cfg.Encoding),
		callbacks: callbacks,
		commands:  make(chan Command, commandQueue),
		done:      make(chan struct{}),
		now:       time.Now,
	}
}

// Start subscribes and begins processing.
func (h *Handler) Start(ctx context.Context) error {
	topic := h.cfg.Topics.Control
	qos := h.cfg.QoS["control"]

	slog.Info("remote: subscribing to control topic", "topic", topic, "qos", qos)

	token := h.client.Subscribe(topic, qos, h.messageHandler)
	if !token.WaitTimeout(subscribeTimeout) {
		return fmt.Errorf("remote: control subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("remote: control subscription failed: %w", err)
	}

	go h.processCommands(ctx)
	return nil
}

// Stop unsubscribes and ends processing. Safe to call more than once.
func (h *Handler) Stop() error {
	h.stopOnce.Do(func() {
		if h.client != nil && h.client.IsConnected() {
			h.client.Unsubscribe(h.cfg.Topics.Control).WaitTimeout(publishTimeout)
		}
		close(h.done)
		slog.Info("remote: control handler stopped")
	})
	return nil
}

func (h *Handler) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	h.enqueue(msg.Payload())
}

func (h *Handler) enqueue(payload []byte) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		slog.Warn("remote: failed to parse control command", "error", err)
		h.countRejected()
		h.publish(Response{CommandAck: "unknown", Status: "error", Error: "invalid JSON"})
		return
	}

	select {
	case <-h.done:
	case h.commands <- cmd:
	default:
		h.countRejected()
		slog.Warn("remote: command queue full, dropping command", "command", cmd.Command)
	}
}

func (h *Handler) processCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case cmd := <-h.commands:
			h.publish(h.Handle(cmd))
		}
	}
}

// Handle runs one command and returns its response.
func (h *Handler) Handle(cmd Command) Response {
	resp := Response{CommandAck: cmd.Command}
	defer h.countHandled()

	cb := h.callbacks
	switch cmd.Command {
	case "play":
		resp = runAction(resp, cb.OnPlay)
	case "reverse":
		resp = runAction(resp, cb.OnReverse)
	case "stop":
		resp = runAction(resp, cb.OnStop)
	case "toggle_play":
		resp = runAction(resp, cb.OnTogglePlay)

	case "set_speed":
		speed, ok := floatParam(cmd.Params, "speed")
		if !ok {
			return fail(resp, "missing or invalid 'speed' parameter (expected number)")
		}
		if cb.OnSetSpeed == nil {
			return notImplemented(resp)
		}
		if err := cb.OnSetSpeed(speed); err != nil {
			return fail(resp, err.Error())
		}
		resp.Status = "success"
		resp.Data = map[string]interface{}{"speed": speed}

	case "seek":
		playhead, ok := floatParam(cmd.Params, "playhead")
		if !ok {
			return fail(resp, "missing or invalid 'playhead' parameter (expected number)")
		}
		if cb.OnSeek == nil {
			return notImplemented(resp)
		}
		if err := cb.OnSeek(playhead); err != nil {
			return fail(resp, err.Error())
		}
		resp.Status = "success"
		resp.Data = map[string]interface{}{"playhead": playhead}

	case "scrub":
		t, ok := optionalFloat(cmd.Params, "time")
		if !ok {
			return fail(resp, "invalid 'time' parameter (expected number or null)")
		}
		if cb.OnScrub == nil {
			return notImplemented(resp)
		}
		if err := cb.OnScrub(t); err != nil {
			return fail(resp, err.Error())
		}
		resp.Status = "success"
		resp.Data = map[string]interface{}{"scrubbing": t != nil}

	case "hover":
		clipID, _ := cmd.Params["clip_id"].(string)
		t, ok := optionalFloat(cmd.Params, "t")
		if !ok || (t != nil && clipID == "") {
			return fail(resp, "hover needs 'clip_id' (string) and 't' (number in [0,1] or null)")
		}
		if cb.OnHover == nil {
			return notImplemented(resp)
		}
		if err := cb.OnHover(clipID, t); err != nil {
			return fail(resp, err.Error())
		}
		resp.Status = "success"

	case "get_status":
		if cb.OnGetStatus == nil {
			return notImplemented(resp)
		}
		resp.Status = "success"
		resp.Data = cb.OnGetStatus()

	default:
		return fail(resp, fmt.Sprintf("unknown command: %s", cmd.Command))
	}
	return resp
}

func runAction(resp Response, fn func() error) Response {
	if fn == nil {
		return notImplemented(resp)
	}
	if err := fn(); err != nil {
		return fail(resp, err.Error())
	}
	resp.Status = "success"
	return resp
}

func fail(resp Response, msg string) Response {
	resp.Status = "error"
	resp.Error = msg
	return resp
}

func notImplemented(resp Response) Response {
	return fail(resp, resp.CommandAck+" not implemented")
}

// floatParam accepts JSON numbers and numeric strings.
func floatParam(params map[string]interface{}, key string) (float64, bool) {
	switch v := params[key].(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// optionalFloat treats a missing or null key as nil.
func optionalFloat(params map[string]interface{}, key string) (*float64, bool) {
	raw, present := params[key]
	if !present || raw == nil {
		return nil, true
	}
	f, ok := floatParam(params, key)
	if !ok {
		return nil, false
	}
	return &f, true
}

func (h *Handler) publish(resp Response) {
	resp.Timestamp = h.now().UTC().Format(time.RFC3339Nano)

	payload, err := h.encode(resp)
	if err != nil {
		slog.Error("remote: failed to encode response", "error", err)
		return
	}

	token := h.client.Publish(h.cfg.Topics.Status, h.cfg.QoS["status"], false, payload)
	if !token.WaitTimeout(publishTimeout) {
		slog.Error("remote: response publish timeout", "command_ack", resp.CommandAck)
		return
	}
	if err := token.Error(); err != nil {
		slog.Error("remote: failed to publish response", "error", err)
		return
	}

	slog.Debug("remote: response sent", "command_ack", resp.CommandAck, "status", resp.Status)
}

func (h *Handler) countHandled() {
	h.mu.Lock()
	h.handled++
	h.mu.Unlock()
}

func (h *Handler) countRejected() {
	h.mu.Lock()
	h.rejected++
	h.mu.Unlock()
}

// Counts returns handled and rejected command totals.
func (h *Handler) Counts() (handled, rejected uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.handled, h.rejected
}
