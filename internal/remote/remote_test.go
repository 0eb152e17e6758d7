package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/wizard-playback/internal/config"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic   string
	payload []byte
}

type fakeClient struct {
	mu         sync.Mutex
	connected  bool
	subscribed []string
	sent       []published
	publishErr error
}

func (c *fakeClient) Subscribe(topic string, _ byte, _ mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribed = append(c.subscribed, topic)
	return doneToken{}
}

func (c *fakeClient) Unsubscribe(...string) mqtt.Token { return doneToken{} }

func (c *fakeClient) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, published{topic: topic, payload: payload.([]byte)})
	return doneToken{err: c.publishErr}
}

func (c *fakeClient) IsConnected() bool { return c.connected }

func (c *fakeClient) responses(t *testing.T) []Response {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Response, 0, len(c.sent))
	for _, p := range c.sent {
		var r Response
		require.NoError(t, json.Unmarshal(p.payload, &r))
		out = append(out, r)
	}
	return out
}

func testMQTT() config.MQTTConfig {
	return config.MQTTConfig{
		Broker:   "localhost:1883",
		ClientID: "wizard-play-test",
		Topics:   config.MQTTTopics{Control: "wizard/control/test", Status: "wizard/status/test"},
		QoS:      map[string]byte{"control": 1, "status": 0},
		Encoding: "json",
	}
}

func TestHandler_Commands(t *testing.T) {
	var calls []string
	var speed float64
	var scrub *float64
	var hoverClip string

	cb := Callbacks{
		OnPlay:    func() error { calls = append(calls, "play"); return nil },
		OnReverse: func() error { calls = append(calls, "reverse"); return nil },
		OnStop:    func() error { return errors.New("engine closed") },
		OnSetSpeed: func(s float64) error {
			speed = s
			return nil
		},
		OnSeek: func(float64) error { return nil },
		OnScrub: func(t *float64) error {
			scrub = t
			return nil
		},
		OnHover: func(id string, _ *float64) error {
			hoverClip = id
			return nil
		},
	}
	h := NewHandler(testMQTT(), &fakeClient{connected: true}, cb)

	tests := []struct {
		name   string
		cmd    Command
		status string
		errMsg string
	}{
		{"play", Command{Command: "play"}, "success", ""},
		{"reverse", Command{Command: "reverse"}, "success", ""},
		{"stop error surfaces", Command{Command: "stop"}, "error", "engine closed"},
		{"toggle not wired", Command{Command: "toggle_play"}, "error", "toggle_play not implemented"},
		{"speed number", Command{Command: "set_speed", Params: map[string]interface{}{"speed": 2.0}}, "success", ""},
		{"speed string", Command{Command: "set_speed", Params: map[string]interface{}{"speed": "0.5"}}, "success", ""},
		{"speed missing", Command{Command: "set_speed"}, "error", "missing or invalid 'speed' parameter (expected number)"},
		{"seek bad type", Command{Command: "seek", Params: map[string]interface{}{"playhead": true}}, "error", "missing or invalid 'playhead' parameter (expected number)"},
		{"unknown", Command{Command: "rewind"}, "error", "unknown command: rewind"},
		{"status not wired", Command{Command: "get_status"}, "error", "get_status not implemented"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.Handle(tt.cmd)
			assert.Equal(t, tt.cmd.Command, resp.CommandAck)
			assert.Equal(t, tt.status, resp.Status)
			assert.Equal(t, tt.errMsg, resp.Error)
		})
	}

	assert.Equal(t, []string{"play", "reverse"}, calls)
	assert.Equal(t, 0.5, speed, "last set_speed wins")

	resp := h.Handle(Command{Command: "scrub", Params: map[string]interface{}{"time": 4.25}})
	require.Equal(t, "success", resp.Status)
	require.NotNil(t, scrub)
	assert.Equal(t, 4.25, *scrub)

	resp = h.Handle(Command{Command: "scrub", Params: map[string]interface{}{"time": nil}})
	require.Equal(t, "success", resp.Status)
	assert.Nil(t, scrub, "null time ends the scrub")

	resp = h.Handle(Command{Command: "hover", Params: map[string]interface{}{"t": 0.5}})
	assert.Equal(t, "error", resp.Status, "hover needs a clip id")
	resp = h.Handle(Command{Command: "hover", Params: map[string]interface{}{"clip_id": "s1", "t": 0.5}})
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, "s1", hoverClip)

	handled, _ := h.Counts()
	assert.Equal(t, uint64(len(tests)+4), handled)
}

func TestHandler_QueueAndRespond(t *testing.T) {
	client := &fakeClient{connected: true}
	played := make(chan struct{}, 1)
	h := NewHandler(testMQTT(), client, Callbacks{
		OnPlay:      func() error { played <- struct{}{}; return nil },
		OnGetStatus: func() interface{} { return map[string]interface{}{"state": "playing"} },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, h.Start(ctx))
	assert.Equal(t, []string{"wizard/control/test"}, client.subscribed)

	h.enqueue([]byte(`{"command":"play"}`))
	h.enqueue([]byte(`{"command":"get_status"}`))
	h.enqueue([]byte(`not json`))

	select {
	case <-played:
	case <-time.After(2 * time.Second):
		t.Fatal("play callback not invoked")
	}

	require.Eventually(t, func() bool { return len(client.responses(t)) == 3 }, 2*time.Second, 10*time.Millisecond)

	byAck := map[string]Response{}
	for _, r := range client.responses(t) {
		byAck[r.CommandAck] = r
		assert.NotEmpty(t, r.Timestamp)
	}
	assert.Equal(t, "error", byAck["unknown"].Status)
	assert.Equal(t, "success", byAck["play"].Status)
	assert.Equal(t, map[string]interface{}{"state": "playing"}, byAck["get_status"].Data)

	_, rejected := h.Counts()
	assert.Equal(t, uint64(1), rejected)

	require.NoError(t, h.Stop())
	require.NoError(t, h.Stop())
	t.Logf("✅ Commands processed in order, invalid payload answered")
}

func TestEncoderFor_MsgpackUsesJSONKeys(t *testing.T) {
	payload, err := EncoderFor("msgpack")(Response{CommandAck: "seek", Status: "success"})
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, DecodeMsgpack(payload, &decoded))
	assert.Equal(t, "seek", decoded["command_ack"])
	assert.NotContains(t, decoded, "error", "omitempty honoured")

	asJSON, err := EncoderFor("json")(Response{CommandAck: "seek", Status: "success"})
	require.NoError(t, err)
	assert.Less(t, len(payload), len(asJSON))
}

func TestEmitter_PublishStatus(t *testing.T) {
	client := &fakeClient{connected: true}
	e := NewEmitter(testMQTT(), 1)

	_, err := e.PublishStatus(map[string]string{"state": "stopped"})
	assert.Error(t, err, "not attached")

	time.Sleep(1100 * time.Millisecond)
	e.Attach(client)

	ok, err := e.PublishStatus(map[string]string{"state": "playing"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.PublishStatus(map[string]string{"state": "playing"})
	require.NoError(t, err)
	assert.False(t, ok, "rate limited")

	stats := e.Stats()
	assert.Equal(t, uint64(1), stats.Published)
	assert.Equal(t, uint64(1), stats.Errors)
	assert.True(t, stats.Connected)
	require.Len(t, client.sent, 1)
	assert.Equal(t, "wizard/status/test", client.sent[0].topic)
}

type fakeSource struct{ health HealthStatus }

func (s fakeSource) HealthCheck() HealthStatus { return s.health }
func (s fakeSource) StatusSnapshot() interface{} {
	return map[string]interface{}{"playhead": 1.5}
}

func TestHealthServer_Endpoints(t *testing.T) {
	tests := []struct {
		name string
		path string
		src  fakeSource
		code int
	}{
		{"liveness", "/health", fakeSource{}, http.StatusOK},
		{"ready", "/readiness", fakeSource{HealthStatus{Status: "healthy", Running: true}}, http.StatusOK},
		{"degraded still ready", "/readiness", fakeSource{HealthStatus{Status: "degraded", Running: true}}, http.StatusOK},
		{"not running", "/readiness", fakeSource{HealthStatus{Status: "unhealthy"}}, http.StatusServiceUnavailable},
		{"status", "/status", fakeSource{}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(NewHealthServer(tt.src).Handler())
			defer srv.Close()

			resp, err := http.Get(srv.URL + tt.path)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.code, resp.StatusCode)
			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.NotEmpty(t, body)
		})
	}
}

func TestHealthServer_StartShutdown(t *testing.T) {
	s := NewHealthServer(fakeSource{HealthStatus{Status: "healthy"}})
	addr, err := s.Start("127.0.0.1:0")
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
}
