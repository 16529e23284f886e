package convai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/naradvoice/narad/internal/audio"
	"github.com/naradvoice/narad/internal/engine"
)

func newConvaiTestServer(t *testing.T, handler func(r *http.Request, conn *websocket.Conn)) string {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/convai/conversation" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("agent_id") == "forbidden" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		handler(r, conn)
	}))
	t.Cleanup(server.Close)

	return "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/convai/conversation"
}

func newTestEngine(url string, opts ...Option) *Engine {
	base := []Option{WithLogger(log.New(io.Discard))}
	return New(Config{URL: url, HandshakeTimeout: 2 * time.Second}, append(base, opts...)...)
}

// callbackLog collects engine callbacks as short strings.
type callbackLog struct {
	events chan string

	mu         sync.Mutex
	disconnect engine.DisconnectEvent
	err        error
}

func newCallbackLog() *callbackLog {
	return &callbackLog{events: make(chan string, 64)}
}

func (c *callbackLog) callbacks() engine.Callbacks {
	return engine.Callbacks{
		OnConnect: func() { c.events <- "connect" },
		OnDisconnect: func(ev engine.DisconnectEvent) {
			c.mu.Lock()
			c.disconnect = ev
			c.mu.Unlock()
			c.events <- "disconnect"
		},
		OnError: func(err error) {
			c.mu.Lock()
			c.err = err
			c.mu.Unlock()
			c.events <- "error"
		},
		OnModeChange: func(m engine.Mode) { c.events <- "mode:" + m.String() },
		OnMessage:    func(m engine.Message) { c.events <- "message:" + m.Source + ":" + m.Text },
	}
}

func (c *callbackLog) next(t *testing.T) string {
	t.Helper()
	select {
	case ev := <-c.events:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for callback")
		return ""
	}
}

func (c *callbackLog) expect(t *testing.T, want ...string) {
	t.Helper()
	for _, w := range want {
		if got := c.next(t); got != w {
			t.Fatalf("callback = %q, want %q", got, w)
		}
	}
}

func writeMetadata(conn *websocket.Conn) error {
	return conn.WriteJSON(map[string]any{
		"type": "conversation_initiation_metadata",
		"conversation_initiation_metadata_event": map[string]any{
			"conversation_id":           "conv_1",
			"agent_output_audio_format": "pcm_16000",
			"user_input_audio_format":   "pcm_16000",
		},
	})
}

func TestConversationLifecycle(t *testing.T) {
	gotAgent := make(chan string, 1)
	gotPong := make(chan int64, 1)
	gotClose := make(chan int, 1)

	url := newConvaiTestServer(t, func(r *http.Request, conn *websocket.Conn) {
		defer conn.Close()
		gotAgent <- r.URL.Query().Get("agent_id")

		var init map[string]any
		if err := conn.ReadJSON(&init); err != nil || init["type"] != "conversation_initiation_client_data" {
			return
		}
		_ = writeMetadata(conn)
		_ = conn.WriteJSON(map[string]any{
			"type":                     "user_transcript",
			"user_transcription_event": map[string]any{"user_transcript": "hi"},
		})
		_ = conn.WriteJSON(map[string]any{
			"type":                 "agent_response",
			"agent_response_event": map[string]any{"agent_response": "hello there"},
		})
		// 50ms of audio.
		_ = conn.WriteJSON(map[string]any{
			"type": "audio",
			"audio_event": map[string]any{
				"audio_base_64": base64.StdEncoding.EncodeToString(make([]byte, 1600)),
				"event_id":      1,
			},
		})
		_ = conn.WriteJSON(map[string]any{
			"type":       "ping",
			"ping_event": map[string]any{"event_id": 7, "ping_ms": 10},
		})

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				var ce *websocket.CloseError
				if errors.As(err, &ce) {
					gotClose <- ce.Code
				}
				return
			}
			var p pong
			if json.Unmarshal(data, &p) == nil && p.Type == "pong" {
				gotPong <- p.EventID
			}
		}
	})

	mock := audio.NewMockContext(0)
	eng := newTestEngine(url, WithOutput(func(_ context.Context, f audio.Format) (audio.Stream, error) {
		return mock.NewStream(f)
	}))
	cbs := newCallbackLog()
	h, err := eng.Open(context.Background(), engine.Request{AgentID: "2601abc"}, cbs.callbacks())
	if err != nil {
		t.Fatal(err)
	}

	if a := <-gotAgent; a != "2601abc" {
		t.Errorf("agent_id = %q", a)
	}
	cbs.expect(t,
		"connect",
		"message:user:hi",
		"message:ai:hello there",
		"mode:speaking",
		"mode:listening",
	)

	select {
	case id := <-gotPong:
		if id != 7 {
			t.Errorf("pong event_id = %d", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no pong")
	}

	streams := mock.Streams()
	if len(streams) != 1 || streams[0].Metrics().Bytes != 1600 {
		t.Fatalf("agent audio not played: %d streams", len(streams))
	}

	if err := h.End(context.Background()); err != nil {
		t.Fatalf("End: %v", err)
	}
	if err := h.End(context.Background()); err != nil {
		t.Fatalf("second End: %v", err)
	}
	select {
	case code := <-gotClose:
		if code != websocket.CloseNormalClosure {
			t.Errorf("close code = %d", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw a close frame")
	}
	if !streams[0].Closed() {
		t.Error("playback stream not closed")
	}

	select {
	case ev := <-cbs.events:
		t.Errorf("callback after End: %s", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestInterruptionReturnsToListening(t *testing.T) {
	url := newConvaiTestServer(t, func(_ *http.Request, conn *websocket.Conn) {
		defer conn.Close()
		var init json.RawMessage
		_ = conn.ReadJSON(&init)
		_ = writeMetadata(conn)
		// Ten seconds of audio, cut short by an interruption.
		_ = conn.WriteJSON(map[string]any{
			"type":        "audio",
			"audio_event": map[string]any{"audio_base_64": base64.StdEncoding.EncodeToString(make([]byte, 320000))},
		})
		_ = conn.WriteJSON(map[string]any{
			"type":               "interruption",
			"interruption_event": map[string]any{"event_id": 2},
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	cbs := newCallbackLog()
	h, err := newTestEngine(url).Open(context.Background(), engine.Request{AgentID: "x"}, cbs.callbacks())
	if err != nil {
		t.Fatal(err)
	}
	defer h.End(context.Background())

	cbs.expect(t, "connect", "mode:speaking", "mode:listening")
}

func TestCloseBeforeStartIsError(t *testing.T) {
	url := newConvaiTestServer(t, func(_ *http.Request, conn *websocket.Conn) {
		defer conn.Close()
		var init json.RawMessage
		_ = conn.ReadJSON(&init)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "invalid agent"),
			time.Now().Add(time.Second))
		time.Sleep(100 * time.Millisecond)
	})

	cbs := newCallbackLog()
	h, err := newTestEngine(url).Open(context.Background(), engine.Request{AgentID: "bad"}, cbs.callbacks())
	if err != nil {
		t.Fatal(err)
	}
	defer h.End(context.Background())

	cbs.expect(t, "error")
	cbs.mu.Lock()
	defer cbs.mu.Unlock()
	if !strings.Contains(cbs.err.Error(), "1008") || !strings.Contains(cbs.err.Error(), "invalid agent") {
		t.Errorf("error = %v", cbs.err)
	}
}

func TestServerCloseAfterStartIsDisconnect(t *testing.T) {
	url := newConvaiTestServer(t, func(_ *http.Request, conn *websocket.Conn) {
		defer conn.Close()
		var init json.RawMessage
		_ = conn.ReadJSON(&init)
		_ = writeMetadata(conn)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "upstream failure"),
			time.Now().Add(time.Second))
		time.Sleep(100 * time.Millisecond)
	})

	cbs := newCallbackLog()
	h, err := newTestEngine(url).Open(context.Background(), engine.Request{AgentID: "x"}, cbs.callbacks())
	if err != nil {
		t.Fatal(err)
	}
	defer h.End(context.Background())

	cbs.expect(t, "connect", "disconnect")
	cbs.mu.Lock()
	defer cbs.mu.Unlock()
	if cbs.disconnect.Code != websocket.CloseInternalServerErr || cbs.disconnect.Reason != "upstream failure" {
		t.Errorf("disconnect = %+v", cbs.disconnect)
	}
	if cbs.disconnect.Graceful() {
		t.Error("1011 should not be graceful")
	}
}

func TestMicrophoneAudioIsStreamed(t *testing.T) {
	chunks := make(chan []byte, 8)
	url := newConvaiTestServer(t, func(_ *http.Request, conn *websocket.Conn) {
		defer conn.Close()
		var init json.RawMessage
		_ = conn.ReadJSON(&init)
		_ = writeMetadata(conn)
		for {
			var frame userAudioChunk
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			pcm, _ := base64.StdEncoding.DecodeString(frame.UserAudioChunk)
			chunks <- pcm
		}
	})

	input := bytes.NewReader(bytes.Repeat([]byte{1, 0}, 4096))
	cbs := newCallbackLog()
	h, err := newTestEngine(url, WithChunkSize(4096)).Open(context.Background(),
		engine.Request{AgentID: "x", Input: input, SampleRate: 16000}, cbs.callbacks())
	if err != nil {
		t.Fatal(err)
	}
	defer h.End(context.Background())
	cbs.expect(t, "connect")

	total := 0
	for total < 8192 {
		select {
		case c := <-chunks:
			total += len(c)
		case <-time.After(2 * time.Second):
			t.Fatalf("received %d bytes of microphone audio, want 8192", total)
		}
	}
}

func TestDialRejected(t *testing.T) {
	url := newConvaiTestServer(t, func(*http.Request, *websocket.Conn) {})

	_, err := newTestEngine(url).Open(context.Background(), engine.Request{AgentID: "forbidden"}, engine.Callbacks{})
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected 403 dial error, got %v", err)
	}
	if _, err := newTestEngine(url).Open(context.Background(), engine.Request{}, engine.Callbacks{}); err == nil {
		t.Fatal("expected error for empty agent id")
	}
}

func TestEndpointKeepsQuery(t *testing.T) {
	e := New(Config{URL: "wss://example.com/v1/convai/conversation?region=eu"})
	got, err := e.endpoint("abc")
	if err != nil {
		t.Fatal(err)
	}
	if got != "wss://example.com/v1/convai/conversation?agent_id=abc&region=eu" {
		t.Errorf("endpoint = %q", got)
	}
}
