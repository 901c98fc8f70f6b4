package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"talkmix/internal/core/domain"
	"talkmix/internal/core/services"
	"talkmix/internal/infrastructure/distributed"
	"talkmix/internal/infrastructure/engine"
	"talkmix/internal/infrastructure/monitoring"
	"talkmix/internal/infrastructure/sinks"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type wireMessage struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Command string          `json:"command"`
	Result  json.RawMessage `json:"result"`
	Error   *ErrorPayload   `json:"error"`
	Event   *domain.Event   `json:"event"`
}

type controlClient struct {
	t      *testing.T
	url    string
	conn   *websocket.Conn
	seq    int
	events []*domain.Event
}

func newControlFixture(t *testing.T, cfg ServerConfig) (*services.Session, *controlClient) {
	t.Helper()
	logger := zap.NewNop().Sugar()

	sessionCfg := services.DefaultSessionConfig()
	sessionCfg.Clock = false
	sessionCfg.DrainTimeout = time.Second

	publisher := distributed.NewMultiPublisher()
	manager := sinks.NewManager(sinks.NewFactory(48000, 2, logger), sinks.DefaultWorkerConfig(), monitoring.NewNopCollector(), logger)
	session, err := services.NewSession(sessionCfg, engine.NewRecorder(5*time.Millisecond), manager, publisher, monitoring.NewNopCollector(), logger)
	require.NoError(t, err)

	server := NewCommandServer(session, cfg, logger)
	publisher.Add(server)

	httpServer := httptest.NewServer(http.HandlerFunc(server.HandleWebSocket))
	url := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "?client_id=test"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		_ = server.Close()
		httpServer.Close()
		if session.State().Accepting() {
			_, _ = session.Stop(context.Background())
		}
	})
	return session, &controlClient{t: t, url: url, conn: conn}
}

// call sends a command and returns its reply, collecting events that arrive first.
func (c *controlClient) call(kind string, payload interface{}) wireMessage {
	c.t.Helper()
	c.seq++
	cmd := map[string]interface{}{"id": fmt.Sprint(c.seq), "type": kind}
	if payload != nil {
		cmd["payload"] = payload
	}
	require.NoError(c.t, c.conn.WriteJSON(cmd))
	return c.await(fmt.Sprint(c.seq))
}

func (c *controlClient) await(id string) wireMessage {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg wireMessage
		require.NoError(c.t, c.conn.ReadJSON(&msg))
		if msg.Type == MessageEvent {
			c.events = append(c.events, msg.Event)
			continue
		}
		if msg.ID == id {
			return msg
		}
	}
}

func (c *controlClient) ok(kind string, payload interface{}) wireMessage {
	c.t.Helper()
	reply := c.call(kind, payload)
	require.Nil(c.t, reply.Error, "%s failed: %+v", kind, reply.Error)
	require.Equal(c.t, MessageResult, reply.Type)
	return reply
}

func TestCommandServer_DrivesSession(t *testing.T) {
	session, client := newControlFixture(t, DefaultServerConfig())

	client.ok("start", nil)
	for _, id := range []string{"a", "b", "c"} {
		client.ok("add_stream", map[string]string{"stream_id": id, "title": strings.ToUpper(id)})
	}
	client.ok("set_layout", map[string]interface{}{"layout": "speaker", "max_visible": 2})
	client.ok("set_speaker", map[string]string{"stream_id": "c", "mode": "shift"})

	reply := client.ok("get_plan", nil)
	var plan domain.RenderPlan
	require.NoError(t, json.Unmarshal(reply.Result, &plan))
	assert.Equal(t, domain.LayoutSpeaker, plan.Layout)
	assert.Equal(t, domain.StreamID("c"), plan.Speaker)
	assert.Equal(t, []domain.StreamID{"c", "b"}, plan.Visible())
	assert.Equal(t, session.Plan().Version, plan.Version)

	var types []domain.EventType
	for _, e := range client.events {
		types = append(types, e.Type)
	}
	assert.Contains(t, types, domain.EventStreamAdded)
	assert.Contains(t, types, domain.EventSpeakerChanged)

	sink := client.ok("add_sink", map[string]interface{}{"spec": map[string]interface{}{"kind": "display", "name": "monitor"}})
	var added map[string]string
	require.NoError(t, json.Unmarshal(sink.Result, &added))
	require.NotEmpty(t, added["sink"])
	assert.Len(t, session.Sinks(), 1)

	stop := client.ok("stop", nil)
	var report domain.DrainReport
	require.NoError(t, json.Unmarshal(stop.Result, &report))
	assert.Contains(t, report.Finalized, domain.SinkHandle(added["sink"]))
	assert.Equal(t, domain.SessionStopped, session.State())
}

func TestCommandServer_Errors(t *testing.T) {
	_, client := newControlFixture(t, DefaultServerConfig())

	client.ok("start", nil)

	reply := client.call("remove_stream", map[string]string{"stream_id": "zz"})
	require.NotNil(t, reply.Error)
	assert.Equal(t, "NOT_FOUND", reply.Error.Code)

	reply = client.call("set_layout", map[string]interface{}{"layout": "carousel"})
	require.NotNil(t, reply.Error)
	assert.Equal(t, "INVALID_INPUT", reply.Error.Code)

	reply = client.call("teleport", nil)
	require.NotNil(t, reply.Error)
	assert.Equal(t, "INVALID_INPUT", reply.Error.Code)
	assert.Equal(t, "teleport", reply.Command)

	reply = client.call("set_status", nil)
	require.NotNil(t, reply.Error)
	assert.Equal(t, "INVALID_INPUT", reply.Error.Code, "missing payload")

	require.NoError(t, client.conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	require.NoError(t, client.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var malformed wireMessage
	require.NoError(t, client.conn.ReadJSON(&malformed))
	require.NotNil(t, malformed.Error)
	assert.Equal(t, "INVALID_INPUT", malformed.Error.Code)

	client.ok("stop", nil)
	reply = client.call("add_stream", map[string]string{"stream_id": "late"})
	require.NotNil(t, reply.Error)
	assert.Equal(t, "NOT_RUNNING", reply.Error.Code)
}

func TestCommandServer_ThrottlesClients(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.MessagesPerSecond = 0.001
	cfg.Burst = 1
	_, client := newControlFixture(t, cfg)

	client.ok("get_streams", nil)
	reply := client.call("get_streams", nil)
	require.NotNil(t, reply.Error)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", reply.Error.Code)
}

func TestCommandServer_DuplicateClientIDIsRefused(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.MessagesPerSecond = 0.001
	cfg.Burst = 1
	_, client := newControlFixture(t, cfg)

	client.ok("get_streams", nil)

	conn, resp, err := websocket.DefaultDialer.Dial(client.url, nil)
	if conn != nil {
		_ = conn.Close()
	}
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// The first connection is still open and its budget was not reset.
	reply := client.call("get_streams", nil)
	require.NotNil(t, reply.Error)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", reply.Error.Code)
}

func TestExecute_UnknownCommand(t *testing.T) {
	reply := Execute(context.Background(), nil, Command{ID: "1", Type: "nope"})
	assert.Equal(t, MessageError, reply.Type)
	assert.Equal(t, "1", reply.ID)
	assert.Equal(t, "INVALID_INPUT", reply.Error.Code)
}
