package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/KevinKickass/OpenArmCore/internal/auth"
	"github.com/KevinKickass/OpenArmCore/internal/config"
	"github.com/KevinKickass/OpenArmCore/internal/motion"
	"github.com/KevinKickass/OpenArmCore/internal/state"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type received struct {
	Type   string          `json:"type"`
	Reason string          `json:"reason"`
	Data   json.RawMessage `json:"data"`
}

func newAuthService(t *testing.T, enabled bool) (*auth.AuthService, string) {
	t.Helper()
	token, hash, err := auth.NewMachineTokenGenerator().GenerateMachineToken()
	require.NoError(t, err)

	svc, err := auth.NewAuthService(config.AuthConfig{
		Enabled:         enabled,
		AccessTokenTTL:  time.Minute,
		RefreshTokenTTL: time.Hour,
		MachineTokens: []config.MachineTokenConfig{
			{Name: "hmi", Hash: hash, Permissions: []string{"operator"}},
		},
	}, "test", zap.NewNop())
	require.NoError(t, err)
	return svc, token
}

func startHub(t *testing.T, svc *auth.AuthService) (*Hub, string) {
	t.Helper()
	hub := NewHub(zap.NewNop(), svc)
	go hub.Run()
	t.Cleanup(hub.Stop)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	}))
	t.Cleanup(srv.Close)

	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) received {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg received
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestAuthDisabledClientReceivesBroadcasts(t *testing.T) {
	svc, _ := newAuthService(t, false)
	hub, url := startHub(t, svc)
	conn := dial(t, url)

	assert.Equal(t, "auth_success", read(t, conn).Type)
	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.Broadcast(NewMessage(MessageTypeSystemStatus, map[string]string{"state": "RUNNING"}))
	msg := read(t, conn)
	assert.Equal(t, string(MessageTypeSystemStatus), msg.Type)
	assert.JSONEq(t, `{"state":"RUNNING"}`, string(msg.Data))
}

func TestFirstMessageMustAuthenticate(t *testing.T) {
	svc, _ := newAuthService(t, true)
	hub, url := startHub(t, svc)
	conn := dial(t, url)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "subscribe"}))
	msg := read(t, conn)
	assert.Equal(t, "auth_failed", msg.Type)
	assert.Equal(t, "First message must be authentication", msg.Reason)

	// The server closes the connection afterwards
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 0, hub.GetClientCount())
}

func TestInvalidTokenRejected(t *testing.T) {
	svc, _ := newAuthService(t, true)
	_, url := startHub(t, svc)
	conn := dial(t, url)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "auth", "token": "oac_nope"}))
	msg := read(t, conn)
	assert.Equal(t, "auth_failed", msg.Type)
	assert.Equal(t, "Invalid or expired token", msg.Reason)
}

func TestMachineTokenAuthenticatesAndSubscribes(t *testing.T) {
	svc, token := newAuthService(t, true)
	hub, url := startHub(t, svc)
	conn := dial(t, url)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "auth", "token": token}))
	assert.Equal(t, "auth_success", read(t, conn).Type)
	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "subscribe", "topics": []string{"motion"}}))
	// Subscription changes are applied asynchronously
	time.Sleep(100 * time.Millisecond)

	hub.Broadcast(NewRobotStateMessage(state.RobotState{Sequence: 1}))
	hub.Broadcast(NewMotionEventMessage(motion.Execution{ID: uuid.New(), State: motion.StateRunning}))

	msg := read(t, conn)
	assert.Equal(t, string(MessageTypeMotionEvent), msg.Type)

	var exec motion.Execution
	require.NoError(t, json.Unmarshal(msg.Data, &exec))
	assert.Equal(t, motion.StateRunning, exec.State)
}

func TestHubStopClosesClients(t *testing.T) {
	svc, _ := newAuthService(t, false)
	hub, url := startHub(t, svc)
	conn := dial(t, url)

	read(t, conn)
	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.Stop()
	assert.Equal(t, 0, hub.GetClientCount())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	// Stop is idempotent
	hub.Stop()
}

func nextBroadcast(t *testing.T, hub *Hub) Message {
	t.Helper()
	select {
	case msg := <-hub.broadcast:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no broadcast")
		return Message{}
	}
}

// nextEvent skips throttled state messages, which may interleave with anything.
func nextEvent(t *testing.T, hub *Hub) Message {
	t.Helper()
	for {
		if msg := nextBroadcast(t, hub); msg.Type != MessageTypeRobotState {
			return msg
		}
	}
}

func TestPublisherThrottlesStateAndForwardsEvents(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil)
	store := state.NewStore()
	events := motion.NewEventStreamer()

	p := NewPublisher(hub, store, events, 50*time.Millisecond, zap.NewNop())
	p.Start()
	defer p.Stop()

	mode := state.RobotModeData{RobotConnected: true, PowerOn: true, ProgramRunning: true}
	joints := state.JointData{}
	joints[5].QActual = 1.5
	store.Update(state.Patch{Mode: &mode, Joints: &joints})
	for i := 0; i < 5; i++ {
		store.Update(state.Patch{Mode: &mode})
	}

	msg := nextBroadcast(t, hub)
	require.Equal(t, MessageTypeRobotConnection, msg.Type)
	assert.True(t, msg.Data.(RobotConnectionData).Connected)

	// Six updates collapse into one state message with the latest snapshot
	msg = nextBroadcast(t, hub)
	require.Equal(t, MessageTypeRobotState, msg.Type)
	data := msg.Data.(RobotStateData)
	assert.Equal(t, uint64(6), data.Sequence)
	assert.True(t, data.ProgramRunning)
	assert.Equal(t, 1.5, data.Joints[5])
	assert.Nil(t, data.TCP)

	exec := motion.Execution{ID: uuid.New(), State: motion.StateCompleted}
	events.Broadcast(exec)
	msg = nextEvent(t, hub)
	require.Equal(t, MessageTypeMotionEvent, msg.Type)
	assert.Equal(t, exec.ID, msg.Data.(motion.Execution).ID)

	store.MarkStale("secondary read failed")
	msg = nextEvent(t, hub)
	require.Equal(t, MessageTypeRobotConnection, msg.Type)
	conn := msg.Data.(RobotConnectionData)
	assert.False(t, conn.Connected)
	assert.Equal(t, "secondary read failed", conn.Reason)

	store.Update(state.Patch{Message: &state.RobotMessage{Text: "hello"}})
	msg = nextEvent(t, hub)
	require.Equal(t, MessageTypeRobotMessage, msg.Type)
	assert.Equal(t, "hello", msg.Data.(state.RobotMessage).Text)
}
