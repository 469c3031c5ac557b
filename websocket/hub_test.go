package websocket

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/HSouheill/barrim_referrals/middleware"
)

const testSecret = "ws-test-secret"

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func startServer(t *testing.T, hub *Hub) string {
	t.Helper()
	e := echo.New()
	e.GET("/ws", Handler(hub, testSecret))
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func readNotification(t *testing.T, conn *gws.Conn) Notification {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var n Notification
	require.NoError(t, conn.ReadJSON(&n))
	return n
}

func TestPublishReachesAuthenticatedUser(t *testing.T) {
	hub := NewHub(quietLogger())
	url := startServer(t, hub)
	userID := primitive.NewObjectID()
	token, err := middleware.GenerateJWT(testSecret, userID.Hex(), "p@x.com", "customer", time.Hour)
	require.NoError(t, err)

	conn, _, err := gws.DefaultDialer.Dial(url+"?token="+token, nil)
	require.NoError(t, err)
	defer conn.Close()

	welcome := readNotification(t, conn)
	assert.Equal(t, "connected", welcome.Type)
	assert.Equal(t, userID.Hex(), welcome.UserID)
	require.True(t, hub.Connected(userID))

	require.NoError(t, hub.Publish(userID, "invitation.accepted", "joined", map[string]string{"code": "AB12CD34EF56"}))
	event := readNotification(t, conn)
	assert.Equal(t, "invitation.accepted", event.Type)
	assert.Equal(t, "joined", event.Message)
}

func TestAuthMessageAuthenticatesLater(t *testing.T) {
	hub := NewHub(quietLogger())
	url := startServer(t, hub)
	userID := primitive.NewObjectID()

	conn, _, err := gws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	welcome := readNotification(t, conn)
	assert.True(t, welcome.RequiresAuth)
	assert.ErrorIs(t, hub.Publish(userID, "x", "y", nil), ErrNotConnected)

	require.NoError(t, conn.WriteMessage(gws.TextMessage, []byte("AUTH:garbage")))
	assert.True(t, readNotification(t, conn).RequiresAuth)

	token, err := middleware.GenerateJWT(testSecret, userID.Hex(), "p@x.com", "customer", 0)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(gws.TextMessage, []byte("AUTH:"+token)))
	reply := readNotification(t, conn)
	assert.Equal(t, "auth_response", reply.Type)
	assert.Equal(t, userID.Hex(), reply.UserID)
	assert.True(t, hub.Connected(userID))
}

func TestInvalidTokenIsRejectedBeforeUpgrade(t *testing.T) {
	hub := NewHub(quietLogger())
	url := startServer(t, hub)

	_, resp, err := gws.DefaultDialer.Dial(url+"?token=nope", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 401, resp.StatusCode)
}
