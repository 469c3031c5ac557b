package websocket

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/HSouheill/barrim_referrals/middleware"
)

const authPrefix = "AUTH:"

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler upgrades the request and keeps the connection registered until the
// peer goes away. A JWT may come as ?token=, as a bearer header, or later as
// an "AUTH:<token>" text message.
func Handler(hub *Hub, jwtSecret string) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID := primitive.NilObjectID
		if token := bearerToken(c); token != "" {
			claims, err := middleware.ParseJWT(jwtSecret, token)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
			}
			userID, _ = primitive.ObjectIDFromHex(claims.UserID)
		}

		conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			return err
		}

		client := &Client{
			UserID:        userID,
			Conn:          conn,
			Authenticated: !userID.IsZero(),
		}
		hub.Register(client)
		defer hub.Unregister(client)

		if client.Authenticated {
			_ = client.Send(Notification{
				Type:    "connected",
				Message: "WebSocket connection established",
				UserID:  userID.Hex(),
			})
		} else {
			_ = client.Send(Notification{
				Type:         "connected",
				Message:      "WebSocket connection established. Please authenticate to receive notifications.",
				RequiresAuth: true,
			})
		}

		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				return nil
			}
			if messageType != websocket.TextMessage || !strings.HasPrefix(string(message), authPrefix) {
				continue
			}
			claims, err := middleware.ParseJWT(jwtSecret, strings.TrimPrefix(string(message), authPrefix))
			if err != nil {
				_ = client.Send(Notification{Type: "auth_response", Message: "Invalid or expired token", RequiresAuth: true})
				continue
			}
			id, _ := primitive.ObjectIDFromHex(claims.UserID)
			hub.AuthenticateClient(client, id)
			_ = client.Send(Notification{Type: "auth_response", Message: "Authenticated", UserID: id.Hex()})
		}
	}
}

func bearerToken(c echo.Context) string {
	if token := c.QueryParam("token"); token != "" {
		return token
	}
	auth := c.Request().Header.Get(echo.HeaderAuthorization)
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}
