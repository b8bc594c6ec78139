package stream

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// RegisterRoutes exposes the caller's own topics over WebSocket. The auth
// middleware must store user_id in locals.
func RegisterRoutes(r fiber.Router, hub *Hub, authMiddleware fiber.Handler) {
	r.Get("/ws/:channel", authMiddleware, func(c *fiber.Ctx) error {
		userID, _ := c.Locals("user_id").(string)
		topic := channelTopic(c.Params("channel"), userID)
		if topic == "" {
			return fiber.NewError(fiber.StatusNotFound, "unknown channel")
		}
		c.Locals("topic", topic)
		return c.Next()
	}, websocket.New(func(c *websocket.Conn) {
		topic, _ := c.Locals("topic").(string)
		client := hub.Register(topic)
		defer hub.Unregister(client)

		done := make(chan struct{})
		go func() {
			for msg := range client.Send {
				if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
					break
				}
			}
			close(done)
		}()

		for {
			if _, _, err := c.ReadMessage(); err != nil {
				break
			}
		}
		hub.Unregister(client)
		<-done
	}))
}

func channelTopic(channel, userID string) string {
	if userID == "" {
		return ""
	}
	switch channel {
	case "state":
		return TrackerTopic(userID)
	case "profile":
		return ProfileTopic(userID)
	default:
		return ""
	}
}
