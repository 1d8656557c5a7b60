package stream

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
)

func RegisterRoutes(r fiber.Router, hub *Hub, authMiddleware fiber.Handler) {
	r.Use("/ws", authMiddleware, func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		return c.Next()
	})

	r.Get("/ws", websocket.New(func(c *websocket.Conn) {
		client := hub.Connect()

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
			_, raw, err := c.ReadMessage()
			if err != nil {
				break
			}
			var cmd Command
			reply := Message{Type: TypeError, Error: "invalid command"}
			if err := json.Unmarshal(raw, &cmd); err == nil {
				reply = hub.Handle(client, cmd)
			}
			if err := hub.SendMessage(client.ID, reply); err != nil {
				hub.logger.Warn("reply not queued", zap.String("conn_id", client.ID), zap.Error(err))
			}
		}

		hub.Disconnect(client)
		<-done
	}))
}
