package stream

import (
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Connect registers a new viewer connection with no subscriptions.
func (h *Hub) Connect() *Client {
	client := &Client{
		ID:   uuid.NewString(),
		Send: make(chan []byte, sendBuffer),
	}

	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()

	h.logger.Debug("viewer connected", zap.String("conn_id", client.ID))
	return client
}

// Disconnect removes the connection and every subscription it held, then
// closes its send channel. Safe to call more than once.
func (h *Hub) Disconnect(client *Client) {
	h.mu.Lock()
	if current, ok := h.clients[client.ID]; ok && current == client {
		delete(h.clients, client.ID)
	}
	h.mu.Unlock()

	h.registry.DropConnection(client.ID)
	client.closeOnce.Do(func() {
		close(client.Send)
		h.logger.Debug("viewer disconnected", zap.String("conn_id", client.ID))
	})
}

// Handle applies a viewer command and returns the reply for that viewer.
func (h *Hub) Handle(client *Client, cmd Command) Message {
	switch cmd.Action {
	case ActionSubscribe, ActionUnsubscribe:
		if cmd.VehicleID == "" {
			return Message{Type: TypeError, Action: cmd.Action, Error: "vehicle_id required"}
		}
		if cmd.Action == ActionSubscribe {
			h.registry.Subscribe(client.ID, cmd.VehicleID)
		} else {
			h.registry.Unsubscribe(client.ID, cmd.VehicleID)
		}
		return Message{Type: TypeAck, Action: cmd.Action, VehicleID: cmd.VehicleID, Success: true}
	case ActionSubscribeAll:
		h.registry.SubscribeAll(client.ID)
		return Message{Type: TypeAck, Action: cmd.Action, All: true, Success: true}
	case ActionUnsubscribeAll:
		h.registry.UnsubscribeAll(client.ID)
		return Message{Type: TypeAck, Action: cmd.Action, Success: true}
	case ActionSubscribedVehicles:
		return Message{
			Type:       TypeSubscribedVehicles,
			VehicleIDs: h.registry.SubscribedVehicles(client.ID),
			All:        h.registry.WatchesAll(client.ID),
		}
	default:
		return Message{Type: TypeError, Action: cmd.Action, Error: "unknown action"}
	}
}
