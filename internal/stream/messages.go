package stream

// Message types pushed to viewers.
const (
	TypePositionUpdate     = "position_update"
	TypeTrackingEvent      = "tracking_event"
	TypeAck                = "ack"
	TypeSubscribedVehicles = "subscribed_vehicles"
	TypeError              = "error"
)

// Actions a viewer can send over its websocket.
const (
	ActionSubscribe          = "subscribe"
	ActionUnsubscribe        = "unsubscribe"
	ActionSubscribeAll       = "subscribe_all"
	ActionUnsubscribeAll     = "unsubscribe_all"
	ActionSubscribedVehicles = "subscribed_vehicles"
)

// Command is an inbound viewer request.
type Command struct {
	Action    string `json:"action"`
	VehicleID string `json:"vehicle_id,omitempty"`
}

// Message is the envelope of everything written to a viewer.
type Message struct {
	Type       string   `json:"type"`
	Action     string   `json:"action,omitempty"`
	VehicleID  string   `json:"vehicle_id,omitempty"`
	VehicleIDs []string `json:"vehicle_ids,omitempty"`
	All        bool     `json:"all,omitempty"`
	Success    bool     `json:"success,omitempty"`
	Error      string   `json:"error,omitempty"`
	Data       any      `json:"data,omitempty"`
}
