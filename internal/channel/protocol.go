package channel

import (
	"encoding/json"
	"fmt"

	"github.com/example/driver-agent/internal/models"
)

// FrameType tags every JSON frame on the message channel.
type FrameType string

const (
	FrameDriverOnline       FrameType = "driver_online"
	FrameNewOrder           FrameType = "new_order"
	FrameOrderUpdate        FrameType = "order_update"
	FrameDriverStatusUpdate FrameType = "driver_status_update"
	FrameMessage            FrameType = "message"
	FramePing               FrameType = "ping"
	FramePong               FrameType = "pong"
)

// presenceFrame is the client→server announcement sent right after connect.
type presenceFrame struct {
	Type     FrameType           `json:"type"`
	DriverID int64               `json:"driver_id"`
	Status   models.DriverStatus `json:"status"`
}

type pongFrame struct {
	Type FrameType `json:"type"`
}

// Event is the closed set of channel occurrences delivered to the consumer.
// Frames with unrecognized tags never become events; they are logged and
// counted instead.
type Event interface{ channelEvent() }

// Connected fires after a successful dial and presence announcement.
type Connected struct{}

// Disconnected fires when an established connection drops. A reconnect
// attempt follows unless the run context is done.
type Disconnected struct{ Err error }

// Down fires when the reconnect budget is exhausted and the client gives up.
type Down struct{ Attempts int }

// NewOrder is a time-boxed offer pushed by the dispatcher.
type NewOrder struct {
	Order      models.Order
	TimeoutSec int
}

// OrderUpdate mirrors a server-side status change of the active order.
type OrderUpdate struct {
	OrderID int64
	Status  string
}

// DriverStatusUpdate is informational: the server's view of our status.
type DriverStatusUpdate struct {
	DriverID int64
	Status   models.DriverStatus
}

// ChatMessage is an informational passenger/support message.
type ChatMessage struct {
	From string
	Text string
}

func (Connected) channelEvent()          {}
func (Disconnected) channelEvent()       {}
func (Down) channelEvent()               {}
func (NewOrder) channelEvent()           {}
func (OrderUpdate) channelEvent()        {}
func (DriverStatusUpdate) channelEvent() {}
func (ChatMessage) channelEvent()        {}

var errUnknownFrame = fmt.Errorf("unknown frame type")

// decodeFrame turns a raw frame into its typed event. Ping is handled by the
// read loop before decoding and never reaches here.
func decodeFrame(t FrameType, data []byte) (Event, error) {
	switch t {
	case FrameNewOrder:
		var f struct {
			Order      models.Order `json:"order"`
			OrderID    int64        `json:"order_id"`
			TimeoutSec int          `json:"timeout"`
		}
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, err
		}
		if f.Order.ID == 0 {
			f.Order.ID = f.OrderID
		}
		if f.Order.ID == 0 {
			return nil, fmt.Errorf("new_order frame without an order id")
		}
		return NewOrder{Order: f.Order, TimeoutSec: f.TimeoutSec}, nil
	case FrameOrderUpdate:
		var f struct {
			OrderID int64  `json:"order_id"`
			Status  string `json:"status"`
		}
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, err
		}
		return OrderUpdate{OrderID: f.OrderID, Status: f.Status}, nil
	case FrameDriverStatusUpdate:
		var f struct {
			DriverID int64               `json:"driver_id"`
			Status   models.DriverStatus `json:"status"`
		}
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, err
		}
		return DriverStatusUpdate{DriverID: f.DriverID, Status: f.Status}, nil
	case FrameMessage:
		var f struct {
			From string `json:"from"`
			Text string `json:"text"`
		}
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, err
		}
		return ChatMessage{From: f.From, Text: f.Text}, nil
	default:
		return nil, errUnknownFrame
	}
}
