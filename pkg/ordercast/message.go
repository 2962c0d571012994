package ordercast

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// Message type constants for the ordercast WebSocket protocol.
// These are the values of the "type" field in wire messages.
const (
	// Client to server
	MessageTypeSubscribe = "subscribe" // watch one restaurant's orders

	// Server to client
	MessageTypeSubscribed   = "subscribed"    // acknowledgment of a subscribe
	MessageTypeNewOrder     = "new_order"     // an order was created
	MessageTypeOrderUpdated = "order_updated" // an order's status changed
)

// Message is the closed set of wire messages. Every message kind is a
// distinct struct, so dispatch sites switch on the concrete type and a
// new kind is a compile-visible addition rather than a silent no-op
// string branch.
type Message interface {
	messageType() string
}

// SubscribeMessage asks the server to deliver order events for one
// restaurant to this connection. A later subscribe for a different
// restaurant moves the connection.
type SubscribeMessage struct {
	RestaurantID string
}

// SubscribedMessage acknowledges a subscribe on the same connection.
type SubscribedMessage struct {
	RestaurantID string
}

// NewOrderMessage carries a freshly created order.
type NewOrderMessage struct {
	Order *Order
}

// OrderUpdatedMessage carries an order whose status changed.
type OrderUpdatedMessage struct {
	Order *Order
}

func (SubscribeMessage) messageType() string    { return MessageTypeSubscribe }
func (SubscribedMessage) messageType() string   { return MessageTypeSubscribed }
func (NewOrderMessage) messageType() string     { return MessageTypeNewOrder }
func (OrderUpdatedMessage) messageType() string { return MessageTypeOrderUpdated }

// MessageType returns the wire "type" value for m.
func MessageType(m Message) string {
	return m.messageType()
}

// envelope is the generic JSON shape all wire messages share.
type envelope struct {
	Type         string `json:"type"`
	RestaurantID string `json:"restaurantId,omitempty"`
	Order        *Order `json:"order,omitempty"`
}

// ErrUnknownMessageType is returned by DecodeMessage for a well-formed
// frame whose type is not part of the protocol.
type ErrUnknownMessageType struct {
	Type string
}

func (e *ErrUnknownMessageType) Error() string {
	return fmt.Sprintf("unknown message type %q", e.Type)
}

// EncodeMessage serializes m into its JSON wire form.
func EncodeMessage(m Message) ([]byte, error) {
	env := envelope{Type: m.messageType()}

	switch msg := m.(type) {
	case SubscribeMessage:
		env.RestaurantID = msg.RestaurantID
	case SubscribedMessage:
		env.RestaurantID = msg.RestaurantID
	case NewOrderMessage:
		env.Order = msg.Order
	case OrderUpdatedMessage:
		env.Order = msg.Order
	default:
		return nil, fmt.Errorf("unencodable message type %T", m)
	}

	return json.Marshal(env)
}

// DecodeMessage parses a JSON wire frame into its typed message.
// Returns *ErrUnknownMessageType for types outside the protocol so
// callers can choose to ignore them without treating the frame as
// malformed.
func DecodeMessage(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed message: %w", err)
	}

	switch env.Type {
	case MessageTypeSubscribe:
		return SubscribeMessage{RestaurantID: env.RestaurantID}, nil
	case MessageTypeSubscribed:
		return SubscribedMessage{RestaurantID: env.RestaurantID}, nil
	case MessageTypeNewOrder:
		return NewOrderMessage{Order: env.Order}, nil
	case MessageTypeOrderUpdated:
		return OrderUpdatedMessage{Order: env.Order}, nil
	default:
		return nil, &ErrUnknownMessageType{Type: env.Type}
	}
}
