package ordercast

import "time"

// OrderStatus is the lifecycle state of an order as tracked by the kitchen
// dashboard. Orders start out pending and are moved by restaurant staff.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusAccepted  OrderStatus = "accepted"
	OrderStatusRejected  OrderStatus = "rejected"
	OrderStatusCompleted OrderStatus = "completed"
)

// Valid reports whether s is one of the known order statuses.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusAccepted, OrderStatusRejected, OrderStatusCompleted:
		return true
	}
	return false
}

// OrderItem is one line of an order: a dish and how many of it.
// Price is a decimal string so no precision is lost round-tripping
// through JSON.
type OrderItem struct {
	DishID              string `json:"dishId" validate:"required"`
	DishName            string `json:"dishName" validate:"required"`
	Quantity            int    `json:"quantity" validate:"required,gt=0"`
	Price               string `json:"price" validate:"required"`
	SpecialInstructions string `json:"specialInstructions,omitempty"`
}

// Order is a table order placed by a customer. The broadcast path treats
// it as an opaque payload apart from RestaurantID, which selects the
// fan-out group.
type Order struct {
	ID                  string      `json:"id"`
	RestaurantID        string      `json:"restaurantId" validate:"required"`
	TableNumber         string      `json:"tableNumber" validate:"required"`
	Items               []OrderItem `json:"items" validate:"required,min=1,dive"`
	TotalAmount         string      `json:"totalAmount" validate:"required"`
	Status              OrderStatus `json:"status"`
	SpecialInstructions string      `json:"specialInstructions,omitempty"`
	CreatedAt           time.Time   `json:"createdAt"`
	UpdatedAt           time.Time   `json:"updatedAt"`
}
