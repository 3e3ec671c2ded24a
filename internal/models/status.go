package models

// OrderStatus is the lifecycle state of an order.
//
// Transitions are monotonic: open -> submitted -> settled, or
// open/submitted -> cancelled. Nothing leaves settled or cancelled.
type OrderStatus string

const (
	OrderOpen      OrderStatus = "open"
	OrderSubmitted OrderStatus = "submitted"
	OrderSettled   OrderStatus = "settled"
	OrderCancelled OrderStatus = "cancelled"
)

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderOpen, OrderSubmitted, OrderSettled, OrderCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether the status may move to next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	switch s {
	case OrderOpen:
		return next == OrderSubmitted || next == OrderCancelled
	case OrderSubmitted:
		return next == OrderSettled || next == OrderCancelled
	}
	return false
}

// Billable reports whether orders in this status count toward the
// payment overview.
func (s OrderStatus) Billable() bool {
	return s == OrderSubmitted || s == OrderSettled
}

// Terminal reports whether the status permits no further transition.
func (s OrderStatus) Terminal() bool {
	return s == OrderSettled || s == OrderCancelled
}
