package models

import "slices"

// Entity is implemented by every top-level ledger entity and drives the
// entity-level last-writer-wins merge.
type Entity interface {
	// EntityID returns the unique identifier of the entity.
	EntityID() string

	// ModifiedAt returns the last-modified unix millisecond timestamp.
	ModifiedAt() int64
}

// Category groups menu items for display, ordered by Position.
type Category struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Position int    `json:"position"`
}

// MenuItem is a single dish on a restaurant's menu.
// The ID is unique within its restaurant.
type MenuItem struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	PriceCents Cents  `json:"price_cents"`
	Available  bool   `json:"is_available"`
	CategoryID string `json:"category_id,omitempty"`
}

// Restaurant is a supplier: a menu of items plus a per-order delivery fee.
type Restaurant struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	DeliveryFeeCents Cents      `json:"delivery_fee_cents"`
	Categories       []Category `json:"categories,omitempty"`
	MenuItems        []MenuItem `json:"menu_items,omitempty"`
	UpdatedAt        int64      `json:"updated_at"`
}

func (r Restaurant) EntityID() string { return r.ID }
func (r Restaurant) ModifiedAt() int64 { return r.UpdatedAt }

// MenuItem returns the item with the given ID, or nil.
func (r *Restaurant) MenuItem(id string) *MenuItem {
	for i := range r.MenuItems {
		if r.MenuItems[i].ID == id {
			return &r.MenuItems[i]
		}
	}
	return nil
}

// Category returns the category with the given ID, or nil.
func (r *Restaurant) Category(id string) *Category {
	for i := range r.Categories {
		if r.Categories[i].ID == id {
			return &r.Categories[i]
		}
	}
	return nil
}

// Clone returns a deep copy.
func (r Restaurant) Clone() Restaurant {
	r.Categories = slices.Clone(r.Categories)
	r.MenuItems = slices.Clone(r.MenuItems)
	return r
}

// Participant is a person placing or sharing orders.
// DisplayName is unique within a ledger.
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	UpdatedAt   int64  `json:"updated_at"`
}

func (p Participant) EntityID() string { return p.ID }
func (p Participant) ModifiedAt() int64 { return p.UpdatedAt }

// Clone returns a copy (participants hold no reference fields).
func (p Participant) Clone() Participant { return p }

// OrderLine is one position of an order. The unit price is captured at order
// time so later menu edits never change a placed order's total.
//
// A non-empty SplitBetween marks the line as shared: its total is divided in
// integer cents among the listed participants, remainder cents going to the
// participants in ascending ID order.
type OrderLine struct {
	MenuItemID     string   `json:"menu_item_id"`
	Quantity       int      `json:"qty"`
	UnitPriceCents Cents    `json:"unit_price_cents"`
	Note           string   `json:"note,omitempty"`
	Variant        string   `json:"variant,omitempty"`
	SplitBetween   []string `json:"split_between,omitempty"`
}

// TotalCents returns unit price times quantity.
func (l OrderLine) TotalCents() Cents {
	return l.UnitPriceCents * Cents(l.Quantity)
}

// Order is placed by one participant against one restaurant.
type Order struct {
	ID               string      `json:"id"`
	Code             string      `json:"order_code"`
	RestaurantID     string      `json:"restaurant_id"`
	ParticipantID    string      `json:"participant_id"`
	DeliveryFeeCents Cents       `json:"delivery_fee_cents"`
	Lines            []OrderLine `json:"items"`
	Status           OrderStatus `json:"status"`
	CreatedAt        int64       `json:"created_at"`
	UpdatedAt        int64       `json:"updated_at"`
}

func (o Order) EntityID() string { return o.ID }
func (o Order) ModifiedAt() int64 { return o.UpdatedAt }

// ItemsTotalCents sums all line totals.
func (o *Order) ItemsTotalCents() Cents {
	var total Cents
	for _, l := range o.Lines {
		total += l.TotalCents()
	}
	return total
}

// TotalCents is the grand total: line totals plus the delivery fee.
func (o *Order) TotalCents() Cents {
	return o.ItemsTotalCents() + o.DeliveryFeeCents
}

// Clone returns a deep copy.
func (o Order) Clone() Order {
	lines := make([]OrderLine, len(o.Lines))
	for i, l := range o.Lines {
		l.SplitBetween = slices.Clone(l.SplitBetween)
		lines[i] = l
	}
	o.Lines = lines
	return o
}

// Settings holds singleton workspace settings.
//
// When both window bounds are set, new orders are only accepted between
// them; zero values disable the window.
type Settings struct {
	ActiveRestaurantID string `json:"active_restaurant_id,omitempty"`
	OrderWindowStart   int64  `json:"order_window_start,omitempty"`
	OrderWindowEnd     int64  `json:"order_window_end,omitempty"`
	UpdatedAt          int64  `json:"updated_at"`
}

// WindowOpen reports whether an order may be placed at the given unix
// millisecond instant. An unset window is always open.
func (s Settings) WindowOpen(now int64) bool {
	if s.OrderWindowStart == 0 || s.OrderWindowEnd == 0 {
		return true
	}
	return now >= s.OrderWindowStart && now <= s.OrderWindowEnd
}

// PaymentOverview is the derived who-owes-what view. It is regenerated on
// demand from a snapshot and never persisted.
type PaymentOverview struct {
	// ParticipantTotals maps participant ID to the total owed.
	ParticipantTotals map[string]Cents

	// RestaurantSubtotals maps restaurant ID to the summed totals of its
	// billable orders.
	RestaurantSubtotals map[string]Cents

	// TotalCents is the sum of all billable order totals.
	TotalCents Cents
}
