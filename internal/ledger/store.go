// Package ledger owns the canonical in-memory ledger state.
//
// A Store serializes all mutations through a single writer. Every successful
// mutation validates the invariants first, then commits a fresh immutable
// snapshot with revision+1 and a recomputed content hash. Readers always see
// a complete committed snapshot via an atomic pointer swap; a rejected
// mutation leaves the store exactly as it was.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/enzel-org/BestellDesk/internal/models"
	"github.com/enzel-org/BestellDesk/internal/storage"
)

// DefaultHistory is how many committed revisions the store keeps in memory
// for conflict diagnostics.
const DefaultHistory = 32

// Store is the single authoritative ledger per process.
type Store struct {
	mu      sync.Mutex // serializes writers
	current atomic.Pointer[models.Snapshot]

	history    []*models.Snapshot // bounded, oldest first
	maxHistory int

	persist storage.SnapshotStore // optional
	now     func() int64          // unix milliseconds, injectable for tests
}

// Option configures a Store.
type Option func(*Store)

// WithPersistence attaches a durable snapshot store. Every commit is
// persisted before it becomes visible; history beyond the in-memory bound is
// pruned from the backend as well.
func WithPersistence(s storage.SnapshotStore) Option {
	return func(st *Store) { st.persist = s }
}

// WithHistory overrides the bounded revision log length.
func WithHistory(n int) Option {
	return func(st *Store) {
		if n > 0 {
			st.maxHistory = n
		}
	}
}

// WithClock overrides the timestamp source (tests).
func WithClock(now func() int64) Option {
	return func(st *Store) { st.now = now }
}

// New creates a store holding an empty ledger at revision 0.
func New(opts ...Option) (*Store, error) {
	st := &Store{
		maxHistory: DefaultHistory,
		now:        func() int64 { return time.Now().UnixMilli() },
	}
	for _, o := range opts {
		o(st)
	}
	snap, err := models.NewSnapshot(0, models.NewLedger())
	if err != nil {
		return nil, err
	}
	st.current.Store(snap)
	return st, nil
}

// Open creates a store and restores the latest persisted snapshot, if any.
// The restored snapshot's content hash is verified by the backend before it
// is accepted.
func Open(ctx context.Context, persist storage.SnapshotStore, opts ...Option) (*Store, error) {
	st, err := New(append(opts, WithPersistence(persist))...)
	if err != nil {
		return nil, err
	}
	snap, err := persist.Latest(ctx)
	if errors.Is(err, storage.ErrNoSnapshot) {
		return st, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to restore ledger: %w", err)
	}
	st.current.Store(snap)
	st.history = append(st.history, snap)
	return st, nil
}

// Snapshot returns the current committed snapshot. The returned value is
// immutable and safe to read without locking.
func (s *Store) Snapshot() *models.Snapshot {
	return s.current.Load()
}

// Revision returns the current committed revision.
func (s *Store) Revision() uint64 {
	return s.current.Load().Revision
}

// History returns the bounded log of recent committed snapshots, oldest
// first.
func (s *Store) History() []*models.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Snapshot, len(s.history))
	copy(out, s.history)
	return out
}

// mutate runs fn against a deep copy of the current ledger and, if fn
// succeeds, commits the result at revision+1. The swap happens only after
// persistence succeeds, so a failed commit is never observable.
func (s *Store) mutate(ctx context.Context, fn func(l *models.Ledger) error) (*models.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.current.Load()
	work := cur.Ledger.Clone()
	if err := fn(work); err != nil {
		return nil, err
	}
	return s.commitLocked(ctx, work, cur.Revision+1)
}

func (s *Store) commitLocked(ctx context.Context, l *models.Ledger, revision uint64) (*models.Snapshot, error) {
	snap, err := models.NewSnapshot(revision, l)
	if err != nil {
		return nil, err
	}
	if s.persist != nil {
		if err := s.persist.Save(ctx, snap); err != nil {
			return nil, fmt.Errorf("failed to persist revision %d: %w", revision, err)
		}
		if err := s.persist.Prune(ctx, s.maxHistory); err != nil {
			return nil, fmt.Errorf("failed to prune snapshot history: %w", err)
		}
	}
	s.current.Store(snap)
	s.history = append(s.history, snap)
	if len(s.history) > s.maxHistory {
		s.history = s.history[len(s.history)-s.maxHistory:]
	}
	return snap, nil
}

/* ---------- restaurants & menus ---------- */

// CreateRestaurant adds a restaurant with the given name and delivery fee.
func (s *Store) CreateRestaurant(ctx context.Context, name string, deliveryFee models.Cents) (models.Restaurant, error) {
	var out models.Restaurant
	_, err := s.mutate(ctx, func(l *models.Ledger) error {
		if deliveryFee < 0 {
			return invalid(InvariantPrice, "delivery fee must not be negative, got %d", deliveryFee)
		}
		for _, r := range l.Restaurants {
			if r.Name == name {
				return invalid(InvariantUniqueName, "restaurant %q already exists", name)
			}
		}
		out = models.Restaurant{
			ID:               uuid.New().String(),
			Name:             name,
			DeliveryFeeCents: deliveryFee,
			UpdatedAt:        s.now(),
		}
		l.Restaurants = append(l.Restaurants, out)
		return nil
	})
	return out, err
}

// UpdateRestaurant renames a restaurant and/or changes its delivery fee.
func (s *Store) UpdateRestaurant(ctx context.Context, id, name string, deliveryFee models.Cents) error {
	_, err := s.mutate(ctx, func(l *models.Ledger) error {
		r := l.Restaurant(id)
		if r == nil {
			return notFound("restaurant", id)
		}
		if deliveryFee < 0 {
			return invalid(InvariantPrice, "delivery fee must not be negative, got %d", deliveryFee)
		}
		for _, other := range l.Restaurants {
			if other.ID != id && other.Name == name {
				return invalid(InvariantUniqueName, "restaurant %q already exists", name)
			}
		}
		r.Name = name
		r.DeliveryFeeCents = deliveryFee
		r.UpdatedAt = s.now()
		return nil
	})
	return err
}

// DeleteRestaurant removes a restaurant. Rejected while any non-cancelled
// order references it.
func (s *Store) DeleteRestaurant(ctx context.Context, id string) error {
	_, err := s.mutate(ctx, func(l *models.Ledger) error {
		if l.Restaurant(id) == nil {
			return notFound("restaurant", id)
		}
		for _, o := range l.Orders {
			if o.RestaurantID == id && o.Status != models.OrderCancelled {
				return invalid(InvariantInUse, "restaurant %s is referenced by order %s", id, o.ID)
			}
		}
		for i := range l.Restaurants {
			if l.Restaurants[i].ID == id {
				l.Restaurants = append(l.Restaurants[:i], l.Restaurants[i+1:]...)
				break
			}
		}
		return nil
	})
	return err
}

// AddCategory appends a menu category; its position follows the current last.
func (s *Store) AddCategory(ctx context.Context, restaurantID, name string) (models.Category, error) {
	var out models.Category
	_, err := s.mutate(ctx, func(l *models.Ledger) error {
		r := l.Restaurant(restaurantID)
		if r == nil {
			return notFound("restaurant", restaurantID)
		}
		pos := 0
		for _, c := range r.Categories {
			if c.Position >= pos {
				pos = c.Position + 1
			}
		}
		out = models.Category{ID: uuid.New().String(), Name: name, Position: pos}
		r.Categories = append(r.Categories, out)
		r.UpdatedAt = s.now()
		return nil
	})
	return out, err
}

// UpdateCategory renames and/or repositions a category.
func (s *Store) UpdateCategory(ctx context.Context, restaurantID, categoryID, name string, position int) error {
	_, err := s.mutate(ctx, func(l *models.Ledger) error {
		r := l.Restaurant(restaurantID)
		if r == nil {
			return notFound("restaurant", restaurantID)
		}
		c := r.Category(categoryID)
		if c == nil {
			return notFound("category", categoryID)
		}
		c.Name = name
		c.Position = position
		r.UpdatedAt = s.now()
		return nil
	})
	return err
}

// DeleteCategory removes a category; items keep existing but lose the
// category assignment.
func (s *Store) DeleteCategory(ctx context.Context, restaurantID, categoryID string) error {
	_, err := s.mutate(ctx, func(l *models.Ledger) error {
		r := l.Restaurant(restaurantID)
		if r == nil {
			return notFound("restaurant", restaurantID)
		}
		if r.Category(categoryID) == nil {
			return notFound("category", categoryID)
		}
		for i := range r.Categories {
			if r.Categories[i].ID == categoryID {
				r.Categories = append(r.Categories[:i], r.Categories[i+1:]...)
				break
			}
		}
		for i := range r.MenuItems {
			if r.MenuItems[i].CategoryID == categoryID {
				r.MenuItems[i].CategoryID = ""
			}
		}
		r.UpdatedAt = s.now()
		return nil
	})
	return err
}

// AddMenuItem adds an available menu item to a restaurant.
func (s *Store) AddMenuItem(ctx context.Context, restaurantID, name string, price models.Cents, categoryID string) (models.MenuItem, error) {
	var out models.MenuItem
	_, err := s.mutate(ctx, func(l *models.Ledger) error {
		r := l.Restaurant(restaurantID)
		if r == nil {
			return notFound("restaurant", restaurantID)
		}
		if price < 0 {
			return invalid(InvariantPrice, "price must not be negative, got %d", price)
		}
		if categoryID != "" && r.Category(categoryID) == nil {
			return invalid(InvariantReference, "category %s does not belong to restaurant %s", categoryID, restaurantID)
		}
		out = models.MenuItem{
			ID:         uuid.New().String(),
			Name:       name,
			PriceCents: price,
			Available:  true,
			CategoryID: categoryID,
		}
		r.MenuItems = append(r.MenuItems, out)
		r.UpdatedAt = s.now()
		return nil
	})
	return out, err
}

// UpdateMenuItem changes a menu item's name, price, availability or category.
func (s *Store) UpdateMenuItem(ctx context.Context, restaurantID, itemID, name string, price models.Cents, available bool, categoryID string) error {
	_, err := s.mutate(ctx, func(l *models.Ledger) error {
		r := l.Restaurant(restaurantID)
		if r == nil {
			return notFound("restaurant", restaurantID)
		}
		m := r.MenuItem(itemID)
		if m == nil {
			return notFound("menu item", itemID)
		}
		if price < 0 {
			return invalid(InvariantPrice, "price must not be negative, got %d", price)
		}
		if categoryID != "" && r.Category(categoryID) == nil {
			return invalid(InvariantReference, "category %s does not belong to restaurant %s", categoryID, restaurantID)
		}
		m.Name = name
		m.PriceCents = price
		m.Available = available
		m.CategoryID = categoryID
		r.UpdatedAt = s.now()
		return nil
	})
	return err
}

// DeleteMenuItem removes a menu item. Rejected while any non-cancelled order
// references it.
func (s *Store) DeleteMenuItem(ctx context.Context, restaurantID, itemID string) error {
	_, err := s.mutate(ctx, func(l *models.Ledger) error {
		r := l.Restaurant(restaurantID)
		if r == nil {
			return notFound("restaurant", restaurantID)
		}
		if r.MenuItem(itemID) == nil {
			return notFound("menu item", itemID)
		}
		for _, o := range l.Orders {
			if o.Status == models.OrderCancelled {
				continue
			}
			for _, line := range o.Lines {
				if line.MenuItemID == itemID {
					return invalid(InvariantInUse, "menu item %s is referenced by order %s", itemID, o.ID)
				}
			}
		}
		for i := range r.MenuItems {
			if r.MenuItems[i].ID == itemID {
				r.MenuItems = append(r.MenuItems[:i], r.MenuItems[i+1:]...)
				break
			}
		}
		r.UpdatedAt = s.now()
		return nil
	})
	return err
}

/* ---------- participants ---------- */

// CreateParticipant adds a participant with a unique display name.
func (s *Store) CreateParticipant(ctx context.Context, displayName string) (models.Participant, error) {
	var out models.Participant
	_, err := s.mutate(ctx, func(l *models.Ledger) error {
		for _, p := range l.Participants {
			if p.DisplayName == displayName {
				return invalid(InvariantUniqueName, "participant %q already exists", displayName)
			}
		}
		out = models.Participant{
			ID:          uuid.New().String(),
			DisplayName: displayName,
			UpdatedAt:   s.now(),
		}
		l.Participants = append(l.Participants, out)
		return nil
	})
	return out, err
}

// RenameParticipant changes a participant's display name.
func (s *Store) RenameParticipant(ctx context.Context, id, displayName string) error {
	_, err := s.mutate(ctx, func(l *models.Ledger) error {
		p := l.Participant(id)
		if p == nil {
			return notFound("participant", id)
		}
		for _, other := range l.Participants {
			if other.ID != id && other.DisplayName == displayName {
				return invalid(InvariantUniqueName, "participant %q already exists", displayName)
			}
		}
		p.DisplayName = displayName
		p.UpdatedAt = s.now()
		return nil
	})
	return err
}

// DeleteParticipant removes a participant. Rejected while any non-cancelled
// order references them as placer or split member.
func (s *Store) DeleteParticipant(ctx context.Context, id string) error {
	_, err := s.mutate(ctx, func(l *models.Ledger) error {
		if l.Participant(id) == nil {
			return notFound("participant", id)
		}
		for _, o := range l.Orders {
			if o.Status == models.OrderCancelled {
				continue
			}
			if o.ParticipantID == id {
				return invalid(InvariantInUse, "participant %s placed order %s", id, o.ID)
			}
			for _, line := range o.Lines {
				for _, pid := range line.SplitBetween {
					if pid == id {
						return invalid(InvariantInUse, "participant %s shares a line of order %s", id, o.ID)
					}
				}
			}
		}
		for i := range l.Participants {
			if l.Participants[i].ID == id {
				l.Participants = append(l.Participants[:i], l.Participants[i+1:]...)
				break
			}
		}
		return nil
	})
	return err
}

/* ---------- orders ---------- */

// LineInput describes one requested order line. Unit prices are captured
// from the menu at commit time, never taken from the caller.
type LineInput struct {
	MenuItemID   string
	Quantity     int
	Note         string
	Variant      string
	SplitBetween []string
}

// CreateOrder places a new open order for a participant at a restaurant.
// The restaurant's delivery fee and the current menu prices are captured
// into the order.
func (s *Store) CreateOrder(ctx context.Context, participantID, restaurantID string, lines []LineInput) (models.Order, error) {
	var out models.Order
	_, err := s.mutate(ctx, func(l *models.Ledger) error {
		r := l.Restaurant(restaurantID)
		if r == nil {
			return notFound("restaurant", restaurantID)
		}
		if l.Participant(participantID) == nil {
			return notFound("participant", participantID)
		}
		built, err := buildLines(l, r, lines)
		if err != nil {
			return err
		}
		now := s.now()
		id := uuid.New().String()
		out = models.Order{
			ID:               id,
			Code:             id[:8],
			RestaurantID:     restaurantID,
			ParticipantID:    participantID,
			DeliveryFeeCents: r.DeliveryFeeCents,
			Lines:            built,
			Status:           models.OrderOpen,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		l.Orders = append(l.Orders, out)
		return nil
	})
	return out, err
}

// UpdateOrderLines replaces the lines of an open order.
func (s *Store) UpdateOrderLines(ctx context.Context, orderID string, lines []LineInput) error {
	_, err := s.mutate(ctx, func(l *models.Ledger) error {
		o := l.Order(orderID)
		if o == nil {
			return notFound("order", orderID)
		}
		if o.Status != models.OrderOpen {
			return invalid(InvariantImmutable, "order %s is %s and can no longer be edited", orderID, o.Status)
		}
		r := l.Restaurant(o.RestaurantID)
		if r == nil {
			return notFound("restaurant", o.RestaurantID)
		}
		built, err := buildLines(l, r, lines)
		if err != nil {
			return err
		}
		o.Lines = built
		o.UpdatedAt = s.now()
		return nil
	})
	return err
}

// SetOrderStatus applies a monotonic status transition.
func (s *Store) SetOrderStatus(ctx context.Context, orderID string, status models.OrderStatus) error {
	_, err := s.mutate(ctx, func(l *models.Ledger) error {
		o := l.Order(orderID)
		if o == nil {
			return notFound("order", orderID)
		}
		if !status.Valid() {
			return invalid(InvariantTransition, "unknown status %q", status)
		}
		if !o.Status.CanTransitionTo(status) {
			return invalid(InvariantTransition, "order %s cannot move from %s to %s", orderID, o.Status, status)
		}
		o.Status = status
		o.UpdatedAt = s.now()
		return nil
	})
	return err
}

// DeleteOrder removes a cancelled order from the ledger.
func (s *Store) DeleteOrder(ctx context.Context, orderID string) error {
	_, err := s.mutate(ctx, func(l *models.Ledger) error {
		o := l.Order(orderID)
		if o == nil {
			return notFound("order", orderID)
		}
		if o.Status != models.OrderCancelled {
			return invalid(InvariantInUse, "only cancelled orders may be deleted, order %s is %s", orderID, o.Status)
		}
		for i := range l.Orders {
			if l.Orders[i].ID == orderID {
				l.Orders = append(l.Orders[:i], l.Orders[i+1:]...)
				break
			}
		}
		return nil
	})
	return err
}

func buildLines(l *models.Ledger, r *models.Restaurant, lines []LineInput) ([]models.OrderLine, error) {
	if len(lines) == 0 {
		return nil, invalid(InvariantQuantity, "an order needs at least one line")
	}
	out := make([]models.OrderLine, 0, len(lines))
	for _, in := range lines {
		if in.Quantity < 1 {
			return nil, invalid(InvariantQuantity, "quantity must be at least 1, got %d", in.Quantity)
		}
		m := r.MenuItem(in.MenuItemID)
		if m == nil {
			return nil, invalid(InvariantReference, "menu item %s does not belong to restaurant %s", in.MenuItemID, r.ID)
		}
		if !m.Available {
			return nil, invalid(InvariantAvailable, "menu item %s (%s) is not available", m.ID, m.Name)
		}
		for _, pid := range in.SplitBetween {
			if l.Participant(pid) == nil {
				return nil, invalid(InvariantReference, "split participant %s does not exist", pid)
			}
		}
		out = append(out, models.OrderLine{
			MenuItemID:     in.MenuItemID,
			Quantity:       in.Quantity,
			UnitPriceCents: m.PriceCents,
			Note:           in.Note,
			Variant:        in.Variant,
			SplitBetween:   append([]string(nil), in.SplitBetween...),
		})
	}
	return out, nil
}

/* ---------- settings ---------- */

// SetActiveRestaurant marks the restaurant new orders default to.
func (s *Store) SetActiveRestaurant(ctx context.Context, restaurantID string) error {
	_, err := s.mutate(ctx, func(l *models.Ledger) error {
		if restaurantID != "" && l.Restaurant(restaurantID) == nil {
			return notFound("restaurant", restaurantID)
		}
		l.Settings.ActiveRestaurantID = restaurantID
		l.Settings.UpdatedAt = s.now()
		return nil
	})
	return err
}

// SetOrderWindow sets the time window in which new orders are accepted.
// Zero values clear the window.
func (s *Store) SetOrderWindow(ctx context.Context, start, end int64) error {
	_, err := s.mutate(ctx, func(l *models.Ledger) error {
		if start != 0 && end != 0 && end < start {
			return invalid(InvariantTransition, "order window ends before it starts")
		}
		l.Settings.OrderWindowStart = start
		l.Settings.OrderWindowEnd = end
		l.Settings.UpdatedAt = s.now()
		return nil
	})
	return err
}

/* ---------- wholesale replacement ---------- */

// Replace swaps in a complete snapshot, used by import. The snapshot's hash
// is verified; a revision older than the current one is rejected with
// ErrStaleSnapshot unless force is set. The committed revision never
// decreases: it is the maximum of the incoming revision and current+1.
func (s *Store) Replace(ctx context.Context, snap *models.Snapshot, force bool) (*models.Snapshot, error) {
	if err := snap.Verify(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.current.Load()
	if snap.Revision < cur.Revision && !force {
		return nil, fmt.Errorf("incoming revision %d behind local revision %d: %w", snap.Revision, cur.Revision, ErrStaleSnapshot)
	}
	rev := snap.Revision
	if rev <= cur.Revision {
		rev = cur.Revision + 1
	}
	return s.commitLocked(ctx, snap.Ledger, rev)
}

// CommitMerged commits a merged ledger at an explicit revision, used by the
// sync engine (revision = max(local, remote)+1).
func (s *Store) CommitMerged(ctx context.Context, l *models.Ledger, revision uint64) (*models.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur := s.current.Load(); revision <= cur.Revision {
		return nil, fmt.Errorf("merge revision %d not beyond local revision %d: %w", revision, cur.Revision, ErrStaleSnapshot)
	}
	return s.commitLocked(ctx, l, revision)
}
