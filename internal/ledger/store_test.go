package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/enzel-org/BestellDesk/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s
}

// seedStore creates a restaurant with one item and two participants.
func seedStore(t *testing.T, s *Store) (models.Restaurant, models.MenuItem, models.Participant, models.Participant) {
	t.Helper()
	ctx := context.Background()
	r, err := s.CreateRestaurant(ctx, "Pizzeria", 0)
	if err != nil {
		t.Fatalf("CreateRestaurant failed: %v", err)
	}
	m, err := s.AddMenuItem(ctx, r.ID, "Margherita", 850, "")
	if err != nil {
		t.Fatalf("AddMenuItem failed: %v", err)
	}
	alice, err := s.CreateParticipant(ctx, "Alice")
	if err != nil {
		t.Fatalf("CreateParticipant failed: %v", err)
	}
	bob, err := s.CreateParticipant(ctx, "Bob")
	if err != nil {
		t.Fatalf("CreateParticipant failed: %v", err)
	}
	return r, m, alice, bob
}

func TestRevisionIncreasesPerCommit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if got := s.Revision(); got != 0 {
		t.Fatalf("fresh store revision = %d, want 0", got)
	}
	r, _ := s.CreateRestaurant(ctx, "Pizzeria", 0)
	if got := s.Revision(); got != 1 {
		t.Errorf("revision after one commit = %d, want 1", got)
	}
	if _, err := s.AddMenuItem(ctx, r.ID, "Margherita", 850, ""); err != nil {
		t.Fatalf("AddMenuItem failed: %v", err)
	}
	if got := s.Revision(); got != 2 {
		t.Errorf("revision after two commits = %d, want 2", got)
	}

	// A rejected mutation must not advance the revision.
	if _, err := s.AddMenuItem(ctx, "missing", "x", 100, ""); err == nil {
		t.Fatal("expected error for unknown restaurant")
	}
	if got := s.Revision(); got != 2 {
		t.Errorf("revision after rejected mutation = %d, want 2", got)
	}

	for _, snap := range s.History() {
		if err := snap.Verify(); err != nil {
			t.Errorf("history snapshot %d failed verification: %v", snap.Revision, err)
		}
	}
}

func TestValidationErrors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r, m, alice, bob := seedStore(t, s)

	tests := []struct {
		name      string
		run       func() error
		invariant string
	}{
		{
			name: "zero quantity",
			run: func() error {
				_, err := s.CreateOrder(ctx, alice.ID, r.ID, []LineInput{{MenuItemID: m.ID, Quantity: 0}})
				return err
			},
			invariant: InvariantQuantity,
		},
		{
			name: "negative price",
			run: func() error {
				_, err := s.AddMenuItem(ctx, r.ID, "Broken", -1, "")
				return err
			},
			invariant: InvariantPrice,
		},
		{
			name: "item from another restaurant",
			run: func() error {
				other, err := s.CreateRestaurant(ctx, "Sushi Bar", 0)
				if err != nil {
					return err
				}
				_, err = s.CreateOrder(ctx, alice.ID, other.ID, []LineInput{{MenuItemID: m.ID, Quantity: 1}})
				return err
			},
			invariant: InvariantReference,
		},
		{
			name: "unknown split participant",
			run: func() error {
				_, err := s.CreateOrder(ctx, alice.ID, r.ID, []LineInput{
					{MenuItemID: m.ID, Quantity: 1, SplitBetween: []string{"ghost"}},
				})
				return err
			},
			invariant: InvariantReference,
		},
		{
			name: "duplicate participant name",
			run: func() error {
				_, err := s.CreateParticipant(ctx, bob.DisplayName)
				return err
			},
			invariant: InvariantUniqueName,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Invariant != tt.invariant {
				t.Errorf("invariant = %q, want %q", verr.Invariant, tt.invariant)
			}
		})
	}
}

func TestStatusTransitionEnforced(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r, m, alice, _ := seedStore(t, s)

	o, err := s.CreateOrder(ctx, alice.ID, r.ID, []LineInput{{MenuItemID: m.ID, Quantity: 1}})
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}

	if err := s.SetOrderStatus(ctx, o.ID, models.OrderSettled); err == nil {
		t.Error("open -> settled must be rejected")
	}
	if err := s.SetOrderStatus(ctx, o.ID, models.OrderSubmitted); err != nil {
		t.Fatalf("open -> submitted failed: %v", err)
	}

	// Submitted orders are immutable except for status.
	if err := s.UpdateOrderLines(ctx, o.ID, []LineInput{{MenuItemID: m.ID, Quantity: 3}}); err == nil {
		t.Error("editing a submitted order must be rejected")
	}

	if err := s.SetOrderStatus(ctx, o.ID, models.OrderSettled); err != nil {
		t.Fatalf("submitted -> settled failed: %v", err)
	}
	if err := s.SetOrderStatus(ctx, o.ID, models.OrderCancelled); err == nil {
		t.Error("settled -> cancelled must be rejected")
	}
}

func TestDeleteReferencedEntitiesRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r, m, alice, bob := seedStore(t, s)

	o, err := s.CreateOrder(ctx, alice.ID, r.ID, []LineInput{
		{MenuItemID: m.ID, Quantity: 1, SplitBetween: []string{alice.ID, bob.ID}},
	})
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}

	if err := s.DeleteMenuItem(ctx, r.ID, m.ID); err == nil {
		t.Error("deleting a referenced menu item must be rejected")
	}
	if err := s.DeleteRestaurant(ctx, r.ID); err == nil {
		t.Error("deleting a referenced restaurant must be rejected")
	}
	if err := s.DeleteParticipant(ctx, bob.ID); err == nil {
		t.Error("deleting a split participant must be rejected")
	}

	// Cancelled orders release their references.
	if err := s.SetOrderStatus(ctx, o.ID, models.OrderCancelled); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if err := s.DeleteMenuItem(ctx, r.ID, m.ID); err != nil {
		t.Errorf("deleting after cancel failed: %v", err)
	}
	if err := s.DeleteRestaurant(ctx, r.ID); err != nil {
		t.Errorf("deleting restaurant after cancel failed: %v", err)
	}
}

func TestOrderCapturesPriceAndFee(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r, err := s.CreateRestaurant(ctx, "Pizzeria", 250)
	if err != nil {
		t.Fatalf("CreateRestaurant failed: %v", err)
	}
	m, err := s.AddMenuItem(ctx, r.ID, "Margherita", 850, "")
	if err != nil {
		t.Fatalf("AddMenuItem failed: %v", err)
	}
	alice, err := s.CreateParticipant(ctx, "Alice")
	if err != nil {
		t.Fatalf("CreateParticipant failed: %v", err)
	}

	o, err := s.CreateOrder(ctx, alice.ID, r.ID, []LineInput{{MenuItemID: m.ID, Quantity: 2}})
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}
	if o.Lines[0].UnitPriceCents != 850 {
		t.Errorf("captured unit price = %d, want 850", o.Lines[0].UnitPriceCents)
	}
	if o.DeliveryFeeCents != 250 {
		t.Errorf("captured delivery fee = %d, want 250", o.DeliveryFeeCents)
	}

	// Raising the menu price later must not change the placed order.
	if err := s.UpdateMenuItem(ctx, r.ID, m.ID, "Margherita", 999, true, ""); err != nil {
		t.Fatalf("UpdateMenuItem failed: %v", err)
	}
	got := s.Snapshot().Ledger.Order(o.ID)
	if got.Lines[0].UnitPriceCents != 850 {
		t.Errorf("order price after menu edit = %d, want 850", got.Lines[0].UnitPriceCents)
	}
	if got.TotalCents() != 2*850+250 {
		t.Errorf("order total = %d, want %d", got.TotalCents(), 2*850+250)
	}
}

func TestUnavailableItemRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r, m, alice, _ := seedStore(t, s)

	if err := s.UpdateMenuItem(ctx, r.ID, m.ID, m.Name, m.PriceCents, false, ""); err != nil {
		t.Fatalf("UpdateMenuItem failed: %v", err)
	}
	_, err := s.CreateOrder(ctx, alice.ID, r.ID, []LineInput{{MenuItemID: m.ID, Quantity: 1}})
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Invariant != InvariantAvailable {
		t.Errorf("expected %s violation, got %v", InvariantAvailable, err)
	}
}

func TestReplaceStaleness(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedStore(t, s) // advances local revision to 4

	old, err := models.NewSnapshot(1, models.NewLedger())
	if err != nil {
		t.Fatalf("NewSnapshot failed: %v", err)
	}
	if _, err := s.Replace(ctx, old, false); !errors.Is(err, ErrStaleSnapshot) {
		t.Errorf("expected ErrStaleSnapshot, got %v", err)
	}
	if len(s.Snapshot().Ledger.Restaurants) != 1 {
		t.Error("rejected replace must leave the ledger untouched")
	}

	// Forced overwrite installs the old content at a strictly newer revision.
	snap, err := s.Replace(ctx, old, true)
	if err != nil {
		t.Fatalf("forced Replace failed: %v", err)
	}
	if snap.Revision <= 4 {
		t.Errorf("forced replace revision = %d, want > 4", snap.Revision)
	}
	if len(s.Snapshot().Ledger.Restaurants) != 0 {
		t.Error("forced replace did not install the incoming ledger")
	}
}

func TestHistoryBounded(t *testing.T) {
	s, err := New(WithHistory(3))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()
	for _, name := range []string{"A", "B", "C", "D", "E"} {
		if _, err := s.CreateRestaurant(ctx, name, 0); err != nil {
			t.Fatalf("CreateRestaurant failed: %v", err)
		}
	}
	h := s.History()
	if len(h) != 3 {
		t.Fatalf("history length = %d, want 3", len(h))
	}
	if h[len(h)-1].Revision != 5 {
		t.Errorf("newest history revision = %d, want 5", h[len(h)-1].Revision)
	}
}
