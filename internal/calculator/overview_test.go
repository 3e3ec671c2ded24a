package calculator

import (
	"fmt"
	"math/rand"
	"reflect"
	"testing"

	"github.com/enzel-org/BestellDesk/internal/models"
)

func snapshotFor(t *testing.T, l *models.Ledger) *models.Snapshot {
	t.Helper()
	snap, err := models.NewSnapshot(1, l)
	if err != nil {
		t.Fatalf("NewSnapshot failed: %v", err)
	}
	return snap
}

// The concrete scenario from the product requirements: Alice orders two
// Margherita for herself, Bob orders one shared between Alice and Bob.
func TestAggregatePizzeriaScenario(t *testing.T) {
	l := &models.Ledger{
		Restaurants: []models.Restaurant{
			{
				ID:   "pizzeria",
				Name: "Pizzeria",
				MenuItems: []models.MenuItem{
					{ID: "margherita", Name: "Margherita", PriceCents: 850, Available: true},
				},
			},
		},
		Participants: []models.Participant{
			{ID: "alice", DisplayName: "Alice"},
			{ID: "bob", DisplayName: "Bob"},
		},
		Orders: []models.Order{
			{
				ID: "o1", RestaurantID: "pizzeria", ParticipantID: "alice",
				Lines:  []models.OrderLine{{MenuItemID: "margherita", Quantity: 2, UnitPriceCents: 850}},
				Status: models.OrderSubmitted,
			},
			{
				ID: "o2", RestaurantID: "pizzeria", ParticipantID: "bob",
				Lines: []models.OrderLine{
					{MenuItemID: "margherita", Quantity: 1, UnitPriceCents: 850, SplitBetween: []string{"alice", "bob"}},
				},
				Status: models.OrderSubmitted,
			},
		},
	}
	snap := snapshotFor(t, l)

	ov := Aggregate(snap)

	// Alice: 17.00 own + 4.25 share = 21.25. Bob: 4.25 share.
	if got := ov.ParticipantTotals["alice"]; got != 2125 {
		t.Errorf("Alice owes %s, want 21.25", got)
	}
	if got := ov.ParticipantTotals["bob"]; got != 425 {
		t.Errorf("Bob owes %s, want 4.25", got)
	}
	if ov.TotalCents != 2550 {
		t.Errorf("total = %s, want 25.50", ov.TotalCents)
	}
	if got := ov.RestaurantSubtotals["pizzeria"]; got != 2550 {
		t.Errorf("restaurant subtotal = %s, want 25.50", got)
	}
}

func TestAggregateIdempotent(t *testing.T) {
	snap := snapshotFor(t, randomLedger(rand.New(rand.NewSource(1)), 4, 6))
	a := Aggregate(snap)
	b := Aggregate(snap)
	if !reflect.DeepEqual(a, b) {
		t.Error("aggregating the same snapshot twice produced different overviews")
	}
}

func TestAggregateSkipsOpenAndCancelled(t *testing.T) {
	l := &models.Ledger{
		Participants: []models.Participant{{ID: "p1"}},
		Restaurants:  []models.Restaurant{{ID: "r1"}},
		Orders: []models.Order{
			{ID: "o1", RestaurantID: "r1", ParticipantID: "p1", Status: models.OrderOpen,
				Lines: []models.OrderLine{{Quantity: 1, UnitPriceCents: 100}}},
			{ID: "o2", RestaurantID: "r1", ParticipantID: "p1", Status: models.OrderCancelled,
				Lines: []models.OrderLine{{Quantity: 1, UnitPriceCents: 100}}},
			{ID: "o3", RestaurantID: "r1", ParticipantID: "p1", Status: models.OrderSettled,
				Lines: []models.OrderLine{{Quantity: 1, UnitPriceCents: 100}}},
		},
	}
	ov := Aggregate(snapshotFor(t, l))
	if ov.TotalCents != 100 {
		t.Errorf("total = %d, want 100 (only the settled order counts)", ov.TotalCents)
	}
}

// Conservation: the sum over all participants equals the sum of all billable
// order totals, exactly, for arbitrary ledgers.
func TestAggregateConservation(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for run := 0; run < 200; run++ {
		l := randomLedger(rng, 1+rng.Intn(5), 1+rng.Intn(10))
		snap := snapshotFor(t, l)
		ov := Aggregate(snap)

		var want models.Cents
		for _, o := range l.Orders {
			if o.Status.Billable() {
				want += o.TotalCents()
			}
		}
		var got models.Cents
		for _, c := range ov.ParticipantTotals {
			got += c
		}
		if got != want {
			t.Fatalf("run %d: participants sum to %d, orders sum to %d", run, got, want)
		}

		var subtotals models.Cents
		for _, c := range ov.RestaurantSubtotals {
			subtotals += c
		}
		if subtotals != want {
			t.Fatalf("run %d: restaurant subtotals sum to %d, want %d", run, subtotals, want)
		}
	}
}

// Split fairness: shares sum exactly to the line total and no two shares
// differ by more than one cent.
func TestSplitShares(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for run := 0; run < 500; run++ {
		k := 1 + rng.Intn(9)
		participants := make([]string, k)
		for i := range participants {
			participants[i] = fmt.Sprintf("p%02d", i)
		}
		total := models.Cents(rng.Intn(10000))

		shares := splitShares(total, participants)

		var sum models.Cents
		min, max := models.Cents(1<<62), models.Cents(-1)
		for _, s := range shares {
			sum += s
			if s < min {
				min = s
			}
			if s > max {
				max = s
			}
		}
		if sum != total {
			t.Fatalf("k=%d total=%d: shares sum to %d", k, total, sum)
		}
		if max-min > 1 {
			t.Fatalf("k=%d total=%d: share spread %d exceeds one cent", k, total, max-min)
		}
	}
}

func TestSplitRemainderGoesToLowestIDs(t *testing.T) {
	// 10.00 across three people: 3.34 / 3.33 / 3.33, extra cent to the
	// lexically smallest ID.
	shares := splitShares(1000, []string{"c", "a", "b"})
	want := map[string]models.Cents{"a": 334, "b": 333, "c": 333}
	if !reflect.DeepEqual(shares, want) {
		t.Errorf("shares = %v, want %v", shares, want)
	}
}

// randomLedger builds a structurally valid ledger with random billable and
// non-billable orders, some with shared-split lines.
func randomLedger(rng *rand.Rand, participants, orders int) *models.Ledger {
	l := models.NewLedger()
	for i := 0; i < participants; i++ {
		l.Participants = append(l.Participants, models.Participant{
			ID:          fmt.Sprintf("p%02d", i),
			DisplayName: fmt.Sprintf("Person %d", i),
		})
	}
	restaurants := 1 + rng.Intn(3)
	for i := 0; i < restaurants; i++ {
		r := models.Restaurant{
			ID:               fmt.Sprintf("r%02d", i),
			Name:             fmt.Sprintf("Restaurant %d", i),
			DeliveryFeeCents: models.Cents(rng.Intn(500)),
		}
		items := 1 + rng.Intn(5)
		for j := 0; j < items; j++ {
			r.MenuItems = append(r.MenuItems, models.MenuItem{
				ID:         fmt.Sprintf("r%02d-m%02d", i, j),
				Name:       fmt.Sprintf("Dish %d", j),
				PriceCents: models.Cents(rng.Intn(3000)),
				Available:  true,
			})
		}
		l.Restaurants = append(l.Restaurants, r)
	}

	statuses := []models.OrderStatus{
		models.OrderOpen, models.OrderSubmitted, models.OrderSettled, models.OrderCancelled,
	}
	for i := 0; i < orders; i++ {
		r := l.Restaurants[rng.Intn(len(l.Restaurants))]
		o := models.Order{
			ID:               fmt.Sprintf("o%03d", i),
			RestaurantID:     r.ID,
			ParticipantID:    l.Participants[rng.Intn(len(l.Participants))].ID,
			DeliveryFeeCents: r.DeliveryFeeCents,
			Status:           statuses[rng.Intn(len(statuses))],
		}
		lines := 1 + rng.Intn(4)
		for j := 0; j < lines; j++ {
			m := r.MenuItems[rng.Intn(len(r.MenuItems))]
			line := models.OrderLine{
				MenuItemID:     m.ID,
				Quantity:       1 + rng.Intn(4),
				UnitPriceCents: m.PriceCents,
			}
			if rng.Intn(3) == 0 {
				// Shared line across a random prefix of participants.
				k := 1 + rng.Intn(len(l.Participants))
				for _, p := range l.Participants[:k] {
					line.SplitBetween = append(line.SplitBetween, p.ID)
				}
			}
			o.Lines = append(o.Lines, line)
		}
		l.Orders = append(l.Orders, o)
	}
	return l
}
