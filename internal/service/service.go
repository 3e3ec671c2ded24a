// Package service is the in-process command surface. It wires the ledger
// store, payment aggregator, archive pipeline and sync engine together,
// enforces workspace policy (the order window) and logs every command.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/enzel-org/BestellDesk/internal/archive"
	"github.com/enzel-org/BestellDesk/internal/calculator"
	"github.com/enzel-org/BestellDesk/internal/ledger"
	"github.com/enzel-org/BestellDesk/internal/metrics"
	"github.com/enzel-org/BestellDesk/internal/models"
	"github.com/enzel-org/BestellDesk/internal/syncer"
)

// OrderWindowError is returned when an order command arrives outside the
// configured ordering window.
type OrderWindowError struct {
	Start, End int64
}

func (e *OrderWindowError) Error() string {
	return fmt.Sprintf("ordering window is closed (open from %s to %s)",
		time.UnixMilli(e.Start).Format(time.RFC3339),
		time.UnixMilli(e.End).Format(time.RFC3339))
}

// Service exposes the operations the command layer calls. The sync engine is
// optional; a nil engine means the workspace runs offline.
type Service struct {
	store  *ledger.Store
	engine *syncer.Engine
	now    func() int64
}

// New creates a service over the given store. engine may be nil.
func New(store *ledger.Store, engine *syncer.Engine) *Service {
	return &Service{
		store:  store,
		engine: engine,
		now:    func() int64 { return time.Now().UnixMilli() },
	}
}

// Snapshot returns the current immutable ledger snapshot.
func (s *Service) Snapshot() *models.Snapshot {
	return s.store.Snapshot()
}

// ==================== Restaurants ====================

func (s *Service) CreateRestaurant(ctx context.Context, name string, deliveryFee models.Cents) (models.Restaurant, error) {
	slog.Info("CreateRestaurant", "name", name, "delivery_fee_cents", deliveryFee)
	r, err := s.store.CreateRestaurant(ctx, name, deliveryFee)
	return r, s.record("create_restaurant", err)
}

func (s *Service) UpdateRestaurant(ctx context.Context, id, name string, deliveryFee models.Cents) error {
	slog.Info("UpdateRestaurant", "restaurant_id", id, "name", name)
	return s.record("update_restaurant", s.store.UpdateRestaurant(ctx, id, name, deliveryFee))
}

func (s *Service) DeleteRestaurant(ctx context.Context, id string) error {
	slog.Info("DeleteRestaurant", "restaurant_id", id)
	return s.record("delete_restaurant", s.store.DeleteRestaurant(ctx, id))
}

func (s *Service) AddCategory(ctx context.Context, restaurantID, name string) (models.Category, error) {
	slog.Info("AddCategory", "restaurant_id", restaurantID, "name", name)
	c, err := s.store.AddCategory(ctx, restaurantID, name)
	return c, s.record("add_category", err)
}

func (s *Service) UpdateCategory(ctx context.Context, restaurantID, categoryID, name string, position int) error {
	slog.Info("UpdateCategory", "restaurant_id", restaurantID, "category_id", categoryID)
	return s.record("update_category", s.store.UpdateCategory(ctx, restaurantID, categoryID, name, position))
}

func (s *Service) DeleteCategory(ctx context.Context, restaurantID, categoryID string) error {
	slog.Info("DeleteCategory", "restaurant_id", restaurantID, "category_id", categoryID)
	return s.record("delete_category", s.store.DeleteCategory(ctx, restaurantID, categoryID))
}

func (s *Service) AddMenuItem(ctx context.Context, restaurantID, name string, price models.Cents, categoryID string) (models.MenuItem, error) {
	slog.Info("AddMenuItem", "restaurant_id", restaurantID, "name", name, "price_cents", price)
	item, err := s.store.AddMenuItem(ctx, restaurantID, name, price, categoryID)
	return item, s.record("add_menu_item", err)
}

func (s *Service) UpdateMenuItem(ctx context.Context, restaurantID, itemID, name string, price models.Cents, available bool, categoryID string) error {
	slog.Info("UpdateMenuItem", "restaurant_id", restaurantID, "item_id", itemID)
	return s.record("update_menu_item", s.store.UpdateMenuItem(ctx, restaurantID, itemID, name, price, available, categoryID))
}

func (s *Service) DeleteMenuItem(ctx context.Context, restaurantID, itemID string) error {
	slog.Info("DeleteMenuItem", "restaurant_id", restaurantID, "item_id", itemID)
	return s.record("delete_menu_item", s.store.DeleteMenuItem(ctx, restaurantID, itemID))
}

// ==================== Participants ====================

func (s *Service) CreateParticipant(ctx context.Context, displayName string) (models.Participant, error) {
	slog.Info("CreateParticipant", "display_name", displayName)
	p, err := s.store.CreateParticipant(ctx, displayName)
	return p, s.record("create_participant", err)
}

func (s *Service) RenameParticipant(ctx context.Context, id, displayName string) error {
	slog.Info("RenameParticipant", "participant_id", id)
	return s.record("rename_participant", s.store.RenameParticipant(ctx, id, displayName))
}

func (s *Service) DeleteParticipant(ctx context.Context, id string) error {
	slog.Info("DeleteParticipant", "participant_id", id)
	return s.record("delete_participant", s.store.DeleteParticipant(ctx, id))
}

// ==================== Orders ====================

// CreateOrder places a new order. When an ordering window is configured the
// order must arrive inside it.
func (s *Service) CreateOrder(ctx context.Context, participantID, restaurantID string, lines []ledger.LineInput) (models.Order, error) {
	slog.Info("CreateOrder",
		"participant_id", participantID,
		"restaurant_id", restaurantID,
		"lines", len(lines),
	)
	if err := s.checkOrderWindow(); err != nil {
		metrics.Mutations.WithLabelValues("create_order", metrics.ResultRejected).Inc()
		slog.Warn("CreateOrder rejected", "error", err)
		return models.Order{}, err
	}
	o, err := s.store.CreateOrder(ctx, participantID, restaurantID, lines)
	return o, s.record("create_order", err)
}

func (s *Service) UpdateOrderLines(ctx context.Context, orderID string, lines []ledger.LineInput) error {
	slog.Info("UpdateOrderLines", "order_id", orderID, "lines", len(lines))
	if err := s.checkOrderWindow(); err != nil {
		metrics.Mutations.WithLabelValues("update_order_lines", metrics.ResultRejected).Inc()
		slog.Warn("UpdateOrderLines rejected", "error", err)
		return err
	}
	return s.record("update_order_lines", s.store.UpdateOrderLines(ctx, orderID, lines))
}

func (s *Service) SetOrderStatus(ctx context.Context, orderID string, status models.OrderStatus) error {
	slog.Info("SetOrderStatus", "order_id", orderID, "status", status)
	return s.record("set_order_status", s.store.SetOrderStatus(ctx, orderID, status))
}

func (s *Service) DeleteOrder(ctx context.Context, orderID string) error {
	slog.Info("DeleteOrder", "order_id", orderID)
	return s.record("delete_order", s.store.DeleteOrder(ctx, orderID))
}

func (s *Service) checkOrderWindow() error {
	settings := s.store.Snapshot().Ledger.Settings
	if settings.WindowOpen(s.now()) {
		return nil
	}
	return &OrderWindowError{Start: settings.OrderWindowStart, End: settings.OrderWindowEnd}
}

// ==================== Settings ====================

func (s *Service) SetActiveRestaurant(ctx context.Context, restaurantID string) error {
	slog.Info("SetActiveRestaurant", "restaurant_id", restaurantID)
	return s.record("set_active_restaurant", s.store.SetActiveRestaurant(ctx, restaurantID))
}

func (s *Service) SetOrderWindow(ctx context.Context, start, end int64) error {
	slog.Info("SetOrderWindow", "start", start, "end", end)
	return s.record("set_order_window", s.store.SetOrderWindow(ctx, start, end))
}

// ==================== Payments ====================

// Overview computes who owes what from the current snapshot.
func (s *Service) Overview(ctx context.Context) *models.PaymentOverview {
	snap := s.store.Snapshot()
	overview := calculator.Aggregate(snap)
	slog.Info("Overview computed",
		"revision", snap.Revision,
		"participants", len(overview.ParticipantTotals),
		"total_cents", overview.TotalCents,
	)
	return overview
}

// ==================== Archive ====================

// Export writes the current snapshot as an encrypted archive file.
func (s *Service) Export(ctx context.Context, path, passphrase string) error {
	snap := s.store.Snapshot()
	slog.Info("Export", "path", path, "revision", snap.Revision)
	if err := archive.Export(snap, passphrase, path); err != nil {
		metrics.Archive.WithLabelValues("export", metrics.ResultError).Inc()
		slog.Error("Export failed", "path", path, "error", err)
		return err
	}
	metrics.Archive.WithLabelValues("export", metrics.ResultOK).Inc()
	return nil
}

// Import restores the ledger from an encrypted archive file.
func (s *Service) Import(ctx context.Context, path, passphrase string, force bool) (*models.Snapshot, error) {
	slog.Info("Import", "path", path, "force", force)
	snap, err := archive.Import(ctx, s.store, path, passphrase, force)
	if err != nil {
		metrics.Archive.WithLabelValues("import", metrics.ResultError).Inc()
		slog.Error("Import failed", "path", path, "error", err)
		return nil, err
	}
	metrics.Archive.WithLabelValues("import", metrics.ResultOK).Inc()
	slog.Info("Import successful", "revision", snap.Revision)
	return snap, nil
}

// ==================== Sync ====================

// Sync runs one pull-then-push cycle against the configured remote.
func (s *Service) Sync(ctx context.Context, passphrase string) error {
	if s.engine == nil {
		return fmt.Errorf("no remote configured")
	}
	return s.engine.Sync(ctx, passphrase)
}

// record translates a mutation outcome into metrics. Validation rejections
// are counted separately from storage failures.
func (s *Service) record(op string, err error) error {
	switch {
	case err == nil:
		metrics.Mutations.WithLabelValues(op, metrics.ResultOK).Inc()
	case ledger.IsRejection(err):
		metrics.Mutations.WithLabelValues(op, metrics.ResultRejected).Inc()
		slog.Warn("Mutation rejected", "op", op, "error", err)
	default:
		metrics.Mutations.WithLabelValues(op, metrics.ResultError).Inc()
		slog.Error("Mutation failed", "op", op, "error", err)
	}
	return err
}
