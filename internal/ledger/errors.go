package ledger

import (
	"errors"
	"fmt"
)

// Invariant names carried by ValidationError so callers can tell exactly
// which rule a rejected mutation violated.
const (
	InvariantReference  = "referential-integrity"
	InvariantQuantity   = "quantity-positive"
	InvariantPrice      = "price-non-negative"
	InvariantTransition = "status-transition"
	InvariantUniqueName = "unique-name"
	InvariantInUse      = "in-use"
	InvariantImmutable  = "order-immutable"
	InvariantAvailable  = "item-available"
)

// ValidationError rejects a mutation that would violate a ledger invariant.
// The mutation is not applied and the store keeps its last committed state.
type ValidationError struct {
	Invariant string
	Detail    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed (%s): %s", e.Invariant, e.Detail)
}

func invalid(invariant, format string, args ...any) *ValidationError {
	return &ValidationError{Invariant: invariant, Detail: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a mutation or lookup against a missing entity.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

func notFound(kind, id string) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id}
}

// ErrStaleSnapshot rejects replacing the ledger with a snapshot older than
// the current revision (import without force).
var ErrStaleSnapshot = errors.New("snapshot is older than the current ledger revision")

// IsRejection reports whether err is a rule rejection rather than a storage
// or infrastructure failure. Rejections leave the ledger untouched.
func IsRejection(err error) bool {
	var ve *ValidationError
	var nf *NotFoundError
	return errors.As(err, &ve) || errors.As(err, &nf) || errors.Is(err, ErrStaleSnapshot)
}
