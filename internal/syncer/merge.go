package syncer

import (
	"encoding/json"
	"sort"

	"github.com/enzel-org/BestellDesk/internal/models"
)

// Merge reconciles two ledgers entity by entity (last-writer-wins per
// entity, never per field):
//
//   - entities present on only one side are kept
//   - entities present on both sides resolve to the newer last-modified
//     timestamp
//   - exact timestamp ties resolve deterministically by comparing the two
//     versions' canonical serializations, so both replicas pick the same
//     winner
//
// Because absence on one side always loses to presence on the other, an
// entity deleted on one side but modified on the other resurrects the
// modified version: a deliberate bias toward not losing data.
func Merge(local, remote *models.Ledger) *models.Ledger {
	out := models.NewLedger()
	out.Restaurants = mergeEntities(local.Restaurants, remote.Restaurants)
	out.Participants = mergeEntities(local.Participants, remote.Participants)
	out.Orders = mergeEntities(local.Orders, remote.Orders)
	out.Settings = mergeSettings(local.Settings, remote.Settings)
	return out
}

func mergeEntities[T models.Entity](local, remote []T) []T {
	byID := make(map[string]T, len(local)+len(remote))
	for _, e := range local {
		byID[e.EntityID()] = e
	}
	for _, e := range remote {
		cur, ok := byID[e.EntityID()]
		if !ok {
			byID[e.EntityID()] = e
			continue
		}
		byID[e.EntityID()] = pickNewer(cur, e)
	}

	out := make([]T, 0, len(byID))
	for _, e := range byID {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID() < out[j].EntityID() })
	return out
}

func pickNewer[T models.Entity](a, b T) T {
	if a.ModifiedAt() != b.ModifiedAt() {
		if a.ModifiedAt() > b.ModifiedAt() {
			return a
		}
		return b
	}
	// Exact tie: both replicas must pick the same version regardless of
	// which side is "local", so compare content.
	if canonical(a) <= canonical(b) {
		return a
	}
	return b
}

func mergeSettings(a, b models.Settings) models.Settings {
	if a.UpdatedAt != b.UpdatedAt {
		if a.UpdatedAt > b.UpdatedAt {
			return a
		}
		return b
	}
	ab, _ := json.Marshal(a)
	bb, _ := json.Marshal(b)
	if string(ab) <= string(bb) {
		return a
	}
	return b
}

func canonical(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}
