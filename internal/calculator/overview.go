// Package calculator computes the payment overview from a ledger snapshot.
//
// Aggregation is a pure function: the same snapshot always yields the same
// overview, and the sum of all participant totals equals the sum of all
// included order totals to the cent.
package calculator

import (
	"sort"

	"github.com/enzel-org/BestellDesk/internal/models"
)

// Aggregate computes who owes what for every submitted or settled order in
// the snapshot.
//
// Non-split lines and the delivery fee are attributed to the order's placing
// participant. A shared line's total is divided into integer cents as evenly
// as possible among the split participants; the indivisible remainder is
// assigned one cent each in ascending participant ID order, so the shares
// always sum exactly to the line total.
func Aggregate(snap *models.Snapshot) *models.PaymentOverview {
	out := &models.PaymentOverview{
		ParticipantTotals:   make(map[string]models.Cents),
		RestaurantSubtotals: make(map[string]models.Cents),
	}

	for _, o := range snap.Ledger.Orders {
		if !o.Status.Billable() {
			continue
		}
		for _, line := range o.Lines {
			total := line.TotalCents()
			if len(line.SplitBetween) == 0 {
				out.ParticipantTotals[o.ParticipantID] += total
				continue
			}
			for pid, share := range splitShares(total, line.SplitBetween) {
				out.ParticipantTotals[pid] += share
			}
		}
		out.ParticipantTotals[o.ParticipantID] += o.DeliveryFeeCents
		out.RestaurantSubtotals[o.RestaurantID] += o.TotalCents()
		out.TotalCents += o.TotalCents()
	}
	return out
}

// splitShares divides total among the given participants. Every share is
// total/k; the remainder (total mod k) is handed out one cent each in
// ascending participant ID order.
func splitShares(total models.Cents, participants []string) map[string]models.Cents {
	ids := append([]string(nil), participants...)
	sort.Strings(ids)

	k := models.Cents(len(ids))
	base := total / k
	remainder := int(total % k)

	shares := make(map[string]models.Cents, len(ids))
	for i, id := range ids {
		share := base
		if i < remainder {
			share++
		}
		shares[id] += share
	}
	return shares
}
