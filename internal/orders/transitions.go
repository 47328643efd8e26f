package orders

import "github.com/nurulloasawear/megasavdo/internal/models"

// Effect is the inventory side effect attached to entering a status.
type Effect int

const (
	EffectNone Effect = iota
	// EffectReleaseStock returns the order's reservation to free stock.
	EffectReleaseStock
	// EffectCommitStock removes the reserved units from on-hand.
	EffectCommitStock
	// EffectRefundOnly marks an edge that only the refund flow may take.
	EffectRefundOnly
)

// transitions is the complete status graph. Adding a status is one edit here.
var transitions = map[models.OrderStatus]map[models.OrderStatus]Effect{
	models.OrderStatusCreated: {
		models.OrderStatusConfirmed: EffectNone,
		models.OrderStatusCancelled: EffectReleaseStock,
	},
	models.OrderStatusConfirmed: {
		models.OrderStatusPreparing: EffectNone,
		models.OrderStatusCancelled: EffectReleaseStock,
	},
	models.OrderStatusPreparing: {
		models.OrderStatusShipped: EffectCommitStock,
	},
	models.OrderStatusShipped: {
		models.OrderStatusDelivered: EffectNone,
	},
	models.OrderStatusDelivered: {
		models.OrderStatusRefunded: EffectRefundOnly,
	},
}

// Lookup returns the effect of moving from one status to another and whether
// the edge exists at all.
func Lookup(from, to models.OrderStatus) (Effect, bool) {
	effect, ok := transitions[from][to]
	return effect, ok
}

func CanTransition(from, to models.OrderStatus) bool {
	_, ok := Lookup(from, to)
	return ok
}

// IsTerminal reports whether no edge leaves status.
func IsTerminal(status models.OrderStatus) bool {
	return len(transitions[status]) == 0
}

// NextStatuses lists the statuses reachable in one step, in declaration order
// of models.OrderStatuses.
func NextStatuses(from models.OrderStatus) []models.OrderStatus {
	var out []models.OrderStatus
	for _, status := range models.OrderStatuses {
		if CanTransition(from, status) {
			out = append(out, status)
		}
	}
	return out
}
