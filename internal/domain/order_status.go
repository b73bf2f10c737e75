package domain

import (
	"fmt"
	"strings"
	"time"
)

// OrderStatus enumerates lifecycle states for orders.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusRefunded   OrderStatus = "refunded"
)

// StatusEffect lists what a transition into a status does besides setting Order.Status.
type StatusEffect struct {
	// Stamp records the transition time on the matching timestamp field. Nil for pending.
	Stamp func(o *Order, at time.Time)
	// RestoresStock marks statuses whose entry credits line item quantities back to inventory.
	RestoresStock bool
	Terminal      bool
	// Rank orders the forward path; side exits have no rank.
	Rank int
}

// StatusEffects is the closed transition table.
var StatusEffects = map[OrderStatus]StatusEffect{
	OrderStatusPending: {Rank: 1},
	OrderStatusConfirmed: {
		Stamp: func(o *Order, at time.Time) { o.ConfirmedAt = &at },
		Rank:  2,
	},
	OrderStatusProcessing: {
		Stamp: func(o *Order, at time.Time) { o.ProcessingAt = &at },
		Rank:  3,
	},
	OrderStatusShipped: {
		Stamp: func(o *Order, at time.Time) { o.ShippedAt = &at },
		Rank:  4,
	},
	OrderStatusDelivered: {
		Stamp:    func(o *Order, at time.Time) { o.DeliveredAt = &at },
		Terminal: true,
		Rank:     5,
	},
	OrderStatusCancelled: {
		Stamp:         func(o *Order, at time.Time) { o.CancelledAt = &at },
		RestoresStock: true,
		Terminal:      true,
	},
	OrderStatusRefunded: {
		Stamp:    func(o *Order, at time.Time) { o.RefundedAt = &at },
		Terminal: true,
	},
}

// ParseOrderStatus normalises and validates a status string.
func ParseOrderStatus(value string) (OrderStatus, error) {
	status := OrderStatus(strings.ToLower(strings.TrimSpace(value)))
	if status == "canceled" {
		status = OrderStatusCancelled
	}
	if _, ok := StatusEffects[status]; !ok {
		return "", fmt.Errorf("unknown order status %q", value)
	}
	return status, nil
}

// IsTerminal reports whether the status is an end state.
func (s OrderStatus) IsTerminal() bool {
	return StatusEffects[s].Terminal
}

// IsForwardMove reports whether moving from one status to another follows the normal lifecycle:
// a step forward on the main path, or a side exit out of a non-terminal status.
// Everything else is an administrative override.
func IsForwardMove(from, to OrderStatus) bool {
	fromEffect, okFrom := StatusEffects[from]
	toEffect, okTo := StatusEffects[to]
	if !okFrom || !okTo || fromEffect.Terminal {
		return false
	}
	if toEffect.Rank == 0 {
		return true
	}
	return toEffect.Rank > fromEffect.Rank
}

// ApplyStatus sets the status and stamps the matching timestamp. It reports whether stock
// must be restored, which is only the case when entering cancelled from a non-cancelled status.
func (o *Order) ApplyStatus(target OrderStatus, at time.Time) (restore bool) {
	previous := o.Status
	effect := StatusEffects[target]
	o.Status = target
	if effect.Stamp != nil {
		effect.Stamp(o, at)
	}
	o.UpdatedAt = at
	return effect.RestoresStock && previous != OrderStatusCancelled
}
