/*
notifier.go - Threshold breach notifications

PURPOSE:
  After any operation that leaves a stock row at or below its minimum
  threshold, or at or above its maximum, the engine can notify an
  external collaborator (the alerting subsystem). Notification is
  fire-and-forget: a failed or slow notifier never rolls back or delays
  the stock/ledger mutation that triggered it.
*/
package colony

import "github.com/shopspring/decimal"

// ThresholdBreach describes one stock row crossing a configured threshold.
type ThresholdBreach struct {
	DomeID     DomeID
	ResourceID ResourceID
	Quantity   decimal.Decimal
	Threshold  decimal.Decimal
	Kind       BreachKind
}

type BreachKind string

const (
	BreachBelowMin BreachKind = "BELOW_MIN"
	BreachAboveMax BreachKind = "ABOVE_MAX"
)

// AlertNotifier consumes threshold-breach signals. Implementations must
// be safe for concurrent use; they are invoked from engine goroutines.
type AlertNotifier interface {
	NotifyBreach(b ThresholdBreach)
}

// NotifierFunc adapts a plain function to AlertNotifier.
type NotifierFunc func(b ThresholdBreach)

func (f NotifierFunc) NotifyBreach(b ThresholdBreach) { f(b) }

// breachesOf returns the threshold breaches present in a committed row,
// if any. A row can breach both bounds only with a misconfigured
// min > max; both are still reported.
func breachesOf(row *StockRow) []ThresholdBreach {
	if row == nil {
		return nil
	}
	var out []ThresholdBreach
	if row.MinThreshold != nil && row.Quantity.LessThanOrEqual(*row.MinThreshold) {
		out = append(out, ThresholdBreach{
			DomeID:     row.DomeID,
			ResourceID: row.ResourceID,
			Quantity:   row.Quantity,
			Threshold:  *row.MinThreshold,
			Kind:       BreachBelowMin,
		})
	}
	if row.MaxThreshold != nil && row.Quantity.GreaterThanOrEqual(*row.MaxThreshold) {
		out = append(out, ThresholdBreach{
			DomeID:     row.DomeID,
			ResourceID: row.ResourceID,
			Quantity:   row.Quantity,
			Threshold:  *row.MaxThreshold,
			Kind:       BreachAboveMax,
		})
	}
	return out
}
