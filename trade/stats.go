/*
stats.go - Derived statistics for the admin view

PURPOSE:
  Turns the store's raw counters into the report the admin surface shows.
  Only the average order value needs sub-WL precision, so it is the one
  decimal figure; everything else stays in whole base units.
*/
package trade

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lockshop/engine/shop"
)

// StatsReport is the admin statistics view over a trailing window.
type StatsReport struct {
	shop.Statistics

	// AvgPurchaseWL is PurchaseVolumeWL / Purchases, two decimal places.
	// Zero when the window holds no purchases.
	AvgPurchaseWL decimal.Decimal
}

// Stats aggregates activity since the given time and derives the averages.
func Stats(ctx context.Context, store shop.StatsStore, since time.Time) (*StatsReport, error) {
	raw, err := store.Stats(ctx, since)
	if err != nil {
		return nil, err
	}

	report := &StatsReport{Statistics: raw}
	if raw.Purchases > 0 {
		report.AvgPurchaseWL = decimal.NewFromInt(raw.PurchaseVolumeWL).
			DivRound(decimal.NewFromInt(raw.Purchases), 2)
	}
	return report, nil
}
