package app

import (
	"context"
	"errors"
	"time"

	"marketplace-ledger/internal/cashback"
	"marketplace-ledger/internal/util"
	"marketplace-ledger/internal/worker"

	"go.uber.org/zap"
)

// Jobs returns the periodic maintenance tasks: cashback sweep, refund retry and commission settlement.
func (a *App) Jobs() []worker.Job {
	logger := util.ComponentLogger("jobs")

	return []worker.Job{
		{
			Name:     "cashback-sweep",
			Interval: a.Config.Cashback.Interval,
			Run: func(ctx context.Context) error {
				report, err := a.Cashback.Run(ctx, cashback.Options{ReturnPeriodDays: a.Config.Cashback.ReturnPeriodDays})
				if errors.Is(err, cashback.ErrSweepInProgress) {
					logger.Info("Cashback sweep already running elsewhere")
					return nil
				}
				if err != nil {
					return err
				}
				logger.Info("Cashback sweep finished",
					zap.Int("eligible", report.Eligible),
					zap.Int("processed", report.Processed),
					zap.Int("failed", report.Failed))
				return nil
			},
		},
		{
			Name:     "refund-retry",
			Interval: a.Config.Business.RefundRetryInterval,
			Run: func(ctx context.Context) error {
				report, err := a.Returns.RetryPendingRefunds(ctx)
				if err != nil {
					return err
				}
				if report.Pending > 0 {
					logger.Info("Refund retry finished",
						zap.Int("pending", report.Pending),
						zap.Int("refunded", report.Refunded),
						zap.Int("failed", report.Failed))
				}
				return nil
			},
		},
		{
			Name:     "commission-settlement",
			Interval: a.Config.Business.CommissionSettleInterval,
			Run: func(ctx context.Context) error {
				report, err := a.Items.SettleCommissions(ctx, time.Now())
				if err != nil {
					return err
				}
				if report.Eligible > 0 {
					logger.Info("Commission settlement finished",
						zap.Int("eligible", report.Eligible),
						zap.Int("settled", report.Settled),
						zap.Int("failed", report.Failed))
				}
				return nil
			},
		},
	}
}
