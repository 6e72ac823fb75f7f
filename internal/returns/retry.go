package returns

import (
	"context"
	"fmt"

	"marketplace-ledger/internal/models"
	"marketplace-ledger/internal/store"

	"go.uber.org/zap"
)

// RetryFailure is one return whose refund failed again.
type RetryFailure struct {
	ReturnID int64  `json:"return_id"`
	Error    string `json:"error"`
}

// RetryReport summarizes a refund retry pass.
type RetryReport struct {
	Pending  int            `json:"pending"`
	Refunded int            `json:"refunded"`
	Failed   int            `json:"failed"`
	Failures []RetryFailure `json:"failures,omitempty"`
}

// RetryPendingRefunds processes every return stuck at received_by_seller.
// Each refund is its own unit of work; failures are reported and the pass continues.
func (s *Service) RetryPendingRefunds(ctx context.Context) (*RetryReport, error) {
	var ids []int64
	err := s.ledger.RunInTx(ctx, func(tx store.Tx) error {
		var err error
		ids, err = tx.ListReturnIDsByStatus(ctx, models.ReturnStatusReceivedBySeller)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pending refunds: %w", err)
	}

	report := &RetryReport{Pending: len(ids)}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if _, err := s.ProcessRefund(ctx, id); err != nil {
			report.Failed++
			report.Failures = append(report.Failures, RetryFailure{ReturnID: id, Error: err.Error()})
			s.logger.Error("Refund retry failed", zap.Int64("return_id", id), zap.Error(err))
			continue
		}
		report.Refunded++
	}

	if report.Pending > 0 {
		s.logger.Info("Refund retry finished",
			zap.Int("pending", report.Pending),
			zap.Int("refunded", report.Refunded),
			zap.Int("failed", report.Failed))
	}
	return report, nil
}
