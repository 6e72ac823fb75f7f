package cashback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketplace-ledger/internal/models"
	"marketplace-ledger/internal/store"
	"marketplace-ledger/internal/util"
	"marketplace-ledger/internal/wallet"

	"go.uber.org/zap"
)

const (
	DefaultReturnPeriodDays = 7

	lockKey = "cashback-sweeper"
	lockTTL = 10 * time.Minute
)

// ErrSweepInProgress is returned when another instance holds the sweep lock.
var ErrSweepInProgress = errors.New("cashback sweep already running")

var errAlreadyAwarded = errors.New("cashback already awarded")

// Locker is a cross-process mutex.
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	ReleaseLock(ctx context.Context, key, token string) error
}

// EventPublisher receives awarded cashback after commit.
type EventPublisher interface {
	PublishCashbackAwarded(ctx context.Context, event *models.CashbackAwardedEvent) error
}

// Options controls one sweep.
type Options struct {
	ReturnPeriodDays int
	Now              time.Time
}

// Failure is one order the sweep could not credit.
type Failure struct {
	OrderID int64  `json:"order_id"`
	Error   string `json:"error"`
}

// Report summarizes one sweep.
type Report struct {
	Eligible  int       `json:"eligible"`
	Processed int       `json:"processed"`
	Skipped   int       `json:"skipped"`
	Failed    int       `json:"failed"`
	Failures  []Failure `json:"failures,omitempty"`
}

// Sweeper credits deferred cashback once an order is past its return period.
type Sweeper struct {
	ledger store.Ledger
	wallet *wallet.Manager
	locker Locker
	events EventPublisher
	logger *zap.Logger
}

// NewSweeper creates a sweeper. locker and events may be nil.
func NewSweeper(ledger store.Ledger, wal *wallet.Manager, locker Locker, events EventPublisher) *Sweeper {
	return &Sweeper{
		ledger: ledger,
		wallet: wal,
		locker: locker,
		events: events,
		logger: util.ComponentLogger("cashback"),
	}
}

// Run awards every eligible cashback. Each order is credited in its own unit of work,
// so a failure is reported and the sweep moves on. Running it again never pays twice.
func (s *Sweeper) Run(ctx context.Context, opts Options) (*Report, error) {
	ctx, span := util.StartSpan(ctx, "CashbackSweeper.Run")
	defer span.End()

	start := time.Now()
	defer func() {
		util.CashbackRunDuration.Observe(time.Since(start).Seconds())
	}()

	if opts.ReturnPeriodDays <= 0 {
		opts.ReturnPeriodDays = DefaultReturnPeriodDays
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}

	if s.locker != nil {
		token, ok, err := s.locker.AcquireLock(ctx, lockKey, lockTTL)
		if err != nil {
			return nil, util.RecordError(span, fmt.Errorf("failed to acquire sweep lock: %w", err))
		}
		if !ok {
			return nil, ErrSweepInProgress
		}
		defer func() {
			if err := s.locker.ReleaseLock(context.Background(), lockKey, token); err != nil {
				s.logger.Warn("Failed to release sweep lock", zap.Error(err))
			}
		}()
	}

	cutoff := opts.Now.AddDate(0, 0, -opts.ReturnPeriodDays)
	var candidates []models.CashbackCandidate
	err := s.ledger.RunInTx(ctx, func(tx store.Tx) error {
		var err error
		candidates, err = tx.ListCashbackCandidates(ctx, cutoff)
		return err
	})
	if err != nil {
		return nil, util.RecordError(span, fmt.Errorf("failed to list cashback candidates: %w", err))
	}

	report := &Report{Eligible: len(candidates)}
	s.logger.Info("Cashback sweep started",
		zap.Int("eligible", report.Eligible),
		zap.Time("cutoff", cutoff))

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		event, err := s.award(ctx, c, opts.Now)
		switch {
		case err == nil:
			report.Processed++
			util.CashbackProcessedTotal.Inc()
			s.publish(ctx, event)
		case errors.Is(err, errAlreadyAwarded):
			report.Skipped++
		default:
			report.Failed++
			report.Failures = append(report.Failures, Failure{OrderID: c.OrderID, Error: err.Error()})
			util.CashbackFailedTotal.Inc()
			s.logger.Error("Failed to award cashback",
				zap.Int64("order_id", c.OrderID),
				zap.Int64("user_id", c.UserID),
				zap.Error(err))
		}
	}

	s.logger.Info("Cashback sweep finished",
		zap.Int("processed", report.Processed),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed))
	return report, nil
}

// award credits one order and flags its promo line in the same transaction.
func (s *Sweeper) award(ctx context.Context, c models.CashbackCandidate, now time.Time) (*models.CashbackAwardedEvent, error) {
	var event *models.CashbackAwardedEvent
	err := s.ledger.RunInTx(ctx, func(tx store.Tx) error {
		line, err := tx.GetPromoLineByOrderForUpdate(ctx, c.OrderID)
		if err != nil {
			return err
		}
		if line == nil || line.IsAwarded || !line.CashbackFlag {
			return errAlreadyAwarded
		}

		if line.DiscountAmount.IsPositive() {
			orderID := c.OrderID
			res, err := s.wallet.AddBalance(ctx, tx, c.UserID, wallet.Entry{
				Amount:      line.DiscountAmount,
				Currency:    c.CurrencyCode,
				Description: fmt.Sprintf("Cashback for order #%d (Promo: %s)", c.OrderID, line.PromoCode),
				Reference:   fmt.Sprintf("cashback:order:%d", c.OrderID),
				OrderID:     &orderID,
			})
			if err != nil {
				return err
			}
			if res.Duplicate {
				s.logger.Warn("Cashback credit already on ledger, flagging line",
					zap.Int64("order_id", c.OrderID))
			}
		}

		if err := tx.MarkPromoLineAwarded(ctx, line.ID, now); err != nil {
			return fmt.Errorf("failed to flag promo line: %w", err)
		}

		event = &models.CashbackAwardedEvent{
			BaseEvent: models.NewBaseEvent(models.EventTypeCashbackAwarded),
			OrderID:   c.OrderID,
			UserID:    c.UserID,
			PromoCode: line.PromoCode,
			Amount:    line.DiscountAmount,
		}
		return nil
	})
	return event, err
}

func (s *Sweeper) publish(ctx context.Context, event *models.CashbackAwardedEvent) {
	if s.events == nil || event == nil {
		return
	}
	if err := s.events.PublishCashbackAwarded(ctx, event); err != nil {
		util.EventsPublishFailed.WithLabelValues(event.EventType).Inc()
		s.logger.Error("Failed to publish CashbackAwarded event",
			zap.Int64("order_id", event.OrderID),
			zap.Error(err))
	}
}
