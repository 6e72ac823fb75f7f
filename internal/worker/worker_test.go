package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"marketplace-ledger/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	userID  int64
	kind    string
	message string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sent
}

func (n *fakeNotifier) Notify(_ context.Context, userID int64, kind, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sent{userID, kind, message})
	return nil
}

type fakeDeduper struct {
	seen map[string]bool
	err  error
}

func (d *fakeDeduper) MarkEventProcessed(_ context.Context, id string, _ time.Duration) (bool, error) {
	if d.err != nil {
		return false, d.err
	}
	if d.seen[id] {
		return false, nil
	}
	d.seen[id] = true
	return true, nil
}

func TestNotificationsAreDeliveredOncePerEvent(t *testing.T) {
	n := &fakeNotifier{}
	w := NewNotificationWorker(nil, n, &fakeDeduper{seen: map[string]bool{}})
	ctx := context.Background()

	event := &models.CashbackAwardedEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeCashbackAwarded),
		OrderID:   3,
		UserID:    7,
		PromoCode: "BACK5",
		Amount:    decimal.RequireFromString("5"),
	}
	require.NoError(t, w.handleCashbackAwarded(ctx, event))
	require.NoError(t, w.handleCashbackAwarded(ctx, event))

	require.Len(t, n.sent, 1)
	assert.Equal(t, int64(7), n.sent[0].userID)
	assert.Equal(t, models.EventTypeCashbackAwarded, n.sent[0].kind)
	assert.Equal(t, "Cashback of 5.00 for order #3 (Promo: BACK5) was added to your wallet", n.sent[0].message)
}

func TestNotificationDedupFailureIsRetried(t *testing.T) {
	n := &fakeNotifier{}
	w := NewNotificationWorker(nil, n, &fakeDeduper{err: errors.New("redis down")})

	err := w.handleItemStatusChanged(context.Background(), &models.ItemStatusChangedEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeItemStatusChanged),
		OrderID:   1, OrderItemID: 2, UserID: 7, NewStatus: models.ItemStatusAccepted,
	})
	assert.Error(t, err)
	assert.Empty(t, n.sent)
}

func TestNotificationWithoutDeduper(t *testing.T) {
	n := &fakeNotifier{}
	w := NewNotificationWorker(nil, n, nil)

	require.NoError(t, w.handleItemStatusChanged(context.Background(), &models.ItemStatusChangedEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeItemStatusChanged),
		OrderID:   1, OrderItemID: 2, UserID: 7, NewStatus: models.ItemStatusAccepted,
	}))
	require.Len(t, n.sent, 1)
	assert.Equal(t, "Item #2 of order #1 is now accepted", n.sent[0].message)
}

func TestSchedulerRunsJobsUntilCancelled(t *testing.T) {
	var fast, failing int32
	ctx, cancel := context.WithCancel(context.Background())

	s := NewScheduler(
		Job{Name: "fast", Interval: 5 * time.Millisecond, Run: func(context.Context) error {
			atomic.AddInt32(&fast, 1)
			return nil
		}},
		Job{Name: "failing", Interval: 5 * time.Millisecond, Run: func(context.Context) error {
			atomic.AddInt32(&failing, 1)
			return errors.New("boom")
		}},
		Job{Name: "disabled", Run: func(context.Context) error {
			t.Error("disabled job ran")
			return nil
		}},
	)

	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&fast) >= 2 && atomic.LoadInt32(&failing) >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
