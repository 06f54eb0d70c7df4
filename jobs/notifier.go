package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/udhaar/credit-ledger/order"
)

// Enqueuer is the part of *asynq.Client the notifier needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AsynqNotifier implements order.Notifier by queueing TaskOrderReady.
type AsynqNotifier struct {
	client Enqueuer
}

var _ order.Notifier = (*AsynqNotifier)(nil)

func NewAsynqNotifier(client Enqueuer) *AsynqNotifier {
	return &AsynqNotifier{client: client}
}

// OrderReady enqueues one notification per order; the task id makes a
// repeated call for the same order a no-op while the first is retained.
func (n *AsynqNotifier) OrderReady(ctx context.Context, o order.Order) error {
	task, err := NewOrderReadyTask(o)
	if err != nil {
		return err
	}
	_, err = n.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(5),
		asynq.TaskID("order-ready:"+string(o.ID)),
	)
	if err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) && !errors.Is(err, asynq.ErrDuplicateTask) {
		return fmt.Errorf("enqueue %s: %w", TaskOrderReady, err)
	}
	return nil
}

// InlineNotifier implements order.Notifier without a queue by running the
// job handler in the caller. Used when no Redis is configured.
type InlineNotifier struct {
	Job *OrderReadyJob
}

func (n InlineNotifier) OrderReady(ctx context.Context, o order.Order) error {
	task, err := NewOrderReadyTask(o)
	if err != nil {
		return err
	}
	return n.Job.Handle(ctx, task)
}
