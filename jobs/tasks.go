package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"

	"github.com/udhaar/credit-ledger/ledger"
	"github.com/udhaar/credit-ledger/order"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskOrderReady tells a customer their order can be picked up.
	TaskOrderReady = "order:ready"
)

// OrderReadyPayload describes the notification for one READY order.
type OrderReadyPayload struct {
	OrderID       string `json:"order_id"`
	ShopID        string `json:"shop_id"`
	CustomerPhone string `json:"customer_phone"`
	TotalAmount   string `json:"total_amount"`
	PaymentType   string `json:"payment_type"`
}

// NewOrderReadyTask constructs an Asynq task.
func NewOrderReadyTask(o order.Order) (*asynq.Task, error) {
	data, err := json.Marshal(OrderReadyPayload{
		OrderID:       string(o.ID),
		ShopID:        o.ShopID,
		CustomerPhone: o.CustomerPhone,
		TotalAmount:   o.TotalAmount.StringFixed(ledger.MoneyPlaces),
		PaymentType:   string(o.PaymentType),
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOrderReady, data), nil
}

// =============================================================================
// HANDLER
// =============================================================================

// Sender delivers a text message to a phone (SMS, WhatsApp).
type Sender interface {
	Send(ctx context.Context, phone, message string) error
}

// LogSender writes messages to the log. Used until a gateway is configured.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(_ context.Context, phone, message string) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification", slog.String("phone", phone), slog.String("message", message))
	return nil
}

// OrderReadyJob handles TaskOrderReady.
type OrderReadyJob struct {
	Sender Sender
	Logger *slog.Logger
	// Metrics, when set, counts delivery attempts.
	Metrics interface{ NotificationHandled(err error) }
}

// Handle processes TaskOrderReady tasks. Malformed payloads are not retried.
func (j *OrderReadyJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload OrderReadyPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", TaskOrderReady, err, asynq.SkipRetry)
	}
	total, err := decimal.NewFromString(payload.TotalAmount)
	if err != nil || payload.CustomerPhone == "" {
		return fmt.Errorf("invalid %s payload for order %s: %w", TaskOrderReady, payload.OrderID, asynq.SkipRetry)
	}

	err = j.Sender.Send(ctx, payload.CustomerPhone, OrderReadyMessage(payload.OrderID, total, ledger.PaymentType(payload.PaymentType)))
	if j.Metrics != nil {
		j.Metrics.NotificationHandled(err)
	}
	if err != nil {
		j.logger().Warn("order ready delivery failed",
			slog.String("order", payload.OrderID), slog.Any("error", err))
		return err
	}
	return nil
}

// OrderReadyMessage is the customer-facing text.
func OrderReadyMessage(orderID string, total decimal.Decimal, pt ledger.PaymentType) string {
	msg := fmt.Sprintf("Your order %s is ready for pickup. Total: Rs %s", orderID, ledger.FormatMoney(total, language.English))
	if pt == ledger.PaymentUdhaar {
		msg += " (added to your udhaar)"
	}
	return msg
}

func (j *OrderReadyJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskOrderReady))
	}
	return slog.Default().With(slog.String("job", TaskOrderReady))
}
