package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/udhaar/credit-ledger/ledger"
	"github.com/udhaar/credit-ledger/order"
)

// =============================================================================
// ORDER REPOSITORY (order.Repository interface)
// =============================================================================

var _ order.Repository = Orders{}

const orderColumns = `id, shop_id, customer_phone, customer_id, account_id, items_json,
	discount, delivery_charge, total_amount, payment_type, status, price_verified,
	collected_tx_id, cancelled_by, cancel_reason, created_by, created_at, updated_at`

// itemRecord is the stored JSON shape of one order item.
type itemRecord struct {
	Name      string          `json:"name"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	LineTotal decimal.Decimal `json:"lineTotal"`
	ProductID string          `json:"productId,omitempty"`
}

func (s *Store) Create(ctx context.Context, o order.Order) error {
	args, err := orderArgs(o)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, args...)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("order %s: %w", o.ID, ledger.ErrDuplicateAccount)
	}
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

func (s *Store) GetOrder(ctx context.Context, id order.ID) (order.Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return order.Order{}, fmt.Errorf("order %s: %w", id, ledger.ErrNotFound)
	}
	return o, err
}

func (s *Store) Update(ctx context.Context, o order.Order) error {
	items, err := encodeItems(o.Items)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET
			items_json = ?, discount = ?, delivery_charge = ?, total_amount = ?,
			payment_type = ?, status = ?, price_verified = ?, collected_tx_id = ?,
			cancelled_by = ?, cancel_reason = ?, updated_at = ?
		WHERE id = ?
	`, items, o.Discount.String(), o.DeliveryCharge.String(), o.TotalAmount.String(),
		o.PaymentType, o.Status, o.PriceVerified, o.CollectedTxID,
		o.CancelledBy, o.CancelReason, formatTime(o.UpdatedAt), o.ID)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("order %s: %w", o.ID, ledger.ErrNotFound)
	}
	return nil
}

func (s *Store) ListByShop(ctx context.Context, shopID string) ([]order.Order, error) {
	return s.queryOrders(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE shop_id = ? ORDER BY created_at DESC, id DESC`, shopID)
}

func (s *Store) ListByCustomer(ctx context.Context, phone string) ([]order.Order, error) {
	return s.queryOrders(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE customer_phone = ? ORDER BY created_at DESC, id DESC`, phone)
}

func (s *Store) queryOrders(ctx context.Context, query string, args ...any) ([]order.Order, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []order.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func orderArgs(o order.Order) ([]any, error) {
	items, err := encodeItems(o.Items)
	if err != nil {
		return nil, err
	}
	return []any{
		o.ID, o.ShopID, o.CustomerPhone, o.CustomerID, o.AccountID, items,
		o.Discount.String(), o.DeliveryCharge.String(), o.TotalAmount.String(),
		o.PaymentType, o.Status, o.PriceVerified,
		o.CollectedTxID, o.CancelledBy, o.CancelReason, o.CreatedBy,
		formatTime(o.CreatedAt), formatTime(o.UpdatedAt),
	}, nil
}

func encodeItems(items []order.Item) (string, error) {
	records := make([]itemRecord, len(items))
	for i, it := range items {
		records[i] = itemRecord(it)
	}
	b, err := json.Marshal(records)
	if err != nil {
		return "", fmt.Errorf("failed to encode items: %w", err)
	}
	return string(b), nil
}

func scanOrder(row scanner) (order.Order, error) {
	var (
		o                         order.Order
		itemsJSON                 string
		discount, delivery, total string
		createdAt, updatedAt      string
	)
	err := row.Scan(
		&o.ID, &o.ShopID, &o.CustomerPhone, &o.CustomerID, &o.AccountID, &itemsJSON,
		&discount, &delivery, &total, &o.PaymentType, &o.Status, &o.PriceVerified,
		&o.CollectedTxID, &o.CancelledBy, &o.CancelReason, &o.CreatedBy, &createdAt, &updatedAt,
	)
	if err != nil {
		return order.Order{}, err
	}

	var records []itemRecord
	if err := json.Unmarshal([]byte(itemsJSON), &records); err != nil {
		return order.Order{}, fmt.Errorf("order %s items: %w", o.ID, err)
	}
	o.Items = make([]order.Item, len(records))
	for i, r := range records {
		o.Items[i] = order.Item(r)
	}

	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{{&o.Discount, discount}, {&o.DeliveryCharge, delivery}, {&o.TotalAmount, total}} {
		if *f.dst, err = decimal.NewFromString(f.src); err != nil {
			return order.Order{}, fmt.Errorf("order %s amount: %w", o.ID, err)
		}
	}
	if o.CreatedAt, err = parseTime(createdAt); err != nil {
		return order.Order{}, fmt.Errorf("order %s created_at: %w", o.ID, err)
	}
	if o.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return order.Order{}, fmt.Errorf("order %s updated_at: %w", o.ID, err)
	}
	return o, nil
}

// Orders exposes the order table as an order.Repository. Store already
// has a Get for transactions, so the repository view renames it.
type Orders struct{ *Store }

func (s *Store) Orders() Orders { return Orders{s} }

func (o Orders) Get(ctx context.Context, id order.ID) (order.Order, error) {
	return o.GetOrder(ctx, id)
}
