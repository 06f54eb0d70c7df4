/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Responses carry amounts as strings with exactly two decimals ("140.00").
  Requests accept either a JSON string or a JSON number; the ledger rejects
  anything with more than two decimals, so nothing is rounded on the way in.

VALIDATION:
  Request structs carry go-playground/validator tags for shape checks
  (required fields, enums, list sizes). Domain rules (amount > 0, credit
  limits, transitions) stay in the ledger and order packages.

SEE ALSO:
  - handlers.go: Uses these types
  - errors.go: ErrorResponse and status mapping
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/udhaar/credit-ledger/ledger"
	"github.com/udhaar/credit-ledger/order"
	"github.com/udhaar/credit-ledger/reconcile"
)

// =============================================================================
// REQUESTS
// =============================================================================

type RegisterIdentityRequest struct {
	ID    string `json:"id"`
	Phone string `json:"phone" validate:"required"`
	Kind  string `json:"kind" validate:"required,oneof=person shop"`
	Name  string `json:"name" validate:"max=120"`
}

type OpenAccountRequest struct {
	Kind              string           `json:"kind" validate:"required,oneof=shop personal"`
	OwnerID           string           `json:"owner_id" validate:"required"`
	CounterpartyPhone string           `json:"counterparty_phone" validate:"required"`
	CounterpartyName  string           `json:"counterparty_name" validate:"max=120"`
	CreditLimit       *decimal.Decimal `json:"credit_limit"`
}

// CreditLimitRequest sets a limit. A null limit clears it.
type CreditLimitRequest struct {
	Limit *decimal.Decimal `json:"limit"`
}

type AppendTransactionRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	PaymentType    string          `json:"payment_type" validate:"required,oneof=CASH UPI UDHAAR GAVE TOOK"`
	Source         string          `json:"source" validate:"omitempty,oneof=MANUAL PAYMENT"`
	Notes          string          `json:"notes" validate:"max=500"`
	ReferenceID    string          `json:"reference_id" validate:"max=120"`
	IdempotencyKey string          `json:"idempotency_key" validate:"max=200"`
	Bypass         bool            `json:"bypass"`
}

type EditTransactionRequest struct {
	Amount      *decimal.Decimal `json:"amount"`
	PaymentType *string          `json:"payment_type" validate:"omitempty,oneof=CASH UPI UDHAAR GAVE TOOK"`
	Notes       *string          `json:"notes" validate:"omitempty,max=500"`
	Bypass      bool             `json:"bypass"`
}

type BulkEditRequest struct {
	IDs []string `json:"ids" validate:"required,min=1,max=500,dive,required"`
	EditTransactionRequest
}

type BulkDeleteRequest struct {
	IDs []string `json:"ids" validate:"required,min=1,max=500,dive,required"`
}

type ItemRequest struct {
	Name      string          `json:"name" validate:"required,max=200"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	ProductID string          `json:"product_id"`
}

type CheckoutRequest struct {
	ShopID         string          `json:"shop_id" validate:"required"`
	CustomerPhone  string          `json:"customer_phone" validate:"required"`
	CustomerName   string          `json:"customer_name" validate:"max=120"`
	Items          []ItemRequest   `json:"items" validate:"required,min=1,dive"`
	Discount       decimal.Decimal `json:"discount"`
	DeliveryCharge decimal.Decimal `json:"delivery_charge"`
	PaymentType    string          `json:"payment_type" validate:"omitempty,oneof=CASH UPI UDHAAR"`
}

type PriceUpdateRequest struct {
	Index     int             `json:"index" validate:"min=0"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type VerifyPricesRequest struct {
	Prices []PriceUpdateRequest `json:"prices" validate:"dive"`
}

type EditItemsRequest struct {
	Role           string           `json:"role" validate:"required,oneof=customer shop"`
	Items          []ItemRequest    `json:"items" validate:"required,min=1,dive"`
	Discount       *decimal.Decimal `json:"discount"`
	DeliveryCharge *decimal.Decimal `json:"delivery_charge"`
}

type CancelOrderRequest struct {
	Role   string `json:"role" validate:"required,oneof=customer shop"`
	Reason string `json:"reason" validate:"max=500"`
}

type CollectOrderRequest struct {
	Bypass bool `json:"bypass"`
}

// LoadScenarioRequest names a demo fixture.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type IdentityDTO struct {
	ID        string `json:"id"`
	Phone     string `json:"phone"`
	Kind      string `json:"kind"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at"`
}

type AccountDTO struct {
	ID                string  `json:"id"`
	Kind              string  `json:"kind"`
	OwnerID           string  `json:"owner_id"`
	CounterpartyPhone string  `json:"counterparty_phone"`
	CounterpartyName  string  `json:"counterparty_name,omitempty"`
	CounterpartyID    string  `json:"counterparty_id,omitempty"`
	CreditLimit       *string `json:"credit_limit"`
	CreatedAt         string  `json:"created_at"`
}

type TransactionDTO struct {
	ID           string `json:"id"`
	AccountID    string `json:"account_id"`
	Amount       string `json:"amount"`
	SignedAmount string `json:"signed_amount"`
	PaymentType  string `json:"payment_type"`
	Source       string `json:"source"`
	Notes        string `json:"notes,omitempty"`
	ReferenceID  string `json:"reference_id,omitempty"`
	OriginID     string `json:"origin_id"`
	Version      int    `json:"version"`
	SupersededBy string `json:"superseded_by,omitempty"`
	CreatedAt    string `json:"created_at"`
	CreatedBy    string `json:"created_by,omitempty"`
	EditedAt     string `json:"edited_at,omitempty"`
	EditedBy     string `json:"edited_by,omitempty"`
	DeletedAt    string `json:"deleted_at,omitempty"`
	DeletedBy    string `json:"deleted_by,omitempty"`
}

type PageDTO struct {
	Items      []TransactionDTO `json:"items"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

type BalanceDTO struct {
	AccountID   string  `json:"account_id"`
	Balance     string  `json:"balance"`
	Direction   string  `json:"direction"`
	CreditLimit *string `json:"credit_limit"`
}

type StatementLineDTO struct {
	Transaction    TransactionDTO `json:"transaction"`
	RunningBalance string         `json:"running_balance"`
}

type StatementDTO struct {
	AccountID      string             `json:"account_id"`
	From           string             `json:"from,omitempty"`
	To             string             `json:"to,omitempty"`
	OpeningBalance string             `json:"opening_balance"`
	Lines          []StatementLineDTO `json:"lines"`
	ClosingBalance string             `json:"closing_balance"`
}

type SnapshotDTO struct {
	AccountID string `json:"account_id"`
	Balance   string `json:"balance"`
	Direction string `json:"direction"`
	AsOf      string `json:"as_of"`
	Text      string `json:"text"`
}

type DailyTotalDTO struct {
	Date   string            `json:"date"`
	Count  int               `json:"count"`
	ByType map[string]string `json:"by_type"`
	Net    string            `json:"net"`
}

type CounterpartyTotalDTO struct {
	AccountID string `json:"account_id"`
	Phone     string `json:"phone"`
	Name      string `json:"name,omitempty"`
	Count     int    `json:"count"`
	Total     string `json:"total"`
	Net       string `json:"net"`
}

type SummaryDTO struct {
	Count             int                    `json:"count"`
	Total             string                 `json:"total"`
	Net               string                 `json:"net"`
	TotalByType       map[string]string      `json:"total_by_type"`
	Daily             []DailyTotalDTO        `json:"daily"`
	TopCounterparties []CounterpartyTotalDTO `json:"top_counterparties"`
	AvgTicket         string                 `json:"avg_ticket"`
}

type BulkResultDTO struct {
	ID          string          `json:"id"`
	OK          bool            `json:"ok"`
	Kind        string          `json:"kind,omitempty"`
	Error       string          `json:"error,omitempty"`
	Transaction *TransactionDTO `json:"transaction,omitempty"`
}

type ItemDTO struct {
	Name      string `json:"name"`
	Quantity  string `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	LineTotal string `json:"line_total"`
	ProductID string `json:"product_id,omitempty"`
}

type OrderDTO struct {
	ID             string    `json:"id"`
	ShopID         string    `json:"shop_id"`
	CustomerPhone  string    `json:"customer_phone"`
	CustomerID     string    `json:"customer_id,omitempty"`
	AccountID      string    `json:"account_id"`
	Items          []ItemDTO `json:"items"`
	Discount       string    `json:"discount"`
	DeliveryCharge string    `json:"delivery_charge"`
	TotalAmount    string    `json:"total_amount"`
	PaymentType    string    `json:"payment_type"`
	Status         string    `json:"status"`
	PriceVerified  bool      `json:"price_verified"`
	NeedsPriceChk  bool      `json:"needs_price_verification"`
	CollectedTxID  string    `json:"collected_transaction_id,omitempty"`
	CancelledBy    string    `json:"cancelled_by,omitempty"`
	CancelReason   string    `json:"cancel_reason,omitempty"`
	CreatedBy      string    `json:"created_by,omitempty"`
	CreatedAt      string    `json:"created_at"`
	UpdatedAt      string    `json:"updated_at"`
}

type ReconciliationDTO struct {
	OwnerID             string           `json:"owner_id"`
	CounterpartyPhone   string           `json:"counterparty_phone"`
	Linked              bool             `json:"linked"`
	Counterparty        *IdentityDTO     `json:"counterparty,omitempty"`
	MyAccount           *AccountDTO      `json:"my_account,omitempty"`
	CounterpartyAccount *AccountDTO      `json:"counterparty_account,omitempty"`
	MyEntries           []TransactionDTO `json:"my_entries"`
	TheirEntries        []RecordDTO      `json:"their_entries"`
	MyBalance           string           `json:"my_balance"`
	TotalGave           string           `json:"total_gave"`
	TotalTook           string           `json:"total_took"`
	TheirBalance        string           `json:"their_balance"`
	ImpliedBalance      string           `json:"implied_balance"`
	Discrepancy         string           `json:"discrepancy"`
	Matched             bool             `json:"matched"`
}

// RecordDTO is one entry from the counterparty's ledger. Kind tells a
// personal entry from a shop sale.
type RecordDTO struct {
	Kind        string         `json:"kind"`
	Signed      string         `json:"signed"`
	Transaction TransactionDTO `json:"transaction"`
}

type MismatchDTO struct {
	OwnerID           string `json:"owner_id"`
	CounterpartyPhone string `json:"counterparty_phone"`
	MyBalance         string `json:"my_balance"`
	TheirBalance      string `json:"their_balance"`
	Discrepancy       string `json:"discrepancy"`
}

type ScanRunDTO struct {
	ID          string        `json:"id"`
	Trigger     string        `json:"trigger"`
	Status      string        `json:"status"`
	Checked     int           `json:"checked"`
	Linked      int           `json:"linked"`
	Matched     int           `json:"matched"`
	Mismatches  []MismatchDTO `json:"mismatches"`
	Error       string        `json:"error,omitempty"`
	StartedAt   string        `json:"started_at"`
	CompletedAt string        `json:"completed_at,omitempty"`
}

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func money(d decimal.Decimal) string {
	return d.StringFixed(ledger.MoneyPlaces)
}

func moneyPtr(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := money(*d)
	return &s
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func timestampPtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return timestamp(*t)
}

func toIdentityDTO(id ledger.Identity) IdentityDTO {
	return IdentityDTO{
		ID:        id.ID,
		Phone:     id.Phone,
		Kind:      string(id.Kind),
		Name:      id.Name,
		CreatedAt: timestamp(id.CreatedAt),
	}
}

func toAccountDTO(a ledger.Account) AccountDTO {
	return AccountDTO{
		ID:                string(a.ID),
		Kind:              string(a.Kind),
		OwnerID:           a.OwnerID,
		CounterpartyPhone: a.CounterpartyPhone,
		CounterpartyName:  a.CounterpartyName,
		CounterpartyID:    a.CounterpartyID,
		CreditLimit:       moneyPtr(a.CreditLimit),
		CreatedAt:         timestamp(a.CreatedAt),
	}
}

func toTransactionDTO(tx ledger.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:           string(tx.ID),
		AccountID:    string(tx.AccountID),
		Amount:       money(tx.Amount),
		SignedAmount: money(tx.SignedAmount()),
		PaymentType:  string(tx.PaymentType),
		Source:       string(tx.Source),
		Notes:        tx.Notes,
		ReferenceID:  tx.ReferenceID,
		OriginID:     string(tx.OriginID),
		Version:      tx.Version,
		SupersededBy: string(tx.SupersededBy),
		CreatedAt:    timestamp(tx.CreatedAt),
		CreatedBy:    tx.CreatedBy,
		EditedAt:     timestampPtr(tx.EditedAt),
		EditedBy:     tx.EditedBy,
		DeletedAt:    timestampPtr(tx.DeletedAt),
		DeletedBy:    tx.DeletedBy,
	}
}

func toTransactionDTOs(txs []ledger.Transaction) []TransactionDTO {
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	return dtos
}

func toStatementDTO(st ledger.Statement) StatementDTO {
	dto := StatementDTO{
		AccountID:      string(st.AccountID),
		OpeningBalance: money(st.OpeningBalance),
		Lines:          make([]StatementLineDTO, len(st.Lines)),
		ClosingBalance: money(st.ClosingBalance),
	}
	if !st.Range.From.IsZero() {
		dto.From = timestamp(st.Range.From)
	}
	if !st.Range.To.IsZero() {
		dto.To = timestamp(st.Range.To)
	}
	for i, line := range st.Lines {
		dto.Lines[i] = StatementLineDTO{
			Transaction:    toTransactionDTO(line.Transaction),
			RunningBalance: money(line.RunningBalance),
		}
	}
	return dto
}

func toByTypeDTO(m map[ledger.PaymentType]decimal.Decimal) map[string]string {
	out := make(map[string]string, len(m))
	for pt, amt := range m {
		out[string(pt)] = money(amt)
	}
	return out
}

func toSummaryDTO(s ledger.Summary) SummaryDTO {
	dto := SummaryDTO{
		Count:             s.Count,
		Total:             money(s.Total),
		Net:               money(s.Net),
		TotalByType:       toByTypeDTO(s.TotalByType),
		Daily:             make([]DailyTotalDTO, len(s.Daily)),
		TopCounterparties: make([]CounterpartyTotalDTO, len(s.TopCounterparties)),
		AvgTicket:         money(s.AvgTicket),
	}
	for i, d := range s.Daily {
		dto.Daily[i] = DailyTotalDTO{Date: d.Date, Count: d.Count, ByType: toByTypeDTO(d.ByType), Net: money(d.Net)}
	}
	for i, c := range s.TopCounterparties {
		dto.TopCounterparties[i] = CounterpartyTotalDTO{
			AccountID: string(c.AccountID),
			Phone:     c.Phone,
			Name:      c.Name,
			Count:     c.Count,
			Total:     money(c.Total),
			Net:       money(c.Net),
		}
	}
	return dto
}

func toBulkResultDTOs(results []ledger.BulkResult) []BulkResultDTO {
	dtos := make([]BulkResultDTO, len(results))
	for i, r := range results {
		dtos[i] = BulkResultDTO{ID: string(r.ID), OK: r.OK, Kind: string(r.Kind), Error: r.Error}
		if r.Transaction != nil {
			tx := toTransactionDTO(*r.Transaction)
			dtos[i].Transaction = &tx
		}
	}
	return dtos
}

func toOrderDTO(o order.Order) OrderDTO {
	dto := OrderDTO{
		ID:             string(o.ID),
		ShopID:         o.ShopID,
		CustomerPhone:  o.CustomerPhone,
		CustomerID:     o.CustomerID,
		AccountID:      string(o.AccountID),
		Items:          make([]ItemDTO, len(o.Items)),
		Discount:       money(o.Discount),
		DeliveryCharge: money(o.DeliveryCharge),
		TotalAmount:    money(o.TotalAmount),
		PaymentType:    string(o.PaymentType),
		Status:         string(o.Status),
		PriceVerified:  o.PriceVerified,
		NeedsPriceChk:  o.NeedsPriceVerification(),
		CollectedTxID:  string(o.CollectedTxID),
		CancelledBy:    string(o.CancelledBy),
		CancelReason:   o.CancelReason,
		CreatedBy:      o.CreatedBy,
		CreatedAt:      timestamp(o.CreatedAt),
		UpdatedAt:      timestamp(o.UpdatedAt),
	}
	for i, it := range o.Items {
		dto.Items[i] = ItemDTO{
			Name:      it.Name,
			Quantity:  it.Quantity.String(),
			UnitPrice: money(it.UnitPrice),
			LineTotal: money(it.LineTotal),
			ProductID: it.ProductID,
		}
	}
	return dto
}

func toOrderDTOs(orders []order.Order) []OrderDTO {
	dtos := make([]OrderDTO, len(orders))
	for i, o := range orders {
		dtos[i] = toOrderDTO(o)
	}
	return dtos
}

func toItemInputs(items []ItemRequest) []order.ItemInput {
	out := make([]order.ItemInput, len(items))
	for i, it := range items {
		out[i] = order.ItemInput{
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			ProductID: it.ProductID,
		}
	}
	return out
}

func toReconciliationDTO(v reconcile.View) ReconciliationDTO {
	dto := ReconciliationDTO{
		OwnerID:           v.OwnerID,
		CounterpartyPhone: v.CounterpartyPhone,
		Linked:            v.Linked,
		MyEntries:         toTransactionDTOs(v.MyEntries),
		TheirEntries:      make([]RecordDTO, len(v.TeammateRecords)),
		MyBalance:         money(v.MyStats.Balance),
		TotalGave:         money(v.MyStats.TotalGave),
		TotalTook:         money(v.MyStats.TotalTook),
		TheirBalance:      money(v.TheirBalance),
		ImpliedBalance:    money(v.ImpliedBalance),
		Discrepancy:       money(v.Discrepancy),
		Matched:           v.Matched,
	}
	if v.Counterparty != nil {
		id := toIdentityDTO(*v.Counterparty)
		dto.Counterparty = &id
	}
	if v.MyAccount != nil {
		a := toAccountDTO(*v.MyAccount)
		dto.MyAccount = &a
	}
	if v.CounterpartyAccount != nil {
		a := toAccountDTO(*v.CounterpartyAccount)
		dto.CounterpartyAccount = &a
	}
	for i, rec := range v.TeammateRecords {
		kind := "personal_entry"
		if _, ok := rec.(reconcile.ShopSale); ok {
			kind = "shop_sale"
		}
		dto.TheirEntries[i] = RecordDTO{
			Kind:        kind,
			Signed:      money(rec.Signed()),
			Transaction: toTransactionDTO(rec.Transaction()),
		}
	}
	return dto
}

func toScanRunDTO(r reconcile.Run) ScanRunDTO {
	dto := ScanRunDTO{
		ID:          r.ID,
		Trigger:     r.Trigger,
		Status:      string(r.Status),
		Checked:     r.Result.Checked,
		Linked:      r.Result.Linked,
		Matched:     r.Result.Matched,
		Mismatches:  make([]MismatchDTO, len(r.Result.Mismatches)),
		Error:       r.Error,
		StartedAt:   timestamp(r.StartedAt),
		CompletedAt: timestampPtr(r.CompletedAt),
	}
	for i, m := range r.Result.Mismatches {
		dto.Mismatches[i] = MismatchDTO{
			OwnerID:           m.OwnerID,
			CounterpartyPhone: m.CounterpartyPhone,
			MyBalance:         money(m.MyBalance),
			TheirBalance:      money(m.TheirBalance),
			Discrepancy:       money(m.Discrepancy),
		}
	}
	return dto
}
