/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Loads small, self-checking fixtures that walk through the behaviors a
  shop owner sees first: a credit-limit refusal and override, two people
  agreeing on a loan, and an order collected on udhaar.

AVAILABLE SCENARIOS (scenarios/*.yaml):
  credit-limit:        Limit 1000, UDHAAR 500 then 600 refused, override
  personal-reconcile:  GAVE 200 on one side, TOOK 200 on the other, matched
  order-collect:       150 - 20 + 10 = 140 posted on collection

HOW SCENARIOS WORK:
 1. Register identities
 2. Open accounts (with credit limits)
 3. Append entries; each step may expect an error kind and a balance
 4. Check out orders and advance them through the lifecycle
 5. Run reconciliation checks
 Any expectation that does not hold aborts the load with an error.

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "credit-limit"}

ADDING NEW SCENARIOS:
  Drop a YAML file into scenarios/. It is embedded at build time.

NOTE:
  Scenarios do not reset anything. Loading one whose identities already
  exist is refused with 409.

SEE ALSO:
  - handlers.go: Handler wiring
*/
package api

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/udhaar/credit-ledger/ledger"
	"github.com/udhaar/credit-ledger/order"
)

//go:embed scenarios/*.yaml
var scenarioFiles embed.FS

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type Scenario struct {
	ID          string             `yaml:"id"`
	Name        string             `yaml:"name"`
	Description string             `yaml:"description"`
	Identities  []ScenarioIdentity `yaml:"identities"`
	Accounts    []ScenarioAccount  `yaml:"accounts"`
	Steps       []ScenarioStep     `yaml:"steps"`
	Orders      []ScenarioOrder    `yaml:"orders"`
	Reconcile   []ScenarioCheck    `yaml:"reconcile"`
}

type ScenarioIdentity struct {
	ID    string `yaml:"id"`
	Kind  string `yaml:"kind"`
	Phone string `yaml:"phone"`
	Name  string `yaml:"name"`
}

type ScenarioAccount struct {
	Ref         string `yaml:"ref"`
	Kind        string `yaml:"kind"`
	Owner       string `yaml:"owner"`
	Phone       string `yaml:"phone"`
	Name        string `yaml:"name"`
	CreditLimit string `yaml:"credit_limit"`
}

type ScenarioStep struct {
	Account       string `yaml:"account"`
	Type          string `yaml:"type"`
	Amount        string `yaml:"amount"`
	Notes         string `yaml:"notes"`
	Bypass        bool   `yaml:"bypass"`
	ExpectError   string `yaml:"expect_error"`
	ExpectBalance string `yaml:"expect_balance"`
}

type ScenarioItem struct {
	Name      string `yaml:"name"`
	Quantity  string `yaml:"quantity"`
	UnitPrice string `yaml:"unit_price"`
	ProductID string `yaml:"product_id"`
}

type ScenarioOrder struct {
	Ref            string         `yaml:"ref"`
	Shop           string         `yaml:"shop"`
	CustomerPhone  string         `yaml:"customer_phone"`
	CustomerName   string         `yaml:"customer_name"`
	Items          []ScenarioItem `yaml:"items"`
	Discount       string         `yaml:"discount"`
	DeliveryCharge string         `yaml:"delivery_charge"`
	PaymentType    string         `yaml:"payment_type"`
	AdvanceTo      string         `yaml:"advance_to"`
	ExpectTotal    string         `yaml:"expect_total"`
	ExpectBalance  string         `yaml:"expect_balance"`
}

type ScenarioCheck struct {
	Owner              string `yaml:"owner"`
	Phone              string `yaml:"phone"`
	ExpectMatched      bool   `yaml:"expect_matched"`
	ExpectMyBalance    string `yaml:"expect_my_balance"`
	ExpectTheirBalance string `yaml:"expect_their_balance"`
}

// ScenarioResult reports what a load created.
type ScenarioResult struct {
	ScenarioID string            `json:"scenario_id"`
	Accounts   map[string]string `json:"accounts"`
	Orders     map[string]string `json:"orders"`
	Steps      []string          `json:"steps"`
}

// ErrScenarioLoaded is returned when a scenario's identities already exist.
var ErrScenarioLoaded = fmt.Errorf("scenario already loaded: %w", ledger.ErrDuplicateAccount)

var loadScenarios = sync.OnceValues(func() (map[string]Scenario, error) {
	entries, err := scenarioFiles.ReadDir("scenarios")
	if err != nil {
		return nil, err
	}
	out := make(map[string]Scenario, len(entries))
	for _, e := range entries {
		data, err := scenarioFiles.ReadFile(path.Join("scenarios", e.Name()))
		if err != nil {
			return nil, err
		}
		var s Scenario
		if err := yaml.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("scenario %s: %w", e.Name(), err)
		}
		if s.ID == "" {
			return nil, fmt.Errorf("scenario %s: missing id", e.Name())
		}
		out[s.ID] = s
	}
	return out, nil
})

// =============================================================================
// HANDLERS
// =============================================================================

// ListScenarios returns the available fixtures.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	all, err := loadScenarios()
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	dtos := make([]ScenarioDTO, 0, len(all))
	for _, s := range all {
		dtos = append(dtos, ScenarioDTO{ID: s.ID, Name: s.Name, Description: s.Description})
	}
	sort.Slice(dtos, func(i, j int) bool { return dtos[i].ID < dtos[j].ID })
	writeJSON(w, http.StatusOK, map[string]any{"scenarios": dtos})
}

// LoadScenario runs one fixture.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}
	all, err := loadScenarios()
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	s, ok := all[req.ScenarioID]
	if !ok {
		h.writeDomainError(w, r, fmt.Errorf("scenario %q: %w", req.ScenarioID, ledger.ErrNotFound))
		return
	}
	res, err := h.runScenario(r.Context(), s)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// =============================================================================
// LOADER
// =============================================================================

func (h *Handler) runScenario(ctx context.Context, s Scenario) (ScenarioResult, error) {
	res := ScenarioResult{
		ScenarioID: s.ID,
		Accounts:   make(map[string]string),
		Orders:     make(map[string]string),
	}
	const by = "scenario"

	for _, ident := range s.Identities {
		_, err := h.ledger.ResolvePhone(ctx, ident.Phone)
		if err == nil {
			return res, ErrScenarioLoaded
		}
		if !errors.Is(err, ledger.ErrNotFound) {
			return res, err
		}
		if _, err := h.ledger.RegisterIdentity(ctx, ledger.Identity{
			ID:    ident.ID,
			Kind:  ledger.IdentityKind(ident.Kind),
			Phone: ident.Phone,
			Name:  ident.Name,
		}); err != nil {
			return res, fmt.Errorf("identity %s: %w", ident.ID, err)
		}
		res.Steps = append(res.Steps, fmt.Sprintf("registered %s %s", ident.Kind, ident.Name))
	}

	accounts := make(map[string]ledger.AccountID, len(s.Accounts))
	for _, a := range s.Accounts {
		limit, err := optionalDecimal(a.CreditLimit)
		if err != nil {
			return res, fmt.Errorf("account %s credit_limit: %w", a.Ref, err)
		}
		acct, err := h.ledger.OpenAccount(ctx, ledger.OpenAccountInput{
			Kind:              ledger.AccountKind(a.Kind),
			OwnerID:           a.Owner,
			CounterpartyPhone: a.Phone,
			CounterpartyName:  a.Name,
			CreditLimit:       limit,
		})
		if err != nil {
			return res, fmt.Errorf("account %s: %w", a.Ref, err)
		}
		accounts[a.Ref] = acct.ID
		res.Accounts[a.Ref] = string(acct.ID)
	}

	for i, st := range s.Steps {
		id, ok := accounts[st.Account]
		if !ok {
			return res, fmt.Errorf("step %d: unknown account ref %q", i+1, st.Account)
		}
		amount, err := decimal.NewFromString(st.Amount)
		if err != nil {
			return res, fmt.Errorf("step %d amount: %w", i+1, err)
		}
		_, err = h.ledger.Append(ctx, ledger.AppendInput{
			AccountID:   id,
			Amount:      amount,
			PaymentType: ledger.PaymentType(st.Type),
			Notes:       st.Notes,
			CreatedBy:   by,
			Bypass:      st.Bypass,
		})
		if got := string(ledger.KindOf(err)); got != st.ExpectError {
			return res, fmt.Errorf("step %d: expected error %q, got %q (%v)", i+1, st.ExpectError, got, err)
		}
		if err := h.expectBalance(ctx, id, st.ExpectBalance); err != nil {
			return res, fmt.Errorf("step %d: %w", i+1, err)
		}
		outcome := "ok"
		if st.ExpectError != "" {
			outcome = st.ExpectError
		}
		res.Steps = append(res.Steps, fmt.Sprintf("%s %s on %s: %s", st.Type, st.Amount, st.Account, outcome))
	}

	for _, so := range s.Orders {
		o, err := h.scenarioOrder(ctx, so, by)
		if err != nil {
			return res, fmt.Errorf("order %s: %w", so.Ref, err)
		}
		res.Orders[so.Ref] = string(o.ID)
		res.Steps = append(res.Steps, fmt.Sprintf("order %s %s total %s", so.Ref, o.Status, money(o.TotalAmount)))
	}

	for _, c := range s.Reconcile {
		v, err := h.reconciler.View(ctx, c.Owner, c.Phone)
		if err != nil {
			return res, fmt.Errorf("reconcile %s/%s: %w", c.Owner, c.Phone, err)
		}
		if v.Matched != c.ExpectMatched {
			return res, fmt.Errorf("reconcile %s/%s: matched = %t, expected %t", c.Owner, c.Phone, v.Matched, c.ExpectMatched)
		}
		if err := expectEqual("my balance", v.MyStats.Balance, c.ExpectMyBalance); err != nil {
			return res, err
		}
		if err := expectEqual("their balance", v.TheirBalance, c.ExpectTheirBalance); err != nil {
			return res, err
		}
		res.Steps = append(res.Steps, fmt.Sprintf("reconciled %s with %s: matched=%t", c.Owner, c.Phone, v.Matched))
	}

	h.logger.Info("scenario loaded", slog.String("scenario", s.ID), slog.Int("steps", len(res.Steps)))
	return res, nil
}

func (h *Handler) scenarioOrder(ctx context.Context, so ScenarioOrder, by string) (order.Order, error) {
	in := order.CheckoutInput{
		ShopID:        so.Shop,
		CustomerPhone: so.CustomerPhone,
		CustomerName:  so.CustomerName,
		PaymentType:   ledger.PaymentType(so.PaymentType),
		CreatedBy:     by,
	}
	var err error
	if in.Discount, err = decimalOrZero(so.Discount); err != nil {
		return order.Order{}, err
	}
	if in.DeliveryCharge, err = decimalOrZero(so.DeliveryCharge); err != nil {
		return order.Order{}, err
	}
	for _, it := range so.Items {
		qty, err := decimal.NewFromString(it.Quantity)
		if err != nil {
			return order.Order{}, fmt.Errorf("item %s quantity: %w", it.Name, err)
		}
		price, err := decimal.NewFromString(it.UnitPrice)
		if err != nil {
			return order.Order{}, fmt.Errorf("item %s unit_price: %w", it.Name, err)
		}
		in.Items = append(in.Items, order.ItemInput{Name: it.Name, Quantity: qty, UnitPrice: price, ProductID: it.ProductID})
	}

	o, err := h.orders.Checkout(ctx, in)
	if err != nil {
		return order.Order{}, err
	}
	if err := expectEqual("total", o.TotalAmount, so.ExpectTotal); err != nil {
		return order.Order{}, err
	}

	lifecycle := []struct {
		status order.Status
		step   func() (order.Order, error)
	}{
		{order.StatusAccepted, func() (order.Order, error) { return h.orders.Accept(ctx, o.ID) }},
		{order.StatusReady, func() (order.Order, error) { return h.orders.MarkReady(ctx, o.ID) }},
		{order.StatusCollected, func() (order.Order, error) {
			return h.orders.Collect(ctx, o.ID, order.CollectInput{By: by})
		}},
	}
	target := order.Status(so.AdvanceTo)
	for _, p := range lifecycle {
		if target == "" || o.Status == target {
			break
		}
		if o, err = p.step(); err != nil {
			return order.Order{}, err
		}
	}
	if target != "" && o.Status != target {
		return order.Order{}, fmt.Errorf("cannot advance to %s", target)
	}
	if err := h.expectBalance(ctx, o.AccountID, so.ExpectBalance); err != nil {
		return order.Order{}, err
	}
	return o, nil
}

func (h *Handler) expectBalance(ctx context.Context, id ledger.AccountID, want string) error {
	if want == "" {
		return nil
	}
	got, err := h.ledger.CurrentBalance(ctx, id)
	if err != nil {
		return err
	}
	return expectEqual("balance", got, want)
}

func expectEqual(what string, got decimal.Decimal, want string) error {
	if want == "" {
		return nil
	}
	w, err := decimal.NewFromString(want)
	if err != nil {
		return fmt.Errorf("expected %s: %w", what, err)
	}
	if !got.Equal(w) {
		return fmt.Errorf("%s = %s, expected %s", what, money(got), money(w))
	}
	return nil
}

func optionalDecimal(s string) (*decimal.Decimal, error) {
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func decimalOrZero(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
