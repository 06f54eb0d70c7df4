package ledger

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
)

// TopCounterpartyCount bounds Summary.TopCounterparties.
const TopCounterpartyCount = 5

// =============================================================================
// SUMMARY - single pass aggregates for reporting
// =============================================================================

// Summary aggregates live entries in a range. Nothing here is stored; every
// field is rebuilt from the log on each call.
type Summary struct {
	Count             int
	Total             decimal.Decimal // gross, unsigned
	Net               decimal.Decimal // signed, i.e. balance movement
	TotalByType       map[PaymentType]decimal.Decimal
	Daily             []DailyTotal
	TopCounterparties []CounterpartyTotal
	AvgTicket         decimal.Decimal
}

type DailyTotal struct {
	Date   string // YYYY-MM-DD in the ledger's location
	Count  int
	ByType map[PaymentType]decimal.Decimal
	Net    decimal.Decimal
}

type CounterpartyTotal struct {
	AccountID AccountID
	Phone     string
	Name      string
	Count     int
	Total     decimal.Decimal
	Net       decimal.Decimal
}

// Summarize aggregates one account's live entries within r.
func (l *Ledger) Summarize(ctx context.Context, id AccountID, r DateRange) (Summary, error) {
	ctx, cancel := context.WithTimeout(ctx, l.opTimeout)
	defer cancel()
	acct, err := l.store.GetAccount(ctx, id)
	if err != nil {
		return Summary{}, storeErr("resolve account", err)
	}
	txs, err := l.store.Load(ctx, id)
	if err != nil {
		return Summary{}, storeErr("load transactions", err)
	}
	agg := l.newAggregator(r)
	if err := agg.addAll(ctx, acct, txs); err != nil {
		return Summary{}, err
	}
	return agg.finish(), nil
}

// SummarizeOwner aggregates every account of ownerID, e.g. a shop's whole
// customer book.
func (l *Ledger) SummarizeOwner(ctx context.Context, ownerID string, r DateRange) (Summary, error) {
	ctx, cancel := context.WithTimeout(ctx, l.opTimeout)
	defer cancel()
	accts, err := l.store.ListAccounts(ctx, ownerID)
	if err != nil {
		return Summary{}, storeErr("list accounts", err)
	}
	agg := l.newAggregator(r)
	for _, acct := range accts {
		txs, err := l.store.Load(ctx, acct.ID)
		if err != nil {
			return Summary{}, storeErr("load transactions", err)
		}
		if err := agg.addAll(ctx, acct, txs); err != nil {
			return Summary{}, err
		}
	}
	return agg.finish(), nil
}

type aggregator struct {
	l     *Ledger
	r     DateRange
	s     Summary
	days  map[string]*DailyTotal
	peers map[AccountID]*CounterpartyTotal
}

func (l *Ledger) newAggregator(r DateRange) *aggregator {
	return &aggregator{
		l: l,
		r: r,
		s: Summary{
			Total:       decimal.Zero,
			Net:         decimal.Zero,
			TotalByType: make(map[PaymentType]decimal.Decimal),
			AvgTicket:   decimal.Zero,
		},
		days:  make(map[string]*DailyTotal),
		peers: make(map[AccountID]*CounterpartyTotal),
	}
}

func (a *aggregator) addAll(ctx context.Context, acct Account, txs []Transaction) error {
	for _, tx := range txs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !tx.Live() || !a.r.Contains(tx.CreatedAt) {
			continue
		}
		a.add(acct, tx)
	}
	return nil
}

func (a *aggregator) add(acct Account, tx Transaction) {
	signed := tx.SignedAmount()

	a.s.Count++
	a.s.Total = a.s.Total.Add(tx.Amount)
	a.s.Net = a.s.Net.Add(signed)
	a.s.TotalByType[tx.PaymentType] = a.s.TotalByType[tx.PaymentType].Add(tx.Amount)

	date := tx.CreatedAt.In(a.l.loc).Format("2006-01-02")
	d, ok := a.days[date]
	if !ok {
		d = &DailyTotal{Date: date, ByType: make(map[PaymentType]decimal.Decimal), Net: decimal.Zero}
		a.days[date] = d
	}
	d.Count++
	d.ByType[tx.PaymentType] = d.ByType[tx.PaymentType].Add(tx.Amount)
	d.Net = d.Net.Add(signed)

	p, ok := a.peers[acct.ID]
	if !ok {
		p = &CounterpartyTotal{
			AccountID: acct.ID,
			Phone:     acct.CounterpartyPhone,
			Name:      acct.CounterpartyName,
			Total:     decimal.Zero,
			Net:       decimal.Zero,
		}
		a.peers[acct.ID] = p
	}
	p.Count++
	p.Total = p.Total.Add(tx.Amount)
	p.Net = p.Net.Add(signed)
}

func (a *aggregator) finish() Summary {
	s := a.s
	if s.Count > 0 {
		s.AvgTicket = s.Total.Div(decimal.NewFromInt(int64(s.Count))).Round(MoneyPlaces)
	}

	s.Daily = make([]DailyTotal, 0, len(a.days))
	for _, d := range a.days {
		s.Daily = append(s.Daily, *d)
	}
	sort.Slice(s.Daily, func(i, j int) bool { return s.Daily[i].Date < s.Daily[j].Date })

	peers := make([]CounterpartyTotal, 0, len(a.peers))
	for _, p := range a.peers {
		peers = append(peers, *p)
	}
	sort.Slice(peers, func(i, j int) bool {
		if !peers[i].Total.Equal(peers[j].Total) {
			return peers[i].Total.GreaterThan(peers[j].Total)
		}
		return peers[i].Phone < peers[j].Phone
	})
	if len(peers) > TopCounterpartyCount {
		peers = peers[:TopCounterpartyCount]
	}
	s.TopCounterparties = peers
	return s
}
