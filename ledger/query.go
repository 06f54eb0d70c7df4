/*
query.go - Paged, filtered transaction listing

PURPOSE:
  Lists an account's entries newest first for the UI and for export. Pages
  are addressed by an opaque keyset cursor, not an offset.

CURSOR:
  The cursor encodes the (CreatedAt, OriginSeq) position of the last item
  returned. The next page holds entries strictly older than that position.
  A new entry is always newer than every existing one, and an edit keeps
  its entry's position, so a page that was already returned never repeats
  or skips an item when writes land between requests.

FILTERS:
  Range         CreatedAt within [From, To)
  PaymentTypes  any of
  Min/MaxAmount inclusive bounds on Amount
  Search        case-insensitive match on notes and reference; terms of four
                or more letters also match words one edit away ("chawal"
                finds "chaval")

READ-ONLY:
  Query never writes. It checks ctx between rows and returns ctx.Err() when
  the caller cancels.
*/
package ledger

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/shopspring/decimal"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 500

	cursorVersion   = "v1"
	fuzzyMinTermLen = 4
)

type Filter struct {
	Range          DateRange
	PaymentTypes   []PaymentType
	MinAmount      *decimal.Decimal
	MaxAmount      *decimal.Decimal
	Search         string
	Cursor         string
	Limit          int
	IncludeDeleted bool
}

type Page struct {
	Items      []Transaction
	NextCursor string // empty on the last page
}

func (f Filter) validate() error {
	if f.Limit < 0 {
		return Invalid("limit", "must not be negative")
	}
	if f.MinAmount != nil && f.MaxAmount != nil && f.MinAmount.GreaterThan(*f.MaxAmount) {
		return Invalid("amountRange", "minimum %s is above maximum %s", f.MinAmount, f.MaxAmount)
	}
	if !f.Range.From.IsZero() && !f.Range.To.IsZero() && !f.Range.From.Before(f.Range.To) {
		return Invalid("dateRange", "from must be before to")
	}
	for _, pt := range f.PaymentTypes {
		if pt.Sign() == 0 {
			return Invalid("paymentTypes", "unknown payment type %q", pt)
		}
	}
	return nil
}

func (f Filter) pageSize() int {
	switch {
	case f.Limit == 0:
		return DefaultPageSize
	case f.Limit > MaxPageSize:
		return MaxPageSize
	}
	return f.Limit
}

// Query returns one page of the account's entries, newest first.
func (l *Ledger) Query(ctx context.Context, id AccountID, f Filter) (Page, error) {
	if err := f.validate(); err != nil {
		return Page{}, err
	}
	var after *cursor
	if f.Cursor != "" {
		c, err := decodeCursor(f.Cursor)
		if err != nil {
			return Page{}, err
		}
		after = &c
	}

	ctx, cancel := context.WithTimeout(ctx, l.opTimeout)
	defer cancel()
	if _, err := l.store.GetAccount(ctx, id); err != nil {
		return Page{}, storeErr("resolve account", err)
	}
	txs, err := l.store.Load(ctx, id)
	if err != nil {
		return Page{}, storeErr("load transactions", err)
	}

	m := newMatcher(f)
	size := f.pageSize()
	page := Page{Items: make([]Transaction, 0, min(size, len(txs)))}
	for _, tx := range sortedNewestFirst(txs) {
		if err := ctx.Err(); err != nil {
			return Page{}, err
		}
		if after != nil && !after.isAfter(tx) {
			continue
		}
		if !m.match(tx) {
			continue
		}
		if len(page.Items) == size {
			last := page.Items[len(page.Items)-1]
			page.NextCursor = cursorOf(last).encode()
			break
		}
		page.Items = append(page.Items, tx)
	}
	return page, nil
}

// =============================================================================
// MATCHING
// =============================================================================

type matcher struct {
	f     Filter
	types map[PaymentType]bool
	terms []string
}

func newMatcher(f Filter) matcher {
	m := matcher{f: f}
	if len(f.PaymentTypes) > 0 {
		m.types = make(map[PaymentType]bool, len(f.PaymentTypes))
		for _, pt := range f.PaymentTypes {
			m.types[pt] = true
		}
	}
	m.terms = strings.Fields(strings.ToLower(f.Search))
	return m
}

func (m matcher) match(tx Transaction) bool {
	if tx.SupersededBy != "" {
		return false
	}
	if tx.DeletedAt != nil && !m.f.IncludeDeleted {
		return false
	}
	if !m.f.Range.Contains(tx.CreatedAt) {
		return false
	}
	if m.types != nil && !m.types[tx.PaymentType] {
		return false
	}
	if m.f.MinAmount != nil && tx.Amount.LessThan(*m.f.MinAmount) {
		return false
	}
	if m.f.MaxAmount != nil && tx.Amount.GreaterThan(*m.f.MaxAmount) {
		return false
	}
	return m.matchText(tx)
}

// matchText requires every search term to match.
func (m matcher) matchText(tx Transaction) bool {
	if len(m.terms) == 0 {
		return true
	}
	text := strings.ToLower(tx.Notes + " " + tx.ReferenceID)
	words := strings.Fields(text)
	for _, term := range m.terms {
		if strings.Contains(text, term) {
			continue
		}
		if len(term) < fuzzyMinTermLen || !fuzzyContains(words, term) {
			return false
		}
	}
	return true
}

func fuzzyContains(words []string, term string) bool {
	for _, w := range words {
		if levenshtein.ComputeDistance(w, term) <= 1 {
			return true
		}
	}
	return false
}

// =============================================================================
// ORDERING AND CURSOR
// =============================================================================

func sortedOldestFirst(txs []Transaction) []Transaction {
	out := append([]Transaction(nil), txs...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].before(out[j]) })
	return out
}

func sortedNewestFirst(txs []Transaction) []Transaction {
	out := append([]Transaction(nil), txs...)
	sort.SliceStable(out, func(i, j int) bool { return out[j].before(out[i]) })
	return out
}

type cursor struct {
	createdAt int64 // unix nanos
	originSeq int64
}

func cursorOf(tx Transaction) cursor {
	return cursor{createdAt: tx.CreatedAt.UnixNano(), originSeq: tx.OriginSeq}
}

// isAfter reports whether tx comes after the cursor in newest-first order,
// i.e. is strictly older than the cursor position.
func (c cursor) isAfter(tx Transaction) bool {
	n := tx.CreatedAt.UnixNano()
	if n != c.createdAt {
		return n < c.createdAt
	}
	return tx.OriginSeq < c.originSeq
}

func (c cursor) encode() string {
	raw := fmt.Sprintf("%s:%d:%d", cursorVersion, c.createdAt, c.originSeq)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(s string) (cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return cursor{}, Invalid("cursor", "malformed")
	}
	parts := strings.Split(string(raw), ":")
	if len(parts) != 3 || parts[0] != cursorVersion {
		return cursor{}, Invalid("cursor", "malformed")
	}
	nanos, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return cursor{}, Invalid("cursor", "malformed")
	}
	seq, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return cursor{}, Invalid("cursor", "malformed")
	}
	return cursor{createdAt: nanos, originSeq: seq}, nil
}

