package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/text/language"

	"github.com/udhaar/credit-ledger/ledger"
)

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// AppendTransaction records a new entry. A 409 with kind
// credit_limit_exceeded carries the override details; resend with
// bypass=true to admit it.
// POST /api/accounts/{id}/transactions
func (h *Handler) AppendTransaction(w http.ResponseWriter, r *http.Request) {
	var req AppendTransactionRequest
	if !h.decode(w, r, &req) {
		return
	}
	tx, err := h.ledger.Append(r.Context(), ledger.AppendInput{
		AccountID:      accountParam(r),
		Amount:         req.Amount,
		PaymentType:    ledger.PaymentType(req.PaymentType),
		Source:         ledger.Source(req.Source),
		Notes:          req.Notes,
		ReferenceID:    req.ReferenceID,
		IdempotencyKey: req.IdempotencyKey,
		CreatedBy:      actor(r),
		Bypass:         req.Bypass,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(tx))
}

// QueryTransactions returns one page of entries, newest first.
// GET /api/accounts/{id}/transactions?from=&to=&types=UDHAAR,CASH&min=&max=&q=&cursor=&limit=&include_deleted=
func (h *Handler) QueryTransactions(w http.ResponseWriter, r *http.Request) {
	f, err := h.parseFilter(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	page, err := h.ledger.Query(r.Context(), accountParam(r), f)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PageDTO{Items: toTransactionDTOs(page.Items), NextCursor: page.NextCursor})
}

func (h *Handler) parseFilter(r *http.Request) (ledger.Filter, error) {
	var (
		f   ledger.Filter
		err error
	)
	q := r.URL.Query()
	if f.Range, err = parseRange(r, h.ledger.Location()); err != nil {
		return f, err
	}
	if s := q.Get("types"); s != "" {
		for _, t := range strings.Split(s, ",") {
			f.PaymentTypes = append(f.PaymentTypes, ledger.PaymentType(strings.ToUpper(strings.TrimSpace(t))))
		}
	}
	if f.MinAmount, err = parseDecimalParam(r, "min"); err != nil {
		return f, err
	}
	if f.MaxAmount, err = parseDecimalParam(r, "max"); err != nil {
		return f, err
	}
	if f.Limit, err = parseIntParam(r, "limit"); err != nil {
		return f, err
	}
	if f.IncludeDeleted, err = parseBoolParam(r, "include_deleted"); err != nil {
		return f, err
	}
	f.Search = q.Get("q")
	f.Cursor = q.Get("cursor")
	return f, nil
}

// GetTransaction returns one version, live or not.
// GET /api/transactions/{id}
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.ledger.Get(r.Context(), txParam(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(tx))
}

// EditTransaction writes a new version and supersedes the current one.
// PATCH /api/transactions/{id}
func (h *Handler) EditTransaction(w http.ResponseWriter, r *http.Request) {
	var req EditTransactionRequest
	if !h.decode(w, r, &req) {
		return
	}
	tx, err := h.ledger.Edit(r.Context(), txParam(r), toPatch(req, actor(r)))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(tx))
}

// DeleteTransaction soft-deletes an entry. It stays readable.
// DELETE /api/transactions/{id}
func (h *Handler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.ledger.SoftDelete(r.Context(), txParam(r), actor(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(tx))
}

// TransactionHistory returns every version of an entry, oldest first.
// GET /api/transactions/{id}/history
func (h *Handler) TransactionHistory(w http.ResponseWriter, r *http.Request) {
	chain, err := h.ledger.History(r.Context(), txParam(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": toTransactionDTOs(chain)})
}

// BulkEdit applies one patch to many entries. Per-item outcomes are
// returned; one failure does not undo the others.
// POST /api/transactions/bulk-edit
func (h *Handler) BulkEdit(w http.ResponseWriter, r *http.Request) {
	var req BulkEditRequest
	if !h.decode(w, r, &req) {
		return
	}
	results, err := h.ledger.BulkEdit(r.Context(), txIDs(req.IDs), toPatch(req.EditTransactionRequest, actor(r)))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeBulk(w, results)
}

// BulkDelete soft-deletes many entries.
// POST /api/transactions/bulk-delete
func (h *Handler) BulkDelete(w http.ResponseWriter, r *http.Request) {
	var req BulkDeleteRequest
	if !h.decode(w, r, &req) {
		return
	}
	results, err := h.ledger.BulkDelete(r.Context(), txIDs(req.IDs), actor(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeBulk(w, results)
}

func writeBulk(w http.ResponseWriter, results []ledger.BulkResult) {
	failed := 0
	for _, res := range results {
		if !res.OK {
			failed++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results":   toBulkResultDTOs(results),
		"succeeded": len(results) - failed,
		"failed":    failed,
	})
}

// =============================================================================
// REPORTING HANDLERS
// =============================================================================

// GetBalance returns the derived balance and the limit in force.
// GET /api/accounts/{id}/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := accountParam(r)
	bal, err := h.ledger.CurrentBalance(ctx, id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	limit, err := h.ledger.EffectiveCreditLimit(ctx, id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{
		AccountID:   string(id),
		Balance:     money(bal),
		Direction:   string(ledger.DirectionOf(bal)),
		CreditLimit: moneyPtr(limit),
	})
}

// GetStatement returns live entries with a running balance.
// GET /api/accounts/{id}/statement?from=&to=&format=text
func (h *Handler) GetStatement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := accountParam(r)
	dr, err := parseRange(r, h.ledger.Location())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	st, err := h.ledger.Statement(ctx, id, dr)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if r.URL.Query().Get("format") != "text" {
		writeJSON(w, http.StatusOK, toStatementDTO(st))
		return
	}
	acct, err := h.ledger.GetAccount(ctx, id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(ledger.RenderStatement(acct, st, requestLanguage(r), h.ledger.Location())))
}

// GetSnapshot returns what a notification needs: balance, direction and
// the rendered entry list.
// GET /api/accounts/{id}/snapshot
func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := accountParam(r)
	snap, err := h.ledger.Snapshot(ctx, id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	acct, err := h.ledger.GetAccount(ctx, id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	st, err := h.ledger.Statement(ctx, id, ledger.DateRange{})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SnapshotDTO{
		AccountID: string(snap.AccountID),
		Balance:   money(snap.Balance),
		Direction: string(snap.Direction),
		AsOf:      timestamp(snap.AsOf),
		Text:      ledger.RenderStatement(acct, st, requestLanguage(r), h.ledger.Location()),
	})
}

// AccountSummary aggregates one account.
// GET /api/accounts/{id}/summary?from=&to=
func (h *Handler) AccountSummary(w http.ResponseWriter, r *http.Request) {
	dr, err := parseRange(r, h.ledger.Location())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	s, err := h.ledger.Summarize(r.Context(), accountParam(r), dr)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(s))
}

// OwnerSummary aggregates every account an owner keeps, e.g. a shop's
// whole customer book.
// GET /api/owners/{ownerID}/summary?from=&to=
func (h *Handler) OwnerSummary(w http.ResponseWriter, r *http.Request) {
	dr, err := parseRange(r, h.ledger.Location())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	s, err := h.ledger.SummarizeOwner(r.Context(), chi.URLParam(r, "ownerID"), dr)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(s))
}

// =============================================================================
// HELPERS
// =============================================================================

func txParam(r *http.Request) ledger.TransactionID {
	return ledger.TransactionID(chi.URLParam(r, "id"))
}

func txIDs(ids []string) []ledger.TransactionID {
	out := make([]ledger.TransactionID, len(ids))
	for i, id := range ids {
		out[i] = ledger.TransactionID(id)
	}
	return out
}

func toPatch(req EditTransactionRequest, by string) ledger.Patch {
	p := ledger.Patch{
		Amount:   req.Amount,
		Notes:    req.Notes,
		Bypass:   req.Bypass,
		EditedBy: by,
	}
	if req.PaymentType != nil {
		pt := ledger.PaymentType(*req.PaymentType)
		p.PaymentType = &pt
	}
	return p
}

var supportedLanguages = language.NewMatcher([]language.Tag{
	language.MustParse("en-IN"),
	language.English,
	language.Hindi,
})

// requestLanguage picks the number format from Accept-Language.
func requestLanguage(r *http.Request) language.Tag {
	tags, _, err := language.ParseAcceptLanguage(r.Header.Get("Accept-Language"))
	if err != nil || len(tags) == 0 {
		return language.MustParse("en-IN")
	}
	tag, _, _ := supportedLanguages.Match(tags...)
	return tag
}
