package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// =============================================================================
// RECONCILIATION HANDLERS
// =============================================================================

// defaultRunLimit bounds GET /api/reconciliation/runs without ?limit=.
const defaultRunLimit = 20

// Reconcile compares the owner's ledger about a phone with that phone's
// own ledger about the owner. Read only.
// GET /api/owners/{ownerID}/reconciliation/{phone}
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	v, err := h.reconciler.View(r.Context(), chi.URLParam(r, "ownerID"), chi.URLParam(r, "phone"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReconciliationDTO(v))
}

// RunScan sweeps every linked personal ledger now. 409 while a scan is
// already running.
// POST /api/reconciliation/runs
func (h *Handler) RunScan(w http.ResponseWriter, r *http.Request) {
	run, err := h.scanner.RunNow(r.Context(), TriggerManual)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toScanRunDTO(run))
}

// ListScanRuns returns recent scans, newest first.
// GET /api/reconciliation/runs?limit=
func (h *Handler) ListScanRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := parseIntParam(r, "limit")
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if limit <= 0 {
		limit = defaultRunLimit
	}
	runs, err := h.scanner.Runs(r.Context(), limit)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	dtos := make([]ScanRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toScanRunDTO(run)
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": dtos})
}
