/*
handlers.go - HTTP API handlers for the storefront engine

PURPOSE:
  Exposes the ledger and stock engine via REST. Handles HTTP
  request/response, JSON serialization, and delegates to the coordinator.

ENDPOINTS:
  Catalog:
    GET    /api/products               List products
    POST   /api/products               Create product
    GET    /api/products/{code}        Get product
    PUT    /api/products/{code}        Update product
    DELETE /api/products/{code}        Delete product (two-step confirm)
    POST   /api/products/{code}/stock  Ingest stock lines
    GET    /api/products/{code}/stock  Unit history

  Accounts:
    GET    /api/accounts/{growid}/balance  Balance
    GET    /api/accounts/{growid}/ledger   Audit trail
    POST   /api/accounts/{growid}/adjust   Admin balance adjustment
    POST   /api/accounts/{growid}/reset    Balance reset (two-step confirm)

  Trading:
    POST   /api/purchase               Execute a purchase
    POST   /api/identities             Link external identity to GrowID
    GET    /api/world, PUT /api/world  Trading-world record
    GET    /api/stats                  Admin statistics

  Webhook:
    POST   /donate                     In-world deposit notification

TWO-STEP CONFIRMATION:
  DELETE product and balance reset are destructive. The first call without
  a token responds 409 with a short-lived confirm token; repeating the call
  with ?confirm=<token> executes it.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (duplicate, confirmation pending)
  - 422: Business rejection (insufficient funds or stock)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lockshop/engine/currency"
	"github.com/lockshop/engine/shop"
	"github.com/lockshop/engine/store/sqlite"
	"github.com/lockshop/engine/trade"
)

// Confirmation actions, bound into issued tokens.
const (
	actionDeleteProduct = "delete_product"
	actionResetBalance  = "reset_balance"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Coordinator *trade.Coordinator
	Store       *sqlite.Store
	Confirm     *trade.ConfirmStore
	Suppress    *trade.Suppressor
	Log         *slog.Logger
}

// NewHandler creates a handler over the coordinator and store.
func NewHandler(coord *trade.Coordinator, store *sqlite.Store, confirm *trade.ConfirmStore, suppress *trade.Suppressor, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		Coordinator: coord,
		Store:       store,
		Confirm:     confirm,
		Suppress:    suppress,
		Log:         log,
	}
}

// =============================================================================
// CATALOG HANDLERS
// =============================================================================

// ListProducts returns the catalog, cheapest first.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.Store.ListProducts(r.Context())
	if err != nil {
		h.writeDomainError(w, "Failed to list products", err)
		return
	}

	dtos := make([]ProductDTO, len(products))
	for i, p := range products {
		dtos[i] = toProductDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateProduct adds a catalog entry.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req SaveProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Code == "" || req.Name == "" || req.PriceWL <= 0 {
		writeError(w, http.StatusBadRequest, "code, name and a positive price_wl are required", nil)
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	p := shop.Product{
		Code:        req.Code,
		Name:        req.Name,
		Price:       req.PriceWL,
		Description: req.Description,
		Active:      active,
	}
	if err := h.Store.CreateProduct(r.Context(), p); err != nil {
		h.writeDomainError(w, "Failed to create product", err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductDTO(p))
}

// GetProduct returns a single product.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	p, err := h.Store.GetProduct(r.Context(), code)
	if err != nil {
		h.writeDomainError(w, "Failed to get product", err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(*p))
}

// UpdateProduct rewrites a product's mutable fields.
func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	var req SaveProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Name == "" || req.PriceWL <= 0 {
		writeError(w, http.StatusBadRequest, "name and a positive price_wl are required", nil)
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	p := shop.Product{
		Code:        code,
		Name:        req.Name,
		Price:       req.PriceWL,
		Description: req.Description,
		Active:      active,
	}
	if err := h.Store.UpdateProduct(r.Context(), p); err != nil {
		h.writeDomainError(w, "Failed to update product", err)
		return
	}

	updated, err := h.Store.GetProduct(r.Context(), code)
	if err != nil {
		h.writeDomainError(w, "Failed to read product", err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(*updated))
}

// DeleteProduct removes a product after two-step confirmation.
func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	if !h.confirmed(w, r, actionDeleteProduct, code,
		fmt.Sprintf("Repeat the delete of product %q with this token to confirm.", code)) {
		return
	}

	if err := h.Store.DeleteProduct(r.Context(), code); err != nil {
		h.writeDomainError(w, "Failed to delete product", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// STOCK HANDLERS
// =============================================================================

// IngestStock appends inventory lines to a product's pool.
func (h *Handler) IngestStock(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	var req IngestStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	added, rejected, err := h.Coordinator.IngestStock(r.Context(), code, req.Lines, req.SourceLabel, req.AddedBy)
	if err != nil {
		h.writeDomainError(w, "Failed to ingest stock", err)
		return
	}
	writeJSON(w, http.StatusOK, IngestStockResponse{Added: added, Rejected: rejected})
}

// StockHistory lists a product's units, newest-added first. Unit contents
// are never disclosed here.
func (h *Handler) StockHistory(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	limit := queryInt(r, "limit", 50)

	units, err := h.Store.UnitHistory(r.Context(), code, limit)
	if err != nil {
		h.writeDomainError(w, "Failed to read stock history", err)
		return
	}

	dtos := make([]StockUnitDTO, len(units))
	for i, u := range units {
		dto := StockUnitDTO{
			ID:          u.ID,
			Consumed:    u.Consumed,
			ConsumedBy:  u.ConsumedBy,
			Buyer:       string(u.BuyerKey),
			AddedBy:     u.AddedBy,
			AddedAt:     u.AddedAt.Format(time.RFC3339),
			SourceLabel: u.SourceLabel,
		}
		if u.ConsumedAt != nil {
			dto.ConsumedAt = u.ConsumedAt.Format(time.RFC3339)
		}
		dtos[i] = dto
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// PURCHASE HANDLER
// =============================================================================

// Purchase executes a purchase for an external identity.
func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	var req PurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Identity == "" {
		writeError(w, http.StatusBadRequest, "identity is required", nil)
		return
	}

	if !h.Suppress.Allow(req.Identity, "purchase:"+req.ProductCode) {
		writeError(w, http.StatusTooManyRequests, "Duplicate command, slow down", nil)
		return
	}

	res, err := h.Coordinator.ProcessPurchase(r.Context(), req.Identity, req.ProductCode, req.Quantity)
	if err != nil {
		h.writeDomainError(w, "Purchase failed", err)
		return
	}

	resp := PurchaseResponseDTO{
		Message:    res.Message,
		Product:    res.Product,
		Quantity:   res.Quantity,
		PricePaid:  res.PricePaid,
		NewBalance: toBalanceDTO(res.NewBalance),
		Delivered:  res.Delivered,
	}
	if !res.Delivered {
		resp.Items = res.Items
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// GetBalance returns an account balance.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	key := shop.AccountKey(chi.URLParam(r, "growid"))

	balance, err := h.Coordinator.GetBalance(r.Context(), key)
	if err != nil {
		h.writeDomainError(w, "Failed to get balance", err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(balance))
}

// GetLedger returns an account's audit trail, newest first.
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	key := shop.AccountKey(chi.URLParam(r, "growid"))
	limit := queryInt(r, "limit", 10)

	entries, err := h.Coordinator.GetAuditTrail(r.Context(), key, limit)
	if err != nil {
		h.writeDomainError(w, "Failed to read ledger", err)
		return
	}

	dtos := make([]LedgerEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = LedgerEntryDTO{
			ID:         string(e.ID),
			Account:    string(e.Account),
			AmountWL:   e.Amount,
			Kind:       string(e.Kind),
			Detail:     e.Detail,
			OldBalance: e.OldBalance,
			NewBalance: e.NewBalance,
			CreatedAt:  e.CreatedAt.Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// AdjustBalance applies an admin add or remove to an account.
func (h *Handler) AdjustBalance(w http.ResponseWriter, r *http.Request) {
	key := shop.AccountKey(chi.URLParam(r, "growid"))

	var req AdjustBalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	delta := currency.New(req.WL, req.DL, req.BGL)
	if delta.IsZero() {
		writeError(w, http.StatusBadRequest, "delta must be non-zero", nil)
		return
	}
	if delta.HasNegative() {
		writeError(w, http.StatusBadRequest, "denominations must be non-negative; set remove to subtract", nil)
		return
	}

	kind := shop.KindAdminAdd
	if req.Remove {
		kind = shop.KindAdminRemove
		delta = delta.Neg()
	}

	detail := req.Reason
	if detail == "" {
		detail = "Manual adjustment"
	}

	newBalance, err := h.Coordinator.AdjustBalance(r.Context(), key, delta, kind, detail)
	if err != nil {
		h.writeDomainError(w, "Failed to adjust balance", err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(newBalance))
}

// ResetBalance zeroes an account after two-step confirmation.
func (h *Handler) ResetBalance(w http.ResponseWriter, r *http.Request) {
	growid := chi.URLParam(r, "growid")

	if !h.confirmed(w, r, actionResetBalance, growid,
		fmt.Sprintf("Repeat the reset of %q with this token to confirm.", growid)) {
		return
	}

	old, err := h.Coordinator.ResetBalance(r.Context(), shop.AccountKey(growid), "Balance reset via API")
	if err != nil {
		h.writeDomainError(w, "Failed to reset balance", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"wiped":       toBalanceDTO(old),
		"new_balance": toBalanceDTO(currency.Zero),
	})
}

// =============================================================================
// IDENTITY, WORLD & DONATIONS
// =============================================================================

// LinkIdentity binds an external identity to a GrowID.
func (h *Handler) LinkIdentity(w http.ResponseWriter, r *http.Request) {
	var req LinkIdentityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ExternalID == "" || req.GrowID == "" {
		writeError(w, http.StatusBadRequest, "external_id and growid are required", nil)
		return
	}

	if err := h.Store.LinkIdentity(r.Context(), req.ExternalID, shop.AccountKey(req.GrowID)); err != nil {
		h.writeDomainError(w, "Failed to link identity", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"external_id": req.ExternalID,
		"growid":      req.GrowID,
	})
}

// GetWorld returns the trading-world record.
func (h *Handler) GetWorld(w http.ResponseWriter, r *http.Request) {
	info, err := h.Store.GetWorld(r.Context())
	if err != nil {
		h.writeDomainError(w, "Failed to read world info", err)
		return
	}
	if info == nil {
		writeError(w, http.StatusNotFound, "World not configured", nil)
		return
	}
	writeJSON(w, http.StatusOK, WorldDTO{
		World:     info.World,
		Owner:     info.Owner,
		Bot:       info.Bot,
		UpdatedAt: info.UpdatedAt.Format(time.RFC3339),
	})
}

// SetWorld replaces the trading-world record.
func (h *Handler) SetWorld(w http.ResponseWriter, r *http.Request) {
	var req WorldDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.World == "" {
		writeError(w, http.StatusBadRequest, "world is required", nil)
		return
	}

	err := h.Store.SetWorld(r.Context(), shop.WorldInfo{
		World: req.World,
		Owner: req.Owner,
		Bot:   req.Bot,
	})
	if err != nil {
		h.writeDomainError(w, "Failed to write world info", err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// Donate credits a deposit dropped in-world. The payload carries the
// human-readable deposit line; amounts land as a DONATION ledger entry.
func (h *Handler) Donate(w http.ResponseWriter, r *http.Request) {
	var req DonationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.GrowID == "" {
		writeError(w, http.StatusBadRequest, "growid is required", nil)
		return
	}

	deposit, err := currency.ParseDeposit(req.Deposit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Unparseable deposit", err)
		return
	}

	if !h.Suppress.Allow(req.GrowID, "donate:"+req.Deposit) {
		writeError(w, http.StatusTooManyRequests, "Duplicate deposit notification", nil)
		return
	}

	detail := fmt.Sprintf("Donation: %s", req.Deposit)
	newBalance, err := h.Coordinator.AdjustBalance(r.Context(), shop.AccountKey(req.GrowID),
		deposit, shop.KindDonation, detail)
	if err != nil {
		h.writeDomainError(w, "Failed to credit donation", err)
		return
	}

	h.Log.Info("donation credited", "growid", req.GrowID, "amount_wl", deposit.TotalWL())
	writeJSON(w, http.StatusOK, toBalanceDTO(newBalance))
}

// =============================================================================
// STATS
// =============================================================================

// GetStats returns admin statistics over a trailing window (default 7 days).
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 7)
	if days <= 0 {
		days = 7
	}
	since := time.Now().AddDate(0, 0, -days)

	report, err := trade.Stats(r.Context(), h.Store, since)
	if err != nil {
		h.writeDomainError(w, "Failed to aggregate statistics", err)
		return
	}

	writeJSON(w, http.StatusOK, StatsDTO{
		Since:            report.Since.Format(time.RFC3339),
		TotalEntries:     report.TotalEntries,
		Purchases:        report.Purchases,
		Donations:        report.Donations,
		VolumeWL:         report.VolumeWL,
		PurchaseVolumeWL: report.PurchaseVolumeWL,
		AvgPurchaseWL:    report.AvgPurchaseWL.StringFixed(2),
		TotalProducts:    report.TotalProducts,
		ActiveProducts:   report.ActiveProducts,
		TotalStock:       report.TotalStock,
		TotalAccounts:    report.TotalAccounts,
		TotalBalanceWL:   report.TotalBalanceWL,
	})
}

// =============================================================================
// HELPERS
// =============================================================================

// confirmed gates a destructive operation. Without a valid ?confirm= token
// it issues one and writes a 409; the caller repeats with the token.
func (h *Handler) confirmed(w http.ResponseWriter, r *http.Request, action, subject, message string) bool {
	token := r.URL.Query().Get("confirm")
	if token == "" {
		issued, err := h.Confirm.Issue(action, subject)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to issue confirmation", err)
			return false
		}
		writeJSON(w, http.StatusConflict, ConfirmationDTO{
			ConfirmToken: issued,
			ExpiresIn:    trade.DefaultConfirmTTL.String(),
			Message:      message,
		})
		return false
	}

	if err := h.Confirm.Redeem(token, action, subject); err != nil {
		h.writeDomainError(w, "Confirmation rejected", err)
		return false
	}
	return true
}

// writeDomainError maps a domain error onto an HTTP status.
func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case shop.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, shop.ErrProductExists) || errors.Is(err, shop.ErrIdentityTaken) ||
		errors.Is(err, shop.ErrConfirmationRequired):
		writeError(w, http.StatusConflict, message, err)
	case errors.Is(err, currency.ErrInsufficientFunds) || errors.Is(err, shop.ErrInsufficientStock) ||
		errors.Is(err, shop.ErrProductInactive) || errors.Is(err, shop.ErrProductHasStock) ||
		errors.Is(err, shop.ErrNegativeBalance):
		writeError(w, http.StatusUnprocessableEntity, message, err)
	case errors.Is(err, shop.ErrValidation):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		if shop.IsFatal(err) {
			h.Log.Error("invariant failure surfaced to API", "error", err)
		}
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func toProductDTO(p shop.Product) ProductDTO {
	return ProductDTO{
		Code:        p.Code,
		Name:        p.Name,
		PriceWL:     p.Price,
		Stock:       p.Stock,
		Description: p.Description,
		Active:      p.Active,
	}
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
