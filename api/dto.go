/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON structures for the HTTP surface. These types decouple the domain
  model from the wire contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"github.com/lockshop/engine/currency"
)

// =============================================================================
// BALANCE
// =============================================================================

// BalanceDTO renders a multi-denomination balance.
type BalanceDTO struct {
	WL        int64  `json:"wl"`
	DL        int64  `json:"dl"`
	BGL       int64  `json:"bgl"`
	TotalWL   int64  `json:"total_wl"`
	Formatted string `json:"formatted"`
}

func toBalanceDTO(l currency.Lock) BalanceDTO {
	return BalanceDTO{
		WL:        l.WL,
		DL:        l.DL,
		BGL:       l.BGL,
		TotalWL:   l.TotalWL(),
		Formatted: l.Format(),
	}
}

// AdjustBalanceRequest applies a signed per-denomination delta.
type AdjustBalanceRequest struct {
	WL     int64  `json:"wl"`
	DL     int64  `json:"dl"`
	BGL    int64  `json:"bgl"`
	Remove bool   `json:"remove"` // true negates the delta
	Reason string `json:"reason"`
}

// =============================================================================
// PRODUCTS & STOCK
// =============================================================================

// ProductDTO represents a catalog entry in API responses.
type ProductDTO struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	PriceWL     int64  `json:"price_wl"`
	Stock       int64  `json:"stock"`
	Description string `json:"description,omitempty"`
	Active      bool   `json:"active"`
}

// SaveProductRequest creates or updates a product.
type SaveProductRequest struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	PriceWL     int64  `json:"price_wl"`
	Description string `json:"description"`
	Active      *bool  `json:"active"` // nil defaults to true on create
}

// IngestStockRequest appends inventory lines to a product's pool.
type IngestStockRequest struct {
	Lines       []string `json:"lines"`
	SourceLabel string   `json:"source_label"`
	AddedBy     string   `json:"added_by"`
}

// IngestStockResponse reports per-batch outcome; rejected lines are
// duplicates or blanks, not errors.
type IngestStockResponse struct {
	Added    int      `json:"added"`
	Rejected []string `json:"rejected,omitempty"`
}

// StockUnitDTO is one inventory line in history responses. Content is only
// disclosed for consumed units.
type StockUnitDTO struct {
	ID          int64  `json:"id"`
	Consumed    bool   `json:"consumed"`
	ConsumedBy  string `json:"consumed_by,omitempty"`
	Buyer       string `json:"buyer,omitempty"`
	ConsumedAt  string `json:"consumed_at,omitempty"`
	AddedBy     string `json:"added_by,omitempty"`
	AddedAt     string `json:"added_at"`
	SourceLabel string `json:"source_label,omitempty"`
}

// =============================================================================
// PURCHASE
// =============================================================================

// PurchaseRequest executes a purchase on behalf of an external identity.
type PurchaseRequest struct {
	Identity    string `json:"identity"`
	ProductCode string `json:"product_code"`
	Quantity    int    `json:"quantity"`
}

// PurchaseResponseDTO reports a committed purchase. Items are present only
// when out-of-band delivery failed.
type PurchaseResponseDTO struct {
	Message    string     `json:"message"`
	Product    string     `json:"product"`
	Quantity   int        `json:"quantity"`
	PricePaid  int64      `json:"price_paid_wl"`
	NewBalance BalanceDTO `json:"new_balance"`
	Delivered  bool       `json:"delivered"`
	Items      []string   `json:"items,omitempty"`
}

// =============================================================================
// LEDGER
// =============================================================================

// LedgerEntryDTO is one audit record.
type LedgerEntryDTO struct {
	ID         string `json:"id"`
	Account    string `json:"account"`
	AmountWL   int64  `json:"amount_wl"`
	Kind       string `json:"kind"`
	Detail     string `json:"detail,omitempty"`
	OldBalance string `json:"old_balance"`
	NewBalance string `json:"new_balance"`
	CreatedAt  string `json:"created_at"`
}

// =============================================================================
// IDENTITY, WORLD, DONATIONS
// =============================================================================

// LinkIdentityRequest binds an external identity to an account key.
type LinkIdentityRequest struct {
	ExternalID string `json:"external_id"`
	GrowID     string `json:"growid"`
}

// WorldDTO is the trading-world record.
type WorldDTO struct {
	World     string `json:"world"`
	Owner     string `json:"owner"`
	Bot       string `json:"bot"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// DonationRequest is the webhook payload posted when a deposit is dropped
// in-world. Deposit is the human-readable form, e.g.
// "2 World Lock, 1 Diamond Lock".
type DonationRequest struct {
	GrowID  string `json:"growid"`
	Deposit string `json:"deposit"`
}

// =============================================================================
// STATS & CONFIRMATION
// =============================================================================

// StatsDTO is the admin statistics view.
type StatsDTO struct {
	Since            string `json:"since"`
	TotalEntries     int64  `json:"total_entries"`
	Purchases        int64  `json:"purchases"`
	Donations        int64  `json:"donations"`
	VolumeWL         int64  `json:"volume_wl"`
	PurchaseVolumeWL int64  `json:"purchase_volume_wl"`
	AvgPurchaseWL    string `json:"avg_purchase_wl"`
	TotalProducts    int64  `json:"total_products"`
	ActiveProducts   int64  `json:"active_products"`
	TotalStock       int64  `json:"total_stock"`
	TotalAccounts    int64  `json:"total_accounts"`
	TotalBalanceWL   int64  `json:"total_balance_wl"`
}

// ConfirmationDTO is returned when a destructive operation needs a second
// call carrying the token.
type ConfirmationDTO struct {
	ConfirmToken string `json:"confirm_token"`
	ExpiresIn    string `json:"expires_in"`
	Message      string `json:"message"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
