package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/atelier-sucre/api/internal/domain"
	"github.com/atelier-sucre/api/internal/platform/auth"
	"github.com/atelier-sucre/api/internal/platform/httpx"
	"github.com/atelier-sucre/api/internal/repositories"
	"github.com/atelier-sucre/api/internal/services"
)

const (
	defaultPurchasePageSize = 50
	maxPurchasePageSize     = 200
)

// AdminPurchaseHandlers exposes the supplier spending ledger to the back office.
type AdminPurchaseHandlers struct {
	authn     *auth.Authenticator
	purchases services.PurchaseService
}

// NewAdminPurchaseHandlers constructs the admin purchase endpoints.
func NewAdminPurchaseHandlers(authn *auth.Authenticator, purchases services.PurchaseService) *AdminPurchaseHandlers {
	return &AdminPurchaseHandlers{
		authn:     authn,
		purchases: purchases,
	}
}

// Routes registers the /admin/purchases endpoints.
func (h *AdminPurchaseHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin))
	}
	r.Get("/", h.listPurchases)
	r.Post("/", h.recordPurchase)
	r.Get("/stats", h.stats)
	r.Put("/{purchaseID}", h.updatePurchase)
	r.Delete("/{purchaseID}", h.deletePurchase)
}

func (h *AdminPurchaseHandlers) listPurchases(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.purchases == nil {
		httpx.WriteError(ctx, w, httpx.NewError("purchases_unavailable", "purchase service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	pageSize, err := parsePageSize(query.Get("page_size"), defaultPurchasePageSize, maxPurchasePageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be an integer", http.StatusBadRequest))
		return
	}

	filter := services.PurchaseListFilter{
		Supplier: strings.TrimSpace(query.Get("supplier")),
		Pagination: services.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	}

	page, err := h.purchases.ListPurchases(ctx, filter)
	if err != nil {
		writePurchaseError(ctx, w, err)
		return
	}

	items := make([]purchasePayload, 0, len(page.Items))
	for _, purchase := range page.Items {
		items = append(items, buildPurchasePayload(purchase))
	}
	writeJSONResponse(w, http.StatusOK, purchaseListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

type recordPurchaseRequest struct {
	ProductName  string `json:"product_name"`
	Supplier     string `json:"supplier"`
	PurchaseDate string `json:"purchase_date"`
	Quantity     int    `json:"quantity"`
	UnitPrice    string `json:"unit_price"`
}

func (req recordPurchaseRequest) toCommand(ctx context.Context) (services.RecordPurchaseCommand, string) {
	cmd := services.RecordPurchaseCommand{
		ProductName: strings.TrimSpace(req.ProductName),
		Supplier:    strings.TrimSpace(req.Supplier),
		Quantity:    req.Quantity,
		ActorID:     actorFromContext(ctx),
	}
	if raw := strings.TrimSpace(req.PurchaseDate); raw != "" {
		date, err := parseDeliveryDate(raw)
		if err != nil {
			return cmd, "purchase_date must be an RFC3339 timestamp or YYYY-MM-DD date"
		}
		cmd.PurchaseDate = date
	}
	if raw := strings.TrimSpace(req.UnitPrice); raw != "" {
		amount, err := domain.ParseMoney(raw)
		if err != nil {
			return cmd, "unit_price must be a decimal euro amount such as \"3.70\""
		}
		cmd.UnitPrice = amount
	}
	return cmd, ""
}

func (h *AdminPurchaseHandlers) recordPurchase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.purchases == nil {
		httpx.WriteError(ctx, w, httpx.NewError("purchases_unavailable", "purchase service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req recordPurchaseRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}
	cmd, problem := req.toCommand(ctx)
	if problem != "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", problem, http.StatusBadRequest))
		return
	}

	purchase, err := h.purchases.Record(ctx, cmd)
	if err != nil {
		writePurchaseError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, purchaseResponse{Purchase: buildPurchasePayload(purchase)})
}

func (h *AdminPurchaseHandlers) updatePurchase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	purchaseID, ok := h.requirePurchaseID(ctx, w, r)
	if !ok {
		return
	}

	var req recordPurchaseRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}
	cmd, problem := req.toCommand(ctx)
	if problem != "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", problem, http.StatusBadRequest))
		return
	}

	purchase, err := h.purchases.Update(ctx, purchaseID, cmd)
	if err != nil {
		writePurchaseError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, purchaseResponse{Purchase: buildPurchasePayload(purchase)})
}

func (h *AdminPurchaseHandlers) deletePurchase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	purchaseID, ok := h.requirePurchaseID(ctx, w, r)
	if !ok {
		return
	}

	if err := h.purchases.Delete(ctx, purchaseID, actorFromContext(ctx)); err != nil {
		writePurchaseError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminPurchaseHandlers) stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.purchases == nil {
		httpx.WriteError(ctx, w, httpx.NewError("purchases_unavailable", "purchase service unavailable", http.StatusServiceUnavailable))
		return
	}

	stats, err := h.purchases.Stats(ctx)
	if err != nil {
		writePurchaseError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, purchaseStatsResponse{
		Total:        stats.Total.String(),
		CurrentMonth: stats.CurrentMonth.String(),
		Count:        stats.Count,
	})
}

func (h *AdminPurchaseHandlers) requirePurchaseID(ctx context.Context, w http.ResponseWriter, r *http.Request) (string, bool) {
	if h.purchases == nil {
		httpx.WriteError(ctx, w, httpx.NewError("purchases_unavailable", "purchase service unavailable", http.StatusServiceUnavailable))
		return "", false
	}
	purchaseID := strings.TrimSpace(chi.URLParam(r, "purchaseID"))
	if purchaseID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "purchase id is required", http.StatusBadRequest))
		return "", false
	}
	return purchaseID, true
}

// Payloads ------------------------------------------------------------------

type purchaseListResponse struct {
	Items         []purchasePayload `json:"items"`
	NextPageToken string            `json:"next_page_token,omitempty"`
}

type purchaseResponse struct {
	Purchase purchasePayload `json:"purchase"`
}

type purchaseStatsResponse struct {
	Total        string `json:"total"`
	CurrentMonth string `json:"current_month"`
	Count        int    `json:"count"`
}

type purchasePayload struct {
	ID           string `json:"id"`
	ProductName  string `json:"product_name"`
	Supplier     string `json:"supplier"`
	PurchaseDate string `json:"purchase_date"`
	Quantity     int    `json:"quantity"`
	UnitPrice    string `json:"unit_price"`
	TotalPrice   string `json:"total_price"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at,omitempty"`
}

func buildPurchasePayload(purchase services.Purchase) purchasePayload {
	return purchasePayload{
		ID:           purchase.ID,
		ProductName:  purchase.ProductName,
		Supplier:     purchase.Supplier,
		PurchaseDate: formatTime(purchase.PurchaseDate),
		Quantity:     purchase.Quantity,
		UnitPrice:    purchase.UnitPrice.String(),
		TotalPrice:   purchase.TotalPrice.String(),
		CreatedAt:    formatTime(purchase.CreatedAt),
		UpdatedAt:    formatTime(purchase.UpdatedAt),
	}
}

func writePurchaseError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	var repoErr repositories.RepositoryError
	switch {
	case errors.Is(err, services.ErrPurchaseInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrPurchaseNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("purchase_not_found", "purchase not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPurchaseConflict):
		httpx.WriteError(ctx, w, httpx.NewError("purchase_conflict", err.Error(), http.StatusConflict))
	case errors.As(err, &repoErr) && repoErr.IsUnavailable():
		httpx.WriteError(ctx, w, httpx.NewError("storage_unavailable", "purchase storage is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("purchase_error", "failed to process purchase request", http.StatusInternalServerError))
	}
}
