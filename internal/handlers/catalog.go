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
	defaultProductPageSize = 50
	maxProductPageSize     = 200
)

// ProductHandlers exposes the public storefront catalog.
type ProductHandlers struct {
	catalog services.CatalogService
}

// NewProductHandlers constructs the public catalog endpoints.
func NewProductHandlers(catalog services.CatalogService) *ProductHandlers {
	return &ProductHandlers{catalog: catalog}
}

// Routes registers the public /products endpoints.
func (h *ProductHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listProducts)
	r.Get("/{productID}", h.getProduct)
}

func (h *ProductHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	pageSize, err := parsePageSize(query.Get("page_size"), defaultProductPageSize, maxProductPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be an integer", http.StatusBadRequest))
		return
	}

	// The storefront never shows unavailable products.
	filter := services.ProductListFilter{
		Category:      strings.TrimSpace(query.Get("category")),
		AvailableOnly: true,
		Pagination: services.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	}

	page, err := h.catalog.ListProducts(ctx, filter)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	items := make([]productPayload, 0, len(page.Items))
	for _, product := range page.Items {
		items = append(items, buildProductPayload(product))
	}
	writeJSONResponse(w, http.StatusOK, productListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *ProductHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}
	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	product, err := h.catalog.GetProduct(ctx, productID)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	if !product.Available {
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
		return
	}
	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

// AdminCatalogHandlers exposes the back-office catalog endpoints.
type AdminCatalogHandlers struct {
	authn   *auth.Authenticator
	catalog services.CatalogService
}

// NewAdminCatalogHandlers constructs the admin catalog endpoints.
func NewAdminCatalogHandlers(authn *auth.Authenticator, catalog services.CatalogService) *AdminCatalogHandlers {
	return &AdminCatalogHandlers{
		authn:   authn,
		catalog: catalog,
	}
}

// Routes registers the /admin/products endpoints.
func (h *AdminCatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin))
	}
	r.Get("/", h.listProducts)
	r.Post("/", h.createProduct)
	r.Get("/{productID}", h.getProduct)
	r.Put("/{productID}", h.updateProduct)
	r.Delete("/{productID}", h.deleteProduct)
	r.Put("/{productID}/availability", h.setAvailability)
	r.Post("/{productID}/image", h.createImageUpload)
	r.Put("/{productID}/image/confirm", h.confirmImageUpload)
}

func (h *AdminCatalogHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	pageSize, err := parsePageSize(query.Get("page_size"), defaultProductPageSize, maxProductPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be an integer", http.StatusBadRequest))
		return
	}

	filter := services.ProductListFilter{
		Category: strings.TrimSpace(query.Get("category")),
		Pagination: services.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	}

	page, err := h.catalog.ListProducts(ctx, filter)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	items := make([]productPayload, 0, len(page.Items))
	for _, product := range page.Items {
		items = append(items, buildProductPayload(product))
	}
	writeJSONResponse(w, http.StatusOK, productListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *AdminCatalogHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	productID, ok := h.requireProductID(ctx, w, r)
	if !ok {
		return
	}

	product, err := h.catalog.GetProduct(ctx, productID)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

type upsertProductRequest struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Category    string            `json:"category"`
	Prices      map[string]string `json:"prices"`
	Available   *bool             `json:"available"`
}

func (req upsertProductRequest) toCommand(actorID string) (services.UpsertProductCommand, error) {
	cmd := services.UpsertProductCommand{
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		Category:    strings.TrimSpace(req.Category),
		Available:   req.Available,
		ActorID:     actorID,
	}
	if len(req.Prices) > 0 {
		cmd.Prices = make(map[string]services.Money, len(req.Prices))
		for size, raw := range req.Prices {
			amount, err := domain.ParseMoney(raw)
			if err != nil {
				return services.UpsertProductCommand{}, err
			}
			cmd.Prices[strings.TrimSpace(size)] = amount
		}
	}
	return cmd, nil
}

func (h *AdminCatalogHandlers) createProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req upsertProductRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}
	cmd, err := req.toCommand(actorFromContext(ctx))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "prices must be decimal euro amounts such as \"24.00\"", http.StatusBadRequest))
		return
	}

	product, err := h.catalog.CreateProduct(ctx, cmd)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, productResponse{Product: buildProductPayload(product)})
}

func (h *AdminCatalogHandlers) updateProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	productID, ok := h.requireProductID(ctx, w, r)
	if !ok {
		return
	}

	var req upsertProductRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}
	cmd, err := req.toCommand(actorFromContext(ctx))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "prices must be decimal euro amounts such as \"24.00\"", http.StatusBadRequest))
		return
	}

	product, err := h.catalog.UpdateProduct(ctx, productID, cmd)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

func (h *AdminCatalogHandlers) deleteProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	productID, ok := h.requireProductID(ctx, w, r)
	if !ok {
		return
	}

	if err := h.catalog.DeleteProduct(ctx, productID); err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type setAvailabilityRequest struct {
	Available *bool `json:"available"`
}

func (h *AdminCatalogHandlers) setAvailability(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	productID, ok := h.requireProductID(ctx, w, r)
	if !ok {
		return
	}

	var req setAvailabilityRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}
	if req.Available == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "available is required", http.StatusBadRequest))
		return
	}

	product, err := h.catalog.SetAvailability(ctx, productID, *req.Available, actorFromContext(ctx))
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

type imageUploadRequest struct {
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
}

func (h *AdminCatalogHandlers) createImageUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	productID, ok := h.requireProductID(ctx, w, r)
	if !ok {
		return
	}

	var req imageUploadRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	upload, err := h.catalog.CreateImageUpload(ctx, services.ProductImageUploadCommand{
		ProductID:   productID,
		FileName:    strings.TrimSpace(req.FileName),
		ContentType: strings.TrimSpace(req.ContentType),
		SizeBytes:   req.SizeBytes,
		ActorID:     actorFromContext(ctx),
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, imageUploadResponse{
		UploadURL:  upload.UploadURL,
		ObjectPath: upload.ObjectPath,
		ExpiresAt:  formatTime(upload.ExpiresAt),
	})
}

type confirmImageRequest struct {
	ObjectPath string `json:"object_path"`
}

func (h *AdminCatalogHandlers) confirmImageUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	productID, ok := h.requireProductID(ctx, w, r)
	if !ok {
		return
	}

	var req confirmImageRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	product, err := h.catalog.ConfirmImageUpload(ctx, services.ConfirmProductImageCommand{
		ProductID:  productID,
		ObjectPath: strings.TrimSpace(req.ObjectPath),
		ActorID:    actorFromContext(ctx),
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

func (h *AdminCatalogHandlers) requireProductID(ctx context.Context, w http.ResponseWriter, r *http.Request) (string, bool) {
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return "", false
	}
	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return "", false
	}
	return productID, true
}

// Payloads ------------------------------------------------------------------

type productListResponse struct {
	Items         []productPayload `json:"items"`
	NextPageToken string           `json:"next_page_token,omitempty"`
}

type productResponse struct {
	Product productPayload `json:"product"`
}

type imageUploadResponse struct {
	UploadURL  string `json:"upload_url"`
	ObjectPath string `json:"object_path"`
	ExpiresAt  string `json:"expires_at"`
}

type productPayload struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Slug        string            `json:"slug"`
	Description string            `json:"description,omitempty"`
	Category    string            `json:"category"`
	Prices      map[string]string `json:"prices"`
	Available   bool              `json:"available"`
	ImageURL    string            `json:"image_url,omitempty"`
	Version     int64             `json:"version"`
	CreatedAt   string            `json:"created_at"`
	UpdatedAt   string            `json:"updated_at,omitempty"`
}

func buildProductPayload(product services.Product) productPayload {
	payload := productPayload{
		ID:          product.ID,
		Name:        product.Name,
		Slug:        product.Slug,
		Description: product.Description,
		Category:    product.Category,
		Prices:      make(map[string]string, len(product.Prices)),
		Available:   product.Available,
		ImageURL:    product.ImageURL,
		Version:     product.Version,
		CreatedAt:   formatTime(product.CreatedAt),
		UpdatedAt:   formatTime(product.UpdatedAt),
	}
	for size, price := range product.Prices {
		payload.Prices[size] = price.String()
	}
	return payload
}

func writeCatalogError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	var repoErr repositories.RepositoryError
	switch {
	case errors.Is(err, services.ErrCatalogInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCatalogNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCatalogConflict):
		httpx.WriteError(ctx, w, httpx.NewError("product_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCatalogStorageUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("storage_unavailable", "image storage is unavailable", http.StatusServiceUnavailable))
	case errors.As(err, &repoErr) && repoErr.IsUnavailable():
		httpx.WriteError(ctx, w, httpx.NewError("storage_unavailable", "catalog storage is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("catalog_error", "failed to process catalog request", http.StatusInternalServerError))
	}
}
