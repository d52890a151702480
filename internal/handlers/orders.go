package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/atelier-sucre/api/internal/domain"
	"github.com/atelier-sucre/api/internal/platform/auth"
	"github.com/atelier-sucre/api/internal/platform/httpx"
	"github.com/atelier-sucre/api/internal/repositories"
	"github.com/atelier-sucre/api/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
	maxOrderBodySize     = 16 * 1024
	deliveryDateLayout   = "2006-01-02"
)

var (
	errBodyTooLarge = errors.New("request body too large")
	errEmptyBody    = errors.New("request body is required")
)

type createOrderRequest struct {
	CustomerInfo struct {
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Email     string `json:"email"`
		Phone     string `json:"phone"`
	} `json:"customer_info"`
	ProductID       string `json:"product_id"`
	Size            string `json:"size"`
	SpecialRequests string `json:"special_requests"`
	Delivery        struct {
		Type     string `json:"type"`
		Date     string `json:"date"`
		TimeSlot string `json:"time_slot"`
		Address  string `json:"address"`
	} `json:"delivery"`
}

type trackedOrderPatchRequest struct {
	CustomerInfo *struct {
		FirstName *string `json:"first_name"`
		LastName  *string `json:"last_name"`
		Email     *string `json:"email"`
		Phone     *string `json:"phone"`
	} `json:"customer_info"`
	DeliveryDate    *string `json:"delivery_date"`
	SpecialRequests *string `json:"special_requests"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

// OrderHandlers exposes the public order form and the tracking-token flows.
type OrderHandlers struct {
	orders   services.OrderService
	tracking *auth.TrackingTokenIssuer
	limiter  RateLimiter
}

// NewOrderHandlers constructs the public order endpoints.
func NewOrderHandlers(orders services.OrderService, tracking *auth.TrackingTokenIssuer, limiter RateLimiter) *OrderHandlers {
	return &OrderHandlers{
		orders:   orders,
		tracking: tracking,
		limiter:  limiter,
	}
}

// Routes registers the public /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createOrder)
	r.Get("/track", h.trackOrder)
	r.Patch("/track", h.updateTrackedOrder)
	r.Post("/track/cancel", h.cancelTrackedOrder)
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	if h.limiter != nil && !h.limiter.Allow(clientKey(r)) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many requests, try again later", http.StatusTooManyRequests))
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req createOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	deliveryDate, err := parseDeliveryDate(req.Delivery.Date)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "delivery.date must be an RFC3339 timestamp or YYYY-MM-DD date", http.StatusBadRequest))
		return
	}

	cmd := services.CreateOrderCommand{
		CustomerInfo: services.CustomerInfo{
			FirstName: strings.TrimSpace(req.CustomerInfo.FirstName),
			LastName:  strings.TrimSpace(req.CustomerInfo.LastName),
			Email:     strings.TrimSpace(req.CustomerInfo.Email),
			Phone:     strings.TrimSpace(req.CustomerInfo.Phone),
		},
		ProductID:       strings.TrimSpace(req.ProductID),
		Size:            strings.TrimSpace(req.Size),
		SpecialRequests: req.SpecialRequests,
		DeliveryType:    strings.TrimSpace(req.Delivery.Type),
		DeliveryDate:    deliveryDate,
		TimeSlot:        strings.TrimSpace(req.Delivery.TimeSlot),
		Address:         strings.TrimSpace(req.Delivery.Address),
	}

	order, err := h.orders.Create(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	response := createOrderResponse{
		Order: buildOrderPayload(order),
	}
	if h.tracking != nil {
		token, err := h.tracking.Issue(order.ID)
		if err == nil {
			response.TrackingToken = token
		}
	}
	writeJSONResponse(w, http.StatusCreated, response)
}

func (h *OrderHandlers) trackOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, ok := h.resolveTrackedOrder(w, r)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) updateTrackedOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, ok := h.resolveTrackedOrder(w, r)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req trackedOrderPatchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	cmd := services.UpdateCustomerDetailsCommand{
		OrderID:         orderID,
		SpecialRequests: req.SpecialRequests,
	}
	if req.CustomerInfo != nil {
		cmd.FirstName = req.CustomerInfo.FirstName
		cmd.LastName = req.CustomerInfo.LastName
		cmd.Email = req.CustomerInfo.Email
		cmd.Phone = req.CustomerInfo.Phone
	}
	if req.DeliveryDate != nil {
		date, err := parseDeliveryDate(*req.DeliveryDate)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "delivery_date must be an RFC3339 timestamp or YYYY-MM-DD date", http.StatusBadRequest))
			return
		}
		cmd.DeliveryDate = &date
	}

	order, err := h.orders.UpdateCustomerDetails(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelTrackedOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, ok := h.resolveTrackedOrder(w, r)
	if !ok {
		return
	}

	var req cancelOrderRequest
	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil && !errors.Is(err, errEmptyBody) {
		writeBodyError(ctx, w, err)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
			return
		}
	}

	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID: orderID,
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

// resolveTrackedOrder verifies the tracking token carried in the query string
// and answers the appropriate error when it is missing or bad.
func (h *OrderHandlers) resolveTrackedOrder(w http.ResponseWriter, r *http.Request) (string, bool) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return "", false
	}
	if h.tracking == nil {
		httpx.WriteError(ctx, w, httpx.NewError("tracking_unavailable", "order tracking is not configured", http.StatusServiceUnavailable))
		return "", false
	}

	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "tracking token is required", http.StatusBadRequest))
		return "", false
	}

	orderID, err := h.tracking.Verify(token)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrTrackingTokenExpired):
			httpx.WriteError(ctx, w, httpx.NewError("tracking_token_expired", "tracking token has expired", http.StatusUnauthorized))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("tracking_token_invalid", "tracking token is invalid", http.StatusUnauthorized))
		}
		return "", false
	}
	return orderID, true
}

// AdminOrderHandlers exposes the back-office order endpoints.
type AdminOrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewAdminOrderHandlers constructs the admin order endpoints.
func NewAdminOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *AdminOrderHandlers {
	return &AdminOrderHandlers{
		authn:  authn,
		orders: orders,
	}
}

// Routes registers the /admin/orders endpoints.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin))
	}
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}/status", h.transitionStatus)
	r.Put("/{orderID}/deposit", h.recordDeposit)
	r.Post("/{orderID}/deposit/settle", h.settleDeposit)
	r.Get("/{orderID}/invoice", h.invoice)
}

func (h *AdminOrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()

	statusFilters := parseFilterValues(query["status"])
	for _, status := range statusFilters {
		if !domain.OrderStatus(status).Valid() {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", fmt.Sprintf("unknown order status %q", status), http.StatusBadRequest))
			return
		}
	}

	var dateRange domain.RangeQuery[time.Time]
	if raw := strings.TrimSpace(query.Get("delivery_after")); raw != "" {
		ts, err := parseDeliveryDate(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "delivery_after must be an RFC3339 timestamp or YYYY-MM-DD date", http.StatusBadRequest))
			return
		}
		dateRange.From = &ts
	}
	if raw := strings.TrimSpace(query.Get("delivery_before")); raw != "" {
		ts, err := parseDeliveryDate(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "delivery_before must be an RFC3339 timestamp or YYYY-MM-DD date", http.StatusBadRequest))
			return
		}
		dateRange.To = &ts
	}

	pageSize, err := parsePageSize(query.Get("page_size"), defaultOrderPageSize, maxOrderPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be an integer", http.StatusBadRequest))
		return
	}

	filter := services.OrderListFilter{
		Status:       statusFilters,
		DeliveryDate: dateRange,
		Search:       strings.TrimSpace(query.Get("search")),
		Pagination: services.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	}

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *AdminOrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, ok := requireOrderID(ctx, w, r, h.orders)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type transitionStatusRequest struct {
	Status          string `json:"status"`
	ExpectedVersion *int64 `json:"expected_version"`
	Reason          string `json:"reason"`
}

func (h *AdminOrderHandlers) transitionStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, ok := requireOrderID(ctx, w, r, h.orders)
	if !ok {
		return
	}

	var req transitionStatusRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Status) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.TransitionStatus(ctx, services.OrderStatusTransitionCommand{
		OrderID:         orderID,
		TargetStatus:    strings.ToLower(strings.TrimSpace(req.Status)),
		ExpectedVersion: req.ExpectedVersion,
		ActorID:         actorFromContext(ctx),
		Reason:          strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type recordDepositRequest struct {
	Amount string  `json:"amount"`
	Date   *string `json:"date"`
}

func (h *AdminOrderHandlers) recordDeposit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, ok := requireOrderID(ctx, w, r, h.orders)
	if !ok {
		return
	}

	var req recordDepositRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	amount, err := domain.ParseMoney(req.Amount)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "amount must be a decimal euro amount such as \"15.00\"", http.StatusBadRequest))
		return
	}

	cmd := services.RecordDepositCommand{
		OrderID: orderID,
		Amount:  amount,
		ActorID: actorFromContext(ctx),
	}
	if req.Date != nil {
		at, err := parseTimeParam(strings.TrimSpace(*req.Date))
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "date must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		cmd.At = &at
	}

	order, err := h.orders.RecordDeposit(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type settleDepositRequest struct {
	Date *string `json:"date"`
}

func (h *AdminOrderHandlers) settleDeposit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, ok := requireOrderID(ctx, w, r, h.orders)
	if !ok {
		return
	}

	var req settleDepositRequest
	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil && !errors.Is(err, errEmptyBody) {
		writeBodyError(ctx, w, err)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
			return
		}
	}

	cmd := services.MarkFullyPaidCommand{
		OrderID: orderID,
		ActorID: actorFromContext(ctx),
	}
	if req.Date != nil {
		at, err := parseTimeParam(strings.TrimSpace(*req.Date))
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "date must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		cmd.At = &at
	}

	order, err := h.orders.MarkFullyPaid(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) invoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, ok := requireOrderID(ctx, w, r, h.orders)
	if !ok {
		return
	}

	invoice, err := h.orders.BuildInvoice(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, invoiceResponse{Invoice: buildInvoicePayload(invoice)})
}

// Payloads ------------------------------------------------------------------

type createOrderResponse struct {
	Order         orderPayload `json:"order"`
	TrackingToken string       `json:"tracking_token,omitempty"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type orderSummaryPayload struct {
	ID           string `json:"id"`
	Number       string `json:"number"`
	CustomerName string `json:"customer_name"`
	ProductName  string `json:"product_name"`
	DeliveryType string `json:"delivery_type"`
	DeliveryDate string `json:"delivery_date"`
	TotalPrice   string `json:"total_price"`
	Status       string `json:"status"`
	StatusLabel  string `json:"status_label"`
	CreatedAt    string `json:"created_at"`
}

type orderPayload struct {
	ID            string                 `json:"id"`
	Number        string                 `json:"number"`
	CustomerInfo  customerInfoPayload    `json:"customer_info"`
	Product       productSnapshotPayload `json:"product"`
	Customization customizationPayload   `json:"customization"`
	Delivery      deliveryPayload        `json:"delivery"`
	Pricing       pricingPayload         `json:"pricing"`
	Acompte       *depositPayload        `json:"acompte,omitempty"`
	Balance       string                 `json:"balance"`
	Status        string                 `json:"status"`
	StatusLabel   string                 `json:"status_label"`
	IsModified    bool                   `json:"is_modified,omitempty"`
	Version       int64                  `json:"version"`
	CreatedAt     string                 `json:"created_at"`
	UpdatedAt     string                 `json:"updated_at,omitempty"`
}

type customerInfoPayload struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

func buildCustomerInfoPayload(info services.CustomerInfo) customerInfoPayload {
	return customerInfoPayload{
		FirstName: info.FirstName,
		LastName:  info.LastName,
		Email:     info.Email,
		Phone:     info.Phone,
	}
}

type productSnapshotPayload struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Size      string `json:"size"`
	UnitPrice string `json:"unit_price"`
	Category  string `json:"category,omitempty"`
	ImageURL  string `json:"image_url,omitempty"`
}

type customizationPayload struct {
	SpecialRequests string `json:"special_requests,omitempty"`
}

type deliveryPayload struct {
	Type     string `json:"type"`
	Date     string `json:"date"`
	TimeSlot string `json:"time_slot,omitempty"`
	Address  string `json:"address,omitempty"`
}

type pricingPayload struct {
	BasePrice     string `json:"base_price"`
	DeliveryPrice string `json:"delivery_price"`
	TotalPrice    string `json:"total_price"`
}

type depositPayload struct {
	Amount string `json:"amount"`
	Date   string `json:"date"`
}

type invoiceResponse struct {
	Invoice invoicePayload `json:"invoice"`
}

type invoicePayload struct {
	OrderID      string                 `json:"order_id"`
	Number       string                 `json:"number"`
	CustomerInfo customerInfoPayload    `json:"customer_info"`
	Product      productSnapshotPayload `json:"product"`
	Delivery     deliveryPayload        `json:"delivery"`
	Pricing      pricingPayload         `json:"pricing"`
	Deposit      *depositPayload        `json:"deposit,omitempty"`
	Balance      string                 `json:"balance"`
	Status       string                 `json:"status"`
	StatusLabel  string                 `json:"status_label"`
	IssuedAt     string                 `json:"issued_at"`
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:           order.ID,
		Number:       order.Number,
		CustomerName: order.CustomerInfo.FullName(),
		ProductName:  order.Product.Name,
		DeliveryType: string(order.Delivery.Type),
		DeliveryDate: formatTime(order.Delivery.Date),
		TotalPrice:   order.Pricing.TotalPrice.String(),
		Status:       string(order.Status),
		StatusLabel:  order.Status.Label(),
		CreatedAt:    formatTime(order.CreatedAt),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	return orderPayload{
		ID:           order.ID,
		Number:       order.Number,
		CustomerInfo: buildCustomerInfoPayload(order.CustomerInfo),
		Product:      buildProductSnapshotPayload(order.Product),
		Customization: customizationPayload{
			SpecialRequests: order.Customization.SpecialRequests,
		},
		Delivery:    buildDeliveryPayload(order.Delivery),
		Pricing:     buildPricingPayload(order.Pricing),
		Acompte:     buildDepositPayload(order.Acompte),
		Balance:     order.Balance().String(),
		Status:      string(order.Status),
		StatusLabel: order.Status.Label(),
		IsModified:  order.IsModified,
		Version:     order.Version,
		CreatedAt:   formatTime(order.CreatedAt),
		UpdatedAt:   formatTime(order.UpdatedAt),
	}
}

func buildInvoicePayload(invoice services.Invoice) invoicePayload {
	return invoicePayload{
		OrderID:      invoice.OrderID,
		Number:       invoice.Number,
		CustomerInfo: buildCustomerInfoPayload(invoice.CustomerInfo),
		Product:      buildProductSnapshotPayload(invoice.Product),
		Delivery:     buildDeliveryPayload(invoice.Delivery),
		Pricing:      buildPricingPayload(invoice.Pricing),
		Deposit:      buildDepositPayload(invoice.Deposit),
		Balance:      invoice.Balance.String(),
		Status:       string(invoice.Status),
		StatusLabel:  invoice.StatusLabel,
		IssuedAt:     formatTime(invoice.IssuedAt),
	}
}

func buildProductSnapshotPayload(snapshot services.ProductSnapshot) productSnapshotPayload {
	return productSnapshotPayload{
		ProductID: snapshot.ProductID,
		Name:      snapshot.Name,
		Size:      snapshot.Size,
		UnitPrice: snapshot.UnitPrice.String(),
		Category:  snapshot.Category,
		ImageURL:  snapshot.ImageURL,
	}
}

func buildDeliveryPayload(delivery services.Delivery) deliveryPayload {
	return deliveryPayload{
		Type:     string(delivery.Type),
		Date:     formatTime(delivery.Date),
		TimeSlot: delivery.TimeSlot,
		Address:  delivery.Address,
	}
}

func buildPricingPayload(pricing services.Pricing) pricingPayload {
	return pricingPayload{
		BasePrice:     pricing.BasePrice.String(),
		DeliveryPrice: pricing.DeliveryPrice.String(),
		TotalPrice:    pricing.TotalPrice.String(),
	}
}

func buildDepositPayload(deposit *services.Deposit) *depositPayload {
	if deposit == nil {
		return nil
	}
	return &depositPayload{
		Amount: deposit.Amount.String(),
		Date:   formatTime(deposit.Date),
	}
}

// Shared helpers ------------------------------------------------------------

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	var repoErr repositories.RepositoryError
	switch {
	case errors.Is(err, services.ErrOrderDepositInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_deposit", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrProductUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("product_unavailable", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	case errors.As(err, &repoErr) && repoErr.IsUnavailable():
		httpx.WriteError(ctx, w, httpx.NewError("storage_unavailable", "order storage is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	case errors.Is(err, errEmptyBody):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

func requireOrderID(ctx context.Context, w http.ResponseWriter, r *http.Request, orders services.OrderService) (string, bool) {
	if orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return "", false
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return "", false
	}
	return orderID, true
}

func decodeJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return false
	}
	return true
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = maxOrderBodySize
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func actorFromContext(ctx context.Context) string {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil {
		return ""
	}
	return strings.TrimSpace(identity.UID)
}

func clientKey(r *http.Request) string {
	if r == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}

func parsePageSize(raw string, fallback, max int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	size, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	switch {
	case size <= 0:
		return fallback, nil
	case size > max:
		return max, nil
	default:
		return size, nil
	}
}

func parseFilterValues(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{})
	filters := make([]string, 0, len(values))
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			trimmed := strings.ToLower(strings.TrimSpace(part))
			if trimmed == "" {
				continue
			}
			if _, exists := seen[trimmed]; exists {
				continue
			}
			seen[trimmed] = struct{}{}
			filters = append(filters, trimmed)
		}
	}
	return filters
}

func parseTimeParam(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("timestamp is empty")
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("must be RFC3339 timestamp")
}

// parseDeliveryDate accepts either a full timestamp or a plain date, which the
// original order form sent for delivery days.
func parseDeliveryDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if ts, err := parseTimeParam(value); err == nil {
		return ts, nil
	}
	ts, err := time.Parse(deliveryDateLayout, value)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
