package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/atelier-sucre/api/internal/platform/auth"
	"github.com/atelier-sucre/api/internal/platform/httpx"
	"github.com/atelier-sucre/api/internal/repositories"
	"github.com/atelier-sucre/api/internal/services"
)

const (
	defaultTestimonialPageSize = 20
	maxTestimonialPageSize     = 100
)

// TestimonialHandlers exposes the public testimonial wall.
type TestimonialHandlers struct {
	testimonials services.TestimonialService
	limiter      RateLimiter
}

// NewTestimonialHandlers constructs the public testimonial endpoints.
func NewTestimonialHandlers(testimonials services.TestimonialService, limiter RateLimiter) *TestimonialHandlers {
	return &TestimonialHandlers{
		testimonials: testimonials,
		limiter:      limiter,
	}
}

// Routes registers the public /testimonials endpoints.
func (h *TestimonialHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listTestimonials)
	r.Post("/", h.submitTestimonial)
}

func (h *TestimonialHandlers) listTestimonials(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.testimonials == nil {
		httpx.WriteError(ctx, w, httpx.NewError("testimonials_unavailable", "testimonial service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	pageSize, err := parsePageSize(query.Get("page_size"), defaultTestimonialPageSize, maxTestimonialPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be an integer", http.StatusBadRequest))
		return
	}

	filter := services.TestimonialListFilter{
		Pagination: services.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	}
	if raw := strings.TrimSpace(query.Get("min_rating")); raw != "" {
		rating, err := strconv.Atoi(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "min_rating must be an integer", http.StatusBadRequest))
			return
		}
		filter.MinRating = rating
	}

	page, err := h.testimonials.ListTestimonials(ctx, filter)
	if err != nil {
		writeTestimonialError(ctx, w, err)
		return
	}

	items := make([]testimonialPayload, 0, len(page.Items))
	for _, testimonial := range page.Items {
		items = append(items, buildTestimonialPayload(testimonial))
	}
	writeJSONResponse(w, http.StatusOK, testimonialListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

type submitTestimonialRequest struct {
	CustomerName string  `json:"customer_name"`
	Comment      string  `json:"comment"`
	Rating       int     `json:"rating"`
	Date         *string `json:"date"`
}

func (h *TestimonialHandlers) submitTestimonial(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.testimonials == nil {
		httpx.WriteError(ctx, w, httpx.NewError("testimonials_unavailable", "testimonial service unavailable", http.StatusServiceUnavailable))
		return
	}
	if h.limiter != nil && !h.limiter.Allow(clientKey(r)) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many requests, try again later", http.StatusTooManyRequests))
		return
	}

	var req submitTestimonialRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	cmd := services.SubmitTestimonialCommand{
		CustomerName: strings.TrimSpace(req.CustomerName),
		Comment:      req.Comment,
		Rating:       req.Rating,
	}
	if req.Date != nil {
		date, err := parseTimeParam(strings.TrimSpace(*req.Date))
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "date must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		cmd.Date = &date
	}

	testimonial, err := h.testimonials.Submit(ctx, cmd)
	if err != nil {
		writeTestimonialError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, testimonialResponse{Testimonial: buildTestimonialPayload(testimonial)})
}

// AdminTestimonialHandlers exposes the back-office testimonial curation endpoints.
type AdminTestimonialHandlers struct {
	authn        *auth.Authenticator
	testimonials services.TestimonialService
}

// NewAdminTestimonialHandlers constructs the admin testimonial endpoints.
func NewAdminTestimonialHandlers(authn *auth.Authenticator, testimonials services.TestimonialService) *AdminTestimonialHandlers {
	return &AdminTestimonialHandlers{
		authn:        authn,
		testimonials: testimonials,
	}
}

// Routes registers the /admin/testimonials endpoints.
func (h *AdminTestimonialHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin))
	}
	r.Put("/{testimonialID}", h.updateTestimonial)
	r.Delete("/{testimonialID}", h.deleteTestimonial)
}

type updateTestimonialRequest struct {
	CustomerName *string `json:"customer_name"`
	Comment      *string `json:"comment"`
	Rating       *int    `json:"rating"`
}

func (h *AdminTestimonialHandlers) updateTestimonial(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	testimonialID, ok := h.requireTestimonialID(ctx, w, r)
	if !ok {
		return
	}

	var req updateTestimonialRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	testimonial, err := h.testimonials.Update(ctx, services.UpdateTestimonialCommand{
		TestimonialID: testimonialID,
		CustomerName:  req.CustomerName,
		Comment:       req.Comment,
		Rating:        req.Rating,
		ActorID:       actorFromContext(ctx),
	})
	if err != nil {
		writeTestimonialError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, testimonialResponse{Testimonial: buildTestimonialPayload(testimonial)})
}

func (h *AdminTestimonialHandlers) deleteTestimonial(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	testimonialID, ok := h.requireTestimonialID(ctx, w, r)
	if !ok {
		return
	}

	if err := h.testimonials.Delete(ctx, testimonialID, actorFromContext(ctx)); err != nil {
		writeTestimonialError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminTestimonialHandlers) requireTestimonialID(ctx context.Context, w http.ResponseWriter, r *http.Request) (string, bool) {
	if h.testimonials == nil {
		httpx.WriteError(ctx, w, httpx.NewError("testimonials_unavailable", "testimonial service unavailable", http.StatusServiceUnavailable))
		return "", false
	}
	testimonialID := strings.TrimSpace(chi.URLParam(r, "testimonialID"))
	if testimonialID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "testimonial id is required", http.StatusBadRequest))
		return "", false
	}
	return testimonialID, true
}

// Payloads ------------------------------------------------------------------

type testimonialListResponse struct {
	Items         []testimonialPayload `json:"items"`
	NextPageToken string               `json:"next_page_token,omitempty"`
}

type testimonialResponse struct {
	Testimonial testimonialPayload `json:"testimonial"`
}

type testimonialPayload struct {
	ID           string `json:"id"`
	CustomerName string `json:"customer_name"`
	Comment      string `json:"comment"`
	Rating       int    `json:"rating"`
	Date         string `json:"date"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at,omitempty"`
}

func buildTestimonialPayload(testimonial services.Testimonial) testimonialPayload {
	return testimonialPayload{
		ID:           testimonial.ID,
		CustomerName: testimonial.CustomerName,
		Comment:      testimonial.Comment,
		Rating:       testimonial.Rating,
		Date:         formatTime(testimonial.Date),
		CreatedAt:    formatTime(testimonial.CreatedAt),
		UpdatedAt:    formatTime(testimonial.UpdatedAt),
	}
}

func writeTestimonialError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	var repoErr repositories.RepositoryError
	switch {
	case errors.Is(err, services.ErrTestimonialInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrTestimonialNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("testimonial_not_found", "testimonial not found", http.StatusNotFound))
	case errors.Is(err, services.ErrTestimonialConflict):
		httpx.WriteError(ctx, w, httpx.NewError("testimonial_conflict", err.Error(), http.StatusConflict))
	case errors.As(err, &repoErr) && repoErr.IsUnavailable():
		httpx.WriteError(ctx, w, httpx.NewError("storage_unavailable", "testimonial storage is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("testimonial_error", "failed to process testimonial request", http.StatusInternalServerError))
	}
}
