package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/atelier-sucre/api/internal/domain"
	"github.com/atelier-sucre/api/internal/repositories"
)

const (
	testimonialIDPrefix     = "tst_"
	testimonialEventCreated = "testimonial.created"
	testimonialEventUpdated = "testimonial.updated"
	testimonialEventDeleted = "testimonial.deleted"

	maxTestimonialLength = 1000
)

var (
	// ErrTestimonialInvalidInput indicates validation failures for testimonial operations.
	ErrTestimonialInvalidInput = errors.New("testimonial: invalid input")
	// ErrTestimonialNotFound indicates a testimonial could not be located.
	ErrTestimonialNotFound = errors.New("testimonial: not found")
	// ErrTestimonialConflict signals conflicting concurrent updates.
	ErrTestimonialConflict = errors.New("testimonial: conflict")
)

// TestimonialEventPublisher emits testimonial lifecycle events to downstream consumers.
type TestimonialEventPublisher interface {
	PublishTestimonialEvent(ctx context.Context, event TestimonialEvent) error
}

// TestimonialEvent captures metadata for emitted testimonial events.
type TestimonialEvent struct {
	Type          string
	TestimonialID string
	Rating        int
	ActorID       string
	OccurredAt    time.Time
}

// TestimonialServiceDeps bundles collaborators required to construct a TestimonialService.
type TestimonialServiceDeps struct {
	Testimonials repositories.TestimonialRepository
	Clock        func() time.Time
	IDGenerator  func() string
	Events       TestimonialEventPublisher
}

type testimonialService struct {
	testimonials repositories.TestimonialRepository
	clock        func() time.Time
	newID        func() string
	events       TestimonialEventPublisher
}

// NewTestimonialService wires dependencies into a concrete TestimonialService implementation.
func NewTestimonialService(deps TestimonialServiceDeps) (TestimonialService, error) {
	if deps.Testimonials == nil {
		return nil, errors.New("testimonial service: repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	return &testimonialService{
		testimonials: deps.Testimonials,
		clock:        func() time.Time { return clock().UTC() },
		newID:        idGen,
		events:       deps.Events,
	}, nil
}

func (s *testimonialService) ListTestimonials(ctx context.Context, filter TestimonialListFilter) (domain.CursorPage[Testimonial], error) {
	page, err := s.testimonials.List(ctx, repositories.TestimonialListFilter{
		MinRating: filter.MinRating,
		Pagination: domain.Pagination{
			PageSize:  filter.Pagination.PageSize,
			PageToken: strings.TrimSpace(filter.Pagination.PageToken),
		},
	})
	if err != nil {
		return domain.CursorPage[Testimonial]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *testimonialService) Submit(ctx context.Context, cmd SubmitTestimonialCommand) (Testimonial, error) {
	name := strings.TrimSpace(cmd.CustomerName)
	if len([]rune(name)) < 2 {
		return Testimonial{}, fmt.Errorf("%w: customer name must have at least 2 characters", ErrTestimonialInvalidInput)
	}
	comment := sanitizeFreeText(cmd.Comment)
	if comment == "" {
		return Testimonial{}, fmt.Errorf("%w: comment is required", ErrTestimonialInvalidInput)
	}
	if len([]rune(comment)) > maxTestimonialLength {
		return Testimonial{}, fmt.Errorf("%w: comment exceeds %d characters", ErrTestimonialInvalidInput, maxTestimonialLength)
	}
	if cmd.Rating < 1 || cmd.Rating > 5 {
		return Testimonial{}, fmt.Errorf("%w: rating must be between 1 and 5", ErrTestimonialInvalidInput)
	}

	now := s.clock()
	date := now
	if cmd.Date != nil && !cmd.Date.IsZero() {
		date = cmd.Date.UTC()
	}

	testimonial := Testimonial{
		ID:           testimonialIDPrefix + s.newID(),
		CustomerName: name,
		Comment:      comment,
		Rating:       cmd.Rating,
		Date:         date,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.testimonials.Insert(ctx, testimonial); err != nil {
		return Testimonial{}, s.mapRepositoryError(err)
	}

	s.emitEvent(ctx, testimonialEventCreated, testimonial, "")
	return testimonial, nil
}

func (s *testimonialService) Update(ctx context.Context, cmd UpdateTestimonialCommand) (Testimonial, error) {
	testimonialID := strings.TrimSpace(cmd.TestimonialID)
	if testimonialID == "" {
		return Testimonial{}, fmt.Errorf("%w: testimonial id is required", ErrTestimonialInvalidInput)
	}

	testimonial, err := s.testimonials.FindByID(ctx, testimonialID)
	if err != nil {
		return Testimonial{}, s.mapRepositoryError(err)
	}

	if cmd.CustomerName != nil {
		name := strings.TrimSpace(*cmd.CustomerName)
		if len([]rune(name)) < 2 {
			return Testimonial{}, fmt.Errorf("%w: customer name must have at least 2 characters", ErrTestimonialInvalidInput)
		}
		testimonial.CustomerName = name
	}
	if cmd.Comment != nil {
		comment := sanitizeFreeText(*cmd.Comment)
		if comment == "" {
			return Testimonial{}, fmt.Errorf("%w: comment is required", ErrTestimonialInvalidInput)
		}
		testimonial.Comment = comment
	}
	if cmd.Rating != nil {
		if *cmd.Rating < 1 || *cmd.Rating > 5 {
			return Testimonial{}, fmt.Errorf("%w: rating must be between 1 and 5", ErrTestimonialInvalidInput)
		}
		testimonial.Rating = *cmd.Rating
	}
	testimonial.UpdatedAt = s.clock()

	if err := s.testimonials.Update(ctx, testimonial); err != nil {
		return Testimonial{}, s.mapRepositoryError(err)
	}

	s.emitEvent(ctx, testimonialEventUpdated, testimonial, cmd.ActorID)
	return testimonial, nil
}

func (s *testimonialService) Delete(ctx context.Context, testimonialID string, actorID string) error {
	testimonialID = strings.TrimSpace(testimonialID)
	if testimonialID == "" {
		return fmt.Errorf("%w: testimonial id is required", ErrTestimonialInvalidInput)
	}

	if err := s.testimonials.Delete(ctx, testimonialID); err != nil {
		return s.mapRepositoryError(err)
	}

	s.emitEvent(ctx, testimonialEventDeleted, Testimonial{ID: testimonialID}, actorID)
	return nil
}

func (s *testimonialService) emitEvent(ctx context.Context, eventType string, testimonial Testimonial, actorID string) {
	if s.events == nil {
		return
	}
	_ = s.events.PublishTestimonialEvent(ctx, TestimonialEvent{
		Type:          eventType,
		TestimonialID: testimonial.ID,
		Rating:        testimonial.Rating,
		ActorID:       strings.TrimSpace(actorID),
		OccurredAt:    s.clock(),
	})
}

func (s *testimonialService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrTestimonialNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrTestimonialConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("testimonial: repository unavailable: %w", err)
		}
	}

	return err
}
