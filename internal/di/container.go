package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/atelier-sucre/api/internal/platform/config"
	pstorage "github.com/atelier-sucre/api/internal/platform/storage"
	"github.com/atelier-sucre/api/internal/repositories"
	"github.com/atelier-sucre/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Orders       services.OrderService
	Catalog      services.CatalogService
	Testimonials services.TestimonialService
	Purchases    services.PurchaseService
	System       services.SystemService
}

// Container wires repositories, services, and supporting infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

type containerDeps struct {
	storage      *pstorage.Client
	orderEvents  services.OrderEventPublisher
	reviewEvents services.TestimonialEventPublisher
	build        services.BuildInfo
	logger       *zap.Logger
}

// ContainerOption injects optional infrastructure into the container.
type ContainerOption func(*containerDeps)

// WithStorageClient provides the signed-URL client used for product image uploads.
func WithStorageClient(client *pstorage.Client) ContainerOption {
	return func(d *containerDeps) {
		d.storage = client
	}
}

// WithOrderEventPublisher provides the publisher receiving order lifecycle events.
func WithOrderEventPublisher(pub services.OrderEventPublisher) ContainerOption {
	return func(d *containerDeps) {
		d.orderEvents = pub
	}
}

// WithTestimonialEventPublisher provides the publisher receiving testimonial events.
func WithTestimonialEventPublisher(pub services.TestimonialEventPublisher) ContainerOption {
	return func(d *containerDeps) {
		d.reviewEvents = pub
	}
}

// WithBuildInfo records version metadata surfaced by the health endpoints.
func WithBuildInfo(build services.BuildInfo) ContainerOption {
	return func(d *containerDeps) {
		d.build = build
	}
}

// WithContainerLogger attaches the structured logger used by the service layer.
func WithContainerLogger(logger *zap.Logger) ContainerOption {
	return func(d *containerDeps) {
		d.logger = logger
	}
}

// NewContainer constructs the runtime dependencies. Production wiring provides real
// implementations, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts ...ContainerOption) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	deps := containerDeps{}
	for _, opt := range opts {
		if opt != nil {
			opt(&deps)
		}
	}
	if deps.build.StartedAt.IsZero() {
		deps.build.StartedAt = time.Now().UTC()
	}
	if deps.build.Environment == "" {
		deps.build.Environment = cfg.Environment
	}

	svc, err := buildServices(ctx, reg, cfg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, deps containerDeps) (Services, error) {
	var svc Services

	logFn := serviceLogger(deps.logger)

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:     reg.Orders(),
		Products:   reg.Products(),
		Counters:   reg.Counters(),
		Pricing:    services.NewOrderPricingEngine(),
		UnitOfWork: reg,
		LeadTime:   cfg.Orders.LeadTime,
		Clock:      time.Now,
		Events:     deps.orderEvents,
		Logger:     logFn,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
		Products:    reg.Products(),
		Storage:     deps.storage,
		ImageBucket: cfg.Storage.MediaBucket,
		ImageHost:   cfg.Storage.MediaHost,
		Clock:       time.Now,
		Logger:      logFn,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}
	svc.Catalog = catalogSvc

	testimonialSvc, err := services.NewTestimonialService(services.TestimonialServiceDeps{
		Testimonials: reg.Testimonials(),
		Clock:        time.Now,
		Events:       deps.reviewEvents,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build testimonial service: %w", err)
	}
	svc.Testimonials = testimonialSvc

	purchaseSvc, err := services.NewPurchaseService(services.PurchaseServiceDeps{
		Purchases: reg.Purchases(),
		Clock:     time.Now,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build purchase service: %w", err)
	}
	svc.Purchases = purchaseSvc

	systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: reg.Health(),
		Counters:         reg.Counters(),
		Clock:            time.Now,
		Build:            deps.build,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}
	svc.System = systemSvc

	return svc, nil
}

func serviceLogger(logger *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	if logger == nil {
		return nil
	}
	return func(_ context.Context, event string, fields map[string]any) {
		zapFields := make([]zap.Field, 0, len(fields))
		for key, value := range fields {
			zapFields = append(zapFields, zap.Any(key, value))
		}
		logger.Info(event, zapFields...)
	}
}
