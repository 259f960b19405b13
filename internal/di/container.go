package di

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/hanko-field/marketplace/internal/payments"
	"github.com/hanko-field/marketplace/internal/platform/config"
	"github.com/hanko-field/marketplace/internal/platform/observability"
	"github.com/hanko-field/marketplace/internal/repositories"
	"github.com/hanko-field/marketplace/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Cart     services.CartService
	Orders   services.OrderService
	Payments services.PaymentService
}

// Collaborators are the outbound adapters the services publish to. Any of them may be nil; the
// services degrade to logging or to an unavailable error.
type Collaborators struct {
	Provider    payments.Provider
	OrderEvents services.OrderEventPublisher
	Notifier    services.PaymentNotifier
	Assets      services.AssetStore
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services

	closers []func(context.Context) error
}

type containerOptions struct {
	logger        *zap.Logger
	collaborators Collaborators
	meter         metric.Meter
	clock         func() time.Time
	newID         func() string
	closers       []func(context.Context) error
}

// Option customises container construction.
type Option func(*containerOptions)

// WithLogger sets the logger the services emit their events through.
func WithLogger(logger *zap.Logger) Option {
	return func(o *containerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithCollaborators injects the outbound adapters.
func WithCollaborators(c Collaborators) Option {
	return func(o *containerOptions) {
		o.collaborators = c
	}
}

// WithMeter overrides the OpenTelemetry meter used by the services.
func WithMeter(meter metric.Meter) Option {
	return func(o *containerOptions) {
		o.meter = meter
	}
}

// WithClock overrides the service clock.
func WithClock(clock func() time.Time) Option {
	return func(o *containerOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithIDGenerator overrides the id generator shared by the services.
func WithIDGenerator(fn func() string) Option {
	return func(o *containerOptions) {
		if fn != nil {
			o.newID = fn
		}
	}
}

// WithCloser registers a release hook that runs on Close after the repositories shut down.
func WithCloser(fn func(context.Context) error) Option {
	return func(o *containerOptions) {
		if fn != nil {
			o.closers = append(o.closers, fn)
		}
	}
}

// NewContainer constructs the runtime dependencies. Production wiring passes the Firestore registry
// and Cloud adapters; tests supply the in-memory registry.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts ...Option) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	options := containerOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	svc, err := buildServices(ctx, reg, cfg, options)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
		closers:      options.closers,
	}, nil
}

// Close releases resources such as repository clients and publisher topics.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.Repositories != nil {
		if err := c.Repositories.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close repositories: %w", err))
		}
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, opts containerOptions) (Services, error) {
	var svc Services
	collab := opts.collaborators

	cartSvc, err := services.NewCartService(services.CartServiceDeps{
		UnitOfWork:  reg,
		Carts:       reg.Carts(),
		Clock:       opts.clock,
		IDGenerator: opts.newID,
		Logger:      observability.EventLogger(opts.logger.Named("cart")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}
	svc.Cart = cartSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		UnitOfWork:  reg,
		Orders:      reg.Orders(),
		Pricing:     PricingPolicy(cfg.Pricing),
		Assets:      collab.Assets,
		Events:      collab.OrderEvents,
		Currency:    cfg.Pricing.Currency,
		Meter:       opts.meter,
		Clock:       opts.clock,
		IDGenerator: opts.newID,
		Logger:      observability.EventLogger(opts.logger.Named("orders")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	checkout, err := CheckoutURLs(cfg.Stripe)
	if err != nil {
		return Services{}, err
	}
	paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
		UnitOfWork:  reg,
		Payments:    reg.Payments(),
		Orders:      reg.Orders(),
		Provider:    collab.Provider,
		Notifier:    collab.Notifier,
		Events:      collab.OrderEvents,
		Checkout:    checkout,
		Clock:       opts.clock,
		IDGenerator: opts.newID,
		Logger:      observability.EventLogger(opts.logger.Named("payments")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build payment service: %w", err)
	}
	svc.Payments = paymentSvc

	return svc, nil
}

// PricingPolicy converts the pricing configuration into the flat rate policy used for order totals.
func PricingPolicy(cfg config.PricingConfig) services.FlatRatePolicy {
	return services.FlatRatePolicy{
		ShippingFee:           cfg.ShippingFee,
		TaxBasisPoints:        cfg.TaxBasisPoints,
		EditTaxBasisPoints:    cfg.EditTaxBasisPoints,
		EditShippingFee:       cfg.EditShippingFee,
		FreeShippingThreshold: cfg.FreeShippingThreshold,
	}
}

// CheckoutURLs joins the storefront origin with the configured return paths. Without a client URL
// the paths are used as given.
func CheckoutURLs(cfg config.StripeConfig) (services.CheckoutURLs, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.ClientURL), "/")
	if base != "" {
		parsed, err := url.Parse(base)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return services.CheckoutURLs{}, fmt.Errorf("stripe client url %q must be absolute", cfg.ClientURL)
		}
	}
	return services.CheckoutURLs{
		SuccessURL:       base + ensureLeadingSlash(cfg.SuccessPath),
		CancelURL:        base + ensureLeadingSlash(cfg.CancelPath),
		AllowedCountries: append([]string(nil), cfg.AllowedCountries...),
	}, nil
}

func ensureLeadingSlash(path string) string {
	path = strings.TrimSpace(path)
	if path == "" || strings.HasPrefix(path, "/") {
		return path
	}
	return "/" + path
}
