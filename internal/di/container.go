package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hanko-field/checkout/internal/handlers"
	"github.com/hanko-field/checkout/internal/payments"
	"github.com/hanko-field/checkout/internal/platform/auth"
	"github.com/hanko-field/checkout/internal/platform/config"
	"github.com/hanko-field/checkout/internal/platform/events"
	pfirestore "github.com/hanko-field/checkout/internal/platform/firestore"
	"github.com/hanko-field/checkout/internal/platform/idempotency"
	"github.com/hanko-field/checkout/internal/platform/observability"
	"github.com/hanko-field/checkout/internal/repositories"
	firestoreRepo "github.com/hanko-field/checkout/internal/repositories/firestore"
	"github.com/hanko-field/checkout/internal/repositories/memory"
	"github.com/hanko-field/checkout/internal/repositories/rediscache"
	"github.com/hanko-field/checkout/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Cart     services.CartService
	Promos   services.PromoValidator
	Checkout services.CheckoutService
	Orders   services.OrderService
	Reviews  services.ReviewService
	System   services.SystemService
}

// Container wires repositories, services, transports and the HTTP router for runtime use.
type Container struct {
	Config        config.Config
	Logger        *zap.Logger
	Metrics       *observability.Metrics
	Repositories  repositories.Registry
	Services      Services
	Authenticator *auth.Authenticator
	Idempotency   idempotency.Store
	Router        http.Handler

	closers []closer
}

type closer struct {
	name string
	fn   func(context.Context) error
}

// Option overrides a collaborator the container would otherwise build from configuration.
type Option func(*options)

type options struct {
	registry repositories.Registry
	gateway  payments.Gateway
	notifier services.OrderNotifier
	verifier auth.TokenVerifier
	metrics  *observability.Metrics
	build    services.BuildInfo
	checks   []repositories.DependencyCheck
	clock    func() time.Time
}

// WithRegistry uses reg instead of the configured datastore driver.
func WithRegistry(reg repositories.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithGateway uses gateway instead of the configured payment provider. It is still wrapped with
// verification retries.
func WithGateway(gateway payments.Gateway) Option {
	return func(o *options) { o.gateway = gateway }
}

// WithNotifier uses notifier instead of the configured events driver.
func WithNotifier(notifier services.OrderNotifier) Option {
	return func(o *options) { o.notifier = notifier }
}

// WithVerifier uses verifier instead of the configured token key source.
func WithVerifier(verifier auth.TokenVerifier) Option {
	return func(o *options) { o.verifier = verifier }
}

// WithMetrics shares an existing metrics registry, e.g. one the secret fetcher already uses.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithBuildInfo sets the version metadata reported by health endpoints.
func WithBuildInfo(build services.BuildInfo) Option {
	return func(o *options) { o.build = build }
}

// WithDependencyChecks adds readiness checks beyond the datastore and Redis.
func WithDependencyChecks(checks ...repositories.DependencyCheck) Option {
	return func(o *options) { o.checks = append(o.checks, checks...) }
}

// WithClock overrides the clock handed to services.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// NewContainer constructs the runtime dependencies. On error every resource opened so far is closed.
func NewContainer(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (c *Container, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.metrics == nil {
		o.metrics = observability.NewMetrics()
	}

	c = &Container{Config: cfg, Logger: logger, Metrics: o.metrics}
	defer func() {
		if err != nil {
			_ = c.Close(context.Background())
			c = nil
		}
	}()

	eventLog := observability.EventLogger(logger.Named("services"))

	var redisClient *redis.Client
	if addr := strings.TrimSpace(cfg.Redis.Addr); addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		c.addCloser("redis", func(context.Context) error { return redisClient.Close() })
		o.checks = append(o.checks, repositories.DependencyCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	}

	reg, health, err := c.buildRegistry(ctx, cfg, o, redisClient, eventLog)
	if err != nil {
		return nil, err
	}
	c.Repositories = reg

	gateway, err := buildGateway(cfg.Payment, o.gateway, eventLog)
	if err != nil {
		return nil, err
	}

	notifier, err := c.buildNotifier(ctx, cfg.Events, o.notifier, logger)
	if err != nil {
		return nil, err
	}

	svc, err := buildServices(reg, health, gateway, notifier, cfg, o, eventLog)
	if err != nil {
		return nil, err
	}
	c.Services = svc

	verifier := o.verifier
	if verifier == nil {
		verifier, err = auth.NewVerifier(ctx, cfg.Auth, cfg.Firebase)
		if err != nil {
			return nil, fmt.Errorf("build token verifier: %w", err)
		}
	}
	c.Authenticator = auth.NewAuthenticator(verifier, auth.WithAuthenticatedMiddleware(observability.AnnotateIdentity))

	if redisClient != nil {
		store, err := idempotency.NewRedisStore(redisClient)
		if err != nil {
			return nil, fmt.Errorf("build idempotency store: %w", err)
		}
		c.Idempotency = store
	} else {
		c.Idempotency = idempotency.NewMemoryStore()
	}

	c.Router = c.buildRouter(cfg, o.build)
	return c, nil
}

func (c *Container) addCloser(name string, fn func(context.Context) error) {
	c.closers = append(c.closers, closer{name: name, fn: fn})
}

func (c *Container) buildRegistry(ctx context.Context, cfg config.Config, o options, redisClient *redis.Client, eventLog func(context.Context, string, map[string]any)) (repositories.Registry, repositories.HealthRepository, error) {
	reg := o.registry
	switch {
	case reg != nil:
	case cfg.Datastore.Driver == config.DatastoreMemory:
		reg = memory.NewStore()
	default:
		provider := pfirestore.NewProvider(cfg.Firestore,
			pfirestore.WithRetryHook(func(ctx context.Context, op string, attempt int) {
				c.Metrics.TransactionRetry(op)
				eventLog(ctx, "firestore.tx_retry", map[string]any{"op": op, "attempt": attempt})
			}),
		)
		if _, err := provider.Client(ctx); err != nil {
			_ = provider.Close(ctx)
			return nil, nil, fmt.Errorf("init firestore client: %w", err)
		}
		var registryOpts []firestoreRepo.RegistryOption
		if redisClient != nil {
			registryOpts = append(registryOpts, firestoreRepo.WithProductDecorator(productCache(redisClient, cfg.Redis.ProductTTL, c.Metrics, eventLog)))
		}
		registryOpts = append(registryOpts, firestoreRepo.WithHealthChecks(o.checks...))
		firestoreReg, err := firestoreRepo.NewRegistry(provider, registryOpts...)
		if err != nil {
			_ = provider.Close(ctx)
			return nil, nil, fmt.Errorf("build firestore registry: %w", err)
		}
		c.addCloser("firestore", firestoreReg.Close)
		return firestoreReg, firestoreReg.Health(), nil
	}
	c.addCloser("datastore", reg.Close)

	health := reg.Health()
	if len(o.checks) > 0 && health != nil {
		base := health
		checks := append([]repositories.DependencyCheck{{
			Name: "datastore",
			Check: func(ctx context.Context) error {
				_, err := base.Collect(ctx)
				return err
			},
		}}, o.checks...)
		combined, err := repositories.NewDependencyHealthRepository(checks)
		if err != nil {
			return nil, nil, fmt.Errorf("build health repository: %w", err)
		}
		health = combined
	}
	return reg, health, nil
}

func productCache(client *redis.Client, ttl time.Duration, metrics *observability.Metrics, eventLog func(context.Context, string, map[string]any)) func(repositories.ProductRepository) repositories.ProductRepository {
	logger := func(ctx context.Context, event string, fields map[string]any) {
		metrics.CacheEvent(event)
		eventLog(ctx, event, fields)
	}
	return func(next repositories.ProductRepository) repositories.ProductRepository {
		cache, err := rediscache.NewProductCache(next, client, rediscache.WithTTL(ttl), rediscache.WithLogger(logger))
		if err != nil {
			return next
		}
		return cache
	}
}

func buildGateway(cfg config.PaymentConfig, override payments.Gateway, eventLog payments.Logger) (payments.Gateway, error) {
	gateway := override
	if gateway == nil {
		switch cfg.Provider {
		case config.PaymentStripe:
			gateway = payments.NewStripeGateway(payments.StripeGatewayConfig{
				APIKey:    cfg.SecretKey,
				AccountID: cfg.AccountID,
				Logger:    eventLog,
			})
		default:
			hosted, err := payments.NewHostedGateway(payments.HostedGatewayConfig{
				BaseURL:   cfg.BaseURL,
				SecretKey: cfg.SecretKey,
				Timeout:   cfg.Timeout,
				Logger:    eventLog,
			})
			if err != nil {
				return nil, fmt.Errorf("build hosted gateway: %w", err)
			}
			gateway = hosted
		}
	}
	return payments.NewRetryingGateway(gateway,
		payments.WithVerifyAttempts(cfg.VerifyAttempts),
		payments.WithRetryLogger(eventLog),
	), nil
}

func (c *Container) buildNotifier(ctx context.Context, cfg config.EventsConfig, override services.OrderNotifier, logger *zap.Logger) (services.OrderNotifier, error) {
	if override != nil {
		return override, nil
	}
	switch cfg.Driver {
	case config.EventsPubSub:
		client, err := pubsub.NewClient(ctx, cfg.PubSubProject)
		if err != nil {
			return nil, fmt.Errorf("init pubsub client: %w", err)
		}
		c.addCloser("pubsub", func(context.Context) error { return client.Close() })
		notifier, err := events.NewPubSubNotifier(client.Topic(cfg.Topic))
		if err != nil {
			return nil, err
		}
		c.addCloser("pubsub-topic", func(context.Context) error { return notifier.Close() })
		return notifier, nil
	case config.EventsKafka:
		notifier, err := events.NewKafkaNotifier(cfg.KafkaBrokers, cfg.Topic)
		if err != nil {
			return nil, err
		}
		c.addCloser("kafka", func(context.Context) error { return notifier.Close() })
		return notifier, nil
	default:
		return events.NewLogNotifier(logger.Named("events")), nil
	}
}

func buildServices(reg repositories.Registry, health repositories.HealthRepository, gateway payments.Gateway, notifier services.OrderNotifier, cfg config.Config, o options, eventLog func(context.Context, string, map[string]any)) (Services, error) {
	var svc Services
	var err error

	svc.Cart, err = services.NewCartService(services.CartServiceDeps{
		Users:    reg.Users(),
		Products: reg.Products(),
		Carts:    reg.Carts(),
		Clock:    o.clock,
		Logger:   eventLog,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}

	svc.Promos, err = services.NewPromoValidator(services.PromoValidatorDeps{
		Promotions: reg.Promotions(),
		Clock:      o.clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build promo validator: %w", err)
	}

	svc.Checkout, err = services.NewCheckoutService(services.CheckoutServiceDeps{
		Users:           reg.Users(),
		Carts:           reg.Carts(),
		Products:        reg.Products(),
		Orders:          reg.Orders(),
		UnitOfWork:      reg,
		Gateway:         gateway,
		Promos:          svc.Promos,
		Clock:           o.clock,
		Logger:          eventLog,
		Metrics:         o.metrics,
		Tracer:          observability.Tracer(),
		DefaultCurrency: cfg.Payment.Currency,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}

	svc.Orders, err = services.NewOrderService(services.OrderServiceDeps{
		Orders:   reg.Orders(),
		Notifier: notifier,
		Clock:    o.clock,
		Logger:   eventLog,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}

	svc.Reviews, err = services.NewReviewService(services.ReviewServiceDeps{
		Reviews: reg.Reviews(),
		Orders:  reg.Orders(),
		Clock:   o.clock,
		Logger:  eventLog,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build review service: %w", err)
	}

	if health != nil {
		svc.System, err = services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: health,
			Clock:            o.clock,
			Build:            o.build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
	}
	return svc, nil
}

func (c *Container) buildRouter(cfg config.Config, build services.BuildInfo) http.Handler {
	httpLogger := c.Logger.Named("http")
	projectID := cfg.Firestore.ProjectID

	healthOpts := []handlers.HealthOption{handlers.WithHealthBuildInfo(build)}
	if c.Services.System != nil {
		healthOpts = append(healthOpts, handlers.WithHealthSystemService(c.Services.System))
	}

	cart := handlers.NewCartHandlers(c.Authenticator, c.Services.Cart)
	checkout := handlers.NewCheckoutHandlers(c.Authenticator, c.Services.Checkout,
		handlers.WithInitializeMiddleware(idempotency.Middleware(c.Idempotency)))
	promos := handlers.NewPromoHandlers(c.Authenticator, c.Services.Promos)
	orders := handlers.NewOrderHandlers(c.Authenticator, c.Services.Orders, cfg.Auth.StaffRoles)
	reviews := handlers.NewReviewHandlers(c.Authenticator, c.Services.Reviews)

	return handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(httpLogger),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(httpLogger),
			observability.RequestLoggerMiddleware(c.Metrics),
		),
		handlers.WithStorefrontMiddlewares(observability.AnnotateStorefront),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(healthOpts...)),
		handlers.WithMetricsHandler(c.Metrics.Handler()),
		handlers.WithStorefrontRoutes(cart.Routes, checkout.Routes, promos.Routes, orders.Routes, reviews.Routes),
	)
}

// Close releases resources in reverse order of acquisition and reports every failure.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", c.closers[i].name, err))
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
