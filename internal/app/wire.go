package app

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tunevault/platform/internal/auth"
	"github.com/tunevault/platform/internal/cache"
	"github.com/tunevault/platform/internal/domain"
	"github.com/tunevault/platform/internal/gateway"
	"github.com/tunevault/platform/internal/guard"
	"github.com/tunevault/platform/internal/handler"
	adminhandler "github.com/tunevault/platform/internal/handler/admin"
	"github.com/tunevault/platform/internal/infra"
	"github.com/tunevault/platform/internal/metrics"
	"github.com/tunevault/platform/internal/provider"
	"github.com/tunevault/platform/internal/service"
	"github.com/tunevault/platform/internal/store"
)

// webhookDedupWindow covers Stripe's fast redelivery bursts; older
// duplicates are caught by the unique provider id in the ledger.
const webhookDedupWindow = time.Hour

// RouterDeps holds all dependencies needed by NewRouter.
type RouterDeps struct {
	Config   *infra.Config
	Store    store.Store
	Stripe   *provider.StripeProvider
	Cache    cache.OwnershipCache
	JWTMgr   *auth.JWTManager
	Registry *prometheus.Registry
	Logger   *slog.Logger
}

// App is the assembled HTTP surface.
type App struct {
	Router chi.Router
	Access *service.AccessGate
}

// NewRouter assembles the chi.Router with all routes and middleware.
func NewRouter(deps RouterDeps) *App {
	cfg := deps.Config
	logger := deps.Logger
	jwtMgr := deps.JWTMgr
	m := metrics.New(deps.Registry)

	ownership := deps.Cache
	if ownership == nil {
		ownership = cache.Noop{}
	}

	// Payment boundary
	gw := gateway.New(deps.Stripe, gateway.Config{
		Currency: cfg.PaymentCurrency,
		Timeout:  cfg.GatewayTimeout,
	}, m, logger)

	// Services
	cartSvc := service.NewCartService(deps.Store, m, logger)
	finalizer := service.NewFinalizer(deps.Store, gw, ownership, service.FinalizerConfig{
		Currency:       cfg.PaymentCurrency,
		CommitAttempts: cfg.FinalizeMaxAttempts,
	}, m, logger)
	purchaseSvc := service.NewPurchaseService(deps.Store, cartSvc, gw, finalizer, deps.Stripe,
		guard.NewIdempotencyGuard(webhookDedupWindow), logger)
	accessGate := service.NewAccessGate(deps.Store, ownership, m, logger)

	// Handlers
	cartHandler := handler.NewCartHandler(cartSvc)
	purchaseHandler := handler.NewPurchaseHandler(purchaseSvc)
	accessHandler := handler.NewAccessHandler(accessGate)
	webhookHandler := handler.NewWebhookHandler(purchaseSvc, m, logger)
	purchaseAudit := adminhandler.NewPurchaseAuditHandler(purchaseSvc)

	purchaseLimiter := guard.NewRateLimiter(cfg.PurchaseRateLimit, time.Minute)

	// Router
	r := chi.NewRouter()

	// Global middleware (order matters)
	r.Use(handler.Recovery(logger))
	r.Use(handler.RequestID)
	r.Use(handler.RequestLogger(logger))
	r.Use(handler.Metrics(m))
	r.Use(handler.CORSWithOrigins(cfg.CORSOrigins()...))

	// Prometheus exposition keeps its own content type.
	r.Handle("/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(handler.JSONContentType)

		// Health (no auth)
		r.Get("/health", handler.HealthHandler(deps.Store))

		// Webhooks (no auth; raw body required for signature verification)
		r.Post("/webhooks/stripe", webhookHandler.HandleStripeWebhook)

		// Public preview (no auth)
		r.Get("/tracks/{id}/preview", accessHandler.Preview)

		// Listener-authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(auth.AuthenticateListener(jwtMgr))

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", cartHandler.GetCart)
				r.Delete("/", cartHandler.ClearCart)
				r.Post("/items", cartHandler.AddItem)
				r.Delete("/items/{trackID}", cartHandler.RemoveItem)
			})

			r.Route("/purchases", func(r chi.Router) {
				r.Get("/", purchaseHandler.ListPurchases)
				r.Group(func(r chi.Router) {
					r.Use(handler.RateLimit(purchaseLimiter))
					r.Post("/intent", purchaseHandler.CreateIntent)
					r.Post("/finalize", purchaseHandler.Finalize)
				})
			})

			r.Get("/library", accessHandler.Library)
			r.Get("/tracks/{id}/ownership", accessHandler.Ownership)
			r.Get("/tracks/{id}/stream", accessHandler.Stream)
		})

		// Admin-authenticated routes
		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.AuthenticateAdmin(jwtMgr))
			r.Use(auth.RequireRole(auth.AuditRoles()...))

			r.Get("/purchases", purchaseAudit.ListPurchases)
			r.Get("/purchases/{providerID}", purchaseAudit.GetPurchase)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		handler.RespondError(w, domain.ErrNotFound("route", r.URL.Path))
	})

	return &App{Router: r, Access: accessGate}
}
