package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"example.com/payment-reconciler/pkg/metrics"
	"example.com/payment-reconciler/services/payment/internal/middleware"
)

// ReadinessChecker - функция проверки готовности сервиса.
type ReadinessChecker func(ctx context.Context) error

// RouterConfig - параметры для создания роутера.
type RouterConfig struct {
	Service string // имя в span и метриках

	Webhooks WebhookService
	Verifier Verifier
	Links    LinkService // nil - эндпоинты ссылок не регистрируются
	Resyncer Resyncer
	Invoices InvoiceReader

	// DocumentsURL - адрес хранилища PDF счетов для download_url.
	DocumentsURL string

	AdminAuth   *middleware.AdminAuth // nil - admin API не регистрируется
	RateLimitMW *middleware.RateLimit
	CORS        middleware.CORSConfig

	ReadinessCheck ReadinessChecker
	Debug          bool
}

// Router - HTTP роутер сервиса платежей.
type Router struct {
	engine         *gin.Engine
	cfg            RouterConfig
	readinessCheck ReadinessChecker
}

// NewRouter создаёт и настраивает HTTP роутер.
func NewRouter(cfg RouterConfig) *Router {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.Service == "" {
		cfg.Service = "payment-api"
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS(cfg.CORS))
	engine.Use(middleware.SecurityHeaders())
	engine.Use(otelgin.Middleware(cfg.Service))
	engine.Use(metrics.GinMetricsMiddleware(cfg.Service))
	engine.Use(middleware.RequestContext())

	r := &Router{engine: engine, cfg: cfg, readinessCheck: cfg.ReadinessCheck}
	r.setupRoutes()
	return r
}

func (r *Router) setupRoutes() {
	r.engine.GET("/healthz", r.livenessCheck)
	r.engine.GET("/readyz", r.readinessCheckHandler)

	// Вебхук без rate limit: процессор шлёт события пачками.
	if r.cfg.Webhooks != nil {
		r.engine.POST("/webhooks/stripe", NewWebhookHandler(r.cfg.Webhooks).Stripe)
	}

	v1 := r.engine.Group("/api/v1")

	// === Публичные маршруты ===
	public := v1.Group("")
	if r.cfg.RateLimitMW != nil {
		public.Use(r.cfg.RateLimitMW.Handle())
	}
	payments := NewPaymentHandler(r.cfg.Verifier, r.cfg.Links, r.cfg.DocumentsURL)
	if r.cfg.Verifier != nil {
		public.POST("/payments/verify", payments.Verify)
	}
	if r.cfg.Links != nil {
		public.GET("/payment-links/:token", payments.GetLink)
		public.POST("/payment-links/:token/checkout", payments.Checkout)
		public.GET("/payment-links/:token/invoice", payments.Invoice)
	}

	// === Admin маршруты ===
	if r.cfg.AdminAuth == nil {
		return
	}
	admin := v1.Group("/admin", r.cfg.AdminAuth.Handle())
	adminHandler := NewAdminHandler(r.cfg.Links, r.cfg.Resyncer, r.cfg.Invoices, r.cfg.DocumentsURL)
	if r.cfg.Links != nil {
		admin.GET("/orders/:id/payment-links", adminHandler.ListLinks)
		admin.POST("/orders/:id/payment-links", adminHandler.CreateLink)
		admin.PUT("/orders/:id/payment-strategy", adminHandler.SetStrategy)
		admin.DELETE("/payment-links/:token", adminHandler.RevokeLink)
	}
	if r.cfg.Invoices != nil {
		admin.GET("/orders/:id/invoice", adminHandler.Invoice)
	}
	if r.cfg.Resyncer != nil {
		admin.POST("/orders/:id/resync", adminHandler.Resync)
	}
}

// Engine возвращает Gin engine для запуска сервера.
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

func (r *Router) livenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (r *Router) readinessCheckHandler(c *gin.Context) {
	if r.readinessCheck == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := r.readinessCheck(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
