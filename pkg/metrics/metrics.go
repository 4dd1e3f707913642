// Package metrics предоставляет Prometheus метрики сервиса платежей
// и HTTP сервер для /metrics, /healthz и /readyz.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/payment-reconciler/pkg/logger"
)

// =============================================================================
// HTTP
// =============================================================================

var (
	// RequestsTotal - запросы по сервису, маршруту и статусу.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "requests_total",
			Help: "Общее количество запросов по сервису, методу и статусу",
		},
		[]string{"service", "method", "status"},
	)

	// RequestDuration - latency запросов.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "request_duration_seconds",
			Help:    "Время выполнения запроса в секундах",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"service", "method"},
	)
)

// =============================================================================
// Платежи
// =============================================================================

var (
	// Reconciliations - применения подтверждений.
	// outcome: committed | already_processed | not_found | rejected | error.
	Reconciliations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciliations_total",
			Help: "Подтверждения платежей по источнику и результату",
		},
		[]string{"source", "outcome"},
	)

	// SideEffectFailures - ошибки побочных эффектов после выигранного перехода.
	SideEffectFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "side_effect_failures_total",
			Help: "Ошибки побочных эффектов по шагу",
		},
		[]string{"step"},
	)

	// InstallmentCharges - результаты списаний по рассрочке: paid | declined | transient | skipped.
	InstallmentCharges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "installment_charges_total",
			Help: "Списания по рассрочке по результату",
		},
		[]string{"result"},
	)

	// WebhookEvents - входящие события процессора.
	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "События вебхука по типу и результату",
		},
		[]string{"type", "result"},
	)
)

// =============================================================================
// Kafka
// =============================================================================

// ConsumerLag - отставание consumer group от конца топика.
var ConsumerLag = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "kafka_consumer_lag",
		Help: "Отставание Consumer от конца топика в сообщениях",
	},
	[]string{"topic"},
)

// =============================================================================
// HTTP Server
// =============================================================================

// ReadinessChecker возвращает nil, если сервис готов принимать трафик.
type ReadinessChecker func(ctx context.Context) error

// Server - HTTP сервер для экспорта метрик.
type Server struct {
	httpServer     *http.Server
	service        string
	readinessCheck ReadinessChecker
}

// Option настраивает Server.
type Option func(*Server)

// WithReadinessCheck добавляет проверку для /readyz (503 при ошибке).
func WithReadinessCheck(checker ReadinessChecker) Option {
	return func(s *Server) {
		s.readinessCheck = checker
	}
}

// NewServer создаёт metrics server.
func NewServer(addr, service string, opts ...Option) *Server {
	s := &Server{service: service}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"alive"}`))
	})
	mux.HandleFunc("/readyz", s.handleReady)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Handler возвращает mux сервера (для тестов).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if s.readinessCheck != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := s.readinessCheck(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"not_ready"}`))
			logger.Warn().Err(err).Str("service", s.service).Msg("Readiness check не пройден")
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}

// Start запускает сервер. Блокирующий вызов.
func (s *Server) Start() error {
	logger.Info().Str("addr", s.httpServer.Addr).Str("service", s.service).Msg("Запуск Metrics Server")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown останавливает сервер.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// RecordRequest записывает метрики одного запроса.
func RecordRequest(service, method, status string, duration time.Duration) {
	RequestsTotal.WithLabelValues(service, method, status).Inc()
	RequestDuration.WithLabelValues(service, method).Observe(duration.Seconds())
}

// GinMetricsMiddleware собирает requests_total и request_duration_seconds.
// Метка method - шаблон маршрута, а не фактический путь, чтобы токены ссылок не раздували кардинальность.
func GinMetricsMiddleware(service string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := "success"
		if c.Writer.Status() >= 400 {
			status = "error"
		}
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		RecordRequest(service, route, status, time.Since(start))
	}
}
