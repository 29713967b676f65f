package engine

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Результаты проверки токенов: valid, expired, invalid
	Verifications *prometheus.CounterVec

	// Latency проверки подписи
	VerifyDuration prometheus.Histogram

	// Отказы фильтра по статусу и причине (missing, invalid, denied, unavailable...)
	Rejections *prometheus.CounterVec

	// Выпущенные токены
	TokensIssued prometheus.Counter

	// Неудачные попытки логина
	LoginFailures *prometheus.CounterVec

	// Audit: заполненность буфера (backpressure)
	AuditBufferFill prometheus.Gauge

	// Размер L1 кэша отозванных токенов
	RevokedTokens prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		Verifications: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_verifications_total",
			Help: "Total number of verified tokens by outcome.",
		}, []string{"outcome"}),

		VerifyDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "authgate_verify_duration_seconds",
			Help:    "Histogram of token verification latencies.",
			Buckets: []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05},
		}),

		Rejections: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_rejections_total",
			Help: "Total number of rejected requests by status and reason.",
		}, []string{"status", "reason"}),

		TokensIssued: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "authgate_tokens_issued_total",
			Help: "Total number of issued tokens.",
		}),

		LoginFailures: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_login_failures_total",
			Help: "Total number of failed logins by type.",
		}, []string{"type"}), // типы: credentials, rate_limit, store, unavailable

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "authgate_audit_buffer_utilization",
			Help: "Current number of events in audit buffer.",
		}),

		RevokedTokens: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "authgate_revoked_tokens",
			Help: "Current number of revoked token ids held in memory.",
		}),
	}
}

// ObserveVerification реализует auth.OutcomeRecorder.
func (m *Metrics) ObserveVerification(outcome string, took time.Duration) {
	m.Verifications.WithLabelValues(outcome).Inc()
	m.VerifyDuration.Observe(took.Seconds())
}

// ObserveRejection реализует auth.OutcomeRecorder.
func (m *Metrics) ObserveRejection(status int, reason string) {
	m.Rejections.WithLabelValues(strconv.Itoa(status), reason).Inc()
}

func (m *Metrics) ObserveIssued() {
	m.TokensIssued.Inc()
}

func (m *Metrics) ObserveLoginFailure(kind string) {
	m.LoginFailures.WithLabelValues(kind).Inc()
}

// TrackAuditBuffer периодически снимает заполненность буфера аудита, пока жив ctx.
func (m *Metrics) TrackAuditBuffer(ctx context.Context, pending func() int, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.AuditBufferFill.Set(float64(pending()))
		}
	}
}
