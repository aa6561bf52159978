// Package metrics описывает метрики Prometheus сервиса.
//
// Все методы безопасны для nil-получателя: сервисы, собранные без метрик
// (например, в тестах), просто ничего не записывают.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/UkralStul/technews/internal/domain"
)

const namespace = "technews"

// Metrics хранит все метрики сервиса.
type Metrics struct {
	gatherer prometheus.Gatherer

	// HTTPRequests считает запросы. Метки: method, route, status.
	HTTPRequests *prometheus.CounterVec

	// HTTPDuration - длительность обработки. Метки: method, route.
	HTTPDuration *prometheus.HistogramVec

	// ModerationTransitions считает переходы статусов. Метка: status.
	ModerationTransitions *prometheus.CounterVec

	// LikeToggles считает переключения отметок. Метка: action (like, unlike).
	LikeToggles *prometheus.CounterVec

	CommentsCreated prometheus.Counter
	CommentsRemoved prometheus.Counter
}

// New регистрирует метрики в reg. Каждому экземпляру сервиса (и каждому тесту)
// нужен свой реестр, иначе повторная регистрация упадёт.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: reg,
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		ModerationTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "moderation",
			Name:      "transitions_total",
			Help:      "Post status transitions applied by moderators.",
		}, []string{"status"}),
		LikeToggles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "likes",
			Name:      "toggles_total",
			Help:      "Like toggles by resulting action.",
		}, []string{"action"}),
		CommentsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "comments",
			Name:      "created_total",
			Help:      "Comments created.",
		}),
		CommentsRemoved: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "comments",
			Name:      "removed_total",
			Help:      "Comments removed, including cascaded replies.",
		}),
	}
}

func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveTransition(status domain.PostStatus) {
	if m == nil {
		return
	}
	m.ModerationTransitions.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) ObserveLike(liked bool) {
	if m == nil {
		return
	}
	action := "unlike"
	if liked {
		action = "like"
	}
	m.LikeToggles.WithLabelValues(action).Inc()
}

func (m *Metrics) ObserveCommentCreated() {
	if m == nil {
		return
	}
	m.CommentsCreated.Inc()
}

func (m *Metrics) ObserveCommentsRemoved(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.CommentsRemoved.Add(float64(n))
}

// Handler отдаёт метрики в формате Prometheus.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
