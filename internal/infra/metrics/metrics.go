package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	CycleTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "monitor_cycles_total",
		Help: "Количество проверок по итоговому состоянию",
	}, []string{"state"})

	CycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "monitor_cycle_duration_seconds",
		Help:    "Длительность одной проверки",
		Buckets: []float64{.5, 1, 2.5, 5, 10, 15, 30, 60, 120, 300, 600},
	})

	OffersTracked = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "monitor_offers_tracked",
		Help: "Количество оферт в последнем снимке",
	})

	NewOffersTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "monitor_new_offers_total",
		Help: "Количество впервые обнаруженных оферт",
	})

	FetchErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "monitor_fetch_errors_total",
		Help: "Ошибки загрузки страницы оферт",
	}, []string{"kind"})

	NotificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "monitor_notifications_total",
		Help: "Попытки доставки уведомлений",
	}, []string{"outcome", "channel"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 20, 30, 45, 60, 90, 120},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})

	LLMGenerationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_generation_duration_seconds",
		Help:    "Длительность генерации ответа LLM",
		Buckets: prometheus.DefBuckets,
	}, []string{"model"})

	LLMTokensTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_tokens_total",
		Help: "Количество токенов, использованных LLM",
	}, []string{"model", "type"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		CycleTotal,
		CycleDuration,
		OffersTracked,
		NewOffersTotal,
		FetchErrors,
		NotificationsTotal,
		NetworkRequestDuration,
		NetworkRequestTotal,
		LLMGenerationDuration,
		LLMTokensTotal,
	)
}

// ObserveCycle фиксирует завершение проверки.
func ObserveCycle(state string, duration time.Duration, offers, newOffers int) {
	CycleTotal.WithLabelValues(state).Inc()
	CycleDuration.Observe(duration.Seconds())
	if offers >= 0 {
		OffersTracked.Set(float64(offers))
	}
	if newOffers > 0 {
		NewOffersTotal.Add(float64(newOffers))
	}
}

// ObserveFetchError считает неудачную попытку загрузки.
func ObserveFetchError(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	FetchErrors.WithLabelValues(kind).Inc()
}

// ObserveNotification считает попытку доставки.
func ObserveNotification(outcome, channel string) {
	NotificationsTotal.WithLabelValues(outcome, channel).Inc()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveLLMGeneration записывает длительность и токены генерации LLM.
func ObserveLLMGeneration(model string, duration time.Duration, promptTokens, completionTokens, totalTokens int) {
	if model == "" {
		model = "unknown"
	}
	LLMGenerationDuration.WithLabelValues(model).Observe(duration.Seconds())
	if promptTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
	if totalTokens <= 0 {
		totalTokens = promptTokens + completionTokens
	}
	if totalTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "total").Add(float64(totalTokens))
	}
}
