package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ai-diet-planner/internal/planner"
	"ai-diet-planner/internal/shared"
)

// Collector exposes planner and cache activity as prometheus metrics and
// mirrors model calls into the SQLite store when one is configured.
type Collector struct {
	registry    *prometheus.Registry
	modelCalls  *prometheus.CounterVec
	modelTokens *prometheus.CounterVec
	planRuns    *prometheus.CounterVec
	cacheLookup *prometheus.CounterVec

	store  *Store
	logger *slog.Logger
}

// NewCollector registers the metrics on a private registry. store may be nil.
func NewCollector(store *Store, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Collector{
		registry: prometheus.NewRegistry(),
		modelCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "diet_planner_model_calls_total",
			Help: "Model invocations per plan section and outcome.",
		}, []string{"section", "outcome"}),
		modelTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "diet_planner_model_tokens_total",
			Help: "Tokens consumed per plan section and kind.",
		}, []string{"section", "kind"}),
		planRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "diet_planner_plan_runs_total",
			Help: "Finished plan generation runs per terminal status.",
		}, []string{"status"}),
		cacheLookup: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "diet_planner_nutrient_cache_total",
			Help: "Nutrient cache lookups per result.",
		}, []string{"result"}),
		store:  store,
		logger: logger,
	}
	c.registry.MustRegister(
		c.modelCalls,
		c.modelTokens,
		c.planRuns,
		c.cacheLookup,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Handler serves the registry in the prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ModelCall implements planner.Observer.
func (c *Collector) ModelCall(ctx context.Context, meta shared.AgentMeta, err error) {
	section := strings.TrimPrefix(meta.AgentName, "plan_")
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	c.modelCalls.WithLabelValues(section, outcome).Inc()
	c.modelTokens.WithLabelValues(section, "prompt").Add(float64(meta.Usage.PromptTokens))
	c.modelTokens.WithLabelValues(section, "completion").Add(float64(meta.Usage.CompletionTokens))

	if c.store == nil {
		return
	}
	if recErr := c.store.RecordMeta(context.WithoutCancel(ctx), meta, outcome); recErr != nil {
		c.logger.Warn("failed to persist execution metric", "agent", meta.AgentName, "error", recErr)
	}
}

// RunFinished implements planner.Observer.
func (c *Collector) RunFinished(status planner.PlanStatus) {
	c.planRuns.WithLabelValues(string(status)).Inc()
}

// CacheResult implements nutrient.CacheObserver.
func (c *Collector) CacheResult(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheLookup.WithLabelValues(result).Inc()
}

var _ planner.Observer = (*Collector)(nil)
