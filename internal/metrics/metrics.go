// Package metrics exposes Prometheus instruments for execution internals.
package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/webpilot-org/webpilot/internal/dag"
)

// Metrics holds the counters updated during an execution.
type Metrics struct {
	registry *prometheus.Registry

	TasksTotal               *prometheus.CounterVec
	ActionsTotal             *prometheus.CounterVec
	LLMRequestsTotal         *prometheus.CounterVec
	LLMTokensTotal           *prometheus.CounterVec
	PerceptionCacheTotal     *prometheus.CounterVec
	SupervisorDecisionsTotal *prometheus.CounterVec
	ReplansTotal             prometheus.Counter
}

// New creates the instrument set on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		TasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webpilot_tasks_total",
			Help: "Tasks finished, by terminal status",
		}, []string{"status"}),
		ActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webpilot_actions_total",
			Help: "Browser actions attempted, by tool and outcome",
		}, []string{"tool", "outcome"}),
		LLMRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webpilot_llm_requests_total",
			Help: "LLM requests, by provider and outcome",
		}, []string{"provider", "outcome"}),
		LLMTokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webpilot_llm_tokens_total",
			Help: "Tokens consumed, by direction",
		}, []string{"direction"}),
		PerceptionCacheTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webpilot_perception_cache_total",
			Help: "Perception cache lookups, by result",
		}, []string{"result"}),
		SupervisorDecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webpilot_supervisor_decisions_total",
			Help: "Supervisor recovery decisions, by type",
		}, []string{"decision"}),
		ReplansTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "webpilot_replans_total",
			Help: "Replan cycles triggered by workers or the supervisor",
		}),
	}
	registry.MustRegister(
		m.TasksTotal,
		m.ActionsTotal,
		m.LLMRequestsTotal,
		m.LLMTokensTotal,
		m.PerceptionCacheTotal,
		m.SupervisorDecisionsTotal,
		m.ReplansTotal,
	)
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return m
}

// ObserveDAG registers a live collector reporting the DAG's task counts.
func (m *Metrics) ObserveDAG(d *dag.DAG) {
	m.registry.MustRegister(newDAGCollector(d))
}

// Handler serves the registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// dagCollector reports current task counts straight from the graph.
type dagCollector struct {
	d         *dag.DAG
	startTime time.Time

	infoDesc    *prometheus.Desc
	uptimeDesc  *prometheus.Desc
	tasksDesc   *prometheus.Desc
	runningDesc *prometheus.Desc
}

func newDAGCollector(d *dag.DAG) *dagCollector {
	return &dagCollector{
		d:         d,
		startTime: time.Now(),
		infoDesc: prometheus.NewDesc(
			"webpilot_info",
			"Build information",
			[]string{"go_version"},
			nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"webpilot_uptime_seconds",
			"Time since execution start",
			nil,
			nil,
		),
		tasksDesc: prometheus.NewDesc(
			"webpilot_dag_tasks",
			"Tasks in the graph, by state",
			[]string{"state"},
			nil,
		),
		runningDesc: prometheus.NewDesc(
			"webpilot_dag_tasks_running",
			"Tasks currently claimed by workers",
			nil,
			nil,
		),
	}
}

func (c *dagCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.infoDesc
	ch <- c.uptimeDesc
	ch <- c.tasksDesc
	ch <- c.runningDesc
}

func (c *dagCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.infoDesc, prometheus.GaugeValue, 1, runtime.Version())
	ch <- prometheus.MustNewConstMetric(c.uptimeDesc, prometheus.GaugeValue, time.Since(c.startTime).Seconds())

	counts := c.d.Counts()
	pending := counts.Total - counts.Completed - counts.Failed - counts.Skipped - counts.Running
	ch <- prometheus.MustNewConstMetric(c.tasksDesc, prometheus.GaugeValue, float64(counts.Completed), "completed")
	ch <- prometheus.MustNewConstMetric(c.tasksDesc, prometheus.GaugeValue, float64(counts.Failed), "failed")
	ch <- prometheus.MustNewConstMetric(c.tasksDesc, prometheus.GaugeValue, float64(counts.Skipped), "skipped")
	ch <- prometheus.MustNewConstMetric(c.tasksDesc, prometheus.GaugeValue, float64(pending), "pending")
	ch <- prometheus.MustNewConstMetric(c.runningDesc, prometheus.GaugeValue, float64(counts.Running))
}
