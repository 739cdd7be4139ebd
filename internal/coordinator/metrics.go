package coordinator

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gren-lsp/agentlock/internal/agentstate"
)

// Metrics counts lock outcomes made through one Coordinator. Counters only
// see the process that owns them, so hook processes run without any (a nil
// *Metrics records nothing) and agentlock serve uses them for its reaper.
// Lock and agent state written by every process is exported by
// StateCollector.
type Metrics struct {
	acquisitions *prometheus.CounterVec
	releases     *prometheus.CounterVec
	expired      prometheus.Counter
}

// NewMetrics creates the lock counters and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		acquisitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentlock",
			Name:      "lock_acquisitions_total",
			Help:      "Lock acquire attempts by outcome (acquired, reacquired, blocked).",
		}, []string{"outcome"}),
		releases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentlock",
			Name:      "lock_releases_total",
			Help:      "Lock release attempts by outcome (released, not_owned).",
		}, []string{"outcome"}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agentlock",
			Name:      "locks_expired_total",
			Help:      "Expired locks removed by cleanup.",
		}),
	}
	reg.MustRegister(m.acquisitions, m.releases, m.expired)
	return m
}

func (m *Metrics) observeAcquire(res AcquireResult) {
	if m == nil {
		return
	}
	switch {
	case res.Reacquired:
		m.acquisitions.WithLabelValues("reacquired").Inc()
	case res.Acquired:
		m.acquisitions.WithLabelValues("acquired").Inc()
	default:
		m.acquisitions.WithLabelValues("blocked").Inc()
	}
}

func (m *Metrics) observeRelease(released bool) {
	if m == nil {
		return
	}
	if released {
		m.releases.WithLabelValues("released").Inc()
		return
	}
	m.releases.WithLabelValues("not_owned").Inc()
}

func (m *Metrics) observeExpired(n int) {
	if m == nil || n == 0 {
		return
	}
	m.expired.Add(float64(n))
}

// StateCollector exports the shared lock and agent state at scrape time.
type StateCollector struct {
	coord  *Coordinator
	agents AgentLister

	locks     *prometheus.Desc
	agentDesc *prometheus.Desc
}

// NewStateCollector reads locks from coord and agents from agents (which may
// be nil) on every scrape.
func NewStateCollector(coord *Coordinator, agents AgentLister) *StateCollector {
	return &StateCollector{
		coord:  coord,
		agents: agents,
		locks: prometheus.NewDesc("agentlock_locks",
			"Stored file locks by state (live, expired).",
			[]string{"state"}, nil),
		agentDesc: prometheus.NewDesc("agentlock_agents",
			"Registered agent sessions by status.",
			[]string{"status"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *StateCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.locks
	ch <- c.agentDesc
}

// Collect implements prometheus.Collector.
func (c *StateCollector) Collect(ch chan<- prometheus.Metric) {
	locks, err := c.coord.List(context.Background())
	if err != nil {
		ch <- prometheus.NewInvalidMetric(c.locks, err)
	} else {
		now := c.coord.Now()
		var live, expired int
		for _, l := range locks {
			if l.Expired(now) {
				expired++
			} else {
				live++
			}
		}
		ch <- prometheus.MustNewConstMetric(c.locks, prometheus.GaugeValue, float64(live), "live")
		ch <- prometheus.MustNewConstMetric(c.locks, prometheus.GaugeValue, float64(expired), "expired")
	}

	if c.agents == nil {
		return
	}
	records, err := c.agents.List()
	if err != nil {
		ch <- prometheus.NewInvalidMetric(c.agentDesc, err)
		return
	}
	counts := map[agentstate.Status]int{agentstate.StatusBusy: 0, agentstate.StatusIdle: 0}
	for _, rec := range records {
		counts[rec.Status]++
	}
	for status, n := range counts {
		ch <- prometheus.MustNewConstMetric(c.agentDesc, prometheus.GaugeValue, float64(n), string(status))
	}
}
