package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Client holds the CLI poller's counters. They live on their own registry
// because the poller runs in the client process, not in the server.
type Client struct {
	registry *prometheus.Registry

	PollAttemptsTotal  prometheus.Counter
	PollExhaustedTotal prometheus.Counter
}

func NewClient() *Client {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Client{
		registry: reg,
		PollAttemptsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "policyqa_client_poll_attempts_total",
			Help: "Status polls issued by the client poller.",
		}),
		PollExhaustedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "policyqa_client_poll_exhausted_total",
			Help: "Polling sessions that gave up before a terminal status.",
		}),
	}
}

// Totals gathers every counter on the registry by metric name.
func (c *Client) Totals() map[string]float64 {
	out := make(map[string]float64)
	if c == nil {
		return out
	}
	families, err := c.registry.Gather()
	if err != nil {
		return out
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			out[mf.GetName()] += m.GetCounter().GetValue()
		}
	}
	return out
}

func (c *Client) RecordPollAttempt() {
	if c == nil {
		return
	}
	c.PollAttemptsTotal.Inc()
}

func (c *Client) RecordPollExhausted() {
	if c == nil {
		return
	}
	c.PollExhaustedTotal.Inc()
}
