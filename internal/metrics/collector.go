// Package metrics exposes triage counters in Prometheus format. Counters are
// driven by the event bus so the engine never imports this package.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"standin/internal/bus"
)

// Collector holds all standin metrics on a private registry.
type Collector struct {
	registry *prometheus.Registry

	MessagesReceived *prometheus.CounterVec // transport
	MessagesTriaged  *prometheus.CounterVec // outcome
	RepliesSent      *prometheus.CounterVec // level
	AlertsSent       prometheus.Counter
	AlertChannels    prometheus.Histogram
	Generations      *prometheus.CounterVec // provider, status
	QuotaDenials     *prometheus.CounterVec // reason
	Commands         *prometheus.CounterVec // command
	CalendarEvents   prometheus.Counter
	Recaps           *prometheus.CounterVec // trigger
	RuleReloads      prometheus.Counter
	StartTime        time.Time
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Collector{
		registry: reg,
		MessagesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "standin_messages_received_total",
			Help: "Inbound messages seen, by transport",
		}, []string{"transport"}),
		MessagesTriaged: f.NewCounterVec(prometheus.CounterOpts{
			Name: "standin_messages_triaged_total",
			Help: "Processed messages by final outcome",
		}, []string{"outcome"}),
		RepliesSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "standin_replies_sent_total",
			Help: "Replies delivered, by engagement level",
		}, []string{"level"}),
		AlertsSent: f.NewCounter(prometheus.CounterOpts{
			Name: "standin_urgent_alerts_total",
			Help: "Urgent alerts fired",
		}),
		AlertChannels: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "standin_alert_channels_delivered",
			Help:    "Notification channels that accepted each alert",
			Buckets: []float64{0, 1, 2, 3, 4},
		}),
		Generations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "standin_generations_total",
			Help: "Provider attempts, by provider and status",
		}, []string{"provider", "status"}),
		QuotaDenials: f.NewCounterVec(prometheus.CounterOpts{
			Name: "standin_quota_denials_total",
			Help: "Full replies refused by the quota controller",
		}, []string{"reason"}),
		Commands: f.NewCounterVec(prometheus.CounterOpts{
			Name: "standin_commands_total",
			Help: "Owner remote commands executed",
		}, []string{"command"}),
		CalendarEvents: f.NewCounter(prometheus.CounterOpts{
			Name: "standin_calendar_events_created_total",
			Help: "Invites written to the calendar",
		}),
		Recaps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "standin_recaps_sent_total",
			Help: "Digest recaps sent, by trigger",
		}, []string{"trigger"}),
		RuleReloads: f.NewCounter(prometheus.CounterOpts{
			Name: "standin_rules_reloaded_total",
			Help: "Classifier rule pack reloads",
		}),
		StartTime: time.Now(),
	}
}

// Registry exposes the underlying registry for tests and extra collectors.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Attach subscribes the collector to every event on eb and returns the
// unsubscribe func.
func (c *Collector) Attach(eb *bus.EventBus) func() {
	return eb.On(bus.Wildcard, c.observe)
}

func (c *Collector) observe(e bus.Event) {
	switch e.Type {
	case bus.EventMessageReceived:
		c.MessagesReceived.WithLabelValues(e.Str("transport")).Inc()
	case bus.EventMessageTriaged:
		c.MessagesTriaged.WithLabelValues(e.Str("outcome")).Inc()
	case bus.EventReplySent:
		c.RepliesSent.WithLabelValues(e.Str("level")).Inc()
	case bus.EventAlertSent:
		c.AlertsSent.Inc()
		c.AlertChannels.Observe(float64(e.Int("channels")))
	case bus.EventProviderResult:
		c.Generations.WithLabelValues(e.Str("provider"), statusLabel(e.Bool("ok"))).Inc()
	case bus.EventQuotaDenied:
		c.QuotaDenials.WithLabelValues(e.Str("reason")).Inc()
	case bus.EventCommandExecuted:
		c.Commands.WithLabelValues(e.Str("command")).Inc()
	case bus.EventCalendarCreated:
		c.CalendarEvents.Inc()
	case bus.EventRecapSent:
		c.Recaps.WithLabelValues(e.Str("trigger")).Inc()
	case bus.EventRulesReloaded:
		c.RuleReloads.Inc()
	}
}

func statusLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

// Handler renders the registry in Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Serve runs the metrics endpoint until ctx is cancelled.
func (c *Collector) Serve(ctx context.Context, addr, path string, logger *slog.Logger) error {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, c.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok uptime=" + strconv.FormatInt(int64(time.Since(c.StartTime).Seconds()), 10) + "s\n"))
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics endpoint listening", "addr", addr, "path", path)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
