package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"

	"cdpintercept/internal/logger"
	"cdpintercept/pkg/model"
)

// Metrics 拦截事件指标
type Metrics struct {
	reg *prometheus.Registry

	EventsTotal *prometheus.CounterVec
	Pending     *prometheus.GaugeVec
	RuleHits    *prometheus.CounterVec
}

// New 创建独立注册表上的指标
func New() *Metrics {
	reg := prometheus.NewRegistry()
	return &Metrics{
		reg: reg,
		EventsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cdpintercept",
				Name:      "events_total",
				Help:      "Interception events by type",
			},
			[]string{"type", "target"},
		),
		Pending: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "cdpintercept",
				Name:      "pending_exchanges",
				Help:      "Paused requests awaiting a handler result",
			},
			[]string{"target"},
		),
		RuleHits: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cdpintercept",
				Name:      "rule_hits_total",
				Help:      "Requests matched per rule",
			},
			[]string{"rule"},
		),
	}
}

// Observe 记录一个拦截事件
func (m *Metrics) Observe(evt model.Event) {
	m.EventsTotal.WithLabelValues(string(evt.Type), string(evt.Target)).Inc()
}

// SetPending 更新目标的未决事务数
func (m *Metrics) SetPending(target model.TargetID, n int) {
	m.Pending.WithLabelValues(string(target)).Set(float64(n))
}

// SetRuleHits 把规则累计命中数同步为计数器
func (m *Metrics) SetRuleHits(stats model.EngineStats) {
	for id, hits := range stats.ByRule {
		c := m.RuleHits.WithLabelValues(string(id))
		if d := float64(hits) - counterValue(c); d > 0 {
			c.Add(d)
		}
	}
}

func counterValue(c prometheus.Counter) float64 {
	var pb dto.Metric
	if err := c.Write(&pb); err != nil {
		return 0
	}
	return pb.GetCounter().GetValue()
}

// Consume 持续消费事件直到通道关闭或 ctx 结束
func (m *Metrics) Consume(ctx context.Context, events <-chan model.Event, fn func(model.Event)) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			m.Observe(evt)
			if fn != nil {
				fn(evt)
			}
		}
	}
}

// Handler /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Serve 在 addr 上提供 /metrics，ctx 结束时关闭
func (m *Metrics) Serve(ctx context.Context, addr string, l logger.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdown)
	}()

	l.Info("指标服务已启动", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
