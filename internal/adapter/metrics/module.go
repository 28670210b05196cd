package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/webitel/roster-push-service/internal/domain/fanout"
	"github.com/webitel/roster-push-service/internal/domain/registry"
	"github.com/webitel/roster-push-service/internal/service"
	"go.uber.org/fx"
)

var Module = fx.Module("metrics",
	fx.Provide(
		func() *prometheus.Registry {
			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			return reg
		},
		func(reg *prometheus.Registry) *Metrics { return New(reg) },
		func(m *Metrics) registry.Observer { return m },
		func(m *Metrics) fanout.Recorder { return m },
		func(m *Metrics) service.StreamRecorder { return m },
	),
)
