package metrics

import "github.com/prometheus/client_golang/prometheus"

// RegisterBuildInfo 注册构建信息指标，重复调用无副作用.
func (m *Metrics) RegisterBuildInfo(serviceName, version string) {
	if m == nil || m.BuildInfo != nil {
		return
	}
	if serviceName == "" {
		serviceName = "unknown"
	}
	if version == "" {
		version = "dev"
	}

	m.BuildInfo = m.NewGaugeVec(&prometheus.GaugeOpts{
		Name: "fixengine_build_info",
		Help: "Build information of the FIX engine",
	}, []string{"service", "version"})

	m.BuildInfo.WithLabelValues(serviceName, version).Set(1)
}
