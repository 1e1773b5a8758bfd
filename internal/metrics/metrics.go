package metrics

import (
	"net/http"
	"sync"

	"github.com/ethereum/go-ethereum/metrics"
	"github.com/ethereum/go-ethereum/metrics/prometheus"

	"github.com/fbas-tools/analyzer/internal/logger"
)

var (
	log = logger.CreateForPackage()

	registry     = metrics.NewRegistry()
	registryLock sync.Mutex
)

/*
Enable switches metrics collection on. Collectors created before the call are
no-op collectors, so it must be called before the components using metrics are
constructed. go-ethereum also enables metrics when the process is started with
a "--metrics" flag.
*/
func Enable() {
	registryLock.Lock()
	defer registryLock.Unlock()
	if !metrics.Enabled {
		log.Debug("enabling metrics collection")
		metrics.Enabled = true
	}
}

func Enabled() bool {
	return metrics.Enabled
}

func GetOrRegisterCounter(name string) metrics.Counter {
	return metrics.GetOrRegisterCounter(name, registry)
}

func GetOrRegisterGauge(name string) metrics.Gauge {
	return metrics.GetOrRegisterGauge(name, registry)
}

func GetOrRegisterTimer(name string) metrics.Timer {
	return metrics.GetOrRegisterTimer(name, registry)
}

// PrometheusHandler serves the registry in the prometheus text format.
func PrometheusHandler() http.Handler {
	return prometheus.Handler(registry)
}
