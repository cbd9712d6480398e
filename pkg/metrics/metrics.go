package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry metrics
	ClustersKnown = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "weft_clusters_known",
			Help: "Number of clusters currently present in the registry",
		},
	)

	ServicesKnown = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "weft_services_known",
			Help: "Number of services advertised across all known clusters",
		},
	)

	ClustersEvicted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "weft_clusters_evicted_total",
			Help: "Total number of peer cluster entries evicted for staleness",
		},
	)

	// Data plane metrics
	TunnelsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "weft_tunnels_active",
			Help: "Number of tunneled connections currently relaying",
		},
	)

	TunnelsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weft_tunnels_total",
			Help: "Total number of tunneled connections by result",
		},
		[]string{"result"},
	)

	RelayBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weft_relay_bytes_total",
			Help: "Total bytes relayed by direction",
		},
		[]string{"direction"},
	)

	// Discovery metrics
	DiscoveryRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weft_discovery_refresh_total",
			Help: "Total number of service discovery refresh ticks by result",
		},
		[]string{"result"},
	)

	// Gossip metrics
	GossipExchangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weft_gossip_exchanges_total",
			Help: "Total number of registration exchanges with peers by result",
		},
		[]string{"result"},
	)
)

// Label values used with the vectors above.
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultNoRoute = "no_route"
	DirectionUp   = "up"   // client to backend
	DirectionDown = "down" // backend to client
)

func init() {
	// Register all metrics
	prometheus.MustRegister(ClustersKnown)
	prometheus.MustRegister(ServicesKnown)
	prometheus.MustRegister(ClustersEvicted)
	prometheus.MustRegister(TunnelsActive)
	prometheus.MustRegister(TunnelsTotal)
	prometheus.MustRegister(RelayBytesTotal)
	prometheus.MustRegister(DiscoveryRefreshTotal)
	prometheus.MustRegister(GossipExchangesTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
