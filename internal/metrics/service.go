package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var _ Metrics = (*Service)(nil)

var breakerStates = []string{"closed", "half-open", "open"}

type Service struct {
	APIRequests       *prometheus.CounterVec
	APIDuration       *prometheus.HistogramVec
	BreakerState      *prometheus.GaugeVec
	MatchesFetched    prometheus.Counter
	MatchesInserted   prometheus.Counter
	MatchesUpdated    prometheus.Counter
	MatchesSkipped    prometheus.Counter
	CoercionAnomalies prometheus.Counter
	SyncRuns          *prometheus.CounterVec
	SyncDuration      prometheus.Histogram
}

// NewMetricsHandler returns an http.Handler for the given Gatherer.
// If no gatherer is provided, it uses the default one.
func NewMetricsHandler(gatherer ...prometheus.Gatherer) http.Handler {
	gath := prometheus.DefaultGatherer
	if len(gatherer) > 0 {
		gath = gatherer[0]
	}
	return promhttp.HandlerFor(gath, promhttp.HandlerOpts{})
}

// NewService creates and registers the Prometheus metrics.
// If no registerer is provided, it uses the default Prometheus registerer.
func NewService(registerer ...prometheus.Registerer) *Service {
	reg := prometheus.DefaultRegisterer
	if len(registerer) > 0 {
		reg = registerer[0]
	}

	s := &Service{
		APIRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "halo_api_requests_total",
			Help: "Requests sent to the stats API by endpoint and status code.",
		}, []string{"endpoint", "status"}),
		APIDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "halo_api_request_duration_seconds",
			Help:    "Latency of stats API requests.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"endpoint"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "halo_api_circuit_breaker_state",
			Help: "1 for the current state of the API circuit breaker, 0 otherwise.",
		}, []string{"name", "state"}),
		MatchesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "halo_sync_matches_fetched_total",
			Help: "History entries read during syncs.",
		}),
		MatchesInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "halo_sync_matches_inserted_total",
			Help: "Matches written for the first time.",
		}),
		MatchesUpdated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "halo_sync_matches_updated_total",
			Help: "Already stored matches rewritten by forced syncs.",
		}),
		MatchesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "halo_sync_matches_skipped_total",
			Help: "Matches skipped as known or invalid.",
		}),
		CoercionAnomalies: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "halo_sync_coercion_anomalies_total",
			Help: "Values replaced by a column default during writes.",
		}),
		SyncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "halo_sync_runs_total",
			Help: "Player sync runs by final status.",
		}, []string{"status"}),
		SyncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "halo_sync_run_duration_seconds",
			Help:    "Duration of player sync runs.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 900},
		}),
	}

	reg.MustRegister(
		s.APIRequests,
		s.APIDuration,
		s.BreakerState,
		s.MatchesFetched,
		s.MatchesInserted,
		s.MatchesUpdated,
		s.MatchesSkipped,
		s.CoercionAnomalies,
		s.SyncRuns,
		s.SyncDuration,
	)

	return s
}

func (s *Service) ObserveAPIRequest(endpoint string, status int, duration time.Duration) {
	s.APIRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	s.APIDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

func (s *Service) SetBreakerState(name string, state string) {
	for _, st := range breakerStates {
		v := 0.0
		if st == state {
			v = 1
		}
		s.BreakerState.WithLabelValues(name, st).Set(v)
	}
}

func (s *Service) AddMatchesFetched(n int) {
	s.MatchesFetched.Add(float64(n))
}

func (s *Service) AddMatchesInserted(n int) {
	s.MatchesInserted.Add(float64(n))
}

func (s *Service) AddMatchesUpdated(n int) {
	s.MatchesUpdated.Add(float64(n))
}

func (s *Service) AddMatchesSkipped(n int) {
	s.MatchesSkipped.Add(float64(n))
}

func (s *Service) AddCoercionAnomalies(n int) {
	s.CoercionAnomalies.Add(float64(n))
}

func (s *Service) ObserveSyncRun(status string, duration time.Duration) {
	s.SyncRuns.WithLabelValues(status).Inc()
	s.SyncDuration.Observe(duration.Seconds())
}
