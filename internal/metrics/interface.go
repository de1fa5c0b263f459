package metrics

import "time"

// Metrics is what the sync engine and API client report to.
type Metrics interface {
	ObserveAPIRequest(endpoint string, status int, duration time.Duration)
	SetBreakerState(name string, state string)
	AddMatchesFetched(n int)
	AddMatchesInserted(n int)
	AddMatchesUpdated(n int)
	AddMatchesSkipped(n int)
	AddCoercionAnomalies(n int)
	ObserveSyncRun(status string, duration time.Duration)
}
