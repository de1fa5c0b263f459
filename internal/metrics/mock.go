package metrics

import (
	"sync"
	"time"
)

var _ Metrics = (*Mock)(nil)

// Mock records metric calls for tests. It is safe for concurrent use.
type Mock struct {
	mu                sync.Mutex
	apiRequests       map[string]int
	breakerState      map[string]string
	matchesFetched    int
	matchesInserted   int
	matchesUpdated    int
	matchesSkipped    int
	coercionAnomalies int
	syncRuns          map[string]int
}

func NewMock() *Mock {
	return &Mock{
		apiRequests:  make(map[string]int),
		breakerState: make(map[string]string),
		syncRuns:     make(map[string]int),
	}
}

func (m *Mock) ObserveAPIRequest(endpoint string, status int, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apiRequests[endpoint]++
}

func (m *Mock) SetBreakerState(name string, state string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.breakerState[name] = state
}

func (m *Mock) AddMatchesFetched(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.matchesFetched += n
}

func (m *Mock) AddMatchesInserted(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.matchesInserted += n
}

func (m *Mock) AddMatchesUpdated(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.matchesUpdated += n
}

func (m *Mock) AddMatchesSkipped(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.matchesSkipped += n
}

func (m *Mock) AddCoercionAnomalies(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coercionAnomalies += n
}

func (m *Mock) ObserveSyncRun(status string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncRuns[status]++
}

// APIRequests returns how many requests were observed for endpoint.
func (m *Mock) APIRequests(endpoint string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.apiRequests[endpoint]
}

// BreakerState returns the last state reported for name.
func (m *Mock) BreakerState(name string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.breakerState[name]
}

func (m *Mock) MatchesFetched() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.matchesFetched
}

func (m *Mock) MatchesInserted() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.matchesInserted
}

func (m *Mock) MatchesUpdated() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.matchesUpdated
}

func (m *Mock) MatchesSkipped() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.matchesSkipped
}

func (m *Mock) CoercionAnomalies() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.coercionAnomalies
}

// SyncRuns returns how many runs finished with status.
func (m *Mock) SyncRuns(status string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.syncRuns[status]
}
