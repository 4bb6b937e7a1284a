// Package metrics provides process-wide query metrics collection.
//
// The Collector accumulates counters across queries. It is a leaf
// package with no internal dependencies. All increment methods are
// nil-receiver safe so callers can run without metrics wired.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after
// creation.
type Snapshot struct {
	// Query lifecycle
	QueriesStarted   int64
	QueriesCompleted int64
	QueriesFailed    int64
	QueriesCancelled int64
	QueriesRejected  int64

	// Loop
	Iterations      int64
	SelfCorrections int64
	BudgetExhausted int64

	// Artifacts
	ArtifactsRegistered int64
	RegisterFailures    int64

	// Dimensions (informational, set at construction)
	Engine   string
	Executor string
	Store    string
}

// Collector accumulates query metrics. Thread-safe via sync.Mutex.
type Collector struct {
	mu sync.Mutex

	queriesStarted   int64
	queriesCompleted int64
	queriesFailed    int64
	queriesCancelled int64
	queriesRejected  int64

	iterations      int64
	selfCorrections int64
	budgetExhausted int64

	artifactsRegistered int64
	registerFailures    int64

	engine   string
	executor string
	store    string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(engine, executor, store string) *Collector {
	return &Collector{engine: engine, executor: executor, store: store}
}

// IncQueryStarted records a query entering the loop.
func (c *Collector) IncQueryStarted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.queriesStarted++
	c.mu.Unlock()
}

// IncQueryCompleted records a completed query.
func (c *Collector) IncQueryCompleted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.queriesCompleted++
	c.mu.Unlock()
}

// IncQueryFailed records a query ending in a terminal error.
func (c *Collector) IncQueryFailed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.queriesFailed++
	c.mu.Unlock()
}

// IncQueryCancelled records a caller-cancelled query.
func (c *Collector) IncQueryCancelled() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.queriesCancelled++
	c.mu.Unlock()
}

// IncQueryRejected records a query rejected because the session was busy.
func (c *Collector) IncQueryRejected() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.queriesRejected++
	c.mu.Unlock()
}

// AddIterations records iterations spent by a finished query.
func (c *Collector) AddIterations(n int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.iterations += int64(n)
	c.mu.Unlock()
}

// IncSelfCorrection records a failed execution fed back for another try.
func (c *Collector) IncSelfCorrection() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.selfCorrections++
	c.mu.Unlock()
}

// IncBudgetExhausted records a query that spent its whole budget.
func (c *Collector) IncBudgetExhausted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.budgetExhausted++
	c.mu.Unlock()
}

// IncArtifactRegistered records a registered artifact.
func (c *Collector) IncArtifactRegistered() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.artifactsRegistered++
	c.mu.Unlock()
}

// IncRegisterFailure records a skipped artifact registration.
func (c *Collector) IncRegisterFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.registerFailures++
	c.mu.Unlock()
}

// Snapshot returns a point-in-time copy of all counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		QueriesStarted:      c.queriesStarted,
		QueriesCompleted:    c.queriesCompleted,
		QueriesFailed:       c.queriesFailed,
		QueriesCancelled:    c.queriesCancelled,
		QueriesRejected:     c.queriesRejected,
		Iterations:          c.iterations,
		SelfCorrections:     c.selfCorrections,
		BudgetExhausted:     c.budgetExhausted,
		ArtifactsRegistered: c.artifactsRegistered,
		RegisterFailures:    c.registerFailures,
		Engine:              c.engine,
		Executor:            c.executor,
		Store:               c.store,
	}
}
