package syncengine

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/subsyncd/subsyncd/internal/pkg/metrics/counter"
)

const (
	defaultReconcileInterval = time.Hour
	defaultReconcileTimeout  = 10 * time.Minute
)

// Manager runs the reconciliation job on a fixed interval. One pass at a
// time; a tick that fires while a pass is still running is skipped by the
// ticker semantics rather than piling up.
type Manager struct {
	reconciler *Reconciler
	interval   time.Duration
	timeout    time.Duration

	ticker  *time.Ticker
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewManager wires the reconciliation scheduler. The reconciler is passed
// explicitly; the manager owns no business logic.
func NewManager(reconciler *Reconciler, interval, timeout time.Duration) *Manager {
	if interval <= 0 {
		interval = defaultReconcileInterval
	}
	if timeout <= 0 {
		timeout = defaultReconcileTimeout
	}
	return &Manager{
		reconciler: reconciler,
		interval:   interval,
		timeout:    timeout,
		stopCh:     make(chan struct{}),
	}
}

// Start begins the periodic reconciliation loop.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate the stop channel so the manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	m.ticker = time.NewTicker(m.interval)

	m.wg.Add(1)
	go m.loop()

	log.Infof("[Reconcile Manager] Started (interval=%s, timeout=%s)", m.interval, m.timeout)
}

// Stop halts the loop and waits for an in-flight pass to finish or be
// cancelled at its next page boundary.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	if m.ticker != nil {
		m.ticker.Stop()
	}
	close(m.stopCh)
	m.running = false
	m.wg.Wait()
	log.Info("[Reconcile Manager] Stopped")
}

func (m *Manager) loop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			return
		case <-m.ticker.C:
			m.runOnce()
		}
	}
}

// RunOnce triggers a single pass outside the schedule, for operator use.
func (m *Manager) RunOnce() {
	m.runOnce()
}

func (m *Manager) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	report, err := m.reconciler.Reconcile(ctx)
	if err != nil {
		log.Errorf("[Reconcile Manager] pass aborted: %v", err)
		return
	}

	if cerr := counter.AddReconcilePass(report.Created, report.Updated, report.Unchanged, report.Flagged, report.Failed, report.Partial); cerr != nil {
		log.Warnf("[Reconcile Manager] counter update failed: %v", cerr)
	}

	log.Infof("[Reconcile Manager] pass done: created=%d updated=%d unchanged=%d flagged=%d failed=%d partial=%t duration=%s",
		report.Created, report.Updated, report.Unchanged, report.Flagged, report.Failed, report.Partial, report.Duration)
}
