package monitor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Check reports whether a dependency is reachable.
type Check func(ctx context.Context) error

// Probe is a named dependency check.
type Probe struct {
	Name    string
	Check   Check
	Timeout time.Duration
}

// Status is the latest probe round.
type Status struct {
	Components map[string]bool `json:"components"`
	LastCheck  time.Time       `json:"last_check"`
}

// Healthy is true when every component passed the last round.
func (s Status) Healthy() bool {
	if s.LastCheck.IsZero() {
		return false
	}
	for _, ok := range s.Components {
		if !ok {
			return false
		}
	}
	return true
}

// Monitor runs its probes on a cron schedule and keeps the latest Status.
type Monitor struct {
	probes []Probe
	cron   *cron.Cron
	logger *zap.Logger

	mu     sync.RWMutex
	status Status
}

// New builds a monitor. schedule accepts any robfig/cron spec, e.g. "@every 10s".
func New(schedule string, logger *zap.Logger, probes ...Probe) (*Monitor, error) {
	if schedule == "" {
		schedule = "@every 10s"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	sorted := append([]Probe(nil), probes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	m := &Monitor{
		probes: sorted,
		cron:   cron.New(cron.WithSeconds()),
		logger: logger,
	}
	if _, err := m.cron.AddFunc(schedule, m.Refresh); err != nil {
		return nil, err
	}
	return m, nil
}

// Start runs one round immediately, then hands over to the scheduler.
func (m *Monitor) Start() {
	m.Refresh()
	m.cron.Start()
	m.logger.Info("connection monitor started", zap.Int("probes", len(m.probes)))
}

// Stop waits for a running round to finish or ctx to expire.
func (m *Monitor) Stop(ctx context.Context) {
	stopCtx := m.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
	m.logger.Info("connection monitor stopped")
}

// Refresh runs every probe once and publishes the result.
func (m *Monitor) Refresh() {
	components := make(map[string]bool, len(m.probes))
	for _, p := range m.probes {
		components[p.Name] = m.run(p)
	}

	m.mu.Lock()
	m.status = Status{Components: components, LastCheck: time.Now().UTC()}
	m.mu.Unlock()
}

func (m *Monitor) GetStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	components := make(map[string]bool, len(m.status.Components))
	for k, v := range m.status.Components {
		components[k] = v
	}
	return Status{Components: components, LastCheck: m.status.LastCheck}
}

func (m *Monitor) IsOnline() bool {
	return m.GetStatus().Healthy()
}

func (m *Monitor) run(p Probe) bool {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := p.Check(ctx); err != nil {
		m.logger.Warn("dependency check failed", zap.String("component", p.Name), zap.Error(err))
		return false
	}
	return true
}
