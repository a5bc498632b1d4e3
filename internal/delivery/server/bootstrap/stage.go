package bootstrap

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"nexus/internal/shared/logging"
)

// BootstrapStage is one named startup step. A failing required stage aborts
// startup; a failing optional stage leaves the server running without that
// component.
type BootstrapStage struct {
	Name     string
	Required bool
	Init     func() error
}

// DegradedComponents records optional components that failed to start. It
// is reported by /health for the lifetime of the process.
type DegradedComponents struct {
	mu      sync.RWMutex
	reasons map[string]string
}

func NewDegradedComponents() *DegradedComponents {
	return &DegradedComponents{reasons: make(map[string]string)}
}

// Record marks name as degraded. A later failure of the same component
// replaces the earlier reason.
func (d *DegradedComponents) Record(name, reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reasons[name] = reason
}

// Snapshot returns a copy of the degraded components and their reasons.
func (d *DegradedComponents) Snapshot() map[string]string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]string, len(d.reasons))
	for name, reason := range d.reasons {
		out[name] = reason
	}
	return out
}

// Names returns the degraded component names in sorted order.
func (d *DegradedComponents) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.reasons))
	for name := range d.reasons {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (d *DegradedComponents) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.reasons)
}

// RunStages executes stages in order and logs how long each took.
func RunStages(stages []BootstrapStage, degraded *DegradedComponents, logger logging.Logger) error {
	logger = logging.OrNop(logger)
	for _, stage := range stages {
		start := time.Now()
		err := stage.Init()
		elapsed := time.Since(start).Round(time.Millisecond)
		if err == nil {
			logger.Info("[Bootstrap] Stage %s ready in %s", stage.Name, elapsed)
			continue
		}
		if stage.Required {
			return fmt.Errorf("required stage %q failed: %w", stage.Name, err)
		}
		logger.Warn("[Bootstrap] Optional stage %s failed after %s: %v", stage.Name, elapsed, err)
		if degraded != nil {
			degraded.Record(stage.Name, err.Error())
		}
	}
	return nil
}
