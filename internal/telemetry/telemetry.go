// Package telemetry collects hardware vitals from an external collaborator.
// The dispatcher never inspects raw values; snapshots are reduced to pressure
// signals that feed the affect engine's impulse triggers.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"sovereign/internal/logging"
)

// Snapshot is one reading from the hardware-telemetry collaborator.
type Snapshot struct {
	CPULoadPct     float64   `json:"cpu_load_pct"`
	RAMAvailableMB float64   `json:"ram_available_mb"`
	GPUTempC       float64   `json:"gpu_temp_c"`
	Timestamp      time.Time `json:"timestamp"`
}

// Pressure is a resource-pressure signal derived from a snapshot.
type Pressure string

const (
	PressureHighGPUTemp Pressure = "high_gpu_temp"
	PressureHighCPULoad Pressure = "high_cpu_load"
	PressureLowRAM      Pressure = "low_ram"
)

// Thresholds define when a snapshot counts as pressure.
type Thresholds struct {
	GPUTempHotC    float64
	CPULoadHighPct float64
	RAMLowMB       float64
}

// Pressures reduces a snapshot to the set of threshold crossings.
func (s Snapshot) Pressures(t Thresholds) []Pressure {
	var out []Pressure
	if t.GPUTempHotC > 0 && s.GPUTempC >= t.GPUTempHotC {
		out = append(out, PressureHighGPUTemp)
	}
	if t.CPULoadHighPct > 0 && s.CPULoadPct >= t.CPULoadHighPct {
		out = append(out, PressureHighCPULoad)
	}
	if t.RAMLowMB > 0 && s.RAMAvailableMB > 0 && s.RAMAvailableMB <= t.RAMLowMB {
		out = append(out, PressureLowRAM)
	}
	return out
}

// Collector yields telemetry snapshots.
type Collector interface {
	Collect(ctx context.Context) (Snapshot, error)
}

// HTTPCollector polls an HTTP endpoint that returns a JSON snapshot.
type HTTPCollector struct {
	endpoint string
	client   *http.Client
}

// NewHTTPCollector creates a collector for the given endpoint.
func NewHTTPCollector(endpoint string) *HTTPCollector {
	return &HTTPCollector{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

// Collect fetches one snapshot.
func (c *HTTPCollector) Collect(ctx context.Context) (Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Snapshot{}, fmt.Errorf("telemetry request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Snapshot{}, fmt.Errorf("telemetry endpoint returned status %d", resp.StatusCode)
	}

	var snap Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode telemetry snapshot: %w", err)
	}
	if snap.Timestamp.IsZero() {
		snap.Timestamp = time.Now()
	}

	logging.Telemetry("snapshot: cpu=%.1f%% ram=%.0fMB gpu=%.1fC", snap.CPULoadPct, snap.RAMAvailableMB, snap.GPUTempC)
	return snap, nil
}
