// Package platform defines the HAL traits spec.md treats as external
// collaborators (sensors/wifi/WWAN) plus in-memory Simulated
// implementations for tests and the demo binary. Grounded on the
// teacher's KernelClient dependency-injection pattern: small interfaces
// the runtime depends on, implemented for real hardware elsewhere and
// faked here.
package platform

import "sync"

// SensorHAL exposes the sensor capability's configure/poll/indicate
// surface (spec §1 "a trait exposing configure(request), poll, and
// indication callbacks").
type SensorHAL interface {
	Configure(sensorType uint8, enable bool, intervalNs, latencyNs uint64) error
	Poll() ([]SensorSample, error)
}

// SensorSample is a single reading delivered by the HAL.
type SensorSample struct {
	SensorType uint8
	TimestampNs uint64
	Value       float64
}

// WifiHAL exposes the wifi-scan-monitor capability (spec §4.7).
type WifiHAL interface {
	ConfigureScanMonitor(enable bool) error
}

// WwanHAL exposes WWAN cell-info queries.
type WwanHAL interface {
	RequestCellInfo() error
}

// SimulatedSensorHAL is an in-memory SensorHAL for tests and the demo
// binary: Configure always succeeds and Poll returns whatever samples
// were queued with Inject.
type SimulatedSensorHAL struct {
	mu      sync.Mutex
	samples []SensorSample
}

// NewSimulatedSensorHAL constructs an empty SimulatedSensorHAL.
func NewSimulatedSensorHAL() *SimulatedSensorHAL {
	return &SimulatedSensorHAL{}
}

func (s *SimulatedSensorHAL) Configure(sensorType uint8, enable bool, intervalNs, latencyNs uint64) error {
	return nil
}

func (s *SimulatedSensorHAL) Poll() ([]SensorSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	samples := s.samples
	s.samples = nil
	return samples, nil
}

// Inject queues a sample to be returned by the next Poll, used by tests
// and the demo binary to simulate sensor activity.
func (s *SimulatedSensorHAL) Inject(sample SensorSample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, sample)
}

// SimulatedWifiHAL is an in-memory WifiHAL: ConfigureScanMonitor always
// succeeds and records the most recent requested state.
type SimulatedWifiHAL struct {
	mu      sync.Mutex
	Enabled bool
}

func NewSimulatedWifiHAL() *SimulatedWifiHAL {
	return &SimulatedWifiHAL{}
}

func (w *SimulatedWifiHAL) ConfigureScanMonitor(enable bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Enabled = enable
	return nil
}

// SimulatedWwanHAL is an in-memory WwanHAL.
type SimulatedWwanHAL struct{}

func NewSimulatedWwanHAL() *SimulatedWwanHAL {
	return &SimulatedWwanHAL{}
}

func (w *SimulatedWwanHAL) RequestCellInfo() error {
	return nil
}
