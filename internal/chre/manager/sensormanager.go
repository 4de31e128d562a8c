package manager

import (
	"errors"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/ctxhub/chre-runtime/internal/chre/event"
	"github.com/ctxhub/chre-runtime/internal/chre/mux"
	"github.com/ctxhub/chre-runtime/internal/chre/sensor"
	"github.com/ctxhub/chre-runtime/internal/logging"
	"github.com/ctxhub/chre-runtime/internal/platform"
)

// ErrNoSuchSensorSubscriber is returned by Cancel for a nanoapp with no
// outstanding request on the sensor.
var ErrNoSuchSensorSubscriber = errors.New("manager: no sensor request from that nanoapp")

// MaximalChangeRecorder observes a request multiplexer's maximal element
// changing, keyed by capability name, so the caller can drive a metrics
// counter without internal/chre/manager importing the monitoring package.
type MaximalChangeRecorder interface {
	IncMaximalChanges(capability string)
}

// SensorRequestManager arbitrates one physical sensor across every nanoapp
// that has an outstanding request for it, directly on top of C6 (spec
// §4.5, §4.7: "per-capability state transition queues ... layered on C6").
// Unlike the scan-monitor exemplar (a single boolean capability), a sensor
// has a real aggregation law over mode/interval/latency, so this manager
// drives platform.SensorHAL.Configure with the multiplexer's maximal
// rather than a membership count.
type SensorRequestManager struct {
	mu         sync.Mutex
	log        *logging.Logger
	sensorType uint8
	platform   platform.SensorHAL
	requests   *mux.RequestMultiplexer[sensor.Request]
	owners     []event.InstanceID // parallel to requests' internal ordering
	recorder   MaximalChangeRecorder
	capability string
}

// NewSensorRequestManager constructs a SensorRequestManager for one
// physical sensorType, with room for capacity concurrently outstanding
// nanoapp requests. recorder may be nil.
func NewSensorRequestManager(sensorType uint8, capacity int, hal platform.SensorHAL, recorder MaximalChangeRecorder, log *logging.Logger) *SensorRequestManager {
	if log == nil {
		log = logging.NewDefault()
	}
	return &SensorRequestManager{
		log:        log,
		sensorType: sensorType,
		platform:   hal,
		requests:   mux.New[sensor.Request](capacity),
		recorder:   recorder,
		capability: sensorCapabilityLabel(sensorType),
	}
}

// Request installs or replaces nanoappID's request for this sensor,
// reconfiguring the platform only when the aggregated maximal changes
// under sensor.Request.IsEquivalentTo.
func (s *SensorRequestManager) Request(nanoappID event.InstanceID, req sensor.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if idx := s.indexOf(nanoappID); idx >= 0 {
		changed, err := s.requests.UpdateRequest(idx, req)
		if err != nil {
			return err
		}
		return s.maybeApply(changed)
	}

	changed, err := s.requests.AddRequest(req)
	if err != nil {
		return err
	}
	s.owners = append(s.owners, nanoappID)
	return s.maybeApply(changed)
}

// Cancel removes nanoappID's request for this sensor.
func (s *SensorRequestManager) Cancel(nanoappID event.InstanceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(nanoappID)
	if idx < 0 {
		return ErrNoSuchSensorSubscriber
	}
	return s.removeAt(idx)
}

// CancelAllForNanoapp drops every request belonging to instanceID, the
// sensor-capability analogue of timer.Pool.CancelAllForNanoapp, called at
// nanoapp unload.
func (s *SensorRequestManager) CancelAllForNanoapp(instanceID event.InstanceID) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for {
		idx := s.indexOf(instanceID)
		if idx < 0 {
			break
		}
		if err := s.removeAt(idx); err != nil {
			break
		}
		removed++
	}
	return removed
}

// Maximal returns the current aggregated request.
func (s *SensorRequestManager) Maximal() sensor.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests.Maximal()
}

// SubscriberCount reports the number of nanoapps with an outstanding
// request on this sensor.
func (s *SensorRequestManager) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.owners)
}

func (s *SensorRequestManager) removeAt(idx int) error {
	changed, err := s.requests.RemoveRequest(idx)
	if err != nil {
		return err
	}
	s.owners = append(s.owners[:idx], s.owners[idx+1:]...)
	return s.maybeApply(changed)
}

func (s *SensorRequestManager) indexOf(id event.InstanceID) int {
	for i, owner := range s.owners {
		if owner == id {
			return i
		}
	}
	return -1
}

func (s *SensorRequestManager) maybeApply(maximalChanged bool) error {
	if !maximalChanged {
		return nil
	}
	if s.recorder != nil {
		s.recorder.IncMaximalChanges(s.capability)
	}
	max := s.requests.Maximal()
	if err := s.platform.Configure(s.sensorType, max.Enabled(), max.Interval, max.Latency); err != nil {
		s.log.Warn("sensor platform configure failed",
			zap.Uint8("sensor_type", s.sensorType), zap.Error(err))
		return err
	}
	return nil
}

func sensorCapabilityLabel(sensorType uint8) string {
	return "sensor_" + strconv.Itoa(int(sensorType))
}
