package peersim

import (
	"context"
	"encoding/binary"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-blebridge/internal/bridges/ble"
)

// CO2 sensor service and characteristic UUIDs.
var (
	CO2ServiceUUID      = uuid.MustParse("00000001-a05a-40f0-8ff3-3a5320959b49")
	CO2MeterStatusUUID  = uuid.MustParse("00000002-a05a-40f0-8ff3-3a5320959b49")
	CO2AlarmStatusUUID  = uuid.MustParse("00000003-a05a-40f0-8ff3-3a5320959b49")
	CO2OutputStatusUUID = uuid.MustParse("00000004-a05a-40f0-8ff3-3a5320959b49")
	CO2SpaceCO2UUID     = uuid.MustParse("00000005-a05a-40f0-8ff3-3a5320959b49")
)

// CO2 alarm threshold used by the random walk, in ppm.
const co2AlarmPPM = 1500

// CO2Reading is one poll of the meter's input registers.
type CO2Reading struct {
	MeterStatus  uint16
	AlarmStatus  uint16
	OutputStatus uint16
	SpaceCO2     uint16
}

// CO2Sensor models a CO2 meter that notifies changed registers.
type CO2Sensor struct {
	*Peripheral

	mu      sync.Mutex
	reading CO2Reading
}

// NewCO2Sensor creates a sensor at addr.
func NewCO2Sensor(addr ble.Address) *CO2Sensor {
	props := ble.PropRead | ble.PropNotify
	s := &CO2Sensor{reading: CO2Reading{SpaceCO2: 420}}
	s.Peripheral = NewPeripheral(addr, "co2sensor", CO2ServiceUUID, DefaultBaseHandle, []CharacteristicDef{
		{UUID: CO2MeterStatusUUID, Properties: props},
		{UUID: CO2AlarmStatusUUID, Properties: props},
		{UUID: CO2OutputStatusUUID, Properties: props},
		{UUID: CO2SpaceCO2UUID, Properties: props},
	})
	return s
}

// Reading returns the current register values.
func (s *CO2Sensor) Reading() CO2Reading {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reading
}

// Update stores a new reading and notifies every register that changed.
func (s *CO2Sensor) Update(r CO2Reading) {
	s.mu.Lock()
	old := s.reading
	s.reading = r
	s.mu.Unlock()

	notifyU16 := func(id uuid.UUID, prev, cur uint16) {
		if prev != cur {
			s.Notify(id, binary.LittleEndian.AppendUint16(nil, cur))
		}
	}
	notifyU16(CO2MeterStatusUUID, old.MeterStatus, r.MeterStatus)
	notifyU16(CO2AlarmStatusUUID, old.AlarmStatus, r.AlarmStatus)
	notifyU16(CO2OutputStatusUUID, old.OutputStatus, r.OutputStatus)
	notifyU16(CO2SpaceCO2UUID, old.SpaceCO2, r.SpaceCO2)
}

// Run polls a simulated meter every interval until ctx is done. CO2 follows
// a bounded random walk and the alarm register follows the threshold.
func (s *CO2Sensor) Run(ctx context.Context, interval time.Duration) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec // simulation only
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		r := s.Reading()
		ppm := int(r.SpaceCO2) + rng.Intn(101) - 50
		ppm = max(350, min(ppm, 2500))
		r.SpaceCO2 = uint16(ppm)
		r.AlarmStatus = 0
		if ppm >= co2AlarmPPM {
			r.AlarmStatus = 1
		}
		r.OutputStatus = uint16(ppm / 10)
		s.Update(r)
	}
}
