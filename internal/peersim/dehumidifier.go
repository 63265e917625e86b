package peersim

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-blebridge/internal/bridges/ble"
)

// Dehumidifier service and characteristic UUIDs.
var (
	DehumidServiceUUID    = uuid.MustParse("00000001-b28b-44f9-a91a-5c7c674ba354")
	DehumidIonizerUUID    = uuid.MustParse("00000002-b28b-44f9-a91a-5c7c674ba354")
	DehumidFanUUID        = uuid.MustParse("00000003-b28b-44f9-a91a-5c7c674ba354")
	DehumidCompressorUUID = uuid.MustParse("00000004-b28b-44f9-a91a-5c7c674ba354")
	DehumidWaterboxUUID   = uuid.MustParse("00000005-b28b-44f9-a91a-5c7c674ba354")
)

// FanMode is the dehumidifier fan speed.
type FanMode uint8

// Fan speeds.
const (
	FanOff  FanMode = 0
	FanHalf FanMode = 1
	FanFull FanMode = 2
)

// DehumidifierState is a snapshot of the actuators and the level switch.
type DehumidifierState struct {
	Ionizer      bool
	Fan          FanMode
	Compressor   bool
	WaterboxFull bool
}

type notification struct {
	id    uuid.UUID
	value byte
}

// Dehumidifier models a dehumidifier with safety interlocks:
//
//   - nothing turns on while the waterbox is full
//   - the ionizer needs the fan running (turned to half if off)
//   - the compressor needs the fan at full
//   - changing the fan speed turns the ionizer and compressor off
//   - a full waterbox turns everything off
type Dehumidifier struct {
	*Peripheral

	mu      sync.Mutex
	state   DehumidifierState
	pending []notification
}

// NewDehumidifier creates a dehumidifier at addr with everything off.
func NewDehumidifier(addr ble.Address) *Dehumidifier {
	rwn := ble.PropRead | ble.PropWrite | ble.PropNotify
	d := &Dehumidifier{}
	d.Peripheral = NewPeripheral(addr, "dehumidifier", DehumidServiceUUID, DefaultBaseHandle, []CharacteristicDef{
		{UUID: DehumidIonizerUUID, Properties: rwn, Write: d.writeIonizer},
		{UUID: DehumidFanUUID, Properties: rwn, Write: d.writeFan},
		{UUID: DehumidCompressorUUID, Properties: rwn, Write: d.writeCompressor},
		{UUID: DehumidWaterboxUUID, Properties: ble.PropRead | ble.PropNotify},
	})
	return d
}

// State returns the current state.
func (d *Dehumidifier) State() DehumidifierState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// SetWaterbox simulates the level switch changing.
func (d *Dehumidifier) SetWaterbox(full bool) {
	d.apply(func() error {
		d.state.WaterboxFull = full
		if full {
			_ = d.setCompressor(false) //nolint:errcheck // turning off never fails
			_ = d.setIonizer(false)    //nolint:errcheck // turning off never fails
			_ = d.setFan(FanOff)       //nolint:errcheck // turning off never fails
		}
		d.queue(DehumidWaterboxUUID, boolByte(full))
		return nil
	})
}

func (d *Dehumidifier) writeIonizer(value []byte) error {
	if len(value) != 1 {
		return fmt.Errorf("%w: ionizer takes one byte", ErrNotSupported)
	}
	return d.apply(func() error { return d.setIonizer(value[0] != 0) })
}

func (d *Dehumidifier) writeFan(value []byte) error {
	if len(value) != 1 {
		return fmt.Errorf("%w: fan takes one byte", ErrNotSupported)
	}
	mode := FanMode(value[0])
	if mode > FanFull {
		return fmt.Errorf("%w: fan mode %d", ErrNotSupported, mode)
	}
	return d.apply(func() error { return d.setFan(mode) })
}

func (d *Dehumidifier) writeCompressor(value []byte) error {
	if len(value) != 1 {
		return fmt.Errorf("%w: compressor takes one byte", ErrNotSupported)
	}
	return d.apply(func() error { return d.setCompressor(value[0] != 0) })
}

// apply runs fn under the lock and sends the queued notifications after
// releasing it.
func (d *Dehumidifier) apply(fn func() error) error {
	d.mu.Lock()
	err := fn()
	pending := d.pending
	d.pending = nil
	d.mu.Unlock()

	for _, n := range pending {
		d.Notify(n.id, []byte{n.value})
	}
	return err
}

func (d *Dehumidifier) queue(id uuid.UUID, v byte) {
	d.pending = append(d.pending, notification{id: id, value: v})
}

// The set* helpers expect d.mu to be held.

func (d *Dehumidifier) setIonizer(on bool) error {
	if on && d.state.WaterboxFull {
		return fmt.Errorf("%w: waterbox full", ErrNotSupported)
	}
	if on && d.state.Fan == FanOff {
		if err := d.setFan(FanHalf); err != nil {
			return err
		}
	}
	d.state.Ionizer = on
	d.queue(DehumidIonizerUUID, boolByte(on))
	return nil
}

func (d *Dehumidifier) setFan(mode FanMode) error {
	if mode != FanOff && d.state.WaterboxFull {
		return fmt.Errorf("%w: waterbox full", ErrNotSupported)
	}
	_ = d.setCompressor(false) //nolint:errcheck // turning off never fails
	_ = d.setIonizer(false)    //nolint:errcheck // turning off never fails

	if d.state.Fan != mode {
		d.queue(DehumidFanUUID, byte(mode))
	}
	d.state.Fan = mode
	return nil
}

func (d *Dehumidifier) setCompressor(on bool) error {
	if on && d.state.WaterboxFull {
		return fmt.Errorf("%w: waterbox full", ErrNotSupported)
	}
	if on && d.state.Fan != FanFull {
		if err := d.setFan(FanFull); err != nil {
			return err
		}
	}
	if d.state.Compressor != on {
		d.queue(DehumidCompressorUUID, boolByte(on))
	}
	d.state.Compressor = on
	return nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
