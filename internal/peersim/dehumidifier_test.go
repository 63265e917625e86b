package peersim

import (
	"context"
	"errors"
	"testing"

	"github.com/nerrad567/gray-logic-blebridge/internal/bridges/ble"
)

var dehumidAddr = ble.MustParseAddress("D0:00:00:00:00:01")

// connectAll dials the peripheral and subscribes to every notifying
// characteristic, returning the received notifications keyed by handle.
func connectAll(t *testing.T, p *Peripheral) (*Link, *notificationLog) {
	t.Helper()
	c := NewCentral(0)
	c.Add(p)
	bl, err := c.Dial(context.Background(), p.Address())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	link := bl.(*Link) //nolint:forcetypeassert // simulator always returns *Link
	log := &notificationLog{}
	for _, ch := range p.chars {
		if !ch.def.Properties.Has(ble.PropNotify) {
			continue
		}
		vh := ch.valueHandle
		err := link.Subscribe(context.Background(), ble.SubscribeParams{
			ValueHandle: vh,
			CCCHandle:   ch.cccHandle,
			Notify:      func(v []byte) { log.add(vh, v) },
		})
		if err != nil {
			t.Fatalf("Subscribe(0x%04x) error = %v", vh, err)
		}
	}
	return link, log
}

func TestDehumidifier_WriteValidation(t *testing.T) {
	d := NewDehumidifier(dehumidAddr)
	link, _ := connectAll(t, d.Peripheral)
	ctx := context.Background()

	fan := d.ValueHandle(DehumidFanUUID)
	tests := []struct {
		name   string
		handle uint16
		value  []byte
		want   error
	}{
		{"empty", fan, []byte{}, ErrNotSupported},
		{"two bytes", fan, []byte{1, 0}, ErrNotSupported},
		{"bad fan mode", fan, []byte{3}, ErrNotSupported},
		{"read only waterbox", d.ValueHandle(DehumidWaterboxUUID), []byte{1}, ErrWriteNotPermitted},
		{"unknown handle", 0x0099, []byte{1}, ErrInvalidHandle},
		{"valid", fan, []byte{2}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := link.Write(ctx, tt.handle, tt.value)
			if tt.want == nil && err != nil {
				t.Fatalf("Write() error = %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("Write() error = %v, want %v", err, tt.want)
			}
		})
	}
	if d.State().Fan != FanFull {
		t.Errorf("fan = %d, want full", d.State().Fan)
	}
}

func TestDehumidifier_Interlocks(t *testing.T) {
	d := NewDehumidifier(dehumidAddr)
	link, log := connectAll(t, d.Peripheral)
	ctx := context.Background()

	// The compressor pulls the fan to full.
	if err := link.Write(ctx, d.ValueHandle(DehumidCompressorUUID), []byte{1}); err != nil {
		t.Fatalf("compressor on: %v", err)
	}
	if s := d.State(); !s.Compressor || s.Fan != FanFull {
		t.Fatalf("state = %+v, want compressor on at full fan", s)
	}
	if got := log.last(d.ValueHandle(DehumidFanUUID)); len(got) != 1 || got[0] != byte(FanFull) {
		t.Errorf("fan notification = %v, want [2]", got)
	}

	// Changing the fan speed drops the compressor.
	if err := link.Write(ctx, d.ValueHandle(DehumidFanUUID), []byte{1}); err != nil {
		t.Fatalf("fan half: %v", err)
	}
	if s := d.State(); s.Compressor || s.Fan != FanHalf {
		t.Fatalf("state = %+v, want compressor off at half fan", s)
	}

	// A full waterbox turns everything off and blocks further writes.
	if err := link.Write(ctx, d.ValueHandle(DehumidIonizerUUID), []byte{1}); err != nil {
		t.Fatalf("ionizer on: %v", err)
	}
	d.SetWaterbox(true)
	if s := d.State(); s.Ionizer || s.Compressor || s.Fan != FanOff || !s.WaterboxFull {
		t.Fatalf("state = %+v, want everything off", s)
	}
	if got := log.last(d.ValueHandle(DehumidWaterboxUUID)); len(got) != 1 || got[0] != 1 {
		t.Errorf("waterbox notification = %v, want [1]", got)
	}
	for _, id := range []string{"ionizer", "fan", "compressor"} {
		h := map[string]uint16{
			"ionizer":    d.ValueHandle(DehumidIonizerUUID),
			"fan":        d.ValueHandle(DehumidFanUUID),
			"compressor": d.ValueHandle(DehumidCompressorUUID),
		}[id]
		if err := link.Write(ctx, h, []byte{1}); !errors.Is(err, ErrNotSupported) {
			t.Errorf("%s on with full waterbox: error = %v, want ErrNotSupported", id, err)
		}
	}

	// Turning things off is always allowed.
	if err := link.Write(ctx, d.ValueHandle(DehumidFanUUID), []byte{0}); err != nil {
		t.Errorf("fan off with full waterbox: %v", err)
	}
}

func TestDehumidifier_IonizerStartsFan(t *testing.T) {
	d := NewDehumidifier(dehumidAddr)
	link, _ := connectAll(t, d.Peripheral)

	if err := link.Write(context.Background(), d.ValueHandle(DehumidIonizerUUID), []byte{1}); err != nil {
		t.Fatalf("ionizer on: %v", err)
	}
	if s := d.State(); !s.Ionizer || s.Fan != FanHalf {
		t.Errorf("state = %+v, want ionizer on at half fan", s)
	}
}
