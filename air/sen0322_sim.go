package air

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/mklimuk/oxygen"
)

var _ oxygen.I2CBus = &SimulatedSEN0322{}

// OxygenBehaviorFunc defines the function signature for simulated oxygen behavior.
// It returns the concentration in percent or an error.
type OxygenBehaviorFunc func(ctx context.Context) (float32, error)

// SimulatedSEN0322 is a bus that answers like a SEN0322 without requiring hardware.
// The answer frame follows the last command written: after the oxygen data
// command it is big endian hundredths, after the judge phase it is the fixed point
// format scaled by the calibration key.
//
// Example usage:
//
//	bus := NewSimulatedSEN0322(func(ctx context.Context) (float32, error) { return 20.9, nil })
//	s := NewSEN0322(oxygen.NewRegisters(bus), sink)
type SimulatedSEN0322 struct {
	mx       sync.Mutex
	behavior OxygenBehaviorFunc
	address  byte
	key      byte
	pointer  byte
}

type SimulatedSEN0322Opt func(*SimulatedSEN0322)

func WithSimulatedAddress(address byte) SimulatedSEN0322Opt {
	return func(s *SimulatedSEN0322) {
		s.address = address
	}
}

// WithSimulatedKey sets the calibration key register content.
func WithSimulatedKey(key byte) SimulatedSEN0322Opt {
	return func(s *SimulatedSEN0322) {
		s.key = key
	}
}

func NewSimulatedSEN0322(behavior OxygenBehaviorFunc, opts ...SimulatedSEN0322Opt) *SimulatedSEN0322 {
	s := &SimulatedSEN0322{
		behavior: behavior,
		address:  SEN0322DefaultAddress,
		pointer:  regOxygenData,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SimulatedSEN0322) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	if address != s.address {
		return fmt.Errorf("no device at %#x", address)
	}
	if len(buffer) == 0 {
		return nil
	}
	s.mx.Lock()
	defer s.mx.Unlock()
	s.pointer = buffer[0]
	return nil
}

func (s *SimulatedSEN0322) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	if address != s.address {
		return fmt.Errorf("no device at %#x", address)
	}
	s.mx.Lock()
	pointer := s.pointer
	s.mx.Unlock()
	if pointer == regCalibrationKey {
		if len(buffer) > 0 {
			buffer[0] = s.key
		}
		return nil
	}
	value, err := s.behavior(ctx)
	if err != nil {
		return err
	}
	if value < 0 {
		value = 0
	}
	var frame [sampleSize]byte
	switch pointer {
	case regJudgePhase, regCollectPhase:
		frame = encodeCalibrated(value, calibrationFromKey(s.key))
	default:
		binary.BigEndian.PutUint16(frame[:2], uint16(math.Round(float64(value)*100)))
	}
	copy(buffer, frame[:])
	return nil
}

func (s *SimulatedSEN0322) Release(ctx context.Context) error {
	return nil
}

func encodeCalibrated(value, calibration float32) [sampleSize]byte {
	hundredths := int(math.Round(float64(value) / float64(calibration) * 100))
	if hundredths > 255*100+99 {
		hundredths = 255*100 + 99
	}
	return [sampleSize]byte{byte(hundredths / 100), byte(hundredths / 10 % 10), byte(hundredths % 10)}
}
