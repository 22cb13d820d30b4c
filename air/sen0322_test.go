package air

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/oxygen"
)

const addr = byte(SEN0322DefaultAddress)

// MockRegisterBus is a mock implementation of oxygen.RegisterBus using testify/mock
type MockRegisterBus struct {
	mock.Mock
}

func (m *MockRegisterBus) WriteRegister(ctx context.Context, address, reg, value byte) error {
	args := m.Called(ctx, address, reg, value)
	return args.Error(0)
}

func (m *MockRegisterBus) ReadRegister(ctx context.Context, address, reg byte) (byte, error) {
	args := m.Called(ctx, address, reg)
	return args.Get(0).(byte), args.Error(1)
}

func (m *MockRegisterBus) ReadBytes(ctx context.Context, address, reg byte, buffer []byte) error {
	args := m.Called(ctx, address, reg, buffer)
	if data, ok := args.Get(0).([]byte); ok {
		copy(buffer, data)
	}
	return args.Error(1)
}

func (m *MockRegisterBus) ReadRaw(ctx context.Context, address byte, buffer []byte) error {
	args := m.Called(ctx, address, buffer)
	if data, ok := args.Get(0).([]byte); ok {
		copy(buffer, data)
	}
	return args.Error(1)
}

type recordingSink struct {
	values []float32
}

func (r *recordingSink) Publish(value float32) {
	r.values = append(r.values, value)
}

func noDelays() []SEN0322Opt {
	return []SEN0322Opt{WithSettleDelay(0), WithPhaseDelay(0), WithCommandDelay(0)}
}

func newTestSensor(bus oxygen.RegisterBus, sink oxygen.Sink, opts ...SEN0322Opt) *SEN0322 {
	return NewSEN0322(bus, sink, append(noDelays(), opts...)...)
}

func expectSetup(bus *MockRegisterBus) {
	bus.On("WriteRegister", mock.Anything, addr, regCollectPhase, byte(0x00)).Return(nil).Once()
}

func expectDirectCycle(bus *MockRegisterBus, sample []byte) {
	bus.On("WriteRegister", mock.Anything, addr, regOxygenData, byte(0x00)).Return(nil).Once()
	bus.On("ReadRaw", mock.Anything, addr, mock.Anything).Return(sample, nil).Once()
}

func expectPhaseCycle(bus *MockRegisterBus, key byte, sample []byte) {
	bus.On("ReadRegister", mock.Anything, addr, regCalibrationKey).Return(key, nil).Once()
	bus.On("WriteRegister", mock.Anything, addr, regCollectPhase, byte(0x00)).Return(nil).Once()
	bus.On("WriteRegister", mock.Anything, addr, regJudgePhase, byte(0x00)).Return(nil).Once()
	bus.On("ReadRaw", mock.Anything, addr, mock.Anything).Return(sample, nil).Once()
}

func TestSEN0322_DecodeDirect(t *testing.T) {
	tests := []struct {
		name     string
		sample   [3]byte
		expected float32
	}{
		{"big endian in range", [3]byte{0x08, 0x2A, 0x00}, 20.9},
		{"swapped byte order", [3]byte{20, 9, 0}, 23.24},
		{"single byte fallback", [3]byte{200, 200, 0}, 20.0},
		{"zero", [3]byte{0, 0, 0}, 0},
		{"upper threshold is inclusive", [3]byte{0x09, 0xC4, 0xFF}, 25.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, decodeDirect(tt.sample), 0.0001)
		})
	}
}

func TestSEN0322_DecodeDirectHypothesisOrder(t *testing.T) {
	inRange := func(v float32) bool { return v >= 0 && v <= 25 }
	for b0 := 0; b0 < 256; b0++ {
		for b1 := 0; b1 < 256; b1++ {
			sample := [3]byte{byte(b0), byte(b1), 0}
			h1 := float32(uint16(b0)<<8|uint16(b1)) * 0.01
			h2 := float32(uint16(b1)<<8|uint16(b0)) * 0.01
			h3 := float32(b0) * 0.1
			got := decodeDirect(sample)
			switch {
			case inRange(h1):
				require.Equal(t, h1, got)
			case inRange(h2):
				require.Equal(t, h2, got)
			default:
				require.Equal(t, h3, got)
			}
			require.NoError(t, validate(got), "direct decode must always pass validation: %v", sample)
		}
	}
}

func TestSEN0322_DecodeCalibrated(t *testing.T) {
	v := decodeCalibrated([3]byte{20, 9, 5}, defaultCalibration)
	assert.InDelta(t, 3.6488, v, 0.001)

	v = decodeCalibrated([3]byte{100, 0, 0}, 0.1)
	assert.InDelta(t, 10.0, v, 0.0001)
}

func TestSEN0322_DecodeCalibratedMonotonic(t *testing.T) {
	for _, fraction := range [][2]byte{{0, 0}, {9, 9}, {5, 0}, {255, 255}} {
		for _, calibration := range []float32{defaultCalibration, 0.001, 0.255} {
			prev := decodeCalibrated([3]byte{0, fraction[0], fraction[1]}, calibration)
			for b0 := 1; b0 < 256; b0++ {
				v := decodeCalibrated([3]byte{byte(b0), fraction[0], fraction[1]}, calibration)
				require.GreaterOrEqual(t, v, prev)
				prev = v
			}
		}
	}
}

func TestSEN0322_CalibrationFromKey(t *testing.T) {
	assert.Equal(t, float32(20.9/120.0), calibrationFromKey(0))
	for key := 1; key < 256; key++ {
		assert.Equal(t, float32(key)/1000.0, calibrationFromKey(byte(key)))
	}
}

func TestSEN0322_Validate(t *testing.T) {
	assert.NoError(t, validate(0))
	assert.NoError(t, validate(30))
	assert.ErrorIs(t, validate(35), ErrOutOfRange)
	assert.ErrorIs(t, validate(-0.1), ErrOutOfRange)
	assert.EqualError(t, validate(35), "sen0322: reading out of range: 35.00%")
}

func TestSEN0322_Setup(t *testing.T) {
	bus := new(MockRegisterBus)
	expectSetup(bus)
	s := newTestSensor(bus, &recordingSink{})

	require.NoError(t, s.Setup(context.Background()))
	assert.Equal(t, StateReady, s.State())
	assert.Equal(t, oxygen.StatusHealthy, s.Status())
	assert.Equal(t, defaultCalibration, s.Calibration())
	bus.AssertNotCalled(t, "ReadRegister", mock.Anything, mock.Anything, mock.Anything)
	bus.AssertExpectations(t)

	assert.ErrorIs(t, s.Setup(context.Background()), ErrAlreadyInitialized)
}

func TestSEN0322_SetupWaitsSettleDelay(t *testing.T) {
	bus := new(MockRegisterBus)
	expectSetup(bus)
	delay := 30 * time.Millisecond
	s := NewSEN0322(bus, &recordingSink{}, WithSettleDelay(delay))

	start := time.Now()
	require.NoError(t, s.Setup(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), delay)
}

func TestSEN0322_SetupFailure(t *testing.T) {
	bus := new(MockRegisterBus)
	bus.On("WriteRegister", mock.Anything, addr, regCollectPhase, byte(0x00)).Return(errors.New("nack")).Once()
	sink := &recordingSink{}
	s := newTestSensor(bus, sink)

	err := s.Setup(context.Background())
	assert.ErrorIs(t, err, ErrInitialization)
	assert.EqualError(t, err, "sen0322: initialization failed: collect phase command: nack")
	assert.Equal(t, StateFailed, s.State())
	assert.Equal(t, oxygen.StatusFailed, s.Status())

	// failed is terminal: no bus traffic, no publish
	for i := 0; i < 3; i++ {
		s.Update(context.Background())
	}
	assert.Equal(t, oxygen.StatusFailed, s.Status())
	assert.Empty(t, sink.values)
	assert.ErrorIs(t, s.Setup(context.Background()), ErrAlreadyInitialized)
	_, err = s.Measure(context.Background())
	assert.ErrorIs(t, err, ErrNotReady)
	bus.AssertExpectations(t)
	bus.AssertNumberOfCalls(t, "WriteRegister", 1)
	bus.AssertNotCalled(t, "ReadRaw", mock.Anything, mock.Anything, mock.Anything)
}

func TestSEN0322_SetupPhaseSequencedCalibration(t *testing.T) {
	tests := []struct {
		name     string
		key      byte
		keyErr   error
		expected float32
	}{
		{"calibrated key", 0x7B, nil, 0.123},
		{"zero key uses default", 0x00, nil, defaultCalibration},
		{"read error keeps default", 0x00, errors.New("nack"), defaultCalibration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := new(MockRegisterBus)
			expectSetup(bus)
			bus.On("ReadRegister", mock.Anything, addr, regCalibrationKey).Return(tt.key, tt.keyErr).Once()
			s := newTestSensor(bus, &recordingSink{}, WithMode(ModePhaseSequenced))

			require.NoError(t, s.Setup(context.Background()))
			assert.Equal(t, tt.expected, s.Calibration())
			assert.Equal(t, StateReady, s.State())
			bus.AssertExpectations(t)
		})
	}
}

func TestSEN0322_UpdateBeforeSetup(t *testing.T) {
	bus := new(MockRegisterBus)
	sink := &recordingSink{}
	s := newTestSensor(bus, sink)

	s.Update(context.Background())
	assert.Empty(t, sink.values)
	assert.Equal(t, StateUninitialized, s.State())
	bus.AssertExpectations(t)
}

func TestSEN0322_UpdateDirect(t *testing.T) {
	bus := new(MockRegisterBus)
	expectSetup(bus)
	expectDirectCycle(bus, []byte{20, 9, 0})
	sink := &recordingSink{}
	s := newTestSensor(bus, sink)
	ctx := context.Background()

	require.NoError(t, s.Setup(ctx))
	s.Update(ctx)

	require.Len(t, sink.values, 1)
	assert.InDelta(t, 23.24, sink.values[0], 0.0001)
	assert.Equal(t, oxygen.StatusHealthy, s.Status())
	bus.AssertExpectations(t)
}

func TestSEN0322_UpdateDirectWaitsCommandDelay(t *testing.T) {
	bus := new(MockRegisterBus)
	expectSetup(bus)
	expectDirectCycle(bus, []byte{0x08, 0x2A, 0x00})
	delay := 30 * time.Millisecond
	s := NewSEN0322(bus, &recordingSink{}, WithSettleDelay(0), WithCommandDelay(delay))
	ctx := context.Background()
	require.NoError(t, s.Setup(ctx))

	start := time.Now()
	s.Update(ctx)
	assert.GreaterOrEqual(t, time.Since(start), delay)
	bus.AssertExpectations(t)
}

func TestSEN0322_UpdatePhaseSequenced(t *testing.T) {
	bus := new(MockRegisterBus)
	expectSetup(bus)
	bus.On("ReadRegister", mock.Anything, addr, regCalibrationKey).Return(byte(0), nil).Once()
	expectPhaseCycle(bus, 0, []byte{20, 9, 5})
	sink := &recordingSink{}
	s := newTestSensor(bus, sink, WithMode(ModePhaseSequenced))
	ctx := context.Background()

	require.NoError(t, s.Setup(ctx))
	s.Update(ctx)

	require.Len(t, sink.values, 1)
	assert.InDelta(t, 3.65, sink.values[0], 0.005)
	assert.Equal(t, oxygen.StatusHealthy, s.Status())
	bus.AssertExpectations(t)
}

func TestSEN0322_UpdatePhaseSequencedRefreshesCalibration(t *testing.T) {
	bus := new(MockRegisterBus)
	expectSetup(bus)
	bus.On("ReadRegister", mock.Anything, addr, regCalibrationKey).Return(byte(0), nil).Once()
	expectPhaseCycle(bus, 100, []byte{100, 0, 0})
	sink := &recordingSink{}
	s := newTestSensor(bus, sink, WithMode(ModePhaseSequenced))
	ctx := context.Background()

	require.NoError(t, s.Setup(ctx))
	assert.Equal(t, defaultCalibration, s.Calibration())
	s.Update(ctx)

	assert.Equal(t, float32(0.1), s.Calibration())
	require.Len(t, sink.values, 1)
	assert.InDelta(t, 10.0, sink.values[0], 0.0001)
	bus.AssertExpectations(t)
}

func TestSEN0322_UpdateFailures(t *testing.T) {
	tests := []struct {
		name  string
		mode  Mode
		setup func(*MockRegisterBus)
	}{
		{
			name: "direct command write fails",
			mode: ModeDirectRead,
			setup: func(bus *MockRegisterBus) {
				bus.On("WriteRegister", mock.Anything, addr, regOxygenData, byte(0x00)).Return(errors.New("nack")).Once()
			},
		},
		{
			name: "direct read fails",
			mode: ModeDirectRead,
			setup: func(bus *MockRegisterBus) {
				bus.On("WriteRegister", mock.Anything, addr, regOxygenData, byte(0x00)).Return(nil).Once()
				bus.On("ReadRaw", mock.Anything, addr, mock.Anything).Return(nil, errors.New("bus error")).Once()
			},
		},
		{
			name: "calibration refresh fails",
			mode: ModePhaseSequenced,
			setup: func(bus *MockRegisterBus) {
				bus.On("ReadRegister", mock.Anything, addr, regCalibrationKey).Return(byte(0), errors.New("nack")).Once()
			},
		},
		{
			name: "judge phase write fails",
			mode: ModePhaseSequenced,
			setup: func(bus *MockRegisterBus) {
				bus.On("ReadRegister", mock.Anything, addr, regCalibrationKey).Return(byte(0xC8), nil).Once()
				bus.On("WriteRegister", mock.Anything, addr, regCollectPhase, byte(0x00)).Return(nil).Once()
				bus.On("WriteRegister", mock.Anything, addr, regJudgePhase, byte(0x00)).Return(errors.New("nack")).Once()
			},
		},
		{
			name: "phase read fails",
			mode: ModePhaseSequenced,
			setup: func(bus *MockRegisterBus) {
				bus.On("ReadRegister", mock.Anything, addr, regCalibrationKey).Return(byte(0xC8), nil).Once()
				bus.On("WriteRegister", mock.Anything, addr, regCollectPhase, byte(0x00)).Return(nil).Once()
				bus.On("WriteRegister", mock.Anything, addr, regJudgePhase, byte(0x00)).Return(nil).Once()
				bus.On("ReadRaw", mock.Anything, addr, mock.Anything).Return(nil, errors.New("bus error")).Once()
			},
		},
		{
			name: "calibrated value out of range",
			mode: ModePhaseSequenced,
			setup: func(bus *MockRegisterBus) {
				expectPhaseCycle(bus, 200, []byte{175, 0, 0})
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := new(MockRegisterBus)
			expectSetup(bus)
			if tt.mode == ModePhaseSequenced {
				bus.On("ReadRegister", mock.Anything, addr, regCalibrationKey).Return(byte(0x7B), nil).Once()
			}
			tt.setup(bus)
			sink := &recordingSink{}
			s := newTestSensor(bus, sink, WithMode(tt.mode))
			ctx := context.Background()
			require.NoError(t, s.Setup(ctx))
			calibration := s.Calibration()

			s.Update(ctx)
			assert.Equal(t, oxygen.StatusWarning, s.Status())
			assert.Equal(t, StateReady, s.State())
			assert.Empty(t, sink.values)
			assert.Equal(t, calibration, s.Calibration(), "failed cycle must not alter calibration")
			bus.AssertExpectations(t)
		})
	}
}

func TestSEN0322_WarningClearedByNextRead(t *testing.T) {
	bus := new(MockRegisterBus)
	expectSetup(bus)
	bus.On("WriteRegister", mock.Anything, addr, regOxygenData, byte(0x00)).Return(nil).Once()
	bus.On("ReadRaw", mock.Anything, addr, mock.Anything).Return(nil, errors.New("bus error")).Once()
	expectDirectCycle(bus, []byte{0x08, 0x2A, 0x00})
	sink := &recordingSink{}
	s := newTestSensor(bus, sink)
	ctx := context.Background()
	require.NoError(t, s.Setup(ctx))

	s.Update(ctx)
	assert.Equal(t, oxygen.StatusWarning, s.Status())
	assert.Empty(t, sink.values)

	s.Update(ctx)
	assert.Equal(t, oxygen.StatusHealthy, s.Status())
	require.Len(t, sink.values, 1)
	assert.InDelta(t, 20.9, sink.values[0], 0.0001)
	bus.AssertExpectations(t)
}

func TestSEN0322_UpdateIsDeterministic(t *testing.T) {
	for _, mode := range []Mode{ModeDirectRead, ModePhaseSequenced} {
		t.Run(mode.String(), func(t *testing.T) {
			bus := new(MockRegisterBus)
			expectSetup(bus)
			sample := []byte{20, 9, 5}
			if mode == ModePhaseSequenced {
				bus.On("ReadRegister", mock.Anything, addr, regCalibrationKey).Return(byte(0), nil).Once()
				expectPhaseCycle(bus, 0, sample)
				expectPhaseCycle(bus, 0, sample)
			} else {
				expectDirectCycle(bus, sample)
				expectDirectCycle(bus, sample)
			}
			sink := &recordingSink{}
			s := newTestSensor(bus, sink, WithMode(mode))
			ctx := context.Background()
			require.NoError(t, s.Setup(ctx))

			s.Update(ctx)
			s.Update(ctx)
			require.Len(t, sink.values, 2)
			assert.Equal(t, sink.values[0], sink.values[1])
			bus.AssertExpectations(t)
		})
	}
}

func TestSEN0322_ReportConfig(t *testing.T) {
	bus := new(MockRegisterBus)
	expectSetup(bus)
	bus.On("ReadRegister", mock.Anything, addr, regCalibrationKey).Return(byte(0x7B), nil).Once()
	s := newTestSensor(bus, &recordingSink{}, WithMode(ModePhaseSequenced), WithInterval(30*time.Second))

	cfg := s.ReportConfig()
	assert.Equal(t, "0x73", cfg.Address)
	assert.Equal(t, StateUninitialized, cfg.State)
	assert.Equal(t, oxygen.StatusUnknown, cfg.Status)
	assert.Equal(t, oxygen.StatusUnknown, s.Status())

	require.NoError(t, s.Setup(context.Background()))
	cfg = s.ReportConfig()
	assert.Equal(t, SEN0322Config{
		Address:     "0x73",
		Interval:    30 * time.Second,
		Mode:        ModePhaseSequenced,
		State:       StateReady,
		Status:      oxygen.StatusHealthy,
		Calibration: 0.123,
	}, cfg)
	// reporting has no side effects
	assert.Equal(t, cfg, s.ReportConfig())
	bus.AssertExpectations(t)
}

func TestSEN0322_Metadata(t *testing.T) {
	s := NewSEN0322(new(MockRegisterBus), &recordingSink{}, WithAddress(0x72))
	assert.Equal(t, oxygen.PriorityData, s.Priority())
	assert.Equal(t, 60*time.Second, s.Interval())
	assert.Equal(t, "sen0322@0x72", s.Name())
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeDirectRead, m)
	m, err = ParseMode("phase")
	require.NoError(t, err)
	assert.Equal(t, ModePhaseSequenced, m)
	_, err = ParseMode("bcd")
	assert.Error(t, err)
}
