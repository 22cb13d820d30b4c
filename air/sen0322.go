package air

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mklimuk/oxygen"
	"github.com/mklimuk/oxygen/snsctx"
)

// SEN0322 default 7-bit I2C address (A0=1, A1=1 on the DFRobot board).
const SEN0322DefaultAddress = 0x73

// Register/command map
const (
	regCollectPhase   byte = 0x01
	regJudgePhase     byte = 0x02
	regOxygenData     byte = 0x03
	regCalibrationKey byte = 0x0A
)

const sampleSize = 3

// Plausibility limits. Ambient air is about 20.9%.
const (
	directRangeMax float32 = 25.0
	validRangeMin  float32 = 0.0
	validRangeMax  float32 = 30.0
)

// Calibration used when the key register holds 0 (full scale ambient calibration).
const defaultCalibration float32 = 20.9 / 120.0

var (
	ErrInitialization     = errors.New("sen0322: initialization failed")
	ErrAlreadyInitialized = errors.New("sen0322: driver already initialized")
	ErrNotReady           = errors.New("sen0322: driver not ready")
	ErrOutOfRange         = errors.New("sen0322: reading out of range")
)

// Mode selects one of the two measurement cycles supported by the sensor firmware.
type Mode byte

const (
	// ModeDirectRead requests oxygen data and decodes it with the byte-order
	// disambiguation chain. No calibration is tracked.
	ModeDirectRead Mode = iota
	// ModePhaseSequenced runs the collect/judge phases and applies the
	// calibration coefficient read from the key register.
	ModePhaseSequenced
)

func (m Mode) String() string {
	switch m {
	case ModeDirectRead:
		return "direct"
	case ModePhaseSequenced:
		return "phase"
	default:
		return "unknown"
	}
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// ParseMode maps a configuration string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "direct":
		return ModeDirectRead, nil
	case "phase":
		return ModePhaseSequenced, nil
	default:
		return 0, fmt.Errorf("sen0322: unknown mode %q", s)
	}
}

// State of the driver lifecycle. StateFailed is terminal.
type State byte

const (
	StateUninitialized State = iota
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type SEN0322Opts struct {
	Address      byte
	Mode         Mode
	Interval     time.Duration
	SettleDelay  time.Duration
	PhaseDelay   time.Duration
	CommandDelay time.Duration
}

type SEN0322Opt func(*SEN0322Opts)

func WithAddress(address byte) SEN0322Opt {
	return func(o *SEN0322Opts) {
		o.Address = address
	}
}

func WithMode(mode Mode) SEN0322Opt {
	return func(o *SEN0322Opts) {
		o.Mode = mode
	}
}

func WithInterval(interval time.Duration) SEN0322Opt {
	return func(o *SEN0322Opts) {
		o.Interval = interval
	}
}

// WithSettleDelay sets the wait after the setup collect command.
func WithSettleDelay(delay time.Duration) SEN0322Opt {
	return func(o *SEN0322Opts) {
		o.SettleDelay = delay
	}
}

// WithPhaseDelay sets the wait after each collect/judge command in phase-sequenced mode.
func WithPhaseDelay(delay time.Duration) SEN0322Opt {
	return func(o *SEN0322Opts) {
		o.PhaseDelay = delay
	}
}

// WithCommandDelay sets the wait after the oxygen data command in direct-read mode.
func WithCommandDelay(delay time.Duration) SEN0322Opt {
	return func(o *SEN0322Opts) {
		o.CommandDelay = delay
	}
}

// SEN0322Config is the diagnostic snapshot returned by ReportConfig.
type SEN0322Config struct {
	Address     string        `yaml:"address"`
	Interval    time.Duration `yaml:"interval"`
	Mode        Mode          `yaml:"mode"`
	State       State         `yaml:"state"`
	Status      oxygen.Status `yaml:"status"`
	Calibration float32       `yaml:"calibration,omitempty"`
}

// SEN0322 represents DFRobot Gravity I2C oxygen sensor.
// Typical usage:
//
//	s := NewSEN0322(oxygen.NewRegisters(bus), sink)
//	if err := s.Setup(ctx); err != nil { ... }
//	s.Update(ctx) // on every scheduler tick
//
// Readings are published as percentage oxygen. The driver is not safe for
// concurrent use; the scheduler serializes Setup and Update calls.
type SEN0322 struct {
	config SEN0322Opts

	transport oxygen.RegisterBus
	sink      oxygen.Sink

	state       State
	status      oxygen.Status
	calibration float32
}

func NewSEN0322(transport oxygen.RegisterBus, sink oxygen.Sink, opts ...SEN0322Opt) *SEN0322 {
	config := SEN0322Opts{
		Address:      SEN0322DefaultAddress,
		Mode:         ModeDirectRead,
		Interval:     60 * time.Second,
		SettleDelay:  100 * time.Millisecond,
		PhaseDelay:   100 * time.Millisecond,
		CommandDelay: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&config)
	}
	return &SEN0322{
		config:      config,
		transport:   transport,
		sink:        sink,
		calibration: defaultCalibration,
	}
}

func (s *SEN0322) Name() string {
	return fmt.Sprintf("sen0322@%#x", s.config.Address)
}

// Priority places the sensor in the data stage, after buses and IO expanders.
func (s *SEN0322) Priority() oxygen.Priority {
	return oxygen.PriorityData
}

func (s *SEN0322) Interval() time.Duration {
	return s.config.Interval
}

func (s *SEN0322) Status() oxygen.Status {
	return s.status
}

func (s *SEN0322) State() State {
	return s.state
}

// Calibration returns the cached calibration coefficient.
func (s *SEN0322) Calibration() float32 {
	return s.calibration
}

// Setup puts the sensor into collect phase and, in phase-sequenced mode, reads
// the calibration key. A failed collect command leaves the driver failed for good.
func (s *SEN0322) Setup(ctx context.Context) error {
	if s.state != StateUninitialized {
		return ErrAlreadyInitialized
	}
	slog.Debug("setting up sen0322", "addr", s.config.Address, "mode", s.config.Mode)
	err := s.transport.WriteRegister(ctx, s.config.Address, regCollectPhase, 0x00)
	if err != nil {
		s.state = StateFailed
		s.status = oxygen.StatusFailed
		slog.Error("sen0322 initialization failed", "addr", s.config.Address, "error", err)
		return fmt.Errorf("%w: collect phase command: %w", ErrInitialization, err)
	}
	if s.config.Mode == ModePhaseSequenced {
		coefficient, err := s.readCalibration(ctx)
		if err != nil {
			slog.Warn("sen0322 calibration read failed, using default", "coefficient", defaultCalibration, "error", err)
		} else {
			s.calibration = coefficient
		}
	}
	time.Sleep(s.config.SettleDelay)
	s.state = StateReady
	s.status = oxygen.StatusHealthy
	slog.Debug("sen0322 setup complete", "addr", s.config.Address, "calibration", s.calibration)
	return nil
}

// Update runs one polling cycle. Failures never propagate: they set the warning
// status and the sink keeps the last good value.
func (s *SEN0322) Update(ctx context.Context) {
	if s.state != StateReady {
		slog.Debug("sen0322 update skipped", "state", s.state)
		return
	}
	value, err := s.Measure(ctx)
	if err != nil {
		slog.Warn("sen0322 reading failed", "addr", s.config.Address, "error", err)
		s.status = oxygen.StatusWarning
		return
	}
	slog.Debug("got oxygen concentration", "percent", value)
	s.sink.Publish(value)
	s.status = oxygen.StatusHealthy
}

// Measure performs a single measurement cycle in the configured mode and returns
// the validated concentration. It does not change status nor publish. In
// phase-sequenced mode the re-read calibration is kept only when the cycle
// yields a valid reading.
func (s *SEN0322) Measure(ctx context.Context) (float32, error) {
	if s.state != StateReady {
		return 0, ErrNotReady
	}
	var value float32
	var err error
	coefficient := s.calibration
	switch s.config.Mode {
	case ModePhaseSequenced:
		value, coefficient, err = s.measurePhaseSequenced(ctx)
	default:
		value, err = s.measureDirect(ctx)
	}
	if err != nil {
		return 0, err
	}
	if err := validate(value); err != nil {
		return 0, err
	}
	s.calibration = coefficient
	return value, nil
}

// measureDirect requests the oxygen data register and decodes the answer
// without calibration.
func (s *SEN0322) measureDirect(ctx context.Context) (float32, error) {
	err := s.transport.WriteRegister(ctx, s.config.Address, regOxygenData, 0x00)
	if err != nil {
		return 0, fmt.Errorf("sen0322: oxygen data command failed: %w", err)
	}
	time.Sleep(s.config.CommandDelay)
	sample, err := s.readSample(ctx)
	if err != nil {
		return 0, err
	}
	return decodeDirect(sample), nil
}

// measurePhaseSequenced re-reads the calibration, walks the collect and judge
// phases and decodes the answer as fixed point scaled by the fresh coefficient.
// The coefficient is returned to the caller rather than cached.
func (s *SEN0322) measurePhaseSequenced(ctx context.Context) (float32, float32, error) {
	coefficient, err := s.readCalibration(ctx)
	if err != nil {
		return 0, 0, err
	}
	err = s.transport.WriteRegister(ctx, s.config.Address, regCollectPhase, 0x00)
	if err != nil {
		return 0, 0, fmt.Errorf("sen0322: collect phase command failed: %w", err)
	}
	time.Sleep(s.config.PhaseDelay)
	err = s.transport.WriteRegister(ctx, s.config.Address, regJudgePhase, 0x00)
	if err != nil {
		return 0, 0, fmt.Errorf("sen0322: judge phase command failed: %w", err)
	}
	time.Sleep(s.config.PhaseDelay)
	sample, err := s.readSample(ctx)
	if err != nil {
		return 0, 0, err
	}
	return decodeCalibrated(sample, coefficient), coefficient, nil
}

func (s *SEN0322) readSample(ctx context.Context) ([sampleSize]byte, error) {
	var sample [sampleSize]byte
	err := s.transport.ReadRaw(ctx, s.config.Address, sample[:])
	if err != nil {
		return sample, fmt.Errorf("sen0322: read failed: %w", err)
	}
	if snsctx.IsVerbose(ctx) {
		slog.Debug("sen0322 raw data", "hex", hex.EncodeToString(sample[:]))
	}
	return sample, nil
}

// ReadCalibrationKey returns the raw key register byte.
func (s *SEN0322) ReadCalibrationKey(ctx context.Context) (byte, error) {
	key, err := s.transport.ReadRegister(ctx, s.config.Address, regCalibrationKey)
	if err != nil {
		return 0, fmt.Errorf("sen0322: calibration key read failed: %w", err)
	}
	return key, nil
}

func (s *SEN0322) readCalibration(ctx context.Context) (float32, error) {
	key, err := s.ReadCalibrationKey(ctx)
	if err != nil {
		return 0, err
	}
	return calibrationFromKey(key), nil
}

// ReportConfig logs and returns the driver configuration and health.
func (s *SEN0322) ReportConfig() SEN0322Config {
	cfg := SEN0322Config{
		Address:  fmt.Sprintf("%#02x", s.config.Address),
		Interval: s.config.Interval,
		Mode:     s.config.Mode,
		State:    s.state,
		Status:   s.status,
	}
	if s.config.Mode == ModePhaseSequenced {
		cfg.Calibration = s.calibration
	}
	slog.Info("SEN0322 oxygen sensor", "address", cfg.Address, "interval", cfg.Interval, "mode", cfg.Mode, "status", cfg.Status)
	if s.state == StateFailed {
		slog.Error("communication with SEN0322 failed", "address", cfg.Address)
	}
	return cfg
}

// CalibrationCoefficient returns the scale factor derived from a raw key byte.
// A zero key selects the 20.9/120 default.
func CalibrationCoefficient(key byte) float32 {
	return calibrationFromKey(key)
}

// calibrationFromKey converts the key register byte to a scale factor.
func calibrationFromKey(key byte) float32 {
	if key == 0 {
		return defaultCalibration
	}
	return float32(key) / 1000.0
}

// decodeDirect resolves the unknown byte order of the sensor answer: big endian
// hundredths first, then little endian hundredths, then the first byte in tenths.
// Each step is only taken when the previous one falls outside [0, 25].
func decodeDirect(sample [sampleSize]byte) float32 {
	value := float32(uint16(sample[0])<<8|uint16(sample[1])) * 0.01
	if value < 0 || value > directRangeMax {
		value = float32(uint16(sample[1])<<8|uint16(sample[0])) * 0.01
	}
	if value < 0 || value > directRangeMax {
		value = float32(sample[0]) * 0.1
	}
	return value
}

// decodeCalibrated treats the first byte as the integer part and the next two as
// tenths and hundredths.
func decodeCalibrated(sample [sampleSize]byte, calibration float32) float32 {
	return calibration * (float32(sample[0]) + float32(sample[1])/10.0 + float32(sample[2])/100.0)
}

func validate(value float32) error {
	if value < validRangeMin || value > validRangeMax {
		return fmt.Errorf("%w: %.2f%%", ErrOutOfRange, value)
	}
	return nil
}
