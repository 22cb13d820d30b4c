package i2c

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"

	gi2c "gobot.io/x/gobot/v2/drivers/i2c"

	"github.com/mklimuk/oxygen"
	"github.com/mklimuk/oxygen/snsctx"
)

var _ oxygen.I2CBus = &GobotBus{}

// GobotBus adapts a gobot I2C connector (NanoPi, Raspberry Pi, Tinkerboard
// adaptors...) to oxygen.I2CBus. Connections are opened lazily per address.
type GobotBus struct {
	mx          sync.Mutex
	connector   gi2c.Connector
	bus         int
	connections map[byte]gi2c.Connection
}

// NewGobotBus uses the given bus number; a negative number selects the adaptor default.
func NewGobotBus(connector gi2c.Connector, bus int) *GobotBus {
	if bus < 0 {
		bus = connector.DefaultI2cBus()
	}
	return &GobotBus{
		connector:   connector,
		bus:         bus,
		connections: make(map[byte]gi2c.Connection),
	}
}

func (b *GobotBus) connection(address byte) (gi2c.Connection, error) {
	if conn, ok := b.connections[address]; ok {
		return conn, nil
	}
	conn, err := b.connector.GetI2cConnection(int(address), b.bus)
	if err != nil {
		return nil, fmt.Errorf("could not open connection to %#x on bus %d: %w", address, b.bus, err)
	}
	b.connections[address] = conn
	return conn, nil
}

func (b *GobotBus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	b.mx.Lock()
	defer b.mx.Unlock()
	conn, err := b.connection(address)
	if err != nil {
		return err
	}
	n, err := conn.Read(buffer)
	if err != nil {
		return fmt.Errorf("could not read from i2c bus %x: %w", address, err)
	}
	if n != len(buffer) {
		return fmt.Errorf("short read from %x: expected %d, got %d", address, len(buffer), n)
	}
	if snsctx.IsVerbose(ctx) {
		slog.Debug("gobot i2c read", "addr", address, "data", hex.EncodeToString(buffer))
	}
	return nil
}

func (b *GobotBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	b.mx.Lock()
	defer b.mx.Unlock()
	conn, err := b.connection(address)
	if err != nil {
		return err
	}
	if snsctx.IsVerbose(ctx) {
		slog.Debug("gobot i2c write", "addr", address, "data", hex.EncodeToString(buffer))
	}
	_, err = conn.Write(buffer)
	if err != nil {
		return fmt.Errorf("could not write to i2c bus %x: %w", address, err)
	}
	return nil
}

func (b *GobotBus) Release(ctx context.Context) error {
	return nil
}

// Close closes all connections opened so far.
func (b *GobotBus) Close() error {
	b.mx.Lock()
	defer b.mx.Unlock()
	var firstErr error
	for address, conn := range b.connections {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("could not close connection to %#x: %w", address, err)
		}
		delete(b.connections, address)
	}
	return firstErr
}
