package oxygen

import (
	"context"
	"fmt"
)

var _ RegisterBus = &Registers{}

// Registers implements RegisterBus on top of a raw I2CBus. A register read is
// a one byte pointer write followed by a separate read transaction.
type Registers struct {
	bus I2CBus
}

func NewRegisters(bus I2CBus) *Registers {
	return &Registers{bus: bus}
}

func (r *Registers) WriteRegister(ctx context.Context, address, reg, value byte) error {
	err := r.bus.WriteToAddr(ctx, address, []byte{reg, value})
	if err != nil {
		return fmt.Errorf("could not write register %#x: %w", reg, err)
	}
	return nil
}

func (r *Registers) ReadRegister(ctx context.Context, address, reg byte) (byte, error) {
	buf := []byte{0x00}
	if err := r.ReadBytes(ctx, address, reg, buf); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (r *Registers) ReadBytes(ctx context.Context, address, reg byte, buffer []byte) error {
	err := r.bus.WriteToAddr(ctx, address, []byte{reg})
	if err != nil {
		return fmt.Errorf("could not set register pointer %#x: %w", reg, err)
	}
	err = r.bus.ReadFromAddr(ctx, address, buffer)
	if err != nil {
		return fmt.Errorf("could not read register %#x: %w", reg, err)
	}
	return nil
}

func (r *Registers) ReadRaw(ctx context.Context, address byte, buffer []byte) error {
	err := r.bus.ReadFromAddr(ctx, address, buffer)
	if err != nil {
		return fmt.Errorf("could not read %d bytes: %w", len(buffer), err)
	}
	return nil
}

// Release hands the bus back to the underlying transport.
func (r *Registers) Release(ctx context.Context) error {
	return r.bus.Release(ctx)
}
