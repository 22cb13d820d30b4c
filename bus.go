package oxygen

import (
	"context"
	"fmt"
)

var ErrBusBusy = fmt.Errorf("I2C engine is busy (command not completed)")

type AddressableReader interface {
	ReadFromAddr(ctx context.Context, address byte, buffer []byte) error
}

type AddressableWriter interface {
	WriteToAddr(ctx context.Context, address byte, buffer []byte) error
	Release(ctx context.Context) error
}

// I2CBus is a raw addressable bus. Transports in the i2c and adapter packages implement it.
type I2CBus interface {
	AddressableReader
	AddressableWriter
}

// RegisterBus is the register-level view of a bus used by drivers that talk to
// devices through a register pointer followed by data bytes.
type RegisterBus interface {
	// WriteRegister writes a single value byte to the given register.
	WriteRegister(ctx context.Context, address, reg, value byte) error
	// ReadRegister sets the register pointer and reads one byte back.
	ReadRegister(ctx context.Context, address, reg byte) (byte, error)
	// ReadBytes sets the register pointer and fills buffer.
	ReadBytes(ctx context.Context, address, reg byte, buffer []byte) error
	// ReadRaw fills buffer without addressing a register first.
	ReadRaw(ctx context.Context, address byte, buffer []byte) error
}
