package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"
	"gobot.io/x/gobot/v2/platforms/friendlyelec/nanopi"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/oxygen"
	"github.com/mklimuk/oxygen/adapter"
	"github.com/mklimuk/oxygen/air"
	"github.com/mklimuk/oxygen/cmd/sen0322/console"
	"github.com/mklimuk/oxygen/config"
	"github.com/mklimuk/oxygen/i2c"
	"github.com/mklimuk/oxygen/snsctx"
)

// sensorFlags override the loaded configuration for a single invocation.
var sensorFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "adapter",
		Aliases: []string{"a"},
		Usage:   "bus adapter: generic, gobot, mcp2221 or sim",
	},
	&cli.StringFlag{
		Name:    "device",
		Aliases: []string{"d"},
		Usage:   "i2c device for the generic adapter",
	},
	&cli.IntFlag{
		Name:  "bus",
		Usage: "i2c bus number for the gobot adapter",
	},
	&cli.StringFlag{
		Name:  "address",
		Usage: "sensor i2c address",
	},
	&cli.StringFlag{
		Name:  "mode",
		Usage: "measurement mode: direct or phase",
	},
}

// sensorConfig applies command line overrides on a copy of the loaded configuration.
func sensorConfig(c *cli.Context) (*config.Config, error) {
	conf := *cfg
	if c.IsSet("adapter") {
		conf.Adapter = c.String("adapter")
	}
	if c.IsSet("device") {
		conf.Device = c.String("device")
	}
	if c.IsSet("bus") {
		conf.Bus = c.Int("bus")
	}
	if c.IsSet("mode") {
		conf.Mode = c.String("mode")
	}
	if c.IsSet("address") {
		addr, err := strconv.ParseUint(c.String("address"), 0, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid address %q: %w", c.String("address"), err)
		}
		conf.Address = config.Address(addr)
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}

func commandContext(c *cli.Context) context.Context {
	return snsctx.SetVerbose(c.Context, c.Bool("verbose"))
}

// openBus returns the bus selected by the configuration and a function releasing it.
func openBus(ctx context.Context, conf *config.Config) (oxygen.I2CBus, func(), error) {
	switch conf.Adapter {
	case config.AdapterMCP2221:
		ad := adapter.NewMCP2221()
		if err := ad.Init(ctx); err != nil {
			return nil, nil, err
		}
		return ad, func() {}, nil
	case config.AdapterGobot:
		npi := nanopi.NewNeoAdaptor()
		if err := npi.I2cBusAdaptor.Connect(); err != nil {
			return nil, nil, fmt.Errorf("adaptor connect error: %w", err)
		}
		bus := i2c.NewGobotBus(npi, conf.Bus)
		return bus, func() {
			if err := bus.Close(); err != nil {
				console.Errorf("error closing bus: %s", console.Red(err))
			}
			if err := npi.I2cBusAdaptor.Finalize(); err != nil {
				console.Errorf("error finalizing adaptor: %s", console.Red(err))
			}
		}, nil
	case config.AdapterSim:
		start := time.Now()
		bus := air.NewSimulatedSEN0322(func(ctx context.Context) (float32, error) {
			// slow drift around the atmospheric level
			return float32(20.9 + 0.2*math.Sin(time.Since(start).Minutes())), nil
		}, air.WithSimulatedAddress(byte(conf.Address)))
		return bus, func() {}, nil
	default:
		bus, err := i2c.NewGenericBus(conf.Device)
		if err != nil {
			return nil, nil, err
		}
		if err := bus.SetSpeed(100 * physic.KiloHertz); err != nil {
			slog.Warn("could not set bus speed", "device", conf.Device, "error", err)
		}
		return bus, func() {
			if err := bus.Close(); err != nil {
				console.Errorf("error closing bus: %s", console.Red(err))
			}
		}, nil
	}
}

// newSensor opens the configured bus and builds a driver publishing to sink.
func newSensor(ctx context.Context, conf *config.Config, sink oxygen.Sink) (*air.SEN0322, func(), error) {
	bus, closeBus, err := openBus(ctx, conf)
	if err != nil {
		return nil, nil, console.Exit(1, "adapter initialization error: %s", console.Red(err))
	}
	return air.NewSEN0322(oxygen.NewRegisters(bus), sink, conf.SensorOptions()...), closeBus, nil
}
