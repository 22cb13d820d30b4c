package main

import (
	"fmt"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/mklimuk/oxygen"
	"github.com/mklimuk/oxygen/air"
	"github.com/mklimuk/oxygen/cmd/sen0322/console"
)

var readCmd = cli.Command{
	Name:    "read",
	Aliases: []string{"rd"},
	Usage:   "set the sensor up and print a single reading",
	Flags:   sensorFlags,
	Action: func(c *cli.Context) error {
		conf, err := sensorConfig(c)
		if err != nil {
			return console.Exit(2, "%s", console.Red(err))
		}
		ctx := commandContext(c)
		s, closeBus, err := newSensor(ctx, conf, oxygen.SinkFunc(func(float32) {}))
		if err != nil {
			return err
		}
		defer closeBus()
		if err := s.Setup(ctx); err != nil {
			return console.Exit(1, "sensor setup error: %s", console.Red(err))
		}
		value, err := s.Measure(ctx)
		if err != nil {
			return console.Exit(1, "error reading oxygen concentration: %s", console.Red(err))
		}
		console.PInfof(console.PictoLungs, "%s %%", console.White(formatPercent(value)))
		return nil
	},
}

var configCmd = cli.Command{
	Name:  "config",
	Usage: "set the sensor up and dump the driver configuration",
	Flags: append([]cli.Flag{
		&cli.BoolFlag{
			Name:  "effective",
			Usage: "dump the effective tool configuration instead of querying the sensor",
		},
	}, sensorFlags...),
	Action: func(c *cli.Context) error {
		conf, err := sensorConfig(c)
		if err != nil {
			return console.Exit(2, "%s", console.Red(err))
		}
		enc := yaml.NewEncoder(console.Output())
		defer enc.Close()
		if c.Bool("effective") {
			if err := enc.Encode(conf); err != nil {
				return console.Exit(1, "encoding error: %s", console.Red(err))
			}
			return nil
		}
		ctx := commandContext(c)
		s, closeBus, err := newSensor(ctx, conf, oxygen.SinkFunc(func(float32) {}))
		if err != nil {
			return err
		}
		defer closeBus()
		// a failed setup is part of the report
		_ = s.Setup(ctx)
		if err := enc.Encode(s.ReportConfig()); err != nil {
			return console.Exit(1, "encoding error: %s", console.Red(err))
		}
		if s.State() == air.StateFailed {
			return console.Exit(1, "communication with sensor failed")
		}
		return nil
	},
}

var calibrationCmd = cli.Command{
	Name:  "calibration",
	Usage: "read the calibration key register",
	Flags: sensorFlags,
	Action: func(c *cli.Context) error {
		conf, err := sensorConfig(c)
		if err != nil {
			return console.Exit(2, "%s", console.Red(err))
		}
		ctx := commandContext(c)
		s, closeBus, err := newSensor(ctx, conf, oxygen.SinkFunc(func(float32) {}))
		if err != nil {
			return err
		}
		defer closeBus()
		key, err := s.ReadCalibrationKey(ctx)
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		console.PInfof(console.PictoKey, "key: %s coefficient: %s", console.White(key), console.White(air.CalibrationCoefficient(key)))
		if key == 0 {
			console.Warnf("sensor not calibrated, default coefficient in use")
		}
		return nil
	},
}

func formatPercent(value float32) string {
	return fmt.Sprintf("%.2f", value)
}
