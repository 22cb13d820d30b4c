package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/oxygen"
	"github.com/mklimuk/oxygen/cmd/sen0322/console"
	"github.com/mklimuk/oxygen/config"
	"github.com/mklimuk/oxygen/poll"
	"github.com/mklimuk/oxygen/sink"
)

var watchCmd = cli.Command{
	Name:  "watch",
	Usage: "poll the sensor and publish readings to the configured sinks",
	Flags: append([]cli.Flag{
		&cli.DurationFlag{
			Name:  "interval",
			Usage: "polling interval",
		},
	}, sensorFlags...),
	Action: func(c *cli.Context) error {
		conf, err := sensorConfig(c)
		if err != nil {
			return console.Exit(2, "%s", console.Red(err))
		}
		if c.IsSet("interval") {
			conf.Interval = c.Duration("interval")
			if err := conf.Validate(); err != nil {
				return console.Exit(2, "%s", console.Red(err))
			}
		}
		ctx, stop := signal.NotifyContext(commandContext(c), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		sinks, observers, closeSinks, err := buildSinks(ctx, conf)
		if err != nil {
			return console.Exit(1, "sink initialization error: %s", console.Red(err))
		}
		defer closeSinks()

		s, closeBus, err := newSensor(ctx, conf, sinks)
		if err != nil {
			return err
		}
		defer closeBus()

		scheduler := poll.NewScheduler(poll.WithStatusObserver(observers))
		scheduler.Register(s)
		slog.Info("watching oxygen sensor", "component", s.Name(), "interval", s.Interval(), "adapter", conf.Adapter)
		if failed := scheduler.Run(ctx); failed > 0 {
			return console.Exit(1, "%d component(s) failed setup", failed)
		}
		s.ReportConfig()
		return nil
	},
}

// buildSinks wires the configured sinks. The log sink is always present.
func buildSinks(ctx context.Context, conf *config.Config) (oxygen.Tee, poll.StatusObservers, func(), error) {
	component := fmt.Sprintf("sen0322@%#x", byte(conf.Address))
	logSink := sink.NewLog(nil, component)
	sinks := oxygen.Tee{logSink}
	observers := poll.StatusObservers{logSink}
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if ic := conf.Sinks.Influx; ic != nil {
		influx := sink.DialInflux(sink.InfluxOpts{
			URL:         ic.URL,
			Token:       ic.Token,
			Org:         ic.Org,
			Bucket:      ic.Bucket,
			Measurement: ic.Measurement,
			Tags:        ic.Tags,
		})
		closers = append(closers, influx.Close)
		sinks = append(sinks, influx)
	}
	if mc := conf.Sinks.MQTT; mc != nil {
		mqtt, err := sink.DialMQTT(ctx, sink.MQTTOpts{
			Broker:   mc.Broker,
			ClientID: mc.ClientID,
			Topic:    mc.Topic,
			QoS:      mc.QoS,
			Retain:   mc.Retain,
		})
		if err != nil {
			closeAll()
			return nil, nil, nil, err
		}
		closers = append(closers, func() {
			if err := mqtt.Close(context.Background()); err != nil {
				slog.Warn("mqtt disconnect failed", "error", err)
			}
		})
		sinks = append(sinks, mqtt)
	}
	if pc := conf.Sinks.Prometheus; pc != nil {
		reg := prometheus.NewRegistry()
		reg.MustRegister(prometheus.NewBuildInfoCollector())
		prom, err := sink.NewPrometheus(reg, component)
		if err != nil {
			closeAll()
			return nil, nil, nil, err
		}
		go func() {
			if err := sink.Serve(ctx, pc.Listen, reg); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("metrics endpoint stopped", "error", err)
			}
		}()
		sinks = append(sinks, prom)
		observers = append(observers, prom)
	}
	return sinks, observers, closeAll, nil
}
