package sink

import (
	"log/slog"
	"maps"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/mklimuk/oxygen"
)

const InfluxField = "oxygen"

var _ oxygen.Sink = &Influx{}

// PointWriter is the part of the InfluxDB non-blocking write API used by the sink.
type PointWriter interface {
	WritePoint(point *write.Point)
}

type InfluxOpts struct {
	URL         string
	Token       string
	Org         string
	Bucket      string
	Measurement string
	Tags        map[string]string
}

// Influx writes readings as points with a single field.
type Influx struct {
	writer      PointWriter
	measurement string
	tags        map[string]string
	close       func()
}

func NewInflux(writer PointWriter, measurement string, tags map[string]string) *Influx {
	return &Influx{
		writer:      writer,
		measurement: measurement,
		tags:        maps.Clone(tags),
	}
}

// DialInflux creates a client with a batching write API. Write errors are
// reported asynchronously and only logged.
func DialInflux(opts InfluxOpts) *Influx {
	client := influxdb2.NewClient(opts.URL, opts.Token)
	writeAPI := client.WriteAPI(opts.Org, opts.Bucket)
	go func() {
		for err := range writeAPI.Errors() {
			slog.Warn("influx write failed", "url", opts.URL, "bucket", opts.Bucket, "error", err)
		}
	}()
	s := NewInflux(writeAPI, opts.Measurement, opts.Tags)
	s.close = func() {
		writeAPI.Flush()
		client.Close()
	}
	return s
}

func (s *Influx) Publish(value float32) {
	p := influxdb2.NewPointWithMeasurement(s.measurement).
		AddField(InfluxField, round(value)).
		SetTime(time.Now())
	for k, v := range s.tags {
		p.AddTag(k, v)
	}
	s.writer.WritePoint(p)
}

// Close flushes pending points.
func (s *Influx) Close() {
	if s.close != nil {
		s.close()
	}
}
