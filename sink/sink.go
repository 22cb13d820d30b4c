// Package sink delivers oxygen readings to logs, InfluxDB, Prometheus and MQTT.
package sink

import "math"

// Readings are reported with two decimals.
const accuracyDecimals = 2

func round(value float32) float64 {
	scale := math.Pow10(accuracyDecimals)
	return math.Round(float64(value)*scale) / scale
}
