package condition

import (
	"os"
	"testing"

	"go.opentelemetry.io/otel/metric/noop"

	"options_engine/pkg/telemetry"
)

func TestMain(m *testing.M) {
	meter := noop.NewMeterProvider().Meter("test")
	_ = telemetry.GetGlobalMetrics().InitMetrics(meter)
	os.Exit(m.Run())
}
