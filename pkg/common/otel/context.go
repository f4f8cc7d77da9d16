package otel

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// zeroTraceID keeps log fields fixed-width for requests that carry no
// recorded span (health probes, startup paths).
const zeroTraceID = "00000000000000000000000000000000"

// GetTraceID extracts the active span's trace id for log correlation.
func GetTraceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return zeroTraceID
	}
	return sc.TraceID().String()
}
