// Package observe bundles the structured logger and the tracer used across
// diario.
package observe

import (
	"context"
	"io"

	"github.com/felixgeelhaar/bolt/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// TracerName identifies diario spans.
const TracerName = "diario"

var tracer = otel.Tracer(TracerName)

// Observer handles logging and tracing.
type Observer struct {
	log *bolt.Logger
}

// New creates an Observer writing human readable lines to out.
// Unless verbose is set only warnings and errors are shown.
func New(out io.Writer, verbose bool) *Observer {
	l := bolt.New(bolt.NewConsoleHandler(out))
	if !verbose {
		l.SetLevel(bolt.WARN)
	}
	return &Observer{log: l}
}

// NewJSON creates an Observer writing one JSON object per line, for CI
// and for the server.
func NewJSON(out io.Writer, verbose bool) *Observer {
	l := bolt.New(bolt.NewJSONHandler(out))
	if !verbose {
		l.SetLevel(bolt.WARN)
	}
	return &Observer{log: l}
}

// Nop returns an Observer that drops everything.
func Nop() *Observer {
	return NewJSON(io.Discard, false)
}

// OrNop returns o, or a discarding Observer when o is nil.
func OrNop(o *Observer) *Observer {
	if o == nil {
		return Nop()
	}
	return o
}

// Log returns the underlying logger.
func (o *Observer) Log() *bolt.Logger {
	return o.log
}

// StartSpan starts an OTel span named name.
func (o *Observer) StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name)
}

// Close flushes buffered output. Handlers write synchronously today.
func (o *Observer) Close() error {
	return nil
}
