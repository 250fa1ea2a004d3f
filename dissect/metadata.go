package dissect

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/mdzio/go-rbus/msgpack"
)

// emitMetadata adds the metadata subtree: the method marker at m, the
// OpenTelemetry parent and state strings at m+1 and m+2 and the metadata
// offset at m+3. Values in these slots with another shape and all values
// after m+3 are shown unlabeled.
func emitMetadata(n Node, vals []*msgpack.Value, m int) {
	method := vals[m].Str
	mn := n.AddItem(&Item{Field: fMetadata, Text: method})
	mn.AddItem(&Item{Field: fMethod, Value: method, Text: method})

	var parent, state string
	for i := m + 1; i < len(vals); i++ {
		v := vals[i]
		switch {
		case i == m+1 && v.IsString():
			parent = Render(v).Text
			mn.AddItem(&Item{Field: fOtParent, Value: parent, Text: parent})
		case i == m+2 && v.IsString():
			state = Render(v).Text
			mn.AddItem(&Item{Field: fOtState, Value: state, Text: state})
		case i == m+3 && v.IsInteger():
			off, _ := v.Int32()
			mn.AddItem(&Item{Field: fMetadataOffset, Value: off, Text: fmt.Sprint(off)})
		default:
			display(n, fmt.Sprintf("[%d]", i), v)
		}
	}
	if sc, ok := traceContext(parent, state); ok {
		tn := mn.AddItem(&Item{Field: fOtTraceID, Value: sc.TraceID().String(), Text: sc.TraceID().String()})
		tn.AddItem(&Item{Field: fOtSpanID, Value: sc.SpanID().String(), Text: sc.SpanID().String()})
		tn.AddItem(&Item{Field: fOtSampled, Value: sc.IsSampled(), Text: fmt.Sprint(sc.IsSampled())})
	}
}

// traceContext decodes a W3C traceparent/tracestate pair.
func traceContext(parent, state string) (trace.SpanContext, bool) {
	if parent == "" {
		return trace.SpanContext{}, false
	}
	carrier := propagation.MapCarrier{"traceparent": parent}
	if state != "" {
		carrier["tracestate"] = state
	}
	ctx := propagation.TraceContext{}.Extract(context.Background(), carrier)
	sc := trace.SpanContextFromContext(ctx)
	return sc, sc.IsValid()
}
