package dissect

import (
	"strconv"
	"strings"

	"github.com/mdzio/go-rbus/msgpack"
)

const methodPrefix = "METHOD_"

var tripletLabels = [3]string{"Name", "Type", "Value"}

// ParseContext labels the top-level values of a payload during the generic
// fallback walk. It lives for one walk only.
type ParseContext struct {
	// Method is the method marker of the payload, if any.
	Method string
	// SeenMethod is set once the walk passed the method marker.
	SeenMethod bool
	// MetaFields counts the metadata strings seen after the marker.
	MetaFields int
	// ParamCount is the announced number of parameters or properties.
	ParamCount int
	// ParamsSeen counts the triplet fields seen.
	ParamsSeen int

	index int
	// position of the method marker, -1 without one
	marker int
}

func newParseContext(vals []*msgpack.Value) *ParseContext {
	c := &ParseContext{marker: findMethod(vals)}
	if c.marker >= 0 {
		c.Method = vals[c.marker].Str
	}
	return c
}

func isMethod(v *msgpack.Value) bool {
	return v.IsString() && strings.HasPrefix(v.Str, methodPrefix)
}

// findMethod returns the index of the first method marker or -1.
func findMethod(vals []*msgpack.Value) int {
	for i, v := range vals {
		if isMethod(v) {
			return i
		}
	}
	return -1
}

// Label returns the label of the next value and advances the context.
func (c *ParseContext) Label(v *msgpack.Value) string {
	idx := c.index
	c.index++

	if c.marker >= 0 && idx >= c.marker {
		return c.metadataLabel(idx, v)
	}

	switch c.Method {
	case "METHOD_SETPARAMETERVALUES":
		switch idx {
		case 0:
			return "Session ID"
		case 1:
			return "Component Name"
		case 2:
			return "Rollback"
		case 3:
			c.setCount(v)
			return "Parameter Count"
		}
		if l := c.triplet("Parameter"); l != "" {
			return l
		}
		if v.IsString() {
			return "Commit"
		}
	case "METHOD_GETPARAMETERVALUES":
		switch idx {
		case 0:
			return "Component Name"
		case 1:
			return "Parameter Count"
		}
		if v.IsString() {
			return "Parameter Name"
		}
	case "METHOD_RESPONSE":
		switch idx {
		case 0:
			return "Error Code"
		case 1:
			c.setCount(v)
			return "Property Count"
		}
		if l := c.triplet("Property"); l != "" {
			return l
		}
	case "":
		if idx == 0 && v.IsInteger() {
			return "Session ID / Error Code"
		}
	}
	return "[" + strconv.Itoa(idx) + "]"
}

// metadataLabel labels the marker and the fixed slots behind it.
func (c *ParseContext) metadataLabel(idx int, v *msgpack.Value) string {
	switch {
	case idx == c.marker:
		c.SeenMethod = true
		return "Method"
	case idx == c.marker+1 && v.IsString():
		c.MetaFields++
		return "OpenTelemetry Parent"
	case idx == c.marker+2 && v.IsString():
		c.MetaFields++
		return "OpenTelemetry State"
	case idx == c.marker+3 && v.IsInteger():
		return "Metadata Offset"
	}
	return "[" + strconv.Itoa(idx) + "]"
}

func (c *ParseContext) setCount(v *msgpack.Value) {
	if n, ok := v.Uint64(); ok && n <= uint64(maxTriplets) {
		c.ParamCount = int(n)
	}
}

func (c *ParseContext) triplet(prefix string) string {
	if c.ParamsSeen >= c.ParamCount*3 {
		return ""
	}
	l := prefix + " " + tripletLabels[c.ParamsSeen%3]
	c.ParamsSeen++
	return l
}
