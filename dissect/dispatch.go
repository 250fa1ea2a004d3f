package dissect

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/mdzio/go-rbus/msgpack"
)

// upper bound for announced parameter and property counts
const maxTriplets = msgpack.DefaultMaxObjects

// A layout decodes the values in front of the method marker.
type layout interface {
	Decode(c *cursor)
}

// layoutFunc is an adapter to use ordinary functions as layouts.
type layoutFunc func(c *cursor)

// Decode implements interface layout.
func (f layoutFunc) Decode(c *cursor) {
	f(c)
}

// dispatcher maps method markers to layouts. It is filled at package
// initialization and read-only afterwards.
type dispatcher struct {
	layouts map[string]layout
}

func (d *dispatcher) handle(method string, l layout) {
	if d.layouts == nil {
		d.layouts = make(map[string]layout)
	}
	d.layouts[method] = l
}

func (d *dispatcher) handleFunc(method string, f func(*cursor)) {
	d.handle(method, layoutFunc(f))
}

func (d *dispatcher) dispatch(method string, c *cursor) {
	l, ok := d.layouts[method]
	if !ok {
		log.Debugf("No layout for method %s", method)
		c.n.AddCondition(newCondition(UnknownMethod, "Unknown method %s", method))
		c.failed = true
		return
	}
	l.Decode(c)
}

var methods dispatcher

func init() {
	methods.handleFunc("METHOD_GETPARAMETERVALUES", getParameterValues)
	methods.handleFunc("METHOD_SETPARAMETERVALUES", setParameterValues)
	methods.handleFunc("METHOD_RESPONSE", response)
	methods.handleFunc("METHOD_SUBSCRIBE", subscribe)
	methods.handleFunc("METHOD_UNSUBSCRIBE", subscribe)
	methods.handleFunc("METHOD_RPC", rpc)
	methods.handleFunc("METHOD_COMMIT", commit)
	methods.handleFunc("METHOD_GETPARAMETERNAMES", getParameterNames)
	methods.handleFunc("METHOD_SETPARAMETERATTRIBUTES", parameterAttributes)
	methods.handleFunc("METHOD_GETPARAMETERATTRIBUTES", parameterAttributes)
	methods.handleFunc("METHOD_ADDTBLROW", tableRow)
	methods.handleFunc("METHOD_DELETETBLROW", tableRow)
	methods.handleFunc("METHOD_OPENDIRECT_CONN", directConn)
	methods.handleFunc("METHOD_CLOSEDIRECT_CONN", directConn)
}

// Methods returns the method markers with a known layout.
func Methods() []string {
	var ms []string
	for m := range methods.layouts {
		ms = append(ms, m)
	}
	sort.Strings(ms)
	return ms
}

// cursor walks the values in front of the method marker. A slot with an
// unexpected shape attaches an UnmatchedMethodLayout condition; the layout
// then stops and the remaining values are shown unlabeled.
type cursor struct {
	n    Node
	all  []*msgpack.Value
	end  int
	idx  int
	info []string
	// set after a mismatch was reported
	failed bool
}

func (c *cursor) peek() *msgpack.Value {
	if c.idx >= c.end {
		return nil
	}
	return c.all[c.idx]
}

func (c *cursor) remaining() int {
	return c.end - c.idx
}

func (c *cursor) mismatch(f *Field, want string) {
	if c.failed {
		return
	}
	c.failed = true
	if v := c.peek(); v != nil {
		c.n.AddCondition(newCondition(UnmatchedMethodLayout, "Expected %s for %s at index %d, found %v", want, f.Name, c.idx, v.Kind))
	} else {
		c.n.AddCondition(newCondition(UnmatchedMethodLayout, "Expected %s for %s at index %d, found method marker", want, f.Name, c.idx))
	}
}

func (c *cursor) str(f *Field) (string, bool) {
	v := c.peek()
	if !v.IsString() {
		c.mismatch(f, "string")
		return "", false
	}
	c.idx++
	s := Render(v).Text
	c.n.AddItem(&Item{Field: f, Value: s, Text: s})
	return s, true
}

func (c *cursor) uint(f *Field) (uint64, bool) {
	v := c.peek()
	u, ok := v.Uint64()
	if !ok {
		c.mismatch(f, "unsigned integer")
		return 0, false
	}
	c.idx++
	var val interface{} = u
	if u <= math.MaxUint32 {
		val = uint32(u)
	}
	c.n.AddItem(&Item{Field: f, Value: val, Text: fmt.Sprint(u)})
	return u, true
}

func (c *cursor) int32(f *Field) (int32, bool) {
	v := c.peek()
	i, ok := v.Int32()
	if !ok {
		c.mismatch(f, "integer")
		return 0, false
	}
	c.idx++
	c.n.AddItem(&Item{Field: f, Value: i, Text: fmt.Sprint(i)})
	return i, true
}

func (c *cursor) flag(f *Field) (bool, bool) {
	v := c.peek()
	var b bool
	switch {
	case v != nil && v.Kind == msgpack.BoolKind:
		b = v.Bool
	case v.IsInteger():
		i, _ := v.Int32()
		b = i != 0
	default:
		c.mismatch(f, "flag")
		return false, false
	}
	c.idx++
	c.n.AddItem(&Item{Field: f, Value: b, Text: fmt.Sprint(b)})
	return b, true
}

// count reads an announced triplet count and clamps it to the values left.
func (c *cursor) count(f *Field, what string) int {
	n, ok := c.uint(f)
	if !ok {
		return 0
	}
	avail := c.remaining() / 3
	if n > uint64(avail) {
		c.n.AddCondition(newCondition(UnmatchedMethodLayout, "%d %s announced, only %d present", n, what, avail))
		c.failed = true
		return avail
	}
	return int(n)
}

func (c *cursor) triplets(role Role, n int) {
	for i := 0; i < n && c.remaining() >= 3; i++ {
		emitTriplet(c.n, role, c.all[c.idx], c.all[c.idx+1], c.all[c.idx+2])
		c.idx += 3
	}
}

// rest shows the remaining values under a structural item.
func (c *cursor) rest(f *Field) {
	if c.remaining() == 0 {
		return
	}
	sub := c.n.AddItem(&Item{Field: f, Text: fmt.Sprintf("%d values", c.remaining())})
	for ; c.idx < c.end; c.idx++ {
		display(sub, fmt.Sprintf("[%d]", c.idx), c.all[c.idx])
	}
}

// finish shows values no rule consumed.
func (c *cursor) finish() {
	if c.remaining() == 0 {
		return
	}
	if !c.failed {
		c.n.AddCondition(newCondition(UnmatchedMethodLayout, "%d values not matched by the method layout", c.remaining()))
	}
	for ; c.idx < c.end; c.idx++ {
		display(c.n, fmt.Sprintf("[%d]", c.idx), c.all[c.idx])
	}
}

func (c *cursor) appendInfo(format string, args ...interface{}) {
	c.info = append(c.info, fmt.Sprintf(format, args...))
}

// GET: component, count, names
func getParameterValues(c *cursor) {
	if _, ok := c.str(fComponentName); !ok {
		return
	}
	if _, ok := c.uint(fParamCount); !ok {
		return
	}
	for c.remaining() > 0 {
		name, ok := c.str(roles[RoleParameter].name)
		if !ok {
			return
		}
		c.appendInfo("%s", name)
	}
}

// SET: session, component, rollback, count, triplets, commit
func setParameterValues(c *cursor) {
	if _, ok := c.uint(fSessionID); !ok {
		return
	}
	if _, ok := c.str(fComponentName); !ok {
		return
	}
	if _, ok := c.uint(fRollback); !ok {
		return
	}
	n := c.count(fParamCount, "parameters")
	c.triplets(RoleParameter, n)
	if c.failed {
		return
	}
	c.str(fCommit)
}

// RESPONSE: error code, then a failed element or a property list
func response(c *cursor) {
	code, ok := c.int32(fErrorCode)
	if !ok {
		return
	}
	if code != 0 {
		c.appendInfo("Error %d", code)
	}
	if code != 0 && c.remaining() == 1 && c.peek().IsString() {
		c.str(fFailedElement)
		return
	}

	// find the property count
	at := -1
	for i := c.idx; i < c.end; i++ {
		if c.all[i].Kind != msgpack.UintKind {
			continue
		}
		if c.all[i].Uint > 0 && i+1 < c.end && c.all[i+1].IsString() {
			at = i
			break
		}
		// a zero count may be followed by the method marker
		if c.all[i].Uint == 0 && i+1 < len(c.all) && !c.all[i+1].IsInteger() {
			at = i
			break
		}
	}
	if at < 0 {
		return
	}
	for ; c.idx < at; c.idx++ {
		display(c.n, fmt.Sprintf("[%d]", c.idx), c.all[c.idx])
	}
	n := c.count(fPropertyCount, "properties")
	c.triplets(RoleProperty, n)
}

// SUBSCRIBE/UNSUBSCRIBE: event name, reply topic, subscription data
func subscribe(c *cursor) {
	name, ok := c.str(fEventName)
	if !ok {
		return
	}
	c.appendInfo("Event: %s", name)
	if _, ok := c.str(fReplyTopicField); !ok {
		return
	}
	c.rest(fSubscriptionData)
}

// RPC: session, method name, has params, params
func rpc(c *cursor) {
	if _, ok := c.uint(fSessionID); !ok {
		return
	}
	name, ok := c.str(fInvokeMethod)
	if !ok {
		return
	}
	c.appendInfo("%s", name)
	if _, ok := c.flag(fHasParams); !ok {
		return
	}
	c.rest(fMethodParams)
}

// COMMIT: session, component, count
func commit(c *cursor) {
	if _, ok := c.uint(fSessionID); !ok {
		return
	}
	if _, ok := c.str(fComponentName); !ok {
		return
	}
	c.uint(fParamCount)
}

// GETPARAMETERNAMES: component, name, next level
func getParameterNames(c *cursor) {
	if _, ok := c.str(fComponentName); !ok {
		return
	}
	name, ok := c.str(roles[RoleParameter].name)
	if !ok {
		return
	}
	c.appendInfo("%s", name)
	c.uint(fNextLevel)
}

// SET/GETPARAMETERATTRIBUTES: component, attributes
func parameterAttributes(c *cursor) {
	if _, ok := c.str(fComponentName); !ok {
		return
	}
	c.rest(fAttributes)
}

// ADDTBLROW/DELETETBLROW: session, component, table, alias or index
func tableRow(c *cursor) {
	if _, ok := c.uint(fSessionID); !ok {
		return
	}
	if _, ok := c.str(fComponentName); !ok {
		return
	}
	table, ok := c.str(fTableName)
	if !ok {
		return
	}
	c.appendInfo("%s", table)
	switch v := c.peek(); {
	case v.IsString():
		c.str(fTableAlias)
	case v != nil && v.Kind == msgpack.UintKind:
		c.uint(fTableIndex)
	}
}

// OPENDIRECT_CONN/CLOSEDIRECT_CONN: component names
func directConn(c *cursor) {
	for c.remaining() > 0 {
		if c.peek().IsString() {
			c.str(fComponentName)
			continue
		}
		display(c.n, fmt.Sprintf("[%d]", c.idx), c.peek())
		c.idx++
	}
}

// dissectMethod decodes a payload with a method marker at m. It returns the
// info text to append to the summary.
func dissectMethod(n Node, vals []*msgpack.Value, m int) string {
	method := vals[m].Str
	c := &cursor{n: n, all: vals, end: m}
	methods.dispatch(method, c)
	c.finish()
	emitMetadata(n, vals, m)

	info := " " + strings.TrimPrefix(method, methodPrefix)
	if len(c.info) > 0 {
		info += " " + strings.Join(c.info, ", ")
	}
	return info
}
