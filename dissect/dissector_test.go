package dissect

import (
	"encoding/json"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/mdzio/go-logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdzio/go-rbus/msgpack"
	"github.com/mdzio/go-rbus/rtmsg"
)

func init() {
	var l logging.LogLevel
	err := l.Set(os.Getenv("LOG_LEVEL"))
	if err == nil {
		logging.SetLevel(l)
	}
}

func message(flags rtmsg.Flags, topic string, vals ...interface{}) []byte {
	var payload []byte
	if len(vals) > 0 {
		payload = msgpack.MustMarshal(msgpack.MustValues(vals...)...)
	}
	return rtmsg.MustMarshal(rtmsg.Header{SequenceNumber: 1, Flags: flags, Topic: topic}, payload)
}

func withPayload(payload []byte) []byte {
	return rtmsg.MustMarshal(rtmsg.Header{SequenceNumber: 1, Flags: rtmsg.FlagRequest, Topic: "test"}, payload)
}

func dissect(t *testing.T, buf []byte) (*Tree, *Result) {
	t.Helper()
	tr := NewTree()
	res, err := (&Dissector{}).Dissect(buf, tr)
	require.NoError(t, err)
	require.NotNil(t, res)
	return tr, res
}

func kindsOf(cs []*Condition) []ConditionKind {
	var ks []ConditionKind
	for _, c := range cs {
		ks = append(ks, c.Kind)
	}
	return ks
}

func TestDissectHeaderOnly(t *testing.T) {
	buf := message(rtmsg.FlagRequest, "test")
	tr, res := dissect(t, buf)

	assert.Equal(t, len(buf), res.Len)
	assert.Equal(t, ModeEmpty, res.Mode)
	assert.Equal(t, "Request: test", res.Info)
	assert.Empty(t, res.Conditions)

	assert.Equal(t, "0xaaaa", tr.Text("rbus.header.opening_marker"))
	assert.Equal(t, "2", tr.Text("rbus.header.version"))
	assert.Equal(t, "1", tr.Text("rbus.header.sequence"))
	assert.Equal(t, "test", tr.Text("rbus.header.topic"))
	assert.Equal(t, "true", tr.Text("rbus.header.flags.request"))
	assert.Equal(t, "false", tr.Text("rbus.header.flags.response"))
	assert.Equal(t, "0x00000001 (request)", tr.Text("rbus.header.flags"))
	assert.Nil(t, tr.First("rbus.header.roundtrip.t1"))
	assert.Nil(t, tr.First("rbus.payload"))
}

func TestDissectSetParameterValues(t *testing.T) {
	buf := message(rtmsg.FlagRequest, "Device.X",
		1, "Comp1", 0, 1, "Device.X.Enable", 0x500, []byte{0x01}, "TRUE",
		"METHOD_SETPARAMETERVALUES", "", "", 0)
	tr, res := dissect(t, buf)

	assert.Equal(t, ModeMethod, res.Mode)
	assert.Equal(t, "METHOD_SETPARAMETERVALUES", res.Method)
	assert.Equal(t, "Request: Device.X SETPARAMETERVALUES", res.Info)
	assert.Equal(t, 12, res.Objects)
	assert.Empty(t, res.Conditions)

	assert.Equal(t, uint32(1), tr.First("rbus.session_id").Item.Value)
	assert.Equal(t, "Comp1", tr.Text("rbus.component_name"))
	assert.Equal(t, "0", tr.Text("rbus.rollback"))
	assert.Equal(t, "1", tr.Text("rbus.param_count"))

	params := tr.Find("rbus.parameter")
	require.Len(t, params, 1)
	p := params[0]
	assert.Equal(t, "Device.X.Enable=true", p.Item.Text)
	assert.Equal(t, "Device.X.Enable", p.Text("rbus.parameter.name"))
	assert.Equal(t, uint32(0x500), p.First("rbus.parameter.type").Item.Value)
	assert.Equal(t, "Boolean (0x500)", p.Text("rbus.parameter.type"))
	assert.Equal(t, true, p.First("rbus.parameter.value.boolean").Item.Value)
	assert.Equal(t, "Device.X.Enable=true", p.Text("rbus.parameter.namevalue"))

	assert.Equal(t, "TRUE", tr.Text("rbus.commit"))
	assert.Equal(t, "METHOD_SETPARAMETERVALUES", tr.Text("rbus.method"))
	assert.Equal(t, "", tr.Text("rbus.ot_parent"))
	assert.NotNil(t, tr.First("rbus.ot_state"))
	assert.Nil(t, tr.First("rbus.ot_trace_id"))
	assert.Equal(t, int32(0), tr.First("rbus.metadata.offset").Item.Value)
}

func TestDissectResponse(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		tr, res := dissect(t, message(rtmsg.FlagResponse, "rbus.reply",
			0, 0, "METHOD_RESPONSE", "", "", 0))
		assert.Equal(t, ModeMethod, res.Mode)
		assert.Empty(t, res.Conditions)
		assert.Equal(t, "0", tr.Text("rbus.error_code"))
		assert.Equal(t, "0", tr.Text("rbus.property_count"))
		assert.Nil(t, tr.First("rbus.property"))
		assert.Equal(t, "Response: rbus.reply RESPONSE", res.Info)
	})

	t.Run("properties", func(t *testing.T) {
		tr, res := dissect(t, message(rtmsg.FlagResponse, "rbus.reply",
			0, 2, "A", 0x50E, "hello", "B", 0x507, -5,
			"METHOD_RESPONSE", "", "", 0))
		assert.Empty(t, res.Conditions)
		props := tr.Find("rbus.property")
		require.Len(t, props, 2)
		assert.Equal(t, "A=hello", props[0].Text("rbus.property.namevalue"))
		assert.Equal(t, "String (0x50e)", props[0].Text("rbus.property.type"))
		assert.Equal(t, "B=-5", props[1].Text("rbus.property.namevalue"))
		assert.Equal(t, int32(-5), props[1].First("rbus.property.value.int").Item.Value)
	})

	t.Run("failed element", func(t *testing.T) {
		tr, res := dissect(t, message(rtmsg.FlagResponse, "rbus.reply",
			9005, "Device.Bad", "METHOD_RESPONSE", "", "", 0))
		assert.Empty(t, res.Conditions)
		assert.Equal(t, "9005", tr.Text("rbus.error_code"))
		assert.Equal(t, "Device.Bad", tr.Text("rbus.failed_element"))
		assert.Nil(t, tr.First("rbus.property_count"))
		assert.Equal(t, "Response: rbus.reply RESPONSE Error 9005", res.Info)
	})

	t.Run("announced count too large", func(t *testing.T) {
		tr, res := dissect(t, message(rtmsg.FlagResponse, "rbus.reply",
			0, 5, "A", 0x50E, "hello", "METHOD_RESPONSE", "", "", 0))
		assert.Equal(t, []ConditionKind{UnmatchedMethodLayout}, kindsOf(res.Conditions))
		assert.Len(t, tr.Find("rbus.property"), 1)
	})
}

func TestDissectGetParameterValues(t *testing.T) {
	const parent = "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"
	tr, res := dissect(t, message(rtmsg.FlagRequest, "Device.",
		"Comp", 2, "Device.A.", "Device.B.",
		"METHOD_GETPARAMETERVALUES", parent, "vendor=x", 12))

	assert.Empty(t, res.Conditions)
	assert.Equal(t, "Request: Device. GETPARAMETERVALUES Device.A., Device.B.", res.Info)
	names := tr.Find("rbus.parameter.name")
	require.Len(t, names, 2)
	assert.Equal(t, "Device.B.", names[1].Item.Text)

	assert.Equal(t, parent, tr.Text("rbus.ot_parent"))
	assert.Equal(t, "vendor=x", tr.Text("rbus.ot_state"))
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", tr.Text("rbus.ot_trace_id"))
	assert.Equal(t, "00f067aa0ba902b7", tr.Text("rbus.ot_span_id"))
	assert.Equal(t, true, tr.First("rbus.ot_sampled").Item.Value)
	assert.Equal(t, "12", tr.Text("rbus.metadata.offset"))
}

func TestDissectMetadataSlots(t *testing.T) {
	t.Run("number as parent", func(t *testing.T) {
		tr, res := dissect(t, message(rtmsg.FlagRequest, "Device.",
			"Comp", 1, "Device.A.", "METHOD_GETPARAMETERVALUES", 7, "state", 12))
		assert.Empty(t, res.Conditions)
		assert.Nil(t, tr.First("rbus.ot_parent"))
		assert.Equal(t, "state", tr.Text("rbus.ot_state"))
		assert.Equal(t, int32(12), tr.First("rbus.metadata.offset").Item.Value)
		vs := tr.Find("rbus.payload.uint")
		require.Len(t, vs, 1)
		assert.Equal(t, "[4]", vs[0].Item.Label)
		assert.Equal(t, "7", vs[0].Item.Text)
	})

	t.Run("number as state", func(t *testing.T) {
		tr, res := dissect(t, message(rtmsg.FlagRequest, "Device.",
			"Comp", 1, "Device.A.", "METHOD_GETPARAMETERVALUES", "parent", 5, 12))
		assert.Empty(t, res.Conditions)
		assert.Equal(t, "parent", tr.Text("rbus.ot_parent"))
		assert.Nil(t, tr.First("rbus.ot_state"))
		assert.Nil(t, tr.First("rbus.ot_trace_id"))
		assert.Equal(t, "12", tr.Text("rbus.metadata.offset"))
		vs := tr.Find("rbus.payload.uint")
		require.Len(t, vs, 1)
		assert.Equal(t, "[5]", vs[0].Item.Label)
	})

	t.Run("values after the offset", func(t *testing.T) {
		tr, _ := dissect(t, message(rtmsg.FlagRequest, "Device.",
			"Comp", 1, "Device.A.", "METHOD_GETPARAMETERVALUES", "", "", 0, 9))
		assert.Equal(t, "0", tr.Text("rbus.metadata.offset"))
		vs := tr.Find("rbus.payload.uint")
		require.Len(t, vs, 1)
		assert.Equal(t, "[7]", vs[0].Item.Label)
	})
}

func TestDissectUnsignedSlots(t *testing.T) {
	tr, res := dissect(t, message(rtmsg.FlagRequest, "x",
		uint32(0xffffffff), "Comp", uint64(1)<<40, "METHOD_COMMIT", "", "", 0))
	assert.Empty(t, res.Conditions)
	assert.Equal(t, uint32(0xffffffff), tr.First("rbus.session_id").Item.Value)
	assert.Equal(t, "4294967295", tr.Text("rbus.session_id"))
	assert.Equal(t, uint64(1)<<40, tr.First("rbus.param_count").Item.Value)
	assert.Equal(t, "1099511627776", tr.Text("rbus.param_count"))

	tr, res = dissect(t, message(rtmsg.FlagRequest, "x",
		-1, "Comp", 0, "METHOD_COMMIT", "", "", 0))
	assert.Equal(t, []ConditionKind{UnmatchedMethodLayout}, kindsOf(res.Conditions))
	assert.Nil(t, tr.First("rbus.session_id"))
}

func TestDissectOtherMethods(t *testing.T) {
	tests := []struct {
		name  string
		vals  []interface{}
		info  string
		texts map[string]string
	}{
		{
			"subscribe",
			[]interface{}{"Device.WiFi.Event!", "rbus.reply.7", 1, 0, "METHOD_SUBSCRIBE", "", "", 0},
			" SUBSCRIBE Event: Device.WiFi.Event!",
			map[string]string{
				"rbus.event_name":          "Device.WiFi.Event!",
				"rbus.reply_topic_payload": "rbus.reply.7",
				"rbus.subscription_data":   "2 values",
			},
		},
		{
			"rpc",
			[]interface{}{3, "Device.Reboot()", true, "arg", "METHOD_RPC", "", "", 0},
			" RPC Device.Reboot()",
			map[string]string{
				"rbus.session_id":         "3",
				"rbus.invoke_method_name": "Device.Reboot()",
				"rbus.has_params":         "true",
				"rbus.method_params":      "1 values",
			},
		},
		{
			"commit",
			[]interface{}{4, "Comp", 2, "METHOD_COMMIT", "", "", 0},
			" COMMIT",
			map[string]string{"rbus.session_id": "4", "rbus.param_count": "2"},
		},
		{
			"get parameter names",
			[]interface{}{"Comp", "Device.", 1, "METHOD_GETPARAMETERNAMES", "", "", 0},
			" GETPARAMETERNAMES Device.",
			map[string]string{"rbus.parameter.name": "Device.", "rbus.next_level": "1"},
		},
		{
			"add table row",
			[]interface{}{5, "Comp", "Device.Table.", "alias1", "METHOD_ADDTBLROW", "", "", 0},
			" ADDTBLROW Device.Table.",
			map[string]string{"rbus.table_name": "Device.Table.", "rbus.table_alias": "alias1"},
		},
		{
			"delete table row",
			[]interface{}{5, "Comp", "Device.Table.", 3, "METHOD_DELETETBLROW", "", "", 0},
			" DELETETBLROW Device.Table.",
			map[string]string{"rbus.table_index": "3"},
		},
		{
			"set parameter attributes",
			[]interface{}{"Comp", "a", 1, "METHOD_SETPARAMETERATTRIBUTES", "", "", 0},
			" SETPARAMETERATTRIBUTES",
			map[string]string{"rbus.attributes": "2 values"},
		},
		{
			"open direct connection",
			[]interface{}{"CompA", "CompB", "Device.X", "METHOD_OPENDIRECT_CONN", "", "", 0},
			" OPENDIRECT_CONN",
			map[string]string{"rbus.component_name": "CompA"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, res := dissect(t, message(rtmsg.FlagRequest, "x", tt.vals...))
			assert.Equal(t, ModeMethod, res.Mode)
			assert.Empty(t, res.Conditions)
			assert.Equal(t, "Request: x"+tt.info, res.Info)
			for abbrev, text := range tt.texts {
				assert.Equal(t, text, tr.Text(abbrev), abbrev)
			}
		})
	}
}

func TestDissectMethodMismatch(t *testing.T) {
	t.Run("unknown method", func(t *testing.T) {
		tr, res := dissect(t, message(rtmsg.FlagRequest, "x",
			"a", "b", "METHOD_FOO", "", "", 0))
		assert.Equal(t, ModeMethod, res.Mode)
		assert.Equal(t, []ConditionKind{UnknownMethod}, kindsOf(res.Conditions))
		assert.Equal(t, "METHOD_FOO", tr.Text("rbus.method"))
		vals := tr.Find("rbus.payload.string")
		require.Len(t, vals, 2)
		assert.Equal(t, "[0]", vals[0].Item.Label)
		assert.Equal(t, "b", vals[1].Item.Text)
	})

	t.Run("wrong slot type", func(t *testing.T) {
		tr, res := dissect(t, message(rtmsg.FlagRequest, "x",
			"not a session", "Comp", 0, 0, "METHOD_SETPARAMETERVALUES", "", "", 0))
		assert.Equal(t, []ConditionKind{UnmatchedMethodLayout}, kindsOf(res.Conditions))
		assert.Nil(t, tr.First("rbus.session_id"))
		assert.Len(t, tr.Find("rbus.payload.string"), 2)
		assert.Equal(t, "METHOD_SETPARAMETERVALUES", tr.Text("rbus.method"))
		for _, c := range res.Conditions {
			assert.True(t, errors.Is(c, ErrUnmatchedMethodLayout))
		}
	})

	t.Run("unconsumed values", func(t *testing.T) {
		_, res := dissect(t, message(rtmsg.FlagRequest, "x",
			5, "Comp", 2, "extra", "METHOD_COMMIT", "", "", 0))
		assert.Equal(t, []ConditionKind{UnmatchedMethodLayout}, kindsOf(res.Conditions))
	})
}

func TestDissectEvent(t *testing.T) {
	tr, res := dissect(t, message(rtmsg.FlagRequest, "Device.WiFi.Event!",
		"Device.WiFi.Event!", 2, 1, "obj", 0, 1, "value", 0x50E, "on", 10, 20, 3))

	assert.Equal(t, ModeEvent, res.Mode)
	assert.Empty(t, res.Conditions)
	assert.Equal(t, "Request: Device.WiFi.Event! Event: Device.WiFi.Event!", res.Info)
	assert.Equal(t, "Device.WiFi.Event!", tr.Text("rbus.event_name"))
	assert.Equal(t, "VALUE_CHANGED (2)", tr.Text("rbus.event_type"))
	assert.Equal(t, "true", tr.Text("rbus.has_event_data"))
	assert.Equal(t, "false", tr.Text("rbus.has_filter"))
	assert.Equal(t, "1 properties", tr.Text("rbus.event_data"))
	assert.Equal(t, "value=on", tr.Text("rbus.object.property.namevalue"))
	assert.Equal(t, "10", tr.Text("rbus.interval"))
	assert.Equal(t, "20", tr.Text("rbus.duration"))
	assert.Equal(t, "3", tr.Text("rbus.component_id"))
}

func TestDissectGeneric(t *testing.T) {
	t.Run("few values", func(t *testing.T) {
		tr, res := dissect(t, message(rtmsg.FlagRequest, "x", 1, "x"))
		assert.Equal(t, ModeGeneric, res.Mode)
		assert.Empty(t, res.Conditions)
		assert.Equal(t, "3 bytes [2 MessagePack objects]", tr.Text("rbus.payload"))
		first := tr.First("rbus.payload.uint")
		require.NotNil(t, first)
		assert.Equal(t, "Session ID / Error Code", first.Item.Label)
		assert.Equal(t, "[1]", tr.First("rbus.payload.string").Item.Label)
	})

	t.Run("method without layout values", func(t *testing.T) {
		tr, res := dissect(t, message(rtmsg.FlagRequest, "x", "METHOD_X", "p", "s"))
		assert.Equal(t, ModeGeneric, res.Mode)
		var labels []string
		for _, n := range tr.Find("rbus.payload.string") {
			labels = append(labels, n.Item.Label)
		}
		assert.Equal(t, []string{"Method", "OpenTelemetry Parent", "OpenTelemetry State"}, labels)
	})

	t.Run("containers", func(t *testing.T) {
		tr, res := dissect(t, message(rtmsg.FlagRequest, "x",
			[]interface{}{1, "a"}, map[string]interface{}{"k": nil}))
		assert.Equal(t, ModeGeneric, res.Mode)
		vals := tr.Find("rbus.value")
		require.Len(t, vals, 3)
		assert.Equal(t, "[Array, 2 elements]", vals[0].Item.Text)
		assert.Equal(t, "[Map, 1 entries]", vals[1].Item.Text)
		assert.Equal(t, "k", vals[2].Item.Label)
		assert.Equal(t, "nil", vals[2].Item.Text)
		assert.Equal(t, "[0]", tr.First("rbus.payload.uint").Item.Label)
	})

	t.Run("event name without event layout", func(t *testing.T) {
		_, res := dissect(t, message(rtmsg.FlagRequest, "x", "name", "a", "b", "c", "d"))
		assert.Equal(t, ModeGeneric, res.Mode)
	})
}

func TestDissectJSON(t *testing.T) {
	tr, res := dissect(t, withPayload([]byte(`{"a":1}`)))
	assert.Equal(t, ModeJSON, res.Mode)
	assert.Equal(t, "7 bytes [JSON]", tr.Text("rbus.payload"))
	assert.Equal(t, `{"a":1}`, tr.Text("rbus.payload.string"))

	// a single bracket is a MessagePack fixint
	_, res = dissect(t, withPayload([]byte("[")))
	assert.Equal(t, ModeGeneric, res.Mode)
}

func TestDissectUndecodablePayload(t *testing.T) {
	payload := append(msgpack.MustMarshal(msgpack.Uint(1)), 0xc1, 0x00)
	tr, res := dissect(t, withPayload(payload))

	assert.Equal(t, ModeGeneric, res.Mode)
	assert.Equal(t, []ConditionKind{UndecodablePayload}, kindsOf(res.Conditions))
	assert.Equal(t, "1", tr.Text("rbus.payload.uint"))
	raw := tr.First("rbus.payload.raw")
	require.NotNil(t, raw)
	assert.Equal(t, []byte{0xc1, 0x00}, raw.Item.Value)
	assert.Equal(t, "2 bytes: c1 00", raw.Item.Text)

	tr, _ = dissect(t, withPayload([]byte{0xc1}))
	assert.Equal(t, "1 bytes [Not valid MessagePack]", tr.Text("rbus.payload"))
}

func TestDissectLimits(t *testing.T) {
	t.Run("depth", func(t *testing.T) {
		v := msgpack.Uint(1)
		for i := 0; i < 20; i++ {
			v = msgpack.Array(v)
		}
		tr, res := dissect(t, withPayload(msgpack.MustMarshal(v)))
		assert.Equal(t, ModeGeneric, res.Mode)
		require.Equal(t, []ConditionKind{DepthExceeded}, kindsOf(res.Conditions))
		assert.True(t, errors.Is(res.Conditions[0], msgpack.ErrDepthExceeded))
		// 17 arrays and the omitted placeholder
		assert.Len(t, tr.Find("rbus.value"), 18)
	})

	t.Run("depth in a parameter value", func(t *testing.T) {
		v := msgpack.Uint(1)
		for i := 0; i < 20; i++ {
			v = msgpack.Array(v)
		}
		tr, res := dissect(t, message(rtmsg.FlagRequest, "Device.X",
			1, "Comp1", 0, 1, "Device.X", 0x500, v, "TRUE",
			"METHOD_SETPARAMETERVALUES", "", "", 0))
		assert.Equal(t, ModeMethod, res.Mode)
		require.Equal(t, []ConditionKind{UnrecognizedValueShape, DepthExceeded}, kindsOf(res.Conditions))
		assert.True(t, errors.Is(res.Conditions[1], msgpack.ErrDepthExceeded))
		pn := tr.First("rbus.payload")
		require.NotNil(t, pn)
		assert.Equal(t, []ConditionKind{DepthExceeded}, kindsOf(pn.Conditions))
	})

	t.Run("object limit", func(t *testing.T) {
		payload := msgpack.MustMarshal(msgpack.MustValues(1, 2, 3, 4, 5)...)
		d := &Dissector{Limits: msgpack.Limits{MaxDepth: 16, MaxObjects: 3}}
		tr := NewTree()
		res, err := d.Dissect(withPayload(payload), tr)
		require.NoError(t, err)
		assert.Equal(t, 3, res.Objects)
		assert.Equal(t, []ConditionKind{ObjectLimitExceeded}, kindsOf(res.Conditions))
		assert.Len(t, tr.Find("rbus.payload.uint"), 3)
	})
}

func TestDissectNeedMore(t *testing.T) {
	buf := message(rtmsg.FlagRequest, "test", "a")
	obs := &countingObserver{}
	d := &Dissector{Observer: obs}
	tr := NewTree()

	res, err := d.Dissect(buf[:10], tr)
	assert.Nil(t, res)
	var nm *rtmsg.NeedMoreError
	require.True(t, errors.As(err, &nm))
	assert.Equal(t, rtmsg.FixedHeaderSize-10, nm.N)
	assert.Empty(t, tr.Children)

	_, err = d.Dissect(buf[:len(buf)-1], tr)
	require.True(t, errors.As(err, &nm))
	assert.Equal(t, 1, nm.N)
	assert.Equal(t, []int{12, 1}, obs.needMore)
	assert.Empty(t, obs.results)

	res, err = d.Dissect(buf, tr)
	require.NoError(t, err)
	assert.Equal(t, []*Result{res}, obs.results)
}

func TestDissectInvalidLength(t *testing.T) {
	buf := message(rtmsg.FlagRequest, "test")
	// payload length
	buf[18] = 0x7f
	tr := NewTree()
	res, err := (&Dissector{}).Dissect(buf, tr)
	assert.True(t, errors.Is(err, rtmsg.ErrInvalidLength))
	require.NotNil(t, res)
	assert.Equal(t, 0, res.Len)
	assert.Equal(t, []ConditionKind{InvalidLength}, kindsOf(res.Conditions))
	assert.Equal(t, Error, res.Conditions[0].Severity)
	assert.Equal(t, "1", tr.Text("rbus.header.sequence"))
	assert.Nil(t, tr.First("rbus.payload"))
}

func TestDissectMalformedHeader(t *testing.T) {
	buf := message(rtmsg.FlagRequest, "test", 1, 2)
	buf[0] = 0x00
	tr, res := dissect(t, buf)
	assert.Equal(t, []ConditionKind{MalformedHeader}, kindsOf(res.Conditions))
	assert.Len(t, tr.Find("rbus.payload.uint"), 2)
}

func TestDissectZeroClosingMarker(t *testing.T) {
	buf := message(rtmsg.FlagRequest, "test", 1)
	m, err := rtmsg.Frame(buf)
	require.NoError(t, err)
	buf[m.HeaderSize-2], buf[m.HeaderSize-1] = 0, 0

	tr, res := dissect(t, buf)
	assert.Equal(t, []ConditionKind{MalformedHeader}, kindsOf(res.Conditions))
	cm := tr.First("rbus.header.closing_marker")
	require.NotNil(t, cm)
	assert.Equal(t, "0x0000", cm.Item.Text)
	assert.Equal(t, "1", tr.Text("rbus.payload.uint"))
}

func TestDissectCaptured(t *testing.T) {
	buf := message(rtmsg.FlagRequest, "test", 1, 2, 3)
	tr := NewTree()
	res, err := (&Dissector{}).DissectCaptured(buf[:len(buf)-1], tr)
	require.NoError(t, err)
	assert.Equal(t, []ConditionKind{TruncatedPayload}, kindsOf(res.Conditions))
	assert.Len(t, tr.Find("rbus.payload.uint"), 2)
}

func TestHeuristic(t *testing.T) {
	d := &Dissector{}
	res, err := d.Heuristic([]byte("GET / HTTP/1.1\r\nHost: example.org\r\n\r\n"), NewTree())
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, rtmsg.ErrNotRBus))

	res, err = d.Heuristic(message(rtmsg.FlagRequest, "test", 1), NewTree())
	require.NoError(t, err)
	assert.Equal(t, ModeGeneric, res.Mode)
}

func TestDissectConcurrent(t *testing.T) {
	buf := message(rtmsg.FlagRequest, "Device.X",
		1, "Comp1", 0, 1, "Device.X.Enable", 0x500, []byte{0x01}, "TRUE",
		"METHOD_SETPARAMETERVALUES", "", "", 0)
	d := &Dissector{}
	want := NewTree()
	_, err := d.Dissect(buf, want)
	require.NoError(t, err)

	var wg sync.WaitGroup
	outs := make([]string, 8)
	for i := range outs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tr := NewTree()
			if _, err := d.Dissect(buf, tr); err == nil {
				outs[i] = tr.String()
			}
		}(i)
	}
	wg.Wait()
	for _, o := range outs {
		assert.Equal(t, want.String(), o)
	}
}

func TestTreeOutput(t *testing.T) {
	tr, _ := dissect(t, message(rtmsg.FlagRequest, "test", "a", "b", "METHOD_FOO", "", "", 0))

	s := tr.String()
	assert.True(t, strings.HasPrefix(s, "RBus Protocol: Request: test FOO\n"))
	assert.Contains(t, s, "\n        Sequence Number: 1\n")
	assert.Contains(t, s, "[note] Unknown method METHOD_FOO")

	b, err := json.Marshal(tr)
	require.NoError(t, err)
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &doc))
	children := doc["children"].([]interface{})
	require.Len(t, children, 1)
	assert.Equal(t, "rbus", children[0].(map[string]interface{})["field"])
	assert.Contains(t, string(b), `"kind":"unknown_method"`)
}

type countingObserver struct {
	results  []*Result
	needMore []int
}

func (o *countingObserver) Observe(r *Result) { o.results = append(o.results, r) }

func (o *countingObserver) NeedMore(n int) { o.needMore = append(o.needMore, n) }
