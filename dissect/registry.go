package dissect

import (
	"fmt"
	"sort"
)

// FieldType is the value type of a field.
type FieldType int

// Field types.
const (
	FtNone FieldType = iota
	FtProtocol
	FtString
	FtBoolean
	FtUint16
	FtUint32
	FtUint64
	FtInt32
	FtInt64
	FtDouble
	FtBytes
)

// Field describes a registered field.
type Field struct {
	Abbrev string
	Name   string
	Type   FieldType
	// Hex selects hexadecimal display of integers.
	Hex bool
}

var fieldList []*Field

func field(abbrev, name string, typ FieldType) *Field {
	f := &Field{Abbrev: abbrev, Name: name, Type: typ}
	fieldList = append(fieldList, f)
	return f
}

func hexField(abbrev, name string, typ FieldType) *Field {
	f := field(abbrev, name, typ)
	f.Hex = true
	return f
}

var (
	fProtocol = field("rbus", "RBus Protocol", FtProtocol)

	fHeader           = field("rbus.header", "Header", FtNone)
	fOpeningMarker    = hexField("rbus.header.opening_marker", "Opening Marker", FtUint16)
	fVersion          = field("rbus.header.version", "Version", FtUint16)
	fHeaderLength     = field("rbus.header.length", "Header Length", FtUint16)
	fSequence         = field("rbus.header.sequence", "Sequence Number", FtUint32)
	fFlags            = hexField("rbus.header.flags", "Flags", FtUint32)
	fFlagRequest      = field("rbus.header.flags.request", "Request", FtBoolean)
	fFlagResponse     = field("rbus.header.flags.response", "Response", FtBoolean)
	fFlagUndeliver    = field("rbus.header.flags.undeliverable", "Undeliverable", FtBoolean)
	fFlagTainted      = field("rbus.header.flags.tainted", "Tainted", FtBoolean)
	fFlagRawBinary    = field("rbus.header.flags.raw_binary", "Raw Binary", FtBoolean)
	fFlagEncrypted    = field("rbus.header.flags.encrypted", "Encrypted", FtBoolean)
	fControlData      = field("rbus.header.control_data", "Control Data", FtUint32)
	fPayloadLength    = field("rbus.header.payload_length", "Payload Length", FtUint32)
	fTopicLength      = field("rbus.header.topic_length", "Topic Length", FtUint32)
	fTopic            = field("rbus.header.topic", "Topic", FtString)
	fReplyTopicLength = field("rbus.header.reply_topic_length", "Reply Topic Length", FtUint32)
	fReplyTopic       = field("rbus.header.reply_topic", "Reply Topic", FtString)
	fRoundtrip        = [5]*Field{
		field("rbus.header.roundtrip.t1", "Roundtrip T1", FtUint32),
		field("rbus.header.roundtrip.t2", "Roundtrip T2", FtUint32),
		field("rbus.header.roundtrip.t3", "Roundtrip T3", FtUint32),
		field("rbus.header.roundtrip.t4", "Roundtrip T4", FtUint32),
		field("rbus.header.roundtrip.t5", "Roundtrip T5", FtUint32),
	}
	fClosingMarker = hexField("rbus.header.closing_marker", "Closing Marker", FtUint16)

	fPayload = field("rbus.payload", "Payload", FtBytes)
	fRaw     = field("rbus.payload.raw", "Raw Data", FtBytes)

	fSessionID     = field("rbus.session_id", "Session ID", FtUint32)
	fComponentName = field("rbus.component_name", "Component Name", FtString)
	fParamCount    = field("rbus.param_count", "Parameter Count", FtUint32)
	fPropertyCount = field("rbus.property_count", "Property Count", FtUint32)
	fErrorCode     = field("rbus.error_code", "Error Code", FtInt32)
	fRollback      = field("rbus.rollback", "Rollback", FtUint32)
	fCommit        = field("rbus.commit", "Commit", FtString)
	fFailedElement = field("rbus.failed_element", "Failed Element", FtString)
	fNextLevel     = field("rbus.next_level", "Next Level", FtUint32)
	fTableName     = field("rbus.table_name", "Table Name", FtString)
	fTableAlias    = field("rbus.table_alias", "Table Row Alias", FtString)
	fTableIndex    = field("rbus.table_index", "Table Row Index", FtUint32)

	fMetadata       = field("rbus.metadata", "Metadata", FtNone)
	fMethod         = field("rbus.method", "Method", FtString)
	fOtParent       = field("rbus.ot_parent", "OpenTelemetry Parent", FtString)
	fOtState        = field("rbus.ot_state", "OpenTelemetry State", FtString)
	fOtTraceID      = field("rbus.ot_trace_id", "Trace ID", FtString)
	fOtSpanID       = field("rbus.ot_span_id", "Parent Span ID", FtString)
	fOtSampled      = field("rbus.ot_sampled", "Sampled", FtBoolean)
	fMetadataOffset = field("rbus.metadata.offset", "Metadata Offset", FtInt32)

	fEventName        = field("rbus.event_name", "Event Name", FtString)
	fReplyTopicField  = field("rbus.reply_topic_payload", "Reply Topic", FtString)
	fSubscriptionData = field("rbus.subscription_data", "Subscription Data", FtNone)
	fInvokeMethod     = field("rbus.invoke_method_name", "Invoke Method Name", FtString)
	fHasParams        = field("rbus.has_params", "Has Parameters", FtBoolean)
	fMethodParams     = field("rbus.method_params", "Method Parameters", FtNone)
	fEventType        = field("rbus.event_type", "Event Type", FtUint32)
	fHasEventData     = field("rbus.has_event_data", "Has Event Data", FtBoolean)
	fEventData        = field("rbus.event_data", "Event Data", FtNone)
	fHasFilter        = field("rbus.has_filter", "Has Filter", FtBoolean)
	fInterval         = field("rbus.interval", "Interval", FtUint32)
	fDuration         = field("rbus.duration", "Duration", FtUint32)
	fComponentID      = field("rbus.component_id", "Component ID", FtInt32)
	fAttributes       = field("rbus.attributes", "Attributes", FtNone)

	fValue = field("rbus.value", "Value", FtNone)
)

// Role is the structural role of a rendered value.
type Role int

// Roles.
const (
	// RoleParameter is a parameter of a get/set request.
	RoleParameter Role = iota
	// RoleProperty is a property of a response.
	RoleProperty
	// RoleObjectProperty is a property of an event object.
	RoleObjectProperty
	// RolePayload is a value of the generic fallback.
	RolePayload
)

// roleFields holds the fields of one role. Value fields are indexed by field
// type.
type roleFields struct {
	item      *Field
	name      *Field
	typ       *Field
	nameValue *Field
	values    map[FieldType]*Field
}

func valueFields(prefix string) map[FieldType]*Field {
	name := "Value"
	if prefix == "rbus.payload" {
		name = "Payload"
	}
	return map[FieldType]*Field{
		FtString:  field(prefix+".string", name, FtString),
		FtInt32:   field(prefix+".int", name, FtInt32),
		FtUint32:  field(prefix+".uint", name, FtUint32),
		FtInt64:   field(prefix+".int64", name, FtInt64),
		FtUint64:  field(prefix+".uint64", name, FtUint64),
		FtDouble:  field(prefix+".double", name, FtDouble),
		FtBoolean: field(prefix+".boolean", name, FtBoolean),
		FtBytes:   field(prefix+".bytes", name, FtBytes),
	}
}

var (
	propertyValues = valueFields("rbus.property.value")

	roles = map[Role]*roleFields{
		RoleParameter: {
			item:      field("rbus.parameter", "Parameter", FtNone),
			name:      field("rbus.parameter.name", "Name", FtString),
			typ:       hexField("rbus.parameter.type", "Type", FtUint32),
			nameValue: field("rbus.parameter.namevalue", "Name=Value", FtString),
			values:    valueFields("rbus.parameter.value"),
		},
		RoleProperty: {
			item:      field("rbus.property", "Property", FtNone),
			name:      field("rbus.property.name", "Name", FtString),
			typ:       hexField("rbus.property.type", "Type", FtUint32),
			nameValue: field("rbus.property.namevalue", "Name=Value", FtString),
			values:    propertyValues,
		},
		RoleObjectProperty: {
			item:      field("rbus.object.property", "Property", FtNone),
			name:      field("rbus.object.property.name", "Name", FtString),
			typ:       field("rbus.object.property.type", "Type", FtUint32),
			nameValue: field("rbus.object.property.namevalue", "Name=Value", FtString),
			values:    propertyValues,
		},
		RolePayload: {
			item:   fValue,
			values: valueFields("rbus.payload"),
		},
	}
)

var fieldsByAbbrev map[string]*Field

func init() {
	fieldsByAbbrev = make(map[string]*Field, len(fieldList))
	for _, f := range fieldList {
		if _, dup := fieldsByAbbrev[f.Abbrev]; dup {
			panic(fmt.Sprintf("duplicate field registration: %s", f.Abbrev))
		}
		fieldsByAbbrev[f.Abbrev] = f
	}
}

// LookupField returns the registered field with the abbreviation.
func LookupField(abbrev string) (*Field, bool) {
	f, ok := fieldsByAbbrev[abbrev]
	return f, ok
}

// Fields returns all registered fields sorted by abbreviation.
func Fields() []*Field {
	fs := make([]*Field, len(fieldList))
	copy(fs, fieldList)
	sort.Slice(fs, func(i, j int) bool { return fs[i].Abbrev < fs[j].Abbrev })
	return fs
}

var typeNames = map[uint32]string{
	// legacy CCSP types
	0x00: "String",
	0x01: "Int",
	0x02: "UnsignedInt",
	0x03: "Boolean",
	0x04: "DateTime",
	0x05: "Base64",
	// native types
	0x500: "Boolean",
	0x501: "Char",
	0x503: "Int8",
	0x504: "UInt8",
	0x505: "Int16",
	0x506: "UInt16",
	0x507: "Int32",
	0x508: "UInt32",
	0x509: "Int64",
	0x50A: "UInt64",
	0x50B: "Single",
	0x50C: "Double",
	0x50E: "String",
	0x50F: "Bytes",
	0x512: "None",
}

// TypeName returns the name of a value type ID.
func TypeName(id uint32) (string, bool) {
	n, ok := typeNames[id]
	return n, ok
}

func typeText(id uint32) string {
	if n, ok := typeNames[id]; ok {
		return fmt.Sprintf("%s (0x%x)", n, id)
	}
	return fmt.Sprintf("Unknown (0x%x)", id)
}

var eventTypeNames = []string{
	"OBJECT_CREATED",
	"OBJECT_DELETED",
	"VALUE_CHANGED",
	"GENERAL",
	"INITIAL_VALUE",
	"INTERVAL",
	"DURATION_COMPLETE",
}

// EventTypeName returns the name of an event type.
func EventTypeName(t uint32) (string, bool) {
	if int(t) < len(eventTypeNames) {
		return eventTypeNames[t], true
	}
	return "", false
}
