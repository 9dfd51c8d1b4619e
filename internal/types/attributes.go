package types

import (
	"encoding/json"
	"fmt"
	"maps"
	"regexp"
	"time"
)

// Well-known attribute keys.
const (
	AttrBlockReason     = "block_reason"
	AttrLastAutoRetryAt = "last_auto_retry_at"
	AttrEscalatedAt     = "escalated_at"
	AttrDiscoveredFrom  = "discovered_from"
	AttrSessionID       = "session_id"
)

// AttrKind tags the variant held by an Attribute.
type AttrKind string

// Attribute kinds
const (
	AttrString AttrKind = "string"
	AttrInt    AttrKind = "int"
	AttrBool   AttrKind = "bool"
	AttrTime   AttrKind = "time"
)

// Attribute is a tagged value: exactly one of the payload fields is meaningful,
// selected by Kind.
type Attribute struct {
	Kind AttrKind
	s    string
	i    int64
	b    bool
	t    time.Time
}

// String constructs a string attribute.
func String(v string) Attribute { return Attribute{Kind: AttrString, s: v} }

// Int constructs an integer attribute.
func Int(v int64) Attribute { return Attribute{Kind: AttrInt, i: v} }

// Bool constructs a boolean attribute.
func Bool(v bool) Attribute { return Attribute{Kind: AttrBool, b: v} }

// Time constructs a timestamp attribute, normalized to UTC.
func Time(v time.Time) Attribute { return Attribute{Kind: AttrTime, t: v.UTC()} }

// AsString returns the value if the attribute holds a string.
func (a Attribute) AsString() (string, bool) { return a.s, a.Kind == AttrString }

// AsInt returns the value if the attribute holds an integer.
func (a Attribute) AsInt() (int64, bool) { return a.i, a.Kind == AttrInt }

// AsBool returns the value if the attribute holds a boolean.
func (a Attribute) AsBool() (bool, bool) { return a.b, a.Kind == AttrBool }

// AsTime returns the value if the attribute holds a timestamp.
func (a Attribute) AsTime() (time.Time, bool) { return a.t, a.Kind == AttrTime }

// String renders the value for display.
func (a Attribute) String() string {
	switch a.Kind {
	case AttrString:
		return a.s
	case AttrInt:
		return fmt.Sprintf("%d", a.i)
	case AttrBool:
		return fmt.Sprintf("%t", a.b)
	case AttrTime:
		return a.t.Format(time.RFC3339)
	}
	return ""
}

type attrJSON struct {
	Kind  AttrKind        `json:"kind"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON encodes the attribute as {"kind":...,"value":...}.
func (a Attribute) MarshalJSON() ([]byte, error) {
	var (
		raw []byte
		err error
	)
	switch a.Kind {
	case AttrString:
		raw, err = json.Marshal(a.s)
	case AttrInt:
		raw, err = json.Marshal(a.i)
	case AttrBool:
		raw, err = json.Marshal(a.b)
	case AttrTime:
		raw, err = json.Marshal(a.t)
	default:
		return nil, fmt.Errorf("unknown attribute kind %q", a.Kind)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(attrJSON{Kind: a.Kind, Value: raw})
}

// UnmarshalJSON decodes the tagged encoding produced by MarshalJSON.
func (a *Attribute) UnmarshalJSON(data []byte) error {
	var aj attrJSON
	if err := json.Unmarshal(data, &aj); err != nil {
		return err
	}
	out := Attribute{Kind: aj.Kind}
	var err error
	switch aj.Kind {
	case AttrString:
		err = json.Unmarshal(aj.Value, &out.s)
	case AttrInt:
		err = json.Unmarshal(aj.Value, &out.i)
	case AttrBool:
		err = json.Unmarshal(aj.Value, &out.b)
	case AttrTime:
		err = json.Unmarshal(aj.Value, &out.t)
	default:
		return fmt.Errorf("unknown attribute kind %q", aj.Kind)
	}
	if err != nil {
		return fmt.Errorf("attribute %s: %w", aj.Kind, err)
	}
	*a = out
	return nil
}

// Attributes is the typed extension bag carried by every item.
type Attributes map[string]Attribute

// Clone returns a shallow copy; Attribute values are immutable.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	return maps.Clone(a)
}

// Merge returns a new bag where keys in other overwrite keys in a and
// keys absent from other are preserved.
func (a Attributes) Merge(other Attributes) Attributes {
	if len(a) == 0 && len(other) == 0 {
		return nil
	}
	out := make(Attributes, len(a)+len(other))
	maps.Copy(out, a)
	maps.Copy(out, other)
	return out
}

// validAttrKeyRe allows dotted names such as "ci.run_id".
var validAttrKeyRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_.]*$`)

// ValidateAttributeKey checks that key starts with a letter or underscore
// and contains only alphanumerics, underscores and dots.
func ValidateAttributeKey(key string) error {
	if !validAttrKeyRe.MatchString(key) {
		return fmt.Errorf("invalid attribute key %q: must match [a-zA-Z_][a-zA-Z0-9_.]*", key)
	}
	return nil
}

// Get returns the attribute under key.
func (a Attributes) Get(key string) (Attribute, bool) {
	v, ok := a[key]
	return v, ok
}
