package param

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Value is one entry of a search parameter's value list. Which payload
// fields are populated depends on the parameter's Type.
type Value struct {
	Prefix Prefix

	// Text carries string and uri values, and the raw text of values
	// that have no structured payload.
	Text string

	// Token and quantity unit.
	System string
	Code   string

	Date     *DateValue
	Number   *decimal.Decimal
	Location *Location

	// Reference target. ResourceType may be empty for a bare id.
	ResourceType string
	ID           string

	// Component holds one parameter per composite component, in order.
	Component []QueryParameter
}

// Location is the payload of a geolocation (near) value.
type Location struct {
	Latitude  decimal.Decimal
	Longitude decimal.Decimal
	Distance  decimal.Decimal
	Unit      string
}

// StringValue returns a value carrying plain text.
func StringValue(s string) Value {
	return Value{Prefix: PrefixEq, Text: s}
}

// TokenValue returns a token value. An empty system matches any system.
func TokenValue(system, code string) Value {
	return Value{Prefix: PrefixEq, System: system, Code: code}
}

// DateOf returns a date value with the given prefix.
func DateOf(prefix Prefix, d DateValue) Value {
	return Value{Prefix: prefix, Date: &d}
}

// NumberOf returns a number value with the given prefix.
func NumberOf(prefix Prefix, n decimal.Decimal) Value {
	return Value{Prefix: prefix, Number: &n}
}

// ReferenceValue returns a reference value.
func ReferenceValue(resourceType, id string) Value {
	return Value{Prefix: PrefixEq, ResourceType: resourceType, ID: id}
}

// NumberRange returns the implicit precision range of n: the value
// "100" covers [99.5, 100.5) and "100.00" covers [99.995, 100.005).
func NumberRange(n decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	delta := decimal.New(5, n.Exponent()-1)
	return n.Sub(delta), n.Add(delta)
}

// ParseValue parses one raw value for a parameter of type t.
func ParseValue(t Type, raw string) (Value, error) {
	prefix := PrefixEq
	if t.Prefixed() {
		prefix, raw = SplitPrefix(raw)
	}
	switch t {
	case TypeDate:
		d, err := ParseDate(raw)
		if err != nil {
			return Value{}, err
		}
		return DateOf(prefix, d), nil
	case TypeNumber:
		n, err := decimal.NewFromString(raw)
		if err != nil {
			return Value{}, fmt.Errorf("invalid number %q: %w", raw, err)
		}
		return NumberOf(prefix, n), nil
	case TypeQuantity:
		return parseQuantity(prefix, raw)
	case TypeToken:
		return parseToken(raw), nil
	case TypeReference:
		return parseReference(raw), nil
	case TypeSpecial:
		return parseLocation(raw)
	default:
		return Value{Prefix: prefix, Text: raw}, nil
	}
}

// parseToken handles "system|code", "|code", "system|", or just "code".
func parseToken(raw string) Value {
	if i := strings.Index(raw, "|"); i >= 0 {
		v := TokenValue(raw[:i], raw[i+1:])
		if v.System == "" {
			// "|code" explicitly asks for codes without a system.
			v.Text = "|"
		}
		return v
	}
	return Value{Prefix: PrefixEq, Code: raw}
}

// HasExplicitNoSystem reports whether a token value was written as "|code".
func (v Value) HasExplicitNoSystem() bool {
	return v.System == "" && v.Text == "|"
}

// parseReference handles "ResourceType/id", absolute URLs ending in
// ResourceType/id, and bare ids.
func parseReference(raw string) Value {
	parts := strings.Split(strings.TrimSuffix(raw, "/"), "/")
	if len(parts) >= 2 {
		rt, id := parts[len(parts)-2], parts[len(parts)-1]
		if rt != "" && rt[0] >= 'A' && rt[0] <= 'Z' {
			v := ReferenceValue(rt, id)
			v.Text = raw
			return v
		}
	}
	v := ReferenceValue("", raw)
	v.Text = raw
	return v
}

// parseQuantity handles "number|system|code" and "number".
func parseQuantity(prefix Prefix, raw string) (Value, error) {
	parts := strings.SplitN(raw, "|", 3)
	n, err := decimal.NewFromString(parts[0])
	if err != nil {
		return Value{}, fmt.Errorf("invalid quantity %q: %w", raw, err)
	}
	v := NumberOf(prefix, n)
	if len(parts) == 3 {
		v.System = parts[1]
		v.Code = parts[2]
	} else if len(parts) == 2 {
		v.Code = parts[1]
	}
	return v, nil
}

// parseLocation handles "latitude|longitude|distance|unit"; distance
// defaults to 5 km.
func parseLocation(raw string) (Value, error) {
	parts := strings.Split(raw, "|")
	if len(parts) < 2 {
		return Value{}, fmt.Errorf("invalid near value %q: expected latitude|longitude", raw)
	}
	loc := &Location{Distance: decimal.NewFromInt(5), Unit: "km"}
	var err error
	if loc.Latitude, err = decimal.NewFromString(parts[0]); err != nil {
		return Value{}, fmt.Errorf("invalid latitude %q: %w", parts[0], err)
	}
	if loc.Longitude, err = decimal.NewFromString(parts[1]); err != nil {
		return Value{}, fmt.Errorf("invalid longitude %q: %w", parts[1], err)
	}
	if len(parts) >= 3 && parts[2] != "" {
		if loc.Distance, err = decimal.NewFromString(parts[2]); err != nil {
			return Value{}, fmt.Errorf("invalid distance %q: %w", parts[2], err)
		}
	}
	if len(parts) >= 4 && parts[3] != "" {
		loc.Unit = parts[3]
	}
	return Value{Prefix: PrefixEq, Location: loc, Text: raw}, nil
}

func (v Value) String() string {
	var b strings.Builder
	if v.Prefix != "" && v.Prefix != PrefixEq {
		b.WriteString(string(v.Prefix))
	}
	switch {
	case v.Date != nil:
		b.WriteString(v.Date.String())
	case v.Number != nil:
		b.WriteString(v.Number.String())
		if v.Code != "" || v.System != "" {
			b.WriteString("|" + v.System + "|" + v.Code)
		}
	case v.Location != nil:
		b.WriteString(v.Text)
	case len(v.Component) > 0:
		parts := make([]string, len(v.Component))
		for i, c := range v.Component {
			if len(c.Values) > 0 {
				parts[i] = c.Values[0].String()
			}
		}
		b.WriteString(strings.Join(parts, "$"))
	case v.ID != "":
		if v.ResourceType != "" {
			b.WriteString(v.ResourceType + "/")
		}
		b.WriteString(v.ID)
	case v.Code != "" || v.System != "":
		if v.System != "" || v.HasExplicitNoSystem() {
			b.WriteString(v.System + "|")
		}
		b.WriteString(v.Code)
	default:
		b.WriteString(v.Text)
	}
	return b.String()
}
