package param

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestSplitPrefix(t *testing.T) {
	tests := []struct {
		input      string
		wantPrefix Prefix
		wantValue  string
	}{
		{"gt2023-01-01", PrefixGt, "2023-01-01"},
		{"LE100", PrefixLe, "100"},
		{"sa2020", PrefixSa, "2020"},
		{"2023-01-01", PrefixEq, "2023-01-01"},
		{"e", PrefixEq, "e"},
		{"", PrefixEq, ""},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			p, v := SplitPrefix(tt.input)
			if p != tt.wantPrefix || v != tt.wantValue {
				t.Errorf("SplitPrefix(%q) = (%q, %q), want (%q, %q)", tt.input, p, v, tt.wantPrefix, tt.wantValue)
			}
		})
	}
}

func TestSplitModifier(t *testing.T) {
	tests := []struct {
		input   string
		code    string
		mod     Modifier
		rt      string
		wantErr bool
	}{
		{"name", "name", ModifierNone, "", false},
		{"name:exact", "name", ModifierExact, "", false},
		{"code:not-in", "code", ModifierNotIn, "", false},
		{"subject:Patient", "subject", ModifierType, "Patient", false},
		{"gender:missing", "gender", ModifierMissing, "", false},
		{"name:bogus", "", "", "", true},
		{"name:", "", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			code, mod, rt, err := SplitModifier(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if code != tt.code || mod != tt.mod || rt != tt.rt {
				t.Errorf("SplitModifier(%q) = (%q, %q, %q), want (%q, %q, %q)", tt.input, code, mod, rt, tt.code, tt.mod, tt.rt)
			}
		})
	}
}

func TestParseType(t *testing.T) {
	if got, ok := ParseType("Quantity"); !ok || got != TypeQuantity {
		t.Errorf("ParseType(Quantity) = %v, %v", got, ok)
	}
	if _, ok := ParseType("geometry"); ok {
		t.Error("expected unknown type")
	}
	if TypeComposite.String() != "composite" {
		t.Errorf("unexpected name %q", TypeComposite.String())
	}
}

func TestDateBounds(t *testing.T) {
	tests := []struct {
		input     string
		precision DatePrecision
		lower     string
		upper     string
	}{
		{"2020", PrecisionYear, "2020-01-01T00:00:00Z", "2020-12-31T23:59:59.999999999Z"},
		{"2020-02", PrecisionMonth, "2020-02-01T00:00:00Z", "2020-02-29T23:59:59.999999999Z"},
		{"2020-06-15", PrecisionDay, "2020-06-15T00:00:00Z", "2020-06-15T23:59:59.999999999Z"},
		{"2020-06-15T10:30", PrecisionMinute, "2020-06-15T10:30:00Z", "2020-06-15T10:30:59.999999999Z"},
		{"2020-06-15T10:30:05+02:00", PrecisionSecond, "2020-06-15T08:30:05Z", "2020-06-15T08:30:05.999999999Z"},
		{"2020-06-15T10:30:05.250Z", PrecisionFull, "2020-06-15T10:30:05.25Z", "2020-06-15T10:30:05.25Z"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			d, err := ParseDate(tt.input)
			if err != nil {
				t.Fatalf("ParseDate(%q): %v", tt.input, err)
			}
			if d.Precision != tt.precision {
				t.Errorf("precision = %v, want %v", d.Precision, tt.precision)
			}
			if got := d.LowerBound().Format(time.RFC3339Nano); got != tt.lower {
				t.Errorf("lower = %s, want %s", got, tt.lower)
			}
			if got := d.UpperBound().Format(time.RFC3339Nano); got != tt.upper {
				t.Errorf("upper = %s, want %s", got, tt.upper)
			}
			if d.String() != tt.input {
				t.Errorf("String() = %q, want %q", d.String(), tt.input)
			}
		})
	}
}

func TestParseDateInvalid(t *testing.T) {
	for _, input := range []string{"", "20", "2020-13", "yesterday"} {
		if _, err := ParseDate(input); err == nil {
			t.Errorf("expected error for %q", input)
		}
	}
}

func TestParseValue(t *testing.T) {
	t.Run("date with prefix", func(t *testing.T) {
		v, err := ParseValue(TypeDate, "ge2020-01-01")
		if err != nil {
			t.Fatal(err)
		}
		if v.Prefix != PrefixGe || v.Date == nil || v.Date.Precision != PrecisionDay {
			t.Errorf("unexpected value %+v", v)
		}
	})
	t.Run("string keeps prefix-like text", func(t *testing.T) {
		v, err := ParseValue(TypeString, "gerald")
		if err != nil {
			t.Fatal(err)
		}
		if v.Prefix != PrefixEq || v.Text != "gerald" {
			t.Errorf("unexpected value %+v", v)
		}
	})
	t.Run("token", func(t *testing.T) {
		v, _ := ParseValue(TypeToken, "http://loinc.org|1234-5")
		if v.System != "http://loinc.org" || v.Code != "1234-5" {
			t.Errorf("unexpected value %+v", v)
		}
		v, _ = ParseValue(TypeToken, "|abc")
		if !v.HasExplicitNoSystem() || v.Code != "abc" {
			t.Errorf("expected explicit no-system token, got %+v", v)
		}
		v, _ = ParseValue(TypeToken, "abc")
		if v.HasExplicitNoSystem() {
			t.Error("bare code must match any system")
		}
	})
	t.Run("reference", func(t *testing.T) {
		v, _ := ParseValue(TypeReference, "http://example.org/fhir/Patient/123")
		if v.ResourceType != "Patient" || v.ID != "123" {
			t.Errorf("unexpected value %+v", v)
		}
		v, _ = ParseValue(TypeReference, "123")
		if v.ResourceType != "" || v.ID != "123" {
			t.Errorf("unexpected value %+v", v)
		}
	})
	t.Run("quantity", func(t *testing.T) {
		v, err := ParseValue(TypeQuantity, "lt5.4|http://unitsofmeasure.org|mg")
		if err != nil {
			t.Fatal(err)
		}
		if v.Prefix != PrefixLt || !v.Number.Equal(decimal.RequireFromString("5.4")) || v.Code != "mg" {
			t.Errorf("unexpected value %+v", v)
		}
	})
	t.Run("near", func(t *testing.T) {
		v, err := ParseValue(TypeSpecial, "42.25|-83.7|10|mi")
		if err != nil {
			t.Fatal(err)
		}
		if v.Location == nil || v.Location.Unit != "mi" || !v.Location.Distance.Equal(decimal.NewFromInt(10)) {
			t.Errorf("unexpected value %+v", v)
		}
		v, _ = ParseValue(TypeSpecial, "42.25|-83.7")
		if v.Location.Unit != "km" || !v.Location.Distance.Equal(decimal.NewFromInt(5)) {
			t.Errorf("expected default distance, got %+v", v.Location)
		}
	})
	t.Run("invalid number", func(t *testing.T) {
		if _, err := ParseValue(TypeNumber, "gtabc"); err == nil {
			t.Error("expected error")
		}
	})
}

func TestNumberRange(t *testing.T) {
	tests := []struct {
		input, low, high string
	}{
		{"100", "99.5", "100.5"},
		{"100.00", "99.995", "100.005"},
		{"1e2", "50", "150"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			low, high := NumberRange(decimal.RequireFromString(tt.input))
			if !low.Equal(decimal.RequireFromString(tt.low)) || !high.Equal(decimal.RequireFromString(tt.high)) {
				t.Errorf("NumberRange(%s) = [%s, %s], want [%s, %s]", tt.input, low, high, tt.low, tt.high)
			}
		})
	}
}

func TestCloneIsDeep(t *testing.T) {
	orig := QueryParameter{
		Code:   "birthdate",
		Type:   TypeDate,
		Values: []Value{DateOf(PrefixGe, MustParseDate("2020"))},
		Chain: []QueryParameter{{
			Code:   "birthdate",
			Type:   TypeDate,
			Values: []Value{DateOf(PrefixLt, MustParseDate("2021"))},
		}},
	}
	c := orig.Clone()
	c.Values[0].Prefix = PrefixLe
	c.Values[0].Date.Precision = PrecisionDay
	c.Chain[0].Code = "changed"

	if orig.Values[0].Prefix != PrefixGe || orig.Values[0].Date.Precision != PrecisionYear {
		t.Error("clone shares values with the original")
	}
	if orig.Chain[0].Code != "birthdate" {
		t.Error("clone shares its chain with the original")
	}
}

func TestQueryParameterString(t *testing.T) {
	tests := []struct {
		name string
		p    QueryParameter
		want string
	}{
		{
			name: "modifier and values",
			p:    QueryParameter{Code: "name", Modifier: ModifierExact, Values: []Value{StringValue("a"), StringValue("b")}},
			want: "name:exact=a,b",
		},
		{
			name: "reverse chain",
			p: QueryParameter{
				Code:                 "patient",
				ReverseChained:       true,
				ModifierResourceType: "Observation",
				Chain:                []QueryParameter{{Code: "code", Values: []Value{TokenValue("", "1234")}}},
			},
			want: "_has:Observation:patient:code=1234",
		},
		{
			name: "date prefix",
			p:    QueryParameter{Code: "date", Values: []Value{DateOf(PrefixSa, MustParseDate("2020-06"))}},
			want: "date=sa2020-06",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}
