package param

import (
	"fmt"
	"strings"
)

// Type defines the FHIR search parameter type.
type Type int

const (
	TypeString    Type = iota // String: case- and accent-insensitive prefix match
	TypeToken                 // Token: system|code
	TypeReference             // Reference: ResourceType/id, chains, reverse chains
	TypeDate                  // Date: partial dates with prefixes
	TypeNumber                // Number: decimal with implicit precision
	TypeQuantity              // Quantity: number|system|code
	TypeURI                   // URI: exact match, canonical for profiles and urls
	TypeComposite             // Composite: $-separated components
	TypeSpecial               // Special: geolocation (near)
)

var typeNames = map[Type]string{
	TypeString:    "string",
	TypeToken:     "token",
	TypeReference: "reference",
	TypeDate:      "date",
	TypeNumber:    "number",
	TypeQuantity:  "quantity",
	TypeURI:       "uri",
	TypeComposite: "composite",
	TypeSpecial:   "special",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type(%d)", int(t))
}

// ParseType converts a lower-case FHIR search type name to a Type.
func ParseType(name string) (Type, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for t, n := range typeNames {
		if n == name {
			return t, true
		}
	}
	return 0, false
}

// Prefix represents a FHIR search prefix for ordered values.
type Prefix string

const (
	PrefixEq Prefix = "eq"
	PrefixNe Prefix = "ne"
	PrefixGt Prefix = "gt"
	PrefixLt Prefix = "lt"
	PrefixGe Prefix = "ge"
	PrefixLe Prefix = "le"
	PrefixSa Prefix = "sa" // starts after
	PrefixEb Prefix = "eb" // ends before
	PrefixAp Prefix = "ap" // approximately
)

// Prefixed reports whether values of type t may carry a comparison prefix.
func (t Type) Prefixed() bool {
	return t == TypeDate || t == TypeNumber || t == TypeQuantity
}

// SplitPrefix extracts the prefix from a search value.
// Examples: "gt2023-01-01" -> (gt, "2023-01-01"), "100" -> (eq, "100")
func SplitPrefix(raw string) (Prefix, string) {
	if len(raw) >= 2 {
		prefix := Prefix(strings.ToLower(raw[:2]))
		switch prefix {
		case PrefixEq, PrefixNe, PrefixGt, PrefixLt, PrefixGe, PrefixLe, PrefixSa, PrefixEb, PrefixAp:
			return prefix, raw[2:]
		}
	}
	return PrefixEq, raw
}

// Modifier represents a FHIR search modifier.
type Modifier string

const (
	ModifierNone       Modifier = ""
	ModifierMissing    Modifier = "missing"
	ModifierExact      Modifier = "exact"
	ModifierContains   Modifier = "contains"
	ModifierText       Modifier = "text"
	ModifierNot        Modifier = "not"
	ModifierAbove      Modifier = "above"
	ModifierBelow      Modifier = "below"
	ModifierIn         Modifier = "in"
	ModifierNotIn      Modifier = "not-in"
	ModifierOfType     Modifier = "of-type"
	ModifierIdentifier Modifier = "identifier"
	ModifierType       Modifier = "type" // reference narrowed to a resource type, e.g. subject:Patient
	ModifierIterate    Modifier = "iterate"
)

var knownModifiers = map[Modifier]bool{
	ModifierMissing: true, ModifierExact: true, ModifierContains: true, ModifierText: true,
	ModifierNot: true, ModifierAbove: true, ModifierBelow: true, ModifierIn: true,
	ModifierNotIn: true, ModifierOfType: true, ModifierIdentifier: true, ModifierIterate: true,
}

// SplitModifier splits a parameter name from its modifier.
// A modifier starting with an upper-case letter is a resource type and is
// returned as ModifierType together with that type name.
// Examples: "name:exact" -> ("name", exact, ""), "subject:Patient" -> ("subject", type, "Patient")
func SplitModifier(paramName string) (string, Modifier, string, error) {
	parts := strings.SplitN(paramName, ":", 2)
	if len(parts) == 1 {
		return parts[0], ModifierNone, "", nil
	}
	code, raw := parts[0], parts[1]
	if raw == "" {
		return code, ModifierNone, "", fmt.Errorf("empty modifier on %q", code)
	}
	if raw[0] >= 'A' && raw[0] <= 'Z' {
		return code, ModifierType, raw, nil
	}
	mod := Modifier(raw)
	if !knownModifiers[mod] {
		return code, ModifierNone, "", fmt.Errorf("unknown modifier %q on %q", raw, code)
	}
	return code, mod, "", nil
}
