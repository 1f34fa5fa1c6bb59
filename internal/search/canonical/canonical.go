// Package canonical parses FHIR canonical references of the form
// uri|version#fragment.
package canonical

import "strings"

// Value is a parsed canonical reference. An empty Version or Fragment means
// the part was absent.
type Value struct {
	URI      string
	Version  string
	Fragment string
}

// Parse splits raw into uri, version and fragment. It never fails: input
// whose separators are out of order (a leading '|' or '#', or a '|' after
// the '#') is returned whole as an unqualified uri.
func Parse(raw string) Value {
	bar := strings.Index(raw, "|")
	hash := strings.Index(raw, "#")

	if bar == 0 || hash == 0 || (bar > 0 && hash > 0 && bar > hash) {
		return Value{URI: raw}
	}

	v := Value{}
	switch {
	case bar > 0 && hash > 0:
		v.URI = raw[:bar]
		v.Version = raw[bar+1 : hash]
		v.Fragment = raw[hash+1:]
	case bar > 0:
		v.URI = raw[:bar]
		v.Version = raw[bar+1:]
	case hash > 0:
		v.URI = raw[:hash]
		v.Fragment = raw[hash+1:]
	default:
		v.URI = raw
	}
	return v
}

// HasVersion reports whether a version was present.
func (v Value) HasVersion() bool { return v.Version != "" }

// HasFragment reports whether a fragment was present.
func (v Value) HasFragment() bool { return v.Fragment != "" }

func (v Value) String() string {
	s := v.URI
	if v.Version != "" {
		s += "|" + v.Version
	}
	if v.Fragment != "" {
		s += "#" + v.Fragment
	}
	return s
}

// ProfileRecord is the index row written for a canonical-valued parameter
// (_profile and friends) by the extraction pipeline.
type ProfileRecord struct {
	ParameterName     string
	ResourceType      string
	LogicalResourceID int64
	Canonical         Value
	// SystemLevel marks values that are also written to the shared
	// cross-type tables used by whole-system searches.
	SystemLevel bool
}

// NewProfileRecord parses raw and wraps it in an index record.
func NewProfileRecord(parameterName, resourceType string, logicalResourceID int64, raw string, systemLevel bool) ProfileRecord {
	return ProfileRecord{
		ParameterName:     parameterName,
		ResourceType:      resourceType,
		LogicalResourceID: logicalResourceID,
		Canonical:         Parse(raw),
		SystemLevel:       systemLevel,
	}
}
