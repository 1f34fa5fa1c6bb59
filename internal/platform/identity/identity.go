// Package identity resolves resource type, parameter name and code system
// identities to the numeric ids used by the relational schema.
package identity

import (
	"sort"
	"strconv"

	"github.com/ehr/fhirquery/internal/platform/db"
)

// Unknown is returned for parameter names and code systems that have no
// id. Nothing is indexed under them, so a query using -1 matches no rows.
const Unknown = -1

// Cache is the read-only identity lookup used while compiling queries.
// Implementations must be safe for concurrent use.
type Cache interface {
	// ResourceTypeID fails with a *db.PersistenceError for unknown types.
	ResourceTypeID(name string) (int, error)
	ResourceTypeName(id int) (string, error)
	// ResourceTypeNames returns every known type name, sorted.
	ResourceTypeNames() []string
	ParameterNameID(code string) int
	CodeSystemID(system string) int
}

// WellKnownCodeSystems seed the code system table of a static cache.
var WellKnownCodeSystems = []string{
	"http://loinc.org",
	"http://snomed.info/sct",
	"http://unitsofmeasure.org",
	"http://terminology.hl7.org/CodeSystem/observation-category",
	"http://terminology.hl7.org/CodeSystem/v3-ActCode",
	"http://terminology.hl7.org/CodeSystem/v3-Confidentiality",
	"http://hl7.org/fhir/administrative-gender",
}

// Static is a Cache over fixed tables. It is never mutated after
// construction.
type Static struct {
	typeIDs   map[string]int
	typeNames map[int]string
	paramIDs  map[string]int
	systemIDs map[string]int
}

// NewStatic builds a cache assigning ids 1..n in the order given.
func NewStatic(resourceTypes, parameterNames, codeSystems []string) *Static {
	s := &Static{
		typeIDs:   make(map[string]int, len(resourceTypes)),
		typeNames: make(map[int]string, len(resourceTypes)),
		paramIDs:  make(map[string]int, len(parameterNames)),
		systemIDs: make(map[string]int, len(codeSystems)),
	}
	for i, name := range resourceTypes {
		s.typeIDs[name] = i + 1
		s.typeNames[i+1] = name
	}
	for i, name := range parameterNames {
		s.paramIDs[name] = i + 1
	}
	for i, name := range codeSystems {
		s.systemIDs[name] = i + 1
	}
	return s
}

func (s *Static) ResourceTypeID(name string) (int, error) {
	id, ok := s.typeIDs[name]
	if !ok {
		return 0, db.NotFound("resource type id", name)
	}
	return id, nil
}

func (s *Static) ResourceTypeName(id int) (string, error) {
	name, ok := s.typeNames[id]
	if !ok {
		return "", db.NotFound("resource type name", strconv.Itoa(id))
	}
	return name, nil
}

func (s *Static) ResourceTypeNames() []string {
	names := make([]string, 0, len(s.typeIDs))
	for name := range s.typeIDs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Static) ParameterNameID(code string) int {
	if id, ok := s.paramIDs[code]; ok {
		return id
	}
	return Unknown
}

func (s *Static) CodeSystemID(system string) int {
	if id, ok := s.systemIDs[system]; ok {
		return id
	}
	return Unknown
}
