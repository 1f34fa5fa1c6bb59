package render

import (
	"github.com/lib/pq"

	"github.com/ehr/fhirquery/internal/search"
	"github.com/ehr/fhirquery/internal/search/param"
)

// Per-type table suffixes. The table of type Patient holding string values
// is "Patient_str_values".
const (
	tableLogicalResources = "logical_resources"
	tableStrValues        = "str_values"
	tableDateValues       = "date_values"
	tableNumberValues     = "number_values"
	tableQuantityValues   = "quantity_values"
	tableLatLngValues     = "latlng_values"
	tableTokenRefs        = "resource_token_refs"
	tableRefValues        = "ref_values"
	tableProfiles         = "profiles"
	tableTags             = "tags"
	tableSecurity         = "security"
	tableComposites       = "composites"
)

// Cross-type tables, used by whole-system filter queries.
const (
	globalLogicalResources = "logical_resources"
	globalProfiles         = "logical_resource_profiles"
	globalTags             = "logical_resource_tags"
	globalSecurity         = "logical_resource_security"
	commonTokenValues      = "common_token_values"
	commonCanonicalValues  = "common_canonical_values"
)

// table returns the quoted name of the per-type table with suffix. For the
// whole-system type the shared table is returned where one exists.
func table(resourceType, suffix string) string {
	if resourceType == search.ResourceTypeAny {
		switch suffix {
		case tableLogicalResources:
			return globalLogicalResources
		case tableProfiles:
			return globalProfiles
		case tableTags:
			return globalTags
		case tableSecurity:
			return globalSecurity
		}
	}
	return pq.QuoteIdentifier(resourceType + "_" + suffix)
}

// valueTable is where the values of p are indexed. The second result is
// false for the dedicated tag, security and profile tables, which are not
// keyed by parameter name.
func (r *Renderer) valueTable(p param.QueryParameter) (string, bool) {
	if !r.legacy {
		switch p.Code {
		case param.CodeTag:
			return tableTags, false
		case param.CodeSecurity:
			return tableSecurity, false
		case param.CodeProfile:
			return tableProfiles, false
		}
	}
	switch p.Type {
	case param.TypeToken:
		return tableTokenRefs, true
	case param.TypeDate:
		return tableDateValues, true
	case param.TypeNumber:
		return tableNumberValues, true
	case param.TypeQuantity:
		return tableQuantityValues, true
	case param.TypeReference:
		return tableRefValues, true
	case param.TypeSpecial:
		return tableLatLngValues, true
	case param.TypeComposite:
		return tableComposites, true
	default:
		return tableStrValues, true
	}
}
