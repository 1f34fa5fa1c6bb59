package domain

// Visitor walks the nodes of a query. Renderers implement it; it has one
// method per node and extension kind so the set of kinds is checked at
// compile time.
type Visitor interface {
	VisitID(*IDParam) error
	VisitLastUpdated(*LastUpdatedParam) error
	VisitMissing(*MissingParam) error
	VisitLocation(*LocationParam) error
	VisitString(*StringParam) error
	VisitReference(*ReferenceParam) error
	VisitChained(*ChainedParam) error
	VisitInclusion(*InclusionParam) error
	VisitDate(*DateParam) error
	VisitToken(*TokenParam) error
	VisitTag(*TagParam) error
	VisitSecurity(*SecurityParam) error
	VisitNumber(*NumberParam) error
	VisitQuantity(*QuantityParam) error
	VisitCanonical(*CanonicalParam) error
	VisitComposite(*CompositeParam) error

	VisitResourceTypeIDExtension(*ResourceTypeIDExtension) error
	VisitIncludeExtension(*IncludeExtension) error
	VisitWholeSystemDataExtension(*WholeSystemDataExtension) error
	VisitLocationExtension(*LocationExtension) error
}
