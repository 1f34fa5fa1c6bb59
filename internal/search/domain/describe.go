package domain

import (
	"fmt"
	"strings"
)

// Describe renders q as indented text, one node per line. The output is
// deterministic and is used by tests and the explain API.
func Describe(q *Query) string {
	var b strings.Builder
	describeQuery(&b, q, "")
	return b.String()
}

func describeQuery(b *strings.Builder, q *Query, indent string) {
	fmt.Fprintf(b, "%s%s %s", indent, q.Kind, q.ResourceType)
	if q.Counting {
		b.WriteString(" (count)")
	}
	b.WriteString("\n")
	d := &describer{b: b, indent: indent + "  "}
	// describer never fails.
	_ = q.Walk(d)
	for _, s := range q.Sort {
		dir := "asc"
		if s.Descending {
			dir = "desc"
		}
		fmt.Fprintf(b, "%s  sort %s %s\n", indent, s.Code, dir)
	}
	for _, sub := range q.SubQueries {
		describeQuery(b, sub, indent+"  ")
	}
}

type describer struct {
	b      *strings.Builder
	indent string
}

func (d *describer) line(kind string, base *Base, detail string) error {
	fmt.Fprintf(d.b, "%s%s %s", d.indent, kind, base.Parameter.String())
	if detail != "" {
		d.b.WriteString(" " + detail)
	}
	d.b.WriteString("\n")
	return nil
}

func (d *describer) VisitID(p *IDParam) error { return d.line("id", &p.Base, "") }
func (d *describer) VisitLastUpdated(p *LastUpdatedParam) error {
	return d.line("lastUpdated", &p.Base, "")
}
func (d *describer) VisitMissing(p *MissingParam) error {
	return d.line("missing", &p.Base, fmt.Sprintf("missing=%t", p.Missing))
}
func (d *describer) VisitLocation(p *LocationParam) error {
	return d.line("location", &p.Base, fmt.Sprintf("areas=%d", len(p.Areas)))
}
func (d *describer) VisitString(p *StringParam) error       { return d.line("string", &p.Base, "") }
func (d *describer) VisitReference(p *ReferenceParam) error { return d.line("reference", &p.Base, "") }

func (d *describer) VisitChained(p *ChainedParam) error {
	hops := make([]string, len(p.Hops))
	for i, h := range p.Hops {
		arrow := "->"
		if h.Reverse {
			arrow = "<-"
		}
		hops[i] = fmt.Sprintf("%s %s %s %s", h.SourceType, h.Code, arrow, h.TargetType)
	}
	if err := d.line("chained", &p.Base, "["+strings.Join(hops, "; ")+"]"); err != nil {
		return err
	}
	inner := &describer{b: d.b, indent: d.indent + "  "}
	return p.Target.Accept(inner)
}

func (d *describer) VisitInclusion(p *InclusionParam) error {
	return d.line("inclusion", &p.Base, "codes="+strings.Join(p.Codes, ","))
}

func (d *describer) VisitDate(p *DateParam) error {
	bounds := make([]string, len(p.Bounds))
	for i, bd := range p.Bounds {
		bounds[i] = string(bd.Prefix) + bd.Value.String()
	}
	sep := " OR "
	if p.Consolidated {
		sep = " AND "
	}
	fmt.Fprintf(d.b, "%sdate %s [%s]\n", d.indent, p.Code, strings.Join(bounds, sep))
	return nil
}

func (d *describer) VisitToken(p *TokenParam) error       { return d.line("token", &p.Base, "") }
func (d *describer) VisitTag(p *TagParam) error           { return d.line("tag", &p.Base, "") }
func (d *describer) VisitSecurity(p *SecurityParam) error { return d.line("security", &p.Base, "") }
func (d *describer) VisitNumber(p *NumberParam) error     { return d.line("number", &p.Base, "") }
func (d *describer) VisitQuantity(p *QuantityParam) error { return d.line("quantity", &p.Base, "") }

func (d *describer) VisitCanonical(p *CanonicalParam) error {
	vals := make([]string, len(p.Values))
	for i, v := range p.Values {
		vals[i] = v.String()
	}
	return d.line("canonical", &p.Base, "["+strings.Join(vals, ",")+"]")
}

func (d *describer) VisitComposite(p *CompositeParam) error {
	if err := d.line("composite", &p.Base, ""); err != nil {
		return err
	}
	inner := &describer{b: d.b, indent: d.indent + "  "}
	for _, comps := range p.Components {
		for _, c := range comps {
			if err := c.Accept(inner); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *describer) VisitResourceTypeIDExtension(e *ResourceTypeIDExtension) error {
	fmt.Fprintf(d.b, "%sresource-types %v\n", d.indent, e.ResourceTypeIDs)
	return nil
}

func (d *describer) VisitIncludeExtension(e *IncludeExtension) error {
	in := e.Inclusion
	fmt.Fprintf(d.b, "%s%s %s:%s", d.indent, in.Kind, in.JoinResourceType, in.SearchParameter)
	if in.SearchParameterTargetType != "" {
		d.b.WriteString(":" + in.SearchParameterTargetType)
	}
	fmt.Fprintf(d.b, " ids=%v\n", e.LogicalResourceIDs)
	return nil
}

func (d *describer) VisitWholeSystemDataExtension(e *WholeSystemDataExtension) error {
	fmt.Fprintf(d.b, "%swhole-system-data %s ids=%v\n", d.indent, e.ResourceType, e.LogicalResourceIDs)
	return nil
}

func (d *describer) VisitLocationExtension(e *LocationExtension) error {
	fmt.Fprintf(d.b, "%slocation-extension areas=%d\n", d.indent, len(e.Areas))
	return nil
}
