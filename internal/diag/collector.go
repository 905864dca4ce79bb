package diag

import (
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/specialistvlad/modeljit/internal/assembler"
)

// Report is the outcome of collecting one compilation's diagnostics.
type Report struct {
	// Diagnostics are user-facing errors and warnings in body coordinates.
	Diagnostics []Diagnostic
	// Internal holds escalated diagnostics in unit coordinates.
	Internal []Diagnostic
	// Resource holds resource-exhaustion diagnostics.
	Resource []Diagnostic
	// Unit is the assembled translation unit, attached only on request.
	Unit string
}

// HasErrors reports whether any user diagnostic is an error.
func (r Report) HasErrors() bool {
	return len(r.Errors()) > 0
}

// Errors returns the error-severity user diagnostics.
func (r Report) Errors() []Diagnostic {
	return r.filter(Error)
}

// Warnings returns the warning-severity user diagnostics.
func (r Report) Warnings() []Diagnostic {
	return r.filter(Warning)
}

func (r Report) filter(sev Severity) []Diagnostic {
	var out []Diagnostic
	for _, d := range r.Diagnostics {
		if d.Severity == sev {
			out = append(out, d)
		}
	}
	return out
}

// Err converts the report into the error a caller should see, or nil when
// the compilation may produce a handle. Resource failures win over internal
// ones, which win over user errors.
func (r Report) Err() error {
	switch {
	case len(r.Resource) > 0:
		return &ResourceError{Diagnostics: r.Resource}
	case len(r.Internal) > 0:
		return &InternalError{Diagnostics: r.Internal}
	case r.HasErrors():
		return &CompileError{Report: r}
	}
	return nil
}

// Collector remaps backend diagnostics for one translation unit.
type Collector struct {
	unit        *assembler.Unit
	includeUnit bool
}

// NewCollector returns a collector for the given unit. When includeUnit is
// set, reports carry the assembled source for debugging.
func NewCollector(unit *assembler.Unit, includeUnit bool) *Collector {
	return &Collector{unit: unit, includeUnit: includeUnit}
}

// Collect converts raw diagnostics into a Report.
func (c *Collector) Collect(raw hcl.Diagnostics) Report {
	var rep Report
	if c.includeUnit {
		rep.Unit = string(c.unit.Source)
	}

	for _, d := range raw {
		if d == nil {
			continue
		}
		out := Diagnostic{
			Severity: severityOf(d.Severity),
			Summary:  d.Summary,
			Detail:   d.Detail,
		}

		switch ClassOf(d) {
		case ClassResource:
			rep.Resource = append(rep.Resource, withUnitRange(out, d.Subject))
			continue
		case ClassInternal:
			rep.Internal = append(rep.Internal, withUnitRange(out, d.Subject))
			continue
		}

		if d.Subject == nil {
			rep.Diagnostics = append(rep.Diagnostics, out)
			continue
		}

		region, line, col := c.unit.Positions.Locate(d.Subject.Start.Line, d.Subject.Start.Column)
		if region != assembler.RegionBody {
			// Warnings about engine-written lines keep no position and do
			// not block the handle.
			if out.Severity == Warning {
				rep.Diagnostics = append(rep.Diagnostics, out)
				continue
			}
			rep.Internal = append(rep.Internal, withUnitRange(out, d.Subject))
			continue
		}
		out.Line, out.Column = line, col
		if endRegion, endLine, endCol := c.unit.Positions.Locate(d.Subject.End.Line, d.Subject.End.Column); endRegion == assembler.RegionBody {
			out.EndLine, out.EndColumn = endLine, endCol
		} else {
			out.EndLine, out.EndColumn = line, col
		}
		rep.Diagnostics = append(rep.Diagnostics, out)
	}

	sort.SliceStable(rep.Diagnostics, func(i, j int) bool {
		a, b := rep.Diagnostics[i], rep.Diagnostics[j]
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Column < b.Column
	})
	return rep
}

func severityOf(s hcl.DiagnosticSeverity) Severity {
	if s == hcl.DiagWarning {
		return Warning
	}
	return Error
}

func withUnitRange(d Diagnostic, rng *hcl.Range) Diagnostic {
	if rng == nil {
		return d
	}
	d.Line, d.Column = rng.Start.Line, rng.Start.Column
	d.EndLine, d.EndColumn = rng.End.Line, rng.End.Column
	return d
}
