package assembler

// Region classifies a position of the assembled unit.
type Region int

const (
	RegionPrologue Region = iota
	RegionBody
	RegionEpilogue
)

func (r Region) String() string {
	switch r {
	case RegionPrologue:
		return "prologue"
	case RegionBody:
		return "body"
	default:
		return "epilogue"
	}
}

// PositionMap translates assembled-unit lines back to body lines. The body
// always starts at column 1 of its first line, so columns are unchanged.
type PositionMap struct {
	// BodyStartLine is the 1-based unit line holding the first body line.
	BodyStartLine int
	// BodyLines is the number of lines the body occupies.
	BodyLines int
}

// Locate maps a 1-based unit position to its region and, for body
// positions, to 1-based body coordinates.
func (p PositionMap) Locate(line, col int) (Region, int, int) {
	switch {
	case line < p.BodyStartLine:
		return RegionPrologue, line, col
	case line < p.BodyStartLine+p.BodyLines:
		return RegionBody, line - p.BodyStartLine + 1, col
	default:
		return RegionEpilogue, line, col
	}
}

// UnitLine maps a 1-based body line to its unit line.
func (p PositionMap) UnitLine(bodyLine int) int {
	return bodyLine + p.BodyStartLine - 1
}
