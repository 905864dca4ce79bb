package assembler

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/specialistvlad/modeljit/internal/manifest"
)

// Filename is the name under which units are parsed and reported.
const Filename = "model.mdl"

// SymbolPrefix prefixes the exported symbol of every entry point.
const SymbolPrefix = manifest.ReservedPrefix + "ep_"

// OptLevel selects the optimisation pragma written into the prologue.
type OptLevel string

const (
	// OptThroughput favours arithmetic throughput: constant folding and
	// operand specialisation.
	OptThroughput OptLevel = "throughput"
	// OptNone compiles the kernels exactly as written.
	OptNone OptLevel = "none"
)

// ParseOptLevel validates a textual optimisation level.
func ParseOptLevel(s string) (OptLevel, error) {
	switch OptLevel(strings.ToLower(s)) {
	case OptThroughput, "":
		return OptThroughput, nil
	case OptNone:
		return OptNone, nil
	}
	return "", fmt.Errorf("invalid optimisation level %q: must be 'throughput' or 'none'", s)
}

// Options is the compiler configuration baked into the prologue.
type Options struct {
	OptLevel OptLevel
}

// Fingerprint is the SHA-256 digest of a translation unit.
type Fingerprint [sha256.Size]byte

// FingerprintOf digests an assembled unit.
func FingerprintOf(src []byte) Fingerprint {
	return sha256.Sum256(src)
}

func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// Short is the 12-character prefix used in log lines.
func (f Fingerprint) Short() string {
	return f.String()[:12]
}

// Export binds one reserved symbol to the kernel of an entry point.
type Export struct {
	Symbol    string
	Name      string
	Signature manifest.Signature
}

// Unit is one assembled translation unit.
type Unit struct {
	Source      []byte
	Fingerprint Fingerprint
	Positions   PositionMap
	Exports     []Export
}

// SymbolFor returns the exported symbol name of an entry point.
func SymbolFor(entryPoint string) string {
	return SymbolPrefix + entryPoint
}

// Assemble builds the translation unit for m. It fails only on contract
// violations; whether the body compiles is the backend's business.
func Assemble(m *manifest.Manifest, opts Options) (*Unit, error) {
	level, err := ParseOptLevel(string(opts.OptLevel))
	if err != nil {
		return nil, err
	}

	eps := m.EntryPoints()
	exports := make([]Export, 0, len(eps))
	for _, ep := range eps {
		if err := manifest.ValidateEntryPoint(ep); err != nil {
			return nil, err
		}
		exports = append(exports, Export{Symbol: SymbolFor(ep.Name), Name: ep.Name, Signature: ep.Signature})
	}

	var b strings.Builder
	prologue := buildPrologue(level)
	b.WriteString(prologue)
	bodyStart := strings.Count(prologue, "\n") + 1

	body := m.Body()
	b.WriteString(body)
	if body != "" && !strings.HasSuffix(body, "\n") {
		b.WriteByte('\n')
	}
	bodyLines := countLines(body)

	b.WriteString("# --- end model body ---\n")
	for _, ex := range exports {
		fmt.Fprintf(&b, "export %s = %s : %s\n", ex.Symbol, ex.Name, ex.Signature)
	}

	src := []byte(b.String())
	return &Unit{
		Source:      src,
		Fingerprint: FingerprintOf(src),
		Positions:   PositionMap{BodyStartLine: bodyStart, BodyLines: bodyLines},
		Exports:     exports,
	}, nil
}

func buildPrologue(level OptLevel) string {
	var b strings.Builder
	b.WriteString("# modeljit translation unit\n")
	b.WriteString("pragma precision float64\n")
	fmt.Fprintf(&b, "pragma optimize %s\n", level)
	b.WriteString("pragma noalias state param out\n")
	fmt.Fprintf(&b, "const pi = %s\n", strconv.FormatFloat(math.Pi, 'g', -1, 64))
	fmt.Fprintf(&b, "const e = %s\n", strconv.FormatFloat(math.E, 'g', -1, 64))
	b.WriteString("# --- model body ---\n")
	return b.String()
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}
