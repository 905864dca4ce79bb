package jit

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/specialistvlad/modeljit/internal/assembler"
	"github.com/specialistvlad/modeljit/internal/manifest"
)

// statement is one parsed `target = value` assignment.
type statement struct {
	target hclsyntax.Expression
	value  hclsyntax.Expression
	rng    hcl.Range
}

// kernelDecl is a `func` block, or the anonymous kernel when name is empty.
type kernelDecl struct {
	name      string
	nameRange hcl.Range
	stmts     []statement
}

type constDecl struct {
	name      string
	nameRange hcl.Range
	value     hclsyntax.Expression
}

type exportDecl struct {
	symbol    string
	target    string
	signature manifest.Signature
	rng       hcl.Range
}

type pragmaDecl struct {
	name string
	args []string
	rng  hcl.Range
}

// program is the parsed form of a whole unit.
type program struct {
	pragmas []pragmaDecl
	consts  []constDecl
	kernels map[string]*kernelDecl
	order   []*kernelDecl
	anon    *kernelDecl
	exports []exportDecl
}

// item is a run of tokens between statement separators. A boundary item
// marks the end of the model body.
type item struct {
	toks     hclsyntax.Tokens
	boundary bool
}

func (it item) rng() hcl.Range {
	return hcl.RangeBetween(it.toks[0].Range, it.toks[len(it.toks)-1].Range)
}

type parser struct {
	src   []byte
	prog  *program
	diags hcl.Diagnostics

	// body is the byte span of the model body; bodyEnd is the position
	// just past its last character, newline excluded.
	body    struct{ from, to int }
	bodyEnd hcl.Pos
}

// parseUnit lexes and parses a translation unit. Tabs are replaced with
// spaces first: both are one column wide, and HCL rejects tabs.
//
// The prologue, the body and the epilogue are lexed separately, so a
// comment, string or heredoc left open in the body ends with the body.
func parseUnit(unit []byte, pos assembler.PositionMap) (*program, hcl.Diagnostics) {
	src := bytes.ReplaceAll(unit, []byte{'\t'}, []byte{' '})
	epilogueLine := pos.BodyStartLine + pos.BodyLines

	p := &parser{
		src: src,
		prog: &program{
			kernels: make(map[string]*kernelDecl),
			anon:    &kernelDecl{},
		},
	}
	p.body.from = lineOffset(src, pos.BodyStartLine)
	p.body.to = lineOffset(src, epilogueLine)
	p.bodyEnd = endOfBody(src, p.body.from, p.body.to, epilogueLine-1)

	segments := []struct{ from, to, line int }{
		{0, p.body.from, 1},
		{p.body.from, p.body.to, pos.BodyStartLine},
		{p.body.to, len(src), epilogueLine},
	}
	var tokens hclsyntax.Tokens
	for i, seg := range segments {
		start := hcl.Pos{Line: seg.line, Column: 1, Byte: seg.from}
		toks, lexDiags := hclsyntax.LexConfig(src[seg.from:seg.to], assembler.Filename, start)
		lexDiags = dropSeparatorDiags(lexDiags, toks)
		if i == 1 {
			lexDiags = p.clampToBody(lexDiags)
		}
		p.diags = append(p.diags, lexDiags...)
		if i < len(segments)-1 {
			toks = toks[:len(toks)-1] // EOF
		}
		tokens = append(tokens, toks...)
	}

	p.parseItems(splitItems(tokens, epilogueLine))
	return p.prog, p.diags
}

// lineOffset returns the byte offset at which the 1-based line starts, or
// len(src) when src has fewer lines.
func lineOffset(src []byte, line int) int {
	off := 0
	for l := 1; l < line; l++ {
		i := bytes.IndexByte(src[off:], '\n')
		if i < 0 {
			return len(src)
		}
		off += i + 1
	}
	return off
}

// endOfBody is the position after the last character of the body's last
// line. An empty body ends where it starts.
func endOfBody(src []byte, from, to, lastLine int) hcl.Pos {
	if to <= from {
		return hcl.Pos{Line: lastLine + 1, Column: 1, Byte: from}
	}
	end := to
	for end > from && (src[end-1] == '\n' || src[end-1] == '\r') {
		end--
	}
	lineStart := bytes.LastIndexByte(src[from:end], '\n') + from + 1
	return hcl.Pos{
		Line:   lastLine,
		Column: utf8.RuneCount(src[lineStart:end]) + 1,
		Byte:   end,
	}
}

// clampToBody moves diagnostic ranges that run past the end of the body
// back onto its last line. Constructs left open at the end of the body are
// reported there instead of in the engine-written epilogue.
func (p *parser) clampToBody(diags hcl.Diagnostics) hcl.Diagnostics {
	clamp := func(rng *hcl.Range) *hcl.Range {
		if rng == nil || rng.End.Byte <= p.bodyEnd.Byte {
			return rng
		}
		r := *rng
		r.End = p.bodyEnd
		if r.Start.Byte > p.bodyEnd.Byte {
			r.Start = p.bodyEnd
		}
		return &r
	}
	for _, d := range diags {
		d.Subject = clamp(d.Subject)
		d.Context = clamp(d.Context)
	}
	return diags
}

func (p *parser) inBody(pos hcl.Pos) bool {
	return pos.Byte >= p.body.from && pos.Byte < p.body.to
}

// dropSeparatorDiags removes the lexer's complaints about ';', which is a
// statement separator in kernel bodies.
func dropSeparatorDiags(diags hcl.Diagnostics, tokens hclsyntax.Tokens) hcl.Diagnostics {
	semis := make(map[hcl.Pos]struct{})
	for _, tok := range tokens {
		if tok.Type == hclsyntax.TokenSemicolon {
			semis[tok.Range.Start] = struct{}{}
		}
	}
	var out hcl.Diagnostics
	for _, d := range diags {
		if d.Subject != nil {
			if _, ok := semis[d.Subject.Start]; ok {
				continue
			}
		}
		out = append(out, d)
	}
	return out
}

// continuation tokens keep a statement open across a newline.
var continuation = map[hclsyntax.TokenType]struct{}{
	hclsyntax.TokenPlus: {}, hclsyntax.TokenMinus: {}, hclsyntax.TokenStar: {},
	hclsyntax.TokenSlash: {}, hclsyntax.TokenPercent: {}, hclsyntax.TokenEqual: {},
	hclsyntax.TokenEqualOp: {}, hclsyntax.TokenNotEqual: {}, hclsyntax.TokenLessThan: {},
	hclsyntax.TokenLessThanEq: {}, hclsyntax.TokenGreaterThan: {}, hclsyntax.TokenGreaterThanEq: {},
	hclsyntax.TokenAnd: {}, hclsyntax.TokenOr: {}, hclsyntax.TokenBang: {},
	hclsyntax.TokenQuestion: {}, hclsyntax.TokenColon: {}, hclsyntax.TokenComma: {},
}

func continues(cur hclsyntax.Tokens) bool {
	if len(cur) == 0 {
		return false
	}
	_, ok := continuation[cur[len(cur)-1].Type]
	return ok
}

func isLineComment(tok hclsyntax.Token) bool {
	return bytes.HasPrefix(tok.Bytes, []byte("#")) || bytes.HasPrefix(tok.Bytes, []byte("//"))
}

// splitItems cuts the token stream into statements. Braces at bracket depth
// zero are structural and become single-token items. Nothing left open in
// the body carries over into the lines from epilogueLine on.
func splitItems(tokens hclsyntax.Tokens, epilogueLine int) []item {
	var (
		items   []item
		cur     hclsyntax.Tokens
		depth   int
		crossed bool
	)
	flush := func() {
		if len(cur) > 0 {
			items = append(items, item{toks: cur})
			cur = nil
		}
	}

	for _, tok := range tokens {
		if !crossed && tok.Range.Start.Line >= epilogueLine {
			flush()
			items = append(items, item{boundary: true})
			depth, crossed = 0, true
		}
		switch tok.Type {
		case hclsyntax.TokenEOF:
			flush()
			return items
		case hclsyntax.TokenComment:
			if isLineComment(tok) && depth == 0 && !continues(cur) {
				flush()
			}
			continue
		case hclsyntax.TokenNewline:
			if depth == 0 && !continues(cur) {
				flush()
			}
			continue
		case hclsyntax.TokenSemicolon:
			if depth == 0 {
				flush()
				continue
			}
		case hclsyntax.TokenOBrace, hclsyntax.TokenCBrace:
			if depth == 0 {
				flush()
				items = append(items, item{toks: hclsyntax.Tokens{tok}})
				continue
			}
		case hclsyntax.TokenOParen, hclsyntax.TokenOBrack:
			depth++
		case hclsyntax.TokenCParen, hclsyntax.TokenCBrack:
			if depth > 0 {
				depth--
			}
		}
		cur = append(cur, tok)
	}
	flush()
	return items
}

func isWord(tok hclsyntax.Token, word string) bool {
	return tok.Type == hclsyntax.TokenIdent && string(tok.Bytes) == word
}

func (p *parser) errorf(rng hcl.Range, summary, detail string, args ...any) {
	r := rng
	p.diags = append(p.diags, &hcl.Diagnostic{
		Severity: hcl.DiagError,
		Summary:  summary,
		Detail:   fmt.Sprintf(detail, args...),
		Subject:  &r,
	})
}

func (p *parser) parseItems(items []item) {
	var (
		open    *kernelDecl
		openAt  hcl.Range
		pending *kernelDecl
	)

	for _, it := range items {
		if it.boundary {
			if pending != nil {
				p.errorf(pending.nameRange, "Missing kernel body", "Kernel %q must be followed by a { ... } block.", pending.name)
			}
			if open != nil {
				p.errorf(openAt, "Unclosed kernel block", "Kernel %q is missing its closing brace.", open.name)
			}
			open, pending = nil, nil
			continue
		}
		first := it.toks[0]

		if pending != nil {
			if first.Type == hclsyntax.TokenOBrace {
				open, openAt, pending = pending, first.Range, nil
				continue
			}
			p.errorf(pending.nameRange, "Missing kernel body", "Kernel %q must be followed by a { ... } block.", pending.name)
			pending = nil
		}

		switch {
		case first.Type == hclsyntax.TokenCBrace:
			if open == nil {
				p.errorf(first.Range, "Unexpected closing brace", "There is no open kernel block to close.")
				continue
			}
			open = nil
		case first.Type == hclsyntax.TokenOBrace:
			p.errorf(first.Range, "Unexpected opening brace", "Blocks are only allowed after a func header.")
		case isWord(first, "func"):
			if open != nil {
				p.errorf(first.Range, "Nested kernel definition", "Kernel %q is still open; func blocks cannot be nested.", open.name)
				continue
			}
			pending = p.parseFuncHeader(it)
		case isWord(first, "const"), isWord(first, "pragma"), isWord(first, "export"):
			if open != nil {
				p.errorf(first.Range, "Declaration inside kernel", "%q declarations are only allowed at top level.", string(first.Bytes))
				continue
			}
			switch string(first.Bytes) {
			case "const":
				p.parseConst(it)
			case "pragma":
				p.parsePragma(it)
			default:
				p.parseExport(it)
			}
		default:
			st, ok := p.parseStatement(it)
			if !ok {
				continue
			}
			target := open
			if target == nil {
				target = p.prog.anon
			}
			target.stmts = append(target.stmts, st)
		}
	}

	if pending != nil {
		p.errorf(pending.nameRange, "Missing kernel body", "Kernel %q must be followed by a { ... } block.", pending.name)
	}
	if open != nil {
		p.errorf(openAt, "Unclosed kernel block", "Kernel %q is missing its closing brace.", open.name)
	}
}

func (p *parser) parseFuncHeader(it item) *kernelDecl {
	toks := it.toks
	if len(toks) == 4 && toks[2].Type == hclsyntax.TokenOParen && toks[3].Type == hclsyntax.TokenCParen {
		toks = toks[:2]
	}
	// Rejected headers still return an unregistered decl so that the block
	// that follows is consumed instead of cascading into brace errors.
	if len(toks) != 2 || toks[1].Type != hclsyntax.TokenIdent {
		p.errorf(it.rng(), "Invalid kernel header", "Expected `func NAME {`.")
		return &kernelDecl{nameRange: it.rng()}
	}
	name := string(toks[1].Bytes)
	if !manifest.IsIdentifier(name) || reservedName(name) {
		p.errorf(toks[1].Range, "Invalid kernel name", "%q cannot be used as a kernel name.", name)
		return &kernelDecl{name: name, nameRange: toks[1].Range}
	}
	if _, dup := p.prog.kernels[name]; dup {
		p.errorf(toks[1].Range, "Duplicate kernel", "Kernel %q is already defined.", name)
		return &kernelDecl{name: name, nameRange: toks[1].Range}
	}
	k := &kernelDecl{name: name, nameRange: toks[1].Range}
	p.prog.kernels[name] = k
	p.prog.order = append(p.prog.order, k)
	return k
}

func (p *parser) parseConst(it item) {
	toks := it.toks
	if len(toks) < 4 || toks[1].Type != hclsyntax.TokenIdent || toks[2].Type != hclsyntax.TokenEqual {
		p.errorf(it.rng(), "Invalid constant declaration", "Expected `const NAME = expression`.")
		return
	}
	value, ok := p.parseExpr(toks[3:])
	if !ok {
		return
	}
	p.prog.consts = append(p.prog.consts, constDecl{
		name:      string(toks[1].Bytes),
		nameRange: toks[1].Range,
		value:     value,
	})
}

func (p *parser) parsePragma(it item) {
	toks := it.toks
	if len(toks) < 2 || toks[1].Type != hclsyntax.TokenIdent {
		p.errorf(it.rng(), "Invalid pragma", "Expected `pragma NAME [ARGS...]`.")
		return
	}
	decl := pragmaDecl{name: string(toks[1].Bytes), rng: it.rng()}
	for _, tok := range toks[2:] {
		decl.args = append(decl.args, string(tok.Bytes))
	}
	p.prog.pragmas = append(p.prog.pragmas, decl)
}

func (p *parser) parseExport(it item) {
	toks := it.toks
	if len(toks) != 6 ||
		toks[1].Type != hclsyntax.TokenIdent ||
		toks[2].Type != hclsyntax.TokenEqual ||
		toks[3].Type != hclsyntax.TokenIdent ||
		toks[4].Type != hclsyntax.TokenColon ||
		toks[5].Type != hclsyntax.TokenIdent {
		p.errorf(it.rng(), "Invalid export", "Expected `export SYMBOL = KERNEL : SIGNATURE`.")
		return
	}
	sig, err := manifest.ParseSignature(string(toks[5].Bytes))
	if err != nil {
		p.errorf(toks[5].Range, "Invalid export signature", "%s", err)
		return
	}
	p.prog.exports = append(p.prog.exports, exportDecl{
		symbol:    string(toks[1].Bytes),
		target:    string(toks[3].Bytes),
		signature: sig,
		rng:       it.rng(),
	})
}

func (p *parser) parseStatement(it item) (statement, bool) {
	eq := -1
	depth := 0
	for i, tok := range it.toks {
		switch tok.Type {
		case hclsyntax.TokenOParen, hclsyntax.TokenOBrack:
			depth++
		case hclsyntax.TokenCParen, hclsyntax.TokenCBrack:
			depth--
		case hclsyntax.TokenEqual:
			if depth == 0 && eq < 0 {
				eq = i
			}
		}
	}
	if eq < 0 {
		p.errorf(it.rng(), "Invalid statement", "Expected an assignment of the form `target = expression`.")
		return statement{}, false
	}
	if eq == 0 {
		p.errorf(it.toks[0].Range, "Missing assignment target", "An assignment needs a target before '='.")
		return statement{}, false
	}
	if eq == len(it.toks)-1 {
		p.errorf(it.toks[eq].Range, "Missing expression", "An assignment needs an expression after '='.")
		return statement{}, false
	}

	target, okT := p.parseExpr(it.toks[:eq])
	value, okV := p.parseExpr(it.toks[eq+1:])
	if !okT || !okV {
		return statement{}, false
	}
	return statement{target: target, value: value, rng: it.rng()}, true
}

// parseExpr parses a token run as one HCL expression, keeping unit
// coordinates by starting the sub-parse at the first token's position.
func (p *parser) parseExpr(toks hclsyntax.Tokens) (hclsyntax.Expression, bool) {
	start := toks[0].Range.Start
	end := toks[len(toks)-1].Range.End
	expr, diags := hclsyntax.ParseExpression(p.src[start.Byte:end.Byte], assembler.Filename, start)
	if p.inBody(start) {
		diags = p.clampToBody(diags)
	}
	p.diags = append(p.diags, diags...)
	return expr, !diags.HasErrors()
}

// reservedName reports names that no declaration in a kernel body may take.
func reservedName(name string) bool {
	return manifest.IsReserved(name)
}
