package manifestfile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/specialistvlad/modeljit/internal/ctxlog"
	"github.com/specialistvlad/modeljit/internal/diag"
	"github.com/specialistvlad/modeljit/internal/manifest"
	"github.com/zclconf/go-cty/cty"
)

// fileRoot is the schema of a manifest file.
type fileRoot struct {
	Body        hcl.Expression     `hcl:"body,optional"`
	BodyFile    *string            `hcl:"body_file,optional"`
	EntryPoints []*entryPointBlock `hcl:"entry_point,block"`
}

type entryPointBlock struct {
	Name      string    `hcl:"name,label"`
	Signature string    `hcl:"signature"`
	DefRange  hcl.Range `hcl:",def_range"`
}

// File is a loaded manifest plus the location of its body.
type File struct {
	// Path is the manifest file.
	Path string
	// BodyPath is the file holding the body: Path itself for inline bodies.
	BodyPath string
	Manifest *manifest.Manifest

	// bodyLine and bodyCol locate body line 1, column 1 in BodyPath.
	bodyLine int
	bodyCol  int
}

// Load reads and decodes the manifest file at path.
func Load(ctx context.Context, path string) (*File, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}
	return Parse(ctx, src, path)
}

// Parse decodes a manifest from src. A relative body_file is resolved
// against the directory of filename.
func Parse(ctx context.Context, src []byte, filename string) (*File, error) {
	logger := ctxlog.FromContext(ctx)

	hclFile, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", filename, diags)
	}

	var root fileRoot
	if diags := gohcl.DecodeBody(hclFile.Body, nil, &root); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode manifest %s: %w", filename, diags)
	}

	f := &File{Path: filename}
	body, err := f.readBody(src, &root)
	if err != nil {
		return nil, err
	}

	eps := make([]manifest.EntryPoint, 0, len(root.EntryPoints))
	for _, block := range root.EntryPoints {
		sig, err := manifest.ParseSignature(block.Signature)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", block.DefRange, err)
		}
		eps = append(eps, manifest.EntryPoint{Name: block.Name, Signature: sig})
	}

	m, err := manifest.New(body, eps...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	f.Manifest = m

	logger.Debug("Loaded manifest.", "path", filename, "body_path", f.BodyPath, "entry_points", len(eps))
	return f, nil
}

func (f *File) readBody(src []byte, root *fileRoot) (string, error) {
	val, diags := root.Body.Value(nil)
	if diags.HasErrors() {
		return "", fmt.Errorf("failed to evaluate body of %s: %w", f.Path, diags)
	}
	inline := !val.IsNull()

	switch {
	case inline && root.BodyFile != nil:
		return "", fmt.Errorf("%s: only one of body and body_file may be set", f.Path)
	case root.BodyFile != nil:
		path := *root.BodyFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(filepath.Dir(f.Path), path)
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read body of %s: %w", f.Path, err)
		}
		f.BodyPath, f.bodyLine, f.bodyCol = path, 1, 1
		return string(b), nil
	case !inline:
		return "", fmt.Errorf("%s: one of body or body_file is required", f.Path)
	}

	if !val.Type().Equals(cty.String) || !val.IsKnown() {
		return "", fmt.Errorf("%s: body must be a string", root.Body.Range())
	}

	rng := root.Body.Range()
	f.BodyPath = f.Path
	if bytes.HasPrefix(src[rng.Start.Byte:], []byte("<<")) {
		// Heredoc content starts on the line after the marker.
		f.bodyLine, f.bodyCol = rng.Start.Line+1, 1
	} else {
		f.bodyLine, f.bodyCol = rng.Start.Line, rng.Start.Column+1
	}
	return val.AsString(), nil
}

// Sources lists the files the manifest was read from.
func (f *File) Sources() []string {
	if f.BodyPath == f.Path {
		return []string{f.Path}
	}
	return []string{f.Path, f.BodyPath}
}

// Position formats the location of a body diagnostic in the file the body
// was read from.
func (f *File) Position(d diag.Diagnostic) string {
	if d.Line == 0 {
		return f.BodyPath
	}
	line, col := f.bodyLine+d.Line-1, d.Column
	if d.Line == 1 {
		col += f.bodyCol - 1
	}
	return fmt.Sprintf("%s:%d:%d", f.BodyPath, line, col)
}

// Format renders every diagnostic of err, one per line, prefixed with its
// position. Errors that carry no diagnostics are rendered as-is.
func (f *File) Format(err error) []string {
	var ce *diag.CompileError
	if !errors.As(err, &ce) {
		return []string{err.Error()}
	}
	lines := make([]string, 0, len(ce.Report.Diagnostics))
	for _, d := range ce.Report.Diagnostics {
		lines = append(lines, f.FormatDiagnostic(d))
	}
	return lines
}

// FormatDiagnostic renders d as "path:line:col: severity: summary; detail".
func (f *File) FormatDiagnostic(d diag.Diagnostic) string {
	pos := f.Position(d)
	d.Line = 0
	return fmt.Sprintf("%s: %s", pos, d)
}
