package rules

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed packs/*.yaml
var packFS embed.FS

// ErrUnknownDialect is returned when a built-in pack name is not known.
var ErrUnknownDialect = errors.New("unknown dialect")

// DefaultDialect is the pack used when none is configured.
const DefaultDialect = "oracle"

// validate is a singleton validator instance
var validate = validator.New()

// maxExtendsDepth bounds extends chains.
const maxExtendsDepth = 8

// Names returns the names of the built-in packs, sorted.
func Names() []string {
	entries, err := packFS.ReadDir("packs")
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(names)
	return names
}

// Builtin returns a fresh copy of a built-in pack.
func Builtin(name string) (*Pack, error) {
	return builtin(name, 0)
}

// MustBuiltin is like Builtin but panics on error. Intended for tests and
// package-level defaults.
func MustBuiltin(name string) *Pack {
	p, err := Builtin(name)
	if err != nil {
		panic(err)
	}
	return p
}

func builtin(name string, depth int) (*Pack, error) {
	data, err := packFS.ReadFile(path.Join("packs", strings.ToLower(name)+".yaml"))
	if err != nil {
		return nil, fmt.Errorf("%w: %q (known: %s)", ErrUnknownDialect, name, strings.Join(Names(), ", "))
	}
	p, err := parse(data, depth)
	if err != nil {
		return nil, fmt.Errorf("built-in pack %s: %w", name, err)
	}
	return p, nil
}

// Resolve returns the built-in pack with the given name, or loads the file
// at ref when ref is not a built-in name.
func Resolve(ref string) (*Pack, error) {
	if ref == "" {
		ref = DefaultDialect
	}
	for _, n := range Names() {
		if strings.EqualFold(n, ref) {
			return Builtin(n)
		}
	}
	if strings.HasSuffix(ref, ".yaml") || strings.HasSuffix(ref, ".yml") || strings.ContainsRune(ref, os.PathSeparator) {
		return Load(ref)
	}
	return nil, fmt.Errorf("%w: %q (known: %s)", ErrUnknownDialect, ref, strings.Join(Names(), ", "))
}

// Load reads and compiles a rule pack file.
func Load(file string) (*Pack, error) {
	data, err := os.ReadFile(file) //nolint:gosec // path comes from user configuration
	if err != nil {
		return nil, fmt.Errorf("failed to read rule pack: %w", err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("rule pack %s: %w", file, err)
	}
	return p, nil
}

// Parse decodes, validates and compiles a rule pack. A pack that names a
// built-in under extends inherits its rules.
func Parse(data []byte) (*Pack, error) {
	return parse(data, 0)
}

func parse(data []byte, depth int) (*Pack, error) {
	var p Pack
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty rule pack")
		}
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}

	pack := &p
	if p.Extends != "" {
		if depth >= maxExtendsDepth {
			return nil, fmt.Errorf("extends chain too deep at %q", p.Extends)
		}
		base, err := builtin(p.Extends, depth+1)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve extends: %w", err)
		}
		pack = p.overlay(base)
	}

	if err := validate.Struct(pack); err != nil {
		return nil, formatValidationError(err)
	}
	if err := pack.compile(); err != nil {
		return nil, err
	}
	return pack, nil
}

// Marshal renders the pack as YAML.
func (p *Pack) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return nil, fmt.Errorf("failed to encode rule pack: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode rule pack: %w", err)
	}
	return buf.Bytes(), nil
}

// formatValidationError converts validator errors to a more user-friendly format
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	msgs := make([]string, 0, len(validationErrs))
	for _, e := range validationErrs {
		field := e.Namespace()
		switch e.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s: field is required", field))
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s: must have at least %s entries", field, e.Param()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s: must be one of [%s], got %q", field, e.Param(), e.Value()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s: validation failed (%s)", field, e.Tag()))
		}
	}
	return fmt.Errorf("invalid rule pack: %s", strings.Join(msgs, "; "))
}
