package schema

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/openfroyo/cloudpilot/pkg/engine"
)

//go:embed cue/*.cue
var builtinSources embed.FS

// Catalog is the operation catalog: which provider operation serves an
// action on a resource family, and what input it takes. Sources are CUE
// files unified against the built-in constraints.
type Catalog struct {
	ctx      *cue.Context
	validate *validator.Validate
	logger   zerolog.Logger

	mu    sync.RWMutex
	value cue.Value
	doc   document
	ops   map[string]map[string]*engine.OperationSchema
}

var _ engine.SchemaIntrospector = (*Catalog)(nil)

// NewCatalog creates a catalog from the embedded sources.
func NewCatalog(logger zerolog.Logger) (*Catalog, error) {
	c := &Catalog{
		ctx:      cuecontext.New(),
		validate: validator.New(),
		logger:   logger.With().Str("component", "schema").Logger(),
	}

	entries, err := fs.ReadDir(builtinSources, "cue")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded catalog: %w", err)
	}
	var value cue.Value
	for _, entry := range entries {
		name := "cue/" + entry.Name()
		data, err := builtinSources.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("failed to read embedded catalog %s: %w", name, err)
		}
		value, err = c.unify(value, name, data)
		if err != nil {
			return nil, err
		}
	}
	if err := c.install(value, "builtin"); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadSource unifies an additional CUE source into the catalog. The catalog
// is unchanged when the source fails to compile or conflicts.
func (c *Catalog) LoadSource(name string, data []byte) error {
	c.mu.RLock()
	current := c.value
	c.mu.RUnlock()

	value, err := c.unify(current, name, data)
	if err != nil {
		return err
	}
	return c.install(value, name)
}

// LoadFile loads one CUE file.
func (c *Catalog) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read catalog file %s: %w", path, err)
	}
	return c.LoadSource(path, data)
}

// LoadDir loads every .cue file under dir, in lexical order.
func (c *Catalog) LoadDir(dir string) error {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.HasSuffix(path, ".cue") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk catalog directory: %w", err)
	}
	sort.Strings(files)
	for _, f := range files {
		if err := c.LoadFile(f); err != nil {
			return err
		}
	}
	return nil
}

func (c *Catalog) unify(base cue.Value, name string, data []byte) (cue.Value, error) {
	val := c.ctx.CompileBytes(data, cue.Filename(name))
	if err := val.Err(); err != nil {
		return cue.Value{}, &LoadError{Source: name, Errors: convertCUEErrors(err)}
	}
	if base.Exists() {
		val = base.Unify(val)
	}
	if err := val.Err(); err != nil {
		return cue.Value{}, &LoadError{Source: name, Errors: convertCUEErrors(err)}
	}
	return val, nil
}

// install validates the unified value and swaps it in.
func (c *Catalog) install(value cue.Value, source string) error {
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return &LoadError{Source: source, Errors: convertCUEErrors(err)}
	}

	var doc document
	if err := value.Decode(&doc); err != nil {
		return &LoadError{Source: source, Errors: convertCUEErrors(err)}
	}
	if err := c.validate.Struct(doc); err != nil {
		return &LoadError{Source: source, Errors: []ValidationError{{Path: "services", Message: err.Error()}}}
	}

	ops := make(map[string]map[string]*engine.OperationSchema, len(doc.Services))
	count := 0
	for service, operations := range doc.Services {
		ops[service] = make(map[string]*engine.OperationSchema, len(operations))
		for name, spec := range operations {
			ops[service][name] = spec.toEngine(service, name)
			count++
		}
	}

	c.mu.Lock()
	c.value = value
	c.doc = doc
	c.ops = ops
	c.mu.Unlock()

	c.logger.Debug().Str("source", source).Int("services", len(ops)).Int("operations", count).Msg("Catalog loaded")
	return nil
}

// convertCUEErrors converts CUE errors to ValidationError values.
func convertCUEErrors(err error) []ValidationError {
	var out []ValidationError
	for _, e := range errors.Errors(err) {
		ve := ValidationError{Message: errors.Details(e, nil)}
		if pos := errors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		if path := e.Path(); len(path) > 0 {
			ve.Path = strings.Join(path, ".")
		}
		out = append(out, ve)
	}
	if len(out) == 0 {
		out = append(out, ValidationError{Message: err.Error()})
	}
	return out
}

// Services returns the catalog's service names, sorted.
func (c *Catalog) Services() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.ops))
	for s := range c.ops {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Operations returns a service's operation names, sorted.
func (c *Catalog) Operations(service string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ops := c.ops[service]
	out := make([]string, 0, len(ops))
	for name := range ops {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ServiceFor maps a resource type onto its service name.
func (c *Catalog) ServiceFor(resourceType string) string {
	rt := strings.ToLower(strings.TrimSpace(resourceType))
	c.mu.RLock()
	defer c.mu.RUnlock()
	if svc, ok := c.doc.Aliases[rt]; ok {
		return svc
	}
	return rt
}

// OperationSchema returns a copy of the schema of a known operation.
func (c *Catalog) OperationSchema(service, operation string) (*engine.OperationSchema, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ops, ok := c.ops[service]
	if !ok {
		return nil, fmt.Errorf("unknown service %q", service)
	}
	schema, ok := ops[operation]
	if !ok {
		return nil, fmt.Errorf("unknown operation %s.%s", service, operation)
	}
	out := *schema
	out.Required = append([]engine.FieldSpec(nil), schema.Required...)
	out.Optional = append([]engine.FieldSpec(nil), schema.Optional...)
	return &out, nil
}
