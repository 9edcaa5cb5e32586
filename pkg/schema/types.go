package schema

import (
	"fmt"
	"strings"

	"github.com/openfroyo/cloudpilot/pkg/engine"
)

// ValidationError is a catalog source error with location information.
type ValidationError struct {
	// File is the source file name.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the catalog path of the error (e.g., "services.ec2.RunInstances").
	Path string `json:"path,omitempty"`

	Message string `json:"message"`
}

func (e ValidationError) String() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", e.Line, e.Column)
		}
		b.WriteString(": ")
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// LoadError is returned when a catalog source does not compile or does not
// satisfy the catalog constraints.
type LoadError struct {
	Source string
	Errors []ValidationError
}

func (e *LoadError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, ve := range e.Errors {
		msgs = append(msgs, ve.String())
	}
	return fmt.Sprintf("catalog %s: %s", e.Source, strings.Join(msgs, "; "))
}

// document is the decoded form of the unified catalog.
type document struct {
	Aliases   map[string]string                   `json:"aliases"`
	Overrides map[string]string                   `json:"overrides"`
	Tokens    map[string][]string                 `json:"tokens"`
	Services  map[string]map[string]operationSpec `json:"services" validate:"required,dive,dive"`
}

type operationSpec struct {
	Required []fieldSpec `json:"required,omitempty" validate:"dive"`
	Optional []fieldSpec `json:"optional,omitempty" validate:"dive"`
}

type fieldSpec struct {
	Name     string      `json:"name" validate:"required"`
	Type     string      `json:"type" validate:"required,oneof=string integer long double float boolean list structure map timestamp"`
	Enum     []string    `json:"enum,omitempty"`
	Children []fieldSpec `json:"children,omitempty" validate:"dive"`
	Doc      string      `json:"doc,omitempty"`
}

func (f fieldSpec) toEngine() engine.FieldSpec {
	out := engine.FieldSpec{
		Name: f.Name,
		Type: engine.FieldType(f.Type),
		Enum: append([]string(nil), f.Enum...),
		Doc:  f.Doc,
	}
	for _, c := range f.Children {
		out.Children = append(out.Children, c.toEngine())
	}
	return out
}

func (o operationSpec) toEngine(service, operation string) *engine.OperationSchema {
	out := &engine.OperationSchema{Service: service, Operation: operation}
	for _, f := range o.Required {
		out.Required = append(out.Required, f.toEngine())
	}
	for _, f := range o.Optional {
		out.Optional = append(out.Optional, f.toEngine())
	}
	return out
}
