// Package references provides the reference snippets handed to procedure
// generation. Documents come from an embedded corpus, optionally extended by
// YAML files, and are ranked by keyword overlap with the query.
package references

import (
	"context"
	"embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/cloudpilot/pkg/engine"
)

//go:embed corpus.yaml
var builtinCorpus embed.FS

// DefaultLimit is used when Retrieve is called with n <= 0.
const DefaultLimit = 3

// Scoring weights per matched query token.
const (
	weightType    = 3.0
	weightKeyword = 2.0
	weightTitle   = 1.0
	weightContent = 0.5
)

// Document is one reference snippet.
type Document struct {
	ID           string   `yaml:"id" validate:"required"`
	ResourceType string   `yaml:"resource_type"`
	Title        string   `yaml:"title" validate:"required"`
	Keywords     []string `yaml:"keywords"`
	Content      string   `yaml:"content" validate:"required"`

	source string
	title  map[string]bool
	body   map[string]bool
}

type corpusFile struct {
	Documents []Document `yaml:"documents" validate:"dive"`
}

// Retriever implements engine.ReferenceRetriever.
type Retriever struct {
	mu       sync.RWMutex
	docs     map[string]*Document
	validate *validator.Validate
	logger   zerolog.Logger
}

var _ engine.ReferenceRetriever = (*Retriever)(nil)

// New returns a retriever loaded with the built-in corpus.
func New(logger zerolog.Logger) (*Retriever, error) {
	r := &Retriever{
		docs:     make(map[string]*Document),
		validate: validator.New(),
		logger:   logger.With().Str("component", "references").Logger(),
	}
	data, err := builtinCorpus.ReadFile("corpus.yaml")
	if err != nil {
		return nil, fmt.Errorf("failed to read built-in corpus: %w", err)
	}
	if err := r.load(data, "builtin"); err != nil {
		return nil, err
	}
	return r, nil
}

// LoadFile adds the documents of a YAML corpus file. A document whose id is
// already known replaces the existing one.
func (r *Retriever) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read corpus %s: %w", path, err)
	}
	return r.load(data, path)
}

func (r *Retriever) load(data []byte, source string) error {
	var file corpusFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse corpus %s: %w", source, err)
	}
	if err := r.validate.Struct(&file); err != nil {
		return fmt.Errorf("invalid corpus %s: %w", source, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range file.Documents {
		doc := file.Documents[i]
		doc.ResourceType = strings.ToLower(doc.ResourceType)
		doc.source = source + ":" + doc.ID
		doc.title = tokenSet(doc.Title)
		doc.body = tokenSet(doc.Content)
		r.docs[doc.ID] = &doc
	}
	r.logger.Debug().Str("source", source).Int("documents", len(file.Documents)).Msg("Loaded reference corpus")
	return nil
}

// Len returns the number of loaded documents.
func (r *Retriever) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.docs)
}

// Retrieve returns up to n documents with a positive score, best first.
func (r *Retriever) Retrieve(ctx context.Context, query string, n int) ([]engine.Reference, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n <= 0 {
		n = DefaultLimit
	}
	terms := tokenSet(query)
	if len(terms) == 0 {
		return nil, nil
	}

	type scored struct {
		doc   *Document
		score float64
	}
	r.mu.RLock()
	matches := make([]scored, 0, len(r.docs))
	for _, doc := range r.docs {
		if s := doc.score(terms); s > 0 {
			matches = append(matches, scored{doc: doc, score: s})
		}
	}
	r.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].doc.ID < matches[j].doc.ID
	})
	if len(matches) > n {
		matches = matches[:n]
	}

	out := make([]engine.Reference, 0, len(matches))
	for _, m := range matches {
		out = append(out, engine.Reference{
			Title:   m.doc.Title,
			Source:  m.doc.source,
			Content: strings.TrimSpace(m.doc.Content),
			Score:   m.score,
		})
	}
	return out, nil
}

func (d *Document) score(terms map[string]bool) float64 {
	var total float64
	for term := range terms {
		switch {
		case term == d.ResourceType || term == d.ID:
			total += weightType
		case containsFold(d.Keywords, term):
			total += weightKeyword
		case d.title[term]:
			total += weightTitle
		case d.body[term]:
			total += weightContent
		}
	}
	return total
}

func containsFold(list []string, term string) bool {
	for _, s := range list {
		if strings.EqualFold(s, term) {
			return true
		}
	}
	return false
}

// tokenSet splits text into lowercase alphanumeric tokens of two or more
// characters. Underscores are kept so that ids such as security_group match.
func tokenSet(text string) map[string]bool {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	out := make(map[string]bool, len(fields))
	for _, f := range fields {
		if len(f) >= 2 {
			out[f] = true
		}
	}
	return out
}
