// Package registry is the source registry: trusted references the
// pipeline verifies claims against.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/evalagent/internal/apperr"
	"github.com/ppiankov/evalagent/internal/model"
	"github.com/ppiankov/evalagent/internal/store"
)

// Registry reads and maintains sources
type Registry struct {
	store store.SourceStore
}

// New creates a registry over a source store
func New(s store.SourceStore) *Registry {
	return &Registry{store: s}
}

// Lookup returns one source by id
func (r *Registry) Lookup(ctx context.Context, id string) (*model.Source, error) {
	src, err := r.store.GetSource(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("source %s not found", id)
	}
	if err != nil {
		return nil, apperr.Upstream(err, "lookup source %s", id)
	}
	return src, nil
}

// Active returns every active source
func (r *Registry) Active(ctx context.Context) ([]model.Source, error) {
	sources, err := r.store.ListSources(ctx, true)
	if err != nil {
		return nil, apperr.Upstream(err, "list active sources")
	}
	return sources, nil
}

// All returns every source including inactive ones
func (r *Registry) All(ctx context.Context) ([]model.Source, error) {
	sources, err := r.store.ListSources(ctx, false)
	if err != nil {
		return nil, apperr.Upstream(err, "list sources")
	}
	return sources, nil
}

// sourceFile is the YAML layout accepted by Import:
//
//	sources:
//	  - id: fta
//	    name: Federal Tax Authority
//	    category: regulator
//	    base_url: https://tax.gov.ae
//	    trust_level: 5
//	    active: true
//	    topics: [tax]
type sourceFile struct {
	Sources []model.Source `yaml:"sources"`
}

// Import upserts every source in a YAML document. The whole document is
// validated before anything is written.
func (r *Registry) Import(ctx context.Context, in io.Reader) (int, error) {
	var file sourceFile
	if err := yaml.NewDecoder(in).Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, nil
		}
		return 0, apperr.InvalidRequest("parse sources: %v", err)
	}

	seen := make(map[string]bool)
	for i := range file.Sources {
		src := &file.Sources[i]
		normalize(src)
		if err := Validate(*src); err != nil {
			return 0, err
		}
		if seen[src.ID] {
			return 0, apperr.InvalidRequest("duplicate source id %q", src.ID)
		}
		seen[src.ID] = true
	}

	for _, src := range file.Sources {
		if err := r.store.UpsertSource(ctx, src); err != nil {
			return 0, apperr.Upstream(err, "save source %s", src.ID)
		}
	}
	return len(file.Sources), nil
}

// ImportFile imports sources from a YAML file on disk
func (r *Registry) ImportFile(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	return r.Import(ctx, f)
}

// Validate checks a source record
func Validate(src model.Source) error {
	switch {
	case src.ID == "":
		return apperr.InvalidRequest("source id is required")
	case src.Name == "":
		return apperr.InvalidRequest("source %s: name is required", src.ID)
	case !src.Category.Valid():
		return apperr.InvalidRequest("source %s: unknown category %q", src.ID, src.Category)
	case src.TrustLevel < 1 || src.TrustLevel > 5:
		return apperr.InvalidRequest("source %s: trust_level must be 1-5, got %d", src.ID, src.TrustLevel)
	}

	u, err := url.Parse(src.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return apperr.InvalidRequest("source %s: base_url must be an absolute http(s) URL", src.ID)
	}
	return nil
}

func normalize(src *model.Source) {
	src.ID = strings.TrimSpace(src.ID)
	src.Name = strings.TrimSpace(src.Name)
	src.Category = model.SourceCategory(strings.ToLower(strings.TrimSpace(string(src.Category))))
	src.BaseURL = strings.TrimRight(strings.TrimSpace(src.BaseURL), "/")
	for i, topic := range src.Topics {
		src.Topics[i] = strings.ToLower(strings.TrimSpace(topic))
	}
}
