// Package resolver decides which model artifact the worker loads: explicit
// overrides first, then a prioritized repository and quantization search,
// downloading into the cache directory when needed.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/germanamz/danube/pkg/config"
	"github.com/germanamz/danube/pkg/hfhub"
	"github.com/germanamz/danube/pkg/modelcache"
)

// ArtifactExt is the only file extension considered in a catalog.
const ArtifactExt = ".gguf"

// DefaultRepositories is the search order used without a repository override,
// most preferred first.
var DefaultRepositories = []string{
	"Qwen/Qwen3-1.7B-Instruct-GGUF",
	"Qwen/Qwen3-1.7B-GGUF",
	"Qwen/Qwen3-1.7B-Instruct",
	"Qwen/Qwen3-1.7B",
	"bartowski/Qwen3-1.7B-Instruct-GGUF",
	"bartowski/Qwen3-1.7B-GGUF",
	"lmstudio-community/Qwen3-1.7B-GGUF",
	"Qwen/Qwen2.5-1.5B-Instruct-GGUF",
	"Qwen/Qwen2.5-1.5B-GGUF",
	"Qwen/Qwen2.5-1.5B-Instruct",
	"Qwen/Qwen2.5-1.5B",
	"bartowski/Qwen2.5-1.5B-Instruct-GGUF",
	"bartowski/Qwen2.5-1.5B-GGUF",
}

// QuantizationTags are matched as substrings of artifact names, in order.
var QuantizationTags = []string{"Q4_K_M", "Q4_K", "Q4", "q4"}

// ErrNoModel is returned when no candidate repository yields an artifact.
var ErrNoModel = errors.New("resolver: could not locate a Q4 GGUF model for Qwen3-1.7B (or fallback Qwen2.5-1.5B)")

// ModelSpec identifies the resolved artifact. Repository and FileName are
// empty when the artifact came from a direct path override.
type ModelSpec struct {
	Repository string
	FileName   string
	LocalPath  string
}

// Catalog lists repository files and downloads artifacts. *hfhub.Client
// satisfies it.
type Catalog interface {
	ListFiles(ctx context.Context, repo string) ([]hfhub.File, error)
	ResolveURL(repo, file string) string
	Download(ctx context.Context, rawURL, dst, staging, wantSHA256 string) error
}

// Resolver resolves a ModelSpec from a ModelConfig.
type Resolver struct {
	cfg     config.ModelConfig
	cache   modelcache.Dir
	catalog Catalog
	log     *slog.Logger
}

// New creates a Resolver. A nil logger discards output.
func New(cfg config.ModelConfig, catalog Catalog, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	return &Resolver{
		cfg:     cfg,
		cache:   modelcache.New(cfg.Dir),
		catalog: catalog,
		log:     log,
	}
}

// Resolve returns the artifact to load, downloading it when it is not cached.
// The returned LocalPath exists.
func (r *Resolver) Resolve(ctx context.Context) (ModelSpec, error) {
	if p := r.cfg.Path; p != "" {
		if modelcache.IsFile(p) {
			return ModelSpec{FileName: filepath.Base(p), LocalPath: p}, nil
		}
		r.log.Warn("model path override does not exist", "path", p)
	}

	if err := r.cache.Ensure(); err != nil {
		return ModelSpec{}, fmt.Errorf("resolver: %w", err)
	}

	if raw := r.cfg.URL; raw != "" {
		if name := FileNameFromURL(raw); name != "" {
			return r.fetch(ctx, ModelSpec{FileName: name}, raw, "")
		}
		r.log.Warn("model url override has no file name", "url", raw)
	}

	if name := r.cfg.File; name != "" {
		if r.cache.Has(name) {
			return ModelSpec{FileName: name, LocalPath: r.cache.Path(name)}, nil
		}
		r.log.Warn("model file override not found in cache", "file", name, "dir", r.cache.Root())
	}

	repos := DefaultRepositories
	if r.cfg.Repository != "" {
		repos = []string{r.cfg.Repository}
	}

	for _, repo := range repos {
		file, ok := r.search(ctx, repo)
		if !ok {
			continue
		}

		spec := ModelSpec{Repository: repo, FileName: file.Name}
		r.log.Info("selected model", "repo", repo, "file", file.Name)

		return r.fetch(ctx, spec, r.catalog.ResolveURL(repo, file.Name), file.SHA256)
	}

	return ModelSpec{}, ErrNoModel
}

// search looks repo up and selects an artifact. Lookup failures are logged
// and reported as no selection so the caller moves on.
func (r *Resolver) search(ctx context.Context, repo string) (hfhub.File, bool) {
	files, err := r.catalog.ListFiles(ctx, repo)
	if err != nil {
		var ue *hfhub.UnauthorizedError
		if errors.As(err, &ue) {
			r.log.Warn("repo lookup unauthorized", "repo", repo, "hint", ue.Hint())
		} else {
			r.log.Warn("repo lookup failed", "repo", repo, "error", err)
		}
		return hfhub.File{}, false
	}

	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Name
	}

	chosen := Select(names, r.cfg.AllowNonQuantized)
	if chosen == "" {
		r.log.Debug("no matching artifact", "repo", repo, "files", len(files))
		return hfhub.File{}, false
	}

	for _, f := range files {
		if f.Name == chosen {
			return f, true
		}
	}

	return hfhub.File{}, false
}

// fetch returns spec pointing into the cache, downloading rawURL first when
// the file is absent.
func (r *Resolver) fetch(ctx context.Context, spec ModelSpec, rawURL, sha string) (ModelSpec, error) {
	spec.LocalPath = r.cache.Path(spec.FileName)
	if r.cache.Has(spec.FileName) {
		return spec, nil
	}

	r.log.Info("downloading model", "file", spec.FileName, "repo", spec.Repository, "dir", r.cache.Root())

	if err := r.catalog.Download(ctx, rawURL, spec.LocalPath, r.cache.PartialPath(spec.FileName), sha); err != nil {
		return ModelSpec{}, fmt.Errorf("resolver: download model: %w", err)
	}

	return spec, nil
}

// Select picks an artifact from a catalog listing. Only names ending in
// ArtifactExt are considered. The first tag of QuantizationTags that occurs in
// any name wins, and the first such name is returned. When no tag matches the
// first artifact is returned if allowFallback is set, otherwise "".
func Select(names []string, allowFallback bool) string {
	var artifacts []string
	for _, n := range names {
		if strings.HasSuffix(n, ArtifactExt) {
			artifacts = append(artifacts, n)
		}
	}

	if len(artifacts) == 0 {
		return ""
	}

	for _, tag := range QuantizationTags {
		for _, n := range artifacts {
			if strings.Contains(n, tag) {
				return n
			}
		}
	}

	if !allowFallback {
		return ""
	}

	return artifacts[0]
}

// FileNameFromURL returns the last path segment of raw without its query or
// fragment. It returns "" when the segment is empty or a dot segment.
func FileNameFromURL(raw string) string {
	p := raw
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		p = u.Path
	} else if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}

	if i := strings.LastIndex(p, "/"); i >= 0 {
		p = p[i+1:]
	}

	if p == "." || p == ".." {
		return ""
	}

	return p
}
