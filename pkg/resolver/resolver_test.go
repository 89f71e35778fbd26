package resolver_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/germanamz/danube/pkg/config"
	"github.com/germanamz/danube/pkg/hfhub"
	"github.com/germanamz/danube/pkg/resolver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCatalog serves canned listings and records calls.
type fakeCatalog struct {
	listings  map[string][]hfhub.File
	errs      map[string]error
	listed    []string
	downloads []string
	dlErr     error
}

func (f *fakeCatalog) ListFiles(_ context.Context, repo string) ([]hfhub.File, error) {
	f.listed = append(f.listed, repo)
	if err := f.errs[repo]; err != nil {
		return nil, err
	}
	return f.listings[repo], nil
}

func (f *fakeCatalog) ResolveURL(repo, file string) string {
	return "https://hub.test/" + repo + "/resolve/main/" + file
}

func (f *fakeCatalog) Download(_ context.Context, rawURL, dst, staging, _ string) error {
	f.downloads = append(f.downloads, rawURL)
	if f.dlErr != nil {
		return f.dlErr
	}
	if err := os.WriteFile(staging, []byte("gguf"), 0o600); err != nil {
		return err
	}
	return os.Rename(staging, dst)
}

func files(names ...string) []hfhub.File {
	out := make([]hfhub.File, len(names))
	for i, n := range names {
		out[i] = hfhub.File{Name: n}
	}
	return out
}

func TestSelect_PrefersFirstMatchingTag(t *testing.T) {
	got := resolver.Select([]string{"m-f16.gguf", "m-Q4_K_M.gguf", "m-Q5.gguf"}, false)
	assert.Equal(t, "m-Q4_K_M.gguf", got)
}

func TestSelect_TagOrderBeatsListOrder(t *testing.T) {
	got := resolver.Select([]string{"m-Q4_0.gguf", "m-Q4_K_S.gguf", "m-Q4_K_M.gguf"}, false)
	assert.Equal(t, "m-Q4_K_M.gguf", got)

	got = resolver.Select([]string{"m-q4_0.gguf", "m-Q4_K_S.gguf"}, false)
	assert.Equal(t, "m-Q4_K_S.gguf", got)
}

func TestSelect_IgnoresOtherExtensions(t *testing.T) {
	got := resolver.Select([]string{"model-Q4_K_M.safetensors", "README.md"}, true)
	assert.Empty(t, got)
}

func TestSelect_FallbackGating(t *testing.T) {
	names := []string{"config.json", "m-f16.gguf", "m-Q8_0.gguf"}

	assert.Empty(t, resolver.Select(names, false))
	assert.Equal(t, "m-f16.gguf", resolver.Select(names, true))
}

func TestFileNameFromURL(t *testing.T) {
	tests := map[string]string{
		"https://host/org/repo/resolve/main/m-Q4_K_M.gguf": "m-Q4_K_M.gguf",
		"https://host/files/m.gguf?download=true&sig=abc":  "m.gguf",
		"https://host/dir/":                                "",
		"https://host/files/..":                            "",
		"https://cdn.example.com/a/b/c.gguf#frag":          "c.gguf",
	}

	for in, want := range tests {
		assert.Equal(t, want, resolver.FileNameFromURL(in), in)
	}
}

func newResolver(t *testing.T, cfg config.ModelConfig, cat resolver.Catalog) *resolver.Resolver {
	t.Helper()
	if cfg.Dir == "" {
		cfg.Dir = filepath.Join(t.TempDir(), "models")
	}
	return resolver.New(cfg, cat, nil)
}

func TestResolve_DirectPathOverride(t *testing.T) {
	p := filepath.Join(t.TempDir(), "local.gguf")
	require.NoError(t, os.WriteFile(p, []byte("gguf"), 0o600))

	cat := &fakeCatalog{}
	spec, err := newResolver(t, config.ModelConfig{Path: p}, cat).Resolve(context.Background())
	require.NoError(t, err)

	assert.Equal(t, p, spec.LocalPath)
	assert.Equal(t, "local.gguf", spec.FileName)
	assert.Empty(t, cat.listed)
}

func TestResolve_MissingPathOverrideFallsThrough(t *testing.T) {
	cat := &fakeCatalog{listings: map[string][]hfhub.File{
		resolver.DefaultRepositories[0]: files("m-Q4_K_M.gguf"),
	}}

	spec, err := newResolver(t, config.ModelConfig{Path: "/no/such.gguf"}, cat).Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "m-Q4_K_M.gguf", spec.FileName)
}

func TestResolve_URLOverrideDownloadsOnceThenReuses(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "models")
	cat := &fakeCatalog{}
	cfg := config.ModelConfig{Dir: dir, URL: "https://cdn.test/x/direct.gguf?token=1"}

	spec, err := newResolver(t, cfg, cat).Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "direct.gguf"), spec.LocalPath)
	assert.Equal(t, []string{"https://cdn.test/x/direct.gguf?token=1"}, cat.downloads)

	spec, err = newResolver(t, cfg, cat).Resolve(context.Background())
	require.NoError(t, err)
	assert.FileExists(t, spec.LocalPath)
	assert.Len(t, cat.downloads, 1)
	assert.Empty(t, cat.listed)
}

func TestResolve_FileOverrideOnlyFromCache(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cached.gguf"), []byte("gguf"), 0o600))

	cat := &fakeCatalog{}
	spec, err := newResolver(t, config.ModelConfig{Dir: dir, File: "cached.gguf"}, cat).Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "cached.gguf"), spec.LocalPath)
	assert.Empty(t, cat.listed)
	assert.Empty(t, cat.downloads)
}

func TestResolve_FileOverrideMissingSearchesRepos(t *testing.T) {
	cat := &fakeCatalog{listings: map[string][]hfhub.File{
		resolver.DefaultRepositories[0]: files("m-Q4_K_M.gguf"),
	}}

	spec, err := newResolver(t, config.ModelConfig{File: "absent.gguf"}, cat).Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "m-Q4_K_M.gguf", spec.FileName)
	assert.Len(t, cat.downloads, 1)
}

func TestResolve_RepositoryOverrideBypassesList(t *testing.T) {
	cat := &fakeCatalog{listings: map[string][]hfhub.File{
		resolver.DefaultRepositories[0]: files("a-Q4_K_M.gguf"),
		"org/custom":                    files("custom-Q4_K_M.gguf"),
	}}

	spec, err := newResolver(t, config.ModelConfig{Repository: "org/custom"}, cat).Resolve(context.Background())
	require.NoError(t, err)

	assert.Equal(t, resolver.ModelSpec{
		Repository: "org/custom",
		FileName:   "custom-Q4_K_M.gguf",
		LocalPath:  spec.LocalPath,
	}, spec)
	assert.Equal(t, []string{"org/custom"}, cat.listed)
	assert.Equal(t, []string{"https://hub.test/org/custom/resolve/main/custom-Q4_K_M.gguf"}, cat.downloads)
}

func TestResolve_RepositoryOverrideWithoutMatchFails(t *testing.T) {
	cat := &fakeCatalog{listings: map[string][]hfhub.File{
		"org/custom": files("custom-f16.gguf"),
	}}

	_, err := newResolver(t, config.ModelConfig{Repository: "org/custom"}, cat).Resolve(context.Background())
	assert.ErrorIs(t, err, resolver.ErrNoModel)
	assert.Equal(t, []string{"org/custom"}, cat.listed)
}

func TestResolve_WalksPastFailuresAndUnquantized(t *testing.T) {
	repos := resolver.DefaultRepositories
	cat := &fakeCatalog{
		errs: map[string]error{
			repos[0]: &hfhub.UnauthorizedError{Repository: repos[0]},
			repos[1]: errors.New("connection reset"),
		},
		listings: map[string][]hfhub.File{
			repos[2]: files("model.safetensors"),
			repos[3]: files("m-f16.gguf"),
			repos[4]: files("m-Q4_K_M.gguf"),
		},
	}

	spec, err := newResolver(t, config.ModelConfig{}, cat).Resolve(context.Background())
	require.NoError(t, err)

	assert.Equal(t, repos[4], spec.Repository)
	assert.Equal(t, repos[:5], cat.listed)
}

func TestResolve_FallbackAllowedAcceptsFirstArtifact(t *testing.T) {
	repos := resolver.DefaultRepositories
	cat := &fakeCatalog{listings: map[string][]hfhub.File{
		repos[0]: files("README.md", "m-f16.gguf", "m-bf16.gguf"),
		repos[1]: files("m-Q4_K_M.gguf"),
	}}

	spec, err := newResolver(t, config.ModelConfig{AllowNonQuantized: true}, cat).Resolve(context.Background())
	require.NoError(t, err)

	assert.Equal(t, repos[0], spec.Repository)
	assert.Equal(t, "m-f16.gguf", spec.FileName)
}

func TestResolve_AllCandidatesExhausted(t *testing.T) {
	cat := &fakeCatalog{}

	_, err := newResolver(t, config.ModelConfig{}, cat).Resolve(context.Background())
	assert.ErrorIs(t, err, resolver.ErrNoModel)
	assert.Equal(t, resolver.DefaultRepositories, cat.listed)
}

func TestResolve_CachedSelectionSkipsDownload(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "m-Q4_K_M.gguf"), []byte("gguf"), 0o600))

	cat := &fakeCatalog{listings: map[string][]hfhub.File{
		resolver.DefaultRepositories[0]: files("m-Q4_K_M.gguf"),
	}}

	spec, err := newResolver(t, config.ModelConfig{Dir: dir}, cat).Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "m-Q4_K_M.gguf"), spec.LocalPath)
	assert.Empty(t, cat.downloads)
}

func TestResolve_DownloadFailureIsWrapped(t *testing.T) {
	cat := &fakeCatalog{
		listings: map[string][]hfhub.File{resolver.DefaultRepositories[0]: files("m-Q4_K_M.gguf")},
		dlErr:    errors.New("disk full"),
	}

	_, err := newResolver(t, config.ModelConfig{}, cat).Resolve(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resolver: download model")
	assert.Contains(t, err.Error(), "disk full")
}

func TestResolve_AgainstHubServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/models/org/repo":
			_, _ = w.Write([]byte(`{"siblings":[{"rfilename":"m-f16.gguf"},{"rfilename":"m-Q4_K_M.gguf"}]}`))
		case "/org/repo/resolve/main/m-Q4_K_M.gguf":
			_, _ = w.Write([]byte("quantized weights"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	cfg := config.ModelConfig{Dir: dir, Repository: "org/repo"}

	spec, err := resolver.New(cfg, hfhub.New(srv.URL, "", nil), nil).Resolve(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(spec.LocalPath)
	require.NoError(t, err)
	assert.Equal(t, "quantized weights", string(data))
	assert.NoFileExists(t, spec.LocalPath+".part")
}
