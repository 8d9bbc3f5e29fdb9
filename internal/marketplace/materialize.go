package marketplace

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/storage/memory"

	"github.com/ccimen/scc/internal/orgconfig"
	"github.com/ccimen/scc/internal/scerr"
)

// Materializer fetches marketplace sources into a project-local cache
// directory, one subdirectory per marketplace name.
type Materializer struct {
	root   string // <workspace>/.claude/.scc-marketplaces
	client *http.Client
}

// NewMaterializer returns a Materializer caching under root.
func NewMaterializer(root string) *Materializer {
	return &Materializer{root: root, client: http.DefaultClient}
}

// Dir returns the cache directory for a marketplace name, valid whether or
// not it has been materialized yet.
func (m *Materializer) Dir(name string) string { return filepath.Join(m.root, name) }

// Materialize ensures name's tree is present and fresh in the cache,
// fetching it per src.Source if needed, and returns its directory (spec
// §4.5). force skips the freshness check.
func (m *Materializer) Materialize(ctx context.Context, name string, src orgconfig.MarketplaceSource, force bool) (string, error) {
	dir := m.Dir(name)

	release, err := acquireLock(ctx, dir)
	if err != nil {
		return "", err
	}
	defer release()

	if !force {
		if rec, ok := m.readRecord(dir); ok && m.fresh(ctx, rec, src) {
			return dir, nil
		}
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", scerr.WrapConfigError(fmt.Sprintf("creating cache directory for marketplace %q", name), err)
	}

	var rec record
	switch src.Source {
	case orgconfig.SourceGitHub, orgconfig.SourceGit:
		rec, err = m.fetchGit(ctx, name, dir, src)
	case orgconfig.SourceURL:
		rec, err = m.fetchURL(ctx, name, dir, src)
	case orgconfig.SourceDirectory:
		rec, err = m.fetchDirectory(name, dir, src)
	case orgconfig.SourceFile:
		rec, err = m.fetchFile(name, dir, src)
	case orgconfig.SourceNPM:
		rec, err = m.fetchNPM(ctx, name, dir, src)
	default:
		err = scerr.NewConfigError(fmt.Sprintf("marketplace %q has unknown source type %q", name, src.Source), "use one of github, git, url, directory, file, npm")
	}
	if err != nil {
		return "", err
	}

	manifest, err := validateManifestTree(dir, name)
	if err != nil {
		return "", err
	}
	rec.PluginsIncluded = pluginNames(manifest)
	rec.FetchedAt = time.Now()
	rec.Materialization = src.Materialization
	if err := m.writeRecord(dir, rec); err != nil {
		return "", err
	}

	return dir, nil
}

func pluginNames(m *Manifest) []string {
	names := make([]string, 0, len(m.Plugins))
	for _, p := range m.Plugins {
		names = append(names, p.Name)
	}
	return names
}

// validateManifestTree enforces spec §4.5 step 3: <name>/.claude-plugin/marketplace.json
// must exist and decode into the expected shape.
func validateManifestTree(dir, name string) (*Manifest, error) {
	manifestPath := filepath.Join(dir, ".claude-plugin", "marketplace.json")
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, scerr.WrapConfigError(fmt.Sprintf("marketplace %q is missing .claude-plugin/marketplace.json after materialization", name), err)
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, scerr.WrapConfigError(fmt.Sprintf("marketplace %q has an unparseable marketplace.json", name), err)
	}
	if manifest.Name == "" || manifest.Owner.Name == "" {
		return nil, scerr.NewConfigError(fmt.Sprintf("marketplace %q's manifest is missing name or owner.name", name), "check the marketplace.json against the documented schema")
	}
	for _, p := range manifest.Plugins {
		if p.Name == "" || p.Source == "" {
			return nil, scerr.NewConfigError(fmt.Sprintf("marketplace %q has a plugin entry missing name or source", name), "every plugin entry needs name and source")
		}
	}
	return &manifest, nil
}

func (m *Materializer) recordPath(dir string) string { return filepath.Join(dir, ".manifest.json") }

func (m *Materializer) readRecord(dir string) (record, bool) {
	data, err := os.ReadFile(m.recordPath(dir))
	if err != nil {
		return record{}, false
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return record{}, false
	}
	return rec, true
}

func (m *Materializer) writeRecord(dir string, rec record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return scerr.WrapConfigError("encoding marketplace manifest record", err)
	}
	tmp := m.recordPath(dir) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return scerr.WrapConfigError("writing marketplace manifest record", err)
	}
	if err := os.Rename(tmp, m.recordPath(dir)); err != nil {
		_ = os.Remove(tmp)
		return scerr.WrapConfigError("finalizing marketplace manifest record", err)
	}
	return nil
}

// fresh implements spec §4.5's cheap freshness check: within FreshnessTTL,
// trust the cache outright; otherwise for git sources, compare remote HEAD
// (a cheap ls-remote) against the recorded commit.
func (m *Materializer) fresh(ctx context.Context, rec record, src orgconfig.MarketplaceSource) bool {
	if time.Since(rec.FetchedAt) < FreshnessTTL {
		return true
	}
	if src.Source != orgconfig.SourceGitHub && src.Source != orgconfig.SourceGit {
		return false
	}
	remote := git.NewRemote(memory.NewStorage(), &config.RemoteConfig{Name: "origin", URLs: []string{gitURL(src)}})
	refs, err := remote.ListContext(ctx, &git.ListOptions{})
	if err != nil {
		return false
	}
	wantRef := refName(src.Ref)
	for _, ref := range refs {
		if ref.Name() == wantRef || (wantRef == plumbing.HEAD && ref.Name() == plumbing.HEAD) {
			return ref.Hash().String() == rec.SourceIdentity
		}
	}
	return false
}

func refName(ref string) plumbing.ReferenceName {
	if ref == "" {
		return plumbing.HEAD
	}
	return plumbing.NewBranchReferenceName(ref)
}

// gitURL resolves the clone URL for either a git or github source; github
// sources are addressed by repo slug, git sources carry the URL directly.
func gitURL(src orgconfig.MarketplaceSource) string {
	if src.Source == orgconfig.SourceGit {
		return src.URL
	}
	return "https://github.com/" + strings.TrimSuffix(src.Repo, ".git") + ".git"
}

// fetchGit shallow-clones the source at its ref (default HEAD) into a
// scratch directory, then copies the `path` subtree (default whole repo)
// into dir (spec §4.5 step 2, github/git).
func (m *Materializer) fetchGit(ctx context.Context, name, dir string, src orgconfig.MarketplaceSource) (record, error) {
	scratch, err := os.MkdirTemp("", "scc-marketplace-git-")
	if err != nil {
		return record{}, scerr.WrapConfigError("creating scratch clone directory", err)
	}
	defer os.RemoveAll(scratch)

	opts := &git.CloneOptions{
		URL:          gitURL(src),
		Depth:        1,
		SingleBranch: true,
	}
	if src.Ref != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(src.Ref)
	}

	repo, err := git.PlainCloneContext(ctx, scratch, false, opts)
	if err != nil {
		return record{}, scerr.WrapToolError("git", fmt.Sprintf("cloning marketplace %q", name), err)
	}
	head, err := repo.Head()
	if err != nil {
		return record{}, scerr.WrapToolError("git", fmt.Sprintf("resolving HEAD for marketplace %q", name), err)
	}

	srcPath := scratch
	if src.Path != "" {
		srcPath = filepath.Join(scratch, src.Path)
	}
	if err := clearDir(dir); err != nil {
		return record{}, err
	}
	if err := copyTree(srcPath, dir); err != nil {
		return record{}, err
	}

	return record{SourceIdentity: head.Hash().String()}, nil
}

// fetchDirectory copies an explicit local directory source into the cache
// (spec §4.5 step 2, directory).
func (m *Materializer) fetchDirectory(name, dir string, src orgconfig.MarketplaceSource) (record, error) {
	if err := clearDir(dir); err != nil {
		return record{}, err
	}
	if err := copyTree(src.Path, dir); err != nil {
		return record{}, scerr.WrapConfigError(fmt.Sprintf("copying directory marketplace %q", name), err)
	}
	return record{SourceIdentity: "local"}, nil
}

// fetchFile copies a single manifest file source into the cache layout
// (spec §4.5 step 2, file).
func (m *Materializer) fetchFile(name, dir string, src orgconfig.MarketplaceSource) (record, error) {
	target := filepath.Join(dir, ".claude-plugin", "marketplace.json")
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return record{}, scerr.WrapConfigError(fmt.Sprintf("preparing directory for file marketplace %q", name), err)
	}
	data, err := os.ReadFile(src.Path)
	if err != nil {
		return record{}, scerr.WrapConfigError(fmt.Sprintf("reading file marketplace %q source", name), err)
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return record{}, scerr.WrapConfigError(fmt.Sprintf("writing file marketplace %q manifest", name), err)
	}
	return record{SourceIdentity: "local"}, nil
}

func clearDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return os.MkdirAll(dir, 0o755)
		}
		return err
	}
	for _, e := range entries {
		if e.Name() == ".materialize.lock" || e.Name() == ".manifest.json" {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, info.Mode().Perm())
	})
}

// drain consumes and discards r, used to fully read HTTP bodies before
// closing so connections are reused.
func drain(r io.Reader) { _, _ = io.Copy(io.Discard, r) }
