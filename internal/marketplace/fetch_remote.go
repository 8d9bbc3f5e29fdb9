package marketplace

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/ccimen/scc/internal/orgconfig"
	"github.com/ccimen/scc/internal/scerr"
)

// Archive extraction limits, same rationale and magnitude as the teacher's
// internal/snapshot/archive.go (bound worst-case disk/inode blowup from an
// untrusted npm tarball).
const (
	maxArchiveFiles     = 100_000
	maxArchiveFileSize  = 1 << 30
	maxArchiveTotalSize = 10 << 30
)

// Retry policy (spec §7): at most three attempts with exponential backoff,
// retrying only a connection error or a 5xx response. Same doubling shape
// as the teacher's buildkit.Client.WaitForReady.
const (
	maxFetchAttempts  = 3
	fetchBackoffStart = 250 * time.Millisecond
)

// doWithRetry issues req, retrying up to maxFetchAttempts times on a
// connection error or 5xx status. req must have a nil body (GET) since it
// is reused across attempts.
func doWithRetry(ctx context.Context, client *http.Client, req *http.Request) (*http.Response, error) {
	backoff := fetchBackoffStart
	var resp *http.Response
	var err error
	for attempt := 1; attempt <= maxFetchAttempts; attempt++ {
		resp, err = client.Do(req)
		if err == nil && resp.StatusCode < http.StatusInternalServerError {
			return resp, nil
		}
		if attempt == maxFetchAttempts {
			break
		}
		if err == nil {
			resp.Body.Close()
		}
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return resp, err
}

// fetchURL implements spec §4.5 step 2's url source: fetch marketplace.json
// with the configured headers (${VAR} expanded from the environment), and
// for self_contained materialization, recursively fetch each plugin's
// artifact and rewrite its source to a local relative path.
func (m *Materializer) fetchURL(ctx context.Context, name, dir string, src orgconfig.MarketplaceSource) (record, error) {
	manifestURL := src.URL
	body, etag, err := m.getWithHeaders(ctx, manifestURL, src.Headers)
	if err != nil {
		return record{}, err
	}

	var manifest Manifest
	if err := json.Unmarshal(body, &manifest); err != nil {
		return record{}, scerr.WrapConfigError(fmt.Sprintf("marketplace %q returned an unparseable marketplace.json", name), err)
	}

	manifestDir := filepath.Join(dir, ".claude-plugin")
	if err := os.MkdirAll(manifestDir, 0o755); err != nil {
		return record{}, scerr.WrapConfigError(fmt.Sprintf("preparing cache for marketplace %q", name), err)
	}

	if src.Materialization == orgconfig.MaterializationSelfContained {
		for i, p := range manifest.Plugins {
			localPath, err := m.fetchPluginArtifact(ctx, dir, p, src.Headers)
			if err != nil {
				return record{}, err
			}
			manifest.Plugins[i].Source = localPath
		}
	}

	out, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return record{}, scerr.WrapConfigError(fmt.Sprintf("re-encoding marketplace %q manifest", name), err)
	}
	if err := os.WriteFile(filepath.Join(manifestDir, "marketplace.json"), out, 0o644); err != nil {
		return record{}, scerr.WrapConfigError(fmt.Sprintf("writing marketplace %q manifest", name), err)
	}

	return record{SourceIdentity: etag}, nil
}

// fetchPluginArtifact downloads a single plugin's referenced artifact (a
// tarball or a bare file) under dir/plugins/<plugin-name>/ and returns that
// path relative to dir.
func (m *Materializer) fetchPluginArtifact(ctx context.Context, dir string, p ManifestPlugin, headers map[string]string) (string, error) {
	body, _, err := m.getWithHeaders(ctx, p.Source, headers)
	if err != nil {
		return "", err
	}
	rel := filepath.Join("plugins", p.Name)
	target := filepath.Join(dir, rel)
	if err := os.MkdirAll(target, 0o755); err != nil {
		return "", scerr.WrapConfigError(fmt.Sprintf("preparing directory for plugin %q", p.Name), err)
	}
	if looksGzipTar(p.Source) {
		if err := extractTarGz(body, target); err != nil {
			return "", scerr.WrapConfigError(fmt.Sprintf("extracting plugin %q artifact", p.Name), err)
		}
		return rel, nil
	}
	if err := os.WriteFile(filepath.Join(target, filepath.Base(p.Source)), body, 0o644); err != nil {
		return "", scerr.WrapConfigError(fmt.Sprintf("writing plugin %q artifact", p.Name), err)
	}
	return rel, nil
}

func looksGzipTar(name string) bool {
	return strings.HasSuffix(name, ".tar.gz") || strings.HasSuffix(name, ".tgz")
}

// getWithHeaders performs an HTTPS GET with ${VAR}-expanded headers and
// returns the body plus a cache-identity token (ETag, falling back to
// Last-Modified).
func (m *Materializer) getWithHeaders(ctx context.Context, rawURL string, headers map[string]string) ([]byte, string, error) {
	if !strings.HasPrefix(strings.ToLower(rawURL), "https://") {
		return nil, "", scerr.NewConfigError(fmt.Sprintf("refusing to fetch %q over a non-HTTPS URL", rawURL), "use an https:// URL")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", scerr.WrapConfigError(fmt.Sprintf("building request for %s", rawURL), err)
	}
	for k, v := range headers {
		req.Header.Set(k, os.Expand(v, envLookup))
	}

	resp, err := doWithRetry(ctx, m.client, req)
	if err != nil {
		return nil, "", scerr.WrapNetworkError(fmt.Sprintf("fetching %s", rawURL), err, false)
	}
	defer func() {
		drain(resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, "", scerr.NewConfigError(fmt.Sprintf("%s returned status %d", rawURL, resp.StatusCode), "check the URL and any required auth headers")
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxArchiveTotalSize))
	if err != nil {
		return nil, "", scerr.WrapConfigError(fmt.Sprintf("reading response body from %s", rawURL), err)
	}
	identity := resp.Header.Get("ETag")
	if identity == "" {
		identity = resp.Header.Get("Last-Modified")
	}
	return body, identity, nil
}

func envLookup(name string) string { return os.Getenv(name) }

// fetchNPM implements spec §4.5 step 2's npm source: fetch the package
// tarball from the registry and unpack it.
func (m *Materializer) fetchNPM(ctx context.Context, name, dir string, src orgconfig.MarketplaceSource) (record, error) {
	tarballURL, err := npmTarballURL(ctx, src.Package, src.Version)
	if err != nil {
		return record{}, err
	}
	body, _, err := m.getWithHeaders(ctx, tarballURL, nil)
	if err != nil {
		return record{}, err
	}
	if err := clearDir(dir); err != nil {
		return record{}, err
	}
	if err := extractTarGz(body, dir); err != nil {
		return record{}, scerr.WrapConfigError(fmt.Sprintf("extracting npm marketplace %q", name), err)
	}
	// npm tarballs nest their content under a "package/" directory.
	if err := hoistSingleSubdir(dir, "package"); err != nil {
		return record{}, err
	}
	return record{SourceIdentity: src.Version}, nil
}

// npmTarballURL resolves the registry metadata for a package@version to its
// tarball URL, shelling to npm view rather than reimplementing registry
// auth/proxy resolution.
func npmTarballURL(ctx context.Context, pkg, version string) (string, error) {
	spec := pkg
	if version != "" {
		spec = pkg + "@" + version
	}
	cmd := exec.CommandContext(ctx, "npm", "view", spec, "dist.tarball")
	out, err := cmd.Output()
	if err != nil {
		return "", scerr.WrapToolError("npm", fmt.Sprintf("resolving tarball URL for %s", spec), err)
	}
	url := strings.TrimSpace(string(out))
	if url == "" {
		return "", scerr.NewConfigError(fmt.Sprintf("npm view returned no tarball URL for %s", spec), "check the package name and version")
	}
	return url, nil
}

func hoistSingleSubdir(dir, subdir string) error {
	src := filepath.Join(dir, subdir)
	if info, err := os.Stat(src); err != nil || !info.IsDir() {
		return nil
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return scerr.WrapConfigError("reading npm package contents", err)
	}
	for _, e := range entries {
		if err := os.Rename(filepath.Join(src, e.Name()), filepath.Join(dir, e.Name())); err != nil {
			return scerr.WrapConfigError("hoisting npm package contents", err)
		}
	}
	return os.RemoveAll(src)
}

// extractTarGz unpacks a gzip-compressed tar stream under dest, rejecting
// path traversal and bounding file count/size, the same discipline as the
// teacher's internal/snapshot/archive.go RestoreTo.
func extractTarGz(data []byte, dest string) error {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create gzip reader: %w", err)
	}
	defer gr.Close()

	tr := tar.NewReader(gr)
	fileCount := 0
	var totalWritten int64

	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read tar header: %w", err)
		}

		fileCount++
		if fileCount > maxArchiveFiles {
			return fmt.Errorf("archive contains too many files (limit: %d)", maxArchiveFiles)
		}

		targetPath := filepath.Join(dest, header.Name)
		relToDest, err := filepath.Rel(dest, targetPath)
		if err != nil || relToDest == ".." || strings.HasPrefix(relToDest, ".."+string(filepath.Separator)) {
			return fmt.Errorf("invalid path in archive: %s", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(targetPath, os.FileMode(header.Mode&0o777)); err != nil {
				return fmt.Errorf("create directory %s: %w", header.Name, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
				return fmt.Errorf("create parent directory for %s: %w", header.Name, err)
			}
			f, err := os.OpenFile(targetPath, os.O_CREATE|os.O_RDWR|os.O_TRUNC, os.FileMode(header.Mode&0o777))
			if err != nil {
				return fmt.Errorf("create file %s: %w", header.Name, err)
			}
			written, copyErr := io.Copy(f, io.LimitReader(tr, maxArchiveFileSize))
			totalWritten += written
			if totalWritten > maxArchiveTotalSize {
				_ = f.Close()
				return fmt.Errorf("archive exceeds maximum total extracted size (limit: %d bytes)", maxArchiveTotalSize)
			}
			if copyErr != nil {
				_ = f.Close()
				return fmt.Errorf("write file %s: %w", header.Name, copyErr)
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("close file %s: %w", header.Name, err)
			}
		default:
			continue
		}
	}
	return nil
}
