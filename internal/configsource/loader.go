// Package configsource fetches the org config document (and any other
// remote-cacheable resource, such as update-notifier checks) over HTTPS
// with ETag/TTL caching and stale-cache fallback (spec §4.3).
package configsource

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

	"github.com/ccimen/scc/internal/scerr"
	"github.com/ccimen/scc/internal/secretsresolver"
)

// TTL policy (spec §4.3).
const (
	OrgConfigTTL     = time.Hour
	UpdateCheckTTL   = 24 * time.Hour
)

// Retry policy (spec §7): idempotent network reads get at most three
// attempts with exponential backoff, retrying only connection errors or
// 5xx responses. Same doubling shape as the teacher's
// buildkit.Client.WaitForReady.
const (
	maxFetchAttempts  = 3
	fetchBackoffStart = 250 * time.Millisecond
)

// doWithRetry issues req, retrying up to maxFetchAttempts times on a
// connection error or 5xx status. req must have a nil body (GET) since
// it is reused across attempts.
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

// Result is what a successful Fetch returns: the body bytes plus the
// revalidation metadata needed for the next call.
type Result struct {
	Body         []byte
	ETag         string
	LastModified string
	FromCache    bool
	Stale        bool
}

// meta is the on-disk revalidation record for one cache entry, persisted
// alongside the cached body.
type meta struct {
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// Loader fetches a single named source with ETag/TTL caching backed by two
// files under cacheDir: "<name>.body" and "<name>.meta.json".
type Loader struct {
	cacheDir string
	client   *http.Client
}

// NewLoader returns a Loader caching under cacheDir.
func NewLoader(cacheDir string) *Loader {
	return &Loader{cacheDir: cacheDir, client: http.DefaultClient}
}

// Fetch retrieves url (which must be HTTPS unless allowNonHTTPS is set for
// explicit directory/file admin sources), using the on-disk cache keyed by
// name. auth is the §4.3 auth spec grammar (env:/command:/null); headers,
// if non-empty, is used verbatim instead of the resolved auth token.
func (l *Loader) Fetch(ctx context.Context, name, url, auth string, headers map[string]string, ttl time.Duration, allowNonHTTPS bool) (Result, error) {
	if !allowNonHTTPS && !strings.HasPrefix(strings.ToLower(url), "https://") {
		return Result{}, scerr.NewConfigError(
			fmt.Sprintf("refusing to fetch %q over a non-HTTPS URL", url),
			"use an https:// URL, or an explicit directory/file source for local admin use",
		)
	}

	cached, cachedMeta, haveCache := l.readCache(name)
	if haveCache && time.Since(cachedMeta.FetchedAt) < ttl {
		return Result{Body: cached, ETag: cachedMeta.ETag, LastModified: cachedMeta.LastModified, FromCache: true}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{}, scerr.WrapConfigError(fmt.Sprintf("building request for %s", url), err)
	}

	if len(headers) > 0 {
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	} else if authHeader, ok, authErr := secretsresolver.AuthorizationHeader(ctx, auth); authErr != nil {
		return Result{}, scerr.WrapConfigError("resolving config source auth", authErr)
	} else if ok {
		req.Header.Set("Authorization", authHeader)
	}

	if haveCache {
		if cachedMeta.ETag != "" {
			req.Header.Set("If-None-Match", cachedMeta.ETag)
		}
		if cachedMeta.LastModified != "" {
			req.Header.Set("If-Modified-Since", cachedMeta.LastModified)
		}
	}

	resp, err := doWithRetry(ctx, l.client, req)
	if err != nil {
		if haveCache {
			return Result{Body: cached, ETag: cachedMeta.ETag, LastModified: cachedMeta.LastModified, FromCache: true, Stale: true}, nil
		}
		return Result{}, scerr.WrapNetworkError(fmt.Sprintf("fetching %s", url), err, false)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		if !haveCache {
			return Result{}, scerr.NewStateError(fmt.Sprintf("%s returned 304 with no local cache to reuse", url))
		}
		newMeta := meta{ETag: firstNonEmpty(resp.Header.Get("ETag"), cachedMeta.ETag), LastModified: firstNonEmpty(resp.Header.Get("Last-Modified"), cachedMeta.LastModified), FetchedAt: time.Now()}
		_ = l.writeCache(name, cached, newMeta)
		return Result{Body: cached, ETag: newMeta.ETag, LastModified: newMeta.LastModified, FromCache: true}, nil

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Result{}, scerr.NewConfigError(
			fmt.Sprintf("%s returned %d", url, resp.StatusCode),
			"check the configured auth spec and the credential it resolves to",
		)

	case resp.StatusCode == http.StatusNotFound:
		return Result{}, scerr.NewConfigError(fmt.Sprintf("%s returned 404", url), "check the configured URL")

	case resp.StatusCode != http.StatusOK:
		if haveCache {
			return Result{Body: cached, ETag: cachedMeta.ETag, LastModified: cachedMeta.LastModified, FromCache: true, Stale: true}, nil
		}
		return Result{}, scerr.NewConfigError(fmt.Sprintf("%s returned unexpected status %d", url, resp.StatusCode), "check the source is reachable and returns 200")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, scerr.WrapConfigError(fmt.Sprintf("reading response body from %s", url), err)
	}
	if !looksLikeJSON(body) {
		return Result{}, scerr.NewConfigError(fmt.Sprintf("%s did not return a parseable JSON body", url), "check the URL points at the org config document")
	}

	newMeta := meta{ETag: resp.Header.Get("ETag"), LastModified: resp.Header.Get("Last-Modified"), FetchedAt: time.Now()}
	_ = l.writeCache(name, body, newMeta)
	return Result{Body: body, ETag: newMeta.ETag, LastModified: newMeta.LastModified}, nil
}

func looksLikeJSON(body []byte) bool {
	trimmed := strings.TrimSpace(string(body))
	return strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func (l *Loader) bodyPath(name string) string { return filepath.Join(l.cacheDir, name+".body") }
func (l *Loader) metaPath(name string) string { return filepath.Join(l.cacheDir, name+".meta.json") }

func (l *Loader) readCache(name string) ([]byte, meta, bool) {
	body, err := os.ReadFile(l.bodyPath(name))
	if err != nil {
		return nil, meta{}, false
	}
	metaData, err := os.ReadFile(l.metaPath(name))
	if err != nil {
		return nil, meta{}, false
	}
	var m meta
	if err := json.Unmarshal(metaData, &m); err != nil {
		return nil, meta{}, false
	}
	return body, m, true
}

func (l *Loader) writeCache(name string, body []byte, m meta) error {
	if err := os.MkdirAll(l.cacheDir, 0o755); err != nil {
		return err
	}
	metaData, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := atomicWrite(l.bodyPath(name), body); err != nil {
		return err
	}
	return atomicWrite(l.metaPath(name), metaData)
}

func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
