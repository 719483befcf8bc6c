package registry

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/http2"

	"github.com/esmkit/esmkit/internal/logx"
)

// ErrKind distinguishes registry failure categories, per spec §7.
type ErrKind int

const (
	ErrTransport ErrKind = iota
	ErrNotFound
)

// Error is a registry request failure annotated with its kind.
type Error struct {
	Kind ErrKind
	Name string
	Err  error
}

func (e *Error) Error() string {
	if e.Kind == ErrNotFound {
		return fmt.Sprintf("registry: package %q not found", e.Name)
	}
	return fmt.Sprintf("registry: fetch %q: %v", e.Name, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// DistTags maps dist-tag name (e.g. "latest") to a version string.
type DistTags map[string]string

// VersionInfo is one entry of Manifest.Versions.
type VersionInfo struct {
	Version             string            `json:"version"`
	Dependencies        map[string]string `json:"dependencies,omitempty"`
	PeerDependencies    map[string]string `json:"peerDependencies,omitempty"`
	PeerDependenciesMeta map[string]struct {
		Optional bool `json:"optional"`
	} `json:"peerDependenciesMeta,omitempty"`
	OptionalDependencies map[string]string `json:"optionalDependencies,omitempty"`
	Dist                 struct {
		Tarball    string `json:"tarball"`
		Shasum     string `json:"shasum"`
		Integrity  string `json:"integrity,omitempty"`
	} `json:"dist"`
	Main    string      `json:"main,omitempty"`
	Module  string      `json:"module,omitempty"`
	Browser interface{} `json:"browser,omitempty"`
	Exports interface{} `json:"exports,omitempty"`
	Bin     interface{} `json:"bin,omitempty"`
}

// Manifest is a registry package manifest (the `npm view <pkg>` document).
type Manifest struct {
	Name     string                 `json:"name"`
	DistTags DistTags               `json:"dist-tags"`
	Versions map[string]VersionInfo `json:"versions"`
}

// ManifestCache is a durable store for raw manifest JSON, consulted by
// FetchManifest before the network and populated after a successful fetch.
// *storage.Store implements it; registry itself stays storage-agnostic so
// cmd/esmkit is the only layer that knows bbolt backs the cache.
type ManifestCache interface {
	GetManifestJSON(name string) ([]byte, time.Time, error)
	PutManifestJSON(name string, raw []byte) error
}

// Client fetches manifests and tarballs, caching manifests by name for the
// process lifetime (a session cache, per spec §4.2).
type Client struct {
	RegistryURL string
	HTTPClient  *http.Client

	// ScopedRegistries routes a scoped package ("@myorg/foo") to a
	// different registry base URL, keyed by scope including the "@"
	// (e.g. "@myorg"), per SPEC_FULL §3's scoped-registry supplement.
	// Unset or non-matching scopes fall back to RegistryURL.
	ScopedRegistries map[string]string

	// Cache, when set, backs FetchManifest with a durable cache consulted
	// before the in-memory one is populated and before any network request
	// is made, surviving across process restarts. CacheTTL bounds how long
	// a disk-cached entry is trusted before it's treated as a miss; zero
	// means cached entries never expire.
	Cache    ManifestCache
	CacheTTL time.Duration

	mu    sync.Mutex
	cache map[string]*Manifest
}

// NewClient returns a registry client for registryURL (e.g.
// "https://registry.npmjs.org"), with an HTTP/2-capable transport. HTTP/2
// is negotiated over TLS via ALPN (http2.ConfigureTransport on a plain
// http.Transport) rather than forced cleartext prior-knowledge, so the
// same client also works unmodified against plain-HTTP/1.1 test servers
// (http2.Transport's own AllowHTTP mode assumes the peer speaks HTTP/2
// cleartext, which a stock net/http.Server - e.g. httptest.NewServer -
// does not).
func NewClient(registryURL string) *Client {
	transport := &http.Transport{}
	_ = http2.ConfigureTransport(transport)
	return &Client{
		RegistryURL: strings.TrimRight(registryURL, "/"),
		HTTPClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		cache: make(map[string]*Manifest),
	}
}

// baseURLFor returns the registry base URL for name, consulting
// ScopedRegistries when name is scoped ("@scope/pkg"). Scope splitting goes
// through ParsePkgNameInfo so there's one parser for "@scope/name"
// specifiers instead of a second inline one here.
func (c *Client) baseURLFor(name string) string {
	info := ParsePkgNameInfo(name)
	if info.Scope != "" && c.ScopedRegistries != nil {
		if base, ok := c.ScopedRegistries["@"+info.Scope]; ok {
			return strings.TrimRight(base, "/")
		}
	}
	return c.RegistryURL
}

// encodeName percent-encodes the "/" between a scope and a package name,
// per the npm registry's URL scheme for "@scope/name" (and, if present, a
// submodule subpath after it).
func encodeName(name string) string {
	info := ParsePkgNameInfo(name)
	if info.Scope == "" {
		return name
	}
	encoded := "@" + info.Scope + "%2f" + info.Name
	if info.Submodule != "" {
		encoded += "/" + info.Submodule
	}
	return encoded
}

// FetchManifest returns the manifest for name, from the in-process session
// cache if present, else from the durable Cache (if set and not expired),
// else from the network - populating both caches on a network fetch.
func (c *Client) FetchManifest(name string) (*Manifest, error) {
	c.mu.Lock()
	if m, ok := c.cache[name]; ok {
		c.mu.Unlock()
		return m, nil
	}
	c.mu.Unlock()

	if c.Cache != nil {
		if m, ok := c.fetchManifestFromCache(name); ok {
			return m, nil
		}
	}

	u := fmt.Sprintf("%s/%s", c.baseURLFor(name), encodeName(name))
	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return nil, &Error{Kind: ErrTransport, Name: name, Err: err}
	}
	req.Header.Set("Accept", "application/vnd.npm.install-v1+json; q=1.0, application/json; q=0.8")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, &Error{Kind: ErrTransport, Name: name, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, &Error{Kind: ErrNotFound, Name: name}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Kind: ErrTransport, Name: name, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: ErrTransport, Name: name, Err: err}
	}
	var m Manifest
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, &Error{Kind: ErrTransport, Name: name, Err: err}
	}

	c.mu.Lock()
	c.cache[name] = &m
	c.mu.Unlock()
	if c.Cache != nil {
		if err := c.Cache.PutManifestJSON(name, body); err != nil {
			logx.L.Warnf("[registry] cache manifest %s: %v", name, err)
		}
	}
	logx.L.Debugf("[registry] fetched manifest %s (%d versions)", name, len(m.Versions))
	return &m, nil
}

// fetchManifestFromCache consults the durable Cache for name, honoring
// CacheTTL, and populates the in-memory session cache on a hit.
func (c *Client) fetchManifestFromCache(name string) (*Manifest, bool) {
	raw, fetchedAt, err := c.Cache.GetManifestJSON(name)
	if err != nil {
		return nil, false
	}
	if c.CacheTTL > 0 && time.Since(fetchedAt) > c.CacheTTL {
		return nil, false
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, false
	}
	c.mu.Lock()
	c.cache[name] = &m
	c.mu.Unlock()
	logx.L.Debugf("[registry] manifest %s from disk cache", name)
	return &m, true
}

// FetchTarball downloads the gzipped tarball at tarballURL, verifying its
// shasum when non-empty. It checks no integrity string; FetchTarballVerified
// does.
func (c *Client) FetchTarball(tarballURL, expectedShasum string) ([]byte, error) {
	return c.FetchTarballVerified(tarballURL, expectedShasum, "")
}

// FetchTarballVerified is FetchTarball plus an npm "dist.integrity"
// subresource-integrity check, for registries (private mirrors and some
// enterprise npm proxies) that publish a blake2b-keyed integrity string
// instead of the standard sha512 one.
func (c *Client) FetchTarballVerified(tarballURL, expectedShasum, integrity string) ([]byte, error) {
	resp, err := c.HTTPClient.Get(tarballURL)
	if err != nil {
		return nil, &Error{Kind: ErrTransport, Name: tarballURL, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Kind: ErrTransport, Name: tarballURL, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: ErrTransport, Name: tarballURL, Err: err}
	}
	if expectedShasum != "" {
		sum := sha1.Sum(data)
		if hex.EncodeToString(sum[:]) != expectedShasum {
			return nil, &Error{Kind: ErrTransport, Name: tarballURL, Err: errors.New("tarball shasum mismatch")}
		}
	}
	if integrity != "" {
		if err := verifyIntegrity(data, integrity); err != nil {
			return nil, &Error{Kind: ErrTransport, Name: tarballURL, Err: err}
		}
	}
	return data, nil
}

// ResolveVersion picks the manifest's exact version for dist-tag or exact
// version string v ("" means the "latest" dist-tag).
func (m *Manifest) ResolveVersion(v string) (VersionInfo, bool) {
	if v == "" {
		v = m.DistTags["latest"]
	}
	if tag, ok := m.DistTags[v]; ok {
		v = tag
	}
	info, ok := m.Versions[v]
	return info, ok
}

// SortedVersionStrings lists all published version strings in lexical
// (string) order.
func (m *Manifest) SortedVersionStrings() []string {
	out := make([]string, 0, len(m.Versions))
	for v := range m.Versions {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
