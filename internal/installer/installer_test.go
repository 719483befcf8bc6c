package installer

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/esmkit/esmkit/internal/registry"
	"github.com/esmkit/esmkit/internal/resolver"
	"github.com/esmkit/esmkit/internal/vfs"
)

func makeTarball(t *testing.T, name, version string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	body := fmt.Sprintf(`{"name":%q,"version":%q}`, name, version)
	hdr := &tar.Header{Name: "package/package.json", Mode: 0644, Size: int64(len(body))}
	tw.WriteHeader(hdr)
	tw.Write([]byte(body))
	idx := "module.exports = {};"
	hdr2 := &tar.Header{Name: "package/index.js", Mode: 0644, Size: int64(len(idx))}
	tw.WriteHeader(hdr2)
	tw.Write([]byte(idx))
	tw.Close()
	gz.Close()
	return buf.Bytes()
}

func startFixtureRegistry(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	manifest := registry.Manifest{
		Name:     "left-pad",
		DistTags: registry.DistTags{"latest": "1.3.0"},
		Versions: map[string]registry.VersionInfo{
			"1.3.0": {Version: "1.3.0"},
		},
	}
	var srv *httptest.Server
	mux.HandleFunc("/left-pad", func(w http.ResponseWriter, r *http.Request) {
		m := manifest
		m.Versions = map[string]registry.VersionInfo{
			"1.3.0": {Version: "1.3.0", Dist: struct {
				Tarball   string `json:"tarball"`
				Shasum    string `json:"shasum"`
				Integrity string `json:"integrity,omitempty"`
			}{Tarball: srv.URL + "/left-pad/-/left-pad-1.3.0.tgz"}},
		}
		json.NewEncoder(w).Encode(m)
	})
	mux.HandleFunc("/left-pad/-/left-pad-1.3.0.tgz", func(w http.ResponseWriter, r *http.Request) {
		w.Write(makeTarball(t, "left-pad", "1.3.0"))
	})
	srv = httptest.NewServer(mux)
	return srv
}

func TestInstallEndToEnd(t *testing.T) {
	srv := startFixtureRegistry(t)
	defer srv.Close()

	fsys := vfs.New()
	fsys.MkdirSync("/project", true)
	reg := registry.NewClient(srv.URL)
	res := resolver.New(reg, resolver.Options{})
	in := New(fsys, reg, res, "/project")

	flat, err := in.Install("left-pad@^1.0.0", Options{Save: true})
	require.NoError(t, err)
	require.Equal(t, "1.3.0", flat["left-pad"].Version)

	pkgJSON, err := fsys.ReadFileSync("/project/node_modules/left-pad/package.json", "utf8")
	require.NoError(t, err)
	var info struct{ Version string }
	require.NoError(t, json.Unmarshal([]byte(pkgJSON), &info))
	require.Equal(t, "1.3.0", info.Version)

	lock, err := fsys.ReadFileSync("/project/node_modules/.package-lock.json", "utf8")
	require.NoError(t, err)
	var lockMap map[string]LockEntry
	require.NoError(t, json.Unmarshal([]byte(lock), &lockMap))
	require.Equal(t, "1.3.0", lockMap["left-pad"].Version)

	rootPkgJSON, err := fsys.ReadFileSync("/project/package.json", "utf8")
	require.NoError(t, err)
	var root PackageJSON
	require.NoError(t, json.Unmarshal([]byte(rootPkgJSON), &root))
	require.Equal(t, "^1.3.0", root.Dependencies["left-pad"])
}
