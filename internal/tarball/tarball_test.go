package tarball

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"testing"

	"github.com/esmkit/esmkit/internal/vfs"
)

func buildFixtureTarball(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	files := []struct {
		name string
		body string
	}{
		{"package/package.json", `{"name":"pkg-a","version":"1.0.0"}`},
		{"package/index.js", "module.exports = 42;"},
		{"package/lib/helper.js", "module.exports = {};"},
	}
	for _, f := range files {
		hdr := &tar.Header{Name: f.name, Mode: 0644, Size: int64(len(f.body))}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("write header: %v", err)
		}
		if _, err := tw.Write([]byte(f.body)); err != nil {
			t.Fatalf("write body: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	return buf.Bytes()
}

func TestExtractStripsPackagePrefix(t *testing.T) {
	data := buildFixtureTarball(t)
	fs := vfs.New()
	if err := Extract(data, Gzip, fs, "/node_modules/pkg-a", Options{}); err != nil {
		t.Fatalf("extract: %v", err)
	}
	content, err := fs.ReadFileSync("/node_modules/pkg-a/package.json", "utf8")
	if err != nil {
		t.Fatalf("read package.json: %v", err)
	}
	if content != `{"name":"pkg-a","version":"1.0.0"}` {
		t.Fatalf("got %q", content)
	}
	if !fs.ExistsSync("/node_modules/pkg-a/lib/helper.js") {
		t.Fatal("expected nested file to exist")
	}
}

func TestExtractFilter(t *testing.T) {
	data := buildFixtureTarball(t)
	fs := vfs.New()
	err := Extract(data, Gzip, fs, "/pkg", Options{Filter: func(p string) bool {
		return p != "lib/helper.js"
	}})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if fs.ExistsSync("/pkg/lib/helper.js") {
		t.Fatal("filtered file should not have been written")
	}
	if !fs.ExistsSync("/pkg/index.js") {
		t.Fatal("expected unfiltered file to exist")
	}
}
