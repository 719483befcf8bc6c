package registry

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetchManifestRoutesScopedPackageToScopedRegistry(t *testing.T) {
	var hitDefault, hitScoped bool

	def := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hitDefault = true
		w.Write([]byte(`{"name":"lodash","dist-tags":{"latest":"1.0.0"},"versions":{"1.0.0":{"version":"1.0.0"}}}`))
	}))
	defer def.Close()

	scoped := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hitScoped = true
		w.Write([]byte(`{"name":"@myorg/pkg","dist-tags":{"latest":"2.0.0"},"versions":{"2.0.0":{"version":"2.0.0"}}}`))
	}))
	defer scoped.Close()

	c := NewClient(def.URL)
	c.ScopedRegistries = map[string]string{"@myorg": scoped.URL}

	m, err := c.FetchManifest("@myorg/pkg")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if m.DistTags["latest"] != "2.0.0" {
		t.Fatalf("latest = %q, want 2.0.0", m.DistTags["latest"])
	}
	if !hitScoped || hitDefault {
		t.Fatalf("scoped=%v default=%v, want only scoped hit", hitScoped, hitDefault)
	}

	if _, err := c.FetchManifest("lodash"); err != nil {
		t.Fatalf("fetch unscoped: %v", err)
	}
	if !hitDefault {
		t.Fatal("expected unscoped package to hit the default registry")
	}
}
