// Package config holds the process-wide settings every esmkit subsystem
// reads, populated from flags when run as the esmkit binary (mirroring
// server.go's flag.*Var block) or from a struct literal when embedded.
package config

import (
	"flag"
	"runtime"

	"gopkg.in/yaml.v2"
)

// Config is the zero-config-safe settings struct. The zero value is not
// directly usable; call Default() or FromFlags().
type Config struct {
	WorkDir            string
	RegistryURL        string
	CacheDir           string
	BuildConcurrency   int
	InstallConcurrency int
	ResolveConcurrency int
	LogLevel           string
	LogDir             string
	Port               int
	SWPath             string
}

// Default returns the teacher-shaped defaults: ".esmd" for the cache
// directory, 2*NumCPU for build concurrency, and the spec's fixed 6/8 for
// install/resolve concurrency.
func Default() Config {
	return Config{
		WorkDir:            ".",
		RegistryURL:        "https://registry.npmjs.org",
		CacheDir:           ".esmd",
		BuildConcurrency:   2 * runtime.NumCPU(),
		InstallConcurrency: 6,
		ResolveConcurrency: 8,
		LogLevel:           "info",
		LogDir:             "",
		Port:               8080,
		SWPath:             "/__sw__.js",
	}
}

// FromFlags registers Config's fields on fs and returns a pointer whose
// fields are populated once fs.Parse has run.
func FromFlags(fs *flag.FlagSet) *Config {
	d := Default()
	c := &Config{}
	fs.StringVar(&c.WorkDir, "work-dir", d.WorkDir, "project working directory")
	fs.StringVar(&c.RegistryURL, "registry", d.RegistryURL, "npm registry base URL")
	fs.StringVar(&c.CacheDir, "cache-dir", d.CacheDir, "on-disk cache directory for snapshots and manifests")
	fs.IntVar(&c.BuildConcurrency, "build-concurrency", d.BuildConcurrency, "max concurrent transform/build jobs")
	fs.IntVar(&c.InstallConcurrency, "install-concurrency", d.InstallConcurrency, "max concurrent tarball downloads")
	fs.IntVar(&c.ResolveConcurrency, "resolve-concurrency", d.ResolveConcurrency, "max concurrent dependency resolutions")
	fs.StringVar(&c.LogLevel, "log-level", d.LogLevel, "debug|info|warn|error")
	fs.StringVar(&c.LogDir, "log-dir", d.LogDir, "directory for log files; empty writes esmkit.log in the current directory")
	fs.IntVar(&c.Port, "port", d.Port, "bridge HTTP listen port")
	fs.StringVar(&c.SWPath, "sw-path", d.SWPath, "virtual Service Worker script path")
	return c
}

// RCFile is the optional project-level ".esmkitrc.yaml" config, per
// SPEC_FULL §3's scoped-registry supplement: a registry override plus a
// per-scope ("@myorg") registry map, read alongside package.json. Parsing
// is pure (no disk access) so it stays testable without a VFS or real
// filesystem; cmd/esmkit's osfs.go is the one place that reads the file
// itself, per the teacher's "cmd is the only OS-facing layer" convention.
type RCFile struct {
	Registry string            `yaml:"registry"`
	Scopes   map[string]string `yaml:"scopes"`
}

// ParseRC parses a ".esmkitrc.yaml" document. A missing or empty document
// is not an error; callers get a zero-value RCFile with no overrides.
func ParseRC(data []byte) (*RCFile, error) {
	var rc RCFile
	if len(data) == 0 {
		return &rc, nil
	}
	if err := yaml.Unmarshal(data, &rc); err != nil {
		return nil, err
	}
	return &rc, nil
}
