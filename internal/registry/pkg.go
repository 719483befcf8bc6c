// Package registry fetches package manifests and tarballs from an npm
// registry, grounded on the teacher's Pkg/PkgNameInfo parsing in pkg.go.
package registry

import (
	"strings"
)

// NameInfo is the parsed shape of a package specifier like
// "@scope/name/sub/path" or "name@range/sub/path".
type NameInfo struct {
	Fullname  string
	Scope     string
	Name      string
	Submodule string
}

// ParsePkgNameInfo splits a pathname-shaped specifier into scope, bare name,
// and submodule, the way the teacher's parsePkgNameInfo does for esm.sh's
// URL-path package specifiers.
func ParsePkgNameInfo(pathname string) NameInfo {
	parts := strings.Split(strings.Trim(pathname, "/"), "/")
	for i, s := range parts {
		parts[i] = strings.TrimSpace(s)
	}

	scope := ""
	packageName := parts[0]
	submodule := strings.Join(parts[1:], "/")
	fullname := parts[0]
	if strings.HasPrefix(packageName, "@") && len(parts) > 1 {
		scope = packageName[1:]
		packageName = parts[1]
		submodule = strings.Join(parts[2:], "/")
		fullname = "@" + scope + "/" + packageName
	}

	return NameInfo{
		Scope:     scope,
		Name:      packageName,
		Submodule: submodule,
		Fullname:  fullname,
	}
}

// Spec is a parsed "name@range" (or "@scope/name@range") package specifier.
type Spec struct {
	Name    string
	Version string // range or exact version; empty means "latest"
}

// ParsePackageSpec parses "@types/node@18.0.0" into {Name: "@types/node",
// Version: "18.0.0"}, and "lodash" into {Name: "lodash", Version: ""}.
func ParsePackageSpec(spec string) Spec {
	spec = strings.TrimSpace(spec)
	if strings.HasPrefix(spec, "@") {
		rest := spec[1:]
		if at := strings.LastIndex(rest, "@"); at >= 0 {
			return Spec{Name: "@" + rest[:at], Version: rest[at+1:]}
		}
		return Spec{Name: spec}
	}
	if at := strings.LastIndex(spec, "@"); at > 0 {
		return Spec{Name: spec[:at], Version: spec[at+1:]}
	}
	return Spec{Name: spec}
}
