package main

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/esmkit/esmkit/internal/config"
	"github.com/esmkit/esmkit/internal/vfs"
)

// loadRCFile reads "<dir>/.esmkitrc.yaml" from disk, if present. A missing
// file is not an error: callers get a zero-value RCFile with no overrides.
func loadRCFile(dir string) (*config.RCFile, error) {
	data, err := os.ReadFile(filepath.Join(dir, ".esmkitrc.yaml"))
	if err != nil {
		if os.IsNotExist(err) {
			return &config.RCFile{}, nil
		}
		return nil, err
	}
	return config.ParseRC(data)
}

// loadDirIntoVFS mirrors the real directory tree rooted at osDir onto
// vfsDir inside fsys, so the in-memory VFS the loader/installer/runtime
// packages operate on reflects whatever a caller has on disk. esmkit's
// library packages never touch the OS filesystem directly (spec §9's "the
// VFS is the single source of truth" design note); the CLI is the one
// place that bridges real disk I/O to the VFS.
func loadDirIntoVFS(fsys *vfs.FS, osDir, vfsDir string) error {
	osDir = filepath.Clean(osDir)
	if _, err := os.Stat(osDir); os.IsNotExist(err) {
		return fsys.MkdirSync(vfsDir, true)
	}
	return filepath.WalkDir(osDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(osDir, p)
		if err != nil {
			return err
		}
		target := vfsDir
		if rel != "." {
			target = vfs.Normalize(vfsDir + "/" + filepath.ToSlash(rel))
		}
		if d.IsDir() {
			return fsys.MkdirSync(target, true)
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		return fsys.WriteFileSync(target, data)
	})
}

// saveVFSToDir walks vfsDir inside fsys and materializes it onto osDir,
// the inverse of loadDirIntoVFS, used after an install or build to persist
// results back to real disk.
func saveVFSToDir(fsys *vfs.FS, vfsDir, osDir string) error {
	return walkVFS(fsys, vfsDir, func(relPath string, isDir bool, content []byte) error {
		target := filepath.Join(osDir, filepath.FromSlash(relPath))
		if isDir {
			return os.MkdirAll(target, 0o755)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		return os.WriteFile(target, content, 0o644)
	})
}

// walkVFS recursively visits every entry under root, reporting paths
// relative to root.
func walkVFS(fsys *vfs.FS, root string, visit func(relPath string, isDir bool, content []byte) error) error {
	return walkVFSRel(fsys, root, "", visit)
}

func walkVFSRel(fsys *vfs.FS, absPath, relPath string, visit func(relPath string, isDir bool, content []byte) error) error {
	entries, err := fsys.ReaddirSync(absPath)
	if err != nil {
		return nil // absPath doesn't exist yet; nothing to save
	}
	for _, name := range entries {
		full := vfs.Normalize(absPath + "/" + name)
		rel := name
		if relPath != "" {
			rel = relPath + "/" + name
		}
		stat, err := fsys.StatSync(full)
		if err != nil {
			continue
		}
		if stat.IsDirectory() {
			if err := visit(rel, true, nil); err != nil {
				return err
			}
			if err := walkVFSRel(fsys, full, rel, visit); err != nil {
				return err
			}
			continue
		}
		data, err := fsys.ReadFileBuffer(full)
		if err != nil {
			return err
		}
		if err := visit(rel, false, data); err != nil {
			return err
		}
	}
	return nil
}
