// Command esmkit is the CLI entry point: an in-process package installer,
// module runner, REPL, and Server Bridge, all built on the esmkit
// libraries under internal/. Structured as a thin flag-parsing shell
// around those packages, the way the teacher's server.go is a thin shell
// around the esm.sh server package.
package main

import (
	"bufio"
	"crypto/sha1"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/ije/rex"
	"golang.org/x/term"

	"github.com/esmkit/esmkit/internal/bridge"
	"github.com/esmkit/esmkit/internal/config"
	"github.com/esmkit/esmkit/internal/installer"
	"github.com/esmkit/esmkit/internal/logx"
	"github.com/esmkit/esmkit/internal/registry"
	"github.com/esmkit/esmkit/internal/resolver"
	"github.com/esmkit/esmkit/internal/runtime"
	"github.com/esmkit/esmkit/internal/storage"
	"github.com/esmkit/esmkit/internal/vfs"
)

// manifestCacheTTL bounds how long a disk-cached registry manifest is
// trusted before FetchManifest treats it as a miss and re-fetches.
const manifestCacheTTL = 10 * time.Minute

// openStore opens (creating if absent) the bbolt cache file under
// cfg.CacheDir that backs both VFS snapshot persistence and the registry
// manifest cache across process invocations.
func openStore(cfg *config.Config) (*storage.Store, error) {
	if err := os.MkdirAll(cfg.CacheDir, 0755); err != nil {
		return nil, fmt.Errorf("create cache dir %s: %w", cfg.CacheDir, err)
	}
	return storage.Open(filepath.Join(cfg.CacheDir, "esmkit.db"))
}

// snapshotID derives the storage key a project's VFS snapshot is cached
// under, from its absolute working directory, so unrelated projects sharing
// a cache directory don't collide.
func snapshotID(workDir string) string {
	abs, err := filepath.Abs(workDir)
	if err != nil {
		abs = workDir
	}
	sum := sha1.Sum([]byte(abs))
	return hex.EncodeToString(sum[:])
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "install", "i":
		err = runInstall(args)
	case "run":
		err = runRun(args)
	case "repl":
		err = runREPL(args)
	case "serve":
		err = runServe(args)
	case "help", "-h", "--help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "esmkit: unknown command %q\n", cmd)
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "esmkit: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: esmkit <command> [flags]

commands:
  install <pkg[@range]>   resolve and install a package into node_modules
  run <file.js>           execute a JS module with the embedded runtime
  repl                    start an interactive read-eval-print loop
  serve                   start the Server Bridge HTTP listener`)
}

func newConfig(fs *flag.FlagSet) *config.Config {
	return config.FromFlags(fs)
}

func runInstall(args []string) error {
	fs := flag.NewFlagSet("install", flag.ExitOnError)
	save := fs.Bool("save", true, "write the resolved version to package.json dependencies")
	saveDev := fs.Bool("save-dev", false, "write the resolved version to package.json devDependencies")
	transform := fs.Bool("transform", true, "rewrite installed packages' ESM to CommonJS")
	cfg := newConfig(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: esmkit install <pkg[@range]>")
	}
	if err := logx.Init(cfg.LogDir, cfg.LogLevel); err != nil {
		return err
	}

	cacheStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer cacheStore.Close()

	fsys := vfs.New()
	if err := loadDirIntoVFS(fsys, cfg.WorkDir, "/"); err != nil {
		return fmt.Errorf("load working directory: %w", err)
	}

	rc, err := loadRCFile(cfg.WorkDir)
	if err != nil {
		return fmt.Errorf("load .esmkitrc.yaml: %w", err)
	}
	registryURL := cfg.RegistryURL
	if rc.Registry != "" {
		registryURL = rc.Registry
	}
	reg := registry.NewClient(registryURL)
	reg.ScopedRegistries = rc.Scopes
	reg.Cache = cacheStore
	reg.CacheTTL = manifestCacheTTL
	res := resolver.New(reg, resolver.Options{Concurrency: cfg.ResolveConcurrency})
	in := installer.New(fsys, reg, res, "/")

	flat, err := in.Install(fs.Arg(0), installer.Options{
		Save:                *save,
		SaveDev:             *saveDev,
		Transform:           *transform,
		DownloadConcurrency: cfg.InstallConcurrency,
		OnProgress: func(ev installer.ProgressEvent) {
			fmt.Fprintf(os.Stderr, "%-10s %s\n", ev.Phase, ev.Package)
		},
	})
	if err != nil {
		return err
	}
	if pkg, ok := flat[registry.ParsePackageSpec(fs.Arg(0)).Name]; ok {
		printReadmeSummary(fsys, pkg.Name)
	}
	if err := cacheStore.PutSnapshot(snapshotID(cfg.WorkDir), fsys.ToSnapshot()); err != nil {
		logx.L.Warnf("[install] persist snapshot: %v", err)
	}
	return saveVFSToDir(fsys, "/", cfg.WorkDir)
}

func runRun(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfg := newConfig(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: esmkit run <file.js>")
	}
	if err := logx.Init(cfg.LogDir, cfg.LogLevel); err != nil {
		return err
	}

	cacheStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer cacheStore.Close()

	fsys := vfs.New()
	if err := loadDirIntoVFS(fsys, cfg.WorkDir, "/"); err != nil {
		return fmt.Errorf("load working directory: %w", err)
	}

	rt := runtime.New(fsys, runtime.Options{
		Cwd:      "/",
		Env:      envMap(),
		OnStdout: func(s string) { fmt.Fprint(os.Stdout, s) },
		OnStderr: func(s string) { fmt.Fprint(os.Stderr, s) },
	})

	target := vfs.Normalize("/" + fs.Arg(0))
	_, runErr := rt.RunFile(target)
	if err := cacheStore.PutSnapshot(snapshotID(cfg.WorkDir), fsys.ToSnapshot()); err != nil {
		logx.L.Warnf("[run] persist snapshot: %v", err)
	}
	if exit, ok := asExit(runErr); ok {
		os.Exit(exit.Code)
	}
	return runErr
}

func runREPL(args []string) error {
	fs := flag.NewFlagSet("repl", flag.ExitOnError)
	cfg := newConfig(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := logx.Init(cfg.LogDir, cfg.LogLevel); err != nil {
		return err
	}

	fsys := vfs.New()
	rt := runtime.New(fsys, runtime.Options{
		Cwd:      "/",
		Env:      envMap(),
		OnStdout: func(s string) { fmt.Fprint(os.Stdout, s) },
		OnStderr: func(s string) { fmt.Fprint(os.Stderr, s) },
	})
	repl := rt.CreateREPL()

	fmt.Fprintln(os.Stderr, "esmkit repl - Ctrl+D to exit")
	stdinFd := int(os.Stdin.Fd())
	if !term.IsTerminal(stdinFd) {
		return runREPLPiped(repl)
	}

	oldState, err := term.MakeRaw(stdinFd)
	if err != nil {
		return runREPLPiped(repl)
	}
	defer term.Restore(stdinFd, oldState)

	t := term.NewTerminal(struct {
		io.Reader
		io.Writer
	}{os.Stdin, os.Stdout}, "> ")
	for {
		line, err := t.ReadLine()
		if err != nil {
			return nil
		}
		v, evalErr := repl.Eval(line)
		if evalErr != nil {
			fmt.Fprintf(t, "error: %v\r\n", evalErr)
		} else if v != nil {
			fmt.Fprintf(t, "%s\r\n", v.String())
		}
	}
}

// runREPLPiped is the line-buffered fallback used when stdin isn't a
// real terminal (a pipe, a redirected file), where raw mode makes no
// sense.
func runREPLPiped(repl *runtime.REPL) error {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		v, err := repl.Eval(scanner.Text())
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		} else if v != nil {
			fmt.Fprintln(os.Stdout, v.String())
		}
	}
	return scanner.Err()
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	baseURL := fs.String("base-url", "", "public base URL used to build virtual server URLs; defaults to http://localhost:<port>")
	cfg := newConfig(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := logx.Init(cfg.LogDir, cfg.LogLevel); err != nil {
		return err
	}

	base := *baseURL
	if base == "" {
		base = fmt.Sprintf("http://localhost:%d", cfg.Port)
	}
	b := bridge.New(base)
	b.OnEvent(func(event string, port int) {
		logx.L.Debugf("[bridge] %s port=%d", event, port)
	})

	accessLogger := logx.NewAccessLogger(cfg.LogDir)

	rex.Use(
		rex.ErrorLogger(logx.L),
		rex.AccessLogger(accessLogger),
		rex.Header("Server", "esmkit"),
		rex.Cors(rex.CORS{
			AllowAllOrigins: true,
			AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:    []string{"Origin", "Content-Type", "Content-Length", "Accept-Encoding", "User-Agent", "Connection"},
			MaxAge:          3600,
		}),
		b.Router(),
	)

	C := rex.Serve(rex.ServerConfig{Port: uint16(cfg.Port)})
	logx.L.Debugf("esmkit bridge listening on :%d", cfg.Port)
	err := <-C
	logx.Flush()
	accessLogger.FlushBuffer()
	return err
}

func envMap() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				env[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	return env
}

func asExit(err error) (*runtime.ErrExit, bool) {
	exit, ok := err.(*runtime.ErrExit)
	return exit, ok
}

// printReadmeSummary runs the installed package's README (if any) through
// the goldmark/goldmark-meta pipeline wired in internal/runtime and prints
// one line to stderr: the front-matter title, or else the package name and
// the README's size in bytes. The rendered HTML is not printed.
func printReadmeSummary(fsys *vfs.FS, pkgName string) {
	for _, name := range []string{"README.md", "readme.md", "Readme.md"} {
		p := vfs.Normalize(path.Join("/node_modules", pkgName, name))
		data, err := fsys.ReadFileBuffer(p)
		if err != nil {
			continue
		}
		_, front, err := runtime.RenderMarkdown(data)
		if err != nil {
			return
		}
		if title, ok := front["title"].(string); ok {
			fmt.Fprintf(os.Stderr, "readme: %s\n", title)
		} else {
			fmt.Fprintf(os.Stderr, "readme: %s (%d bytes)\n", pkgName, len(data))
		}
		return
	}
}
