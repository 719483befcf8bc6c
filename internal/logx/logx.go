// Package logx wires esmkit's subsystems to a single process-wide logger.
//
// Every package in this module takes its logger from this package rather
// than threading one through every call signature, matching the teacher's
// own package-level `log *logx.Logger` convention.
package logx

import (
	"fmt"
	"os"
	"path"

	logx "github.com/ije/gox/log"
)

// L is the process-wide logger. It defaults to a no-op logger so embedding
// esmkit as a library never panics on a nil logger before Init is called.
var L = &logx.Logger{}

// Init opens the file-backed logger at <logDir>/esmkit.log and sets its
// level. Safe to call multiple times; the last call wins.
func Init(logDir string, level string) error {
	var target string
	if logDir == "" {
		target = "file:esmkit.log?buffer=32k"
	} else {
		target = fmt.Sprintf("file:%s?buffer=32k", path.Join(logDir, "esmkit.log"))
	}
	l, err := logx.New(target)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	l.SetLevelByName(level)
	L = l
	return nil
}

// NewAccessLogger returns a quiet access logger for the bridge's HTTP
// listener, mirroring the teacher's accessLogger split between error and
// access streams.
func NewAccessLogger(logDir string) *logx.Logger {
	if logDir == "" {
		return &logx.Logger{}
	}
	al, err := logx.New(fmt.Sprintf("file:%s?buffer=32k&fileDateFormat=20060102", path.Join(logDir, "access.log")))
	if err != nil {
		fmt.Fprintf(os.Stderr, "initiate access logger: %v\n", err)
		return &logx.Logger{}
	}
	al.SetQuite(true)
	return al
}

// Flush flushes the buffered log writer. Call on clean shutdown.
func Flush() {
	L.FlushBuffer()
}
