// Package applog constructs the daemon's logger: a standard
// *log.Logger writing structured "key=value" lines to a rotated file
// via lumberjack, instead of growing the file unbounded.
package applog

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation parameters: rotate at 10 MiB, keep 5 backups.
const (
	maxSizeMB  = 10
	maxBackups = 5
)

// New returns a logger that writes to path with rotation, and also
// tees to stderr when tee is true (useful for foreground/debug runs).
func New(path string, tee bool) (*log.Logger, io.Closer, error) {
	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		Compress:   false,
	}

	var w io.Writer = rotator
	if tee {
		w = io.MultiWriter(rotator, os.Stderr)
	}

	return log.New(w, "", log.LstdFlags|log.Lmicroseconds), rotator, nil
}

// Record writes one structured log line in a {level, component, kind,
// message, context...} shape, e.g.:
//
//	2026/07/30 10:00:00.000000 level=error component=cron kind=IOError message="task file unreadable" task_id=abc123
func Record(logger *log.Logger, level, component, kind, message string, context map[string]any) {
	var b strings.Builder
	fmt.Fprintf(&b, "level=%s component=%s", level, component)
	if kind != "" {
		fmt.Fprintf(&b, " kind=%s", kind)
	}
	fmt.Fprintf(&b, " message=%q", message)
	for k, v := range context {
		fmt.Fprintf(&b, " %s=%v", k, v)
	}
	logger.Println(b.String())
}
