// Package scripts runs the one-off data-migration programs the migration
// needs between proposals, such as exporting legacy assessment rewards or
// populating v2 products.
package scripts

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/nexusmutual/forkmigrate/log"
)

// Script names used by the migration.
const (
	LegacyAssessmentRewards = "get-legacy-assessment-rewards"
	ProductsV1              = "get-products-v1"
	PopulateV2Products      = "populate-v2-products"
)

// Environment variables passed to scripts.
const (
	EnvProviderURL   = "PROVIDER_URL"
	EnvCoverAddress  = "COVER_ADDRESS"
	EnvSignerAddress = "SIGNER_ADDRESS"
)

// Command is how a script is started. Dir defaults to the working
// directory.
type Command struct {
	Path string   `yaml:"path"`
	Args []string `yaml:"args"`
	Dir  string   `yaml:"dir"`
}

// Runner starts configured scripts against a node.
type Runner struct {
	commands    map[string]Command
	providerURL string
	log         *log.Logger
}

// NewRunner returns a Runner for the given commands. Every script inherits
// the process environment plus PROVIDER_URL set to providerURL.
func NewRunner(commands map[string]Command, providerURL string, l *log.Logger) *Runner {
	if l == nil {
		l = log.Default()
	}
	return &Runner{commands: commands, providerURL: providerURL, log: l.Module("scripts")}
}

// Configured lists the scripts that have a command, sorted.
func (r *Runner) Configured() []string {
	out := make([]string, 0, len(r.commands))
	for n, c := range r.commands {
		if c.Path != "" {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

// Run executes the script called name with env added to its environment.
// A script without a command is logged and skipped. Output is streamed to
// the log line by line.
func (r *Runner) Run(ctx context.Context, name string, env map[string]string) error {
	cmd, ok := r.commands[name]
	if !ok || cmd.Path == "" {
		r.log.Warn("script not configured, skipping", "script", name)
		return nil
	}

	c := exec.CommandContext(ctx, cmd.Path, cmd.Args...)
	c.Dir = cmd.Dir
	c.Env = append(os.Environ(), EnvProviderURL+"="+r.providerURL)
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		c.Env = append(c.Env, k+"="+env[k])
	}

	var stderr bytes.Buffer
	stdout := &lineWriter{log: r.log, script: name}
	c.Stdout = stdout
	c.Stderr = &stderr

	r.log.Info("running script", "script", name, "path", cmd.Path, "args", strings.Join(cmd.Args, " "))
	err := c.Run()
	stdout.flush()
	if err != nil {
		return errors.Wrapf(err, "script %s: %s", name, strings.TrimSpace(stderr.String()))
	}
	r.log.Info("script finished", "script", name)
	return nil
}

// lineWriter logs each complete line written to it.
type lineWriter struct {
	log    *log.Logger
	script string
	buf    []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

func (w *lineWriter) flush() {
	if len(w.buf) > 0 {
		w.emit(w.buf)
		w.buf = nil
	}
}

func (w *lineWriter) emit(line []byte) {
	if s := strings.TrimRight(string(line), "\r"); s != "" {
		w.log.Info(s, "script", w.script)
	}
}
