// Package doctor checks an mcphub configuration against the filesystem before
// anything is started.
package doctor

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/mattjoyce/mcphub/internal/admission"
	"github.com/mattjoyce/mcphub/internal/config"
	"github.com/mattjoyce/mcphub/internal/lock"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded configuration.
type Doctor struct {
	cfg      *config.Config
	lookPath func(string) (string, error)
	checkFS  func(string) error
}

// New creates a Doctor for cfg.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg, lookPath: exec.LookPath, checkFS: lock.CheckStateDir}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateServersDir(r)
	d.validateStateDir(r)
	d.validateServers(r)
	d.warnCapacity(r)
	d.warnAPIExposure(r)
	d.warnTimeouts(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateServersDir(r *Result) {
	fi, err := os.Stat(d.cfg.ServersDir)
	switch {
	case err != nil:
		d.addError(r, "filesystem", "servers_dir", fmt.Sprintf("%s: %v", d.cfg.ServersDir, err))
	case !fi.IsDir():
		d.addError(r, "filesystem", "servers_dir", fmt.Sprintf("%s is not a directory", d.cfg.ServersDir))
	}
	if len(d.cfg.Servers) == 0 {
		d.addWarning(r, "servers", "servers", "no servers declared")
	}
}

// validateStateDir refuses a state dir where the PID lock would not hold.
func (d *Doctor) validateStateDir(r *Result) {
	if err := d.checkFS(d.cfg.Service.StateDir); errors.Is(err, lock.ErrNetworkFilesystem) {
		d.addError(r, "filesystem", "service.state_dir", err.Error())
	}
}

// validateServers checks each server directory and that its commands resolve.
func (d *Doctor) validateServers(r *Result) {
	for _, srv := range d.cfg.OrderedServers() {
		dir := d.cfg.ServerDir(srv.Name)
		field := "servers." + srv.Name

		fi, err := os.Stat(dir)
		if err != nil {
			d.addError(r, "filesystem", field+".path", fmt.Sprintf("%s: %v", dir, err))
			continue
		}
		if !fi.IsDir() {
			d.addError(r, "filesystem", field+".path", fmt.Sprintf("%s is not a directory", dir))
			continue
		}

		if err := d.resolve(srv.Command, dir); err != nil {
			d.addError(r, "command", field+".command", err.Error())
		}
		if len(srv.Setup) > 0 {
			if err := d.resolve(srv.Setup, dir); err != nil {
				d.addError(r, "command", field+".setup", err.Error())
			}
		}

		for k, v := range srv.Env {
			if v == "" {
				d.addWarning(r, "env", field+".env."+k, "value is empty (unset environment variable?)")
			}
		}
		if srv.AutoStart && srv.MaxRetries == 0 {
			d.addWarning(r, "restart", field+".max_retries", "auto_start server will not be restarted after a crash")
		}
	}
}

// resolve checks that argv[0] is runnable from dir, the way exec would find it.
func (d *Doctor) resolve(argv config.Command, dir string) error {
	if len(argv) == 0 {
		return fmt.Errorf("command is empty")
	}
	bin := argv[0]
	if !strings.Contains(bin, string(filepath.Separator)) {
		if _, err := d.lookPath(bin); err != nil {
			return fmt.Errorf("%q not found in PATH", bin)
		}
		return nil
	}
	if !filepath.IsAbs(bin) {
		bin = filepath.Join(dir, bin)
	}
	fi, err := os.Stat(bin)
	if err != nil {
		return fmt.Errorf("%s: %v", bin, err)
	}
	if fi.IsDir() || fi.Mode()&0o111 == 0 {
		return fmt.Errorf("%s is not executable", bin)
	}
	return nil
}

// warnCapacity flags auto-start sets that cannot all run under the ceiling.
func (d *Doctor) warnCapacity(r *Result) {
	auto := 0
	for _, srv := range d.cfg.Servers {
		if srv.AutoStart {
			auto++
		}
	}
	if limit := d.cfg.Orchestrator.MaxConcurrentServers; auto > limit {
		d.addWarning(r, "capacity", "orchestrator.max_concurrent_servers",
			fmt.Sprintf("%d servers auto-start but only %d may run; lowest priority ones will be skipped", auto, limit))
	}
}

// warnAPIExposure flags an unauthenticated API bound beyond loopback.
func (d *Doctor) warnAPIExposure(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	host, _, err := net.SplitHostPort(d.cfg.API.Listen)
	if err != nil {
		d.addError(r, "api", "api.listen", fmt.Sprintf("invalid listen address %q: %v", d.cfg.API.Listen, err))
		return
	}
	ip := net.ParseIP(host)
	if host == "localhost" || (ip != nil && ip.IsLoopback()) {
		return
	}
	d.addWarning(r, "api", "api.listen", "API has no authentication and listens beyond loopback")
}

func (d *Doctor) warnTimeouts(r *Result) {
	for _, srv := range d.cfg.OrderedServers() {
		if srv.RequestTimeout > admission.MaxRequestTimeout {
			d.addWarning(r, "timeout", "servers."+srv.Name+".request_timeout",
				fmt.Sprintf("%v exceeds the API request limit of %v", srv.RequestTimeout, admission.MaxRequestTimeout))
		}
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid {
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	} else {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		writeIssue(&b, "ERROR", e)
	}
	for _, w := range r.Warnings {
		writeIssue(&b, "WARN ", w)
	}
	return b.String()
}

func writeIssue(b *strings.Builder, level string, i Issue) {
	if i.Field != "" {
		fmt.Fprintf(b, "  %s [%s] %s: %s\n", level, i.Category, i.Field, i.Message)
		return
	}
	fmt.Fprintf(b, "  %s [%s] %s\n", level, i.Category, i.Message)
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
