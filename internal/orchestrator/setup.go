package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/mattjoyce/mcphub/internal/config"
)

// maxSetupOutput caps how much setup output is kept for error messages.
const maxSetupOutput = 4096

// runSetup executes a server's one-time setup command in its directory.
func runSetup(ctx context.Context, srv config.ServerConfig, dir string, timeout time.Duration) error {
	if len(srv.Setup) == 0 {
		return nil
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, srv.Setup[0], srv.Setup[1:]...)
	cmd.Dir = dir
	cmd.Env = os.Environ()
	keys := make([]string, 0, len(srv.Env))
	for k := range srv.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cmd.Env = append(cmd.Env, k+"="+srv.Env[k])
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("setup %q timed out after %v: %w", strings.Join(srv.Setup, " "), timeout, ctx.Err())
		}
		output := strings.TrimSpace(out.String())
		if len(output) > maxSetupOutput {
			output = output[len(output)-maxSetupOutput:]
		}
		return fmt.Errorf("setup %q failed: %w: %s", strings.Join(srv.Setup, " "), err, output)
	}
	return nil
}
