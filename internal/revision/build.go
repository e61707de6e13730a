package revision

import (
	"context"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"apigate/internal/failure"
	"apigate/internal/logging"
)

// BuildHook is a shell command run in a checkout before extraction.
type BuildHook struct {
	Command string
	Timeout time.Duration
	Env     map[string]string
}

// BuildResult captures execution outcome for one hook run.
type BuildResult struct {
	Rev        string
	Output     string
	DurationMs int64
}

// Run executes the hook in dir. An empty command is a no-op. A failing
// command is a build failure of rev.
func (h BuildHook) Run(ctx context.Context, dir, rev string) (*BuildResult, error) {
	if strings.TrimSpace(h.Command) == "" {
		return &BuildResult{Rev: rev}, nil
	}

	start := time.Now()
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logging.Build("building %s: %s", short(rev), h.Command)
	out, err := runShell(tctx, h.Command, dir, h.environ())
	res := &BuildResult{Rev: rev, Output: out, DurationMs: time.Since(start).Milliseconds()}
	if err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		logging.BuildError("build of %s failed after %dms:\n%s", short(rev), res.DurationMs, tail(out, 40))
		return res, failure.BuildFailure(rev, err)
	}
	logging.Build("built %s in %dms", short(rev), res.DurationMs)
	return res, nil
}

func (h BuildHook) environ() []string {
	if len(h.Env) == 0 {
		return nil
	}
	env := os.Environ()
	keys := make([]string, 0, len(h.Env))
	for k := range h.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+h.Env[k])
	}
	return env
}

func runShell(ctx context.Context, command, workdir string, env []string) (string, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return "", errors.New("empty command")
	}

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "powershell", "-NoProfile", "-Command", command)
	} else {
		cmd = exec.CommandContext(ctx, "sh", "-c", command)
	}

	if workdir != "" {
		cmd.Dir = workdir
	}
	cmd.Env = env
	// Children that keep the output pipe open must not outlive the timeout.
	cmd.WaitDelay = 2 * time.Second

	out, err := cmd.CombinedOutput()
	if ctx.Err() != nil {
		return string(out), errors.Wrapf(ctx.Err(), "command timed out (%s)", command)
	}
	if err != nil {
		return string(out), errors.Wrapf(err, "command failed (%s)", command)
	}
	return string(out), nil
}

// tail returns the last n lines of s.
func tail(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
