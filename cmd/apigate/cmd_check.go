package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"apigate/internal/check"
	"apigate/internal/failure"
	"apigate/internal/verdict"
)

// outputFlags are shared by every command that renders a report.
type outputFlags struct {
	format string
	pretty bool
	width  int
}

func (o *outputFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.format, "format", "f", "text", "Report format: text, markdown, json")
	cmd.Flags().BoolVar(&o.pretty, "pretty", false, "Render markdown for the terminal")
	cmd.Flags().IntVar(&o.width, "width", 100, "Wrap width for --pretty")
}

// render writes the report in the selected format.
func (o *outputFlags) render(w io.Writer, r *verdict.Report) error {
	switch o.format {
	case "text":
		_, err := io.WriteString(w, verdict.RenderText(r, verdict.DefaultStyles()))
		return err
	case "markdown", "md":
		md := verdict.RenderMarkdown(r)
		if o.pretty {
			out, err := verdict.RenderPretty(md, o.width)
			if err != nil {
				return err
			}
			md = out
		}
		_, err := io.WriteString(w, md)
		return err
	case "json":
		data, err := verdict.RenderJSON(r)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s\n", data)
		return err
	default:
		return failure.Mark(errors.Newf("unknown format %q (valid: text, markdown, json)", o.format), failure.ErrConfig)
	}
}

// triggerFlags carry the pull request metadata.
type triggerFlags struct {
	pr   string
	base string
	head string
}

func (t *triggerFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&t.pr, "pr", "", "Pull request number (default: $PR_NUMBER or the event payload)")
	cmd.Flags().StringVar(&t.base, "base", "", "Base ref (default: $BASE_REF or the event payload)")
	cmd.Flags().StringVar(&t.head, "head", "", "Head ref (default: $HEAD_REF, the event payload or HEAD)")
}

func (t *triggerFlags) input() verdict.TriggerInput {
	return verdict.TriggerInput{PR: t.pr, Base: t.base, Head: t.head}
}

func (a *app) checkCommand() *cobra.Command {
	return a.runCommand(check.Semver, &cobra.Command{
		Use:   "check",
		Short: "Compare the public interface of a pull request with its merge base",
		Long: `Resolves the merge base of --base and --head, checks out and builds both
revisions, extracts their public interfaces and classifies every change.

Writes semver-report.json to the artifact directory, plus the semver-break
artifact holding the PR number when a breaking change is found.`,
		Example: `  apigate check --pr 42 --base origin/main --head HEAD
  apigate check --format markdown --pretty`,
	})
}

func (a *app) featuresCommand() *cobra.Command {
	return a.runCommand(check.Features, &cobra.Command{
		Use:   "features",
		Short: "Check that every capability flag only adds to the public interface",
		Long: `Extracts the public interface of the pull request head with the baseline
feature set, then once per flag with that flag enabled, and fails on any
item a flag removes or changes incompatibly.`,
		Example: `  apigate features --pr 42`,
	})
}

// runCommand wires the flags and handler of one of the two checks.
func (a *app) runCommand(kind check.Kind, cmd *cobra.Command) *cobra.Command {
	var (
		trig    triggerFlags
		out     outputFlags
		timeout time.Duration
	)
	trig.register(cmd)
	out.register(cmd)
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Minute, "Overall time limit")
	cmd.Args = cobra.NoArgs

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		ctx, cancelTimeout := context.WithTimeout(ctx, timeout)
		defer cancelTimeout()

		pins, err := a.pins()
		if err != nil {
			return err
		}
		runner, err := check.NewRunner(a.workspace, a.cfg, pins, check.WithGetenv(a.getenv))
		if err != nil {
			return err
		}

		report, runErr := runner.Run(ctx, kind, trig.input())
		if report == nil {
			return runErr
		}
		if err := out.render(cmd.OutOrStdout(), report); err != nil {
			return err
		}
		if err := a.appendStepSummary(report); err != nil {
			return err
		}
		return runErr
	}
	return cmd
}

// appendStepSummary adds the Markdown report to the GitHub job summary
// when the job provides one.
func (a *app) appendStepSummary(r *verdict.Report) error {
	path := a.getenv("GITHUB_STEP_SUMMARY")
	if path == "" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrapf(err, "open step summary %s", path)
	}
	defer f.Close()
	if _, err := io.WriteString(f, verdict.RenderMarkdown(r)+"\n"); err != nil {
		return errors.Wrapf(err, "write step summary %s", path)
	}
	return nil
}
