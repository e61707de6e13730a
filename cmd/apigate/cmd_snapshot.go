package main

import (
	"fmt"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"apigate/internal/check"
	"apigate/internal/diff"
	"apigate/internal/failure"
	"apigate/internal/snapshot"
	"apigate/internal/toolchain"
	"apigate/internal/verdict"
	"apigate/internal/version"
)

func (a *app) snapshotCommand() *cobra.Command {
	var (
		rev      string
		features []string
		format   string
		output   string
	)
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Extract the public interface of one revision",
		Long: `Extracts the public interface of --rev (or the working tree when --rev is
empty) with the baseline features plus --features enabled.`,
		Example: `  apigate snapshot --rev origin/main -o base.json
  apigate snapshot --features std,serde --format listing`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, err := check.NewRunner(a.workspace, a.cfg, toolchain.Pins{})
			if err != nil {
				return err
			}
			snap, err := runner.Snapshot(cmd.Context(), rev, features)
			if err != nil {
				return err
			}

			var data []byte
			switch format {
			case "json":
				if data, err = snap.Encode(); err != nil {
					return err
				}
			case "listing":
				data = []byte(snap.Listing())
			default:
				return failure.Mark(errors.Newf("unknown format %q (valid: json, listing)", format), failure.ErrConfig)
			}

			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0644); err != nil {
				return errors.Wrapf(err, "write snapshot %s", output)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d symbols written to %s\n", snap.Len(), output)
			return nil
		},
	}
	cmd.Flags().StringVar(&rev, "rev", "", "Revision to extract (default: working tree)")
	cmd.Flags().StringSliceVar(&features, "features", nil, "Flags to enable on top of the baseline")
	cmd.Flags().StringVar(&format, "format", "json", "Output format: json, listing")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default: stdout)")
	return cmd
}

func readSnapshot(path string) (*snapshot.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, failure.Mark(errors.Wrapf(err, "read snapshot %s", path), failure.ErrConfig)
	}
	snap, err := snapshot.Decode(data)
	if err != nil {
		return nil, failure.Mark(errors.Wrapf(err, "decode snapshot %s", path), failure.ErrConfig)
	}
	return snap, nil
}

func (a *app) compareCommand() *cobra.Command {
	var (
		out     outputFlags
		pr      int
		listing bool
	)
	cmd := &cobra.Command{
		Use:   "compare <base.json> <head.json>",
		Short: "Classify the changes between two stored snapshots",
		Long: `Runs the rule table over two snapshots written by "apigate snapshot"
without touching the repository. No artifact is written.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := readSnapshot(args[0])
			if err != nil {
				return err
			}
			head, err := readSnapshot(args[1])
			if err != nil {
				return err
			}
			runner, err := check.NewRunner(a.workspace, a.cfg, toolchain.Pins{})
			if err != nil {
				return err
			}
			report, err := runner.Compare(base, head, verdict.Trigger{PR: pr, Base: base.Revision, Head: head.Revision})
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if err := out.render(w, report); err != nil {
				return err
			}
			if listing {
				d := diff.Listings(args[0], args[1], base.Listing(), head.Listing())
				if !d.Empty() {
					if _, err := io.WriteString(w, "\n"+d.Unified()); err != nil {
						return err
					}
				}
			}
			return report.Verdict.Err()
		},
	}
	out.register(cmd)
	cmd.Flags().IntVar(&pr, "pr", 0, "Pull request number to match acknowledgments against")
	cmd.Flags().BoolVar(&listing, "listing", false, "Also print a unified diff of the two listings")
	return cmd
}

func (a *app) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the apigate version and the pinned tool versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pins, err := a.pins()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\npins: %s\n", version.String(), pins)
			return nil
		},
	}
}
