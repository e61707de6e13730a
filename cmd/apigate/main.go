// Command apigate gates pull requests on public interface compatibility.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"apigate/internal/config"
	"apigate/internal/failure"
	"apigate/internal/logging"
	"apigate/internal/toolchain"
)

// app holds the state shared by every subcommand of one invocation.
type app struct {
	// Global flags
	verbose    bool
	workspace  string
	configPath string

	cfg    *config.Config
	logger *zap.Logger

	stdout io.Writer
	stderr io.Writer
	getenv func(string) string
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{stdout: stdout, stderr: stderr, getenv: os.Getenv}
}

// rootCommand builds the command tree.
func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "apigate",
		Short: "Public interface compatibility gate for pull requests",
		Long: `apigate extracts the public interface of the merge base and head of a
pull request, classifies every change with a rule table and fails the
job when a change would break downstream users.

Exit codes:
  0  pass, or breaking change acknowledged
  1  breaking change, additivity violation or build failure
  2  configuration, trigger or tooling error`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logging.Sync()
		},
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")
	root.PersistentFlags().StringVarP(&a.workspace, "workspace", "w", "", "Repository root (default: current directory)")
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", config.DefaultPath, "Configuration file, relative to the workspace")

	root.AddCommand(
		a.checkCommand(),
		a.featuresCommand(),
		a.snapshotCommand(),
		a.compareCommand(),
		a.versionCommand(),
	)
	return root
}

// setup resolves the workspace, loads .env and the configuration and
// installs the logger.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	if a.workspace == "" {
		wd, err := os.Getwd()
		if err != nil {
			return errors.Wrap(err, "resolve working directory")
		}
		a.workspace = wd
	}
	ws, err := filepath.Abs(a.workspace)
	if err != nil {
		return failure.Mark(errors.Wrapf(err, "resolve workspace %s", a.workspace), failure.ErrConfig)
	}
	a.workspace = ws

	// .env only fills variables the CI job did not set.
	if err := godotenv.Load(filepath.Join(ws, ".env")); err != nil && !os.IsNotExist(err) {
		return failure.Mark(errors.Wrap(err, "load .env"), failure.ErrConfig)
	}

	cfg, err := config.Load(config.Resolve(ws, a.configPath))
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	logger, err := logging.Initialize(cfg.Logging.ToLogging(), a.verbose)
	if err != nil {
		return failure.Mark(err, failure.ErrConfig)
	}
	a.logger = logger
	logging.BootDebug("workspace %s, language %s", ws, cfg.Project.Language)
	return nil
}

func (a *app) pins() (toolchain.Pins, error) {
	return toolchain.LoadPins(
		config.Resolve(a.workspace, a.cfg.Pins.CheckerFile),
		config.Resolve(a.workspace, a.cfg.Pins.ToolchainFile),
	)
}

// execute runs the command line and returns the process exit code.
func execute(args []string, stdout, stderr io.Writer) int {
	a := newApp(stdout, stderr)
	root := a.rootCommand()
	root.SetArgs(args)
	err := root.Execute()
	if err != nil {
		reportError(stderr, err)
	}
	return failure.ExitCode(err)
}

// reportError prints err and its remediation hints.
func reportError(w io.Writer, err error) {
	fmt.Fprintf(w, "apigate: %v\n", err)
	for _, hint := range failure.Hints(err) {
		fmt.Fprintf(w, "  hint: %s\n", hint)
	}
}

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}
