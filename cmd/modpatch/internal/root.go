package internal

import (
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/smith-xyz/go-module-patcher/pkg/config"
)

var (
	Version   = "dev"     // Overridden by ldflags
	BuildTime = "unknown" // Overridden by ldflags
)

// globals are the flags shared by every subcommand.
type globals struct {
	logLevel string
	out      io.Writer
	errOut   io.Writer
}

func NewRootCommand(out, errOut io.Writer) *cobra.Command {
	g := &globals{out: out, errOut: errOut}

	root := &cobra.Command{
		Use:   "modpatch",
		Short: "Apply declarative source patches to bundled modules",
		Long: `modpatch runs module sources through a set of patch rule packs the same
way the in-process engine does when it intercepts a host's module factories.

Use it to preview what a rule pack does to a captured bundle, or in CI to
detect patches whose targets have drifted upstream.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.SetErr(errOut)
	root.SetVersionTemplate(fmt.Sprintf("{{.Name}} version {{.Version}}\nBuild time: %s\nGo version: %s\nPlatform: %s/%s\n",
		BuildTime, goVersion(), runtime.GOOS, runtime.GOARCH))

	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides "+config.EnvLogLevel)

	root.AddCommand(newApplyCommand(g))
	root.AddCommand(newCheckCommand(g))
	root.AddCommand(newVersionCommand())

	return root
}

// setup loads the environment configuration and builds the logger.
func (g *globals) setup() (config.Config, *slog.Logger, error) {
	cfg, err := config.LoadConfigFromEnv()
	if err != nil {
		return cfg, nil, err
	}
	if g.logLevel != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(g.logLevel)); err != nil {
			return cfg, nil, fmt.Errorf("--log-level: %w", err)
		}
	}
	logger := slog.New(slog.NewTextHandler(g.errOut, &slog.HandlerOptions{Level: cfg.LogLevel}))
	return cfg, logger, nil
}

func goVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		return info.GoVersion
	}
	return "unknown"
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "modpatch %s (built %s, %s, %s/%s)\n",
				Version, BuildTime, goVersion(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
