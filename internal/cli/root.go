// Package cli implements portalctl, the operator tool for the portal's
// configuration and Drive folders.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jacobrosenfeld/etearsheet-uploader/internal/app"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/conf"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/logging"
)

// Env is what every command runs against.
type Env struct {
	Services *app.Services
	Out      io.Writer
	Prompter Prompter
}

var (
	envFile string

	// DefaultOutput is where commands print.
	DefaultOutput io.Writer = os.Stdout

	// build constructs the services from the environment. Tests replace it.
	build = func(ctx context.Context) (*app.Services, error) {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
		cfg, err := conf.Load()
		if err != nil {
			return nil, err
		}
		logging.Setup(cfg.Log)
		return app.Build(ctx, cfg)
	}
)

var rootCmd = &cobra.Command{
	Use:   "portalctl",
	Short: "Operate the eTearsheet upload portal",
	Long: `portalctl edits the portal configuration and works with the Drive folder tree
using the same settings as the API (environment, SSM parameters, DynamoDB).

Examples:
  portalctl config show --output yaml
  portalctl entries add client "Acme Corp"
  portalctl resolve --client Acme --campaign Spring24 --publication DailyPost
  portalctl upload tearsheet.pdf --client Acme --campaign Spring24 --publication DailyPost`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "dotenv file to load if present")
}

// env builds the command environment.
func env(cmd *cobra.Command) (*Env, error) {
	s, err := build(cmd.Context())
	if err != nil {
		return nil, err
	}
	return &Env{Services: s, Out: DefaultOutput, Prompter: DefaultPrompter}, nil
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
