package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jacobrosenfeld/etearsheet-uploader/internal/folder"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/model"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show, reset or edit the portal configuration",
}

var (
	showOutput string
	resetYes   bool
)

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the configuration document",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := env(cmd)
		if err != nil {
			return err
		}
		return RunConfigShow(cmd.Context(), e, showOutput)
	},
}

var configResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Replace the configuration with an empty one",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := env(cmd)
		if err != nil {
			return err
		}
		return RunConfigReset(cmd.Context(), e, resetYes)
	},
}

var configSetParentCmd = &cobra.Command{
	Use:   "set-parent-folder <url>",
	Short: "Point uploads at a shared Drive folder (empty string clears it)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := env(cmd)
		if err != nil {
			return err
		}
		return RunSetParentFolder(cmd.Context(), e, args[0])
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configResetCmd, configSetParentCmd)

	configShowCmd.Flags().StringVarP(&showOutput, "output", "o", "yaml", "output format: yaml or json")
	configResetCmd.Flags().BoolVar(&resetYes, "yes", false, "do not ask for confirmation")
}

type configDocument struct {
	Revision int64               `json:"revision" yaml:"revision"`
	Config   *model.PortalConfig `json:"config" yaml:"config"`
}

// RunConfigShow prints the configuration and its revision.
func RunConfigShow(ctx context.Context, e *Env, output string) error {
	cfg, rev, err := e.Services.Store.ReadConfig(ctx)
	if err != nil {
		return err
	}
	doc := configDocument{Revision: rev, Config: cfg}

	switch strings.ToLower(output) {
	case "yaml", "yml":
		enc := yaml.NewEncoder(e.Out)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(e.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	default:
		return fmt.Errorf("unknown output format %q. Use yaml or json", output)
	}
}

// RunConfigReset deletes the configuration after confirmation.
func RunConfigReset(ctx context.Context, e *Env, yes bool) error {
	if !yes {
		ok, err := e.Prompter.Confirm("Reset the portal configuration? Clients, campaigns and publications will be lost.", false)
		if err != nil {
			return fmt.Errorf("prompt cancelled")
		}
		if !ok {
			fmt.Fprintln(e.Out, "Reset cancelled.")
			return nil
		}
	}
	if err := e.Services.Store.ResetConfig(ctx); err != nil {
		return err
	}
	fmt.Fprintln(e.Out, "Configuration reset.")
	return nil
}

// RunSetParentFolder stores a custom parent folder link and drops the cached root.
func RunSetParentFolder(ctx context.Context, e *Env, url string) error {
	url = strings.TrimSpace(url)
	if url != "" {
		if _, err := folder.ParseFolderID(url); err != nil {
			return fmt.Errorf("%q: %w", url, err)
		}
	}
	_, rev, err := e.Services.Store.UpdateConfig(ctx, func(cfg *model.PortalConfig) error {
		d := cfg.Drive()
		d.ParentFolderURL = url
		d.RootFolderID = ""
		d.RootFolderName = ""
		return nil
	})
	if err != nil {
		return err
	}
	if url == "" {
		fmt.Fprintf(e.Out, "Parent folder cleared (revision %d).\n", rev)
	} else {
		fmt.Fprintf(e.Out, "Parent folder set to %s (revision %d).\n", url, rev)
	}
	return nil
}
