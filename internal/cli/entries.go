package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jacobrosenfeld/etearsheet-uploader/internal/model"
)

var entriesCmd = &cobra.Command{
	Use:   "entries",
	Short: "Manage clients, campaigns and publications",
	Long: `Manage the names offered in the upload form.

Examples:
  portalctl entries list client
  portalctl entries add publication "Daily Post"
  portalctl entries hide campaign Spring23`,
}

func entryCommand(use, short string, run func(context.Context, *Env, string, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [client|campaign|publication] <name>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := env(cmd)
			if err != nil {
				return err
			}
			return run(cmd.Context(), e, args[0], args[1])
		},
	}
}

var entriesListCmd = &cobra.Command{
	Use:   "list [client|campaign|publication]",
	Short: "List entries, hidden ones included",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := env(cmd)
		if err != nil {
			return err
		}
		return RunEntriesList(cmd.Context(), e, args[0])
	},
}

func init() {
	rootCmd.AddCommand(entriesCmd)
	entriesCmd.AddCommand(
		entriesListCmd,
		entryCommand("add", "Add an entry", RunEntriesAdd),
		entryCommand("hide", "Hide an entry from the upload form", func(ctx context.Context, e *Env, kind, name string) error {
			return RunEntriesSetHidden(ctx, e, kind, name, true)
		}),
		entryCommand("show", "Show a hidden entry again", func(ctx context.Context, e *Env, kind, name string) error {
			return RunEntriesSetHidden(ctx, e, kind, name, false)
		}),
	)
}

// entryList returns the list named by kind. Plurals are accepted.
func entryList(cfg *model.PortalConfig, kind string) (*[]model.Entry, error) {
	switch strings.TrimSuffix(strings.ToLower(kind), "s") {
	case "client":
		return &cfg.Clients, nil
	case "campaign":
		return &cfg.Campaigns, nil
	case "publication":
		return &cfg.Publications, nil
	}
	return nil, fmt.Errorf("unknown entry type %q. Use client, campaign, or publication", kind)
}

// RunEntriesList prints the entries of one kind.
func RunEntriesList(ctx context.Context, e *Env, kind string) error {
	cfg, _, err := e.Services.Store.ReadConfig(ctx)
	if err != nil {
		return err
	}
	list, err := entryList(cfg, kind)
	if err != nil {
		return err
	}
	if len(*list) == 0 {
		fmt.Fprintf(e.Out, "No %s entries configured.\n", strings.TrimSuffix(kind, "s"))
		return nil
	}
	w := tabwriter.NewWriter(e.Out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tHIDDEN")
	for _, entry := range *list {
		fmt.Fprintf(w, "%s\t%t\n", entry.Name, entry.Hidden)
	}
	return w.Flush()
}

// RunEntriesAdd appends a visible entry.
func RunEntriesAdd(ctx context.Context, e *Env, kind, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("name must not be empty")
	}
	_, _, err := e.Services.Store.UpdateConfig(ctx, func(cfg *model.PortalConfig) error {
		list, err := entryList(cfg, kind)
		if err != nil {
			return err
		}
		for _, existing := range *list {
			if existing.Name == name {
				return fmt.Errorf("%s %q already exists", kind, name)
			}
		}
		*list = append(*list, model.Entry{Name: name})
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(e.Out, "Added %s %q\n", kind, name)
	return nil
}

// RunEntriesSetHidden hides or shows an existing entry.
func RunEntriesSetHidden(ctx context.Context, e *Env, kind, name string, hidden bool) error {
	_, _, err := e.Services.Store.UpdateConfig(ctx, func(cfg *model.PortalConfig) error {
		list, err := entryList(cfg, kind)
		if err != nil {
			return err
		}
		for i := range *list {
			if (*list)[i].Name == name {
				(*list)[i].Hidden = hidden
				return nil
			}
		}
		return fmt.Errorf("%s %q not found", kind, name)
	})
	if err != nil {
		return err
	}
	state := "visible"
	if hidden {
		state = "hidden"
	}
	fmt.Fprintf(e.Out, "%s %q is now %s\n", kind, name, state)
	return nil
}
