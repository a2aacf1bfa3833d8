package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jacobrosenfeld/etearsheet-uploader/internal/model"
)

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Manage admin notifications",
}

// NotificationInput describes a new admin notification.
type NotificationInput struct {
	Version string
	Title   string
	Message string
	Type    string
}

var notifyInput NotificationInput

var notifyAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Post a notification to the admin panel",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := env(cmd)
		if err != nil {
			return err
		}
		_, err = RunNotifyAdd(cmd.Context(), e, notifyInput)
		return err
	},
}

func init() {
	rootCmd.AddCommand(notifyCmd)
	notifyCmd.AddCommand(notifyAddCmd)

	notifyAddCmd.Flags().StringVar(&notifyInput.Version, "version", "", "release the notification refers to")
	notifyAddCmd.Flags().StringVar(&notifyInput.Title, "title", "", "title (required)")
	notifyAddCmd.Flags().StringVar(&notifyInput.Message, "message", "", "message (required)")
	notifyAddCmd.Flags().StringVar(&notifyInput.Type, "type", "info", "info, warning or success")
	notifyAddCmd.MarkFlagRequired("title")
	notifyAddCmd.MarkFlagRequired("message")
}

// RunNotifyAdd appends a notification and returns it.
func RunNotifyAdd(ctx context.Context, e *Env, in NotificationInput) (*model.AdminNotification, error) {
	switch in.Type {
	case "info", "warning", "success":
	default:
		return nil, fmt.Errorf("unknown notification type %q. Use info, warning, or success", in.Type)
	}
	if strings.TrimSpace(in.Title) == "" || strings.TrimSpace(in.Message) == "" {
		return nil, fmt.Errorf("--title and --message are required")
	}

	n := model.AdminNotification{
		ID:          uuid.NewString(),
		Version:     in.Version,
		Title:       in.Title,
		Message:     in.Message,
		Type:        in.Type,
		CreatedAt:   time.Now().UTC(),
		DismissedBy: []string{},
	}
	_, _, err := e.Services.Store.UpdateConfig(ctx, func(cfg *model.PortalConfig) error {
		cfg.AdminNotifications = append(cfg.AdminNotifications, n)
		return nil
	})
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(e.Out, "Added notification %s: %s\n", n.ID, n.Title)
	return &n, nil
}
