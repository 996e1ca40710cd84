package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telekom/sla-escalation/pkg/notification"
	"github.com/telekom/sla-escalation/pkg/slactl/output"
)

func NewNotificationCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "notifications",
		Aliases: []string{"notification", "notif"},
		Short:   "Inspect the notification ledger",
	}
	cmd.AddCommand(
		newNotificationListCommand(),
		newNotificationGetCommand(),
	)
	return cmd
}

func newNotificationListCommand() *cobra.Command {
	var (
		filter   notification.Filter
		channel  string
		status   string
		priority string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List notifications, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			format, err := output.ParseFormat(rt.OutputFormat())
			if err != nil {
				return err
			}
			filter.Channel = notification.Channel(channel)
			filter.Status = notification.Status(status)
			filter.Priority = notification.Priority(priority)

			apiClient, err := buildClient(rt)
			if err != nil {
				return err
			}
			records, err := apiClient.Notifications().List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			switch format {
			case output.FormatJSON, output.FormatYAML:
				return output.WriteObject(rt.Writer(), format, records)
			case output.FormatWide:
				output.WriteNotificationTableWide(rt.Writer(), records)
			default:
				output.WriteNotificationTable(rt.Writer(), records)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&filter.ClaimID, "claim", "", "Only notifications for this claim")
	cmd.Flags().StringVar(&filter.BreachID, "breach", "", "Only notifications for this breach")
	cmd.Flags().StringVar(&channel, "channel", "", "Filter by channel: email, sms, portal")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status: pending, sent, delivered, failed")
	cmd.Flags().StringVar(&priority, "priority", "", "Filter by priority: low, normal, high, critical")
	cmd.Flags().IntVar(&filter.Limit, "limit", 0, "Maximum number of notifications (0 for server default)")
	return cmd
}

func newNotificationGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: "Get a notification by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			format, err := output.ParseFormat(rt.OutputFormat())
			if err != nil {
				return err
			}
			apiClient, err := buildClient(rt)
			if err != nil {
				return err
			}
			rec, err := apiClient.Notifications().Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			switch format {
			case output.FormatJSON, output.FormatYAML:
				return output.WriteObject(rt.Writer(), format, rec)
			case output.FormatWide:
				output.WriteNotificationTableWide(rt.Writer(), []notification.Record{*rec})
			case output.FormatTable:
				output.WriteNotificationTable(rt.Writer(), []notification.Record{*rec})
			default:
				return fmt.Errorf("unknown output format: %s", format)
			}
			return nil
		},
	}
}
