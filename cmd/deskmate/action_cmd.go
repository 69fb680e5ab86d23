package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/quailyquaily/deskmate/actions"
	"github.com/quailyquaily/deskmate/delivery"
	"github.com/quailyquaily/deskmate/internal/bus"
	"github.com/quailyquaily/deskmate/internal/bus/adapters/telegram"
	"github.com/quailyquaily/deskmate/internal/bus/adapters/whatsapp"
	"github.com/quailyquaily/deskmate/notify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// inlineDelivery delivers jobs on the caller's goroutine. One-shot commands
// have no workers to drain a queue.
type inlineDelivery struct {
	queue *delivery.Queue
}

func (d inlineDelivery) Enqueue(ctx context.Context, job delivery.Job) (string, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	return job.ID, d.queue.Deliver(ctx, job)
}

func newActionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "action",
		Short: "Work with client actions",
	}

	status := &cobra.Command{
		Use:   "status <action-id> <pending|processing|completed|failed|cancelled>",
		Short: "Move an action to a new status and notify the client",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid action id: %w", err)
			}
			to, ok := actions.ParseStatus(args[1])
			if !ok {
				return fmt.Errorf("invalid status: %s", args[1])
			}
			notes, _ := cmd.Flags().GetString("notes")
			notifyClient, _ := cmd.Flags().GetBool("notify")

			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			opts := actions.DispatcherOptions{Store: a.store, Logger: a.logger}
			if notifyClient {
				q, err := delivery.NewQueue(delivery.Options{
					Sender: delivery.Router{
						bus.PlatformTelegram: telegram.NewSender(telegram.SenderOptions{BaseURL: viper.GetString("telegram.api_base")}),
						bus.PlatformWhatsApp: whatsapp.NewSender(whatsapp.SenderOptions{
							APIURL:     viper.GetString("whatsapp.api_url"),
							APIVersion: viper.GetString("whatsapp.api_version"),
						}),
					},
					Businesses:  a.store,
					Logger:      a.logger,
					Attempts:    viper.GetInt("delivery.attempts"),
					SendBackoff: viper.GetDuration("delivery.send_backoff"),
				})
				if err != nil {
					return err
				}
				notifier, err := notify.New(notify.Options{Store: a.store, Queue: inlineDelivery{queue: q}, Logger: a.logger})
				if err != nil {
					return err
				}
				opts.Listener = notifier
			}
			d, err := actions.NewDispatcher(opts)
			if err != nil {
				return err
			}
			updated, err := d.UpdateStatus(cmd.Context(), uint(id), to, notes)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "action %d (%s) is now %s\n", updated.ID, updated.Reference, updated.Status)
			return nil
		},
	}
	status.Flags().String("notes", "", "Staff notes stored on the action.")
	status.Flags().Bool("notify", true, "Send the client a status message for terminal statuses.")
	cmd.AddCommand(status)

	return cmd
}
