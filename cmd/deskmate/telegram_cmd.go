package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/quailyquaily/deskmate/internal/bus/adapters/telegram"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newTelegramCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "telegram",
		Short: "Telegram bot utilities",
	}

	setWebhook := &cobra.Command{
		Use:   "set-webhook",
		Short: "Register this server's webhook URL with a business bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			base := strings.TrimRight(strings.TrimSpace(flagOrViperString(cmd, "public-url", "server.public_url")), "/")
			if base == "" {
				return fmt.Errorf("missing server.public_url (set via --public-url or DESKMATE_SERVER_PUBLIC_URL)")
			}
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			slug, _ := cmd.Flags().GetString("business")
			b, err := businessBySlug(cmd.Context(), a.store, slug)
			if err != nil {
				return err
			}
			hook := base + "/webhooks/telegram/" + url.PathEscape(b.Slug)
			sender := telegram.NewSender(telegram.SenderOptions{BaseURL: viper.GetString("telegram.api_base")})
			if err := sender.SetWebhook(cmd.Context(), b, hook); err != nil {
				return err
			}
			a.logger.Info("telegram_webhook_set", "business_id", b.ID, "url", hook)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "webhook set: %s\n", hook)
			return nil
		},
	}
	setWebhook.Flags().String("business", "", "Business slug.")
	setWebhook.Flags().String("public-url", "", "Public base URL of this server.")
	cmd.AddCommand(setWebhook)

	return cmd
}
