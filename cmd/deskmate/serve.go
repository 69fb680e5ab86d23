package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/quailyquaily/deskmate/actions"
	"github.com/quailyquaily/deskmate/conversation"
	"github.com/quailyquaily/deskmate/delivery"
	"github.com/quailyquaily/deskmate/internal/bus"
	"github.com/quailyquaily/deskmate/internal/bus/adapters/telegram"
	"github.com/quailyquaily/deskmate/internal/bus/adapters/whatsapp"
	"github.com/quailyquaily/deskmate/internal/fsstore"
	"github.com/quailyquaily/deskmate/internal/metrics"
	"github.com/quailyquaily/deskmate/internal/webhook"
	"github.com/quailyquaily/deskmate/notify"
	"github.com/quailyquaily/deskmate/pipeline"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server and the message workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			bind := strings.TrimSpace(flagOrViperString(cmd, "server-bind", "server.bind"))
			if bind == "" {
				bind = "127.0.0.1"
			}
			port := flagOrViperInt(cmd, "server-port", "server.port")
			if port <= 0 {
				port = 8080
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			logger := a.logger

			m := metrics.New()
			backend, err := completionFromViper(logger, m)
			if err != nil {
				return err
			}

			deadLetters, err := fsstore.NewJSONLWriter(viper.GetString("delivery.dead_letter_path"), fsstore.JSONLOptions{
				RotateMaxBytes: viper.GetInt64("delivery.dead_letter_max_bytes"),
				Lock:           true,
			})
			if err != nil {
				return fmt.Errorf("open dead-letter log: %w", err)
			}
			defer func() { _ = deadLetters.Close() }()

			router := delivery.Router{
				bus.PlatformTelegram: telegram.NewSender(telegram.SenderOptions{BaseURL: viper.GetString("telegram.api_base")}),
				bus.PlatformWhatsApp: whatsapp.NewSender(whatsapp.SenderOptions{
					APIURL:     viper.GetString("whatsapp.api_url"),
					APIVersion: viper.GetString("whatsapp.api_version"),
				}),
			}
			deliveries, err := delivery.NewQueue(delivery.Options{
				Sender:        router,
				Businesses:    a.store,
				Logger:        logger,
				Metrics:       m,
				DeadLetters:   deadLetters,
				Workers:       viper.GetInt("delivery.workers"),
				QueueSize:     viper.GetInt("delivery.queue_size"),
				Attempts:      viper.GetInt("delivery.attempts"),
				SendBackoff:   viper.GetDuration("delivery.send_backoff"),
				NotifyBackoff: viper.GetDuration("delivery.notify_backoff"),
			})
			if err != nil {
				return err
			}

			notifier, err := notify.New(notify.Options{Store: a.store, Queue: deliveries, Logger: logger})
			if err != nil {
				return err
			}
			dispatcher, err := actions.NewDispatcher(actions.DispatcherOptions{
				Store:    a.store,
				Listener: notifier,
				Logger:   logger,
				Metrics:  m,
			})
			if err != nil {
				return err
			}

			var guard *conversation.Guard
			if flagOrViperBool(cmd, "guard-transitions", "conversation.guard_transitions") {
				guard = conversation.DefaultGuard()
			}
			pipe, err := pipeline.New(pipeline.Options{
				Store:        a.store,
				Completer:    backend,
				Actions:      dispatcher,
				Guard:        guard,
				HistoryLimit: viper.GetInt("pipeline.history_limit"),
				Logger:       logger,
				Metrics:      m,
			})
			if err != nil {
				return err
			}
			inbound, err := pipeline.NewInboundQueue(pipeline.InboundOptions{
				Processor:  pipe,
				Businesses: a.store,
				Normalizers: map[bus.Platform]pipeline.Normalizer{
					bus.PlatformTelegram: telegram.NewNormalizer(telegram.NormalizerOptions{
						BotUsername: viper.GetString("telegram.bot_username"),
					}),
					bus.PlatformWhatsApp: pipeline.NormalizerFunc(whatsapp.Normalize),
				},
				Replies:     deliveries,
				DeadLetters: deadLetters,
				Logger:      logger,
				Metrics:     m,
				Workers:     flagOrViperInt(cmd, "workers", "pipeline.workers"),
				QueueSize:   viper.GetInt("pipeline.queue_size"),
				Attempts:    viper.GetInt("pipeline.attempts"),
				Backoff:     viper.GetDuration("pipeline.backoff"),
			})
			if err != nil {
				return err
			}

			srv, err := webhook.New(webhook.Options{
				Businesses:          a.store,
				Inbound:             inbound,
				Actions:             dispatcher,
				Metrics:             m,
				Logger:              logger,
				WhatsAppVerifyToken: viper.GetString("whatsapp.verify_token"),
				WhatsAppAppSecret:   viper.GetString("whatsapp.app_secret"),
				AuthToken:           flagOrViperString(cmd, "server-auth-token", "server.auth_token"),
			})
			if err != nil {
				return err
			}

			g, gctx := errgroup.WithContext(ctx)
			waitDeliveries := deliveries.Start(gctx)
			waitInbound := inbound.Start(gctx)

			addr := bind + ":" + strconv.Itoa(port)
			httpServer := &http.Server{
				Addr:              addr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}
			g.Go(func() error {
				logger.Info("server_start", "addr", addr)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 10*time.Second)
				defer cancel()
				return httpServer.Shutdown(shutdownCtx)
			})

			err = g.Wait()
			waitInbound()
			waitDeliveries()
			logger.Info("server_stopped")
			return err
		},
	}

	cmd.Flags().String("server-bind", "127.0.0.1", "Bind address.")
	cmd.Flags().Int("server-port", 8080, "HTTP port to listen on.")
	cmd.Flags().String("server-auth-token", "", "Bearer token for /admin routes (admin routes are off when empty).")
	cmd.Flags().Int("workers", 4, "Inbound message workers.")
	cmd.Flags().Bool("guard-transitions", false, "Drop conversation stage changes that are not on the allow-list.")

	return cmd
}
