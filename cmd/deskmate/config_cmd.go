package main

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage per-business model configurations",
	}
	cmd.PersistentFlags().String("business", "", "Business slug.")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List configurations of a business",
		RunE: func(cmd *cobra.Command, args []string) error {
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
			configs, err := a.store.ListConfigurations(cmd.Context(), b.ID)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ID\tNAME\tMODEL\tMAX_TOKENS\tACTIVE\tACTIONS")
			for _, c := range configs {
				actions := strings.Join(c.AvailableActions, ",")
				if actions == "" {
					actions = "(all)"
				}
				_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%t\t%s\n", c.ID, c.Name, c.Model, c.MaxTokens, c.IsActive, actions)
			}
			return w.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "activate <config-id>",
		Short: "Make a configuration the active one for its business",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid config id: %w", err)
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
			if err := a.store.ActivateConfiguration(cmd.Context(), b.ID, uint(id)); err != nil {
				return err
			}
			a.logger.Info("configuration_activated", "business_id", b.ID, "config_id", id)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "configuration %d is now active for %s\n", id, b.Slug)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "test <config-id>",
		Short: "Send a short probe to the model of a configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid config id: %w", err)
			}
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			cfg, err := a.store.Configuration(cmd.Context(), uint(id))
			if err != nil {
				return err
			}
			backend, err := completionFromViper(a.logger, nil)
			if err != nil {
				return err
			}
			if !backend.TestConnection(cmd.Context(), cfg) {
				return fmt.Errorf("configuration %d (%s): connection test failed", cfg.ID, cfg.Model)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "configuration %d (%s): ok\n", cfg.ID, cfg.Model)
			return nil
		},
	})

	return cmd
}
