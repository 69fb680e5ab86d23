package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/quailyquaily/deskmate/actions"
	"github.com/quailyquaily/deskmate/db/models"
	"github.com/quailyquaily/deskmate/store"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const defaultTemperature = 0.7

type seedFile struct {
	Businesses []seedBusiness `yaml:"businesses"`
}

type seedBusiness struct {
	Name                  string              `yaml:"name"`
	Slug                  string              `yaml:"slug"`
	Active                *bool               `yaml:"active"`
	WhatsAppPhoneID       string              `yaml:"whatsapp_phone_id"`
	WhatsAppAccessToken   string              `yaml:"whatsapp_access_token"`
	TelegramBotToken      string              `yaml:"telegram_bot_token"`
	TelegramWebhookSecret string              `yaml:"telegram_webhook_secret"`
	Configurations        []seedConfiguration `yaml:"configurations"`
	Managers              []seedManager       `yaml:"managers"`
}

type seedConfiguration struct {
	Name             string   `yaml:"name"`
	Model            string   `yaml:"model"`
	MaxTokens        int      `yaml:"max_tokens"`
	Temperature      *float64 `yaml:"temperature"`
	SystemPrompt     string   `yaml:"system_prompt"`
	AvailableActions []string `yaml:"available_actions"`
	Active           bool     `yaml:"active"`
}

type seedManager struct {
	Name           string   `yaml:"name"`
	WhatsAppGroups []string `yaml:"whatsapp_groups"`
	TelegramGroups []string `yaml:"telegram_groups"`
	ActionTypes    []string `yaml:"action_types"`
}

func newSeedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed <file.yaml>",
		Short: "Create or update businesses, configurations and manager preferences from YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			seed, err := loadSeed(f)
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			if err := applySeed(cmd.Context(), a.store, seed, a.logger); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "seeded %d business(es)\n", len(seed.Businesses))
			return nil
		},
	}
	return cmd
}

func loadSeed(r io.Reader) (seedFile, error) {
	var seed seedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil {
		return seedFile{}, fmt.Errorf("decode seed: %w", err)
	}
	for i, b := range seed.Businesses {
		if strings.TrimSpace(b.Slug) == "" {
			return seedFile{}, fmt.Errorf("businesses[%d]: slug is required", i)
		}
		active := 0
		for j, c := range b.Configurations {
			if strings.TrimSpace(c.Model) == "" {
				return seedFile{}, fmt.Errorf("businesses[%d].configurations[%d]: model is required", i, j)
			}
			for _, t := range c.AvailableActions {
				if actions.ParseType(t) == actions.TypeOther && !strings.EqualFold(strings.TrimSpace(t), string(actions.TypeOther)) {
					return seedFile{}, fmt.Errorf("businesses[%d].configurations[%d]: unknown action type %q", i, j, t)
				}
			}
			if c.Active {
				active++
			}
		}
		if active > 1 {
			return seedFile{}, fmt.Errorf("businesses[%d]: at most one configuration may be active", i)
		}
	}
	return seed, nil
}

// applySeed is idempotent: businesses match by slug, configurations and
// manager preferences by name.
func applySeed(ctx context.Context, s store.Store, seed seedFile, logger *slog.Logger) error {
	for _, sb := range seed.Businesses {
		business := models.Business{
			Name:                  strings.TrimSpace(sb.Name),
			Slug:                  strings.TrimSpace(sb.Slug),
			IsActive:              sb.Active == nil || *sb.Active,
			WhatsAppPhoneID:       strings.TrimSpace(sb.WhatsAppPhoneID),
			WhatsAppAccessToken:   strings.TrimSpace(sb.WhatsAppAccessToken),
			TelegramBotToken:      strings.TrimSpace(sb.TelegramBotToken),
			TelegramWebhookSecret: strings.TrimSpace(sb.TelegramWebhookSecret),
		}
		if business.Name == "" {
			business.Name = business.Slug
		}
		if err := s.SaveBusiness(ctx, &business); err != nil {
			return fmt.Errorf("save business %s: %w", business.Slug, err)
		}
		if err := seedConfigurations(ctx, s, business, sb.Configurations); err != nil {
			return err
		}
		if err := seedManagers(ctx, s, business, sb.Managers); err != nil {
			return err
		}
		logger.Info("business_seeded", "business_id", business.ID, "slug", business.Slug,
			"configurations", len(sb.Configurations), "managers", len(sb.Managers))
	}
	return nil
}

func seedConfigurations(ctx context.Context, s store.Store, business models.Business, configs []seedConfiguration) error {
	existing, err := s.ListConfigurations(ctx, business.ID)
	if err != nil {
		return err
	}
	byName := map[string]models.GptConfiguration{}
	for _, c := range existing {
		byName[c.Name] = c
	}
	for _, sc := range configs {
		name := strings.TrimSpace(sc.Name)
		if name == "" {
			name = sc.Model
		}
		cfg, ok := byName[name]
		if !ok {
			temperature := defaultTemperature
			if sc.Temperature != nil {
				temperature = *sc.Temperature
			}
			cfg = models.GptConfiguration{
				BusinessID:       business.ID,
				Name:             name,
				Model:            strings.TrimSpace(sc.Model),
				MaxTokens:        sc.MaxTokens,
				Temperature:      temperature,
				SystemPrompt:     sc.SystemPrompt,
				AvailableActions: sc.AvailableActions,
			}
			if err := s.CreateConfiguration(ctx, &cfg); err != nil {
				return fmt.Errorf("create configuration %s: %w", name, err)
			}
		}
		if sc.Active {
			if err := s.ActivateConfiguration(ctx, business.ID, cfg.ID); err != nil {
				return fmt.Errorf("activate configuration %s: %w", name, err)
			}
		}
	}
	return nil
}

func seedManagers(ctx context.Context, s store.Store, business models.Business, managers []seedManager) error {
	existing, err := s.ManagerPreferences(ctx, business.ID)
	if err != nil {
		return err
	}
	byName := map[string]uint{}
	for _, p := range existing {
		byName[p.Name] = p.ID
	}
	for _, sm := range managers {
		pref := models.ManagerPreference{
			ID:             byName[strings.TrimSpace(sm.Name)],
			BusinessID:     business.ID,
			Name:           strings.TrimSpace(sm.Name),
			WhatsAppGroups: sm.WhatsAppGroups,
			TelegramGroups: sm.TelegramGroups,
			ActionTypes:    sm.ActionTypes,
		}
		if err := s.SaveManagerPreference(ctx, &pref); err != nil {
			return fmt.Errorf("save manager preference %s: %w", pref.Name, err)
		}
	}
	return nil
}
