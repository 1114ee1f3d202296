package main

import (
	"fmt"
	"time"

	"hotspot-billing/internal/domain/model"
	pg "hotspot-billing/internal/infra/db/postgres"
	"hotspot-billing/internal/usecase"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// planNamespace keeps seeded plan ids stable so seeding twice updates in place.
var planNamespace = uuid.MustParse("6f1c2a8e-3d5b-4f7a-9c0e-2b8d4e6f1a3c")

// defaultPlans is the starter catalogue, prices in minor units.
func defaultPlans() []*model.Plan {
	seed := []struct {
		name, desc string
		price      int64
		hours      int
		data, rate string
	}{
		{"Basic 1 Hour", "Perfect for quick browsing and social media", 20_00, 1, "500MB", "2M/5M"},
		{"Standard 6 Hours", "Great for work and entertainment", 100_00, 6, "2GB", "5M/10M"},
		{"Premium 24 Hours", "Full day access", 300_00, 24, "10GB", "10M/20M"},
		{"Weekly Package", "Perfect for extended stays", 1500_00, 168, "50GB", "10M/25M"},
		{"Monthly Unlimited", "Ultimate internet freedom", 5000_00, 720, "unlimited", "20M/50M"},
	}
	out := make([]*model.Plan, 0, len(seed))
	for _, s := range seed {
		id := uuid.NewSHA1(planNamespace, []byte(s.name)).String()
		p, err := model.NewPlan(id, s.name, s.price, s.hours, s.data, s.rate)
		if err != nil {
			panic(fmt.Sprintf("default plan %q: %v", s.name, err))
		}
		p.Description = s.desc
		out = append(out, p)
	}
	return out
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert or refresh the default plan catalogue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Database.URL == "" {
				return fmt.Errorf("database.url (or DATABASE_URL) is required")
			}
			ctx := cmd.Context()
			pool, err := pg.Connect(ctx, cfg.Database.URL)
			if err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
			defer pool.Close()

			planUC := usecase.NewPlanUseCase(pg.NewPostgresPlanRepo(pool))
			for _, p := range defaultPlans() {
				if err := planUC.Create(ctx, p); err != nil {
					return fmt.Errorf("seed plan %q: %w", p.Name, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "seeded: %s (id=%s, %s, KES %s)\n",
					p.Name, p.ID, p.Duration().Round(time.Hour), model.FormatAmount(p.Price))
			}
			return nil
		},
	}
}
