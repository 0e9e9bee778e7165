package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/omniquery/fanout-api/internal/store/model"
	"github.com/omniquery/fanout-api/internal/store/sqlite"
)

// Seeds a development database with the default provider and model rows.
func main() {
	repo, err := sqlite.NewSQLiteStorage("fanout.db", zap.NewNop())
	if err != nil {
		log.Fatal(err)
	}
	defer repo.Close()

	ctx := context.Background()
	now := time.Now()

	providers := []model.ProviderRow{
		{ID: "openai", Enabled: true, DefaultModel: "gpt-4o-mini", MaxOutputCap: 4096, TimeoutSeconds: 60, Temperature: 0.7, CreatedAt: now, UpdatedAt: now},
		{ID: "anthropic", Enabled: true, DefaultModel: "claude-3-5-haiku-latest", MaxOutputCap: 4096, TimeoutSeconds: 60, Temperature: 0.7, CreatedAt: now, UpdatedAt: now},
		{ID: "google", Enabled: true, DefaultModel: "gemini-2.0-flash", MaxOutputCap: 4096, TimeoutSeconds: 60, Temperature: 0.7, CreatedAt: now, UpdatedAt: now},
		{ID: "ollama", Enabled: true, DefaultModel: "llama3.2", MaxOutputCap: 2048, TimeoutSeconds: 120, Temperature: 0.7, CreatedAt: now, UpdatedAt: now},
	}

	models := []model.ModelRow{
		{ProviderID: "openai", ModelID: "gpt-4o-mini", IsActive: true, MaxOutputTokens: 16384, ContextWindow: 128000, CreatedAt: now, UpdatedAt: now},
		{ProviderID: "openai", ModelID: "gpt-4o", IsActive: true, MaxOutputTokens: 16384, ContextWindow: 128000, CreatedAt: now, UpdatedAt: now},
		{ProviderID: "anthropic", ModelID: "claude-3-5-haiku-latest", IsActive: true, MaxOutputTokens: 8192, ContextWindow: 200000, CreatedAt: now, UpdatedAt: now},
		{ProviderID: "anthropic", ModelID: "claude-3-5-sonnet-latest", IsActive: true, MaxOutputTokens: 8192, ContextWindow: 200000, CreatedAt: now, UpdatedAt: now},
		{ProviderID: "google", ModelID: "gemini-2.0-flash", IsActive: true, MaxOutputTokens: 8192, ContextWindow: 1000000, CreatedAt: now, UpdatedAt: now},
		{ProviderID: "ollama", ModelID: "llama3.2", IsActive: true, MaxOutputTokens: 4096, ContextWindow: 128000, CreatedAt: now, UpdatedAt: now},
	}

	for i := range providers {
		if err := repo.Providers().Upsert(ctx, &providers[i]); err != nil {
			log.Fatalf("seed provider %s: %v", providers[i].ID, err)
		}
		fmt.Printf("seeded provider %s\n", providers[i].ID)
	}

	for i := range models {
		if err := repo.Models().Upsert(ctx, &models[i]); err != nil {
			log.Fatalf("seed model %s/%s: %v", models[i].ProviderID, models[i].ModelID, err)
		}
		fmt.Printf("seeded model %s/%s\n", models[i].ProviderID, models[i].ModelID)
	}

	fmt.Println("database seeded")
}
