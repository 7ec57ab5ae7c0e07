package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/peteski22/shopbridge/internal/config"
	"github.com/peteski22/shopbridge/internal/moysklad"
	"github.com/peteski22/shopbridge/internal/storage"
)

// runAuth issues a MoySklad token with the configured login and saves it to the token file.
func runAuth(ctx context.Context) error {
	fmt.Println("=== MoySklad Authorization ===")
	fmt.Println()

	cfg, err := config.LoadLocal()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	tokenPath, err := config.TokenFilePath()
	if err != nil {
		return fmt.Errorf("getting token path: %w", err)
	}

	if err := issueToken(ctx, cfg.MoySklad, tokenPath); err != nil {
		return err
	}

	fmt.Println("Authorization successful!")
	fmt.Printf("Token saved to: %s\n", tokenPath)
	fmt.Println()
	fmt.Println("You can now run:")
	fmt.Println("  shopbridge --dry-run --since=2024-01-01T00:00:00Z")

	return nil
}

// issueToken exchanges the login and password for a token stored at tokenPath.
func issueToken(ctx context.Context, cfg config.MoySklad, tokenPath string) error {
	if cfg.Login == "" || cfg.Password == "" {
		return errors.New("moysklad.login and moysklad.password are required to issue a token")
	}

	tokenStore, err := storage.NewFileTokenStore(tokenPath)
	if err != nil {
		return fmt.Errorf("creating token store: %w", err)
	}

	var opts []moysklad.Option
	if cfg.BaseURL != "" {
		opts = append(opts, moysklad.WithBaseURL(cfg.BaseURL))
	}

	client, err := moysklad.NewClient(moysklad.Config{
		Login: cfg.Login,
		OrderDefaults: moysklad.OrderDefaults{
			AgentID:        cfg.AgentID,
			OrganizationID: cfg.OrganizationID,
			StoreID:        cfg.StoreID,
		},
		Password:   cfg.Password,
		TokenStore: tokenStore,
	}, opts...)
	if err != nil {
		return fmt.Errorf("creating moysklad client: %w", err)
	}

	return client.IssueToken(ctx)
}
