package main

import (
	"fmt"
	"os"

	"github.com/peteski22/shopbridge/internal/config"
)

const configTemplate = `# ShopBridge Configuration

moysklad:
  # Account used to issue API tokens ('shopbridge auth').
  login: ""
  password: ""
  # Required: legal entity and counterparty of created customer orders.
  organization_id: ""
  agent_id: ""
  # Optional: store created customer orders ship from.
  store_id: ""

ozon:
  # From Seller Dashboard -> Settings -> Seller API.
  client_id: ""
  api_key: ""

storage:
  # Relation database (default: ~/.shopbridge/relations.db).
  database_path: ""

mapping:
  # Values sent per API call (default: 100).
  chunk_size: 0
  orders:
    create: true
    update: true
    # Optional: customer order custom field receiving the posting number.
    additional: ""
    # Ozon posting status -> MoySklad state id.
    statuses: {}
  stocks:
    update: true
    # Ozon warehouse id -> MoySklad store ids.
    warehouses: {}
    # Ozon warehouse receiving the stock of unmapped stores (empty drops it).
    default_warehouse: ""
  prices:
    update: true
    # MoySklad price type id -> Ozon price (price, old_price, min_price).
    types: {}
`

// runInit creates a sample configuration file.
func runInit() error {
	configDir, err := config.ConfigDir()
	if err != nil {
		return fmt.Errorf("getting config directory: %w", err)
	}

	configPath, err := config.ConfigFilePath()
	if err != nil {
		return fmt.Errorf("getting config path: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config file already exists: %s", configPath)
	}

	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(configTemplate), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	tokenPath, err := config.TokenFilePath()
	if err != nil {
		return fmt.Errorf("getting token path: %w", err)
	}

	fmt.Println("Created config file:", configPath)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Edit the config file with your credentials and mappings")
	fmt.Println("  2. Run 'shopbridge auth' to issue a MoySklad token")
	fmt.Println("  3. Run 'shopbridge --dry-run --since=2024-01-01T00:00:00Z' to test")
	fmt.Println()
	fmt.Printf("Token will be stored at: %s\n", tokenPath)

	return nil
}
