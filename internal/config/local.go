package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	configDirName    = ".shopbridge"
	configFileName   = "config.yaml"
	databaseFileName = "relations.db"
	tokenFileName    = "token"
)

// LocalConfig holds configuration loaded from a local file.
type LocalConfig struct {
	// DatabasePath is the SQLite file holding relations.
	DatabasePath string

	// Mapping contains the reconciliation settings.
	Mapping Mapping

	// MoySklad contains MoySklad API settings. TokenSecretARN is unused locally.
	MoySklad MoySklad

	// Ozon contains Ozon Seller API settings.
	Ozon Ozon
}

// localConfig represents the local configuration file structure.
type localConfig struct {
	Mapping  yaml.Node     `yaml:"mapping"`
	MoySklad localMoySklad `yaml:"moysklad"`
	Ozon     localOzon     `yaml:"ozon"`
	Storage  localStorage  `yaml:"storage"`
}

// localMoySklad represents the moysklad section of the config file.
type localMoySklad struct {
	AgentID        string `yaml:"agent_id"`
	BaseURL        string `yaml:"base_url"`
	Login          string `yaml:"login"`
	OrganizationID string `yaml:"organization_id"`
	Password       string `yaml:"password"`
	StoreID        string `yaml:"store_id"`
}

// localOzon represents the ozon section of the config file.
type localOzon struct {
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	ClientID string `yaml:"client_id"`
}

// localStorage represents the storage section of the config file.
type localStorage struct {
	DatabasePath string `yaml:"database_path"`
}

// ConfigDir returns the shopbridge configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, configDirName), nil
}

// ConfigFilePath returns the path to the local config file.
func ConfigFilePath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFileName), nil
}

// DatabaseFilePath returns the default path of the local relation database.
func DatabaseFilePath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, databaseFileName), nil
}

// LoadLocal loads configuration from the local config file.
func LoadLocal() (*LocalConfig, error) {
	configPath, err := ConfigFilePath()
	if err != nil {
		return nil, err
	}
	return loadLocalFrom(configPath)
}

// loadLocalFrom loads configuration from the config file at configPath.
func loadLocalFrom(configPath string) (*LocalConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s (run 'shopbridge init' to create)", configPath)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var local localConfig
	if err := yaml.Unmarshal(data, &local); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	mapping := defaultMapping()
	if !local.Mapping.IsZero() {
		if err := local.Mapping.Decode(&mapping); err != nil {
			return nil, fmt.Errorf("parsing mapping: %w", err)
		}
	}

	cfg := &LocalConfig{
		DatabasePath: local.Storage.DatabasePath,
		Mapping:      mapping,
		MoySklad: MoySklad{
			AgentID:        local.MoySklad.AgentID,
			BaseURL:        local.MoySklad.BaseURL,
			Login:          local.MoySklad.Login,
			OrganizationID: local.MoySklad.OrganizationID,
			Password:       local.MoySklad.Password,
			StoreID:        local.MoySklad.StoreID,
		},
		Ozon: Ozon{
			APIKey:   local.Ozon.APIKey,
			BaseURL:  local.Ozon.BaseURL,
			ClientID: local.Ozon.ClientID,
		},
	}

	if cfg.DatabasePath == "" {
		cfg.DatabasePath, err = DatabaseFilePath()
		if err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// LocalConfigExists checks if a local config file exists.
func LocalConfigExists() bool {
	configPath, err := ConfigFilePath()
	if err != nil {
		return false
	}
	_, err = os.Stat(configPath)
	return err == nil
}

// TokenFilePath returns the path to the local token file.
func TokenFilePath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, tokenFileName), nil
}

// validate checks that required fields are set.
func (c *LocalConfig) validate() error {
	var errs []error

	if c.MoySklad.AgentID == "" {
		errs = append(errs, errors.New("moysklad.agent_id is required"))
	}
	if c.MoySklad.OrganizationID == "" {
		errs = append(errs, errors.New("moysklad.organization_id is required"))
	}
	if (c.MoySklad.Login == "") != (c.MoySklad.Password == "") {
		errs = append(errs, errors.New("moysklad.login and moysklad.password must be set together"))
	}
	if c.Ozon.APIKey == "" {
		errs = append(errs, errors.New("ozon.api_key is required"))
	}
	if c.Ozon.ClientID == "" {
		errs = append(errs, errors.New("ozon.client_id is required"))
	}
	if err := c.Mapping.validate(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
