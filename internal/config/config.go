// Package config provides configuration loading from environment variables and the local config file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

const (
	// EnvDynamoDBIndexName is the DynamoDB Global Secondary Index on target ids.
	EnvDynamoDBIndexName = "DYNAMODB_INDEX_NAME"

	// EnvDynamoDBTableName is the DynamoDB table holding relations.
	EnvDynamoDBTableName = "DYNAMODB_TABLE_NAME"

	// EnvMoySkladAgentID is the counterparty created orders are placed by.
	EnvMoySkladAgentID = "MOYSKLAD_AGENT_ID"

	// EnvMoySkladBaseURL is the base URL for the MoySklad JSON API.
	EnvMoySkladBaseURL = "MOYSKLAD_BASE_URL"

	// EnvMoySkladLogin is the account login used to reissue tokens (optional).
	EnvMoySkladLogin = "MOYSKLAD_LOGIN"

	// EnvMoySkladOrganizationID is the legal entity receiving created orders.
	EnvMoySkladOrganizationID = "MOYSKLAD_ORGANIZATION_ID"

	// EnvMoySkladPassword is the account password used to reissue tokens (optional).
	EnvMoySkladPassword = "MOYSKLAD_PASSWORD"

	// EnvMoySkladStoreID is the store created orders ship from (optional).
	EnvMoySkladStoreID = "MOYSKLAD_STORE_ID"

	// EnvMoySkladTokenSecretARN is the Secrets Manager ARN for the access token.
	EnvMoySkladTokenSecretARN = "MOYSKLAD_TOKEN_SECRET_ARN"

	// EnvOzonAPIKey is the Ozon seller API key.
	EnvOzonAPIKey = "OZON_API_KEY"

	// EnvOzonBaseURL is the base URL for the Ozon Seller API.
	EnvOzonBaseURL = "OZON_BASE_URL"

	// EnvOzonClientID is the Ozon seller account id.
	EnvOzonClientID = "OZON_CLIENT_ID"

	// EnvSSMParameterPrefix is the SSM path the per kind checkpoints live under.
	EnvSSMParameterPrefix = "SSM_PARAMETER_PREFIX"

	// EnvSyncMapping is the YAML mapping of statuses, warehouses and price types.
	EnvSyncMapping = "SYNC_MAPPING"
)

// DynamoDB holds AWS DynamoDB configuration.
type DynamoDB struct {
	// IndexName is the Global Secondary Index name for querying relations by target id.
	IndexName string

	// TableName is the name of the DynamoDB table holding relations.
	TableName string
}

// MoySklad holds MoySklad API configuration.
type MoySklad struct {
	// AgentID is the counterparty created orders are placed by.
	AgentID string

	// BaseURL is the base URL for API requests.
	BaseURL string

	// Login is the account login used to reissue tokens.
	Login string

	// OrganizationID is the legal entity receiving created orders.
	OrganizationID string

	// Password is the account password used to reissue tokens.
	Password string

	// StoreID is the store created orders ship from.
	StoreID string

	// TokenSecretARN is the Secrets Manager ARN storing the access token.
	TokenSecretARN string
}

// Ozon holds Ozon Seller API configuration.
type Ozon struct {
	// APIKey is the seller API key.
	APIKey string

	// BaseURL is the base URL for API requests.
	BaseURL string

	// ClientID is the seller account id.
	ClientID string
}

// SSM holds AWS Systems Manager Parameter Store configuration.
type SSM struct {
	// ParameterPrefix is the path the per kind checkpoints live under.
	ParameterPrefix string
}

// Settings holds all configuration for the Lambda deployment.
type Settings struct {
	// DynamoDB contains AWS DynamoDB settings.
	DynamoDB DynamoDB

	// Mapping contains the reconciliation settings.
	Mapping Mapping

	// MoySklad contains MoySklad API settings.
	MoySklad MoySklad

	// Ozon contains Ozon Seller API settings.
	Ozon Ozon

	// SSM contains AWS Systems Manager Parameter Store settings.
	SSM SSM
}

func (s *Settings) validate() error {
	var errs []error

	if s.DynamoDB.TableName == "" {
		errs = append(errs, requiredError(EnvDynamoDBTableName))
	}
	if s.MoySklad.AgentID == "" {
		errs = append(errs, requiredError(EnvMoySkladAgentID))
	}
	if s.MoySklad.OrganizationID == "" {
		errs = append(errs, requiredError(EnvMoySkladOrganizationID))
	}
	if s.MoySklad.TokenSecretARN == "" {
		errs = append(errs, requiredError(EnvMoySkladTokenSecretARN))
	}
	if (s.MoySklad.Login == "") != (s.MoySklad.Password == "") {
		errs = append(errs, fmt.Errorf("%s and %s must be set together", EnvMoySkladLogin, EnvMoySkladPassword))
	}
	if s.Ozon.APIKey == "" {
		errs = append(errs, requiredError(EnvOzonAPIKey))
	}
	if s.Ozon.ClientID == "" {
		errs = append(errs, requiredError(EnvOzonClientID))
	}
	if s.SSM.ParameterPrefix == "" {
		errs = append(errs, requiredError(EnvSSMParameterPrefix))
	}

	return errors.Join(errs...)
}

// Load reads configuration from environment variables.
func Load() (*Settings, error) {
	mapping, err := ParseMapping(os.Getenv(EnvSyncMapping))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", EnvSyncMapping, err)
	}

	cfg := &Settings{
		DynamoDB: DynamoDB{
			IndexName: envOrDefault(EnvDynamoDBIndexName, "TargetIdIndex"),
			TableName: strings.TrimSpace(os.Getenv(EnvDynamoDBTableName)),
		},
		Mapping: mapping,
		MoySklad: MoySklad{
			AgentID:        strings.TrimSpace(os.Getenv(EnvMoySkladAgentID)),
			BaseURL:        envOrDefault(EnvMoySkladBaseURL, "https://api.moysklad.ru/api/remap/1.2"),
			Login:          strings.TrimSpace(os.Getenv(EnvMoySkladLogin)),
			OrganizationID: strings.TrimSpace(os.Getenv(EnvMoySkladOrganizationID)),
			Password:       strings.TrimSpace(os.Getenv(EnvMoySkladPassword)),
			StoreID:        strings.TrimSpace(os.Getenv(EnvMoySkladStoreID)),
			TokenSecretARN: strings.TrimSpace(os.Getenv(EnvMoySkladTokenSecretARN)),
		},
		Ozon: Ozon{
			APIKey:   strings.TrimSpace(os.Getenv(EnvOzonAPIKey)),
			BaseURL:  envOrDefault(EnvOzonBaseURL, "https://api-seller.ozon.ru"),
			ClientID: strings.TrimSpace(os.Getenv(EnvOzonClientID)),
		},
		SSM: SSM{
			ParameterPrefix: strings.TrimSpace(os.Getenv(EnvSSMParameterPrefix)),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func envOrDefault(key string, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func requiredError(envVar string) error {
	return fmt.Errorf("%s is required", envVar)
}
