package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// SSMAPI defines the SSM operations used by the state store.
type SSMAPI interface {
	// GetParameter retrieves a parameter from SSM.
	GetParameter(
		ctx context.Context,
		params *ssm.GetParameterInput,
		optFns ...func(*ssm.Options),
	) (*ssm.GetParameterOutput, error)

	// PutParameter stores a parameter in SSM.
	PutParameter(
		ctx context.Context,
		params *ssm.PutParameterInput,
		optFns ...func(*ssm.Options),
	) (*ssm.PutParameterOutput, error)
}

// StateStore keeps one checkpoint per synchronized kind in AWS SSM Parameter Store.
// The checkpoint of kind "orders" under prefix "/shopbridge" lives at "/shopbridge/orders/last-sync-time".
type StateStore struct {
	// client is the SSM API client.
	client SSMAPI

	// prefix is the parameter path all checkpoints live under.
	prefix string
}

// NewStateStore creates a new SSM-backed state store.
func NewStateStore(client SSMAPI, prefix string) (*StateStore, error) {
	if client == nil {
		return nil, errors.New("ssm client is required")
	}
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		return nil, errors.New("parameter prefix is required")
	}

	return &StateStore{
		client: client,
		prefix: prefix,
	}, nil
}

// LastSyncTime returns when kind was last synchronized successfully, or the zero time if never.
func (s *StateStore) LastSyncTime(ctx context.Context, kind string) (time.Time, error) {
	name, err := s.parameterName(kind)
	if err != nil {
		return time.Time{}, err
	}

	output, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name: aws.String(name),
	})
	if err != nil {
		var notFoundErr *types.ParameterNotFound
		if errors.As(err, &notFoundErr) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("getting parameter from SSM: %w", err)
	}

	if output.Parameter == nil || output.Parameter.Value == nil || *output.Parameter.Value == "" {
		return time.Time{}, nil
	}

	t, err := time.Parse(time.RFC3339, *output.Parameter.Value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing time from parameter %s: %w", name, err)
	}

	return t, nil
}

// SetLastSyncTime records the checkpoint of kind.
func (s *StateStore) SetLastSyncTime(ctx context.Context, kind string, t time.Time) error {
	name, err := s.parameterName(kind)
	if err != nil {
		return err
	}

	_, err = s.client.PutParameter(ctx, &ssm.PutParameterInput{
		Name:      aws.String(name),
		Overwrite: aws.Bool(true),
		Type:      types.ParameterTypeString,
		Value:     aws.String(t.UTC().Format(time.RFC3339)),
	})
	if err != nil {
		return fmt.Errorf("putting parameter to SSM: %w", err)
	}

	return nil
}

func (s *StateStore) parameterName(kind string) (string, error) {
	if kind == "" {
		return "", errors.New("kind is required")
	}
	return s.prefix + "/" + kind + "/last-sync-time", nil
}
