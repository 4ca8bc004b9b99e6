// Package secrets resolves secrets such as the bot token from AWS SSM
// Parameter Store.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ssmAPI is the subset of *ssm.Client used here.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Getter returns a decrypted parameter value by name.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// ParamStore reads SecureString or String parameters.
type ParamStore struct {
	api ssmAPI
}

// New wraps an SSM API implementation.
func New(api ssmAPI) (*ParamStore, error) {
	if api == nil {
		return nil, errors.New("secrets: api must not be nil")
	}
	return &ParamStore{api: api}, nil
}

// NewFromEnvironment builds a ParamStore from the default AWS credential chain.
func NewFromEnvironment(ctx context.Context) (*ParamStore, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("secrets: load aws config: %w", err)
	}
	return New(ssm.NewFromConfig(cfg))
}

// GetParameter implements Getter.
func (p *ParamStore) GetParameter(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("secrets: name is required")
	}
	withDecryption := true
	out, err := p.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		return "", fmt.Errorf("secrets: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("secrets: parameter %q missing value", name)
	}
	return *out.Parameter.Value, nil
}

// Resolve returns the parameter value when name is set and fallback otherwise.
// A lookup failure is returned so that a misconfigured deployment fails fast.
func Resolve(ctx context.Context, g Getter, name, fallback string) (string, error) {
	if strings.TrimSpace(name) == "" || g == nil {
		return fallback, nil
	}
	v, err := g.GetParameter(ctx, name)
	if err != nil {
		return "", err
	}
	slog.Info("Secrets.Resolve: loaded parameter", "name", name)
	return v, nil
}

var _ Getter = (*ParamStore)(nil)
