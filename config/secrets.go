// Copyright 2025 Quorum
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// secretRefPrefix marks an API key value that names a Secrets Manager
// secret instead of carrying the key inline, e.g.
// "aws-secrets:quorum/providers/claude".
const secretRefPrefix = "aws-secrets:"

// SecretsClient is the subset of the Secrets Manager client used here
// (enables testing).
type SecretsClient interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput,
		optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// NewSecretsClient creates a Secrets Manager client from ambient AWS
// configuration.
func NewSecretsClient(ctx context.Context, region string) (SecretsClient, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return secretsmanager.NewFromConfig(awsCfg), nil
}

// ResolveSecrets replaces every provider API key of the form
// "aws-secrets:<name>" with the secret's value. Inline keys and empty
// keys pass through untouched.
func (c *Config) ResolveSecrets(ctx context.Context, client SecretsClient) error {
	for i := range c.Providers {
		d := &c.Providers[i]
		if !strings.HasPrefix(d.APIKey, secretRefPrefix) {
			continue
		}

		name := strings.TrimPrefix(d.APIKey, secretRefPrefix)
		out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
			SecretId: aws.String(name),
		})
		if err != nil {
			return fmt.Errorf("provider %q: failed to resolve secret %q: %w", d.ID, name, err)
		}
		if out.SecretString == nil {
			return fmt.Errorf("provider %q: secret %q has no string value", d.ID, name)
		}
		d.APIKey = *out.SecretString
	}
	return nil
}

// HasSecretRefs reports whether any provider API key still needs
// resolution. Callers skip the Secrets Manager round trip entirely when
// the config carries no references.
func (c *Config) HasSecretRefs() bool {
	for i := range c.Providers {
		if strings.HasPrefix(c.Providers[i].APIKey, secretRefPrefix) {
			return true
		}
	}
	return false
}
