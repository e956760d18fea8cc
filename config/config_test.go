// Copyright 2025 Quorum
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quorum/platform/orchestrator/provider"
)

const sampleConfig = `
server:
  addr: ":9090"
log:
  level: DEBUG
redis:
  enabled: true
  addr: localhost:6379
cache:
  backend: redis
  ttl_seconds: 300
session:
  backend: redis
  ttl_hours: 24
  owner_limit: 5
  policy: evict_oldest
consensus:
  confidence_threshold: 0.75
  agreement_threshold: 0.65
breaker:
  threshold: 5
  cooldown_seconds: 30
tiers:
  critical:
    min_providers: 3
    max_providers: 4
    escalation: [heavy]
providers:
  - id: claude-http
    kind: http
    trust_class: internal
    cost_class: premium
    tiers: [basic, premium, critical]
    priority: 10
    endpoint: https://api.example.com
    api_key: ${TEST_QUORUM_KEY}
    enabled: true
  - id: heavy
    kind: sdk
    trust_class: internal
    cost_class: premium
    tiers: [critical]
    region: us-east-1
    enabled: true
`

func TestParseSampleConfig(t *testing.T) {
	t.Setenv("TEST_QUORUM_KEY", "sk-test-123")

	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "DEBUG", cfg.Log.Level)
	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, 0.75, cfg.Consensus.ConfidenceThreshold)
	assert.Equal(t, 5, cfg.Session.OwnerLimit)
	assert.Equal(t, "evict_oldest", cfg.Session.Policy)

	require.Len(t, cfg.Providers, 2)
	assert.Equal(t, "sk-test-123", cfg.Providers[0].APIKey)
	assert.Equal(t, provider.KindHTTP, cfg.Providers[0].Kind)

	// Explicit critical tier kept, basic/premium filled from defaults.
	crit := cfg.Tier(provider.TierCritical)
	assert.Equal(t, []string{"heavy"}, crit.Escalation)
	basic := cfg.Tier(provider.TierBasic)
	assert.Equal(t, 2, basic.MinProviders)
	assert.Equal(t, 2, basic.MaxProviders)
	prem := cfg.Tier(provider.TierPremium)
	assert.Equal(t, 3, prem.MaxProviders)
}

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "INFO", cfg.Log.Level)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, "memory", cfg.Session.Backend)
	assert.Equal(t, "reject", cfg.Session.Policy)
	assert.Equal(t, 10, cfg.Session.OwnerLimit)
	assert.Len(t, cfg.Tiers, 3)
}

func TestParseEnvDefaultFallback(t *testing.T) {
	cfg, err := Parse([]byte(`
server:
  addr: "${TEST_QUORUM_UNSET_ADDR:-:7070}"
`))
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "min exceeds max",
			yaml: `
tiers:
  basic:
    min_providers: 5
    max_providers: 2
`,
		},
		{
			name: "unknown tier",
			yaml: `
tiers:
  platinum:
    min_providers: 1
    max_providers: 1
`,
		},
		{
			name: "bad session policy",
			yaml: `
session:
  policy: drop_newest
`,
		},
		{
			name: "redis backend without redis",
			yaml: `
cache:
  backend: redis
`,
		},
		{
			name: "duplicate provider ids",
			yaml: `
providers:
  - id: p
    kind: http
    tiers: [basic]
    enabled: true
  - id: p
    kind: http
    tiers: [basic]
    enabled: true
`,
		},
		{
			name: "escalation names unknown provider",
			yaml: `
tiers:
  critical:
    min_providers: 1
    max_providers: 1
    escalation: [ghost]
`,
		},
		{
			name: "restricted provider on wrong path",
			yaml: `
providers:
  - id: pinned
    kind: http
    restrict_to: subprocess
    tiers: [basic]
    enabled: true
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

// stubSecrets maps secret names to values.
type stubSecrets struct {
	values map[string]string
}

func (s *stubSecrets) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput,
	optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	v, ok := s.values[aws.ToString(params.SecretId)]
	if !ok {
		return nil, assert.AnError
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(v)}, nil
}

func TestResolveSecrets(t *testing.T) {
	cfg := &Config{
		Providers: []provider.Descriptor{
			{ID: "a", APIKey: "aws-secrets:quorum/providers/a"},
			{ID: "b", APIKey: "inline-key"},
			{ID: "c"},
		},
	}
	require.True(t, cfg.HasSecretRefs())

	client := &stubSecrets{values: map[string]string{
		"quorum/providers/a": "sk-resolved",
	}}
	require.NoError(t, cfg.ResolveSecrets(context.Background(), client))

	assert.Equal(t, "sk-resolved", cfg.Providers[0].APIKey)
	assert.Equal(t, "inline-key", cfg.Providers[1].APIKey)
	assert.Empty(t, cfg.Providers[2].APIKey)
	assert.False(t, cfg.HasSecretRefs())
}

func TestResolveSecretsUnknownSecret(t *testing.T) {
	cfg := &Config{
		Providers: []provider.Descriptor{
			{ID: "a", APIKey: "aws-secrets:missing"},
		},
	}
	err := cfg.ResolveSecrets(context.Background(), &stubSecrets{})
	assert.Error(t, err)
}
