// Copyright 2025 Quorum
// SPDX-License-Identifier: Apache-2.0
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the orchestrator configuration from YAML.
// Environment variable references in the file (${VAR}, $VAR, with
// ${VAR:-default} fallbacks) are expanded before parsing, so secrets can
// stay out of the file itself.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"quorum/platform/orchestrator/provider"
	"quorum/platform/session"
)

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Redis     RedisConfig     `yaml:"redis"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Cache     CacheConfig     `yaml:"cache"`
	Session   SessionConfig   `yaml:"session"`
	Consensus ConsensusConfig `yaml:"consensus"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Tiers     map[string]TierConfig `yaml:"tiers"`
	Providers []provider.Descriptor `yaml:"providers"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level"`
}

// RedisConfig configures the shared Redis connection.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// PostgresConfig configures descriptor persistence.
type PostgresConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}

// CacheConfig configures the response cache.
type CacheConfig struct {
	// Backend is "memory" or "redis".
	Backend    string        `yaml:"backend"`
	TTLSeconds int           `yaml:"ttl_seconds"`
}

// TTL returns the configured cache TTL.
func (c CacheConfig) TTL() time.Duration {
	if c.TTLSeconds <= 0 {
		return 0
	}
	return time.Duration(c.TTLSeconds) * time.Second
}

// SessionConfig configures the session store.
type SessionConfig struct {
	// Backend is "memory" or "redis".
	Backend    string `yaml:"backend"`
	TTLHours   int    `yaml:"ttl_hours"`
	OwnerLimit int    `yaml:"owner_limit"`
	// Policy is "reject" or "evict_oldest".
	Policy string `yaml:"policy"`
}

// TTL returns the configured session TTL.
func (c SessionConfig) TTL() time.Duration {
	if c.TTLHours <= 0 {
		return session.DefaultTTL
	}
	return time.Duration(c.TTLHours) * time.Hour
}

// ConsensusConfig configures scoring thresholds and trust priors.
type ConsensusConfig struct {
	ConfidenceThreshold float64            `yaml:"confidence_threshold"`
	AgreementThreshold  float64            `yaml:"agreement_threshold"`
	OutlierFloor        float64            `yaml:"outlier_floor"`
	TrustPriors         map[string]float64 `yaml:"trust_priors"`
}

// BreakerConfig configures per-provider circuit breakers.
type BreakerConfig struct {
	Threshold       int `yaml:"threshold"`
	CooldownSeconds int `yaml:"cooldown_seconds"`
}

// Cooldown returns the configured breaker cooldown.
func (c BreakerConfig) Cooldown() time.Duration {
	if c.CooldownSeconds <= 0 {
		return 0
	}
	return time.Duration(c.CooldownSeconds) * time.Second
}

// TierConfig shapes one task tier: how many providers to try, how many
// successes a result needs, and which providers widen the pool when the
// consensus thresholds are missed.
type TierConfig struct {
	// MinProviders is the minimum successful responses for a result.
	MinProviders int `yaml:"min_providers"`

	// MaxProviders caps the providers invoked in the first round.
	MaxProviders int `yaml:"max_providers"`

	// ConfidenceThreshold and AgreementThreshold override the global
	// consensus thresholds for this tier when > 0.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	AgreementThreshold  float64 `yaml:"agreement_threshold"`

	// Escalation names the providers added in the escalation round. An
	// empty list disables escalation for the tier.
	Escalation []string `yaml:"escalation"`

	// Sequential switches the tier from parallel fan-out to a chain
	// where each provider sees its predecessor's output.
	Sequential bool `yaml:"sequential"`
}

// defaultTiers shape the three built-in tiers.
func defaultTiers() map[string]TierConfig {
	return map[string]TierConfig{
		string(provider.TierBasic):    {MinProviders: 2, MaxProviders: 2},
		string(provider.TierPremium):  {MinProviders: 3, MaxProviders: 3},
		string(provider.TierCritical): {MinProviders: 3, MaxProviders: 4},
	}
}

// Load reads and parses a configuration file, expanding environment
// variable references first.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses configuration bytes.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "INFO"
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = "memory"
	}
	if c.Session.Backend == "" {
		c.Session.Backend = "memory"
	}
	if c.Session.OwnerLimit <= 0 {
		c.Session.OwnerLimit = session.DefaultOwnerLimit
	}
	if c.Session.Policy == "" {
		c.Session.Policy = string(session.PolicyReject)
	}

	defaults := defaultTiers()
	if c.Tiers == nil {
		c.Tiers = defaults
	} else {
		for name, def := range defaults {
			tc, ok := c.Tiers[name]
			if !ok {
				c.Tiers[name] = def
				continue
			}
			if tc.MinProviders <= 0 {
				tc.MinProviders = def.MinProviders
			}
			if tc.MaxProviders <= 0 {
				tc.MaxProviders = def.MaxProviders
			}
			c.Tiers[name] = tc
		}
	}
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	for name, tc := range c.Tiers {
		if !provider.IsValidTier(name) {
			return fmt.Errorf("unknown tier %q", name)
		}
		if tc.MinProviders > tc.MaxProviders {
			return fmt.Errorf("tier %q: min_providers (%d) exceeds max_providers (%d)",
				name, tc.MinProviders, tc.MaxProviders)
		}
	}

	if !session.IsValidPolicy(c.Session.Policy) {
		return fmt.Errorf("invalid session policy %q", c.Session.Policy)
	}

	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("invalid cache backend %q", c.Cache.Backend)
	}
	switch c.Session.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("invalid session backend %q", c.Session.Backend)
	}
	if (c.Cache.Backend == "redis" || c.Session.Backend == "redis") && !c.Redis.Enabled {
		return fmt.Errorf("redis backend selected but redis is not enabled")
	}

	ids := make(map[string]bool, len(c.Providers))
	for i := range c.Providers {
		d := &c.Providers[i]
		if err := d.Validate(); err != nil {
			return err
		}
		if ids[d.ID] {
			return fmt.Errorf("duplicate provider id %q", d.ID)
		}
		ids[d.ID] = true
	}

	for name, tc := range c.Tiers {
		for _, id := range tc.Escalation {
			if !ids[id] {
				return fmt.Errorf("tier %q: escalation provider %q not configured", name, id)
			}
		}
	}
	return nil
}

// Tier returns the configuration for a tier.
func (c *Config) Tier(t provider.Tier) TierConfig {
	if tc, ok := c.Tiers[string(t)]; ok {
		return tc
	}
	return defaultTiers()[string(t)]
}

// envVarRegex matches ${VAR_NAME} or $VAR_NAME patterns.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars expands environment variable references, supporting
// ${VAR:-default} fallbacks. Undefined variables expand to the empty
// string.
func expandEnvVars(content string) string {
	return envVarRegex.ReplaceAllStringFunc(content, func(match string) string {
		var varName string
		if strings.HasPrefix(match, "${") {
			varName = match[2 : len(match)-1]
		} else {
			varName = match[1:]
		}

		defaultVal := ""
		if idx := strings.Index(varName, ":-"); idx != -1 {
			defaultVal = varName[idx+2:]
			varName = varName[:idx]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultVal
	})
}
