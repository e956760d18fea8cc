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

package orchestrator

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"quorum/platform/cache"
	"quorum/platform/common/usage"
	"quorum/platform/config"
	"quorum/platform/orchestrator/consensus"
	"quorum/platform/orchestrator/provider"
	"quorum/platform/orchestrator/provider/bedrock"
	"quorum/platform/orchestrator/provider/httpapi"
	"quorum/platform/orchestrator/provider/subprocess"
	"quorum/platform/session"
	"quorum/platform/shared/logger"
)

// Run boots the orchestrator from a config file and serves until
// SIGINT/SIGTERM.
func Run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := logger.New("orchestrator")
	log.SetLevel(logger.LogLevel(cfg.Log.Level))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.HasSecretRefs() {
		sm, err := config.NewSecretsClient(ctx, "")
		if err != nil {
			return err
		}
		if err := cfg.ResolveSecrets(ctx, sm); err != nil {
			return err
		}
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		defer redisClient.Close()
	}

	var responseCache cache.ResponseCache
	switch cfg.Cache.Backend {
	case "redis":
		responseCache = cache.NewRedisCacheWithClient(redisClient)
	default:
		responseCache = cache.NewMemoryCache()
	}
	defer responseCache.Close()

	var sessions session.Store
	switch cfg.Session.Backend {
	case "redis":
		sessions = session.NewRedisStore(redisClient,
			session.WithRedisTTL(cfg.Session.TTL()),
			session.WithRedisOwnerLimit(cfg.Session.OwnerLimit, session.LimitPolicy(cfg.Session.Policy)))
	default:
		sessions = session.NewMemoryStore(
			session.WithTTL(cfg.Session.TTL()),
			session.WithOwnerLimit(cfg.Session.OwnerLimit, session.LimitPolicy(cfg.Session.Policy)))
	}
	defer sessions.Close()

	registryOpts := []provider.RegistryOption{
		provider.WithFactoryManager(defaultFactories(ctx)),
	}
	if cfg.Breaker.Threshold > 0 || cfg.Breaker.Cooldown() > 0 {
		registryOpts = append(registryOpts,
			provider.WithBreakerSettings(cfg.Breaker.Threshold, cfg.Breaker.Cooldown()))
	}
	var usageRecorder usage.Recorder = usage.NopRecorder{}
	if cfg.Postgres.Enabled {
		db, err := sql.Open("postgres", cfg.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("failed to open postgres: %w", err)
		}
		defer db.Close()
		registryOpts = append(registryOpts,
			provider.WithStorage(provider.NewPostgresStorage(db)))
		usageRecorder = usage.NewPostgresRecorder(db)
	}

	registry := provider.NewRegistry(registryOpts...)
	for i := range cfg.Providers {
		if err := registry.Register(&cfg.Providers[i]); err != nil {
			return err
		}
	}
	if err := registry.LoadFromStorage(ctx); err != nil {
		log.Warn("", "failed to load providers from storage", map[string]interface{}{
			"error": err.Error(),
		})
	}

	scorerOpts := []consensus.Option{}
	if cfg.Consensus.ConfidenceThreshold > 0 || cfg.Consensus.AgreementThreshold > 0 {
		scorerOpts = append(scorerOpts, consensus.WithThresholds(
			cfg.Consensus.ConfidenceThreshold, cfg.Consensus.AgreementThreshold))
	}
	if cfg.Consensus.OutlierFloor > 0 {
		scorerOpts = append(scorerOpts, consensus.WithOutlierFloor(cfg.Consensus.OutlierFloor))
	}
	if len(cfg.Consensus.TrustPriors) > 0 {
		priors := make(map[provider.TrustClass]float64, len(cfg.Consensus.TrustPriors))
		for k, v := range cfg.Consensus.TrustPriors {
			priors[provider.TrustClass(k)] = v
		}
		scorerOpts = append(scorerOpts, consensus.WithTrustPriors(priors))
	}

	engine := NewEngine(cfg, registry, consensus.NewEngine(scorerOpts...),
		WithCache(responseCache),
		WithSessions(sessions),
		WithEvents(&LogEvents{Logger: log}),
		WithUsage(usageRecorder),
		WithEngineLogger(log))

	handler := newAPI(engine, log).routes(cfg.Server.AllowedOrigins)
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("", "orchestrator listening", map[string]interface{}{
			"addr":      cfg.Server.Addr,
			"providers": len(registry.List()),
		})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("", "shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// defaultFactories wires the three invocation paths.
func defaultFactories(ctx context.Context) *provider.FactoryManager {
	fm := provider.NewFactoryManager()
	fm.Register(provider.KindSubprocess, subprocess.Factory())
	fm.Register(provider.KindHTTP, httpapi.Factory())
	fm.Register(provider.KindSDK, bedrock.Factory(ctx))
	return fm
}

// api carries the HTTP handler dependencies.
type api struct {
	engine *Engine
	log    *logger.Logger
}

func newAPI(engine *Engine, log *logger.Logger) *api {
	return &api{engine: engine, log: log}
}

// routes builds the router: the query API, session CRUD, provider
// introspection, health, and Prometheus metrics.
func (a *api) routes(allowedOrigins []string) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/v1/query", a.handleQuery).Methods("POST")
	r.HandleFunc("/api/v1/sessions", a.handleCreateSession).Methods("POST")
	r.HandleFunc("/api/v1/sessions/{id}", a.handleGetSession).Methods("GET")
	r.HandleFunc("/api/v1/sessions/{id}", a.handleDeleteSession).Methods("DELETE")
	r.HandleFunc("/api/v1/providers", a.handleListProviders).Methods("GET")
	r.HandleFunc("/api/v1/cache/stats", a.handleCacheStats).Methods("GET")
	r.HandleFunc("/health", a.handleHealth).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(r)
}

func (a *api) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := a.engine.Execute(r.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		var insufficient *InsufficientProvidersError
		var unknownTier *UnknownTierError
		var emptyPrompt *EmptyPromptError
		var notFound *session.NotFoundError
		switch {
		case errors.As(err, &insufficient):
			status = http.StatusServiceUnavailable
		case errors.As(err, &unknownTier), errors.As(err, &emptyPrompt):
			status = http.StatusBadRequest
		case errors.As(err, &notFound):
			status = http.StatusNotFound
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type createSessionRequest struct {
	OwnerID string `json:"owner_id"`
}

func (a *api) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OwnerID == "" {
		writeError(w, http.StatusBadRequest, "owner_id is required")
		return
	}

	rec, err := a.engine.Sessions().Create(r.Context(), req.OwnerID)
	if err != nil {
		var limit *session.OwnerLimitError
		if errors.As(err, &limit) {
			writeError(w, http.StatusTooManyRequests, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (a *api) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := a.engine.Sessions().Get(r.Context(), id)
	if err != nil {
		var notFound *session.NotFoundError
		if errors.As(err, &notFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *api) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := a.engine.Sessions().Delete(r.Context(), id); err != nil {
		var notFound *session.NotFoundError
		if errors.As(err, &notFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type providerStatus struct {
	ID      string                 `json:"id"`
	Kind    provider.InvocationKind `json:"kind"`
	Tiers   []provider.Tier        `json:"tiers"`
	Enabled bool                   `json:"enabled"`
	Breaker provider.BreakerState  `json:"breaker"`
}

func (a *api) handleListProviders(w http.ResponseWriter, r *http.Request) {
	registry := a.engine.Registry()
	out := make([]providerStatus, 0)
	for _, id := range registry.List() {
		d, err := registry.Descriptor(id)
		if err != nil {
			continue
		}
		out = append(out, providerStatus{
			ID:      d.ID,
			Kind:    d.Kind,
			Tiers:   d.Tiers,
			Enabled: d.Enabled,
			Breaker: registry.BreakerState(id),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.engine.Cache().Stats())
}

func (a *api) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	checks := a.engine.Registry().HealthCheck(ctx)
	healthy := true
	detail := make(map[string]string, len(checks))
	for id, err := range checks {
		if err != nil {
			healthy = false
			detail[id] = err.Error()
		} else {
			detail[id] = "ok"
		}
	}

	status := http.StatusOK
	state := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	writeJSON(w, status, map[string]interface{}{
		"status":    state,
		"providers": detail,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
