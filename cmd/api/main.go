// Command api is the demo submission surface for the orchestration
// runtime: it accepts blueprints over HTTP, rate-limits submissions by
// their agent/swarm complexity, runs them through the same in-process
// Coordinator the workflow CLI uses, and persists a durable run record.
//
// Grounded on the teacher's cmd/orchestrator/main.go Echo bootstrap
// (setupEcho/setupMiddleware/registerRoutes/startServer), generalized
// from the teacher's CAS/tag/artifact catalog endpoints to blueprint
// submission, patching, and run retrieval.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/flowforge/orchestrator/cmd/workflow/artifactstore"
	"github.com/flowforge/orchestrator/cmd/workflow/cache"
	"github.com/flowforge/orchestrator/cmd/workflow/coordinator"
	"github.com/flowforge/orchestrator/cmd/workflow/registry"
	"github.com/flowforge/orchestrator/cmd/workflow/sdk"
	"github.com/flowforge/orchestrator/cmd/workflow/tools"
	"github.com/flowforge/orchestrator/cmd/workflow/validator"
	"github.com/flowforge/orchestrator/common/bootstrap"
	"github.com/flowforge/orchestrator/common/clients"
	"github.com/flowforge/orchestrator/common/middleware"
	"github.com/flowforge/orchestrator/common/models"
	"github.com/flowforge/orchestrator/common/ratelimit"
	redisclient "github.com/flowforge/orchestrator/common/redis"
	"github.com/flowforge/orchestrator/common/repository"
	"github.com/flowforge/orchestrator/common/server"
)

func main() {
	ctx := context.Background()

	components, err := bootstrap.Setup(ctx, "api", bootstrap.WithoutCache())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to bootstrap api: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	rawRedis := redis.NewClient(&redis.Options{
		Addr:     components.Config.Redis.Addr,
		Password: components.Config.Redis.Password,
		DB:       components.Config.Redis.DB,
	})
	redisWrapped := redisclient.NewClient(rawRedis, components.Logger)
	rateLimiter := ratelimit.NewRateLimiter(rawRedis, components.Logger)
	runRepo := repository.NewRunRepository(components.DB)

	reg := registry.New()
	reg.RegisterInstance(sdk.KindTool, "echo", tools.Echo{})
	reg.RegisterInstance(sdk.KindTool, "upper", tools.Upper{})
	reg.RegisterInstance(sdk.KindTool, "fail", tools.Fail{})
	reg.RegisterInstance(sdk.KindLLM, "stub", tools.LLMStub{ReportsUsage: true})

	coord := coordinator.New(coordinator.Options{
		Registry:             reg,
		Cache:                cache.NewRedisCache(redisWrapped, 10*time.Minute),
		ArtifactStore:        artifactstore.NewRedisStore(redisWrapped),
		LargeOutputThreshold: 1 << 20,
		DefaultMaxParallel:   4,
	})
	patchLoader := coordinator.NewPatchLoader()

	srv := newServer(coord, patchLoader, runRepo, rateLimiter)

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.GlobalRateLimitMiddleware(rateLimiter, ratelimit.DefaultGlobalConfig.Limit))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "service": "api"})
	})
	e.POST("/blueprints", srv.createBlueprint)
	e.POST("/blueprints/:id/patches", srv.patchBlueprint)
	e.POST("/blueprints/:id/runs", srv.submitRun)
	e.GET("/runs/:id", srv.getRun)
	e.GET("/runs", srv.listRuns)

	port := components.Config.Service.Port
	httpServer := server.New("api", port, e, components.Logger)
	if err := httpServer.Start(); err != nil {
		components.Logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// server holds the handlers' dependencies and the in-memory blueprint
// store (a Postgres-backed blueprint catalog is future work; runs
// themselves are durable via runRepo).
type server struct {
	coord       *coordinator.Coordinator
	patches     *coordinator.PatchLoader
	runs        *repository.RunRepository
	rateLimiter *ratelimit.RateLimiter

	mu         sync.RWMutex
	blueprints map[string]*validator.Blueprint
}

func newServer(coord *coordinator.Coordinator, patches *coordinator.PatchLoader, runs *repository.RunRepository, rl *ratelimit.RateLimiter) *server {
	return &server{
		coord:       coord,
		patches:     patches,
		runs:        runs,
		rateLimiter: rl,
		blueprints:  make(map[string]*validator.Blueprint),
	}
}

func (s *server) createBlueprint(c echo.Context) error {
	var bp validator.Blueprint
	if err := c.Bind(&bp); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid blueprint: " + err.Error()})
	}

	id := uuid.New().String()
	s.mu.Lock()
	s.blueprints[id] = &bp
	s.mu.Unlock()

	return c.JSON(http.StatusCreated, map[string]string{"blueprint_id": id})
}

func (s *server) patchBlueprint(c echo.Context) error {
	id := c.Param("id")
	s.mu.RLock()
	bp, ok := s.blueprints[id]
	s.mu.RUnlock()
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "blueprint not found"})
	}

	body, err := rawBody(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	patched, err := s.patches.Apply(id, bp, body)
	if err != nil {
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	}

	newID := uuid.New().String()
	s.mu.Lock()
	s.blueprints[newID] = patched
	s.mu.Unlock()

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"blueprint_id": newID,
		"chain":        s.patches.Chain(id),
	})
}

func (s *server) submitRun(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	s.mu.RLock()
	bp, ok := s.blueprints[id]
	s.mu.RUnlock()
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "blueprint not found"})
	}

	username := c.Request().Header.Get("X-User-ID")
	if username == "" {
		username = "anonymous"
	}
	ctx = clients.WithUserID(ctx, username)
	username, _ = clients.GetUserID(ctx)

	profile := ratelimit.InspectWorkflow(blueprintAsMap(bp))
	result, err := s.rateLimiter.CheckTieredLimit(ctx, username, profile.Tier)
	if err == nil && !result.Allowed {
		return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
			"error":               "tier_rate_limit_exceeded",
			"tier":                profile.Tier,
			"retry_after_seconds": result.RetryAfterSeconds,
		})
	}

	runID := uuid.New()
	run := &models.Run{
		RunID:       runID,
		BaseKind:    "blueprint",
		BaseRef:     id,
		Status:      models.RunStatusRunning,
		SubmittedBy: username,
		SubmittedAt: time.Now(),
	}
	if err := s.runs.Create(ctx, run); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to record run: " + err.Error()})
	}

	runResult, err := s.coord.Run(ctx, bp, runID.String())
	if err != nil {
		_ = s.runs.UpdateStatus(ctx, runID, models.RunStatusFailed)
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	}

	finalStatus := models.RunStatusSucceeded
	if !runResult.Success {
		finalStatus = models.RunStatusFailed
	}
	_ = s.runs.UpdateStatus(ctx, runID, finalStatus)

	return c.JSON(http.StatusOK, map[string]interface{}{
		"run_id": runID,
		"result": runResult,
	})
}

func (s *server) getRun(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid run id"})
	}
	run, err := s.runs.GetByID(c.Request().Context(), id)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
	}
	return c.JSON(http.StatusOK, run)
}

func (s *server) listRuns(c echo.Context) error {
	username := c.QueryParam("user")
	if username == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "user query parameter is required"})
	}
	runs, err := s.runs.ListByUser(c.Request().Context(), username, 50)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, runs)
}

func rawBody(c echo.Context) ([]byte, error) {
	req := c.Request()
	defer req.Body.Close()
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("read patch body: %w", err)
	}
	return body, nil
}

func blueprintAsMap(bp *validator.Blueprint) map[string]interface{} {
	nodes := make([]interface{}, len(bp.Nodes))
	for i, n := range bp.Nodes {
		nodes[i] = map[string]interface{}{"id": n.ID, "kind": n.Kind}
	}
	return map[string]interface{}{"nodes": nodes}
}
