package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"storyloom/internal/convergence"
	"storyloom/internal/narrative"
	"storyloom/internal/revision"
	"storyloom/internal/store"
	"storyloom/internal/traversal"
	"storyloom/internal/validator"
	"storyloom/pkg/config"
	"storyloom/pkg/errors"
	"storyloom/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}

	if err := logger.Init(cfg.Env); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting narrative graph server...")

	// Initialize Neo4j driver
	driver, err := neo4j.NewDriverWithContext(
		cfg.Neo4jURI,
		neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPassword, ""),
	)
	if err != nil {
		log.Fatal("Failed to create Neo4j driver", zap.Error(err))
	}
	defer driver.Close(context.Background())

	if err := driver.VerifyConnectivity(context.Background()); err != nil {
		log.Fatal("Failed to verify Neo4j connectivity", zap.Error(err))
	}

	retry := store.RetryPolicy{Attempts: cfg.StoreRetryAttempts, Backoff: cfg.StoreRetryBackoff}
	graphStore := store.NewNeo4jStore(driver, retry)

	structuralValidator := validator.New(graphStore)
	traversalEngine := traversal.New(graphStore, traversal.Limits{
		DefaultDepth: cfg.TraversalDefaultDepth,
		MaxDepth:     cfg.TraversalMaxDepth,
		NodeCap:      cfg.TraversalNodeCap,
	})
	// the shared response cache fronts simulations in production; nil keeps
	// the resolver cache-free until one is wired in
	resolver := convergence.New(graphStore, nil, retry)
	revisionEngine := revision.New(graphStore, retry)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := newRouter(log, structuralValidator, traversalEngine, resolver, revisionEngine)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("Server started", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("Server exited with error", zap.Error(err))
		return
	}
	log.Info("Server exited")
}

func newRouter(log *zap.Logger, structuralValidator *validator.Validator, traversalEngine *traversal.Engine, resolver *convergence.Resolver, revisionEngine *revision.Engine) *gin.Engine {
	router := gin.New()
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	{
		api.POST("/validate", func(c *gin.Context) {
			var req struct {
				Scope []string `json:"scope"`
			}
			if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}

			report, err := structuralValidator.Validate(c.Request.Context(), req.Scope)
			if err != nil {
				respondError(c, log, err)
				return
			}
			c.JSON(http.StatusOK, report)
		})

		api.POST("/traverse", func(c *gin.Context) {
			var req traversal.Request
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			if req.StartID == "" {
				c.JSON(http.StatusBadRequest, gin.H{"error": "start_id is required"})
				return
			}

			result, err := traversalEngine.Traverse(c.Request.Context(), req)
			if err != nil {
				respondError(c, log, err)
				return
			}
			c.JSON(http.StatusOK, result)
		})

		api.POST("/convergent-paths", func(c *gin.Context) {
			var req struct {
				DestinationID     string                 `json:"destination_id" binding:"required"`
				ChoicePaths       []narrative.ChoicePath `json:"choice_paths" binding:"required"`
				ConvergenceWeight float64                `json:"convergence_weight"`
				MergeRules        []narrative.MergeRule  `json:"merge_rules"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}

			cp, err := resolver.CreateConvergentPath(c.Request.Context(), req.DestinationID, req.ChoicePaths, req.ConvergenceWeight, req.MergeRules)
			if err != nil {
				respondError(c, log, err)
				return
			}
			c.JSON(http.StatusCreated, cp)
		})

		api.POST("/convergent-paths/simulate", func(c *gin.Context) {
			var req struct {
				ChoiceID    string         `json:"choice_id" binding:"required"`
				PlayerState map[string]any `json:"player_state"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}

			outcome, err := resolver.SimulateTraversal(c.Request.Context(), req.ChoiceID, req.PlayerState)
			if err != nil {
				respondError(c, log, err)
				return
			}
			if !outcome.Found {
				c.JSON(http.StatusNotFound, outcome)
				return
			}
			c.JSON(http.StatusOK, outcome)
		})

		api.POST("/convergent-paths/:destinationId/optimize", func(c *gin.Context) {
			destinationID := c.Param("destinationId")
			if err := resolver.OptimizeConvergentPaths(c.Request.Context(), destinationID); err != nil {
				respondError(c, log, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"status": "optimized"})
		})

		api.POST("/twists/:twistId/validate-setup", func(c *gin.Context) {
			validation, err := revisionEngine.ValidateRevelationSetup(c.Request.Context(), c.Param("twistId"))
			if err != nil {
				respondError(c, log, err)
				return
			}
			c.JSON(http.StatusOK, validation)
		})

		api.POST("/twists/:twistId/apply", func(c *gin.Context) {
			result, err := revisionEngine.ApplyRetroactiveModification(c.Request.Context(), c.Param("twistId"))
			if err != nil {
				respondError(c, log, err)
				return
			}
			c.JSON(http.StatusOK, result)
		})

		api.POST("/twists/:twistId/propagate", func(c *gin.Context) {
			var req struct {
				Scope string `json:"scope" binding:"required"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}

			propagation, err := revisionEngine.PropagateRevelation(c.Request.Context(), c.Param("twistId"), revision.PropagationScope(req.Scope))
			if err != nil {
				respondError(c, log, err)
				return
			}
			c.JSON(http.StatusOK, propagation)
		})
	}

	return router
}

// respondError maps the error taxonomy onto HTTP statuses
func respondError(c *gin.Context, log *zap.Logger, err error) {
	switch errors.KindOf(err) {
	case errors.KindNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.KindValidation:
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.KindTransition:
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.KindConflict:
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.KindStore:
		log.Error("Store unavailable", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "graph store unavailable"})
	default:
		log.Error("Unhandled error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// ginLogger is a custom logger middleware for Gin
func ginLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Info("HTTP Request",
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
		)
	}
}
