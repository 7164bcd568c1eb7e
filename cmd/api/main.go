package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"qrattend/internal/auth"
	"qrattend/internal/config"
	"qrattend/internal/httpmiddleware"
	"qrattend/internal/ledger"
	"qrattend/internal/roster"
	"qrattend/internal/scan"
	"qrattend/internal/store"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

type server struct {
	cfg     config.App
	roster  *roster.Roster
	ledger  *ledger.Ledger
	session *scan.Session
	redis   *store.Redis
}

func runHTTP(cfg config.App) error {
	ctx := context.Background()

	var (
		rosterStore roster.Store
		ledgerStore ledger.Store
	)
	switch cfg.StorageBackend {
	case "postgres":
		pg, err := store.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pg.Close()
		rosterStore, ledgerStore = pg, pg
	default:
		csvStore, err := store.NewCSV(cfg.DataDir)
		if err != nil {
			return err
		}
		rosterStore, ledgerStore = csvStore, csvStore
	}

	ros, err := roster.New(ctx, rosterStore)
	if err != nil {
		return err
	}
	led, err := ledger.New(ctx, ledgerStore)
	if err != nil {
		return err
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	var debouncer scan.Debouncer
	if cfg.DebounceBackend == "redis" {
		debouncer = scan.NewRedisDebouncer(redisClient.Client, cfg.ScanCooldown)
	} else {
		debouncer = scan.NewMemoryDebouncer(cfg.ScanCooldown)
	}

	s := &server{
		cfg:     cfg,
		roster:  ros,
		ledger:  led,
		session: scan.NewSession(debouncer, ros, led, scan.NopBeeper{}, nil),
		redis:   redisClient,
	}
	defer s.session.Stop()

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      buildRouter(s),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s (storage=%s, debounce=%s)", cfg.HTTPPort, cfg.StorageBackend, cfg.DebounceBackend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

func buildRouter(s *server) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:          24 * time.Hour,
	}))
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewTokenBucket(s.cfg.RateLimitPerMin, s.cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := s.redis.Healthy(c.Request.Context())
		status := http.StatusOK
		if s.cfg.DebounceBackend == "redis" && !redisHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"status":  "ok",
			"storage": s.cfg.StorageBackend,
			"redis":   redisHealthy,
		})
	})

	// Scan intake: a kiosk posts the decoded QR payload; the server clock
	// stamps the attendance times.
	r.POST("/v1/scans", func(c *gin.Context) {
		var req struct {
			Payload string `json:"payload" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		outcome, err := s.session.OnDecoded(c.Request.Context(), req.Payload)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if outcome.Kind == scan.Suppressed {
			c.Status(http.StatusNoContent)
			return
		}
		c.JSON(http.StatusOK, outcome)
	})

	r.GET("/v1/attendance", func(c *gin.Context) {
		field, err := ledger.ParseField(c.Query("field"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		rows := s.ledger.Search(s.roster, field, c.Query("value"))
		c.JSON(http.StatusOK, gin.H{"records": rows})
	})

	r.GET("/v1/attendance/export", func(c *gin.Context) {
		field, err := ledger.ParseField(c.Query("field"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		rows := s.ledger.Search(s.roster, field, c.Query("value"))
		c.Header("Content-Disposition", `attachment; filename="attendance.csv"`)
		c.Header("Content-Type", "text/csv")
		if err := ledger.WriteCSV(c.Writer, rows); err != nil {
			log.Printf("export write failed: %v", err)
		}
	})

	// The payload a user's badge encodes is the registration number itself.
	r.GET("/v1/users/:regno/qr", func(c *gin.Context) {
		u, ok := s.roster.Find(c.Param("regno"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not registered"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"payload": u.RegNo})
	})

	// The admin check is a single shared static credential, not a security
	// boundary; the token just scopes the roster CRUD for a session.
	r.POST("/v1/admin/login", func(c *gin.Context) {
		var req struct {
			Username string `json:"username" binding:"required"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.Username != s.cfg.AdminUsername || req.Password != s.cfg.AdminPassword {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid username or password"})
			return
		}
		token, expiresAt, err := auth.Issue(req.Username, s.cfg.JWTIssuer, s.cfg.JWTSigningKey, s.cfg.SessionTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"access_token": token,
			"expires_at":   expiresAt.Unix(),
		})
	})

	admin := r.Group("/v1", auth.AdminAuth(s.cfg.JWTSigningKey, s.cfg.JWTIssuer))

	admin.GET("/users", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"users": s.roster.Users()})
	})

	admin.POST("/users", func(c *gin.Context) {
		var in roster.Input
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		u, err := s.roster.Add(c.Request.Context(), in, time.Now())
		if err != nil {
			c.JSON(rosterStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, u)
	})

	admin.PUT("/users/:regno", func(c *gin.Context) {
		var in roster.Input
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		u, err := s.roster.Update(c.Request.Context(), c.Param("regno"), in, time.Now())
		if err != nil {
			c.JSON(rosterStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, u)
	})

	admin.DELETE("/users/:regno", func(c *gin.Context) {
		if err := s.roster.Delete(c.Request.Context(), c.Param("regno")); err != nil {
			c.JSON(rosterStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	})

	return r
}

func rosterStatus(err error) int {
	switch {
	case errors.Is(err, roster.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, roster.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, roster.ErrMissingField):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}
