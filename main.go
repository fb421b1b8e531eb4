package main

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/sunset00x/report2clean/mailer"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const (
	submitRateLimitRequests    = 10
	submitRateLimitWindow      = 5 * time.Minute
	rateLimiterCleanupInterval = time.Minute
	userCookieName             = "report2clean_session"
	userSessionDuration        = 30 * 24 * time.Hour
	devCORSOriginLocalhost     = "http://localhost:5173"
	devCORSOriginLoopback      = "http://127.0.0.1:5173"
	trustedProxyLoopbackIPv4   = "127.0.0.1"
	trustedProxyLoopbackIPv6   = "::1"
)

type Config struct {
	Addr             string
	Env              string
	DatabaseURL      string
	DataRoot         string
	PublicBaseURL    string
	AppSigningSecret string
	ResendAPIKey     string
	MailerFrom       map[string]string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	MinioPublicURL string
	MinioUseSSL    bool
}

type App struct {
	cfg *Config
	db  *sql.DB
	log *slog.Logger

	objects   ObjectStore
	documents DocumentStore
	geocoder  Geocoder
	mailer    *mailer.Mailer
	metrics   *appMetrics

	rateLimiterMu sync.Mutex
	rateBuckets   map[string]rateBucket
}

type rateBucket struct {
	start time.Time
	count int
}

// apiError is the one error shape handlers return. Redirect carries the
// client route for "you must register first" outcomes; cause keeps the
// wrapped gateway error out of responses but available to logs.
type apiError struct {
	Status   int
	Code     string
	Message  string
	Redirect string
	cause    error
}

func (e *apiError) Error() string { return e.Message }

func (e *apiError) Unwrap() error { return e.cause }

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		panic(err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		panic(err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		panic(err)
	}

	var objects ObjectStore
	if cfg.MinioEndpoint != "" {
		store, err := newMinioObjectStore(
			cfg.MinioEndpoint,
			cfg.MinioAccessKey,
			cfg.MinioSecretKey,
			cfg.MinioBucket,
			cfg.MinioPublicURL,
			cfg.MinioUseSSL,
		)
		if err != nil {
			panic(err)
		}
		if err := store.ensureBucket(ctx, cfg.MinioRegion); err != nil {
			panic(err)
		}
		objects = store
		logger.Info("object store initialized", "provider", "minio", "bucket", cfg.MinioBucket)
	} else {
		objects = newLocalObjectStore(cfg.DataRoot, cfg.PublicBaseURL)
		logger.Info("object store initialized", "provider", "local", "data_root", cfg.DataRoot)
	}

	var mailProvider mailer.Provider
	if cfg.ResendAPIKey != "" {
		mailProvider = mailer.NewResendProvider(cfg.ResendAPIKey)
		logger.Info("mailer initialized", "provider", "resend")
	} else {
		mailProvider = mailer.NewLogProvider(logger)
		logger.Info("mailer initialized", "provider", "log")
	}
	mailClient := mailer.New(mailProvider, cfg.MailerFrom[mailProvider.Name()])

	httpClient := &http.Client{Timeout: 10 * time.Second}
	geocoder := &FallbackGeocoder{
		Primary:   &NominatimGeocoder{UserAgent: "Report2Clean-API/1.0", Client: httpClient},
		Secondary: &CatalogGeocoder{},
	}

	app := &App{
		cfg:         cfg,
		db:          db,
		log:         logger,
		objects:     objects,
		documents:   newPGDocumentStore(db),
		geocoder:    geocoder,
		mailer:      mailClient,
		metrics:     newAppMetrics(),
		rateBuckets: make(map[string]rateBucket),
	}

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	app.startRateLimiterCleanup(cleanupCtx, rateLimiterCleanupInterval)

	logger.Info("runtime configuration", "env", cfg.Env, "addr", cfg.Addr, "public_base_url", cfg.PublicBaseURL)

	if err := app.runMigrations(ctx); err != nil {
		panic(err)
	}

	if err := os.MkdirAll(filepath.Join(cfg.DataRoot, "uploads", "reports"), 0o755); err != nil {
		panic(err)
	}

	r := app.buildRouter()

	app.log.Info("starting gin API", "addr", cfg.Addr)
	if err := r.Run(cfg.Addr); err != nil {
		panic(err)
	}
}

func (a *App) buildRouter() *gin.Engine {
	r := gin.New()
	if err := r.SetTrustedProxies([]string{trustedProxyLoopbackIPv4, trustedProxyLoopbackIPv6}); err != nil {
		panic(err)
	}
	r.Use(gin.Recovery())
	r.Use(a.loggingMiddleware())
	r.Use(a.corsMiddleware())
	if a.metrics != nil {
		r.Use(a.metrics.middleware())
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Uploaded photos are served from disk when the local object store is in
	// use; with MinIO the image URLs point at the bucket instead.
	r.Static("/uploads", filepath.Join(a.cfg.DataRoot, "uploads"))

	api := r.Group("/api/v1")
	{
		geo := api.Group("/geo")
		{
			geo.GET("/provinces", a.provincesHandler)
			geo.GET("/districts", a.districtsHandler)
			geo.GET("/cities", a.citiesHandler)
			geo.GET("/reverse", a.reverseGeocodeHandler)
		}

		auth := api.Group("/auth")
		{
			auth.POST("/register", a.registerHandler)
			auth.POST("/login", a.loginHandler)
			auth.POST("/logout", a.logoutHandler)
			auth.GET("/session", a.sessionHandler)
		}

		api.POST("/reports", a.createReportHandler)
		api.GET("/reports", a.listReportsHandler)
		api.GET("/reports/mine", a.myReportsHandler)
		api.GET("/reports/export.pdf", a.exportReportsPDFHandler)
		api.GET("/profile", a.profileHandler)
	}

	return r
}

func loadConfig() (*Config, error) {
	databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if databaseURL == "" {
		host := valueFromEnvKeys("PGHOST", "POSTGRES_HOST")
		if host == "" {
			host = "127.0.0.1"
		}
		port := valueFromEnvKeys("PGPORT", "POSTGRES_PORT")
		if port == "" {
			port = "5432"
		}
		dbname := valueFromEnvKeys("PGDATABASE", "POSTGRES_DB")
		user := valueFromEnvKeys("PGUSER", "POSTGRES_USER")
		password := valueFromEnvKeys("PGPASSWORD", "POSTGRES_PASSWORD")
		sslmode := valueFromEnvKeys("PGSSLMODE", "POSTGRES_SSLMODE")
		if sslmode == "" {
			sslmode = "disable"
		}
		if dbname != "" && user != "" {
			databaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, password, host, port, dbname, sslmode)
		}
	}
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL or PG*/POSTGRES_* variables must be configured")
	}

	secret := strings.TrimSpace(os.Getenv("APP_SIGNING_SECRET"))
	if len(secret) < 16 {
		return nil, fmt.Errorf("APP_SIGNING_SECRET must be at least 16 characters")
	}

	publicBase := strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL"))
	if publicBase == "" {
		publicBase = "http://localhost:8080"
	}
	publicBase = strings.TrimRight(publicBase, "/")

	env := strings.TrimSpace(os.Getenv("APP_ENV"))
	if env == "" {
		env = "development"
	}

	cfg := &Config{
		Addr:             valueOrDefault("GIN_ADDR", ":8080"),
		Env:              env,
		DatabaseURL:      databaseURL,
		DataRoot:         valueOrDefault("DATA_ROOT", "/var/lib/report2clean"),
		PublicBaseURL:    publicBase,
		AppSigningSecret: secret,
		ResendAPIKey:     strings.TrimSpace(os.Getenv("RESEND_API_KEY")),
		MailerFrom: map[string]string{
			"resend": valueOrDefault("MAILER_FROM_ADDRESS_RESEND", "noreply@mail.report2clean.org"),
			"log":    valueOrDefault("MAILER_FROM_ADDRESS_LOG", "noreply@report2clean.local"),
		},
		MinioEndpoint:  strings.TrimSpace(os.Getenv("MINIO_ENDPOINT")),
		MinioAccessKey: strings.TrimSpace(os.Getenv("MINIO_ACCESS_KEY")),
		MinioSecretKey: strings.TrimSpace(os.Getenv("MINIO_SECRET_KEY")),
		MinioBucket:    valueOrDefault("MINIO_BUCKET", "report2clean"),
		MinioRegion:    valueOrDefault("MINIO_REGION", "us-east-1"),
		MinioPublicURL: strings.TrimSpace(os.Getenv("MINIO_PUBLIC_URL")),
		MinioUseSSL:    strings.EqualFold(valueOrDefault("MINIO_USE_SSL", "false"), "true"),
	}

	if cfg.MinioEndpoint != "" && (cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "") {
		return nil, fmt.Errorf("MINIO_ACCESS_KEY and MINIO_SECRET_KEY must be set when MINIO_ENDPOINT is configured")
	}

	return cfg, nil
}

func valueOrDefault(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func valueFromEnvKeys(keys ...string) string {
	for _, key := range keys {
		value := strings.TrimSpace(os.Getenv(key))
		if value != "" {
			return value
		}
	}
	return ""
}

func (a *App) isProduction() bool {
	return strings.EqualFold(a.cfg.Env, "production")
}

func (a *App) runMigrations(ctx context.Context) error {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return err
	}

	if _, err := a.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return err
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)

	for _, file := range files {
		var exists bool
		if err := a.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE filename = $1)`, file).Scan(&exists); err != nil {
			return err
		}
		if exists {
			continue
		}

		content, err := migrationFiles.ReadFile(filepath.Join("migrations", file))
		if err != nil {
			return err
		}

		tx, err := a.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %s failed: %w", file, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (filename) VALUES ($1)`, file); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}

		a.log.Info("applied migration", "file", file)
	}

	return nil
}

func (a *App) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		a.log.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"ip", c.ClientIP(),
		)
	}
}

func (a *App) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := strings.TrimSpace(c.GetHeader("Origin"))
		if a.isAllowedCORSOrigin(origin) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
			c.Header("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
			c.Header("Vary", "Origin")
		}
		if c.Request.Method == http.MethodOptions {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		c.Next()
	}
}

func (a *App) isAllowedCORSOrigin(origin string) bool {
	if origin == "" || a.cfg == nil {
		return false
	}
	if a.cfg.PublicBaseURL != "" && origin == a.cfg.PublicBaseURL {
		return true
	}
	if !strings.EqualFold(a.cfg.Env, "development") {
		return false
	}
	return origin == devCORSOriginLocalhost || origin == devCORSOriginLoopback
}

func (a *App) checkRateLimit(key string) bool {
	now := time.Now()
	a.rateLimiterMu.Lock()
	defer a.rateLimiterMu.Unlock()

	bucket, ok := a.rateBuckets[key]
	if !ok || now.Sub(bucket.start) > submitRateLimitWindow {
		a.rateBuckets[key] = rateBucket{start: now, count: 1}
		return true
	}
	if bucket.count >= submitRateLimitRequests {
		return false
	}
	bucket.count++
	a.rateBuckets[key] = bucket
	return true
}

func (a *App) pruneRateBuckets(now time.Time) {
	a.rateLimiterMu.Lock()
	defer a.rateLimiterMu.Unlock()
	for key, bucket := range a.rateBuckets {
		if now.Sub(bucket.start) > submitRateLimitWindow {
			delete(a.rateBuckets, key)
		}
	}
}

func (a *App) startRateLimiterCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				a.pruneRateBuckets(now)
			}
		}
	}()
}

func writeAPIError(c *gin.Context, err error) {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		body := gin.H{"error": apiErr.Code, "message": apiErr.Message}
		if apiErr.Redirect != "" {
			body["redirect"] = apiErr.Redirect
		}
		c.JSON(apiErr.Status, body)
		return
	}

	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
}
