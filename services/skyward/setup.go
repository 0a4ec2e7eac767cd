package skyward

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"skyassist-backend/lib/cache"
	"skyassist-backend/lib/chrono"
	"skyassist-backend/lib/configutil"
	"skyassist-backend/lib/kvstore"
	"skyassist-backend/lib/restyutil"
	scraper "skyassist-backend/lib/scrapers/skyward"
	"skyassist-backend/lib/sqliteutil"
)

type PortalConfig struct {
	Link              string  `json:"link" validate:"omitempty,url"`
	Username          string  `json:"username"`
	Password          string  `json:"password"`
	CloudflareBypass  bool    `json:"cloudflare_bypass"`
	RequestsPerSecond float64 `json:"requests_per_second" validate:"gte=0"`
}

type Config struct {
	Skyward PortalConfig `json:"skyward"`
	// SessionDb is a sqlite path or libsql url, empty keeps the session in
	// memory.
	SessionDb string `json:"session_db"`
	// CacheDir is a badger directory, empty keeps the cache in memory.
	CacheDir    string `json:"cache_dir"`
	HttpDumpDir string `json:"http_dump_dir"`
	Port        int    `json:"port" validate:"gte=0,lte=65535"`
}

// ApplyEnv overrides the portal credentials from SKYWARD_* variables.
func (c *Config) ApplyEnv() {
	for env, target := range map[string]*string{
		"SKYWARD_LINK":     &c.Skyward.Link,
		"SKYWARD_USERNAME": &c.Skyward.Username,
		"SKYWARD_PASSWORD": &c.Skyward.Password,
	} {
		if value := strings.TrimSpace(os.Getenv(env)); value != "" {
			*target = value
		}
	}
}

// LoadConfig reads config.json5 (with its local overlay) when present,
// applies the environment and validates the result.
func LoadConfig(path string) (Config, error) {
	cfg, err := configutil.ReadConfig[Config](path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg.ApplyEnv()
	err = configutil.Validate(cfg)
	if err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Runtime is a fully wired service along with the resources it holds open.
type Runtime struct {
	Service *Service
	// Stored is where credentials saved by a login command live, it is the
	// credential source whenever the config carries no username.
	Stored StoredCredentials

	db     *sql.DB
	badger *cache.Badger
}

func Open(cfg Config) (*Runtime, error) {
	runtime := &Runtime{}

	var store kvstore.Store = kvstore.NewMemory()
	if cfg.SessionDb != "" {
		db, err := sqliteutil.OpenDB(kvstore.Schema, cfg.SessionDb)
		if err != nil {
			return nil, fmt.Errorf("open session db: %w", err)
		}
		runtime.db = db
		store = kvstore.NewSQL(db)
	}

	var backend cache.Backend = cache.NewMemory()
	if cfg.CacheDir != "" {
		badger, err := cache.OpenBadger(cfg.CacheDir)
		if err != nil {
			runtime.Close()
			return nil, fmt.Errorf("open cache: %w", err)
		}
		runtime.badger = &badger
		backend = badger
	}

	var dump restyutil.InstrumentOutput
	if cfg.HttpDumpDir != "" {
		output, err := restyutil.NewFilesystemOutput(cfg.HttpDumpDir)
		if err != nil {
			runtime.Close()
			return nil, fmt.Errorf("create http dump dir: %w", err)
		}
		dump = output
	}

	runtime.Stored = NewStoredCredentials(store)
	var credentials CredentialSource = runtime.Stored
	if cfg.Skyward.Username != "" {
		credentials = StaticCredentials(scraper.Credentials{
			Link:     cfg.Skyward.Link,
			Username: cfg.Skyward.Username,
			Password: cfg.Skyward.Password,
		})
	}

	clock := chrono.NewStandardImpl()
	runtime.Service = NewService(Options{
		Client: scraper.NewClient(scraper.ClientOptions{
			RequestsPerSecond: cfg.Skyward.RequestsPerSecond,
			CloudflareBypass:  cfg.Skyward.CloudflareBypass,
			DumpOutput:        dump,
		}),
		Store:       store,
		Credentials: credentials,
		Cache:       cache.New(backend, clock),
		Time:        clock,
	})
	return runtime, nil
}

func (r *Runtime) Close() error {
	var errs []error
	if r.badger != nil {
		errs = append(errs, r.badger.Close())
	}
	if r.db != nil {
		errs = append(errs, r.db.Close())
	}
	err := errors.Join(errs...)
	if err != nil {
		slog.Warn("failed to close runtime", "err", err)
	}
	return err
}

// SaveCredentials stores credentials for later logins and drops any session
// minted for the previous ones.
func (r *Runtime) SaveCredentials(ctx context.Context, creds scraper.Credentials) error {
	err := r.Stored.Save(ctx, creds)
	if err != nil {
		return err
	}
	return r.Service.sessions.ClearSession(ctx)
}
