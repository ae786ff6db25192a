package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Profile is the configuration to start main server.
type Profile struct {
	// Mode can be "prod" or "dev" or "demo"
	Mode string
	// Addr is the binding address for server
	Addr string
	// Port is the binding port for server
	Port int
	// Data is the data directory
	Data string
	// DSN points to where shelfscan stores its own data
	DSN string
	// Driver is the database driver (sqlite or postgres)
	Driver string
	// Version is the current version of server
	Version string

	// Embedding extractor configuration
	EmbeddingProvider string // SHELFSCAN_EMBEDDING_PROVIDER (default: grid)
	EmbeddingModel    string // SHELFSCAN_EMBEDDING_MODEL
	EmbeddingBaseURL  string // SHELFSCAN_EMBEDDING_BASE_URL (default: https://api.openai.com/v1)
	EmbeddingAPIKey   string // SHELFSCAN_EMBEDDING_API_KEY

	// Index runner configuration
	IndexBatchSize     int           // SHELFSCAN_INDEX_BATCH_SIZE (default: 10)
	IndexSweepInterval time.Duration // SHELFSCAN_INDEX_SWEEP_INTERVAL (default: 0, disabled)

	// Pull replication configuration
	ReplicationURL      string        // SHELFSCAN_REPLICATION_URL
	ReplicationInterval time.Duration // SHELFSCAN_REPLICATION_INTERVAL (default: 30s)

	// MaxConcurrentExtractions limits image decodes and extractions in the API.
	MaxConcurrentExtractions int // SHELFSCAN_MAX_CONCURRENT_EXTRACTIONS (default: 4)
}

const (
	EmbeddingProviderGrid   = "grid"
	EmbeddingProviderOpenAI = "openai"
)

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsReplicationEnabled returns true if a replication endpoint is configured.
func (p *Profile) IsReplicationEnabled() bool {
	return p.ReplicationURL != ""
}

// getEnvOrDefault returns the environment variable value or the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnvOrDefault(key string, defaultValue int) int {
	if value, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}

func getDurationEnvOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}

// FromEnv loads the extractor, runner and replication settings from SHELFSCAN_* environment
// variables. Unset or unparsable values fall back to defaults.
func (p *Profile) FromEnv() {
	p.EmbeddingProvider = getEnvOrDefault("SHELFSCAN_EMBEDDING_PROVIDER", EmbeddingProviderGrid)
	p.EmbeddingModel = os.Getenv("SHELFSCAN_EMBEDDING_MODEL")
	p.EmbeddingBaseURL = getEnvOrDefault("SHELFSCAN_EMBEDDING_BASE_URL", "https://api.openai.com/v1")
	p.EmbeddingAPIKey = os.Getenv("SHELFSCAN_EMBEDDING_API_KEY")

	p.IndexBatchSize = getIntEnvOrDefault("SHELFSCAN_INDEX_BATCH_SIZE", 10)
	p.IndexSweepInterval = getDurationEnvOrDefault("SHELFSCAN_INDEX_SWEEP_INTERVAL", 0)

	p.ReplicationURL = os.Getenv("SHELFSCAN_REPLICATION_URL")
	p.ReplicationInterval = getDurationEnvOrDefault("SHELFSCAN_REPLICATION_INTERVAL", 30*time.Second)

	p.MaxConcurrentExtractions = getIntEnvOrDefault("SHELFSCAN_MAX_CONCURRENT_EXTRACTIONS", 4)
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}
	if p.Driver == "" {
		p.Driver = "sqlite"
	}
	if p.Driver != "sqlite" && p.Driver != "postgres" {
		return errors.Errorf("unsupported driver %q", p.Driver)
	}

	if p.Mode == "prod" && p.Data == "" {
		if runtime.GOOS == "windows" {
			p.Data = filepath.Join(os.Getenv("ProgramData"), "shelfscan")
			if _, err := os.Stat(p.Data); os.IsNotExist(err) {
				if err := os.MkdirAll(p.Data, 0770); err != nil {
					slog.Error("failed to create data directory", slog.String("data", p.Data), slog.String("error", err.Error()))
					return err
				}
			}
		} else {
			p.Data = "/var/opt/shelfscan"
		}
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check dsn", slog.String("data", dataDir), slog.String("error", err.Error()))
		return err
	}

	p.Data = dataDir
	if p.Driver == "sqlite" && p.DSN == "" {
		dbFile := fmt.Sprintf("shelfscan_%s.db", p.Mode)
		p.DSN = filepath.Join(dataDir, dbFile)
	}
	if p.Driver == "postgres" && p.DSN == "" {
		return errors.New("dsn is required for the postgres driver")
	}

	switch p.EmbeddingProvider {
	case "":
		p.EmbeddingProvider = EmbeddingProviderGrid
	case EmbeddingProviderGrid:
	case EmbeddingProviderOpenAI:
		if p.EmbeddingModel == "" {
			return errors.New("embedding model is required for the openai provider")
		}
	default:
		return errors.Errorf("unsupported embedding provider %q", p.EmbeddingProvider)
	}
	if p.IndexBatchSize <= 0 {
		p.IndexBatchSize = 10
	}
	if p.MaxConcurrentExtractions <= 0 {
		p.MaxConcurrentExtractions = 4
	}
	if p.IsReplicationEnabled() && p.ReplicationInterval <= 0 {
		p.ReplicationInterval = 30 * time.Second
	}

	return nil
}
