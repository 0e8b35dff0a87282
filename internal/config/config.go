// Package config provides application configuration loaded from a YAML file
// with environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration values.
const (
	DefaultGPUEndpoint       = "http://localhost:8001"
	DefaultEmbeddingVersion  = "bge-m3"
	DefaultNSFWThreshold     = 0.7
	DefaultBatchSize         = 128
	DefaultConcurrency       = 1
	DefaultMaxElements       = 1_500_000
	DefaultEfConstruction    = 200
	DefaultEfSearch          = 64
	DefaultM                 = 16
	DefaultMetric            = "cosine"
	DefaultTMDBBaseURL       = "https://api.themoviedb.org/3"
	DefaultTMDBLanguage      = "zh-CN"
	DefaultTPDBEndpoint      = "https://theporndb.net/graphql?type=JAV"
	DefaultBitmagnetSchema   = "hermes"
	DefaultGraphQLTimeout    = 15.0
	DefaultGraphQLSearchCap  = 100
	DefaultTokenTTLSeconds   = 86400
	DefaultQueryExpandLimit  = 20
	DefaultEnrichMaxPerBatch = 50
)

// identifierPattern is the only shape of SQL identifier that may be spliced
// into generated statements. Everything else goes through bound parameters.
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config is the root configuration document.
type Config struct {
	GPUEndpoint           string          `yaml:"gpu_endpoint"`
	EmbeddingModelVersion string          `yaml:"embedding_model_version"`
	NSFWThreshold         float64         `yaml:"nsfw_threshold"`
	Postgres              PostgresConfig  `yaml:"postgres"`
	VectorStore           VectorStore     `yaml:"vector_store"`
	Sync                  SyncConfig      `yaml:"sync"`
	Sources               []Source        `yaml:"sources"`
	LocalEmbedder         LocalEmbedder   `yaml:"local_embedder"`
	TMDB                  TMDBConfig      `yaml:"tmdb"`
	TPDB                  TPDBConfig      `yaml:"tpdb"`
	Bitmagnet             BitmagnetConfig `yaml:"bitmagnet"`
	Auth                  AuthConfig      `yaml:"auth"`
	Search                SearchConfig    `yaml:"search"`
	Server                ServerConfig    `yaml:"server"`
}

// PostgresConfig holds catalog database settings.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// VectorStore selects and parameterizes the vector index backend.
type VectorStore struct {
	Type           string `yaml:"type"` // local | qdrant | milvus
	Path           string `yaml:"path"`
	Dim            int    `yaml:"dim"`
	Metric         string `yaml:"metric"`
	MaxElements    int    `yaml:"max_elements"`
	EfConstruction int    `yaml:"ef_construction"`
	M              int    `yaml:"M"`
	EfSearch       int    `yaml:"ef_search"`
	URL            string `yaml:"url"`
	Collection     string `yaml:"collection"`
	APIKey         string `yaml:"api_key"`
	URI            string `yaml:"uri"`
}

// SyncConfig holds batch sizing for the sync pipeline. Zero values fall back
// to source-level or global defaults.
type SyncConfig struct {
	BatchSize   int `yaml:"batch_size"`
	Concurrency int `yaml:"concurrency"`
}

// Source binds one catalog table to the search index.
type Source struct {
	Name    string        `yaml:"name"`
	PG      SourceTable   `yaml:"pg"`
	Sync    SyncConfig    `yaml:"sync"`
	Tagging TaggingConfig `yaml:"tagging"`
}

// SourceTable describes the catalog projection for a source.
type SourceTable struct {
	Table            string   `yaml:"table"`
	IDField          string   `yaml:"id_field"`
	TextField        string   `yaml:"text_field"`
	UpdatedAtField   string   `yaml:"updated_at_field"`
	ExtraFields      []string `yaml:"extra_fields"`
	Joins            []Join   `yaml:"joins"`
	KeywordFields    []string `yaml:"keyword_fields"`
	KeywordSearch    bool     `yaml:"keyword_search"`
	KeywordNormalize bool     `yaml:"keyword_normalize"`
	SizeField        string   `yaml:"size_field"`
	TMDBEnrich       bool     `yaml:"tmdb_enrich"`
	TPDBEnrich       bool     `yaml:"tpdb_enrich"`
	Where            string   `yaml:"where"`
	TMDBOnlyField    string   `yaml:"tmdb_only_field"`
}

// Join describes a side table joined during hydration.
type Join struct {
	Table  string      `yaml:"table"`
	Alias  string      `yaml:"alias"`
	Type   string      `yaml:"type"` // left | inner
	On     string      `yaml:"on"`
	Fields []JoinField `yaml:"fields"`
}

// JoinField selects a joined column, optionally aggregated.
type JoinField struct {
	Column   string `yaml:"column"`
	Alias    string `yaml:"alias"`
	Agg      string `yaml:"agg"` // array_agg | json_agg | jsonb_agg
	Distinct bool   `yaml:"distinct"`
}

// TaggingConfig controls payload tagging for a source.
type TaggingConfig struct {
	NSFW *bool `yaml:"nsfw"`
}

// NSFWEnabled reports whether NSFW tagging is on (default true).
func (t TaggingConfig) NSFWEnabled() bool {
	return t.NSFW == nil || *t.NSFW
}

// LocalEmbedder configures the optional in-process embedding model.
type LocalEmbedder struct {
	Enabled   bool   `yaml:"enabled"`
	ModelName string `yaml:"model_name"`
	CacheDir  string `yaml:"cache_dir"`
}

// TMDBConfig configures TMDB enrichment.
type TMDBConfig struct {
	Enabled          bool         `yaml:"enabled"`
	AutoEnrich       bool         `yaml:"auto_enrich"`
	APIKey           string       `yaml:"api_key"`
	APIKeyEnv        string       `yaml:"api_key_env"`
	BaseURL          string       `yaml:"base_url"`
	Language         string       `yaml:"language"`
	CacheDir         string       `yaml:"cache_dir"`
	Limits           TMDBLimits   `yaml:"limits"`
	SleepSeconds     float64      `yaml:"sleep_seconds"`
	TimeoutSeconds   float64      `yaml:"timeout_seconds"`
	MaxPerBatch      int          `yaml:"max_per_batch"`
	QueryExpand      *bool        `yaml:"query_expand"`
	QueryExpandLimit int          `yaml:"query_expand_limit"`
	IMDB             RatingLookup `yaml:"imdb"`
	Douban           RatingLookup `yaml:"douban"`
}

// TMDBLimits caps list fields taken from TMDB payloads.
type TMDBLimits struct {
	Actors    int `yaml:"actors"`
	Directors int `yaml:"directors"`
	AKA       int `yaml:"aka"`
}

// RatingLookup configures a secondary rating endpoint (IMDB, Douban).
type RatingLookup struct {
	Enabled        bool    `yaml:"enabled"`
	BaseURL        string  `yaml:"base_url"`
	APIKey         string  `yaml:"api_key"`
	APIKeyEnv      string  `yaml:"api_key_env"`
	TimeoutSeconds float64 `yaml:"timeout_seconds"`
}

// QueryExpandEnabled reports whether query expansion is on (default true).
func (c TMDBConfig) QueryExpandEnabled() bool {
	return c.QueryExpand == nil || *c.QueryExpand
}

// ResolveAPIKey returns the configured key or reads it from the environment.
func (c TMDBConfig) ResolveAPIKey() (string, error) {
	if c.APIKey != "" {
		return c.APIKey, nil
	}
	env := c.APIKeyEnv
	if env == "" {
		env = "TMDB_API_KEY"
	}
	key := os.Getenv(env)
	if key == "" {
		return "", fmt.Errorf("missing TMDB API key in env: %s", env)
	}
	return key, nil
}

// TPDBConfig configures TPDB GraphQL enrichment.
type TPDBConfig struct {
	Enabled          bool              `yaml:"enabled"`
	AutoEnrich       bool              `yaml:"auto_enrich"`
	APIToken         string            `yaml:"api_token"`
	APITokenEnv      string            `yaml:"api_token_env"`
	Endpoint         string            `yaml:"endpoint"`
	Endpoints        map[string]string `yaml:"endpoints"`
	Query            string            `yaml:"query"`
	Queries          map[string]string `yaml:"queries"`
	ResultPath       string            `yaml:"result_path"`
	ResultPaths      map[string]string `yaml:"result_paths"`
	AuthHeader       string            `yaml:"auth_header"`
	AuthPrefix       string            `yaml:"auth_prefix"`
	TimeoutSeconds   float64           `yaml:"timeout_seconds"`
	SleepSeconds     float64           `yaml:"sleep_seconds"`
	MaxPerBatch      int               `yaml:"max_per_batch"`
	CacheTTLHours    float64           `yaml:"cache_ttl_hours"`
	NotFoundTTLHours float64           `yaml:"not_found_ttl_hours"`
	SearchLimit      int               `yaml:"search_limit"`
	RequireCode      bool              `yaml:"require_code"`
	DefaultType      string            `yaml:"default_type"`
}

// ResolveToken returns the configured token or reads it from the environment.
func (c TPDBConfig) ResolveToken() (string, error) {
	if c.APIToken != "" {
		return c.APIToken, nil
	}
	env := c.APITokenEnv
	if env == "" {
		env = "TPDB_API_TOKEN"
	}
	token := os.Getenv(env)
	if token == "" {
		return "", fmt.Errorf("missing TPDB API token in env: %s", env)
	}
	return token, nil
}

// BitmagnetConfig configures the bitmagnet catalog integration.
type BitmagnetConfig struct {
	Enabled               bool    `yaml:"enabled"`
	Schema                string  `yaml:"schema"`
	CreateSchema          bool    `yaml:"create_schema"`
	Host                  string  `yaml:"host"`
	GraphQLEndpoint       string  `yaml:"graphql_endpoint"`
	GraphQLTimeoutSeconds float64 `yaml:"graphql_timeout_seconds"`
	GraphQLSearchLimitCap int     `yaml:"graphql_search_limit_cap"`
}

// AuthConfig configures the file-backed user store and bearer tokens.
type AuthConfig struct {
	Enabled         bool   `yaml:"enabled"`
	AdminUser       string `yaml:"admin_user"`
	AdminPassword   string `yaml:"admin_password"`
	UserStorePath   string `yaml:"user_store_path"`
	TokenStorePath  string `yaml:"token_store_path"`
	TokenTTLSeconds int    `yaml:"token_ttl_seconds"`
}

// TokenTTL returns the token lifetime.
func (c AuthConfig) TokenTTL() time.Duration {
	ttl := c.TokenTTLSeconds
	if ttl <= 0 {
		ttl = DefaultTokenTTLSeconds
	}
	return time.Duration(ttl) * time.Second
}

// SearchConfig tunes the query side.
type SearchConfig struct {
	KeywordBackend string         `yaml:"keyword_backend"` // sql | bitmagnet
	QueryPrefix    string         `yaml:"query_prefix"`
	OpenAI         OpenAIEmbedder `yaml:"openai"`
}

// OpenAIEmbedder configures an OpenAI-compatible embedding endpoint used as
// an alternative to the GPU service for query embedding.
type OpenAIEmbedder struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

// ServerConfig holds HTTP server and logging settings. Environment variables
// (HERMES_HOST, HERMES_PORT, HERMES_LOG_LEVEL, HERMES_LOG_FORMAT) override
// the file values.
type ServerConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	host := s.Host
	if host == "" {
		host = "0.0.0.0"
	}
	port := s.Port
	if port == 0 {
		port = 8080
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// Load reads, defaults, overlays, and validates a configuration file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := overlayEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("environment overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.GPUEndpoint == "" {
		c.GPUEndpoint = DefaultGPUEndpoint
	}
	if c.EmbeddingModelVersion == "" {
		c.EmbeddingModelVersion = DefaultEmbeddingVersion
	}
	if c.NSFWThreshold == 0 {
		c.NSFWThreshold = DefaultNSFWThreshold
	}
	if c.VectorStore.Type == "" {
		c.VectorStore.Type = "local"
	}
	if c.VectorStore.Metric == "" {
		c.VectorStore.Metric = DefaultMetric
	}
	if c.VectorStore.MaxElements == 0 {
		c.VectorStore.MaxElements = DefaultMaxElements
	}
	if c.VectorStore.EfConstruction == 0 {
		c.VectorStore.EfConstruction = DefaultEfConstruction
	}
	if c.VectorStore.EfSearch == 0 {
		c.VectorStore.EfSearch = DefaultEfSearch
	}
	if c.VectorStore.M == 0 {
		c.VectorStore.M = DefaultM
	}
	if c.TMDB.BaseURL == "" {
		c.TMDB.BaseURL = DefaultTMDBBaseURL
	}
	if c.TMDB.Language == "" {
		c.TMDB.Language = DefaultTMDBLanguage
	}
	if c.TMDB.Limits.Actors == 0 {
		c.TMDB.Limits.Actors = 10
	}
	if c.TMDB.Limits.Directors == 0 {
		c.TMDB.Limits.Directors = 5
	}
	if c.TMDB.Limits.AKA == 0 {
		c.TMDB.Limits.AKA = 10
	}
	if c.TMDB.SleepSeconds == 0 {
		c.TMDB.SleepSeconds = 1.0
	}
	if c.TMDB.TimeoutSeconds == 0 {
		c.TMDB.TimeoutSeconds = 10
	}
	if c.TMDB.MaxPerBatch == 0 {
		c.TMDB.MaxPerBatch = DefaultEnrichMaxPerBatch
	}
	if c.TMDB.QueryExpandLimit == 0 {
		c.TMDB.QueryExpandLimit = DefaultQueryExpandLimit
	}
	if c.TPDB.Endpoint == "" {
		c.TPDB.Endpoint = DefaultTPDBEndpoint
	}
	if c.TPDB.AuthHeader == "" {
		c.TPDB.AuthHeader = "ApiKey"
	}
	if c.TPDB.TimeoutSeconds == 0 {
		c.TPDB.TimeoutSeconds = 15
	}
	if c.TPDB.SleepSeconds == 0 {
		c.TPDB.SleepSeconds = 1.0
	}
	if c.TPDB.MaxPerBatch == 0 {
		c.TPDB.MaxPerBatch = DefaultEnrichMaxPerBatch
	}
	if c.TPDB.CacheTTLHours == 0 {
		c.TPDB.CacheTTLHours = 168
	}
	if c.TPDB.NotFoundTTLHours == 0 {
		c.TPDB.NotFoundTTLHours = 720
	}
	if c.TPDB.SearchLimit == 0 {
		c.TPDB.SearchLimit = 10
	}
	if c.Bitmagnet.Schema == "" {
		c.Bitmagnet.Schema = DefaultBitmagnetSchema
	}
	if c.Bitmagnet.GraphQLTimeoutSeconds == 0 {
		c.Bitmagnet.GraphQLTimeoutSeconds = DefaultGraphQLTimeout
	}
	if c.Bitmagnet.GraphQLSearchLimitCap == 0 {
		c.Bitmagnet.GraphQLSearchLimitCap = DefaultGraphQLSearchCap
	}
	if c.Search.KeywordBackend == "" {
		c.Search.KeywordBackend = "sql"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "INFO"
	}
	if c.Server.LogFormat == "" {
		c.Server.LogFormat = "pretty"
	}
}

// Validate rejects configurations that would generate unsafe SQL or an
// unusable index. It fails fast: a bad config never reaches the pipeline.
func (c Config) Validate() error {
	if c.VectorStore.Dim <= 0 {
		return fmt.Errorf("vector_store.dim must be positive")
	}
	switch c.VectorStore.Metric {
	case "cosine", "dot", "l2":
	default:
		return fmt.Errorf("vector_store.metric %q not one of cosine, dot, l2", c.VectorStore.Metric)
	}
	switch c.VectorStore.Type {
	case "local", "qdrant", "milvus":
	default:
		return fmt.Errorf("vector_store.type %q not one of local, qdrant, milvus", c.VectorStore.Type)
	}

	seen := make(map[string]bool, len(c.Sources))
	for i, src := range c.Sources {
		if src.Name == "" {
			return fmt.Errorf("sources[%d]: name is required", i)
		}
		if seen[src.Name] {
			return fmt.Errorf("sources[%d]: duplicate source name %q", i, src.Name)
		}
		seen[src.Name] = true
		if err := src.PG.validate(); err != nil {
			return fmt.Errorf("source %s: %w", src.Name, err)
		}
	}
	return nil
}

func (t SourceTable) validate() error {
	if err := ValidateTable(t.Table); err != nil {
		return err
	}
	if err := ValidateIdentifier(t.IDField); err != nil {
		return err
	}
	if err := ValidateIdentifier(t.TextField); err != nil {
		return err
	}
	for _, field := range t.ExtraFields {
		if err := ValidateIdentifier(field); err != nil {
			return err
		}
	}
	if t.UpdatedAtField != "" {
		if err := ValidateIdentifier(t.UpdatedAtField); err != nil {
			return err
		}
	}
	if t.SizeField != "" {
		if err := ValidateIdentifier(t.SizeField); err != nil {
			return err
		}
	}
	if t.TMDBOnlyField != "" {
		if err := ValidateIdentifier(t.TMDBOnlyField); err != nil {
			return err
		}
	}
	for _, kw := range t.KeywordFields {
		if err := ValidateIdentifier(kw); err != nil {
			return err
		}
	}
	for _, join := range t.Joins {
		if err := ValidateTable(join.Table); err != nil {
			return err
		}
		if join.Alias != "" {
			if err := ValidateIdentifier(join.Alias); err != nil {
				return err
			}
		}
		switch strings.ToLower(join.Type) {
		case "", "left", "inner":
		default:
			return fmt.Errorf("unsupported join type: %s", join.Type)
		}
		for _, f := range join.Fields {
			if err := ValidateIdentifier(f.Column); err != nil {
				return err
			}
			if f.Alias != "" {
				if err := ValidateIdentifier(f.Alias); err != nil {
					return err
				}
			}
			switch strings.ToLower(f.Agg) {
			case "", "array_agg", "json_agg", "jsonb_agg":
			default:
				return fmt.Errorf("unsupported aggregate: %s", f.Agg)
			}
		}
	}
	return nil
}

// ValidateIdentifier rejects anything that is not a bare SQL identifier.
func ValidateIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("unsafe SQL identifier: %q", name)
	}
	return nil
}

// ValidateTable accepts a bare identifier or schema.identifier.
func ValidateTable(name string) error {
	parts := strings.Split(name, ".")
	if len(parts) > 2 {
		return fmt.Errorf("unsafe table name: %q", name)
	}
	for _, part := range parts {
		if err := ValidateIdentifier(part); err != nil {
			return fmt.Errorf("unsafe table name: %q", name)
		}
	}
	return nil
}

// SourceByName returns the source with the given name.
func (c Config) SourceByName(name string) (Source, bool) {
	for _, src := range c.Sources {
		if src.Name == name {
			return src, true
		}
	}
	return Source{}, false
}

// SourceBatchSize resolves the batch size for a source.
func (c Config) SourceBatchSize(src Source) int {
	if src.Sync.BatchSize > 0 {
		return src.Sync.BatchSize
	}
	if c.Sync.BatchSize > 0 {
		return c.Sync.BatchSize
	}
	return DefaultBatchSize
}

// SourceConcurrency resolves the worker count for a source.
func (c Config) SourceConcurrency(src Source) int {
	if src.Sync.Concurrency > 0 {
		return src.Sync.Concurrency
	}
	if c.Sync.Concurrency > 0 {
		return c.Sync.Concurrency
	}
	return DefaultConcurrency
}

// Timeout returns the TMDB HTTP timeout.
func (c TMDBConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds * float64(time.Second))
}

// Timeout returns the TPDB HTTP timeout.
func (c TPDBConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds * float64(time.Second))
}

// GraphQLTimeout returns the bitmagnet GraphQL timeout.
func (c BitmagnetConfig) GraphQLTimeout() time.Duration {
	return time.Duration(c.GraphQLTimeoutSeconds * float64(time.Second))
}
