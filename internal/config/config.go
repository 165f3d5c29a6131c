// Package config loads the server's runtime configuration from CLI flags
// (via cobra/pflag) with environment-variable fallback, in the flag-first
// idiom generalized from the teacher's env-first agent.LoadConfig.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
)

// SourceType is the content origin.
type SourceType string

const (
	SourceLocal  SourceType = "local"
	SourceGithub SourceType = "github"
)

// AuthMethod is one enabled authentication mode.
type AuthMethod string

const (
	AuthOpen   AuthMethod = "open"
	AuthBasic  AuthMethod = "basic"
	AuthCFMTLS AuthMethod = "cf-mtls"
)

// Config holds every CLI-configurable option plus derived/env-sourced
// secrets, per the option table.
type Config struct {
	BaseURL               string
	SourceType            SourceType
	Directory             string
	DocumentsSubdirectory string
	AuthMethods           []AuthMethod
	Host                  string
	Port                  int

	GithubAPIURL    string
	GithubRepo      string
	GithubBranch    string
	GithubToken     string
	GitBackend      string // go-git (default, in-memory pack) or native (shells out to git)

	DataDir               string
	UpdateDelaySeconds    int
	StatusDashboardEnabled bool
	CORSOrigins           []string

	BasicAuthUsers map[string]string // username -> bcrypt hash
	WebhookSecret  string
	LogLevel       string

	MTLSTrustedPairs []MTLSPair // statically configured trusted (issuer, subject) pairs
	MTLSTrustedRoots []string  // statically configured trusted root DNs
	MTLSTrustURLs    []string  // HTTPS endpoints to fetch additional trust lists from at startup
}

// MTLSPair is one statically configured trusted (issuer, subject) DN pair,
// sourced from the MTLS_TRUST env var.
type MTLSPair struct {
	Issuer  string `json:"issuer"`
	Subject string `json:"subject"`
}

// Load parses args (typically os.Args[1:]) into a Config, falling back to
// environment variables for anything not passed as a flag, and validates
// the mandatory fields. A non-nil error here is a startup fatal condition
// (exit code 1).
func Load(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("ord-provider", pflag.ContinueOnError)

	baseURL := fs.String("base-url", "", "public base URL advertised in the config")
	sourceType := fs.String("source-type", "local", "content source: local or github")
	directory := fs.String("directory", "", "root directory (local) or sub-path (github)")
	docsSubdir := fs.String("documents-subdirectory", "documents", "documents subdirectory name")
	auth := fs.String("auth", "open", "comma-separated auth methods: open,basic,cf-mtls")
	host := fs.String("host", "0.0.0.0", "listen host")
	port := fs.Int("port", 8080, "listen port")
	githubAPIURL := fs.String("github-api-url", "https://api.github.com", "GitHub API URL")
	githubRepo := fs.String("github-repository", "", "owner/repo")
	githubBranch := fs.String("github-branch", "main", "branch to track")
	githubToken := fs.String("github-token", "", "GitHub access token")
	gitBackend := fs.String("git-backend", "go-git", "github fetch implementation: go-git or native")
	dataDir := fs.String("data-dir", "./data", "root for versioned snapshots")
	updateDelay := fs.Int("update-delay", 30, "webhook cooldown in seconds")
	dashboard := fs.Bool("status-dashboard-enabled", true, "enable the static status dashboard")
	cors := fs.String("cors", "", "comma-separated allowed CORS origins")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	cfg := &Config{
		BaseURL:                envOr("BASE_URL", flagOrEnv(fs, "base-url", *baseURL)),
		SourceType:             SourceType(flagOrEnv(fs, "source-type", *sourceType)),
		Directory:              flagOrEnv(fs, "directory", *directory),
		DocumentsSubdirectory:  flagOrEnv(fs, "documents-subdirectory", *docsSubdir),
		Host:                   flagOrEnv(fs, "host", *host),
		Port:                   *port,
		GithubAPIURL:           flagOrEnv(fs, "github-api-url", *githubAPIURL),
		GithubRepo:             flagOrEnv(fs, "github-repository", *githubRepo),
		GithubBranch:           flagOrEnv(fs, "github-branch", *githubBranch),
		GithubToken:            flagOrEnv(fs, "github-token", *githubToken),
		GitBackend:             flagOrEnv(fs, "git-backend", *gitBackend),
		DataDir:                flagOrEnv(fs, "data-dir", *dataDir),
		UpdateDelaySeconds:     *updateDelay,
		StatusDashboardEnabled: *dashboard,
		WebhookSecret:          os.Getenv("WEBHOOK_SECRET"),
		LogLevel:               os.Getenv("LOG_LEVEL"),
	}

	if *githubToken == "" {
		cfg.GithubToken = os.Getenv("GITHUB_TOKEN")
	}
	if v, err := strconv.Atoi(os.Getenv("PORT")); err == nil && !fs.Changed("port") {
		cfg.Port = v
	}
	if v, err := strconv.Atoi(os.Getenv("UPDATE_DELAY")); err == nil && !fs.Changed("update-delay") {
		cfg.UpdateDelaySeconds = v
	}
	if v, err := strconv.ParseBool(os.Getenv("STATUS_DASHBOARD_ENABLED")); err == nil && !fs.Changed("status-dashboard-enabled") {
		cfg.StatusDashboardEnabled = v
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = vcapBaseURL()
	}

	for _, m := range strings.Split(flagOrEnv(fs, "auth", *auth), ",") {
		m = strings.TrimSpace(m)
		if m != "" {
			cfg.AuthMethods = append(cfg.AuthMethods, AuthMethod(m))
		}
	}
	if corsList := flagOrEnv(fs, "cors", *cors); corsList != "" {
		for _, o := range strings.Split(corsList, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	}

	if basicAuthJSON := os.Getenv("BASIC_AUTH"); basicAuthJSON != "" {
		if err := json.Unmarshal([]byte(basicAuthJSON), &cfg.BasicAuthUsers); err != nil {
			return nil, fmt.Errorf("parsing BASIC_AUTH: %w", err)
		}
	}
	if mtlsTrustJSON := os.Getenv("MTLS_TRUST"); mtlsTrustJSON != "" {
		var trust struct {
			Pairs []MTLSPair `json:"pairs"`
			Roots []string   `json:"roots"`
		}
		if err := json.Unmarshal([]byte(mtlsTrustJSON), &trust); err != nil {
			return nil, fmt.Errorf("parsing MTLS_TRUST: %w", err)
		}
		cfg.MTLSTrustedPairs = trust.Pairs
		cfg.MTLSTrustedRoots = trust.Roots
	}
	if urls := os.Getenv("MTLS_TRUST_URLS"); urls != "" {
		for _, u := range strings.Split(urls, ",") {
			if u = strings.TrimSpace(u); u != "" {
				cfg.MTLSTrustURLs = append(cfg.MTLSTrustURLs, u)
			}
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("--base-url is required")
	}
	if c.SourceType != SourceLocal && c.SourceType != SourceGithub {
		return fmt.Errorf("--source-type must be local or github, got %q", c.SourceType)
	}
	if c.SourceType == SourceLocal && c.Directory == "" {
		return fmt.Errorf("--directory is required for source-type=local")
	}
	if c.SourceType == SourceGithub {
		if c.GithubRepo == "" {
			return fmt.Errorf("--github-repository is required for source-type=github")
		}
		if c.GithubToken == "" {
			return fmt.Errorf("--github-token is required for source-type=github")
		}
		if c.GitBackend != "go-git" && c.GitBackend != "native" {
			return fmt.Errorf("--git-backend must be go-git or native, got %q", c.GitBackend)
		}
	}
	hasBasic := false
	hasOpen := false
	for _, m := range c.AuthMethods {
		switch m {
		case AuthOpen:
			hasOpen = true
		case AuthBasic:
			hasBasic = true
		case AuthCFMTLS:
		default:
			return fmt.Errorf("unrecognized --auth method %q", m)
		}
	}
	if hasOpen && len(c.AuthMethods) > 1 {
		return fmt.Errorf("--auth open must be used exclusively")
	}
	if hasBasic && len(c.BasicAuthUsers) == 0 {
		return fmt.Errorf("BASIC_AUTH env var is required when auth=basic")
	}
	return nil
}

// flagOrEnv prefers an explicitly-set flag value; otherwise checks the
// matching upper-snake-case environment variable; otherwise the flag's
// default.
func flagOrEnv(fs *pflag.FlagSet, flagName, flagValue string) string {
	if fs.Changed(flagName) {
		return flagValue
	}
	envName := strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
	if v := os.Getenv(envName); v != "" {
		return v
	}
	return flagValue
}

func envOr(name, fallback string) string {
	if fallback != "" {
		return fallback
	}
	return os.Getenv(name)
}

// vcapBaseURL discovers a base URL from a Cloud Foundry VCAP_APPLICATION
// binding when --base-url is not otherwise provided.
func vcapBaseURL() string {
	raw := os.Getenv("VCAP_APPLICATION")
	if raw == "" {
		return ""
	}
	var vcap struct {
		ApplicationURIs []string `json:"application_uris"`
	}
	if err := json.Unmarshal([]byte(raw), &vcap); err != nil || len(vcap.ApplicationURIs) == 0 {
		return ""
	}
	return "https://" + vcap.ApplicationURIs[0]
}
