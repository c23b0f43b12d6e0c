package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all configuration for flow-harness
type Config struct {
	// Chain connection
	RPC     string
	Timeout time.Duration

	// Signer. PrivateKey wins over WalletIndex when both are set.
	PrivateKey  string
	WalletIndex int64

	// Contract payloads
	ArtifactsDir string
	Workspace    string

	// Expression deployer build tool
	HardhatDir     string
	HardhatCommand string

	// Deployment settings
	DeployTimeout time.Duration
	PollInterval  time.Duration

	// Graph node
	StatusURL    string
	SubgraphName string

	// Records. An empty DatabaseURL keeps records in Workspace/deployments.json.
	DatabaseURL string

	// Observability
	MetricsAddr string
	Antithesis  bool
	Verbose     bool
}

// Load creates a new config from environment variables
func Load() *Config {
	return &Config{
		RPC:            getEnv("FLOW_RPC", "http://127.0.0.1:8545"),
		Timeout:        getDuration("FLOW_TIMEOUT", 30*time.Second),
		PrivateKey:     getEnv("FLOW_PRIVATE_KEY", ""),
		WalletIndex:    getInt64("FLOW_WALLET_INDEX", 0),
		ArtifactsDir:   getEnv("FLOW_ARTIFACTS_DIR", "./artifacts"),
		Workspace:      getEnv("FLOW_WORKSPACE", "./workspace"),
		HardhatDir:     getEnv("FLOW_HARDHAT_DIR", "."),
		HardhatCommand: getEnv("FLOW_HARDHAT_COMMAND", DefaultHardhatCommand),
		DeployTimeout:  getDuration("FLOW_DEPLOY_TIMEOUT", 5*time.Minute),
		PollInterval:   getDuration("FLOW_POLL_INTERVAL", 500*time.Millisecond),
		StatusURL:      getEnv("GRAPH_NODE_STATUS_URL", "http://127.0.0.1:8030/graphql"),
		SubgraphName:   getEnv("FLOW_SUBGRAPH_NAME", ""),
		DatabaseURL:    getEnv("FLOW_DATABASE_URL", ""),
		MetricsAddr:    getEnv("FLOW_METRICS_ADDR", ""),
		Antithesis:     getBool("ANTITHESIS", false),
		Verbose:        getBool("VERBOSE", false),
	}
}

// DefaultHardhatCommand deploys the expression deployer against a local
// hardhat network using the already compiled artifacts.
const DefaultHardhatCommand = "npx hardhat run scripts/deployExpressionDeployer.ts --network localhost --no-compile"

// Validate checks that the fields every command depends on are usable.
func (c *Config) Validate() error {
	if c.RPC == "" {
		return &ConfigError{Source: "rpc", Err: fmt.Errorf("must not be empty")}
	}
	if c.PrivateKey == "" && (c.WalletIndex < 0 || c.WalletIndex >= int64(len(devAccountKeys))) {
		return &ConfigError{Source: "wallet-index", Err: fmt.Errorf("must be between 0 and %d, got %d", len(devAccountKeys)-1, c.WalletIndex)}
	}
	if c.PrivateKey != "" {
		if _, err := ParsePrivateKey(c.PrivateKey); err != nil {
			return &ConfigError{Source: "private-key", Err: err}
		}
	}
	if c.Timeout <= 0 {
		return &ConfigError{Source: "timeout", Err: fmt.Errorf("must be positive, got %s", c.Timeout)}
	}
	if c.PollInterval <= 0 {
		return &ConfigError{Source: "poll-interval", Err: fmt.Errorf("must be positive, got %s", c.PollInterval)}
	}
	return nil
}

// ArtifactPath returns the path of a file under the artifacts directory.
func (c *Config) ArtifactPath(name string) string {
	return filepath.Join(c.ArtifactsDir, name)
}

// DeploymentsFile returns the path of the JSON deployment records.
func (c *Config) DeploymentsFile() string {
	return filepath.Join(c.Workspace, "deployments.json")
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getInt64(key string, fallback int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
