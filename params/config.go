package params

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"github.com/uhyunpark/hypersettle/pkg/crypto"
)

// Domain is the EIP-712 domain every maker signs under.
type Domain struct {
	Name    string
	Version string
	ChainID int64
	// EngineAddress is the verifying contract in the domain and the
	// spender/operator the asset ledgers see.
	EngineAddress common.Address
}

type Access struct {
	Owner     common.Address
	Executors []common.Address
}

type Node struct {
	DataDir  string
	APIAddr  string
	LogFile  string
	LogLevel string
	// SequencerInterval is the idle tick of the sequencer. Submissions wake
	// it immediately, so this only bounds latency for requests pushed while
	// a round is running.
	SequencerInterval time.Duration
	RequestTimeout    time.Duration
	// GenesisFile seeds the asset world; empty starts with no assets.
	GenesisFile    string
	AllowedOrigins []string
}

type P2P struct {
	Enabled    bool
	ListenAddr string
	Bootstrap  []string
	Topic      string
	// AttestationSeed is a 0x-prefixed hex seed of at least 32 bytes for the
	// node's BLS attestation key. Empty generates a key per start.
	AttestationSeed string
}

type Kafka struct {
	Brokers []string
	Topic   string
}

type Ledger struct {
	CacheEntries int
}

type Events struct {
	BusCapacity int
}

type Config struct {
	Domain Domain
	Access Access
	Node   Node
	P2P    P2P
	Kafka  Kafka
	Ledger Ledger
	Events Events
}

func Default() Config {
	d := crypto.DefaultDomain()
	return Config{
		Domain: Domain{
			Name:          d.Name,
			Version:       d.Version,
			ChainID:       d.ChainID.Int64(),
			EngineAddress: common.HexToAddress("0x00000000000000000000000000000000000e4e41"),
		},
		Node: Node{
			DataDir:           "data",
			APIAddr:           ":8080",
			LogFile:           "data/node.log",
			LogLevel:          "info",
			SequencerInterval: 50 * time.Millisecond,
			RequestTimeout:    10 * time.Second,
			AllowedOrigins:    []string{"http://localhost:3000", "http://localhost:3001"},
		},
		P2P: P2P{
			Enabled:    true,
			ListenAddr: "/ip4/0.0.0.0/tcp/9000",
			Topic:      "hypersettle-events",
		},
		Kafka: Kafka{
			Topic: "settlements",
		},
		Ledger: Ledger{
			CacheEntries: 100_000,
		},
		Events: Events{
			BusCapacity: 1024,
		},
	}
}

// CryptoDomain converts the configured domain for signing and verification.
func (d Domain) CryptoDomain() crypto.Domain {
	return crypto.Domain{
		Name:              d.Name,
		Version:           d.Version,
		ChainID:           big.NewInt(d.ChainID),
		VerifyingContract: d.EngineAddress,
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	cfg.Domain.Name = getEnv("DOMAIN_NAME", cfg.Domain.Name)
	cfg.Domain.Version = getEnv("DOMAIN_VERSION", cfg.Domain.Version)
	if v := os.Getenv("CHAIN_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("CHAIN_ID: %w", err)
		}
		cfg.Domain.ChainID = id
	}
	if v := os.Getenv("ENGINE_ADDRESS"); v != "" {
		addr, err := parseAddress("ENGINE_ADDRESS", v)
		if err != nil {
			return cfg, err
		}
		cfg.Domain.EngineAddress = addr
	}

	if v := os.Getenv("OWNER_ADDRESS"); v != "" {
		addr, err := parseAddress("OWNER_ADDRESS", v)
		if err != nil {
			return cfg, err
		}
		cfg.Access.Owner = addr
	}
	for _, v := range splitList(os.Getenv("EXECUTOR_ADDRESSES")) {
		addr, err := parseAddress("EXECUTOR_ADDRESSES", v)
		if err != nil {
			return cfg, err
		}
		cfg.Access.Executors = append(cfg.Access.Executors, addr)
	}

	cfg.Node.DataDir = getEnv("DATA_DIR", cfg.Node.DataDir)
	cfg.Node.APIAddr = getEnv("API_ADDR", cfg.Node.APIAddr)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	if cfg.Node.LogFile == "-" {
		cfg.Node.LogFile = "" // console only
	}
	cfg.Node.LogLevel = getEnv("LOG_LEVEL", cfg.Node.LogLevel)
	cfg.Node.GenesisFile = getEnv("GENESIS_FILE", cfg.Node.GenesisFile)
	if origins := splitList(os.Getenv("ALLOWED_ORIGINS")); len(origins) > 0 {
		cfg.Node.AllowedOrigins = origins
	}
	var err error
	if cfg.Node.SequencerInterval, err = getMillis("SEQUENCER_INTERVAL_MS", cfg.Node.SequencerInterval); err != nil {
		return cfg, err
	}
	if cfg.Node.RequestTimeout, err = getMillis("REQUEST_TIMEOUT_MS", cfg.Node.RequestTimeout); err != nil {
		return cfg, err
	}

	if v := os.Getenv("P2P_ENABLED"); v != "" {
		cfg.P2P.Enabled = v == "true"
	}
	cfg.P2P.ListenAddr = getEnv("LISTEN", cfg.P2P.ListenAddr)
	if peers := splitList(os.Getenv("BOOTSTRAP_PEERS")); len(peers) > 0 {
		cfg.P2P.Bootstrap = peers
	}
	cfg.P2P.Topic = getEnv("P2P_TOPIC", cfg.P2P.Topic)
	cfg.P2P.AttestationSeed = getEnv("ATTESTATION_SEED", cfg.P2P.AttestationSeed)

	if brokers := splitList(os.Getenv("KAFKA_BROKERS")); len(brokers) > 0 {
		cfg.Kafka.Brokers = brokers
	}
	cfg.Kafka.Topic = getEnv("KAFKA_TOPIC", cfg.Kafka.Topic)

	if cfg.Ledger.CacheEntries, err = getInt("LEDGER_CACHE_ENTRIES", cfg.Ledger.CacheEntries); err != nil {
		return cfg, err
	}
	if cfg.Events.BusCapacity, err = getInt("EVENT_BUS_CAPACITY", cfg.Events.BusCapacity); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getMillis(key string, defaultValue time.Duration) (time.Duration, error) {
	ms, err := getInt(key, int(defaultValue.Milliseconds()))
	if err != nil {
		return defaultValue, err
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func parseAddress(key, v string) (common.Address, error) {
	v = strings.TrimSpace(v)
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("%s: invalid address %q", key, v)
	}
	return common.HexToAddress(v), nil
}

// splitList splits a comma separated value, dropping empty entries.
func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
