package params

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Engine struct {
	// ExecBudget caps orders executed per price move; the rest is deferred.
	ExecBudget int
	// FeeBps is the fill fee in basis points.
	FeeBps int64
	// FeeRecipient receives fill fees.
	FeeRecipient string
	// FallbackRecipient receives deferred payments whose original recipient
	// is blocked.
	FallbackRecipient string
	// DefaultMinOrder is the minimum deposit for assets without a specific
	// minimum.
	DefaultMinOrder int64
	// MinOrderSizes holds per-asset minimum deposits overriding
	// DefaultMinOrder, keyed by currency address.
	MinOrderSizes map[string]int64
	// AllowedPools gates order placement. Empty = allow every registered
	// pool (dev mode).
	AllowedPools []string
}

type Node struct {
	APIAddr string
	DBPath  string
	LogFile string
}

type API struct {
	// Operators may resolve deferred batches/payments and cancel any order.
	Operators []string
	// AllowedOrigins for CORS.
	AllowedOrigins []string
}

type DevPool struct {
	Enabled bool
	Pool    string
	Base    string
	Quote   string
	Spacing int64
	Price   int64
}

type Config struct {
	Engine  Engine
	Node    Node
	API     API
	DevPool DevPool
}

func Default() Config {
	return Config{
		Engine: Engine{
			ExecBudget:      100,
			FeeBps:          0,
			DefaultMinOrder: 1,
		},
		Node: Node{
			APIAddr: ":8080",
			DBPath:  "data/rangebook",
			LogFile: "data/node.log",
		},
		API: API{
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
		},
		DevPool: DevPool{
			Enabled: true,
			Pool:    "0x0000000000000000000000000000000000000001",
			Base:    "0x00000000000000000000000000000000000000b1",
			Quote:   "0x00000000000000000000000000000000000000c1",
			Spacing: 10,
			Price:   50,
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("EXEC_BUDGET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Engine.ExecBudget = n
		}
	}
	if v := os.Getenv("FEE_BPS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Engine.FeeBps = n
		}
	}
	cfg.Engine.FeeRecipient = getEnv("FEE_RECIPIENT", cfg.Engine.FeeRecipient)
	cfg.Engine.FallbackRecipient = getEnv("FALLBACK_RECIPIENT", cfg.Engine.FallbackRecipient)
	if v := os.Getenv("MIN_ORDER_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Engine.DefaultMinOrder = n
		}
	}
	if v := os.Getenv("MIN_ORDER_SIZES"); v != "" {
		cfg.Engine.MinOrderSizes = parseAmounts(v)
	}
	if v := os.Getenv("ALLOWED_POOLS"); v != "" {
		cfg.Engine.AllowedPools = splitList(v)
	}

	cfg.Node.APIAddr = getEnv("API_ADDR", cfg.Node.APIAddr)
	cfg.Node.DBPath = getEnv("DB_PATH", cfg.Node.DBPath)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)

	if v := os.Getenv("OPERATORS"); v != "" {
		cfg.API.Operators = splitList(v)
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.API.AllowedOrigins = splitList(v)
	}

	if v := os.Getenv("DEVPOOL"); v != "" {
		cfg.DevPool.Enabled = v == "true"
	}
	cfg.DevPool.Pool = getEnv("DEVPOOL_ADDR", cfg.DevPool.Pool)
	cfg.DevPool.Base = getEnv("DEVPOOL_BASE", cfg.DevPool.Base)
	cfg.DevPool.Quote = getEnv("DEVPOOL_QUOTE", cfg.DevPool.Quote)
	if v := os.Getenv("DEVPOOL_SPACING"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.DevPool.Spacing = n
		}
	}
	if v := os.Getenv("DEVPOOL_PRICE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.DevPool.Price = n
		}
	}

	return cfg
}

// getEnv returns an environment variable value or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseAmounts parses comma-separated "address:amount" pairs. Malformed or
// non-positive entries are skipped.
func parseAmounts(v string) map[string]int64 {
	out := make(map[string]int64)
	for _, p := range splitList(v) {
		addr, amt, ok := strings.Cut(p, ":")
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimSpace(amt), 10, 64)
		if err != nil || n <= 0 {
			continue
		}
		out[strings.TrimSpace(addr)] = n
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
