package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	errorsmod "cosmossdk.io/errors"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"scrtgate/agent/internal/types"
)

const (
	FileName = "config.yaml"
	DirEnv   = "SCRTGATE_DIR"
)

type Token struct {
	Symbol     string `yaml:"symbol"`
	Contract   string `yaml:"contract"`
	CodeHash   string `yaml:"code_hash"`
	ViewingKey string `yaml:"viewing_key,omitempty"`
	Decimals   int    `yaml:"decimals"`
}

type Config struct {
	Agent struct {
		KeyFile      string `yaml:"key_file"`
		Mnemonic     string `yaml:"mnemonic,omitempty"`
		SystemPrompt string `yaml:"system_prompt"`
		DefaultUser  string `yaml:"default_user"`
	} `yaml:"agent"`
	Store struct {
		Path        string `yaml:"path"`
		JournalPath string `yaml:"journal_path"`
	} `yaml:"store"`
	LLM struct {
		Provider        string  `yaml:"provider"`
		Model           string  `yaml:"model"`
		BaseURL         string  `yaml:"base_url"`
		APIKey          string  `yaml:"api_key,omitempty"`
		Temperature     float64 `yaml:"temperature"`
		MaxOutputTokens int     `yaml:"max_output_tokens"`
		TimeoutSeconds  int     `yaml:"timeout_seconds"`
	} `yaml:"llm"`
	Chain struct {
		LCD            string  `yaml:"lcd"`
		ChainID        string  `yaml:"chain_id"`
		GasPrice       float64 `yaml:"gas_price"`
		TimeoutSeconds int     `yaml:"timeout_seconds"`
	} `yaml:"chain"`
	Tokens struct {
		Quote  Token `yaml:"quote"`
		Target Token `yaml:"target"`
	} `yaml:"tokens"`
	Trade struct {
		Confirm struct {
			InitialWaitSeconds int `yaml:"initial_wait_seconds"`
			PollMinSeconds     int `yaml:"poll_min_seconds"`
			PollMaxSeconds     int `yaml:"poll_max_seconds"`
			DeadlineSeconds    int `yaml:"deadline_seconds"`
		} `yaml:"confirm"`
	} `yaml:"trade"`
	Quotes struct {
		URL            string `yaml:"url"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"quotes"`
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		File   string `yaml:"file"`
	} `yaml:"logging"`
}

// BaseDir is where init writes config, keys and databases.
func BaseDir(home string) string {
	return filepath.Join(home, ".scrtgate")
}

func Default(home string) Config {
	base := BaseDir(home)
	cfg := Config{}
	cfg.Agent.KeyFile = filepath.Join(base, "keys", "wallet.json")
	cfg.Agent.DefaultUser = "default"
	cfg.Store.Path = filepath.Join(base, "memory.db")
	cfg.Store.JournalPath = filepath.Join(base, "trades.bolt")
	cfg.LLM.Provider = "ollama"
	cfg.LLM.Model = ""
	cfg.LLM.BaseURL = ""
	cfg.LLM.Temperature = 1.0
	cfg.LLM.MaxOutputTokens = 512
	cfg.LLM.TimeoutSeconds = 60
	cfg.Chain.LCD = "https://lcd.mainnet.secretsaturn.net"
	cfg.Chain.ChainID = "secret-4"
	cfg.Chain.GasPrice = 0.1
	cfg.Chain.TimeoutSeconds = 15
	cfg.Tokens.Quote = Token{
		Symbol:   "sUSDC",
		Contract: "secret1vkq022x4q8t8kx9de3r84u669l65xnwf2lg3e6",
		CodeHash: "638a3e1d50175fbcb8373cf801565283e3eb23d88a9b7b7f99fcc5eb1e6b561e",
		Decimals: 6,
	}
	cfg.Tokens.Target = Token{
		Symbol:   "sSCRT",
		Contract: "secret1k0jntykt7e4g3y88ltc60czgjuqdy4c9e8fzek",
		Decimals: 6,
	}
	cfg.Trade.Confirm.InitialWaitSeconds = 8
	cfg.Trade.Confirm.PollMinSeconds = 2
	cfg.Trade.Confirm.PollMaxSeconds = 8
	cfg.Trade.Confirm.DeadlineSeconds = 60
	cfg.Quotes.URL = "https://api.kanye.rest/"
	cfg.Quotes.TimeoutSeconds = 3
	cfg.Server.Addr = "127.0.0.1:8088"
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "console"
	return cfg
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	// start from defaults so an older file missing a section still works
	home, _ := os.UserHomeDir()
	cfg := Default(home)
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, errorsmod.Wrapf(types.ErrConfig, "parse %s: %v", path, err)
	}
	return cfg, nil
}

func Write(path string, cfg Config) error {
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

// Candidates lists the places a config file is looked for, most specific first.
func Candidates(home, cwd string) []string {
	var out []string
	if dir := strings.TrimSpace(os.Getenv(DirEnv)); dir != "" {
		out = append(out, filepath.Join(dir, FileName))
	}
	if root := projectRoot(cwd); root != "" {
		out = append(out, filepath.Join(root, FileName), filepath.Join(root, "config", FileName))
	}
	if cwd != "" {
		out = append(out, filepath.Join(cwd, FileName))
	}
	if home != "" {
		out = append(out, filepath.Join(BaseDir(home), FileName))
	}
	return dedupe(out)
}

// Discover returns explicit when set, otherwise the first candidate that exists.
func Discover(explicit string) (string, error) {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", errorsmod.Wrapf(types.ErrConfig, "config %s: %v", explicit, err)
		}
		return explicit, nil
	}
	home, _ := os.UserHomeDir()
	cwd, _ := os.Getwd()
	candidates := Candidates(home, cwd)
	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}
	return "", errorsmod.Wrapf(types.ErrConfig, "no %s found, run scrtgate init (searched: %s)", FileName, strings.Join(candidates, ", "))
}

func projectRoot(start string) string {
	dir := start
	for dir != "" {
		for _, marker := range []string{".git", "go.mod"} {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return dir
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
	return ""
}

func dedupe(paths []string) []string {
	seen := map[string]bool{}
	out := paths[:0]
	for _, p := range paths {
		p = filepath.Clean(p)
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

// LoadEnv reads .env files into the process environment without overriding
// variables that are already set. Missing files are ignored.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return errorsmod.Wrapf(types.ErrConfig, "load %s: %v", p, err)
		}
	}
	return nil
}

func (c *Config) ApplyEnvOverrides() {
	setString(&c.Agent.Mnemonic, "MNEMONIC")
	setString(&c.Tokens.Target.ViewingKey, "SSCRT_VIEWING_KEY")
	setString(&c.Tokens.Quote.ViewingKey, "SUSDC_VIEWING_KEY")
	setString(&c.Chain.LCD, "SECRET_LCD_URL")
	setString(&c.Chain.ChainID, "SECRET_CHAIN_ID")
	setString(&c.Store.Path, "SCRTGATE_DB")
	setString(&c.Logging.Level, "LOG_LEVEL")

	setString(&c.LLM.Provider, "LLM_PROVIDER")
	setString(&c.LLM.Model, "LLM_MODEL")
	setString(&c.LLM.BaseURL, "LLM_BASE_URL")
	setString(&c.LLM.APIKey, "LLM_API_KEY")
	if v := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); v != "" && c.LLM.APIKey == "" {
		c.LLM.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("OLLAMA_HOST")); v != "" && c.LLM.BaseURL == "" {
		c.LLM.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("LLM_TEMPERATURE")); v != "" {
		if value, err := strconv.ParseFloat(v, 64); err == nil {
			c.LLM.Temperature = value
		}
	}
	setInt(&c.LLM.MaxOutputTokens, "LLM_MAX_TOKENS")
	setInt(&c.LLM.TimeoutSeconds, "LLM_TIMEOUT_SECONDS")
}

func setString(dst *string, name string) {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, name string) {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		if value, err := strconv.Atoi(v); err == nil {
			*dst = value
		}
	}
}

// Validate reports the first setting the agent cannot run without.
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Store.Path) == "":
		return errorsmod.Wrap(types.ErrConfig, "store.path is required")
	case strings.TrimSpace(c.Chain.LCD) == "":
		return errorsmod.Wrap(types.ErrConfig, "chain.lcd is required")
	case strings.TrimSpace(c.Chain.ChainID) == "":
		return errorsmod.Wrap(types.ErrConfig, "chain.chain_id is required")
	case strings.TrimSpace(c.Tokens.Quote.Contract) == "":
		return errorsmod.Wrap(types.ErrConfig, "tokens.quote.contract is required")
	case strings.TrimSpace(c.Tokens.Target.Contract) == "":
		return errorsmod.Wrap(types.ErrConfig, "tokens.target.contract is required")
	case strings.TrimSpace(c.LLM.Provider) == "":
		return errorsmod.Wrap(types.ErrConfig, "llm.provider is required")
	case c.LLM.TimeoutSeconds < 0 || c.Chain.TimeoutSeconds < 0 || c.Quotes.TimeoutSeconds < 0:
		return errorsmod.Wrap(types.ErrConfig, "timeouts must not be negative")
	case c.Trade.Confirm.PollMinSeconds <= 0 || c.Trade.Confirm.PollMaxSeconds < c.Trade.Confirm.PollMinSeconds:
		return errorsmod.Wrap(types.ErrConfig, "trade.confirm poll interval must be positive and max >= min")
	case c.Trade.Confirm.DeadlineSeconds < c.Trade.Confirm.InitialWaitSeconds:
		return errorsmod.Wrap(types.ErrConfig, "trade.confirm.deadline_seconds must cover the initial wait")
	}
	return nil
}
