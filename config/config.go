package config

import (
	"cmp"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/alejandrodnm/blitzrace/internal/adapters/httpapi"
	"github.com/alejandrodnm/blitzrace/internal/automation"
	"github.com/alejandrodnm/blitzrace/internal/domain"
	"github.com/alejandrodnm/blitzrace/internal/keeper"
	"github.com/alejandrodnm/blitzrace/internal/ledger"
)

// Config es la configuración completa de blitz.
type Config struct {
	Game       GameConfig       `yaml:"game"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Storage    StorageConfig    `yaml:"storage"`
	Keeper     KeeperConfig     `yaml:"keeper"`
	Automation AutomationConfig `yaml:"automation"`
	Events     EventsConfig     `yaml:"events"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Log        LogConfig        `yaml:"log"`
}

// GameConfig son las constantes del juego. Los tiempos van en segundos.
type GameConfig struct {
	RoundDuration  int64  `yaml:"round_duration"`
	BettingEnd     int64  `yaml:"betting_end"`
	RacingStart    int64  `yaml:"racing_start"`
	RacingEnd      int64  `yaml:"racing_end"`
	MinBet         string `yaml:"min_bet"` // decimal como string para no perder precisión
	MaxBet         string `yaml:"max_bet"`
	StartPosition  uint64 `yaml:"start_position"`
	FinishPosition uint64 `yaml:"finish_position"`
	MinSpeed       uint64 `yaml:"min_speed"`
	MaxSpeed       uint64 `yaml:"max_speed"`
}

// LedgerConfig controla el nodo del ledger y cómo llegar a él.
type LedgerConfig struct {
	Listen           string  `yaml:"listen"` // dirección del API HTTP del nodo
	URL              string  `yaml:"url"`    // base URL que usan keeper/trigger/status
	InboxSize        int     `yaml:"inbox_size"`
	SubscriberBuffer int     `yaml:"subscriber_buffer"`
	AllowDeposit     bool    `yaml:"allow_deposit"` // habilita el faucet
	RatePerSec       float64 `yaml:"rate_per_sec"`  // límite del cliente HTTP
}

// StorageConfig controla dónde se persiste el journal.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// KeeperConfig controla los keepers, embebidos o standalone.
type KeeperConfig struct {
	Address             string `yaml:"address"`
	PrivateKey          string `yaml:"private_key"` // hex; firma placeBet/claimWinnings
	Embedded            int    `yaml:"embedded"`    // keepers dentro del nodo
	PollSeconds         int    `yaml:"poll_seconds"`
	PositionsSeconds    int    `yaml:"positions_seconds"`
	BalanceCheckSeconds int    `yaml:"balance_check_seconds"` // -1 = desactivado
	MinBalance          string `yaml:"min_balance"`
	StatusSeconds       int    `yaml:"status_seconds"` // -1 = desactivado
	MaxRetries          int    `yaml:"max_retries"`
	RetryWaitMillis     int    `yaml:"retry_wait_ms"`
}

// AutomationConfig controla el registry de upkeep embebido.
type AutomationConfig struct {
	Enabled           bool    `yaml:"enabled"`
	Address           string  `yaml:"address"`
	IntervalSeconds   int     `yaml:"interval_seconds"`
	Budget            int     `yaml:"budget"` // 0 = ilimitado
	LowBudget         int     `yaml:"low_budget"`
	PerformsPerSecond float64 `yaml:"performs_per_second"`
}

// EventsConfig activa los sinks de eventos. Vacío = desactivado.
type EventsConfig struct {
	RedisAddr    string   `yaml:"redis_addr"`
	RedisChannel string   `yaml:"redis_channel"`
	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`
}

// MetricsConfig controla el servidor de Prometheus.
type MetricsConfig struct {
	Listen string `yaml:"listen"` // vacío = desactivado
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
	File   string `yaml:"file"`   // opcional, rotado con lumberjack
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Las variables de entorno sobreescriben los valores del YAML.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodifica YAML, aplica overrides y defaults, y valida.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("BLITZ_LEDGER_URL"); v != "" {
		cfg.Ledger.URL = v
	}
	if v := os.Getenv("BLITZ_KEEPER_ADDRESS"); v != "" {
		cfg.Keeper.Address = v
	}
	if v := os.Getenv("BLITZ_PRIVATE_KEY"); v != "" {
		cfg.Keeper.PrivateKey = v
	}
	if v := os.Getenv("BLITZ_REDIS_ADDR"); v != "" {
		cfg.Events.RedisAddr = v
	}
	if v := os.Getenv("BLITZ_KAFKA_BROKERS"); v != "" {
		cfg.Events.KafkaBrokers = strings.Split(v, ",")
	}
}

// setDefaults rellena lo que no venga en el YAML.
func setDefaults(cfg *Config) {
	g := domain.DefaultGameConfig()
	if cfg.Game.RoundDuration <= 0 {
		cfg.Game.RoundDuration = g.RoundDuration
	}
	if cfg.Game.BettingEnd <= 0 {
		cfg.Game.BettingEnd = g.BettingEnd
	}
	if cfg.Game.RacingStart <= 0 {
		cfg.Game.RacingStart = g.RacingStart
	}
	if cfg.Game.RacingEnd <= 0 {
		cfg.Game.RacingEnd = g.RacingEnd
	}
	if cfg.Game.MinBet == "" {
		cfg.Game.MinBet = g.MinBet.String()
	}
	if cfg.Game.MaxBet == "" {
		cfg.Game.MaxBet = g.MaxBet.String()
	}
	if cfg.Game.StartPosition == 0 {
		cfg.Game.StartPosition = g.StartPosition
	}
	if cfg.Game.FinishPosition == 0 {
		cfg.Game.FinishPosition = g.FinishPosition
	}
	if cfg.Game.MinSpeed == 0 {
		cfg.Game.MinSpeed = g.MinSpeed
	}
	if cfg.Game.MaxSpeed == 0 {
		cfg.Game.MaxSpeed = g.MaxSpeed
	}

	l := ledger.DefaultConfig()
	if cfg.Ledger.Listen == "" {
		cfg.Ledger.Listen = ":8545"
	}
	if cfg.Ledger.URL == "" {
		cfg.Ledger.URL = "http://localhost:8545"
	}
	if cfg.Ledger.InboxSize <= 0 {
		cfg.Ledger.InboxSize = l.InboxSize
	}
	if cfg.Ledger.SubscriberBuffer <= 0 {
		cfg.Ledger.SubscriberBuffer = l.SubscriberBuffer
	}
	if cfg.Ledger.RatePerSec <= 0 {
		cfg.Ledger.RatePerSec = 20
	}

	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "blitz.db"
	}

	k := keeper.DefaultConfig()
	if cfg.Keeper.PollSeconds <= 0 {
		cfg.Keeper.PollSeconds = int(k.PollInterval / time.Second)
	}
	if cfg.Keeper.PositionsSeconds <= 0 {
		cfg.Keeper.PositionsSeconds = int(k.PositionsInterval / time.Second)
	}
	if cfg.Keeper.BalanceCheckSeconds == 0 {
		cfg.Keeper.BalanceCheckSeconds = int(k.BalanceCheckInterval / time.Second)
	}
	if cfg.Keeper.MinBalance == "" {
		cfg.Keeper.MinBalance = k.MinBalance.String()
	}
	if cfg.Keeper.StatusSeconds == 0 {
		cfg.Keeper.StatusSeconds = int(k.StatusInterval / time.Second)
	}
	if cfg.Keeper.MaxRetries <= 0 {
		cfg.Keeper.MaxRetries = k.MaxRetries
	}
	if cfg.Keeper.RetryWaitMillis <= 0 {
		cfg.Keeper.RetryWaitMillis = int(k.RetryWait / time.Millisecond)
	}

	a := automation.DefaultConfig()
	if cfg.Automation.IntervalSeconds <= 0 {
		cfg.Automation.IntervalSeconds = int(a.Interval / time.Second)
	}
	if cfg.Automation.PerformsPerSecond <= 0 {
		cfg.Automation.PerformsPerSecond = a.PerformsPerSecond
	}
	if cfg.Automation.LowBudget <= 0 {
		cfg.Automation.LowBudget = a.LowBudget
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

// Validate revisa lo que setDefaults no puede arreglar.
func (c *Config) Validate() error {
	g, err := c.GameConfig()
	if err != nil {
		return err
	}
	var errs []error
	if err := g.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Keeper.Address != "" && !common.IsHexAddress(c.Keeper.Address) {
		errs = append(errs, fmt.Errorf("keeper.address %q is not a hex address", c.Keeper.Address))
	}
	if c.Automation.Address != "" && !common.IsHexAddress(c.Automation.Address) {
		errs = append(errs, fmt.Errorf("automation.address %q is not a hex address", c.Automation.Address))
	}
	if _, err := c.PrivateKey(); err != nil {
		errs = append(errs, err)
	}
	if _, err := decimal.NewFromString(c.Keeper.MinBalance); err != nil {
		errs = append(errs, fmt.Errorf("keeper.min_balance: %w", err))
	}
	if c.Keeper.Embedded < 0 {
		errs = append(errs, errors.New("keeper.embedded must be >= 0"))
	}
	if c.Automation.Budget < 0 {
		errs = append(errs, errors.New("automation.budget must be >= 0"))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q: want text or json", c.Log.Format))
	}
	return errors.Join(errs...)
}

// GameConfig convierte la sección game a domain.GameConfig.
func (c *Config) GameConfig() (domain.GameConfig, error) {
	minBet, err := decimal.NewFromString(c.Game.MinBet)
	if err != nil {
		return domain.GameConfig{}, fmt.Errorf("game.min_bet: %w", err)
	}
	maxBet, err := decimal.NewFromString(c.Game.MaxBet)
	if err != nil {
		return domain.GameConfig{}, fmt.Errorf("game.max_bet: %w", err)
	}
	return domain.GameConfig{
		RoundDuration:  c.Game.RoundDuration,
		BettingEnd:     c.Game.BettingEnd,
		RacingStart:    c.Game.RacingStart,
		RacingEnd:      c.Game.RacingEnd,
		MinBet:         minBet,
		MaxBet:         maxBet,
		StartPosition:  c.Game.StartPosition,
		FinishPosition: c.Game.FinishPosition,
		MinSpeed:       c.Game.MinSpeed,
		MaxSpeed:       c.Game.MaxSpeed,
	}, nil
}

// LedgerConfig devuelve la configuración del ledger en proceso.
func (c *Config) LedgerConfig() ledger.Config {
	return ledger.Config{InboxSize: c.Ledger.InboxSize, SubscriberBuffer: c.Ledger.SubscriberBuffer}
}

// PrivateKey decodifica keeper.private_key. Devuelve nil si no hay clave.
func (c *Config) PrivateKey() (*ecdsa.PrivateKey, error) {
	if c.Keeper.PrivateKey == "" {
		return nil, nil
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(c.Keeper.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("keeper.private_key: %w", err)
	}
	return key, nil
}

// CallerAddress es la cuenta con la que firma la CLI: la de la clave si hay,
// si no keeper.address, si no una derivada de name.
func (c *Config) CallerAddress(name string) common.Address {
	if key, _ := c.PrivateKey(); key != nil {
		return crypto.PubkeyToAddress(key.PublicKey)
	}
	return KeeperAddress(c.Keeper.Address, name)
}

// KeeperConfig devuelve la configuración de un keeper. name puede ir vacío.
func (c *Config) KeeperConfig(name string) keeper.Config {
	k := keeper.DefaultConfig()
	k.Name = name
	k.Address = KeeperAddress(c.Keeper.Address, cmp.Or(name, "keeper"))
	k.PollInterval = seconds(c.Keeper.PollSeconds)
	k.PositionsInterval = seconds(c.Keeper.PositionsSeconds)
	k.BalanceCheckInterval = seconds(c.Keeper.BalanceCheckSeconds)
	k.MinBalance = decimal.RequireFromString(c.Keeper.MinBalance)
	k.StatusInterval = seconds(c.Keeper.StatusSeconds)
	k.MaxRetries = c.Keeper.MaxRetries
	k.RetryWait = time.Duration(c.Keeper.RetryWaitMillis) * time.Millisecond
	return k
}

// AutomationConfig devuelve la configuración del registry de upkeep.
func (c *Config) AutomationConfig() automation.Config {
	a := automation.DefaultConfig()
	a.Address = KeeperAddress(c.Automation.Address, "automation")
	a.Interval = seconds(c.Automation.IntervalSeconds)
	a.Budget = c.Automation.Budget
	a.LowBudget = c.Automation.LowBudget
	a.PerformsPerSecond = c.Automation.PerformsPerSecond
	return a
}

// ClientConfig devuelve la configuración del cliente HTTP del ledger.
func (c *Config) ClientConfig() httpapi.ClientConfig {
	cc := httpapi.DefaultClientConfig(c.Ledger.URL)
	cc.RatePerSec = c.Ledger.RatePerSec
	cc.MaxRetries = c.Keeper.MaxRetries
	cc.Key, _ = c.PrivateKey()
	return cc
}

// KeeperAddress devuelve la dirección configurada o, si no hay, una derivada
// del nombre para que cada keeper embebido tenga cuenta propia.
func KeeperAddress(hex, name string) common.Address {
	if hex != "" {
		return common.HexToAddress(hex)
	}
	return common.BytesToAddress([]byte(name))
}

func seconds(n int) time.Duration {
	if n < 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}
