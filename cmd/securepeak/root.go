package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jgoulah/securepeak/internal/config"
	"github.com/jgoulah/securepeak/internal/contract"
	"github.com/jgoulah/securepeak/internal/database"
	"github.com/jgoulah/securepeak/internal/fhe"
	"github.com/jgoulah/securepeak/internal/logger"
	"github.com/jgoulah/securepeak/internal/peakdata"
	"github.com/jgoulah/securepeak/internal/wallet"
)

var (
	cfgFile  string
	dbPath   string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "securepeak",
	Short: "Encrypted energy consumption records on an FHE-enabled chain",
	Long: `SecurePeak is a CLI client for the SecurePeakData contract.
It submits consumption readings as FHE ciphertexts, lists the records stored on-chain
and decrypts the ones your wallet is authorized to read. Decrypted values are cached
in a local SQLite database and can be published to Home Assistant or MQTT.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database file (default is ./data.db)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")
}

// getConfigPath returns the config file path
func getConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultConfigPath()
}

// getDBPath returns the database file path (local directory)
func getDBPath() string {
	if dbPath != "" {
		return dbPath
	}
	return "data.db"
}

// loadConfig loads the configuration file
func loadConfig() (*config.Config, error) {
	return config.Load(getConfigPath())
}

// saveConfig saves the configuration file
func saveConfig(cfg *config.Config) error {
	return config.Save(getConfigPath(), cfg)
}

// openDB opens the database connection
func openDB() (*database.DB, error) {
	path := getDBPath()

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	return database.New(path)
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	return logger.New(level, cfg.LogFormat)
}

// deployments merges the configured overrides into the built-in table
func deployments(cfg *config.Config) (contract.Deployments, error) {
	overrides := make(contract.Deployments, len(cfg.Deployments))
	for _, d := range cfg.Deployments {
		if !common.IsHexAddress(d.Address) {
			return nil, fmt.Errorf("deployment for chain %d: invalid address %q", d.ChainID, d.Address)
		}
		overrides[d.ChainID] = contract.Deployment{
			Address:   common.HexToAddress(d.Address),
			ChainID:   d.ChainID,
			ChainName: d.ChainName,
		}
	}
	return contract.DefaultDeployments.Merge(overrides), nil
}

// app bundles everything a command needs to talk to the contract
type app struct {
	cfg     *config.Config
	db      *database.DB
	client  *ethclient.Client
	signer  *wallet.Signer
	session *peakdata.Session
	log     zerolog.Logger
}

func (a *app) Close() {
	if a.client != nil {
		a.client.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}

// flowContext bounds a single flow with the configured request timeout
func (a *app) flowContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, a.cfg.GetRequestTimeout())
}

// newApp loads config, opens the database, dials the RPC endpoint and builds the session
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc_url is not set in %s", getConfigPath())
	}

	log := newLogger(cfg)
	a := &app{cfg: cfg, log: log}

	a.db, err = openDB()
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	a.client, err = ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("connecting to %s: %w", cfg.RPCURL, err)
	}

	chainID := cfg.ChainID
	if chainID == 0 {
		id, err := a.client.ChainID(ctx)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("getting chain id: %w", err)
		}
		chainID = id.Uint64()
	}

	table, err := deployments(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	keyHex, err := cfg.GetPrivateKeyHex()
	if err != nil {
		a.Close()
		return nil, err
	}
	if keyHex != "" {
		a.signer, err = wallet.FromHex(keyHex)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	opts := peakdata.Options{
		Backend:        a.client,
		Storage:        a.db,
		Cache:          a.db,
		Deployments:    table,
		DecryptionDays: cfg.GetDecryptionDays(),
		Logger:         log,
	}
	if a.signer != nil {
		opts.Signer = a.signer
	}

	if cfg.Relayer.URL != "" {
		relayer, err := fhe.NewRelayer(fhe.RelayerOptions{
			URL:               cfg.Relayer.URL,
			APIKey:            cfg.Relayer.APIKey,
			ContractChainID:   chainID,
			GatewayChainID:    cfg.Relayer.GatewayChainID,
			VerifyingContract: common.HexToAddress(cfg.Relayer.VerifyingContract),
			Timeout:           cfg.GetRelayerTimeout(),
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("creating relayer client: %w", err)
		}
		opts.Instance = relayer
	}

	a.session = peakdata.NewSession(chainID, opts)
	log.Debug().Uint64("chain_id", chainID).Bool("signer", a.signer != nil).Bool("relayer", opts.Instance != nil).Msg("session ready")
	return a, nil
}

// parseRecordID parses a record id argument
func parseRecordID(s string) (uint64, error) {
	var id uint64
	if _, err := fmt.Sscanf(s, "%d", &id); err != nil {
		return 0, fmt.Errorf("invalid record id %q", s)
	}
	return id, nil
}

// checkOutcome turns a non-completed flow outcome into an error carrying the session message
func checkOutcome(outcome peakdata.Outcome, msg string) error {
	switch outcome {
	case peakdata.OutcomeCompleted:
		return nil
	case peakdata.OutcomeBusy:
		return errors.New("another operation of this kind is already running")
	default:
		if msg == "" {
			return fmt.Errorf("operation %s", outcome)
		}
		return fmt.Errorf("operation %s: %s", outcome, msg)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
