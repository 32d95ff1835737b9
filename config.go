package keyrecovery

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	flags "github.com/jessevdk/go-flags"
	"github.com/lightningnetwork/keyrecovery/build"
	"github.com/lightningnetwork/keyrecovery/monitoring"
	"github.com/lightningnetwork/keyrecovery/reccode"
	"github.com/lightningnetwork/lnd/kvdb"
)

const (
	defaultConfigFilename = "keyrecovery.conf"
	defaultDataDirname    = "data"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "keyrecovery.log"
	defaultLogLevel       = "info"

	// DefaultDBFilename is the name of the bolt database in the data dir.
	DefaultDBFilename = "recovery.db"

	// DefaultSyncInterval is how often the server recovery record is
	// polled.
	DefaultSyncInterval = time.Minute

	// DefaultSyncRequestLimit is the default number of record fetches per
	// second.
	DefaultSyncRequestLimit = 5

	minSyncInterval = time.Second
)

var (
	// DefaultHomeDir is the default directory holding config, data and
	// logs.
	DefaultHomeDir = btcutil.AppDataDir("keyrecovery", false)

	// DefaultConfigFile is the default full path of the config file.
	DefaultConfigFile = filepath.Join(DefaultHomeDir, defaultConfigFilename)

	defaultDataDir = filepath.Join(DefaultHomeDir, defaultDataDirname)
	defaultLogDir  = filepath.Join(DefaultHomeDir, defaultLogDirname)
)

// DBConfig holds the bolt database options.
//
//nolint:ll
type DBConfig struct {
	Timeout        time.Duration `long:"timeout" description:"How long to wait for the database file lock before giving up"`
	NoFreelistSync bool          `long:"nofreelistsync" description:"Do not sync the freelist to disk. Speeds up opening at the cost of a larger file"`
	AutoCompact    bool          `long:"auto-compact" description:"Compact the database file on startup"`
}

// SyncConfig holds the options of the server record poller.
//
//nolint:ll
type SyncConfig struct {
	Interval     time.Duration `long:"interval" description:"How often to poll the server for the active recovery of each account"`
	RequestLimit float64       `long:"request-limit" description:"Maximum number of recovery record requests per second, 0 disables the limit"`
}

// SocRecConfig holds the social recovery options.
//
//nolint:ll
type SocRecConfig struct {
	CodeBitLength int `long:"code-bit-length" description:"Server part width of invite codes when the server does not report one"`
}

// Config is the configuration of a recovery engine.
//
//nolint:ll
type Config struct {
	HomeDir    string `long:"homedir" description:"The base directory that contains the config, data and logs"`
	ConfigFile string `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir    string `short:"b" long:"datadir" description:"The directory to store the recovery database in"`
	LogDir     string `long:"logdir" description:"Directory to log output"`

	DebugLevel string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <global-level>,<subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems"`

	DB         *DBConfig          `group:"db" namespace:"db"`
	LogConfig  *build.LogConfig   `group:"logging" namespace:"logging"`
	Sync       *SyncConfig        `group:"sync" namespace:"sync"`
	SocRec     *SocRecConfig      `group:"socrec" namespace:"socrec"`
	Prometheus *monitoring.Config `group:"prometheus" namespace:"prometheus"`
}

// DefaultConfig returns all default values for the Config struct.
func DefaultConfig() Config {
	prometheus := monitoring.DefaultConfig()

	return Config{
		HomeDir:    DefaultHomeDir,
		ConfigFile: DefaultConfigFile,
		DataDir:    defaultDataDir,
		LogDir:     defaultLogDir,
		DebugLevel: defaultLogLevel,
		DB: &DBConfig{
			Timeout: kvdb.DefaultDBTimeout,
		},
		LogConfig: build.DefaultLogConfig(),
		Sync: &SyncConfig{
			Interval:     DefaultSyncInterval,
			RequestLimit: DefaultSyncRequestLimit,
		},
		SocRec: &SocRecConfig{
			CodeBitLength: reccode.MinCodeBitLength,
		},
		Prometheus: &prometheus,
	}
}

// LoadConfig initializes and parses the config using a config file and command
// line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
func LoadConfig(args []string) (*Config, error) {
	// Pre-parse the command line options to pick up an alternative config
	// file.
	preCfg := DefaultConfig()
	if _, err := flags.ParseArgs(&preCfg, args); err != nil {
		return nil, err
	}

	// A custom home dir moves the config file with it unless the file
	// was given explicitly.
	homeDir := CleanAndExpandPath(preCfg.HomeDir)
	configFilePath := CleanAndExpandPath(preCfg.ConfigFile)
	if homeDir != DefaultHomeDir && configFilePath == DefaultConfigFile {
		configFilePath = filepath.Join(homeDir, defaultConfigFilename)
	}

	// Next, load any additional configuration options from the file.
	var configFileError error
	cfg := preCfg
	if err := flags.IniParse(configFilePath, &cfg); err != nil {
		// If it's a parsing related error, then we'll return
		// immediately, otherwise we can proceed as possibly the config
		// file doesn't exist which is OK.
		var iniErr *flags.IniError
		if errors.As(err, &iniErr) {
			return nil, err
		}

		configFileError = err
	}

	// Finally, parse the remaining command line options again to ensure
	// they take precedence.
	if _, err := flags.ParseArgs(&cfg, args); err != nil {
		return nil, err
	}

	cleanCfg, err := ValidateConfig(cfg)
	if err != nil {
		return nil, err
	}

	// Warn about a missing config file only once everything else is
	// known to be valid.
	if configFileError != nil {
		log.Warnf("%v", configFileError)
	}

	return cleanCfg, nil
}

// ValidateConfig checks the given configuration to be sane. All file system
// paths are normalized. The cleaned up config is returned on success.
func ValidateConfig(cfg Config) (*Config, error) {
	// If the home directory is not the default, the data and log
	// directories live within it.
	homeDir := CleanAndExpandPath(cfg.HomeDir)
	if homeDir != DefaultHomeDir {
		if cfg.DataDir == defaultDataDir {
			cfg.DataDir = filepath.Join(homeDir, defaultDataDirname)
		}
		if cfg.LogDir == defaultLogDir {
			cfg.LogDir = filepath.Join(homeDir, defaultLogDirname)
		}
	}

	cfg.HomeDir = homeDir
	cfg.DataDir = CleanAndExpandPath(cfg.DataDir)
	cfg.LogDir = CleanAndExpandPath(cfg.LogDir)

	for _, dir := range []string{cfg.HomeDir, cfg.DataDir, cfg.LogDir} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("unable to create directory "+
				"%v: %w", dir, err)
		}
	}

	if err := cfg.LogConfig.Validate(); err != nil {
		return nil, err
	}

	if cfg.Sync.Interval < minSyncInterval {
		return nil, fmt.Errorf("sync.interval must be at least %v",
			minSyncInterval)
	}

	if cfg.Sync.RequestLimit < 0 {
		return nil, errors.New("sync.request-limit must not be " +
			"negative")
	}

	bitLength := cfg.SocRec.CodeBitLength
	if bitLength < reccode.MinCodeBitLength ||
		bitLength > reccode.MaxCodeBitLength {

		return nil, fmt.Errorf("socrec.code-bit-length must be in "+
			"[%d, %d]", reccode.MinCodeBitLength,
			reccode.MaxCodeBitLength)
	}

	if cfg.Prometheus.Enable && cfg.Prometheus.Listen == "" {
		return nil, errors.New("prometheus.listen must be set when " +
			"the exporter is enabled")
	}

	return &cfg, nil
}

// DBPath returns the full path of the recovery database.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, DefaultDBFilename)
}

// LogFile returns the full path of the log file.
func (c *Config) LogFile() string {
	return filepath.Join(c.LogDir, defaultLogFilename)
}

// CleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func CleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		var homeDir string
		u, err := user.Current()
		if err == nil {
			homeDir = u.HomeDir
		} else {
			homeDir = os.Getenv("HOME")
		}

		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}
