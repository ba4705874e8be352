// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/descwallet/internal/cfgutil"
	"github.com/btcsuite/descwallet/netparams"
	"github.com/btcsuite/descwallet/persist/kvdb"
	"github.com/btcsuite/descwallet/pkg/btcunit"
	"github.com/btcsuite/descwallet/waddrmgr"
	"github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename = "descwallet.conf"
	defaultLogLevel       = "info"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "descwallet.log"
	defaultMaxLogFiles    = 3
	defaultMaxLogFileSize = 10
	defaultSQLiteFilename = "wallet.sqlite"

	backendBdb      = "bdb"
	backendSQLite   = "sqlite"
	backendPostgres = "postgres"
)

var (
	defaultAppDataDir = btcutil.AppDataDir("descwallet", false)
	defaultConfigFile = filepath.Join(defaultAppDataDir, defaultConfigFilename)
	defaultLogDir     = filepath.Join(defaultAppDataDir, defaultLogDirname)
)

type config struct {
	ConfigFile string `short:"C" long:"configfile" description:"Path to configuration file"`
	DBDir      string `long:"db" description:"Directory of the wallet database"`
	DBBackend  string `long:"dbbackend" description:"Database backend" choice:"bdb" choice:"sqlite" choice:"postgres"`
	DBTimeout  time.Duration `long:"dbtimeout" description:"Time to wait for the bdb database lock"`

	PostgresDSN string `long:"postgresdsn" description:"Connection string of the postgres database"`

	Network          *cfgutil.ExplicitNetwork `long:"network" description:"Network of the wallet {bitcoin, testnet, testnet4, signet, regtest}"`
	Descriptor       string                   `long:"descriptor" description:"External descriptor of the wallet to create"`
	ChangeDescriptor string                   `long:"changedescriptor" description:"Internal (change) descriptor of the wallet to create"`
	Lookahead        uint32                   `long:"lookahead" description:"Number of scripts derived past the last revealed index"`

	Unit      *cfgutil.DenominationFlag `long:"unit" description:"Denomination amounts are shown in"`
	DustLimit *cfgutil.AmountFlag       `long:"dustlimit" description:"Hide unspent outputs worth less than this amount"`

	DebugLevel string `short:"d" long:"debuglevel" description:"Logging level {trace, debug, info, warn, error, critical}"`
	LogDir     string `long:"logdir" description:"Directory to log output"`
}

// defaultConfig returns the configuration used when neither a config file
// nor flags change a value.
func defaultConfig() config {
	return config{
		ConfigFile: defaultConfigFile,
		DBDir:      defaultAppDataDir,
		DBBackend:  backendBdb,
		DBTimeout:  kvdb.DefaultDBTimeout,
		Network:    cfgutil.NewExplicitNetwork(netparams.Bitcoin),
		Lookahead:  waddrmgr.DefaultLookahead,
		Unit:       cfgutil.NewDenominationFlag(btcunit.Bitcoin),
		DustLimit:  cfgutil.NewAmountFlag(0),
		DebugLevel: defaultLogLevel,
		LogDir:     defaultLogDir,
	}
}

// validLogLevel returns whether or not logLevel is a valid debug log level.
func validLogLevel(logLevel string) bool {
	switch logLevel {
	case "trace", "debug", "info", "warn", "error", "critical", "off":
		return true
	}
	return false
}

// parseAndSetDebugLevels attempts to parse the specified debug level and set
// the levels accordingly. An appropriate error is returned if anything is
// invalid. The level is either a single level for every subsystem or a
// comma separated list of subsystem=level pairs.
func parseAndSetDebugLevels(debugLevel string) error {
	if !strings.Contains(debugLevel, ",") && !strings.Contains(debugLevel, "=") {
		if !validLogLevel(debugLevel) {
			return fmt.Errorf("the specified debug level [%v] is "+
				"invalid", debugLevel)
		}

		logWriter.SetLogLevels(debugLevel)
		return nil
	}

	for _, logLevelPair := range strings.Split(debugLevel, ",") {
		fields := strings.Split(logLevelPair, "=")
		if len(fields) != 2 {
			return fmt.Errorf("the specified debug level contains "+
				"an invalid subsystem/level pair [%v]",
				logLevelPair)
		}

		subsysID, logLevel := fields[0], fields[1]
		if !validSubsystem(subsysID) {
			return fmt.Errorf("the specified subsystem [%v] is "+
				"invalid -- supported subsystems %v", subsysID,
				logWriter.SupportedSubsystems())
		}
		if !validLogLevel(logLevel) {
			return fmt.Errorf("the specified debug level [%v] is "+
				"invalid", logLevel)
		}

		logWriter.SetLogLevel(subsysID, logLevel)
	}

	return nil
}

func validSubsystem(id string) bool {
	for _, s := range logWriter.SupportedSubsystems() {
		if s == id {
			return true
		}
	}
	return false
}

// loadConfig initializes and parses the config using a config file and
// command line options. Command line options take precedence over the
// config file. The remaining positional arguments are returned.
func loadConfig() (*config, []string, error) {
	cfg := defaultConfig()

	// A config file in the current directory takes precedence.
	exists, err := cfgutil.FileExists(defaultConfigFilename)
	if err != nil {
		return nil, nil, err
	}
	if exists {
		cfg.ConfigFile = defaultConfigFilename
	}

	// Pre-parse the command line options to see if an alternative config
	// file was specified.
	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.Default)
	preParser.Usage = "[OPTIONS] " + commandUsage()
	if _, err := preParser.Parse(); err != nil {
		return nil, nil, err
	}

	// Load additional config from file.
	var configFileError error
	parser := flags.NewParser(&cfg, flags.Default)
	parser.Usage = preParser.Usage
	err = flags.NewIniParser(parser).ParseFile(
		cfgutil.CleanAndExpandPath(preCfg.ConfigFile),
	)
	if err != nil {
		if _, ok := err.(*os.PathError); !ok {
			parser.WriteHelp(os.Stderr)
			return nil, nil, err
		}
		configFileError = err
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.Parse()
	if err != nil {
		return nil, nil, err
	}

	cfg.DBDir = cfgutil.CleanAndExpandPath(cfg.DBDir)
	cfg.LogDir = cfgutil.CleanAndExpandPath(cfg.LogDir)

	if err := initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename)); err != nil {
		return nil, nil, err
	}
	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		parser.WriteHelp(os.Stderr)
		return nil, nil, err
	}

	// Warn about missing config file after the final command line parse
	// succeeds. This prevents the warning on help messages and invalid
	// options.
	if configFileError != nil && preCfg.ConfigFile != defaultConfigFile {
		log.Warnf("%v", configFileError)
	}

	if cfg.DBBackend == backendPostgres && cfg.PostgresDSN == "" {
		return nil, nil, fmt.Errorf("the postgres backend needs " +
			"--postgresdsn")
	}

	return &cfg, remainingArgs, nil
}
