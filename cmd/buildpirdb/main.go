// Command buildpirdb builds the three PIR database files (a transaction
// database and two address-to-blocks indices) from a transaction input
// file, replacing the teacher's desktop wails.Run wiring with a cobra
// command for this headless batch tool.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/clambassador/btpir/config"
	"github.com/clambassador/btpir/input"
	"github.com/clambassador/btpir/pirerr"
	"github.com/clambassador/btpir/processor"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath        string
		blockSizeOverride uint64
		skipListPath      string
		noDefaultSkip     bool
		verbose           bool
		logLevel          string
	)

	cmd := &cobra.Command{
		Use:   "build_pir_databases <tx_file> <output_directory> <output_file_prefix>",
		Short: "Build a PIR transaction database and its address indices from a transaction file",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, configPath, blockSizeOverride, verbose, logLevel)
			if err != nil {
				return err
			}

			logger := newLogger(cfg.LogLevel)
			defer logger.Sync()
			txFile, outDir, prefix := args[0], args[1], args[2]

			skipList, err := resolveSkipList(skipListPath, noDefaultSkip)
			if err != nil {
				logger.Error("build failed", zap.String("step", "resolve skip list"), zap.Error(err))
				return err
			}

			f, err := os.Open(txFile)
			if err != nil {
				werr := pirerr.IoError("open transaction file", err)
				logger.Error("build failed", zap.Error(werr))
				return werr
			}
			defer f.Close()

			entries, err := input.Read(f)
			if err != nil {
				logger.Error("build failed: read transaction file", zap.Error(err))
				return err
			}

			proc := processor.New(outDir, prefix, skipList, logger)
			for i, e := range entries {
				if err := proc.AddTx(e.Addresses, e.Payload); err != nil {
					werr := pirerr.Wrap(err, fmt.Sprintf("ingest transaction %d", i))
					logger.Error("build failed", zap.Error(werr))
					return werr
				}
			}

			result, err := proc.Build(cfg.BlockSizeOverride, cfg.Verbose)
			if err != nil {
				logger.Error("build failed", zap.Error(err))
				return err
			}

			logger.Info("build complete",
				zap.Uint64("transaction_blocks", result.TransactionBlocks),
				zap.Uint64("transaction_block_size", result.TransactionBlockSize),
				zap.Uint64("fmt1_blocks", result.AutoDelimitedBlocks),
				zap.Uint64("fmt2_blocks", result.DelimitedBlocks),
				zap.Int("addresses", result.AddressCount),
				zap.Int("skipped_addresses", result.SkippedCount),
				zap.Int("transactions", result.TransactionCount),
			)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a JSON config file (block_size_override, verbose, log_level); CLI flags explicitly set override it")
	cmd.PersistentFlags().Uint64Var(&blockSizeOverride, "block-size", 0, "fixed transaction database block size (0 = derive automatically)")
	cmd.PersistentFlags().StringVar(&skipListPath, "skip-list", "", "path to a file of one address per line to exclude from the address indices")
	cmd.PersistentFlags().BoolVar(&noDefaultSkip, "no-default-skip-list", false, "don't seed the built-in high-traffic address skip-list")
	cmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "log per-address block usage while building (emitted at debug level, so shown only with --log-level debug)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "logging verbosity: debug, info, warn, error")

	return cmd
}

// resolveConfig starts from config.Default(), loads --config over it if
// given, then lets any CLI flag the caller actually set win over the file
// (cobra flags carry their own defaults, so only Changed flags should
// override a loaded file).
func resolveConfig(cmd *cobra.Command, configPath string, blockSizeOverride uint64, verbose bool, logLevel string) (config.BuildConfig, error) {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.LoadFile(configPath)
		if err != nil {
			return config.BuildConfig{}, err
		}
		cfg = loaded
	}
	if cmd.Flags().Changed("block-size") {
		cfg.BlockSizeOverride = blockSizeOverride
	}
	if cmd.Flags().Changed("verbose") {
		cfg.Verbose = verbose
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return config.BuildConfig{}, err
	}
	return cfg, nil
}

func resolveSkipList(path string, noDefault bool) ([][]byte, error) {
	var out [][]byte
	if !noDefault {
		out = append(out, config.DefaultSkipList()...)
	}
	if path != "" {
		extra, err := config.LoadSkipList(path)
		if err != nil {
			return nil, err
		}
		out = append(out, extra...)
	}
	return out, nil
}

func newLogger(level string) *zap.Logger {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
