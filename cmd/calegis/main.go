package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/ternarybob/arbor"

	"github.com/calegis/calegis/internal/common"
	"github.com/calegis/calegis/internal/storage/badger"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	// Command-line flags
	configFiles configPaths // Multiple -config flags supported
	resume      = flag.Bool("resume", false, "Resume from the last checkpoint instead of starting fresh")
	workers     = flag.Int("workers", 0, "Extraction worker count (overrides config)")
	skipRetry   = flag.Bool("skip-retry", false, "Skip the failure-log retry pass after the stages")
	maxRetry    = flag.Int("max-retry", -1, "Maximum reconciliation sweeps (overrides config)")

	retryType     = flag.String("type", "", "Retry only failures of this type (retry command)")
	retrySection  = flag.String("section", "", "Retry a single section (retry command)")
	abandonReason = flag.String("abandon", "", "Abandon the section instead of retrying, with this reason (retry command)")
	watch         = flag.Bool("watch", false, "Keep retrying on the configured schedule (retry command)")

	showVersion = flag.Bool("version", false, "Print version information")

	// Global state
	config *common.Config
	logger arbor.ILogger
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: calegis [flags] <command> [args]

Commands:
  process <CODE>   Run the full pipeline for a code (e.g. EVID, PEN)
  status  <CODE>   Show stage progress and the latest run report
  retry   <CODE>   Replay failed sections from the failure log
  version          Print version information

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if *showVersion || (len(args) > 0 && args[0] == "version") {
		fmt.Printf("Calegis version %s\n", common.GetFullVersion())
		os.Exit(0)
	}
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}

	// Startup sequence (REQUIRED ORDER):
	// 1. Load config (defaults -> file1 -> file2 -> ... -> env)
	// 2. Apply CLI overrides (highest priority)
	// 3. Initialize logger
	// 4. Print banner
	var err error

	// Auto-discover config file if not specified
	if len(configFiles) == 0 {
		if _, statErr := os.Stat("calegis.toml"); statErr == nil {
			configFiles = append(configFiles, "calegis.toml")
		}
	}

	config, err = common.LoadFromFiles(configFiles...)
	if err != nil {
		tempLogger := arbor.NewLogger()
		tempLogger.Fatal().Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}

	common.ApplyFlagOverrides(config, *workers, *maxRetry, *skipRetry)

	logger = common.InitLogger(config)
	common.PrintBanner(common.LoadVersionFromFile())

	logger.Info().
		Str("environment", config.Environment).
		Str("badger_path", config.Storage.Badger.Path).
		Str("log_level", config.Logging.Level).
		Msg("Application configuration loaded")

	storage, err := badger.NewManager(logger, &config.Storage.Badger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open storage")
		os.Exit(1)
	}
	defer storage.Close()

	switch args[0] {
	case "process", "process_code":
		os.Exit(runProcess(storage, requireCode(args)))
	case "status":
		os.Exit(runStatus(storage, requireCode(args)))
	case "retry":
		os.Exit(runRetry(storage, requireCode(args)))
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		usage()
		os.Exit(2)
	}
}

func requireCode(args []string) string {
	if len(args) < 2 || args[1] == "" {
		fmt.Fprintf(os.Stderr, "%s requires a code argument (e.g. EVID)\n", args[0])
		os.Exit(2)
	}
	return args[1]
}
