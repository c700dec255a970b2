package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/pactum/internal/common"
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
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")
)

const usage = `Usage: pactum <command> [flags]

Commands:
  process   Extract a contract document and reconcile it with the accounting system
  status    Print the state and history of a run
  rerun     Re-run a completed or failed run from its stored document
  lob-sim   Serve a simulated line-of-business stream endpoint for local testing
`

func main() {
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	common.InstallCrashHandler(common.LogsDir())
	defer common.RecoverWithCrashFile()

	if *showVersion || *showVersionV {
		fmt.Printf("Pactum version %s\n", common.GetFullVersion())
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	var err error
	switch args[0] {
	case "process":
		err = runProcess(args[1:])
	case "status":
		err = runStatus(args[1:])
	case "rerun":
		err = runRerun(args[1:])
	case "lob-sim":
		err = runSimulator(args[1:])
	case "version":
		fmt.Printf("Pactum version %s\n", common.GetFullVersion())
	default:
		flag.Usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration with priority default -> files -> env, auto-discovering
// pactum.toml when no -config flag was given, then initializes the logger
func loadConfig(files configPaths) (*common.Config, arbor.ILogger, error) {
	if len(files) == 0 {
		// Check current directory first
		if _, err := os.Stat("pactum.toml"); err == nil {
			files = append(files, "pactum.toml")
		} else if _, err := os.Stat("deployments/local/pactum.toml"); err == nil {
			files = append(files, "deployments/local/pactum.toml")
		}
	}

	config, err := common.LoadFromFiles(files...)
	if err != nil {
		if len(files) == 0 {
			return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
		}
		return nil, nil, fmt.Errorf("failed to load configuration files %v: %w", []string(files), err)
	}

	logger := common.InitLogger(config)
	common.PrintBanner(config, logger)

	logger.Debug().
		Strs("config_files", files).
		Str("storage_path", config.Storage.Badger.Path).
		Str("log_level", config.Logging.Level).
		Strs("log_output", config.Logging.Output).
		Msg("Resolved configuration (sanitized)")

	return config, logger, nil
}
