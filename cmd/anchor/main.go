package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/anchor/pkg/config"
	"github.com/cuemby/anchor/pkg/log"
	"github.com/cuemby/anchor/pkg/node"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "anchor",
	Short: "Anchor - DID anchoring node over a public ledger",
	Long: `Anchor observes a public ledger for references to DID operation
batches, retrieves them from a content-addressable store, and exposes a
deterministic resolver that reconstructs the state of any DID from its
anchored operation log. A companion writer batches queued operations and
anchors their commitments on the ledger under fee and spending limits.`,
	Version: Version,
}

func init() {
	// Set version template
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Anchor version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	// Global flags
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	// Initialize logging before command execution
	cobra.OnInitialize(initLogging)

	// Add subcommands
	rootCmd.AddCommand(nodeCmd)
	rootCmd.AddCommand(resolveCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      logLevel,
		JSONOutput: logJSON,
	})
}

// Node commands
var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Manage the anchor node",
}

var nodeStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the anchor node",
	Long: `Start the anchor node: the ledger observer, the batch writer, the
API server and the metrics endpoint, configured from the given config file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		dataDir, _ := cmd.Flags().GetString("data-dir")

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if dataDir != "" {
			cfg.DataDir = dataDir
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		n, err := node.New(cfg, Version)
		if err != nil {
			return fmt.Errorf("failed to build node: %w", err)
		}
		n.Start()

		fmt.Printf("Anchor node started\n")
		fmt.Printf("  API:     %s\n", cfg.APIAddr)
		fmt.Printf("  Metrics: %s\n", cfg.MetricsAddr)
		fmt.Printf("  Ledger:  %s\n", cfg.LedgerEndpoint)
		fmt.Printf("  CAS:     %s\n", cfg.CASEndpoint)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		fmt.Println("\nShutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		n.Stop(ctx)
		return nil
	},
}

// Resolve command: query a running node's API
var resolveCmd = &cobra.Command{
	Use:   "resolve <did>",
	Short: "Resolve a DID against a running anchor node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		apiAddr, _ := cmd.Flags().GetString("api")

		endpoint := fmt.Sprintf("http://%s/identifiers/%s", apiAddr, url.PathEscape(args[0]))
		client := &http.Client{Timeout: 15 * time.Second}
		resp, err := client.Get(endpoint)
		if err != nil {
			return fmt.Errorf("failed to reach node API: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		switch resp.StatusCode {
		case http.StatusOK:
			fmt.Println(string(body))
		case http.StatusGone:
			fmt.Println("DID is deactivated")
			fmt.Println(string(body))
		case http.StatusNotFound:
			return fmt.Errorf("DID not found")
		default:
			return fmt.Errorf("resolution failed with status %d", resp.StatusCode)
		}
		return nil
	},
}

func init() {
	nodeStartCmd.Flags().String("config", "", "Path to the node config file")
	nodeStartCmd.Flags().String("data-dir", "", "Override the configured data directory")
	nodeCmd.AddCommand(nodeStartCmd)

	resolveCmd.Flags().String("api", "localhost:3000", "Address of the node API")
}
