package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	intrnl "termpost/internal"
	"termpost/internal/app"
)

var (
	configPath string
	verbose    bool
	quiet      bool

	addr      string
	joinPath  string
	dbPath    string
	uploadDir string

	serverURL     string
	username      string
	draftsBackend string
	logFile       string
)

var rootCmd = &cobra.Command{
	Use:   "termpost [channel]",
	Short: "Terminal chat with persistent drafts",
	Long: `termpost is a terminal chat client and server.

Messages are composed in a draft that survives restarts and channel
switches. Run without a subcommand to start the client.`,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runClient,
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the HTTP/websocket server",
	Args:  cobra.NoArgs,
	RunE:  runServer,
}

var clientCmd = &cobra.Command{
	Use:   "client [channel]",
	Short: "Start the terminal client",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runClient,
}

var localCmd = &cobra.Command{
	Use:   "local [channel]",
	Short: "Run a private server and a client against it",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLocal,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "termpost", intrnl.Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default <data dir>/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress informational logs")

	for _, cmd := range []*cobra.Command{serverCmd, localCmd} {
		cmd.Flags().StringVar(&addr, "addr", "", "server listen address")
		cmd.Flags().StringVar(&joinPath, "path", "", "websocket join path")
		cmd.Flags().StringVar(&dbPath, "db", "", "sqlite database path")
		cmd.Flags().StringVar(&uploadDir, "upload-dir", "", "directory for uploaded files")
	}
	for _, cmd := range []*cobra.Command{rootCmd, clientCmd, localCmd} {
		cmd.Flags().StringVar(&username, "user", "", "display name")
		cmd.Flags().StringVar(&draftsBackend, "drafts", "", "draft store: sqlite, pebble or memory")
		cmd.Flags().StringVar(&logFile, "log-file", "", "client log file (default <data dir>/termpost.log)")
	}
	for _, cmd := range []*cobra.Command{rootCmd, clientCmd} {
		cmd.Flags().StringVar(&serverURL, "server-url", "", "server websocket URL")
	}

	rootCmd.AddCommand(serverCmd, clientCmd, localCmd, versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "termpost: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig layers flags over env, file and defaults.
func loadConfig(cmd *cobra.Command, args []string) (*app.Config, error) {
	path, explicit := configPath, configPath != ""
	if !explicit {
		path = app.DefaultConfigPath()
	}
	cfg, err := app.LoadConfig(path, explicit, ".env")
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	set := func(name string, dst *string, value string) {
		if flags.Lookup(name) != nil && flags.Changed(name) {
			*dst = value
		}
	}
	set("addr", &cfg.Server.Addr, addr)
	set("path", &cfg.Server.Path, app.NormalizeJoinPath(joinPath))
	set("db", &cfg.Server.DBPath, dbPath)
	set("upload-dir", &cfg.Server.UploadDir, uploadDir)
	set("server-url", &cfg.Client.ServerURL, serverURL)
	set("user", &cfg.Client.User, username)
	set("drafts", &cfg.Client.DraftsBackend, draftsBackend)
	set("log-file", &cfg.Client.LogFile, logFile)
	if flags.Lookup("drafts") != nil && flags.Changed("drafts") {
		cfg.Client.DraftsPath = app.DefaultDraftsPath(cfg.Client.DraftsBackend)
	}
	if len(args) > 0 {
		cfg.Client.Channel = args[0]
	}
	return cfg, nil
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}
	logger, err := app.NewLogger(verbose, quiet, "")
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	handle, err := app.RunServer(cmd.Context(), cfg.Server, logger)
	if err != nil {
		return err
	}
	return handle.Wait()
}

func runClient(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}
	if cfg.Client.ServerURL == "" {
		return errors.New("client mode requires --server-url or TERMPOST_SERVER")
	}
	logger, err := app.NewLogger(verbose, quiet, cfg.Client.LogFile)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	return app.RunClient(cmd.Context(), cfg.Client, logger)
}

func runLocal(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}
	if !cmd.Flags().Changed("addr") {
		cfg.Server.Addr = "127.0.0.1:0"
	}
	logger, err := app.NewLogger(verbose, quiet, cfg.Client.LogFile)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx := cmd.Context()
	handle, err := app.RunServer(ctx, cfg.Server, logger)
	if err != nil {
		return err
	}
	defer stopServer(handle)

	if err := waitForServer(handle.Addr(), 5*time.Second); err != nil {
		return err
	}
	cfg.Client.ServerURL = buildWebsocketURL(handle.Addr(), cfg.Server.Path)
	logger.Info("launching client", zap.String("server", cfg.Client.ServerURL))

	if err := app.RunClient(ctx, cfg.Client, logger); err != nil {
		return err
	}
	stopServer(handle)
	return handle.Wait()
}

func waitForServer(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("server did not become ready: %w", err)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func buildWebsocketURL(addr, path string) string {
	path = app.NormalizeJoinPath(path)
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Sprintf("ws://%s%s", addr, path)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("ws://%s%s", net.JoinHostPort(host, port), path)
}

func stopServer(handle *app.ServerHandle) {
	if handle == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = handle.Stop(shutdownCtx)
}
