package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"invsync/activities"
	"invsync/config"
	"invsync/discovery"
	"invsync/network"
	"invsync/node"
	"invsync/storage"
)

var (
	envFile       string
	dataDir       string
	logLevel      string
	jsonLogs      bool
	transportName string
	playerName    string
	port          int
)

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional dotenv file loaded before config")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (overrides "+config.DataDirEnv+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "logging level")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "emit JSON logs")
	rootCmd.PersistentFlags().StringVar(&transportName, "transport", "", "transport: tcp or ws (default from config)")

	hostCmd.Flags().IntVar(&port, "port", 0, "listening port (default from config)")
	joinCmd.Flags().StringVar(&playerName, "name", "", "player name (prompted when empty)")

	rootCmd.AddCommand(hostCmd, joinCmd)
}

var rootCmd = &cobra.Command{
	Use:          "invsync",
	Short:        "share inventories between players on a local network",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
		if dataDir != "" {
			return os.Setenv(config.DataDirEnv, dataDir)
		}
		return nil
	},
}

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "host a session that guests join",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := setup()
		if err != nil {
			return err
		}
		defer env.close()
		if port > 0 {
			env.cfg.PortMode = config.PortModeFixed
			env.cfg.ListeningPort = port
		}
		return runHost(cmd.Context(), env)
	},
}

var joinCmd = &cobra.Command{
	Use:   "join [address]",
	Short: "join a hosted session, discovering one on the LAN when no address is given",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := setup()
		if err != nil {
			return err
		}
		defer env.close()
		address := ""
		if len(args) == 1 {
			address = args[0]
		}
		return runJoin(cmd.Context(), env, address)
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// environment holds what both subcommands share.
type environment struct {
	cfg     *config.AppConfig
	store   *storage.Store
	logger  *zap.Logger
	console *console
}

func setup() (*environment, error) {
	logger, err := buildLogger(logLevel, jsonLogs)
	if err != nil {
		return nil, err
	}

	cfg, cfgPath, err := config.LoadOrCreate()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if transportName != "" {
		cfg.Transport = transportName
	}
	if playerName != "" {
		cfg.PlayerName = playerName
	}

	store, dbPath, err := storage.Open(filepath.Dir(cfgPath))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	logger.Info("starting",
		zap.String("instance", cfg.InstanceID),
		zap.String("config", cfgPath),
		zap.String("database", dbPath),
	)

	return &environment{
		cfg:     cfg,
		store:   store,
		logger:  logger,
		console: newConsole(os.Stdin, os.Stdout, cfg.PlayerName),
	}, nil
}

func (e *environment) close() {
	if err := e.store.Close(); err != nil {
		e.logger.Warn("database close error", zap.Error(err))
	}
	_ = e.logger.Sync()
}

func (e *environment) nodeOptions() node.Options {
	return node.Options{
		Store:           e.store,
		UI:              e.console,
		Logger:          e.logger,
		NannyInterval:   e.cfg.NannyInterval(),
		LivenessTimeout: e.cfg.LivenessTimeout(),
		AwaitTimeout:    e.cfg.AwaitTimeout(),
	}
}

func buildLogger(level string, json bool) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(strings.ToLower(level))
	if err != nil {
		return nil, err
	}
	cfg := zap.NewDevelopmentConfig()
	if json {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = lvl
	return cfg.Build()
}

func transportFor(name string) (network.Transport, error) {
	switch name {
	case config.TransportTCP, "":
		return network.TCPTransport{}, nil
	case config.TransportWebSocket:
		return network.WSTransport{}, nil
	default:
		return nil, fmt.Errorf("unknown transport %q", name)
	}
}

func runHost(ctx context.Context, env *environment) error {
	transport, err := transportFor(env.cfg.Transport)
	if err != nil {
		return err
	}

	n, err := activities.NewHost(env.nodeOptions())
	if err != nil {
		return err
	}
	defer func() {
		if err := n.Destroy(); err != nil && !errors.Is(err, node.ErrNodeDestroyed) {
			env.logger.Warn("node shutdown", zap.Error(err))
		}
	}()

	saved, err := env.store.LoadPlayerData()
	if err != nil {
		return err
	}
	n.ImportLocalData(saved)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	listener, err := n.Listen(ctx, transport, env.cfg.ListenAddress())
	if err != nil {
		return err
	}
	env.console.printf("Hosting on %s (%s)\n", listener.Addr(), env.cfg.Transport)

	if !env.cfg.DisableDiscovery {
		advertiser, err := advertise(env, listener.Addr())
		if err != nil {
			env.logger.Warn("discovery unavailable", zap.Error(err))
		} else {
			defer advertiser.Stop()
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return autosave(ctx, env, n)
	})
	g.Go(func() error {
		defer cancel()
		return env.console.run(ctx, n)
	})
	return g.Wait()
}

func advertise(env *environment, addr string) (*discovery.Advertiser, error) {
	_, portText, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	listenPort, err := strconv.Atoi(portText)
	if err != nil {
		return nil, err
	}
	hostName, err := os.Hostname()
	if err != nil || hostName == "" {
		hostName = "invsync host"
	}
	return discovery.Advertise(discovery.Config{
		InstanceID: env.cfg.InstanceID,
		HostName:   hostName,
		Port:       listenPort,
		Transport:  env.cfg.Transport,
	})
}

// autosave persists the host's player data periodically and once more on exit.
func autosave(ctx context.Context, env *environment, n *node.Node) error {
	ticker := time.NewTicker(env.cfg.AutosaveInterval())
	defer ticker.Stop()

	save := func() {
		if err := env.store.SaveAllPlayerData(n.ExportLocalData()); err != nil {
			env.logger.Error("autosave failed", zap.Error(err))
		}
	}
	for {
		select {
		case <-ctx.Done():
			save()
			return nil
		case <-ticker.C:
			save()
		}
	}
}

func runJoin(ctx context.Context, env *environment, address string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if address == "" {
		host, err := discoverHost(ctx, env)
		if err != nil {
			return err
		}
		address = host.Address()
		if host.Transport != "" {
			env.cfg.Transport = host.Transport
		}
		env.console.printf("Found %s at %s\n", host.Name, address)
	}

	transport, err := transportFor(env.cfg.Transport)
	if err != nil {
		return err
	}

	n, err := activities.NewGuest(env.nodeOptions())
	if err != nil {
		return err
	}
	defer func() {
		if err := n.Destroy(); err != nil && !errors.Is(err, node.ErrNodeDestroyed) {
			env.logger.Warn("node shutdown", zap.Error(err))
		}
	}()

	if err := askName(env.console, n); err != nil {
		return err
	}
	if _, err := n.Connect(ctx, transport, address); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return env.console.run(ctx, n)
	})
	return g.Wait()
}

func discoverHost(ctx context.Context, env *environment) (discovery.Host, error) {
	if env.cfg.DisableDiscovery {
		return discovery.Host{}, errors.New("no address given and discovery is disabled")
	}
	hosts, err := discovery.Browse(ctx, discovery.Config{}, env.cfg.InstanceID)
	if err != nil {
		return discovery.Host{}, fmt.Errorf("discover hosts: %w", err)
	}
	if len(hosts) == 0 {
		return discovery.Host{}, errors.New("no hosts found on the local network")
	}
	return hosts[0], nil
}
