package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/NicolasHaas/gorelay/pkg/datastore"
	"github.com/NicolasHaas/gorelay/pkg/logging"
	"github.com/NicolasHaas/gorelay/pkg/server"
	"github.com/NicolasHaas/gorelay/pkg/store"
	"github.com/NicolasHaas/gorelay/pkg/version"
)

func main() {
	cfg := server.DefaultConfig()

	configPath := flag.String("config", "", "YAML config file (flags override its values)")
	flag.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "UDP bind address")
	flag.StringVar(&cfg.UsersFile, "users", cfg.UsersFile, "Credential file, one username|password per line")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite credential database (used instead of -users when set)")
	flag.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "HTTP bind address for Prometheus /metrics (empty to disable)")
	flag.DurationVar(&cfg.SweepInterval, "sweep-interval", cfg.SweepInterval, "Interval between idle sweeps")
	flag.IntVar(&cfg.IdleLimit, "idle-limit", cfg.IdleLimit, "Sweeps a session may stay idle before it is disconnected")
	flag.IntVar(&cfg.ReadBuffer, "read-buffer", cfg.ReadBuffer, "Receive buffer size in bytes")
	flag.StringVar(&cfg.ImportUsers, "import-users", "", "Import a username|password file into -db and exit")
	flag.BoolVar(&cfg.ExportUsers, "export-users", false, "Export all users as YAML and exit")

	logLevel := flag.String("log-level", "info", "Log level: "+logging.LevelNames())
	logFormat := flag.String("log-format", "text", "Log format: text or json")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Get().Full())
		return
	}

	// Configure structured logging
	if err := logging.Setup(logging.Options{
		Level:  *logLevel,
		Format: *logFormat,
		Output: os.Stdout,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}

	if *configPath != "" {
		if err := applyConfigFile(*configPath, &cfg); err != nil {
			slog.Error("load config", "err", err)
			os.Exit(1)
		}
	}

	// Handle import/export commands (run and exit)
	if cfg.ImportUsers != "" {
		if err := importUsers(cfg); err != nil {
			slog.Error("import users", "err", err)
			os.Exit(1)
		}
		return
	}
	if cfg.ExportUsers {
		st, err := openStore(cfg)
		if err != nil {
			slog.Error("open credential store", "err", err)
			os.Exit(1)
		}
		defer st.Close()

		data, err := server.ExportUsersYAML(st)
		if err != nil {
			slog.Error("export users", "err", err)
			os.Exit(1)
		}
		fmt.Print(string(data))
		return
	}

	st, err := openStore(cfg)
	if err != nil {
		slog.Error("open credential store", "err", err)
		os.Exit(1)
	}

	slog.Info("starting gorelay", "version", version.String())
	srv := server.New(cfg, server.Dependencies{Store: st})
	if err := srv.Run(); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}

// applyConfigFile overlays the YAML file onto cfg, then re-applies the flags
// given on the command line so they win.
func applyConfigFile(path string, cfg *server.Config) error {
	explicit := map[string]string{}
	flag.Visit(func(f *flag.Flag) { explicit[f.Name] = f.Value.String() })

	if err := server.LoadConfigFile(path, cfg); err != nil {
		return err
	}
	for name, value := range explicit {
		if err := flag.Set(name, value); err != nil {
			return fmt.Errorf("reapply -%s: %w", name, err)
		}
	}
	return nil
}

// openStore returns the SQLite store when a database is configured and the
// flat credential file otherwise.
func openStore(cfg server.Config) (store.CredentialStore, error) {
	if cfg.DBPath != "" {
		st, err := datastore.NewProviderFactory(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		return st, nil
	}
	st, err := store.LoadFile(cfg.UsersFile)
	if err != nil {
		return nil, err
	}
	return st, nil
}

func importUsers(cfg server.Config) error {
	if cfg.DBPath == "" {
		return fmt.Errorf("-import-users requires -db")
	}
	st, err := datastore.NewProviderFactory(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	n, err := st.ImportFile(context.Background(), cfg.ImportUsers)
	if err != nil {
		return err
	}
	slog.Info("imported users", "count", n, "file", cfg.ImportUsers, "db", cfg.DBPath)
	return nil
}
