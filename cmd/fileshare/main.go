package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"fileshare/internal/catalog"
	"fileshare/internal/config"
	"fileshare/internal/httpserver"
	"fileshare/internal/session"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "passwd":
			passwdCmd(os.Args[2:])
			return
		case "folder":
			os.Exit(folderCmd(os.Args[2:]))
		case "file":
			os.Exit(fileCmd(os.Args[2:]))
		case "serve":
			os.Args = append(os.Args[:1], os.Args[2:]...)
		}
	}
	os.Exit(serveCmd())
}

type commonFlags struct {
	cfgPath  string
	stateDir string
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.cfgPath, "config", "", "path to config json (optional)")
	fs.StringVar(&c.stateDir, "state", "", "state dir for the catalog, uploads and thumbs (default: ./"+config.DefaultStateDir+")")
}

// load reads -config when given, lets -state override it and makes the
// state dir absolute.
func (c *commonFlags) load() (config.Config, error) {
	cfg := config.Default()
	if c.cfgPath != "" {
		var err error
		if cfg, err = config.Load(c.cfgPath); err != nil {
			return config.Config{}, err
		}
	}
	if c.stateDir != "" {
		cfg.StateDir = c.stateDir
	}
	// Blob paths in the catalog are built from this, so it must not depend
	// on the working directory of a later run.
	abs, err := filepath.Abs(cfg.StateDir)
	if err != nil {
		return config.Config{}, fmt.Errorf("state dir: %w", err)
	}
	cfg.StateDir = abs
	return cfg, nil
}

func openCatalog(ctx context.Context, cfg config.Config) (*catalog.Store, error) {
	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir state: %w", err)
	}
	return catalog.Open(ctx, cfg.DatabasePath())
}

func serveCmd() int {
	var (
		common       commonFlags
		addr         = flag.String("addr", "", "listen address (default "+config.DefaultAddr+")")
		requireLogin = flag.Bool("require-login", false, "require the shared password")
		password     = flag.String("password", "", "shared password (plain)")
		allowUploads = flag.Bool("allow-uploads", false, "accept uploads into folders")
		debug        = flag.Bool("debug", false, "development logging")
	)
	common.register(flag.CommandLine)
	flag.Parse()

	logger, err := newLogger(*debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := common.load()
	if err != nil {
		logger.Error("load config", zap.Error(err))
		return 1
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Addr = *addr
		case "require-login":
			cfg.RequireLogin = *requireLogin
		case "password":
			cfg.Password = *password
		case "allow-uploads":
			cfg.AllowUploads = *allowUploads
		}
	})
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", zap.Error(err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openCatalog(ctx, cfg)
	if err != nil {
		logger.Error("open catalog", zap.Error(err))
		return 1
	}
	defer store.Close()

	srv, err := httpserver.New(httpserver.Options{
		Config:   cfg,
		Catalog:  store,
		Sessions: session.New(store.DB(), cfg.SessionTTL()),
		Logger:   logger,
	})
	if err != nil {
		logger.Error("server init", zap.Error(err))
		return 1
	}
	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		_ = srv.Close()
	}()

	logger.Info("fileshare starting",
		zap.String("addr", cfg.Addr),
		zap.String("state", cfg.StateDir),
		zap.Bool("requireLogin", cfg.RequireLogin),
		zap.Bool("allowUploads", cfg.AllowUploads))
	if err := srv.ListenAndServe(ctx); err != nil {
		logger.Error("server stopped", zap.Error(err))
		return 1
	}
	return 0
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func passwdCmd(args []string) {
	fs := flag.NewFlagSet("passwd", flag.ExitOnError)
	var (
		password = fs.String("p", "", "password (prompted when omitted)")
		cost     = fs.Int("cost", bcrypt.DefaultCost, "bcrypt cost")
	)
	_ = fs.Parse(args)
	if *cost < bcrypt.MinCost || *cost > bcrypt.MaxCost {
		fmt.Fprintf(os.Stderr, "invalid cost %d (min=%d max=%d)\n", *cost, bcrypt.MinCost, bcrypt.MaxCost)
		os.Exit(2)
	}
	pw := *password
	if pw == "" {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			fmt.Fprintln(os.Stderr, "usage: fileshare passwd -p <password>")
			os.Exit(2)
		}
		fmt.Fprint(os.Stderr, "Password: ")
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "read password: %v\n", err)
			os.Exit(1)
		}
		pw = string(b)
	}
	if pw == "" {
		fmt.Fprintln(os.Stderr, "empty password")
		os.Exit(2)
	}
	h, err := bcrypt.GenerateFromPassword([]byte(pw), *cost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bcrypt: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(h))
}
