package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.olrik.dev/torcalc/internal/api"
	"go.olrik.dev/torcalc/internal/core"
	"go.olrik.dev/torcalc/internal/db"
	"go.olrik.dev/torcalc/internal/keyring"
	"go.olrik.dev/torcalc/internal/launch"
	"go.olrik.dev/torcalc/internal/logging"
	"go.olrik.dev/torcalc/internal/notify"
	"go.olrik.dev/torcalc/internal/probe"
	"go.olrik.dev/torcalc/internal/procinfo"
	"go.olrik.dev/torcalc/internal/shell"
	"go.olrik.dev/torcalc/internal/shutdown"
	"go.olrik.dev/torcalc/internal/supervisor"
	"go.olrik.dev/torcalc/internal/watch"
)

// apiStopTimeout bounds the bridge shutdown
const apiStopTimeout = 3 * time.Second

// apiURLEnv tells the UI server where the bridge listens
const apiURLEnv = "TORCALC_API_URL"

type launchFlags struct {
	dev       bool
	host      string
	port      int
	uiTimeout float64
	uiRoot    string
	shell     string
}

func (f *launchFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.BoolVar(&f.dev, "dev", false, "run the UI dev server instead of the production build")
	flags.StringVar(&f.host, "host", "", "UI host (default localhost)")
	flags.IntVar(&f.port, "port", 0, "preferred UI port (default 3000)")
	flags.Float64Var(&f.uiTimeout, "ui-timeout", 0, "seconds to wait for the UI to answer HTTP (default 30)")
	flags.StringVar(&f.uiRoot, "ui-root", "", "UI project directory or prebuilt bundle")
	flags.StringVar(&f.shell, "shell", "", `window host: "chrome" or "none" (default chrome)`)
}

// overrides returns only the flags given explicitly
func (f *launchFlags) overrides(cmd *cobra.Command) core.Overrides {
	var o core.Overrides
	flags := cmd.Flags()
	if flags.Changed("dev") {
		o.Dev = &f.dev
	}
	if flags.Changed("host") {
		o.Host = &f.host
	}
	if flags.Changed("port") {
		o.Port = &f.port
	}
	if flags.Changed("ui-timeout") {
		o.UITimeout = &f.uiTimeout
	}
	if flags.Changed("ui-root") {
		o.UIRoot = &f.uiRoot
	}
	if flags.Changed("shell") {
		o.Shell = &f.shell
	}
	return o
}

func NewLaunchCommand(g *globalFlags) *cobra.Command {
	f := &launchFlags{}
	launchCmd := &cobra.Command{
		Use:   "launch",
		Short: "Start the UI and open it in a window",
		Long: `Start the UI and open it in a window.

A prebuilt static bundle is served directly. Otherwise the Next.js server is
started with pnpm (or npm), stale dev servers left by a crashed run are
cleaned up, and the window opens once the server answers HTTP. Everything
started here is stopped again when the window closes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLaunchCommand(cmd, g, f)
		},
	}
	f.register(launchCmd)
	return launchCmd
}

func runLaunchCommand(cmd *cobra.Command, g *globalFlags, f *launchFlags) error {
	cfg, err := loadConfig(cmd, g, f.overrides(cmd))
	if err != nil {
		return err
	}
	return runLaunch(cmd.Context(), cfg)
}

// runLaunch owns the whole desktop session and returns when the window is
// closed or a termination signal arrives
func runLaunch(parent context.Context, cfg *core.Configuration) (err error) {
	if parent == nil {
		parent = context.Background()
	}

	base := newLogger(cfg, cfg.Dev)
	defer base.Close()
	logger, launchID := logging.WithLaunchID(base.Logger)
	logger.Info("Starting "+core.AppName,
		"version", core.FormatVersion(core.Version),
		"data_dir", cfg.DataDir,
		"ui_root", cfg.UIRoot,
		"dev", cfg.Dev,
		"launch_id", launchID,
	)

	coord := shutdown.New(logger)
	defer coord.Run()
	defer coord.Guard()

	ctx, stop := coord.HandleSignals(parent)
	defer stop()

	defer func() {
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Launch failed", "error", err)
			if !logging.IsTerminal() {
				notify.Fatal(notify.New(logger), err, logger)
			}
		}
	}()

	store, err := db.Open(cfg.DatabasePath(), logger)
	if err != nil {
		return core.Wrap(core.KindStore, "open store", err)
	}

	if cfg.TestAuthEnabled(cfg.Dev) {
		seedTestAccounts(store, keyring.New(), cfg.TestAccounts, logger)
	}

	bridge := api.NewServer(store, api.Options{
		Info: api.Info{
			App:     core.AppName,
			Version: core.FormatVersion(core.Version),
			DataDir: cfg.DataDir,
			DBPath:  store.Path(),
		},
		ExportDir: exportDir(cfg),
		Logger:    logger,
	})
	apiURL, err := bridge.Start()
	if err != nil {
		store.Close()
		return core.Wrap(core.KindConfiguration, "start api", err)
	}
	coord.Register("api server", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), apiStopTimeout)
		defer cancel()
		return bridge.Stop(ctx)
	})
	coord.Register("database", store.Close)

	launcher := launch.New(launch.Options{
		UIRoot:       cfg.UIRoot,
		Host:         cfg.Host,
		Port:         cfg.Port,
		Dev:          cfg.Dev,
		Timeout:      cfg.UITimeout,
		Entrypoint:   cfg.Companion.Entrypoint,
		MaxPortTries: cfg.Companion.MaxPortTries,
		InstanceLock: cfg.InstanceLockPath(),
		Env:          map[string]string{apiURLEnv: apiURL},
	}, launch.Deps{
		Prober:      probe.NewProberFromConfig(logger, cfg.Health),
		Inspector:   procinfo.ForPlatform(logger),
		Coordinator: coord,
		Logger:      logger,
		Prepare: func(ctx context.Context) (launch.Spawner, error) {
			if err := supervisor.CheckNodeVersion(ctx, cfg.Companion.MinNodeMajor, logger); err != nil {
				return nil, err
			}
			pm, err := supervisor.PickPackageManager(exec.LookPath, logger)
			if err != nil {
				return nil, core.Wrap(core.KindConfiguration, "pick package manager", err)
			}
			return supervisor.New(supervisor.Options{
				PackageManager: pm,
				GracePeriod:    cfg.Companion.GracePeriod,
				PTY:            cfg.Companion.PTY,
				Logger:         logger,
			}), nil
		},
	})

	ready, err := launcher.Launch(ctx)
	if err != nil {
		return err
	}

	host, err := shell.New(cfg.Shell, shell.Options{
		Title:      core.AppName,
		ProfileDir: filepath.Join(cfg.DataDir, "chrome-profile"),
		Logger:     logger,
	})
	if err != nil {
		return core.Wrap(core.KindConfiguration, "window host", err)
	}
	bridge.AttachWindow(host)

	if ready.Static != nil {
		watchBundle(ctx, ready.Target.Location, host, logger)
	}
	if ready.Handle != nil {
		go func() {
			select {
			case <-ready.Handle.Done():
				logger.Warn("UI server exited while the window is open", "error", ready.Handle.ExitError())
			case <-ctx.Done():
			}
		}()
	}

	logger.Info("Opening window", "url", ready.URL, "shell", cfg.Shell)
	if err := host.Open(ctx, ready.URL); err != nil && ctx.Err() == nil {
		return core.Wrap(core.KindConfiguration, "open window", err)
	}
	logger.Info("Window closed")
	return nil
}

// watchBundle reloads the window whenever the served bundle changes
func watchBundle(ctx context.Context, dir string, host shell.Host, logger *slog.Logger) {
	w, err := watch.New(dir, watch.DefaultDebounce, func() {
		if err := host.Reload(ctx); err != nil {
			logger.Debug("Window reload failed", "error", err)
		}
	}, logger)
	if err != nil {
		logger.Warn("Could not watch static bundle", "dir", dir, "error", err)
		return
	}
	go func() {
		if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("Bundle watcher stopped", "error", err)
		}
	}()
}

// passwordSource is the part of the keyring seeding needs
type passwordSource interface {
	Get(username string) (string, error)
}

// seedTestAccounts loads passwords for the configured test accounts and
// writes them into the store. Accounts without a stored password are
// skipped.
func seedTestAccounts(store *db.DB, ring passwordSource, accounts []core.TestAccount, logger *slog.Logger) int {
	var seed []db.Account
	for _, a := range accounts {
		password, err := ring.Get(db.NormalizeUsername(a.Username))
		if err != nil {
			if errors.Is(err, keyring.ErrNotFound) {
				logger.Warn("No password stored for test account, skipping. Set one with 'torcalc password set'",
					"username", a.Username)
			} else {
				logger.Warn("Could not read test account password", "username", a.Username, "error", err)
			}
			continue
		}
		seed = append(seed, db.Account{Username: a.Username, Password: password, Status: a.Status})
	}

	if len(seed) == 0 {
		return 0
	}
	res := store.EnsureTestAccounts(seed)
	if !res.OK() {
		logger.Warn("Could not seed test accounts", "code", res.Code, "error", res.Err)
		return 0
	}
	logger.Info("Test accounts ready", "count", res.Value)
	return res.Value
}

// exportDir is the Downloads folder when it exists, else the data directory
func exportDir(cfg *core.Configuration) string {
	if home, err := os.UserHomeDir(); err == nil {
		downloads := filepath.Join(home, "Downloads")
		if info, err := os.Stat(downloads); err == nil && info.IsDir() {
			return downloads
		}
	}
	return cfg.DataDir
}
