package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"chumtheme/api"
	"chumtheme/config"
	"chumtheme/model"
	"chumtheme/repo"
	"chumtheme/scheduler"
	"chumtheme/storage"
	"chumtheme/theme"
	"chumtheme/themes"
	"chumtheme/watcher"
)

var (
	dataDir    string
	listen     string
	listenPort int
	noWatch    bool
	appVersion = "0.3.0"
)

var rootCmd = &cobra.Command{
	Use:          "chumtheme",
	Short:        "chumtheme – Pesterchum theme loader, validator and repository client",
	Long:         "Chumtheme loads Pesterchum style.js themes, validates them, installs themes from a theme repository and serves them over HTTP.",
	Run:          run,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve themes over HTTP (default command)",
	Run:   run,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
	Long:  "Manage chumtheme configuration files.",
}

var configGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a default configuration file",
	Long:  "Generate a default chumtheme.config file in the specified data directory (or current directory if not specified).",
	Run:   runConfigGenerate,
}

func init() {
	wd, _ := os.Getwd()
	rootCmd.Version = appVersion
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", wd, "Data directory (default: current directory)")

	for _, c := range []*cobra.Command{rootCmd, serveCmd} {
		c.Flags().StringVar(&listen, "listen", "all", "IP address to listen on (default: all)")
		c.Flags().IntVar(&listenPort, "listen-port", 8095, "Port to listen on (default: 8095)")
		c.Flags().BoolVar(&noWatch, "no-watch", false, "Do not reload themes when the themes directory changes")
	}

	configCmd.AddCommand(configGenerateCmd)
	rootCmd.AddCommand(serveCmd, configCmd)
	addThemeCommands(rootCmd)
	addRepoCommands(rootCmd)
}

// loadConfig reads the config from --data-dir and applies explicitly set flags.
func loadConfig(cmd *cobra.Command) config.Config {
	cfg, err := config.Load(dataDir)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// Override config with CLI flags only if they were explicitly provided
	if cmd.Flags().Changed("data-dir") {
		cfg.DataDir = dataDir
	} else if cfg.DataDir != "" && cfg.DataDir != "." {
		dataDir = cfg.DataDir
	}
	if cmd.Flags().Changed("listen") || cmd.Flags().Changed("listen-port") {
		if listen != "" && listen != "all" {
			cfg.ListenAddr = net.JoinHostPort(listen, fmt.Sprint(listenPort))
		} else {
			// Listen on all interfaces
			cfg.ListenAddr = fmt.Sprintf(":%d", listenPort)
		}
	}
	if cmd.Flags().Changed("no-watch") {
		cfg.Watch = !noWatch
	}

	dataDirAbs, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		log.Fatalf("resolve data dir: %v", err)
	}
	cfg.DataDir = dataDirAbs

	if cfg.Debug {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}
	return cfg
}

func openThemes(cfg config.Config) *theme.Manager {
	themeManager, err := theme.NewManager(theme.Options{
		Builtin:   themes.FS,
		Dir:       cfg.ThemesPath(),
		AssetRoot: cfg.AssetRoot,
	})
	if err != nil {
		log.Fatalf("initialize theme manager: %v", err)
	}
	return themeManager
}

func openRepo(ctx context.Context, cfg config.Config, themeManager *theme.Manager) (*storage.Store, *repo.Manager) {
	store := storage.New(cfg.DataDir).WithThemesDir(cfg.ThemesPath())
	if err := store.EnsureDirs(); err != nil {
		log.Fatalf("ensure data dir: %v", err)
	}
	repoManager, err := repo.NewManager(ctx, repo.Options{
		URL:       cfg.RepoURL,
		Store:     store,
		Available: themeManager.List,
	})
	if err != nil {
		log.Fatalf("initialize theme repository: %v", err)
	}
	return store, repoManager
}

func run(cmd *cobra.Command, args []string) {
	cfg := loadConfig(cmd)

	if cfg.Schedules == nil {
		cfg.Schedules = []model.Schedule{}
	}
	if cfg.LastRun == nil {
		cfg.LastRun = make(map[string]time.Time)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	themeManager := openThemes(cfg)
	store, repoManager := openRepo(ctx, cfg, themeManager)
	defer store.Close()

	// Installs and removals change what is on disk.
	repoManager.OnChange(func() {
		if err := themeManager.Reload(); err != nil {
			log.Printf("reload themes: %v", err)
		}
	})

	sched := scheduler.New(repoManager.Refresh, cfg.Schedules, cfg.LastRun)

	// Save config when schedules or lastRun change
	var cfgMu sync.Mutex
	saveConfig := func() {
		cfgMu.Lock()
		defer cfgMu.Unlock()
		cfg.Schedules = sched.Schedules()
		cfg.LastRun = sched.LastRun()
		if err := config.Save(cfg); err != nil {
			log.Printf("failed to save config: %v", err)
		}
	}
	sched.SetOnUpdate(func(map[string]time.Time) { saveConfig() })

	apiServer := api.NewServer(themeManager, repoManager, sched, saveConfig)

	// Broadcast when scheduled refreshes complete
	sched.SetOnComplete(func(id string, res *model.RefreshResult) {
		apiServer.BroadcastRepoRefreshed(res)
	})
	themeManager.OnReload(apiServer.BroadcastThemesReloaded)

	mux := http.NewServeMux()
	apiServer.Register(mux)
	sched.Start(ctx)

	if cfg.Watch {
		w, err := watcher.New(cfg.ThemesPath(), watcher.DefaultDelay)
		if err != nil {
			log.Printf("themes watcher disabled: %v", err)
		} else {
			go w.Run(ctx, themeManager.Reload)
		}
	}

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}

	// Print listening addresses
	printListeningAddresses(cfg.ListenAddr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown: %v", err)
	}
}

func runConfigGenerate(cmd *cobra.Command, args []string) {
	dataDirAbs, err := filepath.Abs(dataDir)
	if err != nil {
		log.Fatalf("resolve data dir: %v", err)
	}

	cfg := config.Default()
	cfg.DataDir = dataDirAbs

	cfgPath := filepath.Join(dataDirAbs, config.FileName)
	if _, err := os.Stat(cfgPath); err == nil {
		log.Fatalf("config file already exists: %s", cfgPath)
	}

	if err := config.Save(cfg); err != nil {
		log.Fatalf("failed to save config: %v", err)
	}

	fmt.Printf("Generated default config file: %s\n", cfgPath)
}

func printListeningAddresses(addr string) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		log.Printf("listening on http://%s", addr)
		return
	}

	if host == "" || host == "0.0.0.0" || host == "::" {
		addrs, err := net.InterfaceAddrs()
		if err == nil {
			log.Println("listening on:")
			for _, a := range addrs {
				if ipnet, ok := a.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
					if ipnet.IP.To4() != nil {
						log.Printf("  http://%s:%s", ipnet.IP.String(), port)
					}
				}
			}
			log.Printf("  http://localhost:%s", port)
		} else {
			log.Printf("listening on http://0.0.0.0:%s", port)
		}
	} else {
		log.Printf("listening on http://%s", net.JoinHostPort(host, port))
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
