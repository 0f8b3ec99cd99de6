package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/beamapp/autoupdate/internal/checker"
	"github.com/beamapp/autoupdate/internal/config"
	"github.com/beamapp/autoupdate/internal/feedstore"
	"github.com/beamapp/autoupdate/internal/hostinfo"
	"github.com/beamapp/autoupdate/internal/ipc"
	"github.com/beamapp/autoupdate/internal/logging"
	"github.com/beamapp/autoupdate/internal/staging"
)

// Overridden at build time via -ldflags.
var (
	version = "0.1.0"
	build   = "1"
	appName = "Beam"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "autoupdate",
	Short: "Beam update engine",
	Long:  `Checks the release feed, downloads update archives and drives the privileged installer helper.`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the engine with periodic checks",
	Run: func(cmd *cobra.Command, args []string) {
		runEngine()
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check the feed once and report",
	Run: func(cmd *cobra.Command, args []string) {
		checkOnce()
	},
}

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Check, download and install in one pass",
	Run: func(cmd *cobra.Command, args []string) {
		force, _ := cmd.Flags().GetBool("install")
		updateNow(force)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pending downloads in the staging area",
	Run: func(cmd *cobra.Command, args []string) {
		showStatus()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("%s autoupdate v%s (%s)\n", appName, version, build)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is autoupdate.yaml in the app config dir)")
	updateCmd.Flags().Bool("install", false, "install the update even when auto-install is disabled")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() *config.Config {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, os.Stderr)
	cfg.Validate()
	return cfg
}

// buildChecker wires the engine from config: feed store, host
// identity, staging store and installer client.
func buildChecker(cfg *config.Config) (*checker.Checker, error) {
	var feed feedstore.Store
	if cfg.FeedURL != "" {
		feed = feedstore.NewHTTP(cfg.FeedURL)
	} else {
		s3, err := feedstore.NewS3(context.Background(), feedstore.S3Config{
			Bucket:   cfg.S3Bucket,
			Key:      cfg.S3Key,
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("configure s3 feed: %w", err)
		}
		feed = s3
	}

	name := cfg.AppName
	if name == "" {
		name = appName
	}
	ver := cfg.AppVersion
	if ver == "" {
		ver = version
	}
	bld := cfg.AppBuild
	if bld == "" {
		bld = build
	}
	host := hostinfo.New(name, ver, bld, cfg.AppBundlePath)

	dir := cfg.StagingDir
	if dir == "" {
		var err error
		dir, err = staging.DefaultDir(name)
		if err != nil {
			return nil, err
		}
	}

	socket := cfg.InstallerSocket
	if socket == "" {
		socket = ipc.DefaultSocketPath()
	}

	c := checker.New(feed, host, staging.New(dir), ipc.NewClient(socket))
	c.AllowAutoDownload = cfg.AllowAutoDownload
	c.AllowAutoInstall = cfg.AllowAutoInstall
	return c, nil
}

func runEngine() {
	cfg := loadConfig()
	c, err := buildChecker(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := logging.L("main")
	cancel := c.Subscribe(func(s checker.State) {
		log.Info("update state", "state", s.Description())
	})
	defer cancel()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	interval := time.Duration(cfg.AutocheckIntervalSeconds) * time.Second
	c.StartAutocheck(ctx, interval)
	defer c.StopAutocheck()

	// First check right away; the ticker covers the rest.
	if err := c.CheckForUpdates(ctx); err != nil {
		log.Warn("initial check failed", logging.KeyError, err)
	}

	<-ctx.Done()
}

func checkOnce() {
	cfg := loadConfig()
	c, err := buildChecker(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := c.CheckForUpdates(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Check failed: %v\n", err)
		os.Exit(1)
	}

	st := c.State()
	fmt.Println(st.Description())
	if missed := c.MissedReleases(); len(missed) > 0 {
		fmt.Printf("Releases since the installed version:\n")
		for _, r := range missed {
			fmt.Printf("  %s (%s)\n", r.String(), r.PublicationDate.Format("2006-01-02"))
		}
	}
}

func updateNow(forceInstall bool) {
	cfg := loadConfig()
	c, err := buildChecker(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := c.PerformUpdateIfAvailable(context.Background(), forceInstall); err != nil {
		fmt.Fprintf(os.Stderr, "Update failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(c.State().Description())
}

func showStatus() {
	cfg := loadConfig()

	dir := cfg.StagingDir
	if dir == "" {
		name := cfg.AppName
		if name == "" {
			name = appName
		}
		var err error
		dir, err = staging.DefaultDir(name)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	pending, err := staging.New(dir).FindPendingReleases()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read staging area: %v\n", err)
		os.Exit(1)
	}
	if len(pending) == 0 {
		fmt.Println("No pending downloads.")
		return
	}
	for _, p := range pending {
		fmt.Printf("%s  %s\n", p.AppRelease.String(), p.ArchiveURL)
	}
}
