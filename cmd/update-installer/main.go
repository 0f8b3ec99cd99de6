package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/beamapp/autoupdate/internal/installer"
	"github.com/beamapp/autoupdate/internal/ipc"
	"github.com/beamapp/autoupdate/internal/logging"
	"github.com/beamapp/autoupdate/internal/privilege"
)

var version = "0.1.0"

var (
	socketPath string
	logFile    string
)

var rootCmd = &cobra.Command{
	Use:   "update-installer",
	Short: "Privileged update installer helper",
	Long:  `Replaces the installed application bundle on behalf of the update engine. Runs with the filesystem rights the application itself lacks while running.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve install requests on the local socket",
	Run: func(cmd *cobra.Command, args []string) {
		serve()
	},
}

var watchCmd = &cobra.Command{
	Use:    "watch",
	Hidden: true,
	Short:  "Wait for a process to exit, then launch the updated bundle",
	Run: func(cmd *cobra.Command, args []string) {
		pid, _ := cmd.Flags().GetInt("pid")
		bundle, _ := cmd.Flags().GetString("bundle")
		watch(pid, bundle)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("update-installer v%s\n", version)
	},
}

func init() {
	serveCmd.Flags().StringVar(&socketPath, "socket", "", "socket path (default is the platform install socket)")
	serveCmd.Flags().StringVar(&logFile, "log-file", "", "append logs to this file instead of stderr")
	watchCmd.Flags().Int("pid", 0, "process to wait for")
	watchCmd.Flags().String("bundle", "", "bundle to launch")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve() {
	if logFile != "" {
		w, err := logging.NewRotatingWriter(logFile, 10, 2)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
			os.Exit(1)
		}
		defer w.Close()
		logging.Init("json", "info", w)
	} else {
		logging.Init("text", "info", os.Stderr)
	}

	if socketPath == "" {
		socketPath = ipc.DefaultSocketPath()
	}

	if !privilege.IsRunningAsRoot() {
		logging.L("main").Warn("not running as root; installs into protected locations will fail")
	}

	ins := installer.New()
	server := ipc.NewServer(socketPath, func(ctx context.Context, req *ipc.InstallRequest) *ipc.InstallResponse {
		return ins.Install(ctx, req)
	})

	if err := server.Listen(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer server.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Serve(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func watch(pid int, bundle string) {
	logging.Init("text", "info", os.Stderr)
	if pid <= 0 || bundle == "" {
		fmt.Fprintln(os.Stderr, "watch requires --pid and --bundle")
		os.Exit(1)
	}
	if err := installer.WatchAndRelaunch(context.Background(), pid, bundle, 2*time.Minute); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
