package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/petadopt/petchat/internal/config"
	"github.com/petadopt/petchat/internal/instance"
	"github.com/petadopt/petchat/internal/logging"
	"github.com/petadopt/petchat/internal/tui"
	"github.com/petadopt/petchat/internal/tui/client"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	instanceFlag := flag.String("instance", "", "instance name (overrides config default)")
	urlFlag := flag.String("url", "", "daemon base URL (default from config http.addr)")
	tokenFlag := flag.String("token", "", "bearer token (default $PETCHAT_TOKEN)")
	noStartFlag := flag.Bool("no-start", false, "do not start a local daemon when none is running")
	flag.Parse()

	instanceName := instance.Resolve(*instanceFlag)
	if err := instance.ValidateName(instanceName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	token := *tokenFlag
	if token == "" {
		token = os.Getenv("PETCHAT_TOKEN")
	}
	if token == "" {
		fmt.Fprintln(os.Stderr, "error: a token is required (--token or PETCHAT_TOKEN)")
		os.Exit(1)
	}

	cfg, err := config.LoadOrDefault(instance.ConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	baseURL := *urlFlag
	if baseURL == "" {
		baseURL = "http://" + cfg.HTTP.Addr
	}

	// A remote --url is never auto-started.
	if *urlFlag == "" && !*noStartFlag {
		socketPath := instance.SocketPath(instanceName)
		if !probeDaemon(socketPath) {
			fmt.Fprintf(os.Stderr, "daemon not running for instance %q, starting...\n", instanceName)
			if err := startDaemon(instanceName); err != nil {
				fmt.Fprintf(os.Stderr, "failed to start daemon: %v\n", err)
				os.Exit(1)
			}
			if !waitForDaemon(socketPath, 10*time.Second) {
				fmt.Fprintf(os.Stderr, "daemon did not become ready\n")
				os.Exit(1)
			}
		}
	}

	logger, err := logging.NewFileOnly(filepath.Join(instance.LogDir(instanceName), "petchattui.log"), instanceName, cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	app := tui.NewApp(client.New(baseURL, token), instanceName, logger)
	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// probeDaemon checks the overall health service on the admin socket.
func probeDaemon(socketPath string) bool {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return false
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	return err == nil && resp.Status == healthpb.HealthCheckResponse_SERVING
}

func startDaemon(instanceName string) error {
	executable, err := os.Executable()
	if err != nil {
		return err
	}
	petchatd := filepath.Join(filepath.Dir(executable), "petchatd")

	if _, err := os.Stat(petchatd); err != nil {
		petchatd = "petchatd"
	}

	cmd := exec.Command(petchatd, "--instance", instanceName)
	// Inherit stderr so daemon startup errors are visible.
	cmd.Stderr = os.Stderr
	return cmd.Start()
}

// waitForDaemon polls the health service until it reports SERVING.
func waitForDaemon(socketPath string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if probeDaemon(socketPath) {
			return true
		}
		time.Sleep(300 * time.Millisecond)
	}
	return false
}
