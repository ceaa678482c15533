package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/petadopt/petchat/internal/config"
	"github.com/petadopt/petchat/internal/daemon"
	"github.com/petadopt/petchat/internal/instance"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"
)

func main() {
	instanceFlag := flag.String("instance", "", "instance name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	forceFlag := flag.Bool("force", false, "overwrite an existing config file")
	flag.Parse()

	instanceName := instance.Resolve(*instanceFlag)
	if err := instance.ValidateName(instanceName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "status":
		os.Exit(cmdStatus(instanceName, *jsonFlag))
	case "config":
		if len(args) < 2 || args[1] != "init" {
			fmt.Fprintln(os.Stderr, "usage: petchatctl config init [--force]")
			os.Exit(1)
		}
		cmdConfigInit(*forceFlag)
	case "paths":
		cmdPaths(instanceName)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: petchatctl [--instance <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status           Show daemon health")
	fmt.Fprintln(os.Stderr, "  config init      Write a default config with a fresh JWT secret")
	fmt.Fprintln(os.Stderr, "  paths            Show instance file locations")
}

// serviceStatus is one line of `petchatctl status --json`.
type serviceStatus struct {
	Service string          `json:"service"`
	Status  json.RawMessage `json:"status"`
}

// cmdStatus checks every health service on the admin socket. Returns the
// process exit code: 0 when all are SERVING.
func cmdStatus(instanceName string, jsonOut bool) int {
	socketPath := instance.SocketPath(instanceName)
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon for instance %q: %v\n", instanceName, err)
		return 1
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hc := healthpb.NewHealthClient(conn)
	exit := 0
	var out []serviceStatus
	for _, svc := range []string{"", daemon.ServiceStore, daemon.ServiceDelivery} {
		resp, err := hc.Check(ctx, &healthpb.HealthCheckRequest{Service: svc})
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: daemon for instance %q not reachable: %v\n", instanceName, err)
			return 1
		}
		if resp.Status != healthpb.HealthCheckResponse_SERVING {
			exit = 2
		}
		name := svc
		if name == "" {
			name = "petchat"
		}
		if jsonOut {
			raw, err := protojson.Marshal(resp)
			if err != nil {
				fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
				return 1
			}
			out = append(out, serviceStatus{Service: name, Status: raw})
			continue
		}
		fmt.Printf("%-18s %s\n", name, resp.Status)
	}
	if jsonOut {
		outputJSON(map[string]any{"instance": instanceName, "services": out})
	}
	return exit
}

func cmdConfigInit(force bool) {
	path := instance.ConfigPath()
	if _, err := os.Stat(path); err == nil && !force {
		fmt.Fprintf(os.Stderr, "error: %s already exists (use --force to overwrite)\n", path)
		os.Exit(1)
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	cfg := config.Default()
	cfg.DefaultInstance = instance.DefaultName
	cfg.Auth.JWTSecret = hex.EncodeToString(secret)
	if err := config.Save(path, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %s\n", path)
}

func cmdPaths(instanceName string) {
	fmt.Printf("Config: %s\n", instance.ConfigPath())
	fmt.Printf("Env:    %s\n", instance.EnvPath())
	fmt.Printf("Dir:    %s\n", instance.Dir(instanceName))
	fmt.Printf("Socket: %s\n", instance.SocketPath(instanceName))
	fmt.Printf("Log:    %s\n", instance.LogPath(instanceName))
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
