package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/petadopt/petchat/internal/daemon"
	"github.com/petadopt/petchat/internal/instance"
	"go.uber.org/fx"
)

func main() {
	instanceFlag := flag.String("instance", "", "instance name (overrides config default)")
	configFlag := flag.String("config", "", "config file (default ~/.petchat/config.toml)")
	flag.Parse()

	instanceName := instance.Resolve(*instanceFlag)
	if err := instance.ValidateName(instanceName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{InstanceName: instanceName, ConfigPath: *configFlag}),
	)

	app.Run()
}
