package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/itohio/gochiller/pkg/chiller"
	"go.uber.org/fx"
)

func main() {
	var (
		configFlag   = flag.String("config", "config.yaml", "Configuration file path (.yaml or .toml)")
		envFlag      = flag.String("env", ".env", "Dotenv file with CHILLER_* overrides")
		portFlag     = flag.String("p", "", "Serial port override (e.g., COM17 or /dev/ttyACM0)")
		mockFlag     = flag.Bool("mock", false, "Use simulated controller instead of serial port")
		logLevelFlag = flag.String("log-level", "", "Log level override (trace, debug, info, warn, error)")
		listFlag     = flag.Bool("list", false, "List serial ports and exit")
	)
	flag.Parse()

	if *listFlag {
		if err := listPorts(); err != nil {
			log.Fatalf("Failed to list ports: %v", err)
		}
		return
	}

	fx.New(
		appOptions(options{
			configPath: *configFlag,
			dotenv:     *envFlag,
			port:       *portFlag,
			mock:       *mockFlag,
			logLevel:   *logLevelFlag,
		}),
		fx.NopLogger,
	).Run()
}

func listPorts() error {
	ports, err := chiller.Ports()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Fprintln(os.Stderr, "No serial ports found")
		return nil
	}
	for _, p := range ports {
		fmt.Printf("%s\t%s\n", p.Name, p.Description)
	}
	return nil
}
