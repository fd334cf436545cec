package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/treadle/loomctl/internal/logging"
	"github.com/treadle/loomctl/internal/loom"
	"github.com/treadle/loomctl/internal/observability"
)

func main() {
	configPath := flag.String("config", "", "path to a loom config file (toml)")
	flag.Parse()

	logging.ConfigureRuntime()
	observability.InitLogger("loom")

	cfg := loom.DefaultServiceConfig()
	if *configPath != "" {
		loaded, err := loadServiceConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "loomctl: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	svc := loom.NewServiceWithConfig(cfg)
	if err := svc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "loomctl: %v\n", err)
		os.Exit(1)
	}
}
