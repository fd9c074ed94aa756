package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/dyluth/herd/internal/config"
	"github.com/dyluth/herd/internal/herder"
	"github.com/dyluth/herd/internal/launch"
	"github.com/dyluth/herd/pkg/fleet"
)

func main() {
	// 1. Locate and load configuration
	configPath := os.Getenv("HERD_CONFIG")
	if configPath == "" {
		configPath = "herd.yml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to load %s: %v\n", configPath, err)
		os.Exit(1)
	}

	// 2. Resolve Redis URL (environment overrides config)
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = cfg.RedisURL
	}
	if redisURL == "" {
		fmt.Fprintf(os.Stderr, "Error: REDIS_URL must be set (environment or redis_url in %s)\n", configPath)
		os.Exit(1)
	}

	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Invalid REDIS_URL: %v\n", err)
		os.Exit(1)
	}

	// 3. Create fleet client and verify connectivity
	fleetClient, err := fleet.NewClient(redisOpts, cfg.Concert, cfg.ClientName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to create fleet client: %v\n", err)
		os.Exit(1)
	}
	defer fleetClient.Close()

	ctx := context.Background()
	if err := fleetClient.Ping(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Redis not accessible: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Herder starting for concert '%s' as client '%s'\n", cfg.Concert, cfg.ClientName)

	// 4. Initialize the Docker launcher when batch launching is configured.
	// The herder still serves lifecycle requests without it.
	var launcher herder.Launcher
	if cfg.Launcher != nil {
		dockerClient, err := launch.NewDockerClient(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (batch launching disabled)\n", err)
		} else {
			defer dockerClient.Close()
			launcher = launch.NewDockerLauncher(dockerClient, cfg.Launcher, cfg.Concert, cfg.ClientName)
			fmt.Println("Docker launcher initialized for batch agents")
		}
	}

	// 5. Create the engine
	engine := herder.NewEngine(cfg, fleetClient, launcher)

	// 6. Setup graceful shutdown
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	errCh := make(chan error, 1)
	go func() {
		errCh <- engine.Run(runCtx)
	}()

	// 7. Wait for shutdown signal or engine error
	select {
	case sig := <-sigCh:
		fmt.Printf("Received signal %v, shutting down gracefully...\n", sig)
		cancel()
		<-errCh
	case runErr := <-errCh:
		if runErr != nil {
			fmt.Fprintf(os.Stderr, "Herder error: %v\n", runErr)
			os.Exit(1)
		}
	}
}
