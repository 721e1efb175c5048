// Command malleability-manager is the I/O-intensity-aware malleability
// decision service: it consumes scheduling requests from the
// malleability_manager stream and answers on intelligent_controller.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/admire-eurohpc/malleability-manager/internal/broker"
	"github.com/admire-eurohpc/malleability-manager/internal/config"
	"github.com/admire-eurohpc/malleability-manager/internal/intensity"
	"github.com/admire-eurohpc/malleability-manager/internal/scheduler"
	"github.com/admire-eurohpc/malleability-manager/internal/session"
	"github.com/admire-eurohpc/malleability-manager/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	var (
		redisHost       string
		redisPort       int
		metricProxyHost string
		metricProxyPort int
	)

	cmd := &cobra.Command{
		Use:   "malleability-manager",
		Short: "I/O-intensity-aware malleability decision service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.New(redisHost, redisPort, metricProxyHost, metricProxyPort)
			setupLogging(cfg)
			return run(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&redisHost, "redis_host", config.DefaultRedisHost, "Redis host")
	flags.IntVar(&redisPort, "redis_port", config.DefaultRedisPort, "Redis port number")
	flags.StringVar(&metricProxyHost, "metric_proxy_host", config.DefaultMetricProxyHost, "Metric proxy host")
	flags.IntVar(&metricProxyPort, "metric_proxy_port", config.DefaultMetricProxyPort, "Metric proxy port number")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		log.Info().Msg("received shutdown signal")
		cancel()
	}()

	if err := cmd.ExecuteContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("malleability manager failed")
	}
}

func setupLogging(cfg *config.Config) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.Environment == "development" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr()})
	defer redisClient.Close()

	proxyClient := telemetry.New(cfg.MetricProxyURL())
	calc := intensity.New(proxyClient)
	algorithm := scheduler.New(proxyClient, calc)
	stream := broker.New(redisClient)
	driver := session.New(stream, algorithm)

	log.Info().
		Str("redis_addr", cfg.RedisAddr()).
		Str("metric_proxy_url", cfg.MetricProxyURL()).
		Msg("starting malleability manager session")

	return driver.Run(ctx)
}
