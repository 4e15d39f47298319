package main

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/frisk-from-paris/Chanina/pkg/chanina"
	"github.com/frisk-from-paris/Chanina/pkg/config"
	"github.com/frisk-from-paris/Chanina/pkg/logging"
	"github.com/frisk-from-paris/Chanina/pkg/queue"
)

var rootCmd = &cobra.Command{
	Use:   "chanina",
	Short: "Distributed browser-worker runner",
	Long: `Chanina distributes browser automation functions (libretti) to worker
processes. Each worker owns a single long-lived browser session bound to an
exclusively leased copy of a shared user profile.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is ./chanina.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	viper.AutomaticEnv()
	viper.SetEnvPrefix("CHANINA")
}

// loadConfig resolves the configuration file named by --config, falling back
// to ./chanina.yaml and then to built-in defaults.
func loadConfig() (config.Config, error) {
	if path := viper.GetString("config"); path != "" {
		return config.Load(path)
	}

	cfg, err := config.Load("chanina.yaml")
	if err == nil {
		return cfg, nil
	}

	cfg = config.Default()
	return cfg, cfg.Validate()
}

// buildApp composes a Chanina application from the configuration. With
// local=true the app runs on an in-process broker instead of Redis.
func buildApp(local bool) (*chanina.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger, logErr := logging.NewLogger("chanina")
	if logErr != nil {
		logger.Warnf("file logging unavailable: %v", logErr)
	}

	var broker queue.Broker
	var lockStore *redis.Client
	if local {
		broker = queue.NewMemoryBroker(logger)
	} else {
		brokerOpts := []queue.RedisOption{
			queue.WithQueue(cfg.Queue),
			queue.WithLogger(logger),
		}
		if cfg.BackendAddr() != cfg.Broker {
			backend := redis.NewClient(&redis.Options{Addr: cfg.BackendAddr()})
			brokerOpts = append(brokerOpts, queue.WithResultClient(backend))
		}
		broker = queue.NewRedisBroker(
			redis.NewClient(&redis.Options{Addr: cfg.Broker}),
			brokerOpts...,
		)
	}
	if cfg.SessionOn() {
		lockStore = redis.NewClient(&redis.Options{Addr: cfg.LockStoreAddr()})
	}

	app, err := chanina.New(chanina.Options{
		Broker:             broker,
		LockStore:          lockStore,
		SessionEnabled:     cfg.SessionOn(),
		Browser:            cfg.Browser,
		Headless:           cfg.HeadlessOn(),
		ProfilePath:        cfg.ProfilePath,
		LockAcquireTimeout: cfg.LockAcquireTimeout.Std(),
		LockHoldTimeout:    cfg.LockHoldTimeout.Std(),
		Logger:             logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build application: %w", err)
	}
	return app, nil
}
