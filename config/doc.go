// Package config loads the blockflow engine configuration.
//
// LoadConfig reads a YAML file with Viper, then layers a .env file
// (godotenv) and the process environment on top. An environment variable
// addresses nested keys with underscores, so BLOCKFLOW_SCHEDULER_STRATEGY
// sets scheduler.strategy when the loader uses the BLOCKFLOW prefix.
//
// EngineConfig groups the sections of every component: scheduler, dynamic,
// variables, storage, run_store, telemetry and executors.
//
//	cfg, err := config.Load("blockflow", config.WithConfigFile("blockflow.yml"))
package config
