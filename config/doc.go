// Package config loads e2ekit configuration with Viper.
//
// Values come from an e2ekit.yml file (searched in the working directory and
// the usual e2e test directories), then a .env file loaded with godotenv, then
// E2EKIT_-prefixed environment variables, which win.
//
// # Usage
//
//	var cfg orchestrator.Config
//	if err := config.LoadConfig("e2ekit", &cfg); err != nil { ... }
package config
