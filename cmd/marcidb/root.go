package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "marcidb",
	Short:         "Schema-first document database over an ordered key-value store",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default marcidb.yaml in the working directory)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(checkSchemaCmd)
}

type config struct {
	DataDir    string `mapstructure:"data_dir"`
	ListenAddr string `mapstructure:"listen_addr"`
	SchemaPath string `mapstructure:"schema_path"`
	Debug      bool   `mapstructure:"debug"`
}

func loadConfig() (config, error) {
	v := viper.New()
	v.SetDefault("data_dir", "./data")
	v.SetDefault("listen_addr", ":4000")
	v.SetDefault("schema_path", "./schema.marci")
	v.SetDefault("debug", false)
	v.SetEnvPrefix("MARCIDB")
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("marcidb")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		var nf viper.ConfigFileNotFoundError
		if err := v.ReadInConfig(); err != nil && !errors.As(err, &nf) {
			return config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg config
	if err := v.Unmarshal(&cfg); err != nil {
		return config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func buildLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
