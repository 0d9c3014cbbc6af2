package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/df-mc/calcite/server"
	"github.com/df-mc/calcite/server/console"
	"github.com/pelletier/go-toml"
)

const configFile = "config.toml"

func main() {
	log := slog.Default()

	conf, err := readConfig(log)
	if err != nil {
		log.Error("Failed to read config.", "error", err)
		os.Exit(1)
	}
	conf.Changed = func(uc server.UserConfig) {
		if err := writeConfig(uc); err != nil {
			log.Error("Failed to save config.", "error", err)
		}
	}

	srv, err := conf.New()
	if err != nil {
		log.Error("Failed to create server.", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		<-c
		log.Info("Shutting down.")
		srv.Stop()
	}()
	go console.New(srv, log).Run(ctx)

	if err := srv.Run(ctx); err != nil {
		log.Error("Server stopped with error.", "error", err)
		os.Exit(1)
	}
}

// readConfig reads the configuration from config.toml, creating the file
// with defaults if it is missing.
func readConfig(log *slog.Logger) (server.Config, error) {
	c := server.DefaultConfig()
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		if err := writeConfig(c); err != nil {
			return server.Config{}, err
		}
		return c.Config(log)
	}
	data, err := os.ReadFile(configFile)
	if err != nil {
		return server.Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, &c); err != nil {
		return server.Config{}, fmt.Errorf("decode config: %w", err)
	}
	return c.Config(log)
}

func writeConfig(c server.UserConfig) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(configFile, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
