package main

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"media-pipeline/internal/application"
	"media-pipeline/internal/config"
	"media-pipeline/internal/infra/logging"
)

type commandContext struct {
	configPath string
	dev        bool
	jsonOut    bool

	once      sync.Once
	cfg       *config.Config
	container *application.Container
	err       error

	// build is replaced in tests.
	build func(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*application.Container, error)
}

func newCommandContext() *commandContext {
	return &commandContext{build: application.Build}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	cfg, err := config.Load(c.configPath, c.dev)
	if err != nil {
		return nil, err
	}
	c.cfg = cfg
	return cfg, nil
}

// ensureContainer connects to the configured stores once per invocation.
func (c *commandContext) ensureContainer(ctx context.Context) (*application.Container, error) {
	c.once.Do(func() {
		if c.container != nil {
			return
		}
		cfg, err := c.ensureConfig()
		if err != nil {
			c.err = err
			return
		}
		if cfg.Database.URL == "" {
			c.err = errors.New("pipelinectl needs database.url; the in-memory store lives inside the server process")
			return
		}
		logger := logging.New(config.LogConfig{Level: "warn", Format: "console"}, true)
		c.container, c.err = c.build(ctx, cfg, logger)
	})
	return c.container, c.err
}

func (c *commandContext) close() {
	if c.container != nil {
		c.container.Close()
	}
}

func shouldSkipContainer(cmd *cobra.Command) bool {
	for p := cmd; p != nil; p = p.Parent() {
		if p.Annotations != nil && p.Annotations["skipContainer"] == "true" {
			return true
		}
	}
	return false
}
