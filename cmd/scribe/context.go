package main

import (
	"errors"
	"strings"
	"sync"

	"scribed/internal/api"
	"scribed/internal/config"
)

type commandContext struct {
	configFlag *string
	addrFlag   *string

	configOnce   sync.Once
	config       *config.Config
	configPath   string
	configExists bool
	configErr    error
}

func newCommandContext(configFlag, addrFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		addrFlag:   addrFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolvedPath, exists, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolvedPath
		c.configExists = exists
	})
	return c.config, c.configErr
}

// client builds an API client for the configured daemon address. The --addr
// flag wins over the config bind address.
func (c *commandContext) client() (*api.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}

	bind := cfg.Paths.APIBind
	token := cfg.Paths.APIToken
	if c.addrFlag != nil && strings.TrimSpace(*c.addrFlag) != "" {
		bind = strings.TrimSpace(*c.addrFlag)
	}
	bind = strings.TrimPrefix(bind, "http://")
	if bind == "" {
		return nil, errors.New("no daemon address: set paths.api_bind or pass --addr")
	}
	return api.NewClientForBind(bind, token), nil
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
