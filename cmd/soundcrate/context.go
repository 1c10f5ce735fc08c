package main

import (
	"os"
	"strings"
	"sync"

	"soundcrate/internal/config"
)

type commandContext struct {
	configFlag  *string
	addressFlag *string
	accountFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	clientOnce sync.Once
	client     *apiClient
}

func newCommandContext(configFlag, addressFlag, accountFlag *string) *commandContext {
	return &commandContext{
		configFlag:  configFlag,
		addressFlag: addressFlag,
		accountFlag: accountFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// apiClient builds the daemon API client lazily so commands that never talk
// to the daemon do not require one to be running.
func (c *commandContext) apiClient() (*apiClient, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	c.clientOnce.Do(func() {
		address := ""
		if c.addressFlag != nil {
			address = strings.TrimSpace(*c.addressFlag)
		}
		if address == "" {
			address = cfg.Paths.APIBind
		}
		c.client = newAPIClient(address, cfg.Paths.APIToken, c.account())
	})
	return c.client, nil
}

func (c *commandContext) account() string {
	if c.accountFlag != nil {
		if account := strings.TrimSpace(*c.accountFlag); account != "" {
			return account
		}
	}
	if account := strings.TrimSpace(os.Getenv("SOUNDCRATE_ACCOUNT")); account != "" {
		return account
	}
	return os.Getenv("USER")
}
