package main

import (
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"dubline/internal/api"
	"dubline/internal/config"
)

type commandContext struct {
	apiFlag    *string
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(apiFlag, configFlag *string) *commandContext {
	return &commandContext{
		apiFlag:    apiFlag,
		configFlag: configFlag,
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

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

// apiAddress is the --api flag, or paths.api_bind rewritten so a wildcard
// listen address dials loopback.
func (c *commandContext) apiAddress() string {
	if c.apiFlag != nil {
		if flag := strings.TrimSpace(*c.apiFlag); flag != "" {
			return flag
		}
	}
	cfg := c.configValue()
	if cfg == nil {
		return ""
	}
	return dialAddress(cfg.Paths.APIBind)
}

func dialAddress(bind string) string {
	bind = strings.TrimSpace(bind)
	if bind == "" || strings.Contains(bind, "://") {
		return bind
	}
	host, port, err := net.SplitHostPort(bind)
	if err != nil {
		return bind
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}

func (c *commandContext) withClient(fn func(*api.Client) error) error {
	addr := c.apiAddress()
	var token string
	if cfg := c.configValue(); cfg != nil {
		token = cfg.Paths.APIToken
	}
	client, err := api.NewClient(addr, token)
	if err != nil {
		return wrapClientError(err, addr)
	}
	return wrapClientError(fn(client), addr)
}

func wrapClientError(err error, addr string) error {
	switch {
	case err == nil:
		return nil
	case api.IsUnavailable(err) && addr == "":
		return fmt.Errorf("connect to daemon: paths.api_bind is empty; set it or pass --api")
	case api.IsUnavailable(err):
		return fmt.Errorf("connect to daemon at %s: %w; start it with `dubline daemon`", addr, err)
	default:
		return err
	}
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
