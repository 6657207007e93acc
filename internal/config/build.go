package config

import (
	"fmt"
	"log/slog"

	"github.com/eugenetaranov/devagent/internal/action"
	"github.com/eugenetaranov/devagent/internal/agent"
	"github.com/eugenetaranov/devagent/internal/connector"
	"github.com/eugenetaranov/devagent/internal/connector/local"
	"github.com/eugenetaranov/devagent/internal/connector/ssh"
	"github.com/eugenetaranov/devagent/internal/executor"
	"github.com/eugenetaranov/devagent/internal/intent"
	"github.com/eugenetaranov/devagent/internal/router"
)

// Labels used in user-facing messages for each agent.
var labels = map[intent.Agent]string{
	intent.RaspberryPi: "Raspberry Pi",
	intent.ESPDevice:   "ESP device",
}

// Connector builds the connector for the device. It does not connect.
func (d Device) Connector(logger *slog.Logger) connector.Connector {
	if d.Connection == ConnectionLocal {
		return local.New()
	}

	policy, _ := ssh.ParseHostKeyPolicy(d.HostKeyPolicy)

	return ssh.New(connector.Config{
		Host:    d.Host,
		Port:    d.Port,
		User:    d.Username,
		Timeout: d.ConnectTimeout,
	},
		ssh.WithCredential(d.Credential()),
		ssh.WithHostKeyPolicy(policy, d.KnownHosts),
		ssh.WithConnectRetries(d.ConnectRetries),
		ssh.WithLogger(logger),
	)
}

// Agent builds the device agent for name.
func (c *Config) Agent(name intent.Agent, logger *slog.Logger) (*agent.Agent, error) {
	var d Device
	switch name {
	case intent.RaspberryPi:
		d = c.RaspberryPi
	case intent.ESPDevice:
		if c.ESPDevice == nil {
			return nil, fmt.Errorf("%s is not configured", name)
		}
		d = *c.ESPDevice
	default:
		return nil, fmt.Errorf("unknown agent %q", name)
	}

	return agent.New(d.Connector(logger),
		agent.WithLabel(labels[name]),
		agent.WithPolicy(c.PackageManager),
		agent.WithLogger(logger),
		agent.WithExecutorOptions(executor.WithCommandTimeout(d.CommandTimeout)),
	)
}

// Router builds a router with a dispatcher for every configured device.
func (c *Config) Router(logger *slog.Logger) (*router.Router, error) {
	r := router.New(router.WithLogger(logger))

	names := []intent.Agent{intent.RaspberryPi}
	if c.ESPDevice != nil {
		names = append(names, intent.ESPDevice)
	}

	for _, name := range names {
		a, err := c.Agent(name, logger.With("agent", name))
		if err != nil {
			return nil, err
		}
		r.Register(name, action.NewDispatcher(a, action.WithLogger(logger)))
	}

	return r, nil
}
