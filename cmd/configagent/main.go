// Command configagent runs the remote reconfiguration client standalone,
// alongside the worker process it restarts on each accepted config push.
package main

import (
	"os"
	"time"

	"github.com/vinibressanini/idab-processor/internal/configagent"
	"github.com/vinibressanini/idab-processor/internal/logging"
)

const reconnectDelay = 5 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	log := logging.NewDefault()

	serverURL := os.Getenv("CONFIG_AGENT_SERVER_URL")
	if serverURL == "" {
		log.Error("configagent: CONFIG_AGENT_SERVER_URL is required")
		return 1
	}
	configPath := os.Getenv("TOPOLOGY_PATH")
	if configPath == "" {
		configPath = "topology.json"
	}

	agent := configagent.New(configagent.Config{ServerURL: serverURL, ConfigPath: configPath}, log)

	for {
		if err := agent.Run(); err != nil {
			log.WithField("error", err).Warn("configagent: connection lost, reconnecting")
			time.Sleep(reconnectDelay)
			continue
		}
		return 0
	}
}
