package broker

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"p8fs-storage/internal/config"
)

// New constructs the configured Broker backend ("nats", default, or
// "kafka") from cfg.
func New(cfg config.BrokerConfig, log *logrus.Entry) (Broker, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "nats":
		return NewNATSBroker(NATSOptions{
			URL:            cfg.NATSURL,
			MaxReconnect:   cfg.NATSMaxReconnect,
			ReconnectWait:  cfg.NATSReconnectWait,
			ConnectTimeout: cfg.NATSConnectTimeout,
		}, log)
	case "kafka":
		if len(cfg.KafkaBrokers) == 0 {
			return nil, fmt.Errorf("broker: kafka backend requires at least one broker address")
		}
		return NewKafkaBroker(cfg.KafkaBrokers, log), nil
	default:
		return nil, fmt.Errorf("broker: unknown backend %q", cfg.Backend)
	}
}

// Topology builds the standard topology namespaced under cfg.StreamPrefix,
// defaulting to "p8fs" when unset.
func Topology(cfg config.BrokerConfig) []TopologyEntry {
	prefix := cfg.StreamPrefix
	if prefix == "" {
		prefix = "p8fs"
	}
	return StandardTopology(prefix)
}
