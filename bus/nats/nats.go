package nats

import (
	"time"

	"github.com/nats-io/nats.go"
)

type Config struct {
	URL           string        `mapstructure:"url"`
	Name          string        `mapstructure:"name" default:"cqrs-demo"`
	MaxReconnects int           `mapstructure:"max_reconnects" default:"10"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait" default:"2s"`
}

func connect(conf Config) (*nats.Conn, error) {
	url := conf.URL
	if url == "" {
		url = nats.DefaultURL
	}
	var opts []nats.Option
	if conf.MaxReconnects != 0 {
		opts = append(opts, nats.MaxReconnects(conf.MaxReconnects))
	}
	if conf.Name != "" {
		opts = append(opts, nats.Name(conf.Name))
	}
	if conf.ReconnectWait > 0 {
		opts = append(opts, nats.ReconnectWait(conf.ReconnectWait))
	}
	return nats.Connect(url, opts...)
}
