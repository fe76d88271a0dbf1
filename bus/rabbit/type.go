package rabbit

type Config struct {
	URL              string `mapstructure:"url"`
	Exchange         string `mapstructure:"exchange" default:"cqrs.events"`
	ExchangeType     string `mapstructure:"exchange_type" default:"topic"`
	ReconnectBackoff int    `mapstructure:"reconnect_backoff" default:"5"`
	MaxAttempts      int    `mapstructure:"max_attempts" default:"5"`
}

func (c Config) withDefaults() Config {
	if c.Exchange == "" {
		c.Exchange = "cqrs.events"
	}
	if c.ExchangeType == "" {
		c.ExchangeType = "topic"
	}
	if c.ReconnectBackoff <= 0 {
		c.ReconnectBackoff = 5
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	return c
}

// tableCarrier adapts amqp headers to an otel TextMapCarrier.
type tableCarrier map[string]interface{}

func (c tableCarrier) Get(key string) string {
	v, _ := c[key].(string)
	return v
}

func (c tableCarrier) Set(key, value string) {
	c[key] = value
}

func (c tableCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
