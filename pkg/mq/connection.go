package mq

import (
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"collabhub/pkg/config"
)

const (
	defaultExchange  = "collabhub.events"
	defaultHeartbeat = 10 * time.Second
	dlqSuffix        = ".dlq"
)

// Topology names the exchanges escalation notifications flow through.
type Topology struct {
	Exchange    string
	DLQExchange string
}

// TopologyFor reads exchange names from cfg. An empty DLQ exchange is derived
// from the main one.
func TopologyFor(cfg config.MQConfig) Topology {
	t := Topology{Exchange: cfg.Exchange, DLQExchange: cfg.DLQExchange}
	if t.Exchange == "" {
		t.Exchange = defaultExchange
	}
	if t.DLQExchange == "" {
		t.DLQExchange = t.Exchange + dlqSuffix
	}
	return t
}

// declare 声明主 exchange 与死信 exchange，均为 durable topic
func (t Topology) declare(ch *amqp091.Channel) error {
	for _, name := range []string{t.Exchange, t.DLQExchange} {
		if err := ch.ExchangeDeclare(name, "topic", true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %q: %w", name, err)
		}
	}
	return nil
}

// dial opens a named connection so the service shows up in the management UI.
func dial(cfg config.MQConfig) (*amqp091.Connection, error) {
	props := amqp091.NewConnectionProperties()
	if cfg.ConnectionName != "" {
		props.SetClientConnectionName(cfg.ConnectionName)
	}
	conn, err := amqp091.DialConfig(cfg.URL, amqp091.Config{
		Heartbeat:  defaultHeartbeat,
		Locale:     "en_US",
		Properties: props,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return conn, nil
}
