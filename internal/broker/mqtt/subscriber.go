// Package mqtt receives tracking events published by warehouse scanners.
package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
)

const waitTimeout = 10 * time.Second

type Config struct {
	Broker   string
	Port     int
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      byte
}

// Handler processes one message. A message is acknowledged only when Handler returns nil.
type Handler func(ctx context.Context, topic string, payload []byte) error

type Subscriber struct {
	cfg    Config
	client paho.Client
}

func New(cfg Config) *Subscriber {
	if cfg.Port == 0 {
		cfg.Port = 1883
	}
	if cfg.QoS > 2 {
		cfg.QoS = 1
	}
	opts := paho.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port)).
		SetClientID(cfg.ClientID).
		SetCleanSession(false).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetAutoAckDisabled(true).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			slog.Warn("mqtt connection lost", "error", err.Error())
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username).SetPassword(cfg.Password)
	}
	return newWithClient(cfg, paho.NewClient(opts))
}

func newWithClient(cfg Config, c paho.Client) *Subscriber {
	return &Subscriber{cfg: cfg, client: c}
}

// Run connects, subscribes and blocks until ctx is done. The session is persistent,
// so the subscription survives reconnects.
func (s *Subscriber) Run(ctx context.Context, h Handler) error {
	if err := wait(s.client.Connect()); err != nil {
		return errors.Wrap(err, "mqtt connect")
	}
	defer s.client.Disconnect(250)

	tok := s.client.Subscribe(s.cfg.Topic, s.cfg.QoS, func(_ paho.Client, msg paho.Message) {
		if err := h(ctx, msg.Topic(), msg.Payload()); err != nil {
			slog.Error("mqtt message rejected", "topic", msg.Topic(), "error", err.Error())
			return
		}
		msg.Ack()
	})
	if err := wait(tok); err != nil {
		return errors.Wrapf(err, "mqtt subscribe %s", s.cfg.Topic)
	}
	slog.Info("mqtt subscribed", "topic", s.cfg.Topic, "qos", s.cfg.QoS)

	<-ctx.Done()
	return nil
}

func (s *Subscriber) Connected() bool {
	return s.client.IsConnectionOpen()
}

func wait(t paho.Token) error {
	if !t.WaitTimeout(waitTimeout) {
		return errors.New("timed out")
	}
	return t.Error()
}
