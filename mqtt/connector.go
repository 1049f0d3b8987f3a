// Package mqtt connects the gateway to its owning system over MQTT. Commands
// are published as Pivot documents and readings are taken from a topic.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"
	"gopkg.in/validator.v2"

	gateway "github.com/marrasen/iec61850-gateway"
)

const (
	DefaultCommandTopic = "iec61850/commands"
	DefaultReadingTopic = "iec61850/readings"
	defaultKeepAlive    = 20
)

var ErrNotConnected = errors.New("mqtt connection not open")

// Config of the connector, read from the gateway file.
type Config struct {
	BrokerURL    string `yaml:"broker_url" validate:"nonzero"`
	ClientID     string `yaml:"client_id"`
	CommandTopic string `yaml:"command_topic"`
	ReadingTopic string `yaml:"reading_topic"`
	KeepAlive    uint16 `yaml:"keep_alive"`
}

// ReadingSink receives decoded readings. Session implements it.
type ReadingSink interface {
	Send(readings []*gateway.Reading) uint32
}

type publisher interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

// Connector implements gateway.CommandForwarder by publishing each command at
// QoS 1. A command counts as accepted once the broker acknowledges it.
type Connector struct {
	config *Config
	cliCfg autopaho.ClientConfig
	router *paho.StandardRouter
	sink   ReadingSink
	log    *slog.Logger

	mu         sync.Mutex
	connection *autopaho.ConnectionManager
	pub        publisher
}

func NewConnector(config *Config, sink ReadingSink, log *slog.Logger) (*Connector, error) {
	if err := validator.Validate(config); err != nil {
		return nil, fmt.Errorf("validate mqtt config: %w", err)
	}
	u, err := url.Parse(config.BrokerURL)
	if err != nil {
		return nil, fmt.Errorf("parse broker url %q: %w", config.BrokerURL, err)
	}
	if log == nil {
		log = slog.Default()
	}
	cfg := *config
	if cfg.ClientID == "" {
		cfg.ClientID = "iec61850-gateway-" + uuid.NewString()
	}
	if cfg.CommandTopic == "" {
		cfg.CommandTopic = DefaultCommandTopic
	}
	if cfg.ReadingTopic == "" {
		cfg.ReadingTopic = DefaultReadingTopic
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = defaultKeepAlive
	}

	c := &Connector{
		config: &cfg,
		router: paho.NewStandardRouter(),
		sink:   sink,
		log:    log.With(slog.String("component", "mqtt"), slog.String("client_id", cfg.ClientID)),
	}
	c.cliCfg = autopaho.ClientConfig{
		BrokerUrls: []*url.URL{u},
		KeepAlive:  cfg.KeepAlive,
		OnConnectionUp: func(cm *autopaho.ConnectionManager, connAck *paho.Connack) {
			c.log.Info("mqtt connection up")
			if c.sink == nil {
				return
			}
			// Subscriptions do not survive a reconnect with a clean start.
			if err := c.subscribe(context.Background(), cm); err != nil {
				c.log.Error("subscribe failed", slog.String("topic", cfg.ReadingTopic), slog.Any("error", err))
			}
		},
		OnConnectError: func(err error) { c.log.Warn("error whilst attempting connection", slog.Any("error", err)) },
		ClientConfig: paho.ClientConfig{
			ClientID:      cfg.ClientID,
			Router:        c.router,
			OnClientError: func(err error) { c.log.Error("client error", slog.Any("error", err)) },
			OnServerDisconnect: func(d *paho.Disconnect) {
				if d.Properties != nil {
					c.log.Warn("server requested disconnect", slog.String("reason", d.Properties.ReasonString))
				} else {
					c.log.Warn("server requested disconnect", slog.Int("reason_code", int(d.ReasonCode)))
				}
			},
		},
	}
	if sink != nil {
		c.router.RegisterHandler(cfg.ReadingTopic, c.handleReading)
	}
	return c, nil
}

// Config returns the effective configuration.
func (c *Connector) Config() Config {
	return *c.config
}

// Open connects to the broker and waits for the first connection.
func (c *Connector) Open(ctx context.Context) error {
	connection, err := autopaho.NewConnection(ctx, c.cliCfg)
	if err != nil {
		return err
	}
	if err = connection.AwaitConnection(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	c.connection = connection
	c.pub = connection
	c.mu.Unlock()
	return nil
}

// Close disconnects from the broker.
func (c *Connector) Close() {
	c.mu.Lock()
	connection := c.connection
	c.connection, c.pub = nil, nil
	c.mu.Unlock()
	if connection == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := connection.Disconnect(ctx); err != nil {
		c.log.Warn("disconnect failed", slog.Any("error", err))
	}
}

func (c *Connector) subscribe(ctx context.Context, cm *autopaho.ConnectionManager) error {
	_, err := cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: c.config.ReadingTopic, QoS: 1}},
	})
	return err
}

// ForwardCommand publishes cmd and reports whether the broker accepted it.
func (c *Connector) ForwardCommand(ctx context.Context, cmd *gateway.PivotCommand) gateway.CommandResult {
	c.mu.Lock()
	pub := c.pub
	c.mu.Unlock()
	log := c.log.With(slog.String("id", cmd.Identifier))
	if pub == nil {
		log.Error("command not forwarded", slog.Any("error", ErrNotConnected))
		return gateway.CommandRejected
	}
	payload, err := json.Marshal(cmd)
	if err != nil {
		log.Error("encode command", slog.Any("error", err))
		return gateway.CommandRejected
	}
	resp, err := pub.Publish(ctx, &paho.Publish{
		QoS:     1,
		Topic:   c.config.CommandTopic,
		Payload: payload,
	})
	if err != nil {
		log.Error("publish command", slog.String("topic", c.config.CommandTopic), slog.Any("error", err))
		return gateway.CommandRejected
	}
	if resp != nil && resp.ReasonCode >= 0x80 {
		log.Error("command refused by broker", slog.Int("reason_code", int(resp.ReasonCode)))
		return gateway.CommandRejected
	}
	log.Debug("command published", slog.String("topic", c.config.CommandTopic))
	return gateway.CommandAccepted
}

func (c *Connector) handleReading(p *paho.Publish) {
	r, err := DecodeReading(p.Payload)
	if err != nil {
		c.log.Warn("could not decode reading", slog.String("topic", p.Topic), slog.Any("error", err))
		return
	}
	n := c.sink.Send([]*gateway.Reading{r})
	c.log.Debug("reading applied", slog.String("asset", r.AssetName), slog.Int("datapoints", len(r.Datapoints)), slog.Int("applied", int(n)))
}
