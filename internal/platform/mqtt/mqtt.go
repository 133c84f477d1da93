// Package mqtt implements the platform interfaces over an MQTT broker. Entity
// states arrive as retained JSON documents on <prefix>/state/<entity_id>,
// commands are published (and observed) on <prefix>/command/<entity_id>, and
// diagnostic events go out on <prefix>/event.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/covercontrol/covercontrol/internal/platform"
	"github.com/covercontrol/covercontrol/pkg/pubsub"
)

const (
	connectTimeout    = 10 * time.Second
	disconnectQuiesce = 500 // milliseconds
	commandQoS        = 1
	stateQoS          = 0
)

// Configuration holds the broker connection settings.
type Configuration struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
}

func (c Configuration) prefix() string {
	if c.TopicPrefix != "" {
		return c.TopicPrefix
	}
	return "covercontrol"
}

var _ platform.Platform = &Client{}

// Client is the MQTT-backed platform. It caches the last state of every
// entity (the state topics are retained, so the cache warms up on connect)
// and fans out state changes and observed commands to subscribers.
type Client struct {
	cfg    Configuration
	logger *slog.Logger
	client paho.Client

	lock   sync.RWMutex
	states map[string]platform.EntityState

	statePublisher   *pubsub.Publisher[platform.StateChange]
	commandPublisher *pubsub.Publisher[platform.Command]
}

// New creates a Client for the given broker. Run must be called to connect.
func New(cfg Configuration, logger *slog.Logger) *Client {
	c := &Client{
		cfg:              cfg,
		logger:           logger,
		states:           make(map[string]platform.EntityState),
		statePublisher:   pubsub.New[platform.StateChange](logger.With(slog.String("component", "states"))),
		commandPublisher: pubsub.New[platform.Command](logger.With(slog.String("component", "commands"))),
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetOrderMatters(false)
	opts.SetOnConnectHandler(func(client paho.Client) {
		c.logger.Info("connected to broker", slog.String("broker", cfg.Broker))
		c.subscribe(client)
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		c.logger.Warn("connection to broker lost", "err", err)
	})
	c.client = paho.NewClient(opts)
	return c
}

// Run connects to the broker and blocks until ctx is canceled.
func (c *Client) Run(ctx context.Context) error {
	token := c.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("mqtt connect: timeout after %v", connectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	<-ctx.Done()
	c.client.Disconnect(disconnectQuiesce)
	return nil
}

func (c *Client) subscribe(client paho.Client) {
	for topic, handler := range map[string]paho.MessageHandler{
		c.cfg.prefix() + "/state/+":   c.onStateMessage,
		c.cfg.prefix() + "/command/+": c.onCommandMessage,
	} {
		if token := client.Subscribe(topic, stateQoS, handler); token.Wait() && token.Error() != nil {
			c.logger.Error("subscription failed", "err", token.Error(), slog.String("topic", topic))
		}
	}
}

func (c *Client) onStateMessage(_ paho.Client, msg paho.Message) {
	entityID := lastTopicPart(msg.Topic())
	var state platform.EntityState
	if err := json.Unmarshal(msg.Payload(), &state); err != nil {
		c.logger.Warn("discarding invalid state message", "err", err, slog.String("topic", msg.Topic()))
		return
	}
	if state.LastChanged.IsZero() {
		state.LastChanged = time.Now()
	}

	c.lock.Lock()
	old, known := c.states[entityID]
	c.states[entityID] = state
	c.lock.Unlock()

	if known && old.Value == state.Value && old.LastChanged.Equal(state.LastChanged) {
		return
	}
	c.statePublisher.Publish(platform.StateChange{EntityID: entityID, Old: old, New: state})
}

// onCommandMessage surfaces every cover command seen on the bus, our own
// included. Subscribers use the correlation id to tell them apart.
func (c *Client) onCommandMessage(_ paho.Client, msg paho.Message) {
	var cmd platform.Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		c.logger.Warn("discarding invalid command message", "err", err, slog.String("topic", msg.Topic()))
		return
	}
	if cmd.EntityID == "" {
		cmd.EntityID = lastTopicPart(msg.Topic())
	}
	c.commandPublisher.Publish(cmd)
}

// GetState implements platform.States.
func (c *Client) GetState(entityID string) (platform.EntityState, bool) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	state, ok := c.states[entityID]
	return state, ok
}

// Call implements platform.Commander: it publishes the command with QoS 1 and
// waits for the broker to acknowledge it.
func (c *Client) Call(ctx context.Context, cmd platform.Command) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("mqtt command: %w", err)
	}
	topic := c.cfg.prefix() + "/command/" + cmd.EntityID
	token := c.client.Publish(topic, commandQoS, false, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt command: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Emit implements platform.EventSink. Events are diagnostics: they are sent
// fire-and-forget so a slow broker never stalls an engine.
func (c *Client) Emit(ev platform.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		c.logger.Error("dropping event", "err", err)
		return
	}
	token := c.client.Publish(c.cfg.prefix()+"/event", stateQoS, false, payload)
	go func() {
		<-token.Done()
		if err := token.Error(); err != nil {
			c.logger.Warn("event publish failed", "err", err)
		}
	}()
}

// SubscribeStates implements platform.Platform.
func (c *Client) SubscribeStates() chan platform.StateChange {
	return c.statePublisher.Subscribe()
}

// UnsubscribeStates implements platform.Platform.
func (c *Client) UnsubscribeStates(ch chan platform.StateChange) {
	c.statePublisher.Unsubscribe(ch)
}

// SubscribeCommands implements platform.Platform.
func (c *Client) SubscribeCommands() chan platform.Command {
	return c.commandPublisher.Subscribe()
}

// UnsubscribeCommands implements platform.Platform.
func (c *Client) UnsubscribeCommands(ch chan platform.Command) {
	c.commandPublisher.Unsubscribe(ch)
}

func lastTopicPart(topic string) string {
	if i := strings.LastIndexByte(topic, '/'); i >= 0 {
		return topic[i+1:]
	}
	return topic
}
