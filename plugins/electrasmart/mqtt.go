package electrasmart

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/joshp123/gohome-electra/internal/config"
)

const (
	mqttCommandTimeout = 30 * time.Second
	payloadOnline      = "online"
	payloadOffline     = "offline"
)

// mqttConn is the subset of mqtt.Client the bridge uses.
type mqttConn interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
}

type commandRunner interface {
	Command(uniqueID string, fn func(*Climate) error) error
}

// NewMQTTClient builds an auto-reconnecting client for the configured
// broker. It does not connect; onConnect runs after every (re)connect.
func NewMQTTClient(cfg *config.MQTTConfig, onConnect func(mqtt.Client)) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetUsername(cfg.Username)
	if cfg.PasswordFile != "" {
		data, err := os.ReadFile(cfg.PasswordFile)
		if err != nil {
			return nil, fmt.Errorf("read mqtt password: %w", err)
		}
		opts.SetPassword(strings.TrimSpace(string(data)))
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "gohome-electrasmart"
	}
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetOrderMatters(false)
	if onConnect != nil {
		opts.OnConnect = onConnect
	}
	return mqtt.NewClient(opts), nil
}

// MQTTBridge publishes entity state and turns set topics into commands.
//
//	<prefix>/electrasmart/<mac>/state          retained JSON ClimateState
//	<prefix>/electrasmart/<mac>/availability   retained online|offline
//	<prefix>/electrasmart/<mac>/set/<command>  plain-text command payload
type MQTTBridge struct {
	conn   mqttConn
	base   string
	logger *slog.Logger
}

func NewMQTTBridge(conn mqttConn, topicPrefix string, logger *slog.Logger) *MQTTBridge {
	if logger == nil {
		logger = slog.Default()
	}
	if topicPrefix == "" {
		topicPrefix = config.DefaultTopicPrefix
	}
	return &MQTTBridge{
		conn:   conn,
		base:   strings.TrimSuffix(topicPrefix, "/") + "/" + Domain,
		logger: logger,
	}
}

func (b *MQTTBridge) WriteState(_ context.Context, state ClimateState) {
	payload, err := json.Marshal(state)
	if err != nil {
		b.logger.Error("encode mqtt state", "err", err)
		return
	}
	prefix := b.base + "/" + state.UniqueID
	if err := b.publish(prefix+"/state", payload); err != nil {
		b.logger.Warn("mqtt publish failed", "topic", prefix+"/state", "err", err)
	}
	availability := payloadOffline
	if state.Available {
		availability = payloadOnline
	}
	if err := b.publish(prefix+"/availability", []byte(availability)); err != nil {
		b.logger.Warn("mqtt publish failed", "topic", prefix+"/availability", "err", err)
	}
}

func (b *MQTTBridge) publish(topic string, payload []byte) error {
	if token := b.conn.Publish(topic, 1, true, payload); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

// Subscribe routes set topics for every unit to runner. Commands run off
// the paho router goroutine since they call the cloud and publish state.
func (b *MQTTBridge) Subscribe(runner commandRunner) error {
	topic := b.base + "/+/set/+"
	handler := func(_ mqtt.Client, msg mqtt.Message) {
		go b.handle(runner, msg.Topic(), msg.Payload())
	}
	if token := b.conn.Subscribe(topic, 1, handler); token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", topic, token.Error())
	}
	return nil
}

func (b *MQTTBridge) handle(runner commandRunner, topic string, payload []byte) {
	uniqueID, command, ok := parseCommandTopic(b.base, topic)
	if !ok {
		b.logger.Debug("ignoring mqtt topic", "topic", topic)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), mqttCommandTimeout)
	defer cancel()
	err := runner.Command(uniqueID, func(c *Climate) error {
		return applyCommand(ctx, c, command, payload)
	})
	if err != nil {
		b.logger.Error("mqtt command failed", "mac", uniqueID, "command", command, "err", err)
	}
}

func parseCommandTopic(base, topic string) (string, string, bool) {
	rest, ok := strings.CutPrefix(topic, base+"/")
	if !ok {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[1] != "set" || parts[0] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[0], parts[2], true
}

func applyCommand(ctx context.Context, c *Climate, command string, payload []byte) error {
	value := strings.TrimSpace(string(payload))
	switch command {
	case "temperature":
		temp, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%w: temperature %q", ErrInvalidValue, value)
		}
		return c.SetTemperature(ctx, temp)
	case "hvac_mode":
		return c.SetHVACMode(ctx, value)
	case "fan_mode":
		return c.SetFanMode(ctx, value)
	case "swing_mode":
		return c.SetSwingMode(ctx, value)
	case "preset_mode":
		return c.SetPresetMode(ctx, value)
	default:
		return fmt.Errorf("%w: command %q", ErrInvalidValue, command)
	}
}
