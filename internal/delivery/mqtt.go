package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// publisher is the subset of mqtt.Client the sink uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTSink publishes output to {prefix}/{user_id}/text and
// {prefix}/{user_id}/status for a chat bridge to relay.
type MQTTSink struct {
	conn      mqtt.Client
	pub       publisher
	prefix    string
	connected atomic.Bool
	log       zerolog.Logger
}

type MQTTOptions struct {
	BrokerURL   string
	ClientID    string
	TopicPrefix string
	Username    string
	Password    string
	Log         zerolog.Logger
}

func ConnectMQTT(opts MQTTOptions) (*MQTTSink, error) {
	s := &MQTTSink{
		prefix: strings.TrimSuffix(opts.TopicPrefix, "/"),
		log:    opts.Log,
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(true).
		SetOnConnectHandler(s.onConnect).
		SetConnectionLostHandler(s.onConnectionLost)

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}

	s.conn = mqtt.NewClient(clientOpts)
	s.pub = s.conn
	token := s.conn.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *MQTTSink) onConnect(_ mqtt.Client) {
	s.connected.Store(true)
	s.log.Info().Str("prefix", s.prefix).Msg("mqtt connected")
}

func (s *MQTTSink) onConnectionLost(_ mqtt.Client, err error) {
	s.connected.Store(false)
	s.log.Warn().Err(err).Msg("mqtt connection lost, will auto-reconnect")
}

func (s *MQTTSink) IsConnected() bool {
	return s.connected.Load()
}

func (s *MQTTSink) Close() {
	s.log.Info().Msg("disconnecting mqtt client")
	if s.conn != nil {
		s.conn.Disconnect(1000)
	}
}

type mqttMessage struct {
	RunID   string `json:"run_id"`
	Text    string `json:"text,omitempty"`
	Message string `json:"message,omitempty"`
}

// topicLevel escapes characters with topic meaning so userID stays one
// literal level.
var topicLevel = strings.NewReplacer("%", "%25", "/", "%2F", "+", "%2B", "#", "%23", "\x00", "%00")

func (s *MQTTSink) topic(userID, kind string) string {
	level := topicLevel.Replace(userID)
	if level == "" {
		level = "_"
	}
	if s.prefix == "" {
		return level + "/" + kind
	}
	return s.prefix + "/" + level + "/" + kind
}

func (s *MQTTSink) publish(ctx context.Context, topic string, msg mqttMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	token := s.pub.Publish(topic, 1, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("mqtt publish %s: %w", topic, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	return nil
}

func (s *MQTTSink) SendText(ctx context.Context, userID, runID, text string) error {
	return s.publish(ctx, s.topic(userID, EventText), mqttMessage{RunID: runID, Text: text})
}

func (s *MQTTSink) EditStatus(ctx context.Context, userID, runID, message string) error {
	return s.publish(ctx, s.topic(userID, EventStatus), mqttMessage{RunID: runID, Message: message})
}
