// Package events publishes auction lifecycle events to an MQTT broker.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/cloudx-io/dutchauction/receipts"
)

type Topic string

const (
	TCP = "tcp"

	topicPrefix = "dutchauction"

	KindSettled  = "settled"
	KindUpgraded = "upgraded"

	defaultTimeout = 5 * time.Second
)

// TopicFor is the per-auction topic of an event kind.
func TopicFor(auctionID, kind string) Topic {
	return Topic(fmt.Sprintf("%s/%s/%s", topicPrefix, auctionID, kind))
}

type Event struct {
	Kind      string            `json:"kind"`
	AuctionID string            `json:"auction_id"`
	Receipt   *receipts.Payload `json:"receipt,omitempty"`
	Version   uint64            `json:"version,omitempty"`
	Time      time.Time         `json:"time"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close()
}

// NopPublisher drops events. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close()                               {}

type MQTTOpts struct {
	Broker   string
	Port     uint64
	ClientID string
	UserName string
	Password string
	Timeout  time.Duration
}

// publishClient is the part of mqtt.Client the publisher needs.
type publishClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

type MQTTPublisher struct {
	client  publishClient
	timeout time.Duration
	log     *logrus.Entry
}

func ClientBrokerURL(broker string, port uint64) string {
	return fmt.Sprintf("%s://%s:%d", TCP, broker, port)
}

// NewMQTTPublisher connects to the broker and blocks until the connection
// succeeds or fails.
func NewMQTTPublisher(opts MQTTOpts) (*MQTTPublisher, error) {
	log := logrus.NewEntry(logrus.New()).WithFields(logrus.Fields{
		"package": "Events",
		"broker":  opts.Broker,
	})

	clientOptions := mqtt.NewClientOptions()
	clientOptions.AddBroker(ClientBrokerURL(opts.Broker, opts.Port))
	clientOptions.SetClientID(opts.ClientID)
	clientOptions.SetUsername(opts.UserName)
	clientOptions.SetPassword(opts.Password)
	clientOptions.OnConnect = func(mqtt.Client) {
		log.Info("MQTT client connected")
	}
	clientOptions.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.WithError(err).Warn("MQTT connection lost")
	}

	client := mqtt.NewClient(clientOptions)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to broker: %w", token.Error())
	}
	return newMQTTPublisher(client, opts.Timeout, log), nil
}

func newMQTTPublisher(client publishClient, timeout time.Duration, log *logrus.Entry) *MQTTPublisher {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if log == nil {
		log = logrus.NewEntry(logrus.New()).WithField("package", "Events")
	}
	return &MQTTPublisher{client: client, timeout: timeout, log: log}
}

func (p *MQTTPublisher) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	message, err := json.Marshal(e)
	if err != nil {
		return err
	}

	topic := TopicFor(e.AuctionID, e.Kind)
	token := p.client.Publish(string(topic), 0, false, message)
	if !token.WaitTimeout(p.timeout) {
		return errors.New("timeout sending to broker")
	}
	if token.Error() != nil {
		return token.Error()
	}
	p.log.WithField("topic", topic).Debug("event published")
	return nil
}

func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}
