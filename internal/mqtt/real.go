package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/atriantas/enlarger-server/internal/exposure"
	"github.com/atriantas/enlarger-server/internal/heating"
)

// bufferCapacity bounds how many messages are held while disconnected.
const bufferCapacity = 64

// RealPublisher publishes to an actual MQTT broker. Messages published
// while disconnected are buffered and replayed once the connection
// comes back.
type RealPublisher struct {
	client paho.Client

	mu     sync.Mutex
	buffer *ringBuffer
}

// NewRealPublisher creates a publisher connected to the given broker.
func NewRealPublisher(broker, clientID, username, password string) (*RealPublisher, error) {
	p := &RealPublisher{buffer: newRingBuffer(bufferCapacity)}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetUsername(username).
		SetPassword(password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(p.onConnect)

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return p, nil
}

// PublishExposure sends an exposure lifecycle event. QoS 0: telemetry,
// not control.
func (p *RealPublisher) PublishExposure(event exposure.Event) error {
	payload, err := FormatExposurePayload(event, time.Now())
	if err != nil {
		return fmt.Errorf("format exposure payload: %w", err)
	}
	return p.publish(TopicExposure, payload, 0, false)
}

// PublishHeating sends a heating transition or sensor fault.
func (p *RealPublisher) PublishHeating(event heating.Event) error {
	payload, err := FormatHeatingPayload(event, time.Now())
	if err != nil {
		return fmt.Errorf("format heating payload: %w", err)
	}
	return p.publish(TopicHeating, payload, 0, false)
}

// PublishSystem sends a daemon lifecycle event. QoS 1 — startup and
// shutdown must arrive.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.publish(TopicSystem, payload, 1, event.Retained)
}

// publish sends now when connected, otherwise buffers for replay.
func (p *RealPublisher) publish(topic string, payload []byte, qos byte, retained bool) error {
	if !p.client.IsConnected() {
		p.mu.Lock()
		p.buffer.push(bufferedMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		p.mu.Unlock()
		return nil
	}

	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// onConnect replays everything buffered while disconnected.
func (p *RealPublisher) onConnect(client paho.Client) {
	p.mu.Lock()
	msgs := p.buffer.drainAll()
	p.mu.Unlock()

	for _, msg := range msgs {
		client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	}
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnected()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // milliseconds
	return nil
}
