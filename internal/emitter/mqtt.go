package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"flashguard-go/internal/types"
)

// Publisher is the subset of mqtt.Client the emitter uses.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

type message struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// MQTTEmitter publishes transitions, warnings and the overlay state. Calls
// only enqueue; a worker started by Run does the publishing.
type MQTTEmitter struct {
	broker   string
	clientID string
	topic    string
	log      *slog.Logger

	client Publisher
	queue  chan message

	mu        sync.RWMutex
	published map[string]uint64
	dropped   uint64
	errors    uint64
	connected bool
}

type Stats struct {
	Connected bool              `json:"connected"`
	Published map[string]uint64 `json:"published"`
	Dropped   uint64            `json:"dropped"`
	Errors    uint64            `json:"errors"`
}

func NewMQTTEmitter(broker, clientID, topic string, log *slog.Logger) *MQTTEmitter {
	if log == nil {
		log = slog.Default()
	}
	if topic == "" {
		topic = "flashguard"
	}
	return &MQTTEmitter{
		broker:    broker,
		clientID:  clientID,
		topic:     topic,
		log:       log,
		queue:     make(chan message, 256),
		published: make(map[string]uint64),
	}
}

// Connect dials the broker with auto reconnect enabled.
func (e *MQTTEmitter) Connect() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(e.broker)
	opts.SetClientID(e.clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetWill(e.topic+"/online", "false", 1, true)

	opts.OnConnect = func(c mqtt.Client) {
		e.setConnected(true)
		c.Publish(e.topic+"/online", 1, true, "true")
		e.log.Info("mqtt connection established", "broker", e.broker, "client_id", e.clientID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.setConnected(false)
		e.log.Warn("mqtt connection lost, will auto-reconnect", "err", err, "broker", e.broker)
	}

	client := mqtt.NewClient(opts)
	e.log.Info("connecting to mqtt broker", "broker", e.broker)
	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	e.client = client
	e.setConnected(true)
	return nil
}

// UseClient installs an already connected publisher.
func (e *MQTTEmitter) UseClient(p Publisher) {
	e.client = p
	e.setConnected(true)
}

// Run publishes queued messages until ctx is done, then flushes what is
// left in the queue.
func (e *MQTTEmitter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case m := <-e.queue:
					e.publish(m)
				default:
					return
				}
			}
		case m := <-e.queue:
			e.publish(m)
		}
	}
}

func (e *MQTTEmitter) Disconnect() {
	if c, ok := e.client.(mqtt.Client); ok && c.IsConnected() {
		c.Publish(e.topic+"/online", 1, true, "false").WaitTimeout(time.Second)
		c.Disconnect(250)
		e.log.Info("mqtt disconnected")
	}
	e.setConnected(false)
}

func (e *MQTTEmitter) Frame(types.FrameRecord) {}

func (e *MQTTEmitter) Transition(rec types.TransitionRecord) {
	e.enqueueJSON(fmt.Sprintf("%s/sources/%s/transition", e.topic, topicLevel(rec.Key)), 1, false, rec)
}

// Source keys are external; escape the characters MQTT reserves in topic
// names so a key always maps to exactly one level.
var topicEscaper = strings.NewReplacer("%", "%25", "/", "%2F", "+", "%2B", "#", "%23", "\x00", "%00")

func topicLevel(key string) string {
	if key == "" {
		return "_"
	}
	return topicEscaper.Replace(key)
}

func (e *MQTTEmitter) Warn(msg string, err error) {
	payload := map[string]string{"message": msg}
	if err != nil {
		payload["error"] = err.Error()
	}
	e.enqueueJSON(e.topic+"/warnings", 0, false, payload)
}

func (e *MQTTEmitter) Show() { e.enqueue(message{topic: e.topic + "/overlay", qos: 1, retained: true, payload: []byte("true")}) }
func (e *MQTTEmitter) Hide() { e.enqueue(message{topic: e.topic + "/overlay", qos: 1, retained: true, payload: []byte("false")}) }

func (e *MQTTEmitter) SetAppearance(a types.Appearance) {
	e.enqueueJSON(e.topic+"/appearance", 1, true, a)
}

func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}
	return Stats{
		Connected: e.connected,
		Published: published,
		Dropped:   e.dropped,
		Errors:    e.errors,
	}
}

func (e *MQTTEmitter) enqueueJSON(topic string, qos byte, retained bool, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		e.countError()
		return
	}
	e.enqueue(message{topic: topic, qos: qos, retained: retained, payload: payload})
}

func (e *MQTTEmitter) enqueue(m message) {
	select {
	case e.queue <- m:
	default:
		e.mu.Lock()
		e.dropped++
		e.mu.Unlock()
	}
}

func (e *MQTTEmitter) publish(m message) {
	if e.client == nil || !e.isConnected() {
		e.countError()
		return
	}
	token := e.client.Publish(m.topic, m.qos, m.retained, m.payload)
	if !token.WaitTimeout(2 * time.Second) {
		e.countError()
		e.log.Warn("mqtt publish timeout", "topic", m.topic)
		return
	}
	if err := token.Error(); err != nil {
		e.countError()
		e.log.Warn("mqtt publish failed", "topic", m.topic, "err", err)
		return
	}
	e.mu.Lock()
	e.published[m.topic]++
	e.mu.Unlock()
	e.log.Debug("mqtt published", "topic", m.topic, "size", len(m.payload))
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}

func (e *MQTTEmitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}
