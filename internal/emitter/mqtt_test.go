package emitter

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"flashguard-go/internal/types"
)

type doneToken struct{}

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (doneToken) Error() error { return nil }

type published struct {
	topic    string
	retained bool
	payload  []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (f *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{topic: topic, retained: retained, payload: payload.([]byte)})
	return doneToken{}
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

func TestEmitterPublishes(t *testing.T) {
	pub := &fakePublisher{}
	e := NewMQTTEmitter("tcp://unused:1883", "test", "fg", nil)
	e.UseClient(pub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	e.Show()
	e.Transition(types.TransitionRecord{Key: "tab-1", Event: types.EventTrigger, Reason: types.ReasonHazard, TimestampMs: 5})
	e.Frame(types.FrameRecord{Key: "tab-1"})

	deadline := time.Now().Add(2 * time.Second)
	for pub.count() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("timed out, got %d messages", pub.count())
		}
		time.Sleep(time.Millisecond)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if pub.msgs[0].topic != "fg/overlay" || !pub.msgs[0].retained || string(pub.msgs[0].payload) != "true" {
		t.Fatalf("unexpected overlay message %+v", pub.msgs[0])
	}
	if pub.msgs[1].topic != "fg/sources/tab-1/transition" {
		t.Fatalf("unexpected topic %q", pub.msgs[1].topic)
	}
	var rec map[string]any
	if err := json.Unmarshal(pub.msgs[1].payload, &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec["event"] != "trigger" || rec["reason"] != "hazard" {
		t.Fatalf("unexpected payload %v", rec)
	}
	if got := e.Stats().Published["fg/overlay"]; got != 1 {
		t.Fatalf("expected overlay publish counted, got %d", got)
	}
}

func TestEmitterNotConnected(t *testing.T) {
	e := NewMQTTEmitter("tcp://unused:1883", "test", "", nil)
	e.publish(message{topic: "flashguard/overlay", payload: []byte("true")})
	if e.Stats().Errors != 1 {
		t.Fatalf("expected error counted without a client")
	}
}

func TestTopicLevelEscapesReservedCharacters(t *testing.T) {
	cases := map[string]string{
		"tab-1":  "tab-1",
		"a/b":    "a%2Fb",
		"live+#": "live%2B%23",
		"100%":   "100%25",
		"":       "_",
		"%2F":    "%252F",
	}
	for key, want := range cases {
		if got := topicLevel(key); got != want {
			t.Fatalf("topicLevel(%q) = %q, want %q", key, got, want)
		}
	}
}
