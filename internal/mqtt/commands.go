package mqtt

import (
	"encoding/json"
	"fmt"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/AaronLay10/linkstage/internal/choreo"
	"github.com/AaronLay10/linkstage/internal/events"
)

// Enqueuer accepts chain requests.
type Enqueuer interface {
	Enqueue(req choreo.Request)
}

// TopicSubscriber is the subscribe half of Client.
type TopicSubscriber interface {
	Subscribe(topic string, handler paho.MessageHandler) error
}

// InsertCommand is the payload of prefix/cmd/insert. A missing index appends.
type InsertCommand struct {
	Label string `json:"label"`
	Index *int   `json:"index,omitempty"`
}

// CommandSubscriber turns remote MQTT commands into pipeline requests.
type CommandSubscriber struct {
	sub    TopicSubscriber
	prefix string
	queue  Enqueuer
}

func NewCommandSubscriber(sub TopicSubscriber, prefix string, queue Enqueuer) *CommandSubscriber {
	return &CommandSubscriber{sub: sub, prefix: prefix, queue: queue}
}

// InsertTopic returns the topic insert commands arrive on.
func (s *CommandSubscriber) InsertTopic() string { return s.prefix + "/cmd/insert" }

// RemoveTopic returns the topic remove commands arrive on.
func (s *CommandSubscriber) RemoveTopic() string { return s.prefix + "/cmd/remove" }

// SubscribeAll subscribes to both command topics. Call it again after a
// reconnect; re-subscribing replaces the handler.
func (s *CommandSubscriber) SubscribeAll() error {
	if err := s.sub.Subscribe(s.InsertTopic(), s.onInsert); err != nil {
		return fmt.Errorf("subscribe %s: %w", s.InsertTopic(), err)
	}
	if err := s.sub.Subscribe(s.RemoveTopic(), s.onRemove); err != nil {
		return fmt.Errorf("subscribe %s: %w", s.RemoveTopic(), err)
	}
	return nil
}

func (s *CommandSubscriber) onInsert(_ paho.Client, msg paho.Message) {
	if err := s.HandleInsert(msg.Payload()); err != nil {
		events.Emit("error", "transport.error", "bad insert command", map[string]interface{}{
			"topic": msg.Topic(),
			"error": err.Error(),
		})
	}
}

func (s *CommandSubscriber) onRemove(_ paho.Client, _ paho.Message) {
	s.HandleRemove()
}

// HandleInsert enqueues an insertion. An empty payload appends with the
// default label.
func (s *CommandSubscriber) HandleInsert(payload []byte) error {
	var cmd InsertCommand
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &cmd); err != nil {
			return fmt.Errorf("invalid insert JSON: %w", err)
		}
	}
	req := choreo.Request{Op: choreo.OpInsert, Index: -1, Label: cmd.Label}
	if cmd.Index != nil {
		if *cmd.Index < 0 {
			return fmt.Errorf("negative index %d", *cmd.Index)
		}
		req.Index = *cmd.Index
	}
	s.queue.Enqueue(req)
	return nil
}

// HandleRemove enqueues removal of the tail node.
func (s *CommandSubscriber) HandleRemove() {
	s.queue.Enqueue(choreo.Request{Op: choreo.OpRemove, Index: -1})
}
