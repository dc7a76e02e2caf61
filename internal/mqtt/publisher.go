package mqtt

import (
	"encoding/json"
	"sync"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/AaronLay10/linkstage/internal/anim"
	"github.com/AaronLay10/linkstage/internal/choreo"
)

// Sender publishes a message without blocking.
type Sender interface {
	Send(topic string, retained bool, payload []byte)
}

// ActorState is the wire form of one actor.
type ActorState struct {
	Actor   string     `json:"actor"`
	Label   string     `json:"label"`
	Pos     [3]float32 `json:"pos"`
	Opacity float32    `json:"opacity"`
	Color   string     `json:"color"`
	Tint    string     `json:"tint"`
}

// FrameMessage is published once per frame while actors are attached.
type FrameMessage struct {
	Seq       uint64       `json:"seq"`
	ElapsedMS int64        `json:"elapsed_ms"`
	Actors    []ActorState `json:"actors"`
}

// ScenePublisher mirrors the scene graph to an external renderer over MQTT.
// It implements stage.Scene and hooks into the frame loop via Frame.
type ScenePublisher struct {
	sender     Sender
	prefix     string
	background colorful.Color

	// Every publishes one frame in N; 0 or 1 publishes all frames.
	Every uint64

	mu     sync.Mutex
	actors []*anim.Object
}

// NewScenePublisher publishes under prefix/scene/...
func NewScenePublisher(s Sender, prefix string, background colorful.Color) *ScenePublisher {
	return &ScenePublisher{
		sender:     s,
		prefix:     prefix,
		background: background,
	}
}

func (p *ScenePublisher) topic(name string) string {
	return p.prefix + "/scene/" + name
}

func (p *ScenePublisher) state(o *anim.Object) ActorState {
	return ActorState{
		Actor:   o.Name,
		Label:   o.Label,
		Pos:     [3]float32{o.Position.X, o.Position.Y, o.Position.Z},
		Opacity: o.Opacity,
		Color:   o.Color.Hex(),
		Tint:    o.Tint(p.background).Hex(),
	}
}

// Attach announces obj and includes it in subsequent frames.
func (p *ScenePublisher) Attach(obj *anim.Object) {
	p.mu.Lock()
	p.actors = append(p.actors, obj)
	p.mu.Unlock()

	b, _ := json.Marshal(p.state(obj))
	p.sender.Send(p.topic("attach"), false, b)
}

// Detach announces removal of obj.
func (p *ScenePublisher) Detach(obj *anim.Object) {
	p.mu.Lock()
	for i, o := range p.actors {
		if o == obj {
			p.actors = append(p.actors[:i], p.actors[i+1:]...)
			break
		}
	}
	p.mu.Unlock()

	b, _ := json.Marshal(map[string]string{"actor": obj.Name})
	p.sender.Send(p.topic("detach"), false, b)
}

// Frame publishes the state of every attached actor. Register it with
// choreo.Loop.OnFrame; it reads actor state and must run on the loop goroutine.
func (p *ScenePublisher) Frame(f choreo.Frame) {
	if p.Every > 1 && f.Seq%p.Every != 0 {
		return
	}

	p.mu.Lock()
	if len(p.actors) == 0 {
		p.mu.Unlock()
		return
	}
	msg := FrameMessage{
		Seq:       f.Seq,
		ElapsedMS: f.Elapsed.Milliseconds(),
		Actors:    make([]ActorState, len(p.actors)),
	}
	for i, o := range p.actors {
		msg.Actors[i] = p.state(o)
	}
	p.mu.Unlock()

	b, _ := json.Marshal(msg)
	p.sender.Send(p.topic("frame"), false, b)
}

// Attached returns the number of mirrored actors.
func (p *ScenePublisher) Attached() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.actors)
}
