package stage

import (
	"sync"

	"github.com/AaronLay10/linkstage/internal/anim"
)

// Scene is the renderable scene graph the chain attaches actors to.
type Scene interface {
	Attach(obj *anim.Object)
	Detach(obj *anim.Object)
}

// MemoryScene keeps attached objects in attach order.
type MemoryScene struct {
	mu      sync.RWMutex
	objects []*anim.Object
}

func NewMemoryScene() *MemoryScene {
	return &MemoryScene{}
}

func (s *MemoryScene) Attach(obj *anim.Object) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.objects {
		if o == obj {
			return
		}
	}
	s.objects = append(s.objects, obj)
}

func (s *MemoryScene) Detach(obj *anim.Object) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, o := range s.objects {
		if o == obj {
			s.objects = append(s.objects[:i], s.objects[i+1:]...)
			return
		}
	}
}

// Objects returns the attached objects. The objects themselves are live and
// belong to the loop goroutine.
func (s *MemoryScene) Objects() []*anim.Object {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*anim.Object(nil), s.objects...)
}

// Find returns the attached object with the given name.
func (s *MemoryScene) Find(name string) (*anim.Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.objects {
		if o.Name == name {
			return o, true
		}
	}
	return nil, false
}

// Len returns the number of attached objects.
func (s *MemoryScene) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// MultiScene fans attach and detach out to several scenes in order.
type MultiScene []Scene

func (m MultiScene) Attach(obj *anim.Object) {
	for _, s := range m {
		s.Attach(obj)
	}
}

func (m MultiScene) Detach(obj *anim.Object) {
	for _, s := range m {
		s.Detach(obj)
	}
}
