package rews

import (
	"sync"

	"github.com/rewsgo/rews/pkg/transport"
)

type (
	CloseEvent = transport.CloseEvent
	Message    = transport.Message
)

// Listeners are the caller's callbacks. Nil fields are skipped.
//
// Callbacks run on the session's serial context: never concurrently with
// each other or with the session's own state changes. They may call any
// Session method; such calls take effect after the callback returns.
type Listeners struct {
	OnOpen    func()
	OnMessage func(Message)
	OnClose   func(CloseEvent)
	OnError   func(error)
}

type listenerSet struct {
	mu sync.RWMutex
	l  Listeners
}

func (ls *listenerSet) get() Listeners {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	return ls.l
}

func (ls *listenerSet) update(fn func(*Listeners)) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	fn(&ls.l)
}

func (ls *listenerSet) open() {
	if fn := ls.get().OnOpen; fn != nil {
		fn()
	}
}

func (ls *listenerSet) message(m Message) {
	if fn := ls.get().OnMessage; fn != nil {
		fn(m)
	}
}

func (ls *listenerSet) close(e CloseEvent) {
	if fn := ls.get().OnClose; fn != nil {
		fn(e)
	}
}

func (ls *listenerSet) error(err error) {
	if fn := ls.get().OnError; fn != nil {
		fn(err)
	}
}
