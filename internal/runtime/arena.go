package runtime

import (
	"sync"

	"github.com/drblury/rtpsbridge/engine"
)

// decodeContext binds one reader registration to its delivery function.
// mu is held for the duration of a delivery so release waits for it.
type decodeContext struct {
	topic    string
	typeName string
	deliver  func(sequence uint64, payload []byte)

	mu       sync.Mutex
	released bool
}

// arena owns every decode context handed to the engine. The engine only
// sees tokens; a token is valid until its release.
type arena struct {
	mu       sync.Mutex
	next     engine.Token
	contexts map[engine.Token]*decodeContext
}

func newArena() *arena {
	return &arena{contexts: make(map[engine.Token]*decodeContext)}
}

func (a *arena) add(dc *decodeContext) engine.Token {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.next++
	a.contexts[a.next] = dc
	return a.next
}

// decode delivers to the context behind token. It reports false when the
// token is unknown or already released.
func (a *arena) decode(token engine.Token, sequence uint64, payload []byte) bool {
	a.mu.Lock()
	dc, ok := a.contexts[token]
	a.mu.Unlock()
	if !ok {
		return false
	}

	dc.mu.Lock()
	defer dc.mu.Unlock()
	if dc.released {
		return false
	}
	dc.deliver(sequence, payload)
	return true
}

// release removes token and waits for an in-flight delivery. Only the
// first call for a token returns the context.
func (a *arena) release(token engine.Token) (*decodeContext, bool) {
	a.mu.Lock()
	dc, ok := a.contexts[token]
	delete(a.contexts, token)
	a.mu.Unlock()
	if !ok {
		return nil, false
	}

	dc.mu.Lock()
	dc.released = true
	dc.mu.Unlock()
	return dc, true
}

// drain releases every context still held, for engines that failed to.
func (a *arena) drain() []*decodeContext {
	a.mu.Lock()
	tokens := make([]engine.Token, 0, len(a.contexts))
	for token := range a.contexts {
		tokens = append(tokens, token)
	}
	a.mu.Unlock()

	var out []*decodeContext
	for _, token := range tokens {
		if dc, ok := a.release(token); ok {
			out = append(out, dc)
		}
	}
	return out
}

func (a *arena) size() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.contexts)
}
