package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"mandalaquest/internal/events"
)

// Message is one server-sent event.
type Message struct {
	Event string
	Data  string
}

type Broadcaster struct {
	Mu      sync.Mutex
	Clients map[chan Message]bool
	Logger  *slog.Logger
}

// NewBroadcaster relays bus events to subscribers until ctx is done.
func NewBroadcaster(ctx context.Context, bus *events.Bus) *Broadcaster {
	b := &Broadcaster{
		Clients: make(map[chan Message]bool),
		Logger:  slog.Default(),
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-bus.PhaseChanges:
				b.BroadcastJSON("phase", ev)
			case ev := <-bus.Completions:
				b.BroadcastJSON("complete", ev)
			}
		}
	}()
	return b
}

func (b *Broadcaster) Subscribe() chan Message {
	ch := make(chan Message, 10)
	b.Mu.Lock()
	b.Clients[ch] = true
	b.Mu.Unlock()
	return ch
}

func (b *Broadcaster) Unsubscribe(ch chan Message) {
	b.Mu.Lock()
	delete(b.Clients, ch)
	b.Mu.Unlock()
	close(ch)
}

func (b *Broadcaster) Broadcast(event string, data string) {
	b.Mu.Lock()
	defer b.Mu.Unlock()
	for ch := range b.Clients {
		select {
		case ch <- Message{Event: event, Data: data}:
		default:
			// skip clients with full data channels
		}
	}
}

func (b *Broadcaster) BroadcastJSON(event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		b.Logger.Error("marshal broadcast", "event", event, "error", err)
		return
	}
	b.Broadcast(event, string(data))
}
