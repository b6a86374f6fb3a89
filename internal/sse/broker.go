package sse

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	redisclient "github.com/smeportal/onboarding-server/internal/redis"
)

const (
	HeartbeatInterval = 30 * time.Second
	clientBufferSize  = 16
)

type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Client is one open event stream for a browser client.
type Client struct {
	Key    string
	Events chan Event
	Done   chan struct{}
}

// Broker fans session events out to open streams. With a Redis client the
// events travel through pub/sub so any instance can reach the stream;
// without one they are delivered in process.
type Broker struct {
	redis   *redisclient.Client
	clients map[string]map[*Client]bool // client key -> open streams
	subs    map[string]context.CancelFunc
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewBroker(redisClient *redisclient.Client) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		redis:   redisClient,
		clients: make(map[string]map[*Client]bool),
		subs:    make(map[string]context.CancelFunc),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (b *Broker) Subscribe(key string) *Client {
	client := &Client{
		Key:    key,
		Events: make(chan Event, clientBufferSize),
		Done:   make(chan struct{}),
	}

	b.mu.Lock()
	if b.clients[key] == nil {
		b.clients[key] = make(map[*Client]bool)
		if b.redis != nil {
			subCtx, cancel := context.WithCancel(b.ctx)
			b.subs[key] = cancel
			go b.subscribeToRedis(subCtx, key)
		}
	}
	b.clients[key][client] = true
	clientCount := len(b.clients[key])
	b.mu.Unlock()

	log.Debug().
		Int("clientCount", clientCount).
		Msg("sse client subscribed")

	return client
}

func (b *Broker) Unsubscribe(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	clients, ok := b.clients[client.Key]
	if !ok || !clients[client] {
		return
	}
	delete(clients, client)
	close(client.Done)

	if len(clients) == 0 {
		delete(b.clients, client.Key)
		if cancel, ok := b.subs[client.Key]; ok {
			cancel()
			delete(b.subs, client.Key)
		}
	}

	log.Debug().
		Int("clientCount", len(clients)).
		Msg("sse client unsubscribed")
}

// Publish sends an event to every stream open for key.
func (b *Broker) Publish(ctx context.Context, key string, event Event) error {
	if b.redis == nil {
		b.broadcast(key, event)
		return nil
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.redis.Publish(ctx, redisclient.SessionEventsChannel(key), data).Err()
}

func (b *Broker) subscribeToRedis(ctx context.Context, key string) {
	channel := redisclient.SessionEventsChannel(key)
	pubsub := b.redis.Subscribe(ctx, channel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Error().Err(err).Msg("failed to unmarshal event")
				continue
			}

			b.broadcast(key, event)
		}
	}
}

func (b *Broker) broadcast(key string, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for client := range b.clients[key] {
		select {
		case client.Events <- event:
		default:
			log.Warn().
				Str("eventType", event.Type).
				Msg("client event buffer full, dropping event")
		}
	}
}

func (b *Broker) Close() {
	b.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, clients := range b.clients {
		for client := range clients {
			close(client.Done)
		}
	}
	b.clients = make(map[string]map[*Client]bool)
	b.subs = make(map[string]context.CancelFunc)
}

func (b *Broker) ClientCount(key string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients[key])
}

func (b *Broker) TotalClients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0
	for _, clients := range b.clients {
		total += len(clients)
	}
	return total
}
