package stream

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const sendBuffer = 64

var (
	ErrConnectionGone = errors.New("connection gone")
	ErrSlowConsumer   = errors.New("send buffer full")
)

// Hub owns the live viewer connections of this process and fans vehicle
// updates out to them. With a redis client, Broadcast goes through pub/sub so
// viewers connected to other instances receive it too.
type Hub struct {
	redis    *redis.Client
	registry *Registry
	logger   *zap.Logger

	mu      sync.RWMutex
	clients map[string]*Client

	ready  chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

type Client struct {
	ID   string
	Send chan []byte

	closeOnce sync.Once
}

func NewHub(redisClient *redis.Client, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		redis:    redisClient,
		registry: NewRegistry(logger),
		logger:   logger,
		clients:  map[string]*Client{},
		ready:    make(chan struct{}),
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	if redisClient != nil {
		go h.subscribeRedis(ctx)
	} else {
		close(h.done)
	}
	return h
}

func (h *Hub) Registry() *Registry {
	return h.registry
}

// Connections returns the number of live viewer connections.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Send queues payload for one connection without blocking.
func (h *Hub) Send(connID string, payload []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	client, ok := h.clients[connID]
	if !ok {
		return ErrConnectionGone
	}
	select {
	case client.Send <- payload:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// SendMessage encodes msg and queues it for one connection.
func (h *Hub) SendMessage(connID string, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return h.Send(connID, payload)
}

// Broadcast delivers payload to every viewer of vehicleID, across instances
// when redis is configured. Falls back to local delivery when the relay is
// not subscribed yet or publishing fails.
func (h *Hub) Broadcast(vehicleID string, payload []byte) {
	if h.redis != nil && h.relayReady() {
		err := h.redis.Publish(context.Background(), redisChannel(vehicleID), payload).Err()
		if err == nil {
			return
		}
		h.logger.Warn("redis publish failed, delivering locally",
			zap.String("vehicle_id", vehicleID), zap.Error(err))
	}
	h.deliver(vehicleID, payload)
}

// deliver pushes payload to each local recipient. One failed recipient never
// blocks the others.
func (h *Hub) deliver(vehicleID string, payload []byte) int {
	delivered := 0
	for _, connID := range h.registry.RecipientsFor(vehicleID) {
		if err := h.Send(connID, payload); err != nil {
			h.logger.Warn("dropping update for viewer",
				zap.String("conn_id", connID),
				zap.String("vehicle_id", vehicleID),
				zap.Error(err))
			continue
		}
		delivered++
	}
	return delivered
}

// Close stops the redis relay.
func (h *Hub) Close() {
	h.cancel()
	<-h.done
}

func (h *Hub) relayReady() bool {
	select {
	case <-h.ready:
		return true
	default:
		return false
	}
}

func (h *Hub) subscribeRedis(ctx context.Context) {
	defer close(h.done)

	pubsub := h.redis.PSubscribe(ctx, redisPattern)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		h.logger.Warn("redis relay unavailable, broadcasting locally only", zap.Error(err))
		return
	}
	close(h.ready)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			vehicleID := vehicleIDFromChannel(msg.Channel)
			if vehicleID == "" {
				continue
			}
			h.deliver(vehicleID, []byte(msg.Payload))
		}
	}
}

const redisPattern = "tracking:*:positions"

func redisChannel(vehicleID string) string {
	return "tracking:" + vehicleID + ":positions"
}

func vehicleIDFromChannel(ch string) string {
	// tracking:{vehicle}:positions
	const prefix = "tracking:"
	const suffix = ":positions"
	if len(ch) <= len(prefix)+len(suffix) {
		return ""
	}
	return ch[len(prefix) : len(ch)-len(suffix)]
}
