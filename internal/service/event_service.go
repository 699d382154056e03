package service

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/civicfix/civicfix-api/internal/models"
)

type eventSubscriber interface {
	Publish(ctx context.Context, event models.ReportEvent) error
	Subscribe(ctx context.Context) *redis.PubSub
}

// EventService fans report change events out to connected dashboard
// clients. Events arrive over Redis pub/sub so every instance sees changes
// made through any other instance.
type EventService struct {
	repo    eventSubscriber
	metrics *MetricsService
	logger  *zap.Logger
	buffer  int

	mu      sync.Mutex
	clients map[chan models.ReportEvent]struct{}
	stop    context.CancelFunc
}

// NewEventService constructs an EventService.
func NewEventService(repo eventSubscriber, metrics *MetricsService, buffer int, logger *zap.Logger) *EventService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = 16
	}
	return &EventService{
		repo:    repo,
		metrics: metrics,
		logger:  logger,
		buffer:  buffer,
		clients: make(map[chan models.ReportEvent]struct{}),
	}
}

// Publish forwards an event to the shared channel.
func (s *EventService) Publish(ctx context.Context, event models.ReportEvent) error {
	return s.repo.Publish(ctx, event)
}

// Start begins consuming the shared event channel until the context ends.
func (s *EventService) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.stop = cancel
	s.mu.Unlock()

	go s.consume(runCtx)
}

// Stop terminates the consumer and closes all client channels.
func (s *EventService) Stop() {
	s.mu.Lock()
	if s.stop != nil {
		s.stop()
		s.stop = nil
	}
	for client := range s.clients {
		close(client)
		delete(s.clients, client)
	}
	s.mu.Unlock()
}

// Register attaches a new dashboard client and returns its event channel
// together with a detach function.
func (s *EventService) Register() (<-chan models.ReportEvent, func()) {
	client := make(chan models.ReportEvent, s.buffer)
	s.mu.Lock()
	s.clients[client] = struct{}{}
	s.mu.Unlock()
	s.metrics.StreamClientConnected(1)

	once := sync.Once{}
	detach := func() {
		once.Do(func() {
			s.mu.Lock()
			if _, ok := s.clients[client]; ok {
				delete(s.clients, client)
				close(client)
			}
			s.mu.Unlock()
			s.metrics.StreamClientConnected(-1)
		})
	}
	return client, detach
}

func (s *EventService) consume(ctx context.Context) {
	sub := s.repo.Subscribe(ctx)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var event models.ReportEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				s.logger.Warn("malformed report event", zap.Error(err))
				continue
			}
			s.broadcast(event)
		}
	}
}

func (s *EventService) broadcast(event models.ReportEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for client := range s.clients {
		select {
		case client <- event:
		default:
			// slow client, drop the event rather than block the stream
		}
	}
}
