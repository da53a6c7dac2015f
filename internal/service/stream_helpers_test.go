package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/noah-isme/civic-stream-api/internal/database"
	"github.com/noah-isme/civic-stream-api/internal/models"
	"github.com/noah-isme/civic-stream-api/internal/realtime"
	"github.com/noah-isme/civic-stream-api/internal/repository"
	"github.com/noah-isme/civic-stream-api/pkg/channel"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.ConnectSQLite(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func createStream(t *testing.T, db *gorm.DB, status string) models.Stream {
	t.Helper()
	stream := models.Stream{
		Title:       "Council meeting",
		Category:    models.StreamCategoryMeeting,
		Status:      status,
		IsPublic:    true,
		ScheduledAt: time.Now().UTC(),
	}
	require.NoError(t, db.Create(&stream).Error)
	return stream
}

type eventSink struct {
	mu     sync.Mutex
	events []channel.Event
}

func (s *eventSink) handle(event channel.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *eventSink) named(name string) []channel.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []channel.Event
	for _, event := range s.events {
		if event.Event == name {
			out = append(out, event)
		}
	}
	return out
}

func (s *eventSink) waitFor(t *testing.T, name string, n int) []channel.Event {
	t.Helper()
	require.Eventually(t, func() bool { return len(s.named(name)) >= n }, 2*time.Second, 5*time.Millisecond)
	return s.named(name)
}

func subscribe(t *testing.T, hub *realtime.Hub, topic string) *eventSink {
	t.Helper()
	sink := &eventSink{}
	sub, err := hub.Subscribe(topic, sink.handle)
	require.NoError(t, err)
	t.Cleanup(sub.Unsubscribe)
	return sink
}

type streamFixture struct {
	db        *gorm.DB
	hub       *realtime.Hub
	streams   repository.StreamRepository
	registry  StreamRegistry
	presence  PresenceService
	chat      ChatService
	reactions ReactionService
	lifecycle StreamService
}

func newStreamFixture(t *testing.T, opts ReactionOptions) *streamFixture {
	t.Helper()
	db := newTestDB(t)
	hub := realtime.NewHub(realtime.Options{BufferSize: 256}, testLogger())
	t.Cleanup(hub.Close)

	streams := repository.NewStreamRepository(db)
	registry := NewStreamRegistry(streams)
	validate := NewValidator()

	chat := NewChatService(registry, repository.NewChatRepository(db), hub, validate, 50, testLogger())
	reactions := NewReactionService(registry, repository.NewReactionRepository(db), hub, validate, opts, testLogger())
	presence := NewPresenceService(PresenceDependencies{
		Registry:  registry,
		Streams:   streams,
		Sessions:  repository.NewViewerSessionRepository(db),
		Messages:  chat,
		Reactions: reactions,
		Bus:       hub,
		Validator: validate,
	}, testLogger())

	return &streamFixture{
		db:        db,
		hub:       hub,
		streams:   streams,
		registry:  registry,
		presence:  presence,
		chat:      chat,
		reactions: reactions,
		lifecycle: NewStreamService(streams, presence, hub, validate, testLogger()),
	}
}

func (f *streamFixture) counters(t *testing.T, streamID uint) repository.StreamCounters {
	t.Helper()
	counters, err := f.streams.Counters(context.Background(), streamID)
	require.NoError(t, err)
	return counters
}
