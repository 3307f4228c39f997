package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu      sync.Mutex
	batches [][]Event
	err     error
}

func (s *recordingSink) Write(_ context.Context, events []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, append([]Event(nil), events...))
	return nil
}

func (s *recordingSink) writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func (s *recordingSink) events() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func tenantEvent() Event {
	id := uuid.New()
	return Event{TenantID: &id, Action: ActionTenantCreated, ResourceType: ResourceTenant, ResourceID: &id, Source: "test"}
}

func TestAsyncLogger_FlushesOnInterval(t *testing.T) {
	sink := &recordingSink{}
	logger := NewAsyncLogger(sink, LoggerConfig{BufferSize: 100, BatchSize: 10, FlushInterval: 50 * time.Millisecond})

	logger.Log(context.Background(), tenantEvent())

	assert.Eventually(t, func() bool { return sink.writes() >= 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, logger.Close())
}

func TestAsyncLogger_FlushesOnBatchSize(t *testing.T) {
	sink := &recordingSink{}
	logger := NewAsyncLogger(sink, LoggerConfig{BufferSize: 100, BatchSize: 3, FlushInterval: 10 * time.Second})

	for range 3 {
		logger.Log(context.Background(), tenantEvent())
	}

	assert.Eventually(t, func() bool { return sink.writes() >= 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, logger.Close())
	assert.Equal(t, 3, sink.events())
}

func TestAsyncLogger_CloseFlushesPending(t *testing.T) {
	sink := &recordingSink{}
	logger := NewAsyncLogger(sink, LoggerConfig{BufferSize: 100, BatchSize: 100, FlushInterval: 10 * time.Second})

	logger.Log(context.Background(), Event{Action: ActionPlanCreated, ResourceType: ResourcePlan})
	logger.Log(context.Background(), tenantEvent())

	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close())
	assert.Equal(t, 2, sink.events())
}

func TestAsyncLogger_DropsWhenBufferFull(t *testing.T) {
	sink := &recordingSink{}
	logger := NewAsyncLogger(sink, LoggerConfig{BufferSize: 2, BatchSize: 100, FlushInterval: 10 * time.Second})

	for range 50 {
		logger.Log(context.Background(), tenantEvent())
	}

	require.NoError(t, logger.Close())
	assert.Equal(t, int64(50), logger.Dropped()+int64(sink.events()))
}

func TestAsyncLogger_CountsSinkFailures(t *testing.T) {
	sink := &recordingSink{err: errors.New("connection refused")}
	logger := NewAsyncLogger(sink, LoggerConfig{BufferSize: 10, BatchSize: 10, FlushInterval: 10 * time.Second})

	logger.Log(context.Background(), tenantEvent())
	logger.Log(context.Background(), tenantEvent())

	require.NoError(t, logger.Close())
	assert.Equal(t, int64(2), logger.Failed())
	assert.Zero(t, sink.writes())
}

type execCounter struct {
	mu   sync.Mutex
	args int
}

func (m *execCounter) Exec(_ context.Context, _ string, args ...any) (pgconn.CommandTag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.args += len(args)
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (m *execCounter) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (m *execCounter) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }

func TestPostgresSink_InsertsBatch(t *testing.T) {
	db := &execCounter{}
	sink := PostgresSink(db, NewStore())

	require.NoError(t, sink.Write(context.Background(), []Event{tenantEvent(), tenantEvent()}))
	assert.Equal(t, 14, db.args)
}
