//go:build integration

package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"fairfin/pkg/testutil/containers"
)

// fakeProducer captures records instead of talking to a broker.
type fakeProducer struct {
	records []*kgo.Record
	err     error
}

func (p *fakeProducer) ProduceSync(_ context.Context, records ...*kgo.Record) kgo.ProduceResults {
	if p.err != nil {
		return kgo.ProduceResults{{Err: p.err}}
	}
	p.records = append(p.records, records...)
	return nil
}

type RelaySuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	pool     *pgxpool.Pool
	producer *fakeProducer
	relay    *Relay
}

func TestRelaySuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RelaySuite))
}

func (s *RelaySuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())

	pool, err := pgxpool.New(context.Background(), s.postgres.DSN)
	s.Require().NoError(err)
	s.pool = pool
}

func (s *RelaySuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *RelaySuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "outbox"))
	s.producer = &fakeProducer{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.relay = New(s.pool, s.producer, "fairfin.audit", logger, WithBatchSize(10))
}

func (s *RelaySuite) insertEvent(action string, at time.Time) uuid.UUID {
	id := uuid.New()
	payload, err := json.Marshal(map[string]string{"id": id.String(), "action": action})
	s.Require().NoError(err)
	_, err = s.postgres.DB.ExecContext(context.Background(),
		"INSERT INTO outbox (id, event_type, payload, created_at) VALUES ($1, $2, $3, $4)",
		id, action, payload, at,
	)
	s.Require().NoError(err)
	return id
}

func (s *RelaySuite) outboxCount() int {
	var count int
	s.Require().NoError(s.postgres.DB.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM outbox").Scan(&count))
	return count
}

func (s *RelaySuite) TestPublishesAndDeletesInOrder() {
	now := time.Now().UTC()
	s.insertEvent("loan submitted", now)
	s.insertEvent("loan auto-decided", now.Add(time.Second))

	s.Require().NoError(s.relay.publishBatch(context.Background()))

	s.Require().Len(s.producer.records, 2)
	s.Equal("fairfin.audit", s.producer.records[0].Topic)
	s.Equal([]byte("loan submitted"), s.producer.records[0].Key)
	s.Equal([]byte("loan auto-decided"), s.producer.records[1].Key)
	s.Equal(0, s.outboxCount())
}

func (s *RelaySuite) TestEmptyOutboxIsQuiet() {
	s.Require().NoError(s.relay.publishBatch(context.Background()))
	s.Empty(s.producer.records)
}

func (s *RelaySuite) TestRowsSurviveBrokerOutage() {
	s.insertEvent("loan submitted", time.Now().UTC())
	s.producer.err = errors.New("broker unreachable")

	err := s.relay.publishBatch(context.Background())
	s.Require().Error(err)
	// The claim rolled back; the row waits for the next tick.
	s.Equal(1, s.outboxCount())

	s.producer.err = nil
	s.Require().NoError(s.relay.publishBatch(context.Background()))
	s.Equal(0, s.outboxCount())
	s.Len(s.producer.records, 1)
}

func (s *RelaySuite) TestBatchSizeRespected() {
	now := time.Now().UTC()
	for i := 0; i < 15; i++ {
		s.insertEvent("loan submitted", now.Add(time.Duration(i)*time.Millisecond))
	}

	s.Require().NoError(s.relay.publishBatch(context.Background()))
	s.Len(s.producer.records, 10)
	s.Equal(5, s.outboxCount())
}
