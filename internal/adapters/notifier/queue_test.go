package notifier

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DanielPopoola/ficmart-pharmacy/internal/config"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

type QueueTestSuite struct {
	suite.Suite
	container testcontainers.Container
	conn      *amqp.Connection
	cfg       *config.RabbitMQConfig
	queue     *Queue
}

func TestQueueSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	suite.Run(t, new(QueueTestSuite))
}

func (s *QueueTestSuite) SetupSuite() {
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "rabbitmq:3.13-alpine",
			ExposedPorts: []string{"5672/tcp"},
			WaitingFor:   wait.ForLog("Server startup complete").WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	s.Require().NoError(err)
	s.container = container

	host, err := container.Host(ctx)
	s.Require().NoError(err)
	port, err := container.MappedPort(ctx, "5672")
	s.Require().NoError(err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.cfg = &config.RabbitMQConfig{
		URL:         "amqp://guest:guest@" + host + ":" + port.Port() + "/",
		Queue:       "notifications_test",
		Prefetch:    10,
		MaxAttempts: 3,
	}
	s.conn, err = Dial(s.cfg, logger)
	s.Require().NoError(err)

	s.queue, err = NewQueue(s.conn, s.cfg, logger)
	s.Require().NoError(err)
}

func (s *QueueTestSuite) TearDownSuite() {
	if s.queue != nil {
		_ = s.queue.Close()
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(context.Background())
	}
}

func (s *QueueTestSuite) SetupTest() {
	_, err := s.queue.ch.QueuePurge(s.queue.name, false)
	s.Require().NoError(err)
	_, err = s.queue.ch.QueuePurge(s.queue.dlq, false)
	s.Require().NoError(err)
}

func (s *QueueTestSuite) TestPublishFetchAck() {
	ctx := context.Background()
	s.Require().NoError(s.queue.Publish(ctx, testNotification()))

	items, err := s.queue.Fetch(ctx, 5)
	s.Require().NoError(err)
	s.Require().Len(items, 1)
	s.Equal(testNotification().OrderID, items[0].Message.Notification.OrderID)
	s.Equal(0, items[0].Message.FailedCount)
	s.NotEmpty(items[0].Message.ID)

	s.Require().NoError(s.queue.Ack(items[0].Tag))

	items, err = s.queue.Fetch(ctx, 5)
	s.Require().NoError(err)
	s.Empty(items)
}

func (s *QueueTestSuite) TestRequeueKeepsFailureCount() {
	ctx := context.Background()
	s.Require().NoError(s.queue.Publish(ctx, testNotification()))

	items, err := s.queue.Fetch(ctx, 1)
	s.Require().NoError(err)
	s.Require().Len(items, 1)

	d := items[0]
	d.Message.FailedCount++
	d.Message.LastError = "smtp timeout"
	s.Require().NoError(s.queue.Requeue(ctx, d))

	items, err = s.queue.Fetch(ctx, 1)
	s.Require().NoError(err)
	s.Require().Len(items, 1)
	s.Equal(1, items[0].Message.FailedCount)
	s.Equal("smtp timeout", items[0].Message.LastError)
	s.Require().NoError(s.queue.Ack(items[0].Tag))
}

func (s *QueueTestSuite) TestDeadLetterAndPoison() {
	ctx := context.Background()
	s.Require().NoError(s.queue.Publish(ctx, testNotification()))
	s.Require().NoError(s.queue.publishRaw(ctx, s.queue.name, []byte("not json")))

	items, err := s.queue.Fetch(ctx, 5)
	s.Require().NoError(err)
	s.Require().Len(items, 1)
	s.Require().NoError(s.queue.DeadLetter(ctx, items[0]))

	dlq, err := s.queue.ch.QueueDeclarePassive(s.queue.dlq, true, false, false, false, nil)
	s.Require().NoError(err)
	s.Equal(2, dlq.Messages)

	main, err := s.queue.ch.QueueDeclarePassive(s.queue.name, true, false, false, false, nil)
	s.Require().NoError(err)
	s.Equal(0, main.Messages)
}
