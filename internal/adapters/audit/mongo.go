package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/DanielPopoola/ficmart-pharmacy/internal/config"
	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/domain"
	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/ports"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const defaultCollection = "callback_log"

// CallbackLog is an append-only MongoDB collection of raw gateway callbacks.
type CallbackLog struct {
	client     *mongo.Client
	collection *mongo.Collection
}

var _ ports.CallbackLog = (*CallbackLog)(nil)

type callbackDocument struct {
	Method            string            `bson:"method"`
	ExternalReference string            `bson:"external_reference"`
	EventType         string            `bson:"event_type,omitempty"`
	RemoteAddr        string            `bson:"remote_addr"`
	Headers           map[string]string `bson:"headers"`
	Body              string            `bson:"body"`
	Result            string            `bson:"result"`
	ReceivedAt        time.Time         `bson:"received_at"`
}

// Connect opens the client, pings it and ensures the lookup index.
func Connect(ctx context.Context, cfg *config.MongoConfig, logger *slog.Logger) (*CallbackLog, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		logger.Error("failed to connect to mongo", "error", err)
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		logger.Error("failed to ping mongo", "error", err)
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	name := cfg.Collection
	if name == "" {
		name = defaultCollection
	}
	l := &CallbackLog{
		client:     client,
		collection: client.Database(cfg.Database).Collection(name),
	}

	_, err = l.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "method", Value: 1}, {Key: "external_reference", Value: 1}, {Key: "received_at", Value: -1}},
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("create callback_log index: %w", err)
	}

	logger.Info("connected to mongo", "database", cfg.Database, "collection", name)
	return l, nil
}

func (l *CallbackLog) Record(ctx context.Context, rec ports.CallbackRecord) error {
	doc := callbackDocument{
		Method:            string(rec.Method),
		ExternalReference: rec.ExternalReference,
		EventType:         rec.EventType,
		RemoteAddr:        rec.RemoteAddr,
		Headers:           rec.Headers,
		Body:              rec.Body,
		Result:            rec.Result,
		ReceivedAt:        rec.ReceivedAt.UTC(),
	}
	if doc.ReceivedAt.IsZero() {
		doc.ReceivedAt = time.Now().UTC()
	}
	if _, err := l.collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert callback record: %w", err)
	}
	return nil
}

// Find returns the newest callbacks for a gateway reference.
func (l *CallbackLog) Find(ctx context.Context, method domain.PaymentMethod, ref string, limit int64) ([]ports.CallbackRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	filter := bson.M{"method": string(method), "external_reference": ref}
	opts := options.Find().SetSort(bson.D{{Key: "received_at", Value: -1}}).SetLimit(limit)

	cursor, err := l.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find callback records: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []callbackDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode callback records: %w", err)
	}

	out := make([]ports.CallbackRecord, 0, len(docs))
	for _, d := range docs {
		out = append(out, ports.CallbackRecord{
			Method:            domain.PaymentMethod(d.Method),
			ExternalReference: d.ExternalReference,
			EventType:         d.EventType,
			RemoteAddr:        d.RemoteAddr,
			Headers:           d.Headers,
			Body:              d.Body,
			Result:            d.Result,
			ReceivedAt:        d.ReceivedAt,
		})
	}
	return out, nil
}

func (l *CallbackLog) Ping(ctx context.Context) error {
	return l.client.Ping(ctx, nil)
}

func (l *CallbackLog) Close(ctx context.Context) error {
	return l.client.Disconnect(ctx)
}
