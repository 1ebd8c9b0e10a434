package repository

import (
	"context"
	"encoding/json"
	"time"

	"iap-entitlement-api/internal/notify"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// notificationDocument stores the result as a JSON string so it reads back verbatim.
type notificationDocument struct {
	CallbackID  int       `bson:"callback_id"`
	Error       *string   `bson:"error"`
	Result      *string   `bson:"result"`
	DeliveredAt time.Time `bson:"delivered_at"`
}

func toDocument(n notify.Notification) notificationDocument {
	doc := notificationDocument{CallbackID: n.CallbackID, Error: n.Error, DeliveredAt: n.DeliveredAt}
	if n.Result != nil {
		s := string(n.Result)
		doc.Result = &s
	}
	if doc.DeliveredAt.IsZero() {
		doc.DeliveredAt = time.Now().UTC()
	}
	return doc
}

func (d notificationDocument) notification() notify.Notification {
	n := notify.Notification{CallbackID: d.CallbackID, Error: d.Error, DeliveredAt: d.DeliveredAt}
	if d.Result != nil {
		n.Result = json.RawMessage(*d.Result)
	}
	return n
}

// MongoDBNotificationRepository implements NotificationLogRepository for MongoDB.
type MongoDBNotificationRepository struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// NewMongoDBNotificationRepository connects and ensures the log indexes.
func NewMongoDBNotificationRepository(uri, dbName, collectionName string) (*MongoDBNotificationRepository, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(20).
		SetRetryWrites(true)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, err
	}

	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, err
	}

	collection := client.Database(dbName).Collection(collectionName)
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "callback_id", Value: 1}}},
		{Keys: bson.D{{Key: "delivered_at", Value: -1}}},
	}
	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		log.Warn().Str("component", "audit").Err(err).Msg("Failed to create notification indexes")
	}

	log.Info().Str("component", "audit").Str("database", dbName).Str("collection", collectionName).Msg("Connected to MongoDB")
	return &MongoDBNotificationRepository{
		client:     client,
		collection: collection,
	}, nil
}

// InsertNotification appends a delivered notification to the log.
func (r *MongoDBNotificationRepository) InsertNotification(ctx context.Context, n notify.Notification) error {
	_, err := r.collection.InsertOne(ctx, toDocument(n))
	return err
}

// GetNotifications retrieves notifications with pagination, newest first.
func (r *MongoDBNotificationRepository) GetNotifications(ctx context.Context, filter NotificationFilter) ([]notify.Notification, int64, error) {
	query := bson.M{}
	if filter.CallbackID != nil {
		query["callback_id"] = *filter.CallbackID
	}

	findOptions := options.Find()
	findOptions.SetSort(bson.D{{Key: "delivered_at", Value: -1}})
	findOptions.SetLimit(int64(filter.Limit))
	findOptions.SetSkip(int64(filter.Offset))

	cursor, err := r.collection.Find(ctx, query, findOptions)
	if err != nil {
		return nil, 0, err
	}
	defer cursor.Close(ctx)

	var docs []notificationDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, 0, err
	}

	// Ensure not nil slice for JSON
	out := make([]notify.Notification, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.notification())
	}

	count, err := r.collection.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, err
	}

	return out, count, nil
}

// Close closes the MongoDB connection.
func (r *MongoDBNotificationRepository) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.client.Disconnect(ctx)
}

var _ NotificationLogRepository = (*MongoDBNotificationRepository)(nil)
var _ notify.Recorder = (*MongoDBNotificationRepository)(nil)
