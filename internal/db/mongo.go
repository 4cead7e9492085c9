package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/wuwenbin0122/roomchat/internal/models"
	"github.com/wuwenbin0122/roomchat/internal/utils"
)

type Mongo struct {
	Client   *mongo.Client
	Database *mongo.Database
	Turns    *mongo.Collection
}

type mongoTurn struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	SessionID string             `bson:"session_id"`
	Role      string             `bson:"role"`
	Content   string             `bson:"content"`
	CreatedAt time.Time          `bson:"created_at"`
}

func NewMongo(ctx context.Context, cfg utils.MongoConfig) (*Mongo, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("mongo: uri is required")
	}

	clientOpts := options.Client().ApplyURI(cfg.URI)
	if cfg.ConnectTimeout > 0 {
		clientOpts.SetServerSelectionTimeout(cfg.ConnectTimeout)
	}

	ctx, cancel := context.WithTimeout(ctx, timeoutOrDefault(cfg.ConnectTimeout))
	defer cancel()

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("mongo: connect: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo: ping: %w", err)
	}

	collection := cfg.Collection
	if collection == "" {
		collection = "chat_turns"
	}

	db := client.Database(cfg.Database)
	return &Mongo{
		Client:   client,
		Database: db,
		Turns:    db.Collection(collection),
	}, nil
}

func (m *Mongo) Close(ctx context.Context) error {
	if m == nil || m.Client == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return m.Client.Disconnect(ctx)
}

func (m *Mongo) Ping(ctx context.Context) error {
	if m == nil || m.Client == nil {
		return fmt.Errorf("mongo: client not initialised")
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return m.Client.Ping(ctx, readpref.Primary())
}

func (m *Mongo) EnsureCollections(ctx context.Context) error {
	if m == nil || m.Database == nil {
		return fmt.Errorf("mongo: database not initialised")
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := m.Turns.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "created_at", Value: 1}, {Key: "_id", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("mongo: ensure turn index: %w", err)
	}

	return nil
}

func (m *Mongo) Append(ctx context.Context, sessionID string, role models.Role, content string) (models.Turn, error) {
	if err := validateAppend(sessionID, role); err != nil {
		return models.Turn{}, err
	}

	// BSON dates carry millisecond precision; truncate so the returned turn
	// matches what a later read yields.
	doc := mongoTurn{
		ID:        primitive.NewObjectID(),
		SessionID: sessionID,
		Role:      string(role),
		Content:   content,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}

	if _, err := m.Turns.InsertOne(ctx, doc); err != nil {
		return models.Turn{}, persistenceError("mongo insert turn", err)
	}

	return doc.toTurn(), nil
}

func (m *Mongo) ListTurns(ctx context.Context, sessionID string) ([]models.Turn, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})

	cursor, err := m.Turns.Find(ctx, bson.M{"session_id": sessionID}, opts)
	if err != nil {
		return nil, persistenceError("mongo find turns", err)
	}
	defer cursor.Close(ctx)

	turns := make([]models.Turn, 0)
	for cursor.Next(ctx) {
		var doc mongoTurn
		if err := cursor.Decode(&doc); err != nil {
			return nil, persistenceError("mongo decode turn", err)
		}
		turns = append(turns, doc.toTurn())
	}
	if err := cursor.Err(); err != nil {
		return nil, persistenceError("mongo iterate turns", err)
	}

	return turns, nil
}

func (d mongoTurn) toTurn() models.Turn {
	return newStoredTurn(d.ID.Hex(), d.SessionID, models.Role(d.Role), d.Content, d.CreatedAt)
}
