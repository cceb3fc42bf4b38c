package cart

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domain "github.com/tealshop/storefront/internal/domain"
)

const mongoCollection = "carts"

type mongoCartDocument struct {
	ID        string    `bson:"_id"`
	Payload   string    `bson:"cart"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// MongoBackend stores session carts as documents in the "carts" collection.
type MongoBackend struct {
	collection *mongo.Collection
	now        func() time.Time
}

// NewMongoBackend constructs a MongoDB-backed cart backend.
func NewMongoBackend(db *mongo.Database) (*MongoBackend, error) {
	if db == nil {
		return nil, errors.New("cart mongo backend: database is required")
	}
	return &MongoBackend{collection: db.Collection(mongoCollection), now: time.Now}, nil
}

// ConnectMongo dials MongoDB and verifies the connection with a ping.
func ConnectMongo(ctx context.Context, uri, database string) (*mongo.Database, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}
	return client.Database(database), nil
}

// ForSession implements Backend.
func (b *MongoBackend) ForSession(_ http.ResponseWriter, _ *http.Request, sessionID string) Persister {
	return b.Persister(sessionID)
}

// Persister returns the persister for a session.
func (b *MongoBackend) Persister(sessionID string) Persister {
	return &mongoPersister{backend: b, id: sessionKey(sessionID)}
}

type mongoPersister struct {
	backend *MongoBackend
	id      string
}

func (p *mongoPersister) Load(ctx context.Context) (domain.Cart, error) {
	var doc mongoCartDocument
	err := p.backend.collection.FindOne(ctx, bson.M{"_id": p.id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Cart{}, ErrNotPersisted
	}
	if err != nil {
		return domain.Cart{}, fmt.Errorf("cart mongo: find %s: %w", p.id, err)
	}
	return Decode([]byte(doc.Payload))
}

func (p *mongoPersister) Save(ctx context.Context, cart domain.Cart) error {
	data, err := Encode(cart)
	if err != nil {
		return err
	}
	doc := mongoCartDocument{ID: p.id, Payload: string(data), UpdatedAt: p.backend.now().UTC()}
	opts := options.Replace().SetUpsert(true)
	if _, err := p.backend.collection.ReplaceOne(ctx, bson.M{"_id": p.id}, doc, opts); err != nil {
		return fmt.Errorf("cart mongo: upsert %s: %w", p.id, err)
	}
	return nil
}
