package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/milopalmaerts/Crypto/internal/config"
	"github.com/milopalmaerts/Crypto/internal/models"
)

// mergeAttempts bounds the compare-and-swap loop in AddOrUpdateHolding
const mergeAttempts = 5

// MongoStore keeps users and holdings in two MongoDB collections
type MongoStore struct {
	client   *mongo.Client
	users    *mongo.Collection
	holdings *mongo.Collection
}

// NewMongoStore connects with pooled client options and verifies the connection
func NewMongoStore(ctx context.Context, cfg *config.MongoDBConfig) (*MongoStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	clientOptions := options.Client().ApplyURI(cfg.URI)
	clientOptions.SetMaxPoolSize(cfg.MaxPoolSize)
	clientOptions.SetMinPoolSize(cfg.MaxPoolSize / 4)
	clientOptions.SetMaxConnIdleTime(30 * time.Minute)
	clientOptions.SetConnectTimeout(cfg.ConnectTimeout)
	clientOptions.SetServerSelectionTimeout(5 * time.Second)
	// Portfolio reads must see the user's own writes.
	clientOptions.SetReadPreference(readpref.Primary())
	clientOptions.SetRetryWrites(true)
	clientOptions.SetRetryReads(true)

	client, err := mongo.Connect(connectCtx, clientOptions)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	db := client.Database(cfg.Database)
	return &MongoStore{
		client:   client,
		users:    db.Collection(cfg.UsersCollection),
		holdings: db.Collection(cfg.HoldingCollection),
	}, nil
}

func (s *MongoStore) Backend() string { return "mongodb" }

// EnsureSchema creates the unique indexes the store relies on
func (s *MongoStore) EnsureSchema(ctx context.Context) error {
	_, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("email_unique"),
	})
	if err != nil {
		return fmt.Errorf("users index: %w", err)
	}

	_, err = s.holdings.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "crypto_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("user_crypto_unique"),
		},
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: 1}},
			Options: options.Index().SetName("user_created"),
		},
	})
	if err != nil {
		return fmt.Errorf("holdings indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := s.users.FindOne(ctx, bson.M{"email": NormalizeEmail(email)}).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &user, nil
}

func (s *MongoStore) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Email = NormalizeEmail(user.Email)

	_, err := s.users.InsertOne(ctx, user)
	if mongo.IsDuplicateKeyError(err) {
		return ErrUserExists
	}
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *MongoStore) GetHoldingsByUser(ctx context.Context, userID string) ([]models.Holding, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := s.holdings.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("list holdings: %w", err)
	}
	defer cursor.Close(ctx)

	holdings := []models.Holding{}
	if err := cursor.All(ctx, &holdings); err != nil {
		return nil, fmt.Errorf("decode holdings: %w", err)
	}
	return holdings, nil
}

// AddOrUpdateHolding merges with a compare-and-swap on the previous amount
// and price so concurrent lots are not lost without needing a replica set.
func (s *MongoStore) AddOrUpdateHolding(ctx context.Context, lot *models.Holding) (*models.Holding, bool, error) {
	filter := bson.M{"user_id": lot.UserID, "crypto_id": lot.CryptoID}

	for attempt := 0; attempt < mergeAttempts; attempt++ {
		now := time.Now().UTC()

		var existing models.Holding
		err := s.holdings.FindOne(ctx, filter).Decode(&existing)
		if errors.Is(err, mongo.ErrNoDocuments) {
			result := *lot
			result.CreatedAt = now
			result.UpdatedAt = now
			_, err = s.holdings.InsertOne(ctx, &result)
			if mongo.IsDuplicateKeyError(err) {
				continue
			}
			if err != nil {
				return nil, false, fmt.Errorf("insert holding: %w", err)
			}
			return &result, false, nil
		}
		if err != nil {
			return nil, false, fmt.Errorf("load holding: %w", err)
		}

		result := existing
		result.Amount, result.AvgPrice = MergeLot(existing.Amount, existing.AvgPrice, lot.Amount, lot.AvgPrice)
		result.Symbol = lot.Symbol
		result.Name = lot.Name
		result.UpdatedAt = now

		guard := bson.M{
			"user_id":   lot.UserID,
			"crypto_id": lot.CryptoID,
			"amount":    existing.Amount,
			"avg_price": existing.AvgPrice,
		}
		update := bson.M{"$set": bson.M{
			"amount":     result.Amount,
			"avg_price":  result.AvgPrice,
			"symbol":     result.Symbol,
			"name":       result.Name,
			"updated_at": now,
		}}
		res, err := s.holdings.UpdateOne(ctx, guard, update)
		if err != nil {
			return nil, false, fmt.Errorf("update holding: %w", err)
		}
		if res.MatchedCount == 1 {
			return &result, true, nil
		}
	}
	return nil, false, fmt.Errorf("update holding %s: too much contention", lot.CryptoID)
}

func (s *MongoStore) DeleteHolding(ctx context.Context, userID, cryptoID string) error {
	res, err := s.holdings.DeleteOne(ctx, bson.M{"user_id": userID, "crypto_id": cryptoID})
	if err != nil {
		return fmt.Errorf("delete holding: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// MissingIndexes lists the indexes EnsureSchema creates that are absent
func (s *MongoStore) MissingIndexes(ctx context.Context) ([]string, error) {
	required := map[*mongo.Collection][]string{
		s.users:    {"email_unique"},
		s.holdings: {"user_crypto_unique", "user_created"},
	}

	var missing []string
	for collection, names := range required {
		cursor, err := collection.Indexes().List(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s indexes: %w", collection.Name(), err)
		}
		var indexes []bson.M
		if err := cursor.All(ctx, &indexes); err != nil {
			return nil, fmt.Errorf("decode %s indexes: %w", collection.Name(), err)
		}

		present := make(map[string]bool, len(indexes))
		for _, index := range indexes {
			if name, ok := index["name"].(string); ok {
				present[name] = true
			}
		}
		for _, name := range names {
			if !present[name] {
				missing = append(missing, collection.Name()+"."+name)
			}
		}
	}
	return missing, nil
}
