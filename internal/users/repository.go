package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"loghold/internal/config"
	"loghold/internal/logger"
	pkgerrors "loghold/pkg/errors"
)

const usersCollection = "users"

type Repository interface {
	GetByName(ctx context.Context, username string) (*User, error)
	Save(ctx context.Context, user *User) error
	Delete(ctx context.Context, username string) error
	List(ctx context.Context) ([]*User, error)
}

// MongoRepository stores local accounts in a document collection. The
// built-in admin is layered on top: lookups for its username resolve to the
// in-memory account and writes against it are rejected.
type MongoRepository struct {
	collection *mongo.Collection
	admin      *User
	log        logger.Logger
}

func NewMongoRepository(db *mongo.Database, rootCfg config.RootAccountConfig, log logger.Logger) *MongoRepository {
	return &MongoRepository{
		collection: db.Collection(usersCollection),
		admin:      NewAdmin(rootCfg),
		log:        log,
	}
}

func (r *MongoRepository) GetByName(ctx context.Context, username string) (*User, error) {
	if username == r.admin.Username {
		admin := *r.admin
		return &admin, nil
	}

	var user User
	err := r.collection.FindOne(ctx, bson.M{"username": username}).Decode(&user)

	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, pkgerrors.ErrNotFound.WithDetail("username", username)
	}
	if err != nil {
		return nil, fmt.Errorf("loading user %s: %w", username, err)
	}
	return &user, nil
}

func (r *MongoRepository) Save(ctx context.Context, user *User) error {
	if user.IsReadOnly() || user.Username == r.admin.Username {
		return pkgerrors.ErrReadOnly.WithDetail("message", "the built-in admin account cannot be modified")
	}
	if user.Kind == "" {
		user.Kind = KindLocal
	}
	if err := user.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	user.UpdatedAt = now
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}

	filter := bson.M{"username": user.Username}
	opts := options.Replace().SetUpsert(true)

	if _, err := r.collection.ReplaceOne(ctx, filter, user, opts); err != nil {
		return fmt.Errorf("saving user %s: %w", user.Username, err)
	}

	r.log.Debugw("Saved user", "username", user.Username)
	return nil
}

func (r *MongoRepository) Delete(ctx context.Context, username string) error {
	if username == r.admin.Username {
		return pkgerrors.ErrReadOnly.WithDetail("message", "the built-in admin account cannot be deleted")
	}

	result, err := r.collection.DeleteOne(ctx, bson.M{"username": username})
	if err != nil {
		return fmt.Errorf("deleting user %s: %w", username, err)
	}
	if result.DeletedCount == 0 {
		return pkgerrors.ErrNotFound.WithDetail("username", username)
	}
	return nil
}

// List returns the built-in admin followed by every stored account.
func (r *MongoRepository) List(ctx context.Context) ([]*User, error) {
	cursor, err := r.collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer cursor.Close(ctx)

	admin := *r.admin
	result := []*User{&admin}

	for cursor.Next(ctx) {
		var user User
		if err := cursor.Decode(&user); err != nil {
			return nil, fmt.Errorf("decoding user: %w", err)
		}
		result = append(result, &user)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	return result, nil
}
