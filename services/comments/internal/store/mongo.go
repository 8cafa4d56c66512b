package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	mongoCommentsCollection = "comments"
	mongoLikesCollection    = "comment_likes"
)

type mongoIndex struct {
	Collection string
	Index      mongo.IndexModel
}

var mongoIndexes = []mongoIndex{
	{mongoCommentsCollection, mongo.IndexModel{
		Keys: bson.D{{Key: "fact_id", Value: 1}, {Key: "created_at", Value: -1}, {Key: "_id", Value: -1}},
	}},
	{mongoLikesCollection, mongo.IndexModel{
		Keys:    bson.D{{Key: "comment_id", Value: 1}, {Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}},
	{mongoLikesCollection, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "comment_id", Value: 1}},
	}},
}

type mongoComment struct {
	ID             string    `bson:"_id"`
	FactID         string    `bson:"fact_id"`
	AuthorUsername string    `bson:"author_username"`
	Text           string    `bson:"text"`
	LikeCount      int64     `bson:"like_count"`
	CreatedAt      time.Time `bson:"created_at"`
}

func (m mongoComment) toComment() Comment {
	return Comment{
		ID:             m.ID,
		FactID:         m.FactID,
		AuthorUsername: m.AuthorUsername,
		Text:           m.Text,
		LikeCount:      m.LikeCount,
		CreatedAt:      m.CreatedAt.UTC(),
	}
}

// MongoStore keeps comments and like memberships in MongoDB. It implements
// both CommentStore and LikeStore.
type MongoStore struct {
	db     *mongo.Database
	maxLen int
	now    func() time.Time
}

// NewMongoStore creates a store on an already connected database.
func NewMongoStore(db *mongo.Database, maxLen int) *MongoStore {
	return &MongoStore{db: db, maxLen: maxLen, now: time.Now}
}

func (s *MongoStore) comments() *mongo.Collection { return s.db.Collection(mongoCommentsCollection) }
func (s *MongoStore) likes() *mongo.Collection    { return s.db.Collection(mongoLikesCollection) }

// Migrate creates the indexes, including the unique (comment_id, user_id)
// index that makes Add idempotent.
func (s *MongoStore) Migrate(ctx context.Context) error {
	for _, ix := range mongoIndexes {
		if _, err := s.db.Collection(ix.Collection).Indexes().CreateOne(ctx, ix.Index); err != nil {
			if !mongo.IsDuplicateKeyError(err) {
				return unavailable("migrate "+ix.Collection, err)
			}
		}
	}
	return nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

func (s *MongoStore) Create(ctx context.Context, in NewComment) (Comment, error) {
	in, err := validateNew(in, s.maxLen)
	if err != nil {
		return Comment{}, err
	}
	doc := mongoComment{
		ID:             uuid.New().String(),
		FactID:         in.FactID,
		AuthorUsername: in.AuthorUsername,
		Text:           in.Text,
		// Mongo keeps milliseconds.
		CreatedAt: s.now().UTC().Truncate(time.Millisecond),
	}
	if _, err := s.comments().InsertOne(ctx, doc); err != nil {
		return Comment{}, unavailable("create comment", err)
	}
	return doc.toComment(), nil
}

func (s *MongoStore) Get(ctx context.Context, commentID string) (Comment, error) {
	var doc mongoComment
	err := s.comments().FindOne(ctx, bson.M{"_id": commentID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Comment{}, ErrNotFound
	}
	if err != nil {
		return Comment{}, unavailable("get comment", err)
	}
	return doc.toComment(), nil
}

func (s *MongoStore) ListByFact(ctx context.Context, factID string) ([]Comment, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	cur, err := s.comments().Find(ctx, bson.M{"fact_id": factID}, opts)
	if err != nil {
		return nil, unavailable("list comments", err)
	}
	defer cur.Close(ctx)

	out := make([]Comment, 0)
	for cur.Next(ctx) {
		var doc mongoComment
		if err := cur.Decode(&doc); err != nil {
			return nil, unavailable("list comments", err)
		}
		out = append(out, doc.toComment())
	}
	if err := cur.Err(); err != nil {
		return nil, unavailable("list comments", err)
	}
	return out, nil
}

func (s *MongoStore) CountByFact(ctx context.Context, factID string) (int64, error) {
	n, err := s.comments().CountDocuments(ctx, bson.M{"fact_id": factID})
	if err != nil {
		return 0, unavailable("count comments", err)
	}
	return n, nil
}

func (s *MongoStore) IncrementLikeCount(ctx context.Context, commentID string, delta int64) (int64, error) {
	if err := validateDelta(delta); err != nil {
		return 0, err
	}
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(bson.M{"like_count": 1})
	var doc mongoComment
	err := s.comments().FindOneAndUpdate(ctx,
		bson.M{"_id": commentID},
		bson.M{"$inc": bson.M{"like_count": delta}},
		opts,
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, unavailable("increment like count", err)
	}
	return doc.LikeCount, nil
}

func (s *MongoStore) CompareAndSetLikeCount(ctx context.Context, commentID string, expected, next int64) (bool, error) {
	res, err := s.comments().UpdateOne(ctx,
		bson.M{"_id": commentID, "like_count": expected},
		bson.M{"$set": bson.M{"like_count": max(next, 0)}})
	if err != nil {
		return false, unavailable("set like count", err)
	}
	if res.MatchedCount == 1 {
		return true, nil
	}
	if _, err := s.Get(ctx, commentID); err != nil {
		return false, err
	}
	return false, nil
}

func (s *MongoStore) Exists(ctx context.Context, commentID, userID string) (bool, error) {
	n, err := s.likes().CountDocuments(ctx,
		bson.M{"comment_id": commentID, "user_id": userID},
		options.Count().SetLimit(1))
	if err != nil {
		return false, unavailable("like exists", err)
	}
	return n > 0, nil
}

func (s *MongoStore) ExistsMany(ctx context.Context, commentIDs []string, userID string) (map[string]bool, error) {
	out := make(map[string]bool, len(commentIDs))
	if len(commentIDs) == 0 {
		return out, nil
	}
	opts := options.Find().SetProjection(bson.M{"comment_id": 1, "_id": 0})
	cur, err := s.likes().Find(ctx, bson.M{"user_id": userID, "comment_id": bson.M{"$in": commentIDs}}, opts)
	if err != nil {
		return nil, unavailable("like exists many", err)
	}
	defer cur.Close(ctx)
	for cur.Next(ctx) {
		var doc struct {
			CommentID string `bson:"comment_id"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, unavailable("like exists many", err)
		}
		out[doc.CommentID] = true
	}
	if err := cur.Err(); err != nil {
		return nil, unavailable("like exists many", err)
	}
	return out, nil
}

func (s *MongoStore) Add(ctx context.Context, commentID, userID string) (AddOutcome, error) {
	_, err := s.likes().InsertOne(ctx, bson.M{
		"comment_id": commentID,
		"user_id":    userID,
		"created_at": time.Now().UTC(),
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return AlreadyExists, nil
		}
		return 0, unavailable("add like", err)
	}
	return Created, nil
}

func (s *MongoStore) Remove(ctx context.Context, commentID, userID string) (RemoveOutcome, error) {
	res, err := s.likes().DeleteOne(ctx, bson.M{"comment_id": commentID, "user_id": userID})
	if err != nil {
		return 0, unavailable("remove like", err)
	}
	if res.DeletedCount == 0 {
		return NotMember, nil
	}
	return Removed, nil
}

func (s *MongoStore) Count(ctx context.Context, commentID string) (int64, error) {
	n, err := s.likes().CountDocuments(ctx, bson.M{"comment_id": commentID})
	if err != nil {
		return 0, unavailable("count likes", err)
	}
	return n, nil
}
