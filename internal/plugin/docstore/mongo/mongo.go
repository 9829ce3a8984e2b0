// Package mongo stores message documents in MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-service/internal/config"
	"github.com/chirino/chat-service/internal/model"
	registrydocstore "github.com/chirino/chat-service/internal/registry/docstore"
	registrymigrate "github.com/chirino/chat-service/internal/registry/migrate"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const messagesCollection = "messages"

// ForceImport is a no-op variable that can be referenced to ensure this package's init() runs.
var ForceImport = 0

func init() {
	registrydocstore.Register(registrydocstore.Plugin{
		Name: "mongo",
		Loader: func(ctx context.Context) (registrydocstore.MessageStore, error) {
			cfg := config.FromContext(ctx)
			client, err := connect(ctx, cfg)
			if err != nil {
				return nil, err
			}
			return New(client.Database(cfg.MongoDatabase)), nil
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Order: 110, Migrator: &mongoMigrator{}})
}

func connect(ctx context.Context, cfg *config.Config) (*mongo.Client, error) {
	opts := options.Client().ApplyURI(cfg.MongoURL)
	if cfg.DBMaxOpenConns > 0 {
		opts.SetMaxPoolSize(uint64(cfg.DBMaxOpenConns))
	}
	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return client, nil
}

type mongoMigrator struct{}

func (m *mongoMigrator) Name() string { return "mongo-messages" }
func (m *mongoMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.DatastoreMigrateAtStart || cfg.DocstoreType != "mongo" {
		return nil
	}

	log.Info("Running migration", "name", m.Name())
	client, err := connect(ctx, cfg)
	if err != nil {
		return fmt.Errorf("mongo migration: %w", err)
	}
	defer client.Disconnect(ctx)

	if err := EnsureIndexes(ctx, client.Database(cfg.MongoDatabase), cfg.MessageRetention); err != nil {
		return err
	}
	log.Info("MongoDB message indexes ready")
	return nil
}

// EnsureIndexes creates the messages collection and its indexes. A positive
// retention turns the sentAt index into a TTL index.
func EnsureIndexes(ctx context.Context, db *mongo.Database, retention time.Duration) error {
	sentAt := mongo.IndexModel{Keys: bson.D{{Key: "sentAt", Value: 1}}}
	if retention > 0 {
		sentAt.Options = options.Index().SetExpireAfterSeconds(int32(retention / time.Second))
	}
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "chatId", Value: 1}}},
		sentAt,
		{Keys: bson.D{{Key: "chatId", Value: 1}, {Key: "sentAt", Value: -1}, {Key: "_id", Value: -1}}},
		{Keys: bson.D{{Key: "sender.userId", Value: 1}}},
		{Keys: bson.D{{Key: "chatId", Value: 1}, {Key: "replyToMessageId", Value: 1}}},
		{Keys: bson.D{{Key: "content", Value: "text"}}},
	}

	// CreateCollection fails when the collection exists; that is fine.
	_ = db.CreateCollection(ctx, messagesCollection)
	if _, err := db.Collection(messagesCollection).Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("mongo migration: failed to create indexes for %s: %w", messagesCollection, err)
	}
	return nil
}

// MessageStore implements docstore.MessageStore on a MongoDB database.
type MessageStore struct {
	db *mongo.Database
}

// New returns a MessageStore using db.
func New(db *mongo.Database) *MessageStore {
	return &MessageStore{db: db}
}

func (s *MessageStore) messages() *mongo.Collection { return s.db.Collection(messagesCollection) }

// Ping checks that the database is reachable.
func (s *MessageStore) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

type senderDoc struct {
	UserID      string `bson:"userId"`
	Username    string `bson:"username"`
	DisplayName string `bson:"displayName,omitempty"`
	AvatarURL   string `bson:"avatarUrl,omitempty"`
}

type messageDoc struct {
	ID                string              `bson:"_id"`
	ChatID            string              `bson:"chatId"`
	Sender            senderDoc           `bson:"sender"`
	Content           string              `bson:"content"`
	Type              string              `bson:"type"`
	SentAt            time.Time           `bson:"sentAt"`
	EditedAt          *time.Time          `bson:"editedAt,omitempty"`
	IsDeleted         bool                `bson:"isDeleted"`
	ReadBy            []string            `bson:"readBy"`
	Reactions         map[string][]string `bson:"reactions"`
	ReplyToMessageID  *string             `bson:"replyToMessageId,omitempty"`
	ReplyToSenderName *string             `bson:"replyToSenderName,omitempty"`
	ReplyToContent    *string             `bson:"replyToContent,omitempty"`
}

func toDoc(m *model.Message) messageDoc {
	d := messageDoc{
		ID:     m.ID.String(),
		ChatID: m.ChatID.String(),
		Sender: senderDoc{
			UserID:      m.Sender.UserID,
			Username:    m.Sender.Username,
			DisplayName: m.Sender.DisplayName,
			AvatarURL:   m.Sender.AvatarURL,
		},
		Content:           m.Content,
		Type:              string(m.Type),
		SentAt:            m.SentAt.UTC(),
		EditedAt:          m.EditedAt,
		IsDeleted:         m.IsDeleted,
		ReadBy:            m.ReadBy,
		Reactions:         m.Reactions,
		ReplyToSenderName: m.ReplyToSenderName,
		ReplyToContent:    m.ReplyToContent,
	}
	if d.ReadBy == nil {
		d.ReadBy = []string{}
	}
	if d.Reactions == nil {
		d.Reactions = map[string][]string{}
	}
	if m.ReplyToMessageID != nil {
		id := m.ReplyToMessageID.String()
		d.ReplyToMessageID = &id
	}
	return d
}

func (d messageDoc) toModel() (model.Message, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return model.Message{}, fmt.Errorf("message %q: invalid id: %w", d.ID, err)
	}
	chatID, err := uuid.Parse(d.ChatID)
	if err != nil {
		return model.Message{}, fmt.Errorf("message %q: invalid chatId: %w", d.ID, err)
	}
	m := model.Message{
		ID:     id,
		ChatID: chatID,
		Sender: model.SenderSnapshot{
			UserID:      d.Sender.UserID,
			Username:    d.Sender.Username,
			DisplayName: d.Sender.DisplayName,
			AvatarURL:   d.Sender.AvatarURL,
		},
		Content:           d.Content,
		Type:              model.MessageType(d.Type),
		SentAt:            d.SentAt.UTC(),
		EditedAt:          d.EditedAt,
		IsDeleted:         d.IsDeleted,
		ReadBy:            d.ReadBy,
		Reactions:         d.Reactions,
		ReplyToSenderName: d.ReplyToSenderName,
		ReplyToContent:    d.ReplyToContent,
	}
	if m.ReadBy == nil {
		m.ReadBy = []string{}
	}
	if m.Reactions == nil {
		m.Reactions = map[string][]string{}
	}
	for emoji, users := range m.Reactions {
		if len(users) == 0 {
			delete(m.Reactions, emoji)
		}
	}
	if d.ReplyToMessageID != nil {
		if id, err := uuid.Parse(*d.ReplyToMessageID); err == nil {
			m.ReplyToMessageID = &id
		}
	}
	return m, nil
}

func decodeAll(ctx context.Context, cur *mongo.Cursor) ([]model.Message, error) {
	defer cur.Close(ctx)
	var docs []messageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]model.Message, 0, len(docs))
	for _, d := range docs {
		m, err := d.toModel()
		if err != nil {
			log.Warn("Skipping malformed message document", "err", err)
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// visible matches the surviving messages of a room sent after the optional boundary.
func visible(chatID uuid.UUID, after *time.Time) bson.M {
	filter := bson.M{"chatId": chatID.String(), "isDeleted": bson.M{"$ne": true}}
	if after != nil {
		filter["sentAt"] = bson.M{"$gt": after.UTC()}
	}
	return filter
}

func (s *MessageStore) Insert(ctx context.Context, msg *model.Message) error {
	if _, err := s.messages().InsertOne(ctx, toDoc(msg)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return &registrystore.ConflictError{Message: "message already exists", Code: "message_exists"}
		}
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *MessageStore) Get(ctx context.Context, messageID uuid.UUID) (*model.Message, error) {
	var doc messageDoc
	err := s.messages().FindOne(ctx, bson.M{"_id": messageID.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, &registrystore.NotFoundError{Resource: "message", ID: messageID.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	m, err := doc.toModel()
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *MessageStore) GetMany(ctx context.Context, messageIDs []uuid.UUID) ([]model.Message, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	ids := make([]string, len(messageIDs))
	for i, id := range messageIDs {
		ids[i] = id.String()
	}
	cur, err := s.messages().Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	return decodeAll(ctx, cur)
}

func (s *MessageStore) UpdateContent(ctx context.Context, messageID uuid.UUID, content string, editedAt time.Time) error {
	res, err := s.messages().UpdateOne(ctx,
		bson.M{"_id": messageID.String()},
		bson.M{"$set": bson.M{"content": content, "editedAt": editedAt.UTC()}},
	)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	if res.MatchedCount == 0 {
		return &registrystore.NotFoundError{Resource: "message", ID: messageID.String()}
	}
	return nil
}

func (s *MessageStore) Delete(ctx context.Context, messageID uuid.UUID) (bool, error) {
	res, err := s.messages().DeleteOne(ctx, bson.M{"_id": messageID.String()})
	if err != nil {
		return false, fmt.Errorf("delete message: %w", err)
	}
	return res.DeletedCount > 0, nil
}

func (s *MessageStore) ClearReplyReferences(ctx context.Context, chatID, messageID uuid.UUID) ([]uuid.UUID, error) {
	filter := bson.M{"chatId": chatID.String(), "replyToMessageId": messageID.String()}
	cur, err := s.messages().Find(ctx, filter, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("find replies: %w", err)
	}
	var refs []struct {
		ID string `bson:"_id"`
	}
	if err := cur.All(ctx, &refs); err != nil {
		return nil, fmt.Errorf("find replies: %w", err)
	}
	if len(refs) == 0 {
		return nil, nil
	}
	if _, err := s.messages().UpdateMany(ctx, filter, bson.M{"$unset": bson.M{
		"replyToMessageId":  "",
		"replyToSenderName": "",
		"replyToContent":    "",
	}}); err != nil {
		return nil, fmt.Errorf("clear replies: %w", err)
	}
	out := make([]uuid.UUID, 0, len(refs))
	for _, r := range refs {
		if id, err := uuid.Parse(r.ID); err == nil {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *MessageStore) List(ctx context.Context, q registrydocstore.ListQuery) ([]model.Message, error) {
	filter := visible(q.ChatID, q.After)
	if q.Before != nil {
		at := q.Before.SentAt.UTC()
		filter["$or"] = bson.A{
			bson.M{"sentAt": bson.M{"$lt": at}},
			bson.M{"sentAt": at, "_id": bson.M{"$lt": q.Before.ID.String()}},
		}
	}
	opts := options.Find().SetSort(bson.D{{Key: "sentAt", Value: -1}, {Key: "_id", Value: -1}})
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	cur, err := s.messages().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return decodeAll(ctx, cur)
}

func (s *MessageStore) Latest(ctx context.Context, chatID uuid.UUID, after *time.Time) (*model.Message, error) {
	msgs, err := s.List(ctx, registrydocstore.ListQuery{ChatID: chatID, After: after, Limit: 1})
	if err != nil || len(msgs) == 0 {
		return nil, err
	}
	return &msgs[0], nil
}

func (s *MessageStore) MarkRead(ctx context.Context, chatID uuid.UUID, userID string, until time.Time) (int64, error) {
	res, err := s.messages().UpdateMany(ctx,
		bson.M{
			"chatId":        chatID.String(),
			"isDeleted":     bson.M{"$ne": true},
			"sentAt":        bson.M{"$lte": until.UTC()},
			"sender.userId": bson.M{"$ne": userID},
			"readBy":        bson.M{"$ne": userID},
		},
		bson.M{"$addToSet": bson.M{"readBy": userID}},
	)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return res.ModifiedCount, nil
}

func (s *MessageStore) CountUnread(ctx context.Context, chatID uuid.UUID, userID string, after *time.Time) (int64, error) {
	filter := visible(chatID, after)
	filter["sender.userId"] = bson.M{"$ne": userID}
	filter["readBy"] = bson.M{"$ne": userID}
	n, err := s.messages().CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

func (s *MessageStore) Search(ctx context.Context, chatID uuid.UUID, query string, after *time.Time, limit int) ([]model.Message, error) {
	filter := visible(chatID, after)
	filter["$text"] = bson.M{"$search": query}
	opts := options.Find().SetSort(bson.D{{Key: "sentAt", Value: -1}, {Key: "_id", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.messages().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	return decodeAll(ctx, cur)
}

func reactionField(emoji string) (string, error) {
	if emoji == "" || strings.ContainsAny(emoji, ".$") {
		return "", &registrystore.ValidationError{Field: "emoji", Message: "invalid reaction"}
	}
	return "reactions." + emoji, nil
}

func (s *MessageStore) AddReaction(ctx context.Context, messageID uuid.UUID, emoji, userID string) error {
	field, err := reactionField(emoji)
	if err != nil {
		return err
	}
	return s.updateReaction(ctx, messageID, bson.M{"$addToSet": bson.M{field: userID}})
}

func (s *MessageStore) RemoveReaction(ctx context.Context, messageID uuid.UUID, emoji, userID string) error {
	field, err := reactionField(emoji)
	if err != nil {
		return err
	}
	return s.updateReaction(ctx, messageID, bson.M{"$pull": bson.M{field: userID}})
}

func (s *MessageStore) updateReaction(ctx context.Context, messageID uuid.UUID, update bson.M) error {
	res, err := s.messages().UpdateOne(ctx, bson.M{"_id": messageID.String()}, update)
	if err != nil {
		return fmt.Errorf("update reaction: %w", err)
	}
	if res.MatchedCount == 0 {
		return &registrystore.NotFoundError{Resource: "message", ID: messageID.String()}
	}
	return nil
}
