package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"chatsync/internal/domain/chat"
)

// MessageStore persists chat messages in the chat_messages collection.
type MessageStore struct {
	col *mongo.Collection
}

func NewMessageStore(ctx context.Context, db *mongo.Database) (*MessageStore, error) {
	col := db.Collection("chat_messages")
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "sender_id", Value: 1}, {Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "recipient_id", Value: 1}, {Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "project_id", Value: 1}}},
	}
	if _, err := col.Indexes().CreateMany(ctx, indexes); err != nil {
		return nil, fmt.Errorf("mongo: create message indexes: %w", err)
	}
	return &MessageStore{col: col}, nil
}

type attachmentDocument struct {
	URL  string `bson:"url"`
	Name string `bson:"name"`
	Size int64  `bson:"size"`
}

type messageDocument struct {
	ID          string               `bson:"_id"`
	ProjectID   string               `bson:"project_id,omitempty"`
	SenderID    string               `bson:"sender_id"`
	RecipientID string               `bson:"recipient_id"`
	Message     string               `bson:"message"`
	Type        string               `bson:"message_type"`
	Attachments []attachmentDocument `bson:"attachments,omitempty"`
	IsRead      bool                 `bson:"is_read"`
	CreatedAt   time.Time            `bson:"created_at"`
}

func toDocument(msg chat.Message) messageDocument {
	doc := messageDocument{
		ID:          msg.ID,
		ProjectID:   msg.ProjectID,
		SenderID:    msg.SenderID,
		RecipientID: msg.RecipientID,
		Message:     msg.Message,
		Type:        string(msg.MessageType),
		IsRead:      msg.IsRead,
		CreatedAt:   msg.CreatedAt.UTC(),
	}
	for _, a := range msg.Attachments {
		doc.Attachments = append(doc.Attachments, attachmentDocument{URL: a.URL, Name: a.Name, Size: a.Size})
	}
	return doc
}

func (d messageDocument) toDomain() chat.Message {
	msg := chat.Message{
		ID:          d.ID,
		ProjectID:   d.ProjectID,
		SenderID:    d.SenderID,
		RecipientID: d.RecipientID,
		Message:     d.Message,
		MessageType: chat.MessageType(d.Type),
		IsRead:      d.IsRead,
		CreatedAt:   d.CreatedAt.UTC(),
	}
	for _, a := range d.Attachments {
		msg.Attachments = append(msg.Attachments, chat.Attachment{URL: a.URL, Name: a.Name, Size: a.Size})
	}
	return msg
}

func (s *MessageStore) Insert(ctx context.Context, msg chat.Message) error {
	if _, err := s.col.InsertOne(ctx, toDocument(msg)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("message %s: %w", msg.ID, chat.ErrInvalidInput)
		}
		return err
	}
	return nil
}

func (s *MessageStore) ListForUser(ctx context.Context, userID, projectID string) ([]chat.Message, error) {
	filter := bson.M{"$or": bson.A{bson.M{"sender_id": userID}, bson.M{"recipient_id": userID}}}
	if projectID != "" {
		filter["project_id"] = projectID
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := s.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	out := make([]chat.Message, 0)
	for cursor.Next(ctx) {
		var doc messageDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toDomain())
	}
	return out, cursor.Err()
}

func (s *MessageStore) ByID(ctx context.Context, id string) (chat.Message, error) {
	var doc messageDocument
	if err := s.col.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return chat.Message{}, chat.ErrNotFound
		}
		return chat.Message{}, err
	}
	return doc.toDomain(), nil
}

// MarkRead flips is_read only when it is still false, so concurrent calls
// report a change at most once.
func (s *MessageStore) MarkRead(ctx context.Context, id string) (chat.Message, bool, error) {
	res, err := s.col.UpdateOne(ctx, bson.M{"_id": id, "is_read": false}, bson.M{"$set": bson.M{"is_read": true}})
	if err != nil {
		return chat.Message{}, false, err
	}
	msg, err := s.ByID(ctx, id)
	if err != nil {
		return chat.Message{}, false, err
	}
	return msg, res.ModifiedCount > 0, nil
}
