package firestore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"github.com/JULAME/trianglerh-web/pkg/dispatch"
)

// Collections names the Firestore paths the store works on.
type Collections struct {
	Queue  string // notificationQueue/{jobId}
	Users  string // users/{uid}
	Tokens string // users/{uid}/fcmTokens/{token}
}

func DefaultCollections() Collections {
	return Collections{
		Queue:  "notificationQueue",
		Users:  "users",
		Tokens: "fcmTokens",
	}
}

// FirestoreStore implements dispatch.Store using Google Cloud Firestore.
type FirestoreStore struct {
	client *firestore.Client
	cols   Collections
}

func NewFirestoreStore(client *firestore.Client, cols Collections) *FirestoreStore {
	def := DefaultCollections()
	if cols.Queue == "" {
		cols.Queue = def.Queue
	}
	if cols.Users == "" {
		cols.Users = def.Users
	}
	if cols.Tokens == "" {
		cols.Tokens = def.Tokens
	}
	return &FirestoreStore{client: client, cols: cols}
}

// RegisterToken writes the same document shape the web client does:
// the token doubles as the document id.
func (s *FirestoreStore) RegisterToken(ctx context.Context, uid string, token dispatch.DeviceToken) error {
	ref, err := s.tokenRef(uid, token.Token)
	if err != nil {
		return err
	}

	platform := token.Platform
	if platform == "" {
		platform = dispatch.PlatformFCM
	}
	record := map[string]interface{}{
		"token":     token.Token,
		"platform":  string(platform),
		"createdAt": firestore.ServerTimestamp,
	}

	if _, err := ref.Set(ctx, record); err != nil {
		return fmt.Errorf("failed to register token for %s: %w", uid, err)
	}
	return nil
}

// UnregisterToken deletes the token document. Firestore deletes without a
// precondition succeed for absent documents.
func (s *FirestoreStore) UnregisterToken(ctx context.Context, uid string, token string) error {
	ref, err := s.tokenRef(uid, token)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		return fmt.Errorf("failed to unregister token for %s: %w", uid, err)
	}
	return nil
}

func (s *FirestoreStore) ListTokens(ctx context.Context, uid string) ([]dispatch.DeviceToken, error) {
	if uid == "" {
		return nil, dispatch.ErrMissingRecipient
	}

	iter := s.tokensCollection(uid).Documents(ctx)
	defer iter.Stop()

	tokens := make([]dispatch.DeviceToken, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore token iteration failed: %w", err)
		}

		if doc.Ref.ID == "" {
			continue
		}
		data := doc.Data()
		platform, err := dispatch.ParsePlatform(stringField(data, "platform"))
		if err != nil {
			// Keep it; the router reports it as unsupported instead of dropping it silently.
			platform = dispatch.Platform(stringField(data, "platform"))
		}
		tokens = append(tokens, dispatch.DeviceToken{
			Token:     doc.Ref.ID,
			Platform:  platform,
			CreatedAt: timeField(data, "createdAt"),
		})
	}

	return tokens, nil
}

// --- Helpers ---

// tokensCollection: users/{uid}/fcmTokens
func (s *FirestoreStore) tokensCollection(uid string) *firestore.CollectionRef {
	return s.client.Collection(s.cols.Users).Doc(uid).Collection(s.cols.Tokens)
}

func (s *FirestoreStore) tokenRef(uid, token string) (*firestore.DocumentRef, error) {
	if uid == "" {
		return nil, dispatch.ErrMissingRecipient
	}
	if token == "" || strings.Contains(token, "/") {
		return nil, fmt.Errorf("invalid token document id %q", token)
	}
	return s.tokensCollection(uid).Doc(token), nil
}

func stringField(data map[string]interface{}, key string) string {
	switch v := data[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func timeField(data map[string]interface{}, key string) time.Time {
	if v, ok := data[key].(time.Time); ok {
		return v
	}
	return time.Time{}
}

func boolField(data map[string]interface{}, key string) bool {
	v, _ := data[key].(bool)
	return v
}

func intField(data map[string]interface{}, key string) int {
	switch v := data[key].(type) {
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
