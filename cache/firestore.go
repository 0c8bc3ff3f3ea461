package cache

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreConfig holds configuration for the Firestore backend.
type FirestoreConfig struct {
	ProjectID      string
	CollectionName string

	// Merge is the merge strategy. Default: ReplaceMerge.
	Merge MergeFunc
}

// Validate validates the configuration.
func (c *FirestoreConfig) Validate() error {
	if c.CollectionName == "" {
		return errors.New("cache: firestore collection name is required")
	}
	return nil
}

// firestoreEntry is the stored document shape.
type firestoreEntry struct {
	Value     []byte    `firestore:"value"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// FirestoreCache is a ValueCache storing one document per key. It suits
// low-volume deployments that already run Firestore; use Redis for high
// volume.
type FirestoreCache struct {
	client         *firestore.Client
	collectionName string
	logger         zerolog.Logger
	merge          MergeFunc
}

// NewFirestoreCache creates a FirestoreCache. The client's lifecycle is
// managed by the caller.
func NewFirestoreCache(cfg *FirestoreConfig, client *firestore.Client, logger zerolog.Logger) (*FirestoreCache, error) {
	if client == nil {
		return nil, fmt.Errorf("cache: firestore client cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	merge := cfg.Merge
	if merge == nil {
		merge = ReplaceMerge
	}

	logger.Info().Str("project_id", cfg.ProjectID).Str("collection", cfg.CollectionName).Msg("FirestoreCache initialized.")

	return &FirestoreCache{
		client:         client,
		collectionName: cfg.CollectionName,
		logger:         logger.With().Str("component", "FirestoreCache").Logger(),
		merge:          merge,
	}, nil
}

func (f *FirestoreCache) doc(key string) *firestore.DocumentRef {
	// Document IDs must not contain '/'.
	return f.client.Collection(f.collectionName).Doc(url.PathEscape(key))
}

// Get retrieves a value. NotFound and other failures are reported as a miss.
func (f *FirestoreCache) Get(ctx context.Context, key string) ([]byte, bool) {
	snap, err := f.doc(key).Get(ctx)
	if err != nil {
		if status.Code(err) != codes.NotFound {
			f.logger.Error().Err(err).Str("key", key).Msg("Failed to get document from Firestore.")
		}
		return nil, false
	}

	var entry firestoreEntry
	if err := snap.DataTo(&entry); err != nil {
		f.logger.Error().Err(err).Str("key", key).Msg("Failed to map Firestore document data.")
		return nil, false
	}
	return entry.Value, true
}

// MergeValue merges value into the stored document inside a transaction.
func (f *FirestoreCache) MergeValue(ctx context.Context, key string, value []byte) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	ref := f.doc(key)
	var merged []byte
	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var existing []byte
		snap, err := tx.Get(ref)
		switch {
		case err == nil:
			var entry firestoreEntry
			if err := snap.DataTo(&entry); err != nil {
				return fmt.Errorf("firestore DataTo for %s: %w", key, err)
			}
			existing = entry.Value
		case status.Code(err) == codes.NotFound:
		default:
			return err
		}

		m, err := f.merge(existing, value)
		if err != nil {
			return err
		}
		merged = m
		return tx.Set(ref, firestoreEntry{Value: m, UpdatedAt: time.Now().UTC()})
	})
	if err != nil {
		f.logger.Error().Err(err).Str("key", key).Msg("Failed to merge document in Firestore.")
		return nil, fmt.Errorf("cache: firestore merge for %s: %w", key, err)
	}

	f.logger.Debug().Str("key", key).Msg("Merged value into Firestore cache.")
	return merged, nil
}

// Delete removes the document for key. Idempotent - no error on miss.
func (f *FirestoreCache) Delete(ctx context.Context, key string) error {
	if _, err := f.doc(key).Delete(ctx); err != nil {
		return fmt.Errorf("cache: firestore delete for %s: %w", key, err)
	}
	return nil
}

// Close is a no-op as the Firestore client's lifecycle is managed externally.
func (f *FirestoreCache) Close() error {
	return nil
}

// Ensure FirestoreCache implements ValueCache
var _ ValueCache = (*FirestoreCache)(nil)
