// Package archive stores completed user turns in Supabase storage so a
// conversation's audio can be replayed later. Uploads are best effort; the
// call never waits on them and never fails because of them.
package archive

import (
	"bytes"
	"context"
	"fmt"

	"github.com/supabase-community/supabase-go"
)

type Config struct {
	URL            string
	ServiceRoleKey string
	Bucket         string
}

type Store struct {
	client *supabase.Client
	bucket string
}

func New(cfg Config) (*Store, error) {
	client, err := supabase.NewClient(cfg.URL, cfg.ServiceRoleKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create Supabase client: %w", err)
	}
	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// ArchiveTurn uploads one turn's clip under the conversation's prefix.
func (s *Store) ArchiveTurn(ctx context.Context, conversationID string, turn int, clip []byte) error {
	key := Key(conversationID, turn)
	if _, err := s.client.Storage.UploadFile(s.bucket, key, bytes.NewReader(clip)); err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

// Key names a turn's object within the bucket.
func Key(conversationID string, turn int) string {
	return fmt.Sprintf("conversations/%s/turn-%d.webm", conversationID, turn)
}
