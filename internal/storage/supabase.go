package storage

import (
	"bytes"
	"fmt"

	"github.com/supabase-community/supabase-go"
)

type Config struct {
	URL            string
	ServiceRoleKey string
	Bucket         string
}

// Archive stores call recording files in a Supabase storage bucket.
type Archive struct {
	client *supabase.Client
	bucket string
}

func New(config Config) (*Archive, error) {
	client, err := supabase.NewClient(config.URL, config.ServiceRoleKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("create supabase client: %w", err)
	}
	return &Archive{client: client, bucket: config.Bucket}, nil
}

// Upload stores data under key and returns nothing; callers keep the
// provider's original recording URL as the canonical one.
func (a *Archive) Upload(key string, data []byte) error {
	if _, err := a.client.Storage.UploadFile(a.bucket, key, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("upload to supabase: %w", err)
	}
	return nil
}
