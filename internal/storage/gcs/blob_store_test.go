package gcs

import (
	"context"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "assets"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = New(client, Config{})
	require.ErrorContains(t, err, "bucket")

	store, err := New(client, Config{Bucket: "assets", Prefix: "/madara/"})
	require.NoError(t, err)
	assert.Equal(t, "madara", store.prefix)
}

func TestObjectKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		prefix, name, want string
	}{
		{"", "manga/alpha/chapter-1/001.jpg", "manga/alpha/chapter-1/001.jpg"},
		{"", "/manga/alpha/", "manga/alpha/"},
		{"madara", "manga/alpha/chapter-1/001.jpg", "madara/manga/alpha/chapter-1/001.jpg"},
		{"madara", "manga/alpha/", "madara/manga/alpha/"},
		{"madara/prod", "/manga/alpha", "madara/prod/manga/alpha"},
	}
	for _, tc := range tests {
		s := &BlobStore{prefix: tc.prefix}
		assert.Equal(t, tc.want, s.objectKey(tc.name), "prefix=%q name=%q", tc.prefix, tc.name)
	}
}

func TestPutObjectRequiresPath(t *testing.T) {
	t.Parallel()

	s := &BlobStore{}
	_, err := s.PutObject(context.Background(), " ", "image/jpeg", nil)
	require.Error(t, err)
	require.Error(t, s.DeletePrefix(context.Background(), "/"))
}
