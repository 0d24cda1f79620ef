package staging

import (
	"context"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestGCSStager_RoundTripIntegration(t *testing.T) {
	bucket := os.Getenv("TEST_GCS_BUCKET")
	if os.Getenv("STORAGE_EMULATOR_HOST") == "" || bucket == "" {
		t.Skip("STORAGE_EMULATOR_HOST and TEST_GCS_BUCKET are not set")
	}

	ctx := context.Background()
	s, err := NewGCSStager(ctx, bucket, "test-imports/", option.WithoutAuthentication())
	require.NoError(t, err)
	defer s.Close()

	handle, err := s.Stage(ctx, "batch.tsv", strings.NewReader("title\tstarting_price\n"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(handle, "test-imports/"))
	assert.True(t, strings.HasSuffix(handle, ".tsv"))

	rc, err := s.Open(ctx, handle)
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	rc.Close()
	assert.Equal(t, "title\tstarting_price\n", string(body))

	require.NoError(t, s.Remove(ctx, handle))
	exists, err := s.Exists(ctx, handle)
	require.NoError(t, err)
	assert.False(t, exists)
	assert.NoError(t, s.Remove(ctx, handle))
}

func TestNewGCSStager_RequiresBucket(t *testing.T) {
	_, err := NewGCSStager(context.Background(), "", "imports/")
	assert.Error(t, err)
}
