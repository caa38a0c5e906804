package s3infra

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/741g/vperfetto/internal/config"
	"github.com/741g/vperfetto/internal/domain"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockAPI struct{ mock.Mock }

func (m *mockAPI) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := m.Called(ctx, in)
	if out, _ := args.Get(0).(*s3.PutObjectOutput); out != nil {
		return out, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAPI) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	args := m.Called(ctx, in)
	if out, _ := args.Get(0).(*s3.GetObjectOutput); out != nil {
		return out, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAPI) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	args := m.Called(ctx, in)
	if out, _ := args.Get(0).(*s3.DeleteObjectOutput); out != nil {
		return out, args.Error(1)
	}
	return nil, args.Error(1)
}

func TestStore_Upload(t *testing.T) {
	api := &mockAPI{}
	api.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		return aws.ToString(in.Bucket) == "traces" &&
			aws.ToString(in.Key) == "traces/a/combined.trace" &&
			aws.ToString(in.ContentType) == "application/octet-stream"
	})).Return(&s3.PutObjectOutput{}, nil)

	url, err := NewStoreWithAPI(api, "traces").Upload(context.Background(), "traces/a/combined.trace", strings.NewReader("x"), "application/octet-stream")
	require.NoError(t, err)
	assert.Equal(t, "s3://traces/traces/a/combined.trace", url)
}

func TestStore_Download(t *testing.T) {
	api := &mockAPI{}
	api.On("GetObject", mock.Anything, mock.MatchedBy(func(in *s3.GetObjectInput) bool {
		return aws.ToString(in.Key) == "k"
	})).Return(&s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader("trace"))}, nil)
	api.On("GetObject", mock.Anything, mock.Anything).Return(nil, &types.NoSuchKey{})

	store := NewStoreWithAPI(api, "b")
	rc, err := store.Download(context.Background(), "k")
	require.NoError(t, err)
	b, _ := io.ReadAll(rc)
	assert.Equal(t, "trace", string(b))

	_, err = store.Download(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_DeleteAndPresign(t *testing.T) {
	api := &mockAPI{}
	boom := errors.New("denied")
	api.On("DeleteObject", mock.Anything, mock.Anything).Return(nil, boom)

	store := NewStoreWithAPI(api, "b")
	assert.ErrorIs(t, store.Delete(context.Background(), "k"), boom)

	_, err := store.PresignedURL(context.Background(), "k", time.Minute)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestNewStore_PresignsAgainstEndpoint(t *testing.T) {
	client, err := NewClient(&config.Config{
		AWSRegion:      "us-east-1",
		AWSEndpointURL: "http://localhost:4566",
		AWSAccessKeyID: "test",
		AWSSecretKey:   "test",
	})
	require.NoError(t, err)

	url, err := NewStore(client, "traces").PresignedURL(context.Background(), "traces/a/combined.trace", time.Minute)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "http://localhost:4566/traces/traces/a/combined.trace?"), url)
	assert.Contains(t, url, "X-Amz-Expires=60")
}
