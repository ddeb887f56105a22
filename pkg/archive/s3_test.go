package archive_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/trailpost/billing/pkg/archive"
)

type mockClient struct {
	mock.Mock
}

func (m *mockClient) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.PutObjectOutput), args.Error(1)
}

func newArchive(t *testing.T, client archive.Client) *archive.S3Archive {
	t.Helper()
	a, err := archive.NewS3Archive(context.Background(), archive.Config{
		Bucket: "reports",
		Region: "eu-west-1",
		Prefix: "/billing/",
	}, archive.WithClient(client))
	require.NoError(t, err)
	return a
}

func TestNewS3Archive(t *testing.T) {
	t.Parallel()

	t.Run("requires bucket and region", func(t *testing.T) {
		t.Parallel()
		_, err := archive.NewS3Archive(context.Background(), archive.Config{Region: "eu-west-1"})
		assert.ErrorIs(t, err, archive.ErrInvalidConfig)

		_, err = archive.NewS3Archive(context.Background(), archive.Config{Bucket: "reports"})
		assert.ErrorIs(t, err, archive.ErrInvalidConfig)
	})

	t.Run("builds a client from static credentials", func(t *testing.T) {
		t.Parallel()
		a, err := archive.NewS3Archive(context.Background(), archive.Config{
			Bucket:         "reports",
			Region:         "us-east-1",
			AccessKeyID:    "key",
			SecretKey:      "secret",
			Endpoint:       "http://localhost:9000",
			ForcePathStyle: true,
		})
		require.NoError(t, err)
		assert.NotNil(t, a)
	})
}

func TestS3Archive_Put(t *testing.T) {
	t.Parallel()

	t.Run("writes under the prefix", func(t *testing.T) {
		t.Parallel()
		client := new(mockClient)
		client.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
			return aws.ToString(in.Bucket) == "reports" &&
				aws.ToString(in.Key) == "billing/2025/03.json" &&
				aws.ToString(in.ContentType) == "application/json" &&
				aws.ToInt64(in.ContentLength) == 2
		})).Return(&s3.PutObjectOutput{ETag: aws.String(`"abc"`)}, nil)

		obj, err := newArchive(t, client).Put(context.Background(), "2025/03.json", []byte("{}"), "application/json")
		require.NoError(t, err)
		assert.Equal(t, "billing/2025/03.json", obj.Key)
		assert.Equal(t, int64(2), obj.Size)
		assert.Equal(t, "abc", obj.ETag)
		client.AssertExpectations(t)
	})

	t.Run("rejects traversal", func(t *testing.T) {
		t.Parallel()
		client := new(mockClient)
		a := newArchive(t, client)

		for _, key := range []string{"", "../secrets", "a/../../b"} {
			_, err := a.Put(context.Background(), key, []byte("x"), "")
			assert.ErrorIs(t, err, archive.ErrInvalidKey, key)
		}
		client.AssertNotCalled(t, "PutObject", mock.Anything, mock.Anything)
	})

	t.Run("classifies errors", func(t *testing.T) {
		t.Parallel()
		tests := []struct {
			name string
			err  error
			want error
		}{
			{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, archive.ErrAccessDenied},
			{"throttled", &smithy.GenericAPIError{Code: "SlowDown"}, archive.ErrServiceUnavailable},
			{"no bucket", &types.NoSuchBucket{}, archive.ErrBucketNotFound},
			{"timeout", context.DeadlineExceeded, archive.ErrOperationTimeout},
			{"canceled", context.Canceled, archive.ErrOperationCanceled},
		}
		for _, tt := range tests {
			client := new(mockClient)
			client.On("PutObject", mock.Anything, mock.Anything).Return(nil, tt.err)

			_, err := newArchive(t, client).Put(context.Background(), "r.json", []byte("{}"), "application/json")
			assert.ErrorIs(t, err, tt.want, tt.name)
		}

		client := new(mockClient)
		client.On("PutObject", mock.Anything, mock.Anything).Return(nil, errors.New("boom"))
		_, err := newArchive(t, client).Put(context.Background(), "r.json", []byte("{}"), "")
		assert.ErrorContains(t, err, "put operation failed")
	})
}
