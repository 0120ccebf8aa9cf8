package s3

import (
	"bytes"
	"context"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/marmos91/feedfs/pkg/store"
	storetesting "github.com/marmos91/feedfs/pkg/store/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 is an in-memory bucket answering the calls the store makes.
// Listings are paginated two keys at a time to exercise the paginator.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	lists   int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(append([]byte(nil), data...)))}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.objects[aws.ToString(in.Key)] = data
	f.mu.Unlock()
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	delete(f.objects, aws.ToString(in.Key))
	f.mu.Unlock()
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++

	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if in.ContinuationToken != nil {
		start, _ = strconv.Atoi(*in.ContinuationToken)
	}
	end := start + 2
	if end > len(keys) {
		end = len(keys)
	}

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(strconv.Itoa(end))
	}
	return out, nil
}

func TestS3Store(t *testing.T) {
	suite := &storetesting.StoreTestSuite{
		NewStore: func(t *testing.T) store.Storage {
			return NewWithClient(newFakeS3(), "feeds", "feedfs/")
		},
	}
	suite.Run(t)
}

func TestS3StoreKeyPrefix(t *testing.T) {
	fake := newFakeS3()
	s := NewWithClient(fake, "feeds", "articles/")
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, s.Put(ctx, store.Key("demo", id), []byte(id)))
	}

	_, ok := fake.objects["articles/demo:a"]
	assert.True(t, ok, "object key carries the prefix")

	keys, err := s.List(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, []string{"demo:a", "demo:b", "demo:c", "demo:d", "demo:e"}, keys)
	assert.Equal(t, 3, fake.lists, "five keys span three pages")
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(context.Background(), Config{Region: "us-east-1"})
	assert.Error(t, err)

	_, err = New(context.Background(), Config{Bucket: "feeds"})
	assert.Error(t, err)
}

// TestS3StoreIntegration runs the contract suite against a real endpoint
// (Localstack or MinIO) when FEEDFS_S3_TEST_ENDPOINT is set.
func TestS3StoreIntegration(t *testing.T) {
	endpoint := os.Getenv("FEEDFS_S3_TEST_ENDPOINT")
	if endpoint == "" {
		t.Skip("FEEDFS_S3_TEST_ENDPOINT not set")
	}
	bucket := os.Getenv("FEEDFS_S3_TEST_BUCKET")
	if bucket == "" {
		bucket = "feedfs-test"
	}

	suite := &storetesting.StoreTestSuite{
		NewStore: func(t *testing.T) store.Storage {
			s, err := New(context.Background(), Config{
				Endpoint:        endpoint,
				Region:          "us-east-1",
				Bucket:          bucket,
				AccessKeyID:     "test",
				SecretAccessKey: "test",
				KeyPrefix:       strings.ReplaceAll(t.Name(), "/", "_") + "/",
			})
			require.NoError(t, err)
			return s
		},
	}
	suite.Run(t)
}
