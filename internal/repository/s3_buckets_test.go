package repository_test

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bulkimport/bulkimport/internal/repository"
)

type fakeS3 struct {
	objects map[string][]byte
	listed  []string
	buckets []string
}

func (f *fakeS3) ListObjectsV2PagesWithContext(_ aws.Context, in *s3.ListObjectsV2Input, fn func(*s3.ListObjectsV2Output, bool) bool, _ ...request.Option) error {
	f.listed = append(f.listed, aws.StringValue(in.Prefix))
	var contents []*s3.Object
	for k, v := range f.objects {
		if bytes.HasPrefix([]byte(k), []byte(aws.StringValue(in.Prefix))) {
			contents = append(contents, &s3.Object{Key: aws.String(k), Size: aws.Int64(int64(len(v)))})
		}
	}
	// Two pages exercise the pagination callback.
	half := len(contents) / 2
	if fn(&s3.ListObjectsV2Output{Contents: contents[:half]}, false) {
		fn(&s3.ListObjectsV2Output{Contents: contents[half:]}, true)
	}
	return nil
}

func (f *fakeS3) GetObjectWithContext(_ aws.Context, in *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.StringValue(in.Key)]
	if !ok {
		return nil, awserr.New(s3.ErrCodeNoSuchKey, "The specified key does not exist.", nil)
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObjectWithContext(_ aws.Context, in *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.buckets = append(f.buckets, aws.StringValue(in.Bucket))
	f.objects[aws.StringValue(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func TestS3Buckets(t *testing.T) {
	api := &fakeS3{objects: map[string][]byte{
		"task-1/b.pdf":       []byte("pdf"),
		"task-1/a.csv":       []byte("a,b,c"),
		"task-1/nested/":     nil,
		"task-2/unrelated.x": []byte("x"),
	}}
	buckets := repository.NewS3Buckets(api, "imports")
	ctx := context.Background()

	t.Run("lists the prefix of the bucket id", func(t *testing.T) {
		objects, err := buckets.ListObjects(ctx, "task-1")
		require.NoError(t, err)
		assert.Equal(t, []repository.Object{
			{Key: "a.csv", Size: 5},
			{Key: "b.pdf", Size: 3},
		}, objects)
		assert.Equal(t, []string{"task-1/"}, api.listed)
	})

	t.Run("opens an object", func(t *testing.T) {
		rc, err := buckets.OpenObject(ctx, "task-1", "a.csv")
		require.NoError(t, err)
		defer rc.Close()
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, "a,b,c", string(data))
	})

	t.Run("missing object is not found", func(t *testing.T) {
		_, err := buckets.OpenObject(ctx, "task-1", "missing.txt")
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("writes under the bucket id prefix", func(t *testing.T) {
		obj, err := buckets.WriteObject(ctx, "task-3", "img/cover.png", strings.NewReader("png!"))
		require.NoError(t, err)
		assert.Equal(t, repository.Object{Key: "img/cover.png", Size: 4}, obj)
		assert.Equal(t, []byte("png!"), api.objects["task-3/img/cover.png"])
		assert.Equal(t, []string{"imports"}, api.buckets)

		objects, err := buckets.ListObjects(ctx, "task-3")
		require.NoError(t, err)
		assert.Equal(t, []repository.Object{{Key: "img/cover.png", Size: 4}}, objects)
	})
}
