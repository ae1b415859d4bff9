package s3store

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePutter struct {
	in   *s3.PutObjectInput
	body []byte
	err  error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.in = in
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.body = body
	return &s3.PutObjectOutput{}, nil
}

func TestSaveUploadsUnderDatedKey(t *testing.T) {
	put := &fakePutter{}
	files := NewWithClient(put, "avatars", "")
	files.now = func() time.Time { return time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC) }
	files.newID = func() string { return "abc" }

	key, err := files.Save(context.Background(), "profile_image.png", "image/png", []byte("png"))
	require.NoError(t, err)
	assert.Equal(t, "files/2026/03/07/abc/profile_image.png", key)
	assert.Equal(t, "avatars", aws.ToString(put.in.Bucket))
	assert.Equal(t, key, aws.ToString(put.in.Key))
	assert.Equal(t, "image/png", aws.ToString(put.in.ContentType))
	assert.Equal(t, int64(3), aws.ToInt64(put.in.ContentLength))
	assert.Equal(t, []byte("png"), put.body)
}

func TestSaveStripsDirectoriesFromName(t *testing.T) {
	put := &fakePutter{}
	files := NewWithClient(put, "b", "img")
	files.newID = func() string { return "id" }

	key, err := files.Save(context.Background(), "../../etc/passwd", "text/plain", nil)
	require.NoError(t, err)
	assert.Regexp(t, `^img/\d{4}/\d{2}/\d{2}/id/passwd$`, key)
}

func TestSaveWrapsUploadFailure(t *testing.T) {
	cause := errors.New("access denied")
	files := NewWithClient(&fakePutter{err: cause}, "b", "")

	_, err := files.Save(context.Background(), "a.png", "image/png", []byte("x"))
	assert.ErrorIs(t, err, cause)
}

func TestNewRequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Config{Region: "us-east-1"})
	assert.Error(t, err)
}
