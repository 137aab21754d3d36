package archive

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

type fakeS3 struct {
	inputs []*s3.PutObjectInput
	bodies [][]byte
	err    error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, _ := io.ReadAll(in.Body)
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func TestArchiveCallReport(t *testing.T) {
	fake := &fakeS3{}
	a := newS3Archiver(fake, "reports", "call-reports/")
	a.clock = func() time.Time { return time.Date(2024, 1, 2, 23, 30, 0, 0, time.FixedZone("EST", -5*3600)) }

	key, err := a.ArchiveCallReport(context.Background(), "demo.myshopify.com", "job-1", []byte(`{"type":"end-of-call-report"}`))
	require.NoError(t, err)
	assert.Equal(t, "call-reports/demo.myshopify.com/2024/01/03/job-1.json", key)

	require.Len(t, fake.inputs, 1)
	assert.Equal(t, "reports", aws.ToString(fake.inputs[0].Bucket))
	assert.Equal(t, "application/json", aws.ToString(fake.inputs[0].ContentType))
	assert.Equal(t, "job-1", fake.inputs[0].Metadata["call-job-id"])
	assert.JSONEq(t, `{"type":"end-of-call-report"}`, string(fake.bodies[0]))
}

func TestArchiveCallReport_WrapsError(t *testing.T) {
	fake := &fakeS3{err: errors.New("access denied")}
	a := newS3Archiver(fake, "reports", "")

	_, err := a.ArchiveCallReport(context.Background(), "s", "j", []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

func TestKey_EmptyPrefix(t *testing.T) {
	a := newS3Archiver(&fakeS3{}, "b", "")
	assert.Equal(t, "s/2024/05/06/j.json", a.Key("s", "j", time.Date(2024, 5, 6, 1, 0, 0, 0, time.UTC)))
}

func TestNewS3Archiver_RequiresBucket(t *testing.T) {
	_, err := NewS3Archiver(context.Background(), S3Config{})
	assert.Error(t, err)
}
