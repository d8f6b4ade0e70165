package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

func TestLocalRoundTrip(t *testing.T) {
	ctx := context.Background()
	l := NewLocal(t.TempDir())

	meta := Metadata{
		ContentType: "application/pdf",
		Attrs:       map[string]string{"expectedValue": "450000", "fullName": "Jane Doe"},
	}
	key := Key("u-1", "r-1")
	if err := l.Put(ctx, key, []byte("%PDF-1.4"), meta); err != nil {
		t.Fatalf("Put: %v", err)
	}

	data, got, err := l.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(data) != "%PDF-1.4" {
		t.Errorf("data = %q", data)
	}
	if got.ContentType != "application/pdf" || got.Attrs["fullName"] != "Jane Doe" {
		t.Errorf("meta = %+v", got)
	}

	if err := l.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, _, err := l.Get(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Delete = %v, want ErrNotFound", err)
	}
	if err := l.Delete(ctx, key); err != nil {
		t.Errorf("second Delete = %v, want nil", err)
	}
}

func TestLocalRejectsEscapingKeys(t *testing.T) {
	l := NewLocal(t.TempDir())
	for _, key := range []string{"../x.pdf", "/etc/passwd", "", "a/../../b"} {
		if err := l.Put(context.Background(), key, []byte("x"), Metadata{}); err == nil {
			t.Errorf("Put(%q) succeeded", key)
		}
	}
}

func TestKey(t *testing.T) {
	if got := Key("u-1", "r-1"); got != "u-1/r-1.pdf" {
		t.Errorf("Key = %q", got)
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, Config{Backend: BackendLocal, Root: t.TempDir()})
	if err != nil {
		t.Fatalf("Open(local): %v", err)
	}
	if _, ok := s.(*Local); !ok {
		t.Errorf("Open(local) = %T", s)
	}

	if _, err := Open(ctx, Config{Backend: "ftp"}); err == nil {
		t.Error("Open(ftp) succeeded")
	}
	if _, err := Open(ctx, Config{Backend: BackendLocal}); err == nil {
		t.Error("Open(local) without root succeeded")
	}
	if _, err := Open(ctx, Config{Backend: BackendS3}); err == nil {
		t.Error("Open(s3) without bucket succeeded")
	}
	if _, err := Open(ctx, Config{Backend: BackendGCS}); err == nil {
		t.Error("Open(gcs) without bucket succeeded")
	}
}

type fakeS3 struct {
	objects map[string]*s3.PutObjectInput
	bodies  map[string][]byte
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string]*s3.PutObjectInput{}, bodies: map[string][]byte{}}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	key := aws.ToString(in.Key)
	f.objects[key] = in
	f.bodies[key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	key := aws.ToString(in.Key)
	put, ok := f.objects[key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:        io.NopCloser(bytes.NewReader(f.bodies[key])),
		ContentType: put.ContentType,
		Metadata:    put.Metadata,
	}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	s := NewS3WithClient(fake, "reports")

	meta := Metadata{ContentType: "application/pdf", Attrs: map[string]string{"email": "jane@example.com"}}
	if err := s.Put(ctx, "u-1/r-1.pdf", []byte("pdf"), meta); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if aws.ToString(fake.objects["u-1/r-1.pdf"].Bucket) != "reports" {
		t.Errorf("bucket = %q", aws.ToString(fake.objects["u-1/r-1.pdf"].Bucket))
	}

	data, got, err := s.Get(ctx, "u-1/r-1.pdf")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(data) != "pdf" || got.Attrs["email"] != "jane@example.com" || got.ContentType != "application/pdf" {
		t.Errorf("Get = %q %+v", data, got)
	}

	if err := s.Delete(ctx, "u-1/r-1.pdf"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, _, err := s.Get(ctx, "u-1/r-1.pdf"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Delete = %v, want ErrNotFound", err)
	}
}
