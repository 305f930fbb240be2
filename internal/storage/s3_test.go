package storage_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"dubline/internal/services"
	"dubline/internal/storage"
)

type fakeS3 struct {
	objects map[string][]byte
	puts    []*s3.PutObjectInput
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	f.puts = append(f.puts, in)
	return &s3.PutObjectOutput{}, nil
}

func TestParseURI(t *testing.T) {
	tests := []struct {
		ref         string
		bucket, key string
		wantErr     bool
	}{
		{ref: "s3://media/in/clip.mp4", bucket: "media", key: "in/clip.mp4"},
		{ref: "s3://media/", wantErr: true},
		{ref: "s3://media/dir/", wantErr: true},
		{ref: "/local/clip.mp4", wantErr: true},
	}
	for _, tt := range tests {
		bucket, key, err := storage.ParseURI(tt.ref)
		if tt.wantErr {
			if !errors.Is(err, services.ErrValidation) {
				t.Fatalf("ParseURI(%q) expected validation error, got %v", tt.ref, err)
			}
			continue
		}
		if err != nil || bucket != tt.bucket || key != tt.key {
			t.Fatalf("ParseURI(%q) = %q, %q, %v", tt.ref, bucket, key, err)
		}
	}
	if !storage.IsRemote(" s3://a/b") || storage.IsRemote("/tmp/a") {
		t.Fatal("IsRemote misclassified a reference")
	}
}

func TestFetchAndPublish(t *testing.T) {
	api := &fakeS3{objects: map[string][]byte{"media/in/clip.mp4": []byte("video-bytes")}}
	store := storage.NewWithAPI(api, "out-bucket", "/dubs/", nil)
	dir := t.TempDir()

	local, err := store.Fetch(context.Background(), "s3://media/in/clip.mp4", filepath.Join(dir, "inputs"))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	data, err := os.ReadFile(local)
	if err != nil || string(data) != "video-bytes" || filepath.Base(local) != "clip.mp4" {
		t.Fatalf("unexpected fetched file %q: %q, %v", local, data, err)
	}
	if _, err := store.Fetch(context.Background(), "s3://media/missing.mp4", dir); !errors.Is(err, services.ErrCollaborator) {
		t.Fatalf("expected collaborator error for missing object, got %v", err)
	}

	uri, err := store.Publish(context.Background(), "job-1", local)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if uri != "s3://out-bucket/dubs/job-1/clip.mp4" {
		t.Fatalf("unexpected uri %q", uri)
	}
	if got := aws.ToString(api.puts[0].ContentType); got != "video/mp4" {
		t.Fatalf("unexpected content type %q", got)
	}
	if string(api.objects["out-bucket/dubs/job-1/clip.mp4"]) != "video-bytes" {
		t.Fatal("published object content mismatch")
	}
}

func TestNilStoreReportsDisabled(t *testing.T) {
	var store *storage.Store
	if _, err := store.Fetch(context.Background(), "s3://a/b.mp4", t.TempDir()); !errors.Is(err, storage.ErrDisabled) {
		t.Fatalf("expected disabled error, got %v", err)
	}
}
