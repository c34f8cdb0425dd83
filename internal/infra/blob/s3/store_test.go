package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"testing"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"platecore/internal/blob/core"
)

type fakeObject struct {
	body        []byte
	contentType string
	metadata    map[string]string
}

// fakeBucket is an in-memory objectAPI; pageSize forces ListObjectsV2 pagination.
type fakeBucket struct {
	objects  map[string]fakeObject
	pageSize int
	failPut  error
	deleted  []string
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{objects: make(map[string]fakeObject), pageSize: 1}
}

var modified = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func (f *fakeBucket) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(obj.body))),
		ContentType:   aws.String(obj.contentType),
		ETag:          aws.String(`"etag"`),
		Metadata:      obj.metadata,
		LastModified:  aws.Time(modified),
	}, nil
}

func (f *fakeBucket) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.failPut != nil {
		return nil, f.failPut
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = fakeObject{body: body, contentType: aws.ToString(in.ContentType), metadata: in.Metadata}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeBucket) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(obj.body)),
		ContentLength: aws.Int64(int64(len(obj.body))),
		ContentType:   aws.String(obj.contentType),
		LastModified:  aws.Time(modified),
	}, nil
}

func (f *fakeBucket) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(in.Key))
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeBucket) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	start := 0
	if in.ContinuationToken != nil {
		for i, k := range keys {
			if k == *in.ContinuationToken {
				start = i
			}
		}
	}
	end := min(start+f.pageSize, len(keys))
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k), Size: aws.Int64(int64(len(f.objects[k].body)))})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(keys[end])
	}
	return out, nil
}

type fakePresigner struct{ expiry time.Duration }

func (p *fakePresigner) PresignGetObject(_ context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	var opts s3.PresignOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	p.expiry = opts.Expires
	return &v4.PresignedHTTPRequest{URL: "https://bucket.example/" + aws.ToString(in.Key) + "?sig=1"}, nil
}

func TestStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	bucket := newFakeBucket()
	presign := &fakePresigner{}
	store := newStore(bucket, presign, "reports", "/platecore/")

	info, err := store.Put(ctx, "runs/r1/report.csv", strings.NewReader("a,b\n"), core.PutOptions{ContentType: "text/csv", Metadata: map[string]string{"run": "r1"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "runs/r1/report.csv" || info.Size != 4 || info.ETag != "etag" {
		t.Fatalf("unexpected info: %+v", info)
	}
	if _, ok := bucket.objects["platecore/runs/r1/report.csv"]; !ok {
		t.Fatalf("expected prefixed object key, got %v", bucket.objects)
	}
	if _, err := store.Put(ctx, "runs/r1/report.csv", strings.NewReader("x"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}

	got, rc, err := store.Get(ctx, "runs/r1/report.csv")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != "a,b\n" || got.ContentType != "text/csv" {
		t.Fatalf("unexpected get: %+v %q", got, body)
	}

	if _, err := store.Put(ctx, "runs/r2/report.json", strings.NewReader("{}"), core.PutOptions{}); err != nil {
		t.Fatalf("put r2: %v", err)
	}
	list, err := store.List(ctx, "runs/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Key != "runs/r1/report.csv" || list[1].Key != "runs/r2/report.json" {
		t.Fatalf("unexpected list: %+v", list)
	}

	url, err := store.PresignURL(ctx, "runs/r1/report.csv", core.SignedURLOptions{})
	if err != nil || !strings.Contains(url, "platecore/runs/r1/report.csv") {
		t.Fatalf("presign: %q %v", url, err)
	}
	if presign.expiry != 15*time.Minute {
		t.Fatalf("expected default expiry, got %v", presign.expiry)
	}
	if _, err := store.PresignURL(ctx, "runs/r1/report.csv", core.SignedURLOptions{Method: "PUT"}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("expected unsupported, got %v", err)
	}

	existed, err := store.Delete(ctx, "runs/r1/report.csv")
	if err != nil || !existed {
		t.Fatalf("delete: %v %v", existed, err)
	}
	existed, err = store.Delete(ctx, "runs/r1/report.csv")
	if err != nil || existed {
		t.Fatalf("second delete: %v %v", existed, err)
	}
	if len(bucket.deleted) != 1 {
		t.Fatalf("expected one DeleteObject call, got %v", bucket.deleted)
	}
	if _, err := store.Head(ctx, "runs/r1/report.csv"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, _, err := store.Get(ctx, "runs/r1/report.csv"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from get, got %v", err)
	}
}

func TestStoreRejectsBadKeysAndPropagatesErrors(t *testing.T) {
	ctx := context.Background()
	bucket := newFakeBucket()
	store := newStore(bucket, &fakePresigner{}, "reports", "")
	if store.Driver() != core.DriverS3 {
		t.Fatalf("unexpected driver %s", store.Driver())
	}
	for _, key := range []string{"", "/abs", "../up"} {
		if _, err := store.Put(ctx, key, strings.NewReader("x"), core.PutOptions{}); err == nil {
			t.Fatalf("expected key error for %q", key)
		}
	}
	bucket.failPut = errors.New("throttled")
	if _, err := store.Put(ctx, "k", strings.NewReader("x"), core.PutOptions{}); err == nil || !strings.Contains(err.Error(), "throttled") {
		t.Fatalf("expected put error, got %v", err)
	}
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected bucket error")
	}
}
