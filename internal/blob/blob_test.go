package blob

import (
	"context"
	"path/filepath"
	"testing"

	"platecore/internal/config"
)

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		cfg  config.Blob
		want Driver
	}{
		{config.Blob{Driver: "fs", FSRoot: filepath.Join(t.TempDir(), "a")}, DriverFilesystem},
		{config.Blob{FSRoot: filepath.Join(t.TempDir(), "b")}, DriverFilesystem},
		{config.Blob{Driver: "memory"}, DriverMemory},
		{config.Blob{Driver: "s3", S3Bucket: "reports", S3AccessKey: "AKIA", S3SecretKey: "secret", S3Endpoint: "http://127.0.0.1:9000", S3PathStyle: true}, DriverS3},
	}
	for _, tc := range cases {
		store, err := Open(ctx, tc.cfg)
		if err != nil {
			t.Fatalf("open %+v: %v", tc.cfg, err)
		}
		if store.Driver() != tc.want {
			t.Fatalf("expected %s, got %s", tc.want, store.Driver())
		}
	}
	if _, err := Open(ctx, config.Blob{Driver: "gcs"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
	if _, err := Open(ctx, config.Blob{Driver: "s3"}); err == nil {
		t.Fatalf("expected missing bucket error")
	}
}
