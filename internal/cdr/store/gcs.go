package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"cloud.google.com/go/storage"
)

// gcsClients caches one *storage.Client per process; Application Default
// Credentials resolve the client's credentials.
var (
	gcsOnce   sync.Once
	gcsClient *storage.Client
	gcsErr    error
)

func getGCSClient(ctx context.Context) (*storage.Client, error) {
	gcsOnce.Do(func() {
		gcsClient, gcsErr = storage.NewClient(ctx)
	})
	return gcsClient, gcsErr
}

func (s *S3Like) putGCS(ctx context.Context, objectPath string, body []byte) error {
	client, err := getGCSClient(ctx)
	if err != nil {
		return fmt.Errorf("cdr: gcs client: %w", err)
	}
	w := client.Bucket(s.Bucket).Object(objectPath).NewWriter(ctx)
	if _, err := io.Copy(w, bytes.NewReader(body)); err != nil {
		w.Close()
		return fmt.Errorf("cdr: gcs write: %w", err)
	}
	return w.Close()
}

func readLocal(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func removeLocal(path string) {
	os.Remove(path)
}
