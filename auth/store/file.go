package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"
	"github.com/viant/mcphub/auth"
)

// fileStore persists one JSON document per server id under a base URL. Any
// viant/afs scheme works (file://, mem://, s3:// ...), which is also what
// makes it trivially testable.
type fileStore struct {
	fs      afs.Service
	baseURL string
	mux     sync.Mutex
}

// NewFileStore creates a TokenStore rooted at baseURL.
func NewFileStore(baseURL string) auth.TokenStore {
	return &fileStore{fs: afs.New(), baseURL: baseURL}
}

func (f *fileStore) Store(ctx context.Context, serverID string, tokens *auth.Tokens) error {
	f.mux.Lock()
	defer f.mux.Unlock()
	data, err := json.MarshalIndent(tokens, "", "  ")
	if err != nil {
		return err
	}
	if err = f.fs.Upload(ctx, f.recordURL(serverID), file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to store tokens for %s: %w", serverID, err)
	}
	return nil
}

func (f *fileStore) Retrieve(ctx context.Context, serverID string) (*auth.Tokens, error) {
	f.mux.Lock()
	defer f.mux.Unlock()
	URL := f.recordURL(serverID)
	if ok, _ := f.fs.Exists(ctx, URL); !ok {
		return nil, nil
	}
	data, err := f.fs.DownloadWithURL(ctx, URL)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokens for %s: %w", serverID, err)
	}
	tokens := &auth.Tokens{}
	if err = json.Unmarshal(data, tokens); err != nil {
		return nil, fmt.Errorf("corrupted token record for %s: %w", serverID, err)
	}
	return tokens, nil
}

func (f *fileStore) Delete(ctx context.Context, serverID string) error {
	f.mux.Lock()
	defer f.mux.Unlock()
	URL := f.recordURL(serverID)
	if ok, _ := f.fs.Exists(ctx, URL); !ok {
		return nil
	}
	return f.fs.Delete(ctx, URL)
}

func (f *fileStore) List(ctx context.Context) ([]string, error) {
	f.mux.Lock()
	defer f.mux.Unlock()
	if ok, _ := f.fs.Exists(ctx, f.baseURL); !ok {
		return nil, nil
	}
	objects, err := f.fs.List(ctx, f.baseURL)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, object := range objects {
		if object.IsDir() || !strings.HasSuffix(object.Name(), ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(object.Name(), ".json"))
	}
	return ids, nil
}

func (f *fileStore) recordURL(serverID string) string {
	return url.Join(f.baseURL, serverID+".json")
}
