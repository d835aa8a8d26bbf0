package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/viant/afs"
	"github.com/viant/afs/url"
	"github.com/viant/mcphub/auth"
	"github.com/viant/scy"
)

// scyStore keeps token records encrypted at rest with a viant/scy KMS key
// (e.g. blowfish://default; import the matching kms driver in the binary).
type scyStore struct {
	secrets *scy.Service
	fs      afs.Service
	baseURL string
	key     string
	mux     sync.Mutex
}

// NewScyStore creates an encrypted TokenStore rooted at baseURL using the
// supplied scy KMS key.
func NewScyStore(baseURL, key string) auth.TokenStore {
	return &scyStore{secrets: scy.New(), fs: afs.New(), baseURL: baseURL, key: key}
}

func (s *scyStore) Store(ctx context.Context, serverID string, tokens *auth.Tokens) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	data, err := json.Marshal(tokens)
	if err != nil {
		return err
	}
	resource := scy.NewResource("", s.recordURL(serverID), s.key)
	secret := scy.NewSecret(string(data), resource)
	if err = s.secrets.Store(ctx, secret); err != nil {
		return fmt.Errorf("failed to store encrypted tokens for %s: %w", serverID, err)
	}
	return nil
}

func (s *scyStore) Retrieve(ctx context.Context, serverID string) (*auth.Tokens, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	URL := s.recordURL(serverID)
	if ok, _ := s.fs.Exists(ctx, URL); !ok {
		return nil, nil
	}
	secret, err := s.secrets.Load(ctx, scy.NewResource("", URL, s.key))
	if err != nil {
		return nil, fmt.Errorf("failed to load encrypted tokens for %s: %w", serverID, err)
	}
	tokens := &auth.Tokens{}
	if err = json.Unmarshal([]byte(secret.String()), tokens); err != nil {
		return nil, fmt.Errorf("corrupted token record for %s: %w", serverID, err)
	}
	return tokens, nil
}

func (s *scyStore) Delete(ctx context.Context, serverID string) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	URL := s.recordURL(serverID)
	if ok, _ := s.fs.Exists(ctx, URL); !ok {
		return nil
	}
	return s.fs.Delete(ctx, URL)
}

func (s *scyStore) List(ctx context.Context) ([]string, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	if ok, _ := s.fs.Exists(ctx, s.baseURL); !ok {
		return nil, nil
	}
	objects, err := s.fs.List(ctx, s.baseURL)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, object := range objects {
		if object.IsDir() || !strings.HasSuffix(object.Name(), ".enc") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(object.Name(), ".enc"))
	}
	return ids, nil
}

func (s *scyStore) recordURL(serverID string) string {
	return url.Join(s.baseURL, serverID+".enc")
}
