package memory

import (
	"context"

	"salesbot-wa-be/internal/repository/contract"

	"github.com/patrickmn/go-cache"
)

// CredentialRepository keeps credentials for the life of the process.
type CredentialRepository struct {
	cache *cache.Cache
}

func NewCredentialRepository() contract.CredentialRepository {
	// credentials never expire on their own, only Purge drops them
	return &CredentialRepository{cache: cache.New(cache.NoExpiration, 0)}
}

func (r *CredentialRepository) Save(ctx context.Context, kind string, blob []byte) error {
	cp := make([]byte, len(blob))
	copy(cp, blob)
	r.cache.Set(kind, cp, cache.NoExpiration)
	return nil
}

func (r *CredentialRepository) Load(ctx context.Context, kind string) ([]byte, error) {
	if x, found := r.cache.Get(kind); found {
		return x.([]byte), nil
	}
	return nil, nil
}

func (r *CredentialRepository) Purge(ctx context.Context, kind string) error {
	r.cache.Delete(kind)
	return nil
}
