package contract

import "context"

// CredentialRepository persists opaque pairing credentials per driver kind.
// Load returns (nil, nil) when nothing is stored.
type CredentialRepository interface {
	Save(ctx context.Context, kind string, blob []byte) error
	Load(ctx context.Context, kind string) ([]byte, error)
	Purge(ctx context.Context, kind string) error
}
