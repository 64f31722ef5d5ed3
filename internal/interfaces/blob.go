package interfaces

import "context"

// BlobStore is the large-payload facade. Keys are opaque strings; the
// artifact store and backup service derive their own key layout.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]string, error)
}
