package client

import "context"

// Mutate performs an optimistic update of key. optimistic rewrites the
// cached bytes before commit runs; if commit fails the bytes captured by this
// call are restored verbatim and a *MutationFailedError carrying message is
// returned. On success the key is refreshed from the server.
//
// The snapshot belongs to this call alone, so realtime events or other
// mutations touching key in the meantime cannot alter what is restored.
func Mutate(ctx context.Context, cache *Cache, key string, optimistic func(current []byte) ([]byte, error), commit func(ctx context.Context) error, message string) error {
	snapshot, applied, err := cache.apply(key, optimistic)
	if err != nil {
		return &MutationFailedError{Key: key, Message: message, Err: err}
	}

	if err := commit(ctx); err != nil {
		if applied {
			cache.restore(key, snapshot)
		}
		return &MutationFailedError{Key: key, Message: message, Err: err}
	}

	cache.Refresh(key)
	return nil
}
