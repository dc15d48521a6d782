package fetch

import "sync"

// DefaultAPIKey is used when no user key is configured. api.nasa.gov
// accepts it with a low hourly quota.
const DefaultAPIKey = "DEMO_KEY"

// KeyStore holds the API key override. Changing the key closes the channel
// handed out with the previous key so in-flight requests can restart.
type KeyStore struct {
	mu      sync.Mutex
	custom  string
	changed chan struct{}
}

// NewKeyStore returns a store with the given override ("" for the default).
func NewKeyStore(custom string) *KeyStore {
	return &KeyStore{custom: custom, changed: make(chan struct{})}
}

// Set replaces the override. An empty key restores the default.
// Setting the same key again is a no-op.
func (k *KeyStore) Set(custom string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if custom == k.custom {
		return
	}
	k.custom = custom
	close(k.changed)
	k.changed = make(chan struct{})
}

// Current returns the effective key and a channel closed on the next change.
func (k *KeyStore) Current() (string, <-chan struct{}) {
	k.mu.Lock()
	defer k.mu.Unlock()
	key := k.custom
	if key == "" {
		key = DefaultAPIKey
	}
	return key, k.changed
}

// IsCustom reports whether a user key is set.
func (k *KeyStore) IsCustom() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.custom != ""
}
