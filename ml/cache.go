package ml

// CacheConfig describes the layout of the paged KV cache that a step's
// block tables refer to. It is supplied by the cache allocator and treated
// as read-only here.
type CacheConfig struct {
	// BlockSize is the number of tokens stored per physical cache block.
	BlockSize int32

	// WindowSize caps the visible KV history for sliding window attention.
	// 0 disables the window: every cached token stays visible.
	WindowSize int32
}
