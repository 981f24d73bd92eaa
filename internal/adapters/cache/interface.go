package cache

type hitResult[T any] struct {
	data    T
	valid   bool
	claimed bool
}

// Cache is a keyed store supporting claim-then-set, so only one caller creates each entry
type Cache[T any] interface {
	// Return the entry for key, or claim it for the caller if there is none
	getOrClaim(key string) hitResult[T]
	set(key string, data T)
	delete(key string)
	// Back off before polling a claimed entry again
	wait()
}
