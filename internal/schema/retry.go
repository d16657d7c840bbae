package schema

// Source hands out the current cache of a store and can replace it.
type Source interface {
	// Schema returns the current cache, building it if there is none.
	Schema() (*Cache, error)
	// InvalidateSchema discards the current cache.
	InvalidateSchema()
}

// Retry runs fn against the current cache. If fn fails with a schema miss,
// the cache is discarded and fn runs exactly once more against a freshly
// built one. A second failure is returned as is.
func Retry(src Source, fn func(*Cache) error) error {
	c, err := src.Schema()
	if err != nil {
		return err
	}
	err = fn(c)
	if !IsMiss(err) {
		return err
	}

	src.InvalidateSchema()
	c, err = src.Schema()
	if err != nil {
		return err
	}
	return fn(c)
}
