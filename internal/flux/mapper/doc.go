// Package mapper materializes flux records into Go structs.
//
// Fields bind to columns through the flux struct tag:
//
//	type CPU struct {
//	    Host   string    `flux:"host"`
//	    Region string    `flux:"region"`
//	    Usage  float64   `flux:"_value"`
//	    At     time.Time `flux:",timestamp"`
//	    Notes  string    `flux:"-"`
//	}
//
// Untagged exported fields bind by field name. Column lookup ignores case and
// falls back to the name prefixed with an underscore, so a Value field binds
// _value and a Time field binds _time.
//
// Reflection results are cached per type; a Mapper is safe for concurrent use.
package mapper
