package flag

import (
	"flag"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffval"
)

// Config names a flag and its help text. The value type comes from the
// ffval value handed to Register.
type Config struct {
	Name  string
	Usage string
}

// Set wraps ff.FlagSet so the flag groups can hang registration helpers
// off it.
type Set struct {
	*ff.FlagSet
}

// Register adds one flag to the set. A duplicate name is a programming
// error, so it panics instead of returning it.
func (fs *Set) Register(f Config, fv flag.Value) {
	cfg := ff.FlagConfig{
		LongName: f.Name,
		Usage:    f.Usage,
		Value:    fv,
	}
	// Boolean flags take no argument; give help output a placeholder.
	if _, ok := fv.(*ffval.Bool); ok {
		cfg.Placeholder = "BOOL"
	}
	if _, err := fs.AddFlag(cfg); err != nil {
		panic(err)
	}
}
