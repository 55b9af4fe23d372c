package watcher

import "time"

// Options configures the file watcher behavior.
type Options struct {
	// SettleDelay is how long a file must stay unchanged before its
	// change is reported.
	SettleDelay time.Duration
}

// setDefaults applies default values to unset options.
func (o *Options) setDefaults() {
	if o.SettleDelay <= 0 {
		o.SettleDelay = 100 * time.Millisecond
	}
}
