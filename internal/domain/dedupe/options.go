package dedupe

// Option applies a configuration option to the Deduper.
type Option func(*windowDeduper)

// WithWindow sets how many recent stored observations a candidate is compared to.
// Values below 1 are ignored; values above 50 are clamped.
func WithWindow(k int) Option {
	return func(d *windowDeduper) {
		if k < 1 {
			return
		}
		if k > maxWindow {
			k = maxWindow
		}
		d.window = k
	}
}
