package checkpoint

import "time"

// Watermark marks how far incremental processing has progressed. The zero
// value means "never processed" and extraction starts from the epoch.
type Watermark struct {
	LastProcessed time.Time `json:"last_processed"`
}

func Epoch() Watermark {
	return Watermark{LastProcessed: time.Unix(0, 0).UTC()}
}

func (w Watermark) IsZero() bool {
	return w.LastProcessed.IsZero()
}

// Advance returns a watermark moved forward to ts. Watermarks only move
// forward: an older ts leaves the watermark unchanged.
func (w Watermark) Advance(ts time.Time) Watermark {
	if ts.After(w.LastProcessed) {
		return Watermark{LastProcessed: ts}
	}
	return w
}
