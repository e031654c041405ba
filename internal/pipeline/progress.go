package pipeline

import (
	"os"

	"github.com/cheggaaa/pb/v3"
)

// newProgress starts a progress bar on stderr and returns its tick and
// finish funcs. Both are no-ops when disabled.
func newProgress(enabled bool, total int, prefix string) (tick func(), finish func()) {
	if !enabled || total <= 0 {
		return func() {}, func() {}
	}
	bar := pb.Full.New(total)
	bar.SetWriter(os.Stderr)
	bar.Set("prefix", prefix)
	bar.Set(pb.CleanOnFinish, true)
	bar.Start()
	return func() { bar.Increment() }, func() { bar.Finish() }
}
