package table

import (
	"context"
	"encoding/csv"
	"io"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// StreamOptions configures the streaming delimited parser.
type StreamOptions struct {
	Delimiter rune   // default ','
	Charset   string // optional IANA charset; BOM-marked UTF-8/UTF-16 is always detected
}

// Decode wraps r so that UTF-8 and UTF-16 byte order marks are honoured and
// stripped. A non-empty charset is used when no BOM is present.
func Decode(r io.Reader, charset string) (io.Reader, error) {
	fallback := unicode.UTF8.NewDecoder()
	if charset != "" {
		enc, err := htmlindex.Get(charset)
		if err != nil {
			return nil, eris.Wrapf(err, "table: unsupported charset %q", charset)
		}
		fallback = enc.NewDecoder()
	}
	return transform.NewReader(r, unicode.BOMOverride(fallback)), nil
}

// StreamRows reads delimited records and sends them to a channel, header
// row included. Both channels are closed when processing completes.
func StreamRows(ctx context.Context, r io.Reader, opts StreamOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		dec, err := Decode(r, opts.Charset)
		if err != nil {
			errCh <- err
			return
		}

		reader := csv.NewReader(dec)
		if opts.Delimiter != 0 {
			reader.Comma = opts.Delimiter
		}
		reader.LazyQuotes = true
		reader.FieldsPerRecord = -1

		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "table: context cancelled")
				return
			}

			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "table: read row")
				return
			}

			select {
			case rowCh <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "table: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}
