// Package streamnorm is the Stream Normalizer (C2): a generic line-splitter
// that turns a raw byte stream into a lazy sequence of adapter-normalized
// entries, plus a JSON-RPC-over-stdio framing helper for engines that speak
// that protocol (opencode).
package streamnorm

import (
	"bufio"
	"io"
	"strings"

	"github.com/WuChenDi/bitk/internal/client"
)

// ParseLine maps one complete, non-blank line to at most one normalized
// entry. Matches client.ParseLineFunc's shape so any adapter's
// NormalizeLogLine can be passed directly.
type ParseLine func(line string) (*client.NormalizedEntry, error)

// Normalize reads r to EOF, splitting on '\n' and feeding every full,
// non-blank line to parse, sending each yielded entry to out. The final
// fragment (if non-blank and the stream ended without a trailing newline)
// is parsed once before returning. The reader is never closed here; the
// caller owns its lifecycle.
func Normalize(r io.Reader, parse ParseLine, out chan<- client.NormalizedEntry) error {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		entry, err := parse(line)
		if err != nil || entry == nil {
			continue
		}
		out <- *entry
	}
	return scanner.Err()
}
