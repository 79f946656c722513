package mta

import (
	"bufio"
	"io"
	"strings"

	"github.com/emersion/go-message/textproto"
)

// DefaultMaxHops is the default limit on Received: headers before a
// message is treated as looping and rejected outright rather than
// handed to a peer that will likely bounce it anyway.
const DefaultMaxHops = 100

// ErrMailLoop indicates the message has passed through more relays
// than the configured hop limit allows.
type ErrMailLoop struct {
	Hops  int
	Limit int
}

func (e *ErrMailLoop) Error() string {
	return "mta: mail loop detected"
}

// detectLoop counts Received: headers in the header region of a
// message and returns ErrMailLoop if the count reaches limit. The
// content handle is rewound to its start before, and after, the scan
// so the caller can stream the unmodified body afterward.
func detectLoop(h ContentHandle, limit int) error {
	if limit <= 0 {
		limit = DefaultMaxHops
	}

	if err := rewind(h); err != nil {
		return err
	}
	defer rewind(h) //nolint:errcheck // best effort; caller rewinds again before streaming

	hdr, err := textproto.ReadHeader(bufio.NewReader(io.LimitReader(h, 1<<20)))
	if err != nil && err != io.EOF {
		return err
	}

	hops := 0
	fields := hdr.Fields()
	for fields.Next() {
		if strings.EqualFold(fields.Key(), "Received") {
			hops++
		}
	}

	if hops >= limit {
		return &ErrMailLoop{Hops: hops, Limit: limit}
	}

	return nil
}
