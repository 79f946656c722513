package mta

import (
	"bufio"
	"bytes"
	"io"
)

// highWaterMark is the number of unflushed outgoing body bytes the
// streamer will buffer before forcing a Write to the peer connection.
// This bounds how far the writer can get ahead of the network when
// the local reader (disk, queue) is faster than the remote SMTP
// server's TCP receive window.
const highWaterMark = 65536

// bodyStreamer writes a message body to the peer with SMTP
// dot-stuffing: any line that begins with '.' gets an extra '.'
// prepended, and the stream is terminated with the bare "." line.
type bodyStreamer struct {
	w   io.Writer
	buf bytes.Buffer
}

func newBodyStreamer(w io.Writer) *bodyStreamer {
	return &bodyStreamer{w: w}
}

// StreamFrom dot-stuffs and writes every line of r to the peer,
// flushing whenever the buffered amount reaches the high-water mark,
// and finally emits the end-of-data terminator.
func (s *bodyStreamer) StreamFrom(r io.Reader) (int64, error) {
	var written int64
	scanner := bufio.NewReaderSize(r, 64*1024)

	for {
		line, err := scanner.ReadBytes('\n')
		if len(line) > 0 {
			s.stuffLine(line)
			if s.buf.Len() >= highWaterMark {
				n, werr := s.w.Write(s.buf.Bytes())
				written += int64(n)
				s.buf.Reset()
				if werr != nil {
					return written, werr
				}
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return written, err
		}
	}

	s.buf.WriteString(".\r\n")
	if s.buf.Len() > 0 {
		n, err := s.w.Write(s.buf.Bytes())
		written += int64(n)
		s.buf.Reset()
		if err != nil {
			return written, err
		}
	}

	return written, nil
}

// stuffLine appends a single (possibly unterminated, if it's the
// final line of the body) line to the internal buffer, dot-stuffing
// it and normalizing its terminator to CRLF.
func (s *bodyStreamer) stuffLine(line []byte) {
	line = bytes.TrimSuffix(line, []byte("\n"))
	line = bytes.TrimSuffix(line, []byte("\r"))

	if len(line) > 0 && line[0] == '.' {
		s.buf.WriteByte('.')
	}
	s.buf.Write(line)
	s.buf.WriteString("\r\n")
}

// ContentHandle is the content-reading contract a Queue collaborator
// hands the session for one task's message body. It must support
// seeking back to the start, since the loop detector (loopdetect.go)
// makes a first pass over the header region before the body streamer
// makes its own full pass.
type ContentHandle = io.ReadSeeker

// rewind seeks a content handle back to its start, used after the
// loop detector's header scan and before transmitting the body.
func rewind(h ContentHandle) error {
	_, err := h.Seek(0, io.SeekStart)
	return err
}
