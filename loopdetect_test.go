package mta

import (
	"bytes"
	"strings"
	"testing"
)

func messageWithHops(n int) *bytes.Reader {
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteString("Received: from mx1.example.com by mx2.example.com\r\n")
	}
	b.WriteString("Subject: test\r\n\r\nbody\r\n")
	return bytes.NewReader([]byte(b.String()))
}

func TestDetectLoopUnderLimit(t *testing.T) {
	msg := messageWithHops(5)
	if err := detectLoop(msg, 10); err != nil {
		t.Fatalf("detectLoop: %v", err)
	}
}

func TestDetectLoopAtLimit(t *testing.T) {
	msg := messageWithHops(10)
	err := detectLoop(msg, 10)
	if err == nil {
		t.Fatal("expected ErrMailLoop when hop count reaches the limit")
	}
	loopErr, ok := err.(*ErrMailLoop)
	if !ok {
		t.Fatalf("expected *ErrMailLoop, got %T", err)
	}
	if loopErr.Hops != 10 || loopErr.Limit != 10 {
		t.Errorf("got %+v", loopErr)
	}
}

func TestDetectLoopCaseInsensitiveHeaderName(t *testing.T) {
	msg := bytes.NewReader([]byte("received: from a by b\r\nreceived: from b by c\r\n\r\nbody\r\n"))
	if err := detectLoop(msg, 2); err == nil {
		t.Fatal("expected loop detection regardless of header name case")
	}
}

func TestDetectLoopRewindsAfterScan(t *testing.T) {
	msg := messageWithHops(1)
	if err := detectLoop(msg, 10); err != nil {
		t.Fatalf("detectLoop: %v", err)
	}
	pos, err := msg.Seek(0, 1)
	if err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if pos != 0 {
		t.Errorf("expected content handle rewound to 0, got %d", pos)
	}
}

func TestDetectLoopDefaultLimitWhenNonPositive(t *testing.T) {
	msg := messageWithHops(DefaultMaxHops)
	if err := detectLoop(msg, 0); err == nil {
		t.Fatal("expected a 0 limit to fall back to DefaultMaxHops and still trip")
	}
}
