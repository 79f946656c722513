package mta

import (
	"fmt"
	"strings"

	"golang.org/x/net/idna"
)

// CommandVerb represents an outbound SMTP command verb.
type CommandVerb string

const (
	CmdEHLO     CommandVerb = "EHLO"
	CmdHELO     CommandVerb = "HELO"
	CmdSTARTTLS CommandVerb = "STARTTLS"
	CmdAUTH     CommandVerb = "AUTH"
	CmdMAIL     CommandVerb = "MAIL"
	CmdRCPT     CommandVerb = "RCPT"
	CmdDATA     CommandVerb = "DATA"
	CmdRSET     CommandVerb = "RSET"
	CmdNOOP     CommandVerb = "NOOP"
	CmdQUIT     CommandVerb = "QUIT"
)

// String returns the command verb as a string.
func (c CommandVerb) String() string {
	return string(c)
}

// CommandLine is a fully rendered, CRLF-terminated command ready to
// be written to the peer.
type CommandLine = string

// ErrInjectionAttempt indicates a command argument contained a
// control byte (CR, LF or NUL) that could be used to smuggle an
// extra command or corrupt the wire protocol.
type ErrInjectionAttempt struct {
	Verb  CommandVerb
	Value string
}

func (e *ErrInjectionAttempt) Error() string {
	return fmt.Sprintf("mta: %s argument contains a control byte: %q", e.Verb, e.Value)
}

// containsControlByte reports whether s contains a CR, LF, or NUL
// byte. Arguments come from envelope data supplied by the queue; they
// must never be interpolated into a command line unchecked, since a
// %s-style builder would otherwise let a crafted address inject an
// arbitrary second command.
func containsControlByte(s string) bool {
	return strings.ContainsAny(s, "\r\n\x00")
}

// commandBuilder renders outbound SMTP commands, rejecting any
// argument that could smuggle additional protocol lines.
type commandBuilder struct{}

func newCommandBuilder() commandBuilder { return commandBuilder{} }

// Ehlo renders "EHLO <hostname>\r\n". The hostname is converted to
// its ASCII-compatible encoding (A-label) so internationalized local
// hostnames are safe to send even if the peer does not support
// SMTPUTF8.
func (b commandBuilder) Ehlo(hostname string) (CommandLine, error) {
	ascii, err := idna.ToASCII(hostname)
	if err != nil {
		ascii = hostname
	}
	if containsControlByte(ascii) {
		return "", &ErrInjectionAttempt{Verb: CmdEHLO, Value: ascii}
	}
	return fmt.Sprintf("EHLO %s\r\n", ascii), nil
}

// Helo renders "HELO <hostname>\r\n".
func (b commandBuilder) Helo(hostname string) (CommandLine, error) {
	ascii, err := idna.ToASCII(hostname)
	if err != nil {
		ascii = hostname
	}
	if containsControlByte(ascii) {
		return "", &ErrInjectionAttempt{Verb: CmdHELO, Value: ascii}
	}
	return fmt.Sprintf("HELO %s\r\n", ascii), nil
}

// StartTls renders "STARTTLS\r\n".
func (b commandBuilder) StartTls() CommandLine {
	return "STARTTLS\r\n"
}

// AuthPlain renders "AUTH PLAIN <blob>\r\n". The blob is the relay's
// pre-formed base64 SASL PLAIN payload; the session never constructs
// it itself.
func (b commandBuilder) AuthPlain(blob string) (CommandLine, error) {
	if containsControlByte(blob) {
		return "", &ErrInjectionAttempt{Verb: CmdAUTH, Value: blob}
	}
	return fmt.Sprintf("AUTH PLAIN %s\r\n", blob), nil
}

// MailFrom renders "MAIL FROM:<addr> [SIZE=n]\r\n".
func (b commandBuilder) MailFrom(addr string, size int64) (CommandLine, error) {
	if containsControlByte(addr) {
		return "", &ErrInjectionAttempt{Verb: CmdMAIL, Value: addr}
	}
	if size > 0 {
		return fmt.Sprintf("MAIL FROM:<%s> SIZE=%d\r\n", addr, size), nil
	}
	return fmt.Sprintf("MAIL FROM:<%s>\r\n", addr), nil
}

// RcptTo renders "RCPT TO:<addr>\r\n".
func (b commandBuilder) RcptTo(addr string) (CommandLine, error) {
	if containsControlByte(addr) {
		return "", &ErrInjectionAttempt{Verb: CmdRCPT, Value: addr}
	}
	return fmt.Sprintf("RCPT TO:<%s>\r\n", addr), nil
}

// Data renders "DATA\r\n".
func (b commandBuilder) Data() CommandLine {
	return "DATA\r\n"
}

// Rset renders "RSET\r\n".
func (b commandBuilder) Rset() CommandLine {
	return "RSET\r\n"
}

// Quit renders "QUIT\r\n".
func (b commandBuilder) Quit() CommandLine {
	return "QUIT\r\n"
}

// EndOfData renders the bare end-of-data terminator "." followed by CRLF.
func (b commandBuilder) EndOfData() CommandLine {
	return ".\r\n"
}
