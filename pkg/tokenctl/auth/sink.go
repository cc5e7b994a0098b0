package auth

import (
	"fmt"
	"io"
)

// MessageSink receives the device code instructions for display.
type MessageSink interface {
	ShowDeviceCode(code DeviceCode)
}

// MessageSinkFunc adapts a plain function to MessageSink.
type MessageSinkFunc func(code DeviceCode)

func (f MessageSinkFunc) ShowDeviceCode(code DeviceCode) {
	f(code)
}

// WriterSink prints the instruction message on its own line.
type WriterSink struct {
	W io.Writer
}

func (s WriterSink) ShowDeviceCode(code DeviceCode) {
	if s.W == nil {
		return
	}
	msg := code.Message
	if msg == "" {
		msg = fmt.Sprintf("Visit %s and enter code: %s", code.VerificationURI, code.UserCode)
	}
	_, _ = fmt.Fprintln(s.W, msg)
}
