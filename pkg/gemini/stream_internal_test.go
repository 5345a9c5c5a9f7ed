package gemini

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(t *testing.T, err error)
	}{
		{"interrupted syscall", &net.OpError{Op: "read", Err: os.NewSyscallError("read", syscall.EINTR)}, isErr(ErrInterrupted)},
		{"deadline", fmt.Errorf("read: %w", os.ErrDeadlineExceeded), isErr(ErrInterrupted)},
		{"eof", io.EOF, isErr(ErrTerminated)},
		{"reset", &net.OpError{Op: "read", Err: os.NewSyscallError("read", syscall.ECONNRESET)}, isErr(ErrTerminated)},
		{"aborted", &net.OpError{Op: "read", Err: os.NewSyscallError("read", syscall.ECONNABORTED)}, isErr(ErrTerminated)},
		{"closed", net.ErrClosed, isErr(ErrTerminated)},
		{"remote alert", &net.OpError{Op: "remote error", Err: errors.New("tls: bad certificate")}, isType[*TLSError]()},
		{"rejected", ErrCertificateRejected, isType[*TLSError]()},
		{"other", errors.New("disk on fire"), isType[*IOError]()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, classify("read", tt.err))
		})
	}
}

func TestClassifyHandshake(t *testing.T) {
	assert.IsType(t, &TLSError{}, classifyHandshake(errors.New("tls: server selected unsupported protocol version 301")))
	assert.IsType(t, &IOError{}, classifyHandshake(&net.OpError{Op: "write", Err: errors.New("broken")}))
	assert.ErrorIs(t, classifyHandshake(io.EOF), ErrTerminated)
}

func TestClassifyWrite(t *testing.T) {
	expired := &net.OpError{Op: "write", Err: os.ErrDeadlineExceeded}
	var ioErr *IOError
	assert.ErrorAs(t, classifyWrite(expired), &ioErr)
	assert.NotErrorIs(t, classifyWrite(expired), ErrInterrupted)
	assert.ErrorIs(t, classifyWrite(expired), os.ErrDeadlineExceeded)

	assert.Same(t, ErrInterrupted, classifyWrite(&net.OpError{Op: "write", Err: os.NewSyscallError("write", syscall.EINTR)}))
	assert.Same(t, ErrTerminated, classifyWrite(&net.OpError{Op: "write", Err: os.NewSyscallError("write", syscall.EPIPE)}))
}

func isErr(target error) func(t *testing.T, err error) {
	return func(t *testing.T, err error) {
		assert.Same(t, target, err)
	}
}

func isType[T error]() func(t *testing.T, err error) {
	return func(t *testing.T, err error) {
		var target T
		assert.ErrorAs(t, err, &target)
	}
}
