package ibkr

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"reflect"
	"syscall"
	"testing"

	"github.com/tathienbao/ibwatch/internal/broker"
)

func TestEncodeMessage_Framing(t *testing.T) {
	got := encodeMessage("49", "1")
	want := []byte{0, 0, 0, 5, '4', '9', 0, '1', 0}

	if !bytes.Equal(got, want) {
		t.Errorf("encodeMessage = %v, want %v", got, want)
	}
}

func TestHandshakePrefix(t *testing.T) {
	got := handshakePrefix(100, 176)
	want := append([]byte("API\x00"), 0, 0, 0, 9)
	want = append(want, []byte("v100..176")...)

	if !bytes.Equal(got, want) {
		t.Errorf("handshakePrefix = %q, want %q", got, want)
	}
}

func TestReadFrame(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want []string
	}{
		{"current time", encodeMessage("49", "1", "1760621400"), []string{"49", "1", "1760621400"}},
		{"empty trailing field", encodeMessage("71", "2", "1", ""), []string{"71", "2", "1", ""}},
		{"empty payload", frame(nil), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readFrame(bufio.NewReader(bytes.NewReader(tt.in)))
			if err != nil {
				t.Fatalf("readFrame: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("readFrame = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReadFrame_Consecutive(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(encodeMessage("9", "1", "1"))
	buf.Write(encodeMessage("49", "1", "42"))

	r := bufio.NewReader(&buf)
	first, err := readFrame(r)
	if err != nil || first[0] != "9" {
		t.Fatalf("first frame = %v, err = %v", first, err)
	}
	second, err := readFrame(r)
	if err != nil || second[2] != "42" {
		t.Fatalf("second frame = %v, err = %v", second, err)
	}
}

func TestReadFrame_TooLarge(t *testing.T) {
	in := []byte{0xff, 0xff, 0xff, 0xff}

	_, err := readFrame(bufio.NewReader(bytes.NewReader(in)))
	if !errors.Is(err, errFrameTooLarge) {
		t.Errorf("expected errFrameTooLarge, got %v", err)
	}
}

func TestReadFrame_Truncated(t *testing.T) {
	in := encodeMessage("49", "1", "1760621400")

	_, err := readFrame(bufio.NewReader(bytes.NewReader(in[:len(in)-3])))
	if err == nil {
		t.Error("expected error for truncated frame")
	}
}

func TestClassifyDialError(t *testing.T) {
	dialErr := func(errno syscall.Errno) error {
		return &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", errno)}
	}

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"refused", dialErr(syscall.ECONNREFUSED), broker.ErrConnectionRefused},
		{"host unreachable", dialErr(syscall.EHOSTUNREACH), broker.ErrHostUnreachable},
		{"network unreachable", dialErr(syscall.ENETUNREACH), broker.ErrHostUnreachable},
		{"dns", &net.OpError{Op: "dial", Net: "tcp", Err: &net.DNSError{Err: "no such host", Name: "tws.invalid", IsNotFound: true}}, broker.ErrAddress},
		{"bad address", &net.AddrError{Err: "missing port in address", Addr: "127.0.0.1"}, broker.ErrAddress},
		{"deadline", context.DeadlineExceeded, broker.ErrConnectionTimeout},
		{"other", dialErr(syscall.EPERM), broker.ErrTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyDialError(tt.err)
			if !errors.Is(got, tt.want) {
				t.Errorf("classifyDialError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}

	if classifyDialError(nil) != nil {
		t.Error("expected nil for nil error")
	}
	if got := classifyDialError(context.Canceled); !errors.Is(got, context.Canceled) {
		t.Errorf("expected context.Canceled to pass through, got %v", got)
	}
}

func TestClassifyWriteError(t *testing.T) {
	if err := classifyWriteError(net.ErrClosed); !errors.Is(err, broker.ErrNotConnected) {
		t.Errorf("closed conn: got %v, want ErrNotConnected", err)
	}
	if err := classifyWriteError(os.NewSyscallError("write", syscall.ECONNREFUSED)); !errors.Is(err, broker.ErrConnectionRefused) {
		t.Errorf("refused: got %v, want ErrConnectionRefused", err)
	}
	if err := classifyWriteError(syscall.EPIPE); !errors.Is(err, broker.ErrTransport) {
		t.Errorf("broken pipe: got %v, want ErrTransport", err)
	}
}
