package errcode

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestMapDriverErr(t *testing.T) {
	for _, c := range []struct {
		err  error
		want Code
	}{
		{nil, OK},
		{errors.New("nack"), IOError},
		{context.DeadlineExceeded, Timeout},
		{fmt.Errorf("tx: %w", context.Canceled), Busy},
		{Busy, Busy},
		{fmt.Errorf("enqueue: %w", Timeout), Timeout},
	} {
		if got := MapDriverErr(c.err); got != c.want {
			t.Fatalf("MapDriverErr(%v) = %q, want %q", c.err, got, c.want)
		}
	}
}

func TestWrapAndOf(t *testing.T) {
	if Wrap("write", nil) != nil {
		t.Fatal("Wrap(nil) should be nil")
	}
	cause := errors.New("nack")
	err := Wrap("write", cause)
	if !errors.Is(err, cause) {
		t.Fatal("wrapped error lost its cause")
	}
	if got := Of(err); got != IOError {
		t.Fatalf("Of = %q, want %q", got, IOError)
	}
	if err.Error() != "write: io_error" {
		t.Fatalf("Error() = %q", err.Error())
	}
	if got := Of(fmt.Errorf("x: %w", OutOfRange)); got != OutOfRange {
		t.Fatalf("Of(wrapped code) = %q", got)
	}
	if got := Of(errors.New("other")); got != Error {
		t.Fatalf("Of(plain) = %q", got)
	}
}
