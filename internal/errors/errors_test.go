package errors

import (
	stderrors "errors"
	"fmt"
	"io"
	"testing"
)

func TestDumpError_Error(t *testing.T) {
	err := &DumpError{
		Code:    ErrUnknownExchange,
		Message: "no exchange registered for host example.org",
	}

	expected := "UNKNOWN_EXCHANGE: no exchange registered for host example.org"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestNewInvalidFormat_WrapsCause(t *testing.T) {
	err := NewInvalidFormat("bad timestamp", io.ErrUnexpectedEOF)

	if err.Code != ErrInvalidFormat {
		t.Errorf("Code = %q, want %q", err.Code, ErrInvalidFormat)
	}
	if !stderrors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("errors.Is(err, io.ErrUnexpectedEOF) = false, want true")
	}
	if err.Message != "bad timestamp: unexpected EOF" {
		t.Errorf("Message = %q", err.Message)
	}
}

func TestNewIncompleteStream_SortsChannels(t *testing.T) {
	missing := []string{"lightning_ticker_ETH_JPY", "lightning_board_BTC_JPY"}
	err := NewIncompleteStream(missing)

	if err.Code != ErrIncompleteStream {
		t.Errorf("Code = %q, want %q", err.Code, ErrIncompleteStream)
	}
	got, ok := err.Details["missing_channels"].([]string)
	if !ok || len(got) != 2 {
		t.Fatalf("Details[missing_channels] = %v", err.Details["missing_channels"])
	}
	if got[0] != "lightning_board_BTC_JPY" || got[1] != "lightning_ticker_ETH_JPY" {
		t.Errorf("missing_channels = %v, want sorted", got)
	}
	if missing[0] != "lightning_ticker_ETH_JPY" {
		t.Errorf("input slice was reordered: %v", missing)
	}
	want := "subscriptions never confirmed: {lightning_board_BTC_JPY, lightning_ticker_ETH_JPY}"
	if err.Message != want {
		t.Errorf("Message = %q, want %q", err.Message, want)
	}
}

func TestNewUnknownProtocol(t *testing.T) {
	err := NewUnknownProtocol("websocket", 9)

	if err.Details["protocol"] != "websocket" {
		t.Errorf("Details[protocol] = %v, want websocket", err.Details["protocol"])
	}
	if err.Details["protocol_version"] != 9 {
		t.Errorf("Details[protocol_version] = %v, want 9", err.Details["protocol_version"])
	}
}

func TestWithDetail(t *testing.T) {
	err := NewMalformedPayload("missing key").WithDetail("line", 7)
	if err.Details["line"] != 7 {
		t.Errorf("Details[line] = %v, want 7", err.Details["line"])
	}
}

func TestIs(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code ErrorCode
		want bool
	}{
		{"direct match", NewUnmatchedID(3), ErrUnmatchedID, true},
		{"code mismatch", NewUnmatchedID(3), ErrSubscribeDenied, false},
		{"wrapped", fmt.Errorf("replay: %w", NewCancelled("replay")), ErrCancelled, true},
		{"plain error", io.EOF, ErrInternal, false},
		{"nil", nil, ErrInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Is(tt.err, tt.code); got != tt.want {
				t.Errorf("Is() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(fmt.Errorf("x: %w", NewAlreadyRegistered("websocket v0"))); got != ErrAlreadyRegistered {
		t.Errorf("CodeOf() = %q, want %q", got, ErrAlreadyRegistered)
	}
	if got := CodeOf(io.EOF); got != ErrInternal {
		t.Errorf("CodeOf(plain) = %q, want %q", got, ErrInternal)
	}
}
