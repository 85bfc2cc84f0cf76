package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorKinds(t *testing.T) {
	cases := []struct {
		err  error
		kind string
	}{
		{&DeviceError{Kind: DeviceInUse}, "device.in_use"},
		{fmt.Errorf("start: %w", &DeviceError{Kind: DevicePermissionDenied}), "device.permission_denied"},
		{&SignalingError{Type: "offer", Reason: "bad sdp"}, "signaling"},
		{&ConnectionError{Peer: "b", Timeout: true}, "connection"},
		{&SeatConflict{SeatID: 2, Reason: "occupied"}, "seat_conflict"},
		{fmt.Errorf("accept: %w", ErrChallengeExpired), "challenge_expired"},
		{errors.New("boom"), "internal"},
	}
	for _, tc := range cases {
		if got := ErrorKind(tc.err); got != tc.kind {
			t.Errorf("ErrorKind(%v) = %q, want %q", tc.err, got, tc.kind)
		}
	}
}

func TestSeatConflictIs(t *testing.T) {
	err := fmt.Errorf("request: %w", &SeatConflict{SeatID: 1, Reason: "already pending"})
	if !errors.Is(err, ErrSeatConflict) {
		t.Fatal("SeatConflict must match ErrSeatConflict")
	}
}

func TestUserMessageDistinctPerDeviceKind(t *testing.T) {
	seen := map[string]DeviceErrorKind{}
	for _, k := range []DeviceErrorKind{DevicePermissionDenied, DeviceNotFound, DeviceInUse, DeviceUnsupported, DeviceOverconstrained} {
		msg := UserMessage(&DeviceError{Kind: k})
		if prev, ok := seen[msg]; ok {
			t.Fatalf("%s and %s share message %q", prev, k, msg)
		}
		seen[msg] = k
	}
}

func TestConnectionTimeoutMessage(t *testing.T) {
	if got := UserMessage(&ConnectionError{Timeout: true}); got != "Could not connect to the stream." {
		t.Fatalf("got %q", got)
	}
}
