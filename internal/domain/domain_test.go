package domain

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNewUserWithID(t *testing.T) {
	cases := []struct {
		name    string
		id      UserID
		user    string
		wantErr error
	}{
		{"ok", "u1", "alice", nil},
		{"empty id", "", "alice", ErrUserIDEmpty},
		{"long id", UserID(strings.Repeat("x", MaxUserIDLen+1)), "alice", ErrUserIDTooLong},
		{"empty name", "u1", "", ErrUsernameEmpty},
		{"long name", "u1", strings.Repeat("n", MaxUsernameLen+1), ErrUsernameTooLong},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			u, err := NewUserWithID(tc.id, tc.user)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
			if err == nil && (u.ID != tc.id || u.Username != tc.user) {
				t.Fatalf("unexpected user %+v", u)
			}
		})
	}
}

func TestValidateMaxSeats(t *testing.T) {
	for _, n := range []int{4, 6, 9, 12} {
		if err := ValidateMaxSeats(n); err != nil {
			t.Errorf("ValidateMaxSeats(%d) = %v", n, err)
		}
	}
	for _, n := range []int{0, 1, 5, 13} {
		if err := ValidateMaxSeats(n); err == nil {
			t.Errorf("ValidateMaxSeats(%d) accepted", n)
		}
	}
}

func TestValidatePKDuration(t *testing.T) {
	if err := ValidatePKDuration(3 * time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := ValidatePKDuration(2 * time.Minute); err == nil {
		t.Fatal("2m should be rejected")
	}
}

func TestModeVideo(t *testing.T) {
	if ModeAudio.VideoEnabled() {
		t.Fatal("audio mode must not publish video")
	}
	if !ModeSolo.VideoEnabled() || !ModeMulti.VideoEnabled() {
		t.Fatal("solo and multi publish video")
	}
	if Mode("karaoke").Valid() {
		t.Fatal("unknown mode accepted")
	}
}
