package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestNewUser(t *testing.T) {
	u, err := NewUser(1, "alice")
	if err != nil {
		t.Fatalf("NewUser: %v", err)
	}
	if u.ID != 1 || u.Username != "alice" {
		t.Errorf("user = %+v", u)
	}
}

func TestNewUserValidation(t *testing.T) {
	if _, err := NewUser(1, ""); !errors.Is(err, ErrUsernameEmpty) {
		t.Errorf("empty name error = %v", err)
	}
	long := strings.Repeat("x", MaxUsernameLen+1)
	if _, err := NewUser(1, long); !errors.Is(err, ErrUsernameTooLong) {
		t.Errorf("long name error = %v", err)
	}
}
