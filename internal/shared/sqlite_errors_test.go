package shared

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestIsSQLiteConflictError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"busy text", errors.New("SQLITE_BUSY: cannot commit"), true},
		{"locked text", fmt.Errorf("exec: %w", errors.New("database is locked (5)")), true},
		{"constraint", errors.New("UNIQUE constraint failed: tasks.id"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsSQLiteConflictError(tt.err); got != tt.want {
				t.Errorf("IsSQLiteConflictError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestConflictBackoff(t *testing.T) {
	base := 50 * time.Millisecond
	want := []time.Duration{50 * time.Millisecond, 100 * time.Millisecond, 200 * time.Millisecond}
	for n, w := range want {
		if got := ConflictBackoff(n, base); got != w {
			t.Errorf("ConflictBackoff(%d) = %v, want %v", n, got, w)
		}
	}
	if got := ConflictBackoff(-1, base); got != base {
		t.Errorf("ConflictBackoff(-1) = %v, want %v", got, base)
	}
}
