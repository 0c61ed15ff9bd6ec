package store

import (
	"testing"
)

func TestMySQLCheckpointerRequiresDSN(t *testing.T) {
	if _, err := NewMySQLCheckpointer(""); err == nil {
		t.Error("expected error for empty DSN")
	}
}
