package validation

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestIsValidOrderNumber(t *testing.T) {
	tests := []struct {
		name   string
		number string
		valid  bool
	}{
		{
			name:   "valid number",
			number: "ORD-2026-004217",
			valid:  true,
		},
		{
			name:   "wrong prefix",
			number: "INV-2026-004217",
			valid:  false,
		},
		{
			name:   "short suffix",
			number: "ORD-2026-4217",
			valid:  false,
		},
		{
			name:   "letters in suffix",
			number: "ORD-2026-00A217",
			valid:  false,
		},
		{
			name:   "two digit year",
			number: "ORD-26-004217",
			valid:  false,
		},
		{
			name:   "empty string",
			number: "",
			valid:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsValidOrderNumber(tt.number)
			if got != tt.valid {
				t.Fatalf("IsValidOrderNumber(%q) = %v, want %v", tt.number, got, tt.valid)
			}
		})
	}
}

func TestNewOrderNumber(t *testing.T) {
	now := time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 50; i++ {
		number, err := NewOrderNumber(now, nil)
		if err != nil {
			t.Fatalf("NewOrderNumber error: %v", err)
		}
		if !strings.HasPrefix(number, "ORD-2026-") {
			t.Fatalf("number %q has no year prefix", number)
		}
		if !IsValidOrderNumber(number) {
			t.Fatalf("generated number %q is invalid", number)
		}
	}
}

func TestNewOrderNumber_RandomSourceError(t *testing.T) {
	_, err := NewOrderNumber(time.Now(), bytes.NewReader(nil))
	if err == nil {
		t.Fatalf("expected error for exhausted random source")
	}
}
