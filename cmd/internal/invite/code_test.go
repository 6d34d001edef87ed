package invite

import (
	"errors"
	"testing"
)

func TestNewCode_UniqueAndNormalizable(t *testing.T) {
	t.Parallel()

	seen := make(map[string]struct{}, 256)
	for i := 0; i < 256; i++ {
		c, err := NewCode(0)
		if err != nil {
			t.Fatalf("NewCode: %v", err)
		}
		if len(c) != 16 {
			t.Fatalf("len = %d, want 16", len(c))
		}
		if _, dup := seen[c]; dup {
			t.Fatalf("duplicate code %q", c)
		}
		seen[c] = struct{}{}

		n, err := Normalize("  " + c + "\n")
		if err != nil || n != c {
			t.Fatalf("Normalize(%q) = %q, %v", c, n, err)
		}
	}
}

func TestNormalize_Rejects(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "short", "has space inside", "semi;colon1", "ünïcödé-code"} {
		if _, err := Normalize(in); !errors.Is(err, ErrInvalidCode) {
			t.Fatalf("Normalize(%q) err = %v", in, err)
		}
	}
}
