package extract

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorKinds(t *testing.T) {
	base := errors.New("boom")
	tests := []struct {
		err  error
		kind Kind
		is   error
	}{
		{NotFoundError("extract", "document %s not found", "d1"), KindNotFound, ErrNotFound},
		{ConfigurationError("extract", base), KindConfiguration, ErrConfiguration},
		{APIError("extract", base), KindAPI, ErrAPI},
		{ValidationError("parse", base), KindValidation, ErrValidation},
	}
	for _, tt := range tests {
		wrapped := fmt.Errorf("chunk 2: %w", tt.err)
		if KindOf(wrapped) != tt.kind {
			t.Errorf("KindOf(%v) = %q, want %q", wrapped, KindOf(wrapped), tt.kind)
		}
		if !errors.Is(wrapped, tt.is) {
			t.Errorf("errors.Is(%v, %v) = false", wrapped, tt.is)
		}
		for _, other := range []error{ErrNotFound, ErrConfiguration, ErrAPI, ErrValidation} {
			if other != tt.is && errors.Is(wrapped, other) {
				t.Errorf("%v should not match %v", wrapped, other)
			}
		}
	}

	if !errors.Is(APIError("extract", base), base) {
		t.Error("cause should stay reachable")
	}
	if KindOf(base) != "" {
		t.Error("plain errors have no kind")
	}
}
