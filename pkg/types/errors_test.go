package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorKindMatching(t *testing.T) {
	err := ValidationError("docName is required")

	if !IsKind(err, KindValidation) {
		t.Error("expected validation kind")
	}
	if IsKind(err, KindStorage) {
		t.Error("did not expect storage kind")
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := StorageError("append failed", cause)

	if !errors.Is(err, cause) {
		t.Error("expected cause in chain")
	}

	wrapped := fmt.Errorf("persist: %w", err)
	if KindOf(wrapped) != KindStorage {
		t.Errorf("KindOf = %s, want storage", KindOf(wrapped))
	}
}

func TestKindOfUnclassified(t *testing.T) {
	if KindOf(errors.New("plain")) != KindStorage {
		t.Error("unclassified errors should report as storage")
	}
}

func TestErrorIsByKind(t *testing.T) {
	err := fmt.Errorf("outer: %w", CodecError("malformed update", nil))

	if !errors.Is(err, NewError(KindCodec, "")) {
		t.Error("expected kind-level match")
	}
}

func TestBatchConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*BatchConfig)
		wantErr bool
	}{
		{"web preset valid", func(c *BatchConfig) {}, false},
		{"zero count", func(c *BatchConfig) { c.MaxBatchCount = 0 }, true},
		{"zero bytes", func(c *BatchConfig) { c.MaxBatchBytes = 0 }, true},
		{"zero timeout", func(c *BatchConfig) { c.BatchTimeout = 0 }, true},
		{"negative debounce", func(c *BatchConfig) { c.Debounce = -1 }, true},
		{"zero debounce ok", func(c *BatchConfig) { c.Debounce = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := BatchPresetWeb
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !IsKind(err, KindConfig) {
				t.Errorf("expected config kind, got %v", KindOf(err))
			}
		})
	}
}

func TestBatchPresetLookup(t *testing.T) {
	if cfg, ok := BatchPreset("embedded"); !ok || cfg.MaxBatchCount != 50 {
		t.Errorf("embedded preset = %+v, ok = %v", cfg, ok)
	}
	if _, ok := BatchPreset("bogus"); ok {
		t.Error("unknown preset should report !ok")
	}
	if cfg, ok := BatchPreset(""); !ok || cfg != BatchPresetWeb {
		t.Error("empty preset should default to web")
	}
}
