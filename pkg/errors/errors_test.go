package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestWrapPreservesCause(t *testing.T) {
	cause := stdErrors.New("disk on fire")
	err := Wrap(CodeDependency, cause, "writing document")

	if !stdErrors.Is(err, cause) {
		t.Fatalf("expected wrapped cause to be reachable via errors.Is")
	}
	if err.Code() != CodeDependency {
		t.Fatalf("unexpected code %s", err.Code())
	}
}

func TestAsFindsTypedErrorThroughChain(t *testing.T) {
	inner := New(CodeConflict, "stale revision")
	outer := fmt.Errorf("saving product: %w", inner)

	typed := As(outer)
	if typed == nil {
		t.Fatal("expected typed error in chain")
	}
	if typed.Code() != CodeConflict {
		t.Fatalf("unexpected code %s", typed.Code())
	}
}

func TestIsMatchesCode(t *testing.T) {
	err := fmt.Errorf("submit: %w", New(CodeDuplicateRequest, "already pending"))
	if !Is(err, CodeDuplicateRequest) {
		t.Fatal("expected duplicate-request code match")
	}
	if Is(err, CodeNotFound) {
		t.Fatal("unexpected code match")
	}
}

func TestMetadataForUnknownCodeFallsBack(t *testing.T) {
	meta := MetadataFor(Code("SOMETHING_ELSE"))
	if meta.PublicMessage != metadataByCode[CodeInternal].PublicMessage {
		t.Fatalf("expected internal metadata fallback, got %+v", meta)
	}
	if !MetadataFor(CodeConflict).Retryable {
		t.Fatal("conflicts are expected to be retryable")
	}
}
