package validator

import "testing"

type dialRequest struct {
	Target string `validate:"required,phone"`
}

func TestPhoneRule(t *testing.T) {
	v := New()

	if err := v.Struct(dialRequest{Target: "+33612345678"}); err != nil {
		t.Fatalf("expected valid number, got %v", err)
	}
	if err := v.Struct(dialRequest{Target: "12"}); err == nil {
		t.Fatalf("expected validation error for short number")
	}
	if err := v.Struct(dialRequest{}); err == nil {
		t.Fatalf("expected required error")
	}
}
