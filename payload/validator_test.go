package payload_test

import (
	"strings"
	"testing"

	"github.com/firasghr/ChallengeGate/payload"
)

var userSelf = []byte(`{
	"success": true,
	"message": "",
	"data": {
		"id": 42,
		"username": "alice",
		"quota": 500000,
		"used_quota": 1234,
		"request_count": 17
	}
}`)

func TestCheck_NoMismatches(t *testing.T) {
	mismatches, err := payload.Check(payload.QuotaSchema, userSelf)
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if len(mismatches) != 0 {
		t.Errorf("expected 0 mismatches, got %d: %v", len(mismatches), mismatches)
	}
}

func TestCheck_InvalidJSON(t *testing.T) {
	if _, err := payload.Check(payload.QuotaSchema, []byte("not json")); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestCheck_NonObject(t *testing.T) {
	if _, err := payload.Check(payload.QuotaSchema, []byte(`[1,2,3]`)); err == nil {
		t.Error("expected error for JSON array (non-object)")
	}
}

func TestCheck_MissingNestedField(t *testing.T) {
	current := []byte(`{"success":true,"data":{"quota":1,"request_count":2}}`)
	mismatches, err := payload.Check(payload.QuotaSchema, current)
	if err != nil {
		t.Fatal(err)
	}
	if len(mismatches) != 1 {
		t.Fatalf("expected 1 mismatch, got %v", mismatches)
	}
	if m := mismatches[0]; m.Field != "data.used_quota" || m.Kind != payload.MismatchKindMissing {
		t.Errorf("unexpected mismatch %v", m)
	}
}

func TestCheck_TypeChange(t *testing.T) {
	current := []byte(`{"success":"yes","data":{"quota":"500000","used_quota":1,"request_count":2}}`)
	mismatches, err := payload.Check(payload.QuotaSchema, current)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{"data.quota": "string", "success": "string"}
	if len(mismatches) != len(want) {
		t.Fatalf("expected %d mismatches, got %v", len(want), mismatches)
	}
	for _, m := range mismatches {
		if m.Kind != payload.MismatchKindTypeChange || want[m.Field] != m.CurrentType {
			t.Errorf("unexpected mismatch %v", m)
		}
	}
}

func TestCheck_ExtraFieldsIgnored(t *testing.T) {
	s := payload.Schema{"data.quota": "number"}
	mismatches, err := payload.Check(s, []byte(`{"data":{"quota":3,"new_field":"surprise"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if len(mismatches) != 0 {
		t.Errorf("extra fields must not be reported, got %v", mismatches)
	}
}

func TestCheck_SortedOutput(t *testing.T) {
	mismatches, err := payload.Check(payload.QuotaSchema, []byte(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(mismatches); i++ {
		if mismatches[i-1].Field > mismatches[i].Field {
			t.Errorf("mismatches not sorted: %v", mismatches)
		}
	}
}

func TestFormatMismatches(t *testing.T) {
	if got := payload.FormatMismatches(nil); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
	mismatches, _ := payload.Check(payload.Schema{"a": "number", "b": "array"}, []byte(`{"a":"x"}`))
	got := payload.FormatMismatches(mismatches)
	if !strings.Contains(got, `field "a" is string, want number`) || !strings.Contains(got, `field "b" missing`) {
		t.Errorf("unexpected format: %q", got)
	}
}
