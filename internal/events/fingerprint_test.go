package events_test

import (
	"errors"
	"testing"

	"clipforge/internal/events"
	"clipforge/internal/services"
)

func TestFingerprintStableAcrossAttributeOrder(t *testing.T) {
	a := events.Event{
		Kind:             "score",
		SubjectID:        "P1",
		OccurredAtMinute: 37,
		Attributes:       map[string]string{"half": "second", "assist": "P7"},
	}
	b := events.Event{
		Kind:             "score",
		SubjectID:        "P1",
		OccurredAtMinute: 37,
		Attributes:       map[string]string{"assist": "P7", "half": "second"},
	}
	if events.Fingerprint(a) != events.Fingerprint(b) {
		t.Fatal("expected identical fingerprints regardless of attribute order")
	}
}

func TestFingerprintIgnoresWhitespaceAndCaseDrift(t *testing.T) {
	a := events.Event{Kind: "Score", SubjectID: " P1 ", OccurredAtMinute: 37}
	b := events.Event{Kind: "score", SubjectID: "P1", OccurredAtMinute: 37}
	if events.Fingerprint(a) != events.Fingerprint(b) {
		t.Fatal("expected canonicalization to absorb whitespace and case drift")
	}
}

func TestFingerprintDistinguishesSemanticFields(t *testing.T) {
	base := events.Event{Kind: "score", SubjectID: "P1", OccurredAtMinute: 37}
	variants := []events.Event{
		{Kind: "foul", SubjectID: "P1", OccurredAtMinute: 37},
		{Kind: "score", SubjectID: "P2", OccurredAtMinute: 37},
		{Kind: "score", SubjectID: "P1", OccurredAtMinute: 38},
		{Kind: "score", SubjectID: "P1", OccurredAtMinute: 37, Attributes: map[string]string{"half": "second"}},
	}
	seen := map[string]struct{}{events.Fingerprint(base): {}}
	for i, v := range variants {
		fp := events.Fingerprint(v)
		if _, dup := seen[fp]; dup {
			t.Fatalf("variant %d collided with a prior fingerprint", i)
		}
		seen[fp] = struct{}{}
	}
}

func TestFingerprintDistinguishesSeparatorLadenAttributes(t *testing.T) {
	a := events.Event{Kind: "score", SubjectID: "P1", OccurredAtMinute: 37,
		Attributes: map[string]string{"a=b": "c"}}
	b := events.Event{Kind: "score", SubjectID: "P1", OccurredAtMinute: 37,
		Attributes: map[string]string{"a": "b=c"}}
	if events.Fingerprint(a) == events.Fingerprint(b) {
		t.Fatal("attributes differing only in separator placement must not collide")
	}
}

func TestValidateRejectsMalformedEvents(t *testing.T) {
	cases := []struct {
		name  string
		event events.Event
	}{
		{"missing kind", events.Event{SubjectID: "P1"}},
		{"missing subject", events.Event{Kind: "score"}},
		{"negative minute", events.Event{Kind: "score", SubjectID: "P1", OccurredAtMinute: -1}},
		{"blank attribute key", events.Event{Kind: "score", SubjectID: "P1", Attributes: map[string]string{" ": "x"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.event.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected validation marker, got %v", err)
			}
		})
	}
}

func TestTitle(t *testing.T) {
	e := events.Event{Kind: "score", SubjectID: "P1", OccurredAtMinute: 37}
	if got := e.Title(); got != "Score by P1" {
		t.Fatalf("unexpected title %q", got)
	}
}
