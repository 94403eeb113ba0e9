package workitem

import (
	"context"
	"errors"
	"testing"
	"time"
)

func nopFactory() ProcessorFactory {
	return Static(ProcessorFunc(func(_ context.Context, _ WorkItem) (bool, error) { return true, nil }))
}

func TestRegistryRoundTrip(t *testing.T) {
	r := NewRegistry()
	if err := RegisterType[pingItem](r, nopFactory()); err != nil {
		t.Fatalf("register: %v", err)
	}
	item := &pingItem{N: 42}
	item.id = "wi-1"
	item.enqueuedAt = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	body, err := r.Encode(item)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := r.Decode(body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	p, ok := got.(*pingItem)
	if !ok || p.N != 42 || p.ID() != "wi-1" || !p.EnqueuedAt().Equal(item.enqueuedAt) {
		t.Fatalf("decoded %#v", got)
	}
}

func TestDecodeErrors(t *testing.T) {
	r := NewRegistry()
	_ = RegisterType[pingItem](r, nopFactory())
	cases := []struct {
		name string
		body string
		want error
	}{
		{"not json", `{{`, ErrMalformedWorkItem},
		{"no type", `{"id":"x","payload":{}}`, ErrMalformedWorkItem},
		{"unknown type", `{"type":"Nope","payload":{"n":"not-a-number"}}`, ErrUnknownWorkItemType},
		{"bad payload", `{"type":"Ping","payload":{"n":"seven"}}`, ErrMalformedWorkItem},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := r.Decode([]byte(tc.body)); !errors.Is(err, tc.want) {
				t.Fatalf("want %v, got %v", tc.want, err)
			}
		})
	}
	if _, err := r.Decode([]byte(`{"type":"Ping"}`)); err != nil {
		t.Fatalf("missing payload should decode to zero value: %v", err)
	}
}

func TestPeekTypeIgnoresPayload(t *testing.T) {
	typ, err := PeekType([]byte(`{"type":"SubscriptionUpdate","payload":{"huge":[1,2,3]}}`))
	if err != nil || typ != "SubscriptionUpdate" {
		t.Fatalf("peek: %q %v", typ, err)
	}
}

func TestRegistrySealAndDuplicates(t *testing.T) {
	r := NewRegistry()
	if err := RegisterType[pingItem](r, nopFactory()); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := RegisterType[pingItem](r, nopFactory()); !errors.Is(err, ErrDuplicateType) {
		t.Fatalf("duplicate: %v", err)
	}
	// one factory may serve several types
	shared := nopFactory()
	if err := RegisterType[keyedItem](r, shared); err != nil {
		t.Fatalf("register keyed: %v", err)
	}
	r.Seal()
	if err := r.Register("Late", func() WorkItem { return &pingItem{} }, shared); !errors.Is(err, ErrRegistrySealed) {
		t.Fatalf("sealed: %v", err)
	}
	if got := r.Types(); len(got) != 2 || got[0] != "Keyed" || got[1] != "Ping" {
		t.Fatalf("types: %v", got)
	}
}

func TestRegisterRejectsMismatchedConstructor(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("Other", func() WorkItem { return &pingItem{} }, nopFactory()); err == nil {
		t.Fatalf("expected mismatch error")
	}
}

func TestEncodeRequiresRegistration(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Encode(&pingItem{}); !errors.Is(err, ErrUnknownWorkItemType) {
		t.Fatalf("expected unknown type, got %v", err)
	}
}
