package resolver

import (
	"context"
	"testing"

	"github.com/rbaliyan/mailstore"
)

func TestStaticResolve(t *testing.T) {
	ctx := context.Background()
	s := NewStatic(map[string]mailstore.Resolution{
		"Bob@Example.COM":       {Disposition: mailstore.Deliver},
		"blackhole@example.com": {Disposition: mailstore.Discard},
	})

	t.Run("normalized lookup", func(t *testing.T) {
		res, err := s.Resolve(ctx, "<bob@example.com>")
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if res.Disposition != mailstore.Deliver {
			t.Errorf("disposition = %s, want deliver", res.Disposition)
		}
		if res.Mailbox.Address != "bob@example.com" {
			t.Errorf("mailbox = %q, want bob@example.com", res.Mailbox.Address)
		}
	})

	t.Run("discard entry", func(t *testing.T) {
		res, err := s.Resolve(ctx, "blackhole@example.com")
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if res.Disposition != mailstore.Discard {
			t.Errorf("disposition = %s, want discard", res.Disposition)
		}
	})

	t.Run("unknown rejects", func(t *testing.T) {
		res, err := s.Resolve(ctx, "nobody@example.com")
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if res.Disposition != mailstore.Reject {
			t.Errorf("disposition = %s, want reject", res.Disposition)
		}
	})
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"  Bob@Example.COM ":  "bob@example.com",
		"<carol@example.com>": "carol@example.com",
		"dave@example.com":    "dave@example.com",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}
