package plugins

import (
	"context"
	"strings"
	"testing"
)

func TestRegistryDispatch(t *testing.T) {
	ctx := context.Background()
	r := DefaultRegistry()

	t.Run("unmatched message passes through", func(t *testing.T) {
		if _, ok := r.Dispatch(ctx, "tell me about the roman empire"); ok {
			t.Error("expected no plugin to claim a plain question")
		}
	})

	t.Run("handled responses carry the plugin name", func(t *testing.T) {
		resp, ok := r.Dispatch(ctx, "what time is it?")
		if !ok {
			t.Fatal("expected time plugin to handle the message")
		}
		if resp.Metadata["plugin"] != "time" {
			t.Errorf("expected plugin metadata, got %v", resp.Metadata)
		}
		if resp.Content == "" {
			t.Error("expected non-empty response")
		}
	})

	t.Run("triggered but unclaimed falls through", func(t *testing.T) {
		// "math" triggers the calculator, but there is no expression to
		// evaluate, so the message goes on to the LLM.
		if _, ok := r.Dispatch(ctx, "I was never any good at math class honestly"); ok {
			t.Error("expected calculator to decline")
		}
	})
}

func TestCalculatorPlugin(t *testing.T) {
	ctx := context.Background()
	p := NewCalculatorPlugin()

	cases := []struct {
		msg  string
		want string
	}{
		{"calculate 2 + 3", "The result is: 5"},
		{"what is 10 / 4", "The result is: 2.5"},
		{"calculate 2 + 3 * 4", "The result is: 14"},
		{"calculate (2 + 3) * 4", "The result is: 20"},
		{"calculate -5 + 2", "The result is: -3"},
		{"7.5 - 2.5", "The result is: 5"},
	}

	for _, tc := range cases {
		resp, ok := p.Handle(ctx, tc.msg)
		if !ok {
			t.Errorf("%q: expected handled", tc.msg)
			continue
		}
		if resp.Content != tc.want {
			t.Errorf("%q: got %q, want %q", tc.msg, resp.Content, tc.want)
		}
	}

	t.Run("division by zero is a polite failure", func(t *testing.T) {
		resp, ok := p.Handle(ctx, "calculate 1 / 0")
		if !ok {
			t.Fatal("expected handled")
		}
		if !strings.Contains(resp.Content, "couldn't calculate") {
			t.Errorf("expected failure message, got %q", resp.Content)
		}
	})

	t.Run("no expression declines", func(t *testing.T) {
		if _, ok := p.Handle(ctx, "math is beautiful"); ok {
			t.Error("expected decline without an expression")
		}
	})
}

func TestHelpPlugin(t *testing.T) {
	r := DefaultRegistry()

	resp, ok := r.Dispatch(context.Background(), "what plugins do you have?")
	if !ok {
		t.Fatal("expected help plugin to handle")
	}

	for _, name := range []string{"time", "calculator", "help"} {
		if !strings.Contains(resp.Content, name) {
			t.Errorf("expected %q listed, got:\n%s", name, resp.Content)
		}
	}
}

func TestEvalExpr(t *testing.T) {
	cases := []struct {
		expr string
		want float64
	}{
		{"1 + 2 * 3", 7},
		{"(1 + 2) * 3", 9},
		{"10 / 2 / 5", 1},
		{"2 - 3 - 4", -5},
		{"-(2 + 3)", -5},
		{"0.5 + 0.25 * 2", 1},
	}

	for _, tc := range cases {
		got, err := evalExpr(tc.expr)
		if err != nil {
			t.Errorf("%q: unexpected error %v", tc.expr, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%q: got %v, want %v", tc.expr, got, tc.want)
		}
	}

	for _, bad := range []string{"", "1 +", "(1 + 2", "1 ** 2", "abc"} {
		if _, err := evalExpr(bad); err == nil {
			t.Errorf("%q: expected error", bad)
		}
	}
}
