package translator

import (
	"fmt"
	"testing"

	"github.com/tidwall/gjson"
)

func TestConvertMessagesBasicConversation(t *testing.T) {
	in := `[
		{"role":"user","content":"hello"},
		{"role":"assistant","content":"hi there"},
		{"role":"user","content":"how are you?"}
	]`
	out := gjson.ParseBytes(ConvertMessagesToContents([]byte(in)))

	if n := len(out.Array()); n != 3 {
		t.Fatalf("got %d turns, want 3: %s", n, out.Raw)
	}
	wantRoles := []string{"user", "model", "user"}
	for i, role := range wantRoles {
		if got := out.Get(fmt.Sprintf("%d.role", i)).String(); got != role {
			t.Errorf("turn %d role = %q, want %q", i, got, role)
		}
	}
	if text := out.Get("1.parts.0.text").String(); text != "hi there" {
		t.Errorf("model turn text = %q, want %q", text, "hi there")
	}
}

func TestConvertMessagesSystemPrependedToFirstUserTurn(t *testing.T) {
	in := `[
		{"role":"system","content":"be brief"},
		{"role":"user","content":"hello"},
		{"role":"system","content":"be kind"}
	]`
	out := gjson.ParseBytes(ConvertMessagesToContents([]byte(in)))

	if n := len(out.Array()); n != 1 {
		t.Fatalf("got %d turns, want 1: %s", n, out.Raw)
	}
	parts := out.Get("0.parts").Array()
	if len(parts) != 2 {
		t.Fatalf("got %d parts, want 2: %s", len(parts), out.Raw)
	}
	if got := parts[0].Get("text").String(); got != "be brief\nbe kind\n" {
		t.Errorf("system part = %q, want merged newline-terminated text", got)
	}
	if got := parts[1].Get("text").String(); got != "hello" {
		t.Errorf("user part = %q, want hello", got)
	}
}

func TestConvertMessagesAdjacentRolesMerged(t *testing.T) {
	in := `[
		{"role":"user","content":"first"},
		{"role":"user","content":"second"},
		{"role":"assistant","content":"a"},
		{"role":"assistant","content":"b"}
	]`
	out := gjson.ParseBytes(ConvertMessagesToContents([]byte(in)))

	if n := len(out.Array()); n != 2 {
		t.Fatalf("got %d turns, want 2: %s", n, out.Raw)
	}
	if n := len(out.Get("0.parts").Array()); n != 2 {
		t.Errorf("user turn has %d parts, want 2", n)
	}
	if n := len(out.Get("1.parts").Array()); n != 2 {
		t.Errorf("model turn has %d parts, want 2", n)
	}
}

func TestConvertMessagesContentBlockLists(t *testing.T) {
	in := `[
		{"role":"user","content":[
			{"type":"text","text":"look at this"},
			{"type":"image_url","image_url":{"url":"https://x/y.png"}},
			{"type":"text","text":"and this"}
		]}
	]`
	out := gjson.ParseBytes(ConvertMessagesToContents([]byte(in)))

	parts := out.Get("0.parts").Array()
	if len(parts) != 2 {
		t.Fatalf("got %d parts, want 2 (non-text blocks dropped): %s", len(parts), out.Raw)
	}
	if parts[0].Get("text").String() != "look at this" || parts[1].Get("text").String() != "and this" {
		t.Errorf("unexpected parts: %s", out.Raw)
	}
}

func TestConvertMessagesSystemOnly(t *testing.T) {
	in := `[{"role":"system","content":"just instructions"}]`
	out := gjson.ParseBytes(ConvertMessagesToContents([]byte(in)))

	if n := len(out.Array()); n != 1 {
		t.Fatalf("got %d turns, want 1: %s", n, out.Raw)
	}
	if role := out.Get("0.role").String(); role != "user" {
		t.Errorf("role = %q, want user", role)
	}
	if text := out.Get("0.parts.0.text").String(); text != "just instructions\n" {
		t.Errorf("text = %q", text)
	}
}

func TestConvertMessagesSystemBeforeModelTurn(t *testing.T) {
	in := `[
		{"role":"system","content":"rules"},
		{"role":"assistant","content":"opening"}
	]`
	out := gjson.ParseBytes(ConvertMessagesToContents([]byte(in)))

	if n := len(out.Array()); n != 2 {
		t.Fatalf("got %d turns, want 2: %s", n, out.Raw)
	}
	if out.Get("0.role").String() != "user" || out.Get("1.role").String() != "model" {
		t.Errorf("unexpected roles: %s", out.Raw)
	}
	if text := out.Get("0.parts.0.text").String(); text != "rules\n" {
		t.Errorf("inserted user turn text = %q", text)
	}
}

func TestConvertMessagesEnvelopeInput(t *testing.T) {
	in := `{"model":"x","messages":[{"role":"user","content":"hi"}]}`
	out := gjson.ParseBytes(ConvertMessagesToContents([]byte(in)))
	if text := out.Get("0.parts.0.text").String(); text != "hi" {
		t.Errorf("envelope input not unwrapped: %s", out.Raw)
	}
}

func TestConvertMessagesEmptyInput(t *testing.T) {
	for _, in := range []string{`[]`, `{}`, ``} {
		out := gjson.ParseBytes(ConvertMessagesToContents([]byte(in)))
		if !out.IsArray() || len(out.Array()) != 0 {
			t.Errorf("ConvertMessagesToContents(%q) = %s, want empty array", in, out.Raw)
		}
	}
}
