package protocol

import (
	"errors"
	"strings"
	"testing"
)

func TestParseClientMessageCreate(t *testing.T) {
	raw := []byte(`{"type":"message_create","message_id":"m1","content":"hello koala","author_name":"sam","author_id":"42"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	create, ok := msg.(MessageCreate)
	if !ok {
		t.Fatalf("message type = %T, want MessageCreate", msg)
	}
	if create.Content != "hello koala" || create.AuthorName != "sam" || create.AuthorID != "42" {
		t.Fatalf("unexpected message: %+v", create)
	}
	if create.AuthorBot {
		t.Fatalf("AuthorBot = true, want false")
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageControl(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"client_control","action":"reset"}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	control, ok := msg.(ClientControl)
	if !ok {
		t.Fatalf("message type = %T, want ClientControl", msg)
	}
	if control.Action != ActionReset {
		t.Fatalf("Action = %q, want %q", control.Action, ActionReset)
	}
}

func TestParseClientMessageRejectsUnknownAction(t *testing.T) {
	if _, err := ParseClientMessage([]byte(`{"type":"client_control","action":"dance"}`)); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestParseClientMessageAcceptsEmptyContent(t *testing.T) {
	for _, raw := range []string{
		`{"type":"message_create","content":"","author_name":"sam"}`,
		`{"type":"message_create","author_name":"sam"}`,
		`{"type":"message_create","content":"   ","author_name":"sam"}`,
	} {
		msg, err := ParseClientMessage([]byte(raw))
		if err != nil {
			t.Fatalf("ParseClientMessage(%s) error = %v", raw, err)
		}
		create, ok := msg.(MessageCreate)
		if !ok {
			t.Fatalf("expected MessageCreate, got %T", msg)
		}
		if strings.TrimSpace(create.Content) != "" {
			t.Fatalf("content = %q, want blank", create.Content)
		}
	}
}

func TestParseClientMessageRejectsGarbage(t *testing.T) {
	if _, err := ParseClientMessage([]byte(`not json`)); err == nil {
		t.Fatalf("expected envelope error")
	}
}

func BenchmarkParseClientMessageCreate(b *testing.B) {
	raw := []byte(`{"type":"message_create","content":"what do koalas eat?","author_name":"sam","author_id":"42"}`)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		msg, err := ParseClientMessage(raw)
		if err != nil {
			b.Fatalf("ParseClientMessage() error = %v", err)
		}
		if _, ok := msg.(MessageCreate); !ok {
			b.Fatalf("message type = %T, want MessageCreate", msg)
		}
	}
}
