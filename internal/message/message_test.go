package message

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"chatd/internal/errors"
)

var fixed = time.Date(2024, 3, 5, 9, 7, 2, 0, time.Local)

func TestRender(t *testing.T) {
	tests := []struct {
		name string
		msg  *Message
		want string
	}{
		{"broadcast", NewAt("alice", "", "hi", fixed), "[05/03/2024 09:07:02] alice -> Todos: hi"},
		{"directed", NewAt("alice", "bob", "psst", fixed), "[05/03/2024 09:07:02] alice -> bob: psst"},
		{"system", NewAt(SystemSender, "carol", Welcome("carol"), fixed),
			"[05/03/2024 09:07:02] SISTEMA -> carol: Bem-vindo ao chat, carol!"},
		{"empty content", NewAt("alice", "", "", fixed), "[05/03/2024 09:07:02] alice -> Todos: "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.msg.Render(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNew_StampsTimeAndID(t *testing.T) {
	before := time.Now()
	m := New("alice", "", "hi")
	after := time.Now()

	if m.Timestamp().Before(before) || m.Timestamp().After(after) {
		t.Errorf("timestamp %v not within [%v, %v]", m.Timestamp(), before, after)
	}
	if m.ID() == uuid.Nil {
		t.Error("id should be set")
	}
	if New("alice", "", "hi").ID() == m.ID() {
		t.Error("ids should be unique")
	}
	if !m.IsBroadcast() {
		t.Error("empty recipient should be broadcast")
	}
}

func TestSystem(t *testing.T) {
	m := System("bob", NameRequest)
	if m.Sender() != SystemSender || !m.IsSystem() {
		t.Errorf("sender = %q", m.Sender())
	}
	if m.Recipient() != "bob" || m.IsBroadcast() {
		t.Errorf("recipient = %q", m.Recipient())
	}
}

func TestRewriteContent_Once(t *testing.T) {
	m := New("alice", "bob", PrivatePrefix+"segredo")
	ts, id := m.Timestamp(), m.ID()

	if err := m.Unwrap(); err != nil {
		t.Fatalf("first rewrite: %v", err)
	}
	if m.Content() != "segredo" {
		t.Errorf("content = %q", m.Content())
	}
	if err := m.RewriteContent("again"); !errors.Is(err, errors.ErrContentRewritten) {
		t.Errorf("second rewrite err = %v, want ErrContentRewritten", err)
	}
	if m.Content() != "segredo" {
		t.Errorf("content changed after failed rewrite: %q", m.Content())
	}
	if m.Sender() != "alice" || m.Recipient() != "bob" || m.Timestamp() != ts || m.ID() != id {
		t.Error("immutable fields changed")
	}
}

func TestUnwrap_NoEnvelope(t *testing.T) {
	m := New("alice", "bob", "plain")
	if err := m.Unwrap(); err != nil {
		t.Fatal(err)
	}
	if err := m.RewriteContent("x"); err != nil {
		t.Errorf("unwrap without envelope should not consume the rewrite: %v", err)
	}
}

func TestCommands(t *testing.T) {
	tests := []struct {
		content string
		list    bool
		private bool
	}{
		{"/usuarios", true, false},
		{"/usuarios extra", true, false},
		{"/privado:oi", false, true},
		{"/privado oi", false, false},
		{"hello /usuarios", false, false},
	}
	for _, tt := range tests {
		m := New("a", "", tt.content)
		if m.IsListUsers() != tt.list || m.IsPrivate() != tt.private {
			t.Errorf("%q: list=%v private=%v", tt.content, m.IsListUsers(), m.IsPrivate())
		}
	}
}

func TestJSON_NullRecipient(t *testing.T) {
	data, err := json.Marshal(NewAt("alice", "", "hi", fixed))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"recipient":null`) {
		t.Errorf("broadcast should encode null recipient: %s", data)
	}

	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	if !m.IsBroadcast() || m.Sender() != "alice" || m.Content() != "hi" || !m.Timestamp().Equal(fixed) {
		t.Errorf("decoded %+v", m.Render())
	}
}

func TestJSON_DirectedAndDefaults(t *testing.T) {
	var m Message
	if err := json.Unmarshal([]byte(`{"sender":"alice","recipient":"bob","content":"/privado:x"}`), &m); err != nil {
		t.Fatal(err)
	}
	if m.Recipient() != "bob" || !m.IsPrivate() {
		t.Errorf("recipient=%q content=%q", m.Recipient(), m.Content())
	}
	if m.ID() == uuid.Nil || m.Timestamp().IsZero() {
		t.Error("missing id and timestamp should be filled in")
	}
}

func TestJSON_Invalid(t *testing.T) {
	var m Message
	if err := json.Unmarshal([]byte(`{"sender":42}`), &m); err == nil {
		t.Error("expected error for wrong field type")
	}
}

func TestNotices(t *testing.T) {
	tests := []struct{ got, want string }{
		{Joined("carol"), "carol entrou no chat!"},
		{Left("dave"), "dave saiu do chat!"},
		{NotFound("zed"), "Usuário 'zed' não encontrado!"},
		{Welcome("bob"), "Bem-vindo ao chat, bob!"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
	if !strings.HasPrefix(NameRejected, NameRejectedPrefix) {
		t.Error("rejection text must start with its prefix")
	}
}
