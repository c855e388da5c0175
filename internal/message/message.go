// Package message defines the chat event exchanged between clients and
// the relay, and the reserved protocol tokens carried inside it.
package message

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"chatd/internal/errors"
)

// ── Protocol tokens ──────────────────────────────────────────────────

const (
	// SystemSender is the sender of every server-originated message.
	SystemSender = "SISTEMA"

	// BroadcastLabel replaces an absent recipient when rendering.
	BroadcastLabel = "Todos"

	// NameRequest is the content of the handshake's first message.
	NameRequest = "SOLICITAR_NOME"

	// NameRejected is sent after every rejected name proposal.
	NameRejected = "Nome já em uso ou inválido (vazio ou contém espaço). Digite outro nome:"

	// NameRejectedPrefix identifies a rejection on the client side.
	NameRejectedPrefix = "Nome já em uso"

	// WelcomePrefix starts the message that completes the handshake.
	WelcomePrefix = "Bem-vindo"

	// TooManyAttempts is sent before the server gives up on a handshake.
	TooManyAttempts = "Muitas tentativas inválidas. Conexão encerrada."

	// NoUsers is the listing when the registry is empty.
	NoUsers = "Nenhum usuário conectado."

	// UsersHeader starts a non-empty listing.
	UsersHeader = "Usuários conectados:\n"

	// UserBullet prefixes each name in a listing.
	UserBullet = "• "

	// ListUsersCommand asks for the connected-user listing.
	ListUsersCommand = "/usuarios"

	// PrivatePrefix marks content as a directed message envelope.
	PrivatePrefix = "/privado:"

	// TimeLayout is the timestamp format used by Render.
	TimeLayout = "02/01/2006 15:04:05"
)

// Welcome returns the greeting sent to name once it is registered.
func Welcome(name string) string { return WelcomePrefix + " ao chat, " + name + "!" }

// Joined returns the notice broadcast when name joins.
func Joined(name string) string { return name + " entrou no chat!" }

// Left returns the notice broadcast when name leaves.
func Left(name string) string { return name + " saiu do chat!" }

// NotFound returns the notice sent when a directed message has no target.
func NotFound(recipient string) string {
	return "Usuário '" + recipient + "' não encontrado!"
}

// ── Message ──────────────────────────────────────────────────────────

// Message is a single chat event.  Sender, recipient, id and timestamp
// never change after construction; content may be rewritten once.
type Message struct {
	id        uuid.UUID
	sender    string
	recipient string // "" means broadcast
	content   string
	timestamp time.Time
	rewritten bool
}

// New creates a message stamped with the current time.
func New(sender, recipient, content string) *Message {
	return NewAt(sender, recipient, content, time.Now())
}

// NewAt creates a message with an explicit timestamp.
func NewAt(sender, recipient, content string, at time.Time) *Message {
	return &Message{
		id:        uuid.New(),
		sender:    sender,
		recipient: recipient,
		content:   content,
		timestamp: at,
	}
}

// System creates a server-originated message.  An empty recipient makes
// it a broadcast.
func System(recipient, content string) *Message {
	return New(SystemSender, recipient, content)
}

// ID returns the message's unique id.
func (m *Message) ID() uuid.UUID { return m.id }

// Sender returns the display name of the author, or SystemSender.
func (m *Message) Sender() string { return m.sender }

// Recipient returns the addressee, or "" for a broadcast.
func (m *Message) Recipient() string { return m.recipient }

// Content returns the message text.
func (m *Message) Content() string { return m.content }

// Timestamp returns the creation time.
func (m *Message) Timestamp() time.Time { return m.timestamp }

// IsBroadcast reports whether the message has no recipient.
func (m *Message) IsBroadcast() bool { return m.recipient == "" }

// IsSystem reports whether the message originates from the server.
func (m *Message) IsSystem() bool { return m.sender == SystemSender }

// IsListUsers reports whether the content is a listing request.
func (m *Message) IsListUsers() bool { return strings.HasPrefix(m.content, ListUsersCommand) }

// IsPrivate reports whether the content carries the directed envelope.
func (m *Message) IsPrivate() bool { return strings.HasPrefix(m.content, PrivatePrefix) }

// RewriteContent replaces the content.  Only the first call succeeds.
func (m *Message) RewriteContent(content string) error {
	if m.rewritten {
		return errors.ErrContentRewritten
	}
	m.content = content
	m.rewritten = true
	return nil
}

// Unwrap strips the directed envelope from the content.  It is a no-op
// for messages that do not carry it.
func (m *Message) Unwrap() error {
	if !m.IsPrivate() {
		return nil
	}
	return m.RewriteContent(strings.TrimPrefix(m.content, PrivatePrefix))
}

// Render formats the message for display:
//
//	[02/01/2006 15:04:05] alice -> Todos: hello
func (m *Message) Render() string {
	target := m.recipient
	if target == "" {
		target = BroadcastLabel
	}
	return fmt.Sprintf("[%s] %s -> %s: %s",
		m.timestamp.Format(TimeLayout), m.sender, target, m.content)
}

func (m *Message) String() string { return m.Render() }

// ── JSON form ────────────────────────────────────────────────────────

type wireMessage struct {
	ID        uuid.UUID `json:"id"`
	Sender    string    `json:"sender"`
	Recipient *string   `json:"recipient"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// MarshalJSON encodes an absent recipient as null.
func (m *Message) MarshalJSON() ([]byte, error) {
	w := wireMessage{
		ID:        m.id,
		Sender:    m.sender,
		Content:   m.content,
		Timestamp: m.timestamp,
	}
	if m.recipient != "" {
		r := m.recipient
		w.Recipient = &r
	}
	return json.Marshal(w)
}

// UnmarshalJSON accepts a missing id or timestamp and fills them in.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	if w.Timestamp.IsZero() {
		w.Timestamp = time.Now()
	}
	*m = Message{
		id:        w.ID,
		sender:    w.Sender,
		content:   w.Content,
		timestamp: w.Timestamp,
	}
	if w.Recipient != nil {
		m.recipient = *w.Recipient
	}
	return nil
}
