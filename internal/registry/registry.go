// Package registry keeps the directory of connected display names and
// routes messages between them.
package registry

import (
	"sort"
	"strings"
	"sync"

	"github.com/samber/lo"

	"chatd/internal/errors"
	"chatd/internal/message"
	"chatd/internal/metrics"
	"chatd/util"
)

// Peer receives routed messages.  Send must not block; it reports false
// when the message could not be queued.
type Peer interface {
	Send(msg *message.Message) bool
}

// Registry maps display names to peers.  Routing never holds the lock
// while delivering.
type Registry struct {
	mu      sync.RWMutex
	peers   map[string]Peer
	logger  *util.Logger
	metrics *metrics.Collector
}

// New returns an empty registry.  logger and m may be nil.
func New(logger *util.Logger, m *metrics.Collector) *Registry {
	if logger == nil {
		logger = util.NewLogger(0)
	}
	return &Registry{
		peers:   make(map[string]Peer),
		logger:  logger,
		metrics: m,
	}
}

// ── Membership ───────────────────────────────────────────────────────

// Register adds name → p.  The presence check and the insert happen
// under one write lock, so concurrent registrations of the same name
// admit exactly one.
func (r *Registry) Register(name string, p Peer) error {
	r.mu.Lock()
	if _, taken := r.peers[name]; taken {
		r.mu.Unlock()
		return errors.ErrNameTaken
	}
	r.peers[name] = p
	total := len(r.peers)
	names := r.sortedNamesLocked()
	r.mu.Unlock()

	r.logger.Info("client connected: %s (total: %d)", name, total)
	r.logger.Verbose("active users: %s", strings.Join(names, ", "))
	return nil
}

// Remove deletes name.  It reports whether the name was present.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	_, ok := r.peers[name]
	delete(r.peers, name)
	total := len(r.peers)
	r.mu.Unlock()

	if ok {
		r.logger.Info("client disconnected: %s (total: %d)", name, total)
	}
	return ok
}

// Exists reports whether name is registered.
func (r *Registry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.peers[name]
	return ok
}

// Lookup returns the peer registered under name.
func (r *Registry) Lookup(name string) (Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[name]
	return p, ok
}

// Len returns the number of registered names.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// Names returns the registered names in ascending order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedNamesLocked()
}

func (r *Registry) sortedNamesLocked() []string {
	names := lo.Keys(r.peers)
	sort.Strings(names)
	return names
}

// ── Routing ──────────────────────────────────────────────────────────

// Broadcast delivers msg to every peer except exclude ("" excludes
// nobody) and returns how many accepted it.  Peers that refuse the
// message are counted as dropped and do not affect the others.
func (r *Registry) Broadcast(msg *message.Message, exclude string) int {
	r.mu.RLock()
	targets := lo.Values(lo.OmitByKeys(r.peers, []string{exclude}))
	r.mu.RUnlock()

	r.metrics.Broadcast()
	delivered := 0
	for _, p := range targets {
		if p.Send(msg) {
			delivered++
		} else {
			r.metrics.Dropped()
		}
	}
	r.logger.Debug("broadcast from %s: %d/%d delivered", msg.Sender(), delivered, len(targets))
	return delivered
}

// DeliverDirected forwards msg to its recipient.  When the recipient is
// not registered the sender (if still registered) is told so, and
// ErrRecipientNotFound is returned.
func (r *Registry) DeliverDirected(msg *message.Message) error {
	target, ok := r.Lookup(msg.Recipient())
	if ok {
		r.metrics.Directed()
		if !target.Send(msg) {
			r.metrics.Dropped()
		}
		r.logger.Debug("directed %s -> %s", msg.Sender(), msg.Recipient())
		return nil
	}

	r.metrics.RoutingMiss()
	if sender, ok := r.Lookup(msg.Sender()); ok {
		sender.Send(message.System(msg.Sender(), message.NotFound(msg.Recipient())))
	}
	r.logger.Debug("directed %s -> %s: recipient not found", msg.Sender(), msg.Recipient())
	return errors.ErrRecipientNotFound
}

// ListUsers renders the connected-user listing.
func (r *Registry) ListUsers() string {
	names := r.Names()
	if len(names) == 0 {
		return message.NoUsers
	}
	var b strings.Builder
	b.WriteString(message.UsersHeader)
	for _, n := range names {
		b.WriteString(message.UserBullet)
		b.WriteString(n)
		b.WriteByte('\n')
	}
	return b.String()
}
