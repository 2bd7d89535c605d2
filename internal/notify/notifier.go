// Package notify sends operator alerts about ledger activity (disputes,
// settlements) to chat channels. Notifications are dispatched to every
// registered sender and filtered by event type.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/alanyoungcy/recledger/internal/domain"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches notifications to one or more Senders. Notify only
// forwards events whose type is in the allowed set; NotifyAll bypasses the
// filter.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier for senders. An empty events list allows
// every event type.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return len(n.senders) > 0
}

// Wants reports whether event passes the filter.
func (n *Notifier) Wants(event string) bool {
	return len(n.events) == 0 || n.events[event]
}

// Notify sends a notification if the event type passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Wants(event) {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// NotifyEvent formats a committed ledger event and sends it through Notify.
func (n *Notifier) NotifyEvent(ctx context.Context, ev domain.LedgerEvent) error {
	if !n.Enabled() {
		return nil
	}
	title, message := FormatEvent(ev)
	return n.Notify(ctx, string(ev.Type), title, message)
}

// NotifyAll sends a notification to all senders regardless of event type.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// dispatch delivers to every sender. One failing sender does not stop the
// others; their errors are combined.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

var eventTitles = map[domain.EventType]string{
	domain.EventDisputeOpened:    "Verification disputed",
	domain.EventDisputeResolved:  "Dispute resolved",
	domain.EventListingSold:      "Certificate sold",
	domain.EventAuctionClosed:    "Auction closed",
	domain.EventRevenueWithdrawn: "Platform revenue withdrawn",
	domain.EventVerifierAdded:    "Verifier authorized",
	domain.EventAdminGranted:     "Admin granted",
	domain.EventAdminRevoked:     "Admin revoked",
}

// FormatEvent renders a ledger event as a title and a key: value body with
// attributes in sorted order.
func FormatEvent(ev domain.LedgerEvent) (title, message string) {
	title = eventTitles[ev.Type]
	if title == "" {
		title = strings.ReplaceAll(string(ev.Type), "_", " ")
	}

	keys := make([]string, 0, len(ev.Attrs))
	for k := range ev.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "height: %d\ncaller: %s", ev.Height, ev.Caller.Hex())
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: %s", k, ev.Attrs[k])
	}
	return title, b.String()
}
