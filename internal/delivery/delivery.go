// Package delivery sends rendered content to distribution channels.
//
// Every sender applies its own circuit breaker, retry policy and rate
// limiter internally; callers (the sync orchestrator) only see the final
// outcome and never re-wrap these calls.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"contentsync/internal/source"
)

// Channel is a distribution target.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelWebsite  Channel = "website"
	ChannelTelegram Channel = "telegram"
)

// AllChannels returns every known channel in canonical fan-out order.
func AllChannels() []Channel {
	return []Channel{ChannelEmail, ChannelWebsite, ChannelTelegram}
}

// ParseChannel validates a channel name from config or the API.
func ParseChannel(s string) (Channel, error) {
	switch Channel(strings.ToLower(strings.TrimSpace(s))) {
	case ChannelEmail:
		return ChannelEmail, nil
	case ChannelWebsite:
		return ChannelWebsite, nil
	case ChannelTelegram:
		return ChannelTelegram, nil
	default:
		return "", fmt.Errorf("unknown channel %q", s)
	}
}

// ErrInvalidPayload marks caller-side payload problems. Senders surface it
// untouched and breakers must NOT count it as a downstream failure.
var ErrInvalidPayload = errors.New("invalid payload")

// isTransportFailure is the breaker classifier shared by all senders:
// everything except payload validation counts as "service is broken".
func isTransportFailure(err error) bool {
	return err != nil && !errors.Is(err, ErrInvalidPayload)
}

// Payload is the channel-ready rendering of a document.
type Payload struct {
	Channel       Channel       `json:"channel"`
	Subject       string        `json:"subject"`
	Body          string        `json:"body"`
	Items         []source.Item `json:"items,omitempty"`
	CorrelationID string        `json:"correlation_id,omitempty"`
}

// Receipt is channel-specific proof of delivery. Only the fields relevant
// to the channel are set (delivered count for mail, URL for web, message
// id for telegram).
type Receipt struct {
	Delivered int    `json:"delivered,omitempty"`
	ID        string `json:"id,omitempty"`
	URL       string `json:"url,omitempty"`
}

// Sender delivers one payload to one channel.
type Sender interface {
	Channel() Channel
	Send(ctx context.Context, p Payload) (Receipt, error)
}

// Registry maps channels to senders; resolved once at construction so the
// orchestrator never string-matches channel names at execution time.
type Registry struct {
	byChannel map[Channel]Sender
	order     []Channel
}

func NewRegistry(senders ...Sender) *Registry {
	r := &Registry{byChannel: map[Channel]Sender{}}
	for _, s := range senders {
		if s == nil {
			continue
		}
		ch := s.Channel()
		if _, dup := r.byChannel[ch]; !dup {
			r.order = append(r.order, ch)
		}
		r.byChannel[ch] = s
	}
	return r
}

// Sender returns the sender for a channel, or nil if none is configured.
func (r *Registry) Sender(ch Channel) Sender { return r.byChannel[ch] }

// Channels lists configured channels in registration order.
func (r *Registry) Channels() []Channel {
	out := make([]Channel, len(r.order))
	copy(out, r.order)
	return out
}
