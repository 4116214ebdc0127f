// Package bitmex captures the BitMEX realtime API. Topics are requested in the
// connection URL, so nothing is sent after the connection opens.
package bitmex

import (
	"context"
	"strings"

	"github.com/hpungsan/wsdump/internal/stream"
)

// Name identifies the exchange in file prefixes.
const Name = "bitmex"

const baseURL = "wss://www.bitmex.com/realtime"

// DefaultTopics are the public tables subscribed through the URL.
var DefaultTopics = []string{
	"announcement", "chat", "connected", "funding", "instrument", "insurance",
	"liquidation", "orderBookL2", "publicNotifications", "settlement", "trade",
}

// Session is a URL-subscribed capture session.
type Session struct {
	url string
}

// NewSession subscribes to topics, or DefaultTopics when none are given.
func NewSession(topics []string) *Session {
	if len(topics) == 0 {
		topics = DefaultTopics
	}
	return &Session{url: baseURL + "?subscribe=" + strings.Join(topics, ",")}
}

func (s *Session) Name() string { return Name }

func (s *Session) URL() string { return s.url }

// Prepare has no metadata to fetch.
func (s *Session) Prepare(context.Context) error { return nil }

// Subscribe sends nothing.
func (s *Session) Subscribe(stream.Sender) error { return nil }
