package main

import (
	"fmt"
	"net/smtp"
	"sync"
	"time"

	"github.com/foxcpp/go-sieve/ext"
)

// memDuplicateStore is the reference DuplicateStore spec.md scopes the
// production store out of (§1: "the persistent duplicate store... treated
// as an external collaborator"), kept here as the ambient demo/test tool
// SPEC_FULL.md calls for: an in-memory map from hash to expiry, good
// enough to exercise `duplicate` and vacation's handle suppression across
// one process's lifetime.
type memDuplicateStore struct {
	mu      sync.Mutex
	seen    map[string]time.Time
	expires time.Duration
}

func newMemDuplicateStore(expires time.Duration) *memDuplicateStore {
	return &memDuplicateStore{seen: make(map[string]time.Time), expires: expires}
}

func (s *memDuplicateStore) Seen(key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	expiry, ok := s.seen[key]
	if !ok {
		return false, nil
	}
	if time.Now().After(expiry) {
		delete(s.seen, key)
		return false, nil
	}
	return true, nil
}

func (s *memDuplicateStore) Mark(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[key] = time.Now().Add(s.expires)
	return nil
}

var _ ext.DuplicateStore = (*memDuplicateStore)(nil)

// smtpVacationSender implements ext.VacationSender by dialing out with the
// standard library's net/smtp, matching SPEC_FULL.md §6's choice of the
// stdlib client over a server-shaped library like emersion/go-smtp for a
// one-shot outbound autoresponse.
type smtpVacationSender struct {
	Addr string // host:port of the relay smtp_open would have connected to
	From string // envelope sender for the auto-reply (usually postmaster)
	Auth smtp.Auth
}

func (s *smtpVacationSender) SendVacationResponse(to, subject, reason string, mime bool) error {
	if s.Addr == "" {
		return nil // no relay configured: degrade to a no-op, like a missing ScriptEnv field
	}
	contentType := "text/plain; charset=utf-8"
	if mime {
		contentType = "message/rfc822"
	}
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: %s\r\nAuto-Submitted: auto-replied\r\n\r\n%s\r\n",
		s.From, to, subject, contentType, reason)
	return smtp.SendMail(s.Addr, s.Auth, s.From, []string{to}, []byte(msg))
}

var _ ext.VacationSender = (*smtpVacationSender)(nil)

// policy composes the CLI's DuplicateStore and VacationSender into one
// value the CLI hands Execute as its Policy. It implements no Deliverer,
// Redirector or FlagStore, so keep/fileinto/redirect do not deliver.
type policy struct {
	*memDuplicateStore
	*smtpVacationSender
}
