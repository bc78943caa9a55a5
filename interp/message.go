package interp

import "net/textproto"

// MessageStatic is a MessageData backed by an already-parsed header set
// and a precomputed size - for callers that parsed the message
// themselves rather than handing interp a live mail store, or tests that
// build one by hand.
type MessageStatic struct {
	SizeBytes int64
	Header    textproto.MIMEHeader
}

func (m MessageStatic) HeaderValues(name string) ([]string, bool) {
	values, ok := m.Header[textproto.CanonicalMIMEHeaderKey(name)]
	return values, ok
}

func (m MessageStatic) Size() int64 { return m.SizeBytes }

// EnvelopeStatic is an Envelope with its three fields fixed up front, for
// callers that already know the SMTP envelope (or, in tests, don't care
// about it).
type EnvelopeStatic struct {
	FromAddr string
	ToAddr   string
	AuthUser string
}

func (e EnvelopeStatic) From() string { return e.FromAddr }
func (e EnvelopeStatic) To() string   { return e.ToAddr }
func (e EnvelopeStatic) Auth() string { return e.AuthUser }

// DummyPolicy is a Policy that implements none of the optional host
// capabilities (Deliverer, Redirector, FlagStore, ...) - every action
// executes as a no-op against it. Useful for dry runs and tests that only
// want to inspect RuntimeData.Result rather than actually deliver mail.
type DummyPolicy struct{}
