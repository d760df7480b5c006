package sievemanager

import (
	"context"
	"fmt"
	"net/textproto"
	"strings"
	"time"

	"github.com/foxcpp/go-sieve"
	"github.com/foxcpp/go-sieve/interp"
)

// TestMessage is a synthetic incoming message for Preview.
type TestMessage struct {
	From    string
	To      string
	Subject string
	Header  map[string][]string
}

// Reply is the auto-reply a script would send for a TestMessage.
type Reply struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Days    int    `json:"days"`
}

// Preview runs script against msg and reports the vacation reply it would
// produce, or nil when the script stays silent. Nothing is sent.
func Preview(ctx context.Context, script string, msg TestMessage) (*Reply, error) {
	options := sieve.DefaultOptions()
	options.EnabledExtensions = SupportedExtensions
	loaded, err := sieve.Load(strings.NewReader(script), options)
	if err != nil {
		return nil, fmt.Errorf("failed to load script: %w", err)
	}

	header := make(map[string][]string, len(msg.Header)+3)
	for k, v := range msg.Header {
		header[textproto.CanonicalMIMEHeaderKey(k)] = v
	}
	if _, ok := header["From"]; !ok && msg.From != "" {
		header["From"] = []string{msg.From}
	}
	if _, ok := header["To"]; !ok && msg.To != "" {
		header["To"] = []string{msg.To}
	}
	if _, ok := header["Subject"]; !ok && msg.Subject != "" {
		header["Subject"] = []string{msg.Subject}
	}

	data := sieve.NewRuntimeData(loaded, previewPolicy{},
		previewEnvelope{from: msg.From, to: msg.To},
		previewMessage{header: header})
	if err := loaded.Execute(ctx, data); err != nil {
		return nil, fmt.Errorf("failed to run script: %w", err)
	}

	for sender, v := range data.VacationResponses {
		return &Reply{To: sender, Subject: v.Subject, Body: v.Body, Days: int(v.Days)}, nil
	}
	return nil, nil
}

// Preview dry-runs the active script of email against msg. The envelope
// recipient defaults to the mailbox address.
func (m *Manager) Preview(ctx context.Context, email string, msg TestMessage) (*Reply, error) {
	script, err := m.ActiveScript(ctx, email)
	if err != nil || script == "" {
		return nil, err
	}
	if msg.To == "" {
		p, err := m.paths(email)
		if err != nil {
			return nil, err
		}
		msg.To = p.email
	}
	return Preview(ctx, script, msg)
}

type previewPolicy struct{}

func (previewPolicy) RedirectAllowed(ctx context.Context, d *interp.RuntimeData, addr string) (bool, error) {
	return false, nil
}

func (previewPolicy) VacationResponseAllowed(ctx context.Context, d *interp.RuntimeData, recipient, handle string, duration time.Duration) (bool, error) {
	return true, nil
}

func (previewPolicy) SendVacationResponse(ctx context.Context, d *interp.RuntimeData, recipient, from, subject, body string, isMime bool) error {
	return nil
}

type previewEnvelope struct {
	from, to string
}

func (e previewEnvelope) EnvelopeFrom() string { return e.from }
func (e previewEnvelope) EnvelopeTo() string   { return e.to }
func (e previewEnvelope) AuthUsername() string { return "" }

type previewMessage struct {
	header map[string][]string
}

func (m previewMessage) HeaderGet(key string) ([]string, error) {
	return m.header[textproto.CanonicalMIMEHeaderKey(key)], nil
}

func (m previewMessage) MessageSize() int { return 0 }
