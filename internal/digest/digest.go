// Package digest produces the internal reporting emails: a daily summary
// of abandoned leads and immediate alerts for near-converted abandons.
package digest

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"time"

	"github.com/leadqualifier/leadqualifier/internal/models"
	"github.com/leadqualifier/leadqualifier/internal/store"
)

// DefaultWindow is the reporting window for the daily digest.
const DefaultWindow = 24 * time.Hour

// Mailer sends an internal email. delivery.EmailSender satisfies this.
type Mailer interface {
	Send(ctx context.Context, to, subject, plain, html string) error
}

// HTML template for the daily digest email.
const digestEmailHTML = `<!DOCTYPE html>
<html>
<head>
<style>
  body { font-family: monospace; line-height: 1.5; }
  .container { border: 1px solid #ccc; padding: 15px; max-width: 700px; }
  h2 { margin-top: 0; }
  table { border-collapse: collapse; width: 100%; }
  th, td { border: 1px solid #ddd; padding: 6px; text-align: left; }
  th { background: #f4f4f4; }
  .flag { color: #b00; font-weight: bold; }
</style>
</head>
<body>
  <div class="container">
    <h2>Abandoned Lead Digest</h2>
    <p>{{.Summary.Since.Format "Jan 2 15:04"}} &ndash; {{.Summary.Until.Format "Jan 2 15:04"}} UTC</p>
    <ul>
      <li><strong>Total abandoned:</strong> {{.Summary.Total}}</li>
      <li><strong>With email:</strong> {{.Summary.WithEmail}} &middot; <strong>with phone:</strong> {{.Summary.WithPhone}} &middot; <strong>no contact:</strong> {{.Summary.WithoutContact}}</li>
      <li><strong>High balance:</strong> {{.Summary.HighBalance}}</li>
      <li class="flag"><strong>Stuck at verification:</strong> {{.Summary.StuckAtVerification}}</li>
    </ul>
    {{if .Leads}}
    <table>
      <tr><th>Contact</th><th>Name</th><th>Last phase</th><th>Issues</th><th>Duration</th></tr>
      {{range .Leads}}
      <tr>
        <td>{{.Identifier}}</td>
        <td>{{.Name}}</td>
        <td>{{.LastPhase}}</td>
        <td>{{range $i, $t := .Issues}}{{if $i}}, {{end}}{{$t}}{{end}}</td>
        <td>{{.SessionDuration}}</td>
      </tr>
      {{end}}
    </table>
    {{end}}
  </div>
</body>
</html>`

// HTML template for the immediate high-priority alert email.
const alertEmailHTML = `<!DOCTYPE html>
<html>
<head>
<style>
  body { font-family: monospace; line-height: 1.5; }
  .container { border: 2px solid #b00; padding: 15px; max-width: 600px; }
  h2 { margin-top: 0; color: #b00; }
  ul { list-style: none; padding: 0; }
  li { margin-bottom: 5px; }
</style>
</head>
<body>
  <div class="container">
    <h2>Hot Lead Abandoned at Verification</h2>
    <ul>
      <li><strong>Contact:</strong> {{.Identifier}}</li>
      <li><strong>Name:</strong> {{.Name}}</li>
      <li><strong>Email:</strong> {{.Email}}</li>
      <li><strong>Phone:</strong> {{.Phone}}</li>
      <li><strong>Issues:</strong> {{range $i, $t := .Issues}}{{if $i}}, {{end}}{{$t}}{{end}}</li>
      <li><strong>Session duration:</strong> {{.SessionDuration}}</li>
    </ul>
    <p>The visitor verified nothing but left full contact details. Reach out promptly.</p>
  </div>
</body>
</html>`

var (
	digestTemplate = template.Must(template.New("digest").Parse(digestEmailHTML))
	alertTemplate  = template.Must(template.New("alert").Parse(alertEmailHTML))
)

// Reporter builds and sends the internal reporting emails.
type Reporter struct {
	store     store.LeadStore
	mailer    Mailer
	recipient string
	window    time.Duration
	now       func() time.Time
}

// Opts holds configuration for the reporter.
type Opts struct {
	Recipient string
	Window    time.Duration
	Now       func() time.Time
}

// Option configures the reporter.
type Option func(*Opts)

// WithRecipient sets the internal address that receives reports.
func WithRecipient(to string) Option {
	return func(o *Opts) { o.Recipient = to }
}

// WithWindow overrides the digest reporting window.
func WithWindow(d time.Duration) Option {
	return func(o *Opts) { o.Window = d }
}

// WithClock overrides the time source (used in tests).
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// NewReporter creates a reporter over the given lead store and mailer.
func NewReporter(leadStore store.LeadStore, mailer Mailer, opts ...Option) (*Reporter, error) {
	cfg := Opts{Window: DefaultWindow, Now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Recipient == "" {
		return nil, fmt.Errorf("digest recipient must be provided")
	}
	return &Reporter{
		store:     leadStore,
		mailer:    mailer,
		recipient: cfg.Recipient,
		window:    cfg.Window,
		now:       cfg.Now,
	}, nil
}

// RunDaily collects leads touched within the window and emails the summary.
// An empty window sends nothing.
func (r *Reporter) RunDaily(ctx context.Context) error {
	until := r.now().UTC()
	since := until.Add(-r.window)

	leads, err := r.store.ListUpdatedSince(ctx, since)
	if err != nil {
		return fmt.Errorf("failed to list leads for digest: %w", err)
	}
	if len(leads) == 0 {
		slog.Info("Reporter.RunDaily: no abandoned leads in window, skipping digest")
		return nil
	}

	summary := Summarize(leads, since, until)

	var buf bytes.Buffer
	data := struct {
		Summary models.DigestSummary
		Leads   []models.AbandonedLead
	}{summary, leads}
	if err := digestTemplate.Execute(&buf, data); err != nil {
		return fmt.Errorf("failed to render digest: %w", err)
	}

	subject := fmt.Sprintf("[Digest] %d abandoned lead(s), %d stuck at verification",
		summary.Total, summary.StuckAtVerification)
	plain := fmt.Sprintf(
		"Abandoned leads %s - %s UTC\nTotal: %d\nWith email: %d, with phone: %d, no contact: %d\nHigh balance: %d\nStuck at verification: %d\n",
		since.Format("Jan 2 15:04"), until.Format("Jan 2 15:04"),
		summary.Total, summary.WithEmail, summary.WithPhone, summary.WithoutContact,
		summary.HighBalance, summary.StuckAtVerification,
	)

	if err := r.mailer.Send(ctx, r.recipient, subject, plain, buf.String()); err != nil {
		return fmt.Errorf("failed to send digest: %w", err)
	}
	slog.Info("Reporter.RunDaily: digest sent", "recipient", r.recipient, "total", summary.Total)
	return nil
}

// Alert sends an immediate notification for a near-converted abandon.
// Satisfies the reconciler's Alerter.
func (r *Reporter) Alert(ctx context.Context, lead models.AbandonedLead) error {
	var buf bytes.Buffer
	if err := alertTemplate.Execute(&buf, lead); err != nil {
		return fmt.Errorf("failed to render alert: %w", err)
	}

	subject := fmt.Sprintf("[Hot Lead] %s abandoned at verification", lead.Identifier)
	plain := fmt.Sprintf(
		"Contact: %s\nName: %s\nEmail: %s\nPhone: %s\nSession duration: %s\n",
		lead.Identifier, lead.Name, lead.Email, lead.Phone, lead.SessionDuration,
	)

	if err := r.mailer.Send(ctx, r.recipient, subject, plain, buf.String()); err != nil {
		return fmt.Errorf("failed to send alert: %w", err)
	}
	slog.Info("Reporter.Alert: hot lead alert sent", "identifier", lead.Identifier)
	return nil
}

// Summarize aggregates leads into the digest counters.
func Summarize(leads []models.AbandonedLead, since, until time.Time) models.DigestSummary {
	summary := models.DigestSummary{
		Since:   since,
		Until:   until,
		Total:   len(leads),
		ByPhase: make(map[models.Phase]int),
	}
	for i := range leads {
		l := &leads[i]
		summary.ByPhase[l.LastPhase]++
		if l.Email != "" {
			summary.WithEmail++
		}
		if l.Phone != "" {
			summary.WithPhone++
		}
		if !l.HasContact() {
			summary.WithoutContact++
		}
		if l.HighValue() {
			summary.HighBalance++
		}
		if l.LastPhase == models.PhaseVerification {
			summary.StuckAtVerification++
		}
	}
	return summary
}
