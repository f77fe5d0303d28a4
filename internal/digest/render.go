package digest

import (
	"bytes"
	"html/template"
	"strconv"
	"time"

	"notifyd/internal/notification"
	"notifyd/internal/storage"
)

// Item is one line of the email.
type Item struct {
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// RenderProps is the input to the email template. It is also what lands in
// the render cache.
type RenderProps struct {
	Title         string `json:"title"`
	Subject       string `json:"subject"`
	CopyrightYear string `json:"copyrightYear"`
	Notifications []Item `json:"notifications"`
	More          int    `json:"more,omitempty"`
}

type emailParams struct {
	From    string   `json:"from"`
	To      string   `json:"to"`
	BCC     []string `json:"bcc,omitempty"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

type cacheDoc struct {
	RenderProps RenderProps `json:"renderProps"`
	EmailParams emailParams `json:"emailParams"`
}

var emailTemplate = template.Must(template.New("digest").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body style="font-family: Helvetica, Arial, sans-serif; background: #f7f7f9;">
<table width="100%" cellpadding="0" cellspacing="0" role="presentation">
<tr><td style="padding: 24px 0; font-size: 20px; font-weight: bold;">{{.Subject}}</td></tr>
{{range .Notifications}}<tr><td style="padding: 12px 16px; background: #fff; border-bottom: 1px solid #eee;">
{{if .Title}}<div style="font-weight: bold;">{{.Title}}</div>{{end}}
<div>{{.Message}}</div>
</td></tr>
{{end}}{{if .More}}<tr><td style="padding: 12px 16px;">and {{.More}} more</td></tr>
{{end}}<tr><td style="padding: 24px 0; font-size: 12px; color: #858199;">&copy; {{.CopyrightYear}} Audius, Inc. All Rights Reserved.</td></tr>
</table>
</body>
</html>
`))

func renderTitle(freq Frequency, email string) string {
	switch freq {
	case Daily:
		return "Daily Email - " + email
	case Weekly:
		return "Weekly Email - " + email
	default:
		return "Email - " + email
	}
}

func itemFromStored(n storage.StoredNotification) Item {
	ev := notification.Event{Type: n.Type, EntityID: n.EntityID, Metadata: n.Metadata, Timestamp: n.Timestamp}
	r := notification.Render(ev, notification.Classify(ev))
	it := Item{Message: r.Message, Timestamp: n.Timestamp}
	if r.Title != nil {
		it.Title = *r.Title
	}
	return it
}

func itemFromAnnouncement(a storage.Announcement) Item {
	return Item{Title: a.Title, Message: a.ShortDescription, Timestamp: a.DatePublished}
}

func buildProps(freq Frequency, email, subject string, now time.Time, items []Item, count int) RenderProps {
	p := RenderProps{
		Title:         renderTitle(freq, email),
		Subject:       subject,
		CopyrightYear: strconv.Itoa(now.Year()),
		Notifications: items,
	}
	if more := count - len(items); more > 0 {
		p.More = more
	}
	return p
}

func renderHTML(p RenderProps) (string, error) {
	var buf bytes.Buffer
	if err := emailTemplate.Execute(&buf, p); err != nil {
		return "", err
	}
	return buf.String(), nil
}
