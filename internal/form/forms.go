package form

import (
	"regexp"
	"strings"
	"time"
)

// emailPattern is a loose shape check. Angle brackets are excluded so the
// address can go straight into Reply-To.
var emailPattern = regexp.MustCompile(`^[^@\s<>]+@[^@\s<>]+\.[^@\s<>]+$`)

// emailLabel uses a non-breaking hyphen.
const emailLabel = "E‑Mail"

// submission is one decoded form.
type submission interface {
	// minAge is the shortest plausible time between rendering and posting.
	minAge() time.Duration

	// missing lists the labels of invalid or empty required fields.
	missing() []string

	replyTo() string
	subject() string
	body(site string) string
}

// booking is the staffing request form posted to /send.
type booking struct {
	Vorname     string `schema:"vorname"`
	Nachname    string `schema:"nachname"`
	Einrichtung string `schema:"einrichtung"`
	Rolle       string `schema:"rolle"`
	Email       string `schema:"email"`
	Telefon     string `schema:"telefon"`
	Einsatzort  string `schema:"einsatzort"`
	Beginn      string `schema:"beginn"`
	Ende        string `schema:"ende"`
	Schicht     string `schema:"schicht"`
	Honorar     string `schema:"honorar"`
	Nachricht   string `schema:"nachricht"`
}

func (b *booking) minAge() time.Duration {
	return 1200 * time.Millisecond
}

func (b *booking) missing() []string {
	var m []string
	if b.Vorname == "" {
		m = append(m, "Vorname")
	}
	if b.Nachname == "" {
		m = append(m, "Nachname")
	}
	if !emailPattern.MatchString(b.Email) {
		m = append(m, emailLabel)
	}
	if b.Telefon == "" {
		m = append(m, "Telefon")
	}
	if b.Einsatzort == "" {
		m = append(m, "Einsatzort")
	}
	if b.Beginn == "" {
		m = append(m, "Einsatzbeginn")
	}
	return m
}

func (b *booking) replyTo() string {
	return b.Email
}

func (b *booking) subject() string {
	return "Neue Buchungsanfrage – " + b.Vorname + " " + b.Nachname
}

func (b *booking) body(site string) string {
	intro := "Buchungsanfrage"
	if site != "" {
		intro += " über " + site
	}
	return strings.Join([]string{
		intro,
		"",
		"Vorname: " + b.Vorname,
		"Nachname: " + b.Nachname,
		"Einrichtung: " + b.Einrichtung,
		"Rolle: " + orDash(b.Rolle),
		"E-Mail: " + b.Email,
		"Telefon: " + b.Telefon,
		"Einsatzort: " + b.Einsatzort,
		"Beginn: " + b.Beginn,
		"Ende: " + orDash(b.Ende),
		"Schicht: " + orDash(b.Schicht),
		"Budget: " + orDash(b.Honorar),
		"",
		"Nachricht:",
		orDash(b.Nachricht),
	}, "\n")
}

// contact is the short contact form posted to /send-contact.
type contact struct {
	Name    string `schema:"name"`
	Email   string `schema:"email"`
	Message string `schema:"message"`
}

func (c *contact) minAge() time.Duration {
	return 3 * time.Second
}

func (c *contact) missing() []string {
	var m []string
	if c.Name == "" {
		m = append(m, "Name")
	}
	if !emailPattern.MatchString(c.Email) {
		m = append(m, emailLabel)
	}
	if c.Message == "" {
		m = append(m, "Nachricht")
	}
	return m
}

func (c *contact) replyTo() string {
	return c.Email
}

func (c *contact) subject() string {
	return "Neue Kontaktanfrage – " + c.Name
}

func (c *contact) body(string) string {
	return "Kontaktanfrage:\n\nName: " + c.Name + "\nE-Mail: " + c.Email + "\n\nNachricht:\n" + c.Message + "\n"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
