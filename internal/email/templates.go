package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"time"
	_ "time/tzdata"
)

//go:embed templates/*.html
var templateFS embed.FS

var parisLocation = mustLoadLocation("Europe/Paris")

type baseEmailData struct {
	Title      string
	Heading    string
	Subheading string
	CTALabel   string
	CTAURL     string
}

// NurturingEmail is the content of one nurturing touch.
type NurturingEmail struct {
	LeadName string
	// Template selects the body; unknown names fall back to the generic one.
	Template string
	Subject  string
	CTAURL   string
}

// AppointmentConfirmation is sent to a lead once a slot is booked.
type AppointmentConfirmation struct {
	LeadName  string
	StaffName string
	Start     time.Time
	End       time.Time
	Location  string
}

type nurturingEmailData struct {
	baseEmailData
	LeadName string
	Body     string
}

type appointmentEmailData struct {
	baseEmailData
	LeadName  string
	StaffName string
	Date      string
	TimeRange string
	Location  string
}

var nurturingBodies = map[string]struct{ heading, body string }{
	"no_answer_3": {
		heading: "Nous avons essayé de vous joindre",
		body:    "Nous n'avons pas réussi à vous joindre par téléphone. Répondez à ce message ou choisissez un créneau pour que nous fassions le point sur votre projet de formation.",
	},
	"new_sessions": {
		heading: "De nouvelles sessions sont ouvertes",
		body:    "De nouvelles sessions de formation viennent d'être publiées. Vous pouvez consulter les dates et vous inscrire en ligne.",
	},
}

func renderNurturingEmail(data NurturingEmail) (string, string, error) {
	copyBlock, ok := nurturingBodies[data.Template]
	if !ok {
		copyBlock.heading = "Votre projet de formation"
		copyBlock.body = "Nous restons à votre disposition pour répondre à vos questions sur nos formations et les financements possibles."
	}
	subject := data.Subject
	if subject == "" {
		subject = subjectNurturingDefault
	}

	content, err := renderEmailTemplate("nurturing.html", nurturingEmailData{
		baseEmailData: baseEmailData{
			Title:    subject,
			Heading:  copyBlock.heading,
			CTALabel: ctaLabel(data.CTAURL, "Prendre rendez-vous"),
			CTAURL:   data.CTAURL,
		},
		LeadName: data.LeadName,
		Body:     copyBlock.body,
	})
	return subject, content, err
}

func renderAppointmentConfirmation(data AppointmentConfirmation) (string, string, error) {
	start := data.Start.In(parisLocation)
	end := data.End.In(parisLocation)
	date := start.Format("02/01/2006")

	content, err := renderEmailTemplate("appointment_confirmation.html", appointmentEmailData{
		baseEmailData: baseEmailData{
			Title:   "Rendez-vous confirmé",
			Heading: "Votre rendez-vous est confirmé",
		},
		LeadName:  data.LeadName,
		StaffName: data.StaffName,
		Date:      date,
		TimeRange: start.Format("15:04") + " - " + end.Format("15:04"),
		Location:  data.Location,
	})
	return fmt.Sprintf(subjectAppointmentConfirmedFmt, date), content, err
}

func renderEmailTemplate(name string, data any) (string, error) {
	templates := []string{"templates/base.html", "templates/" + name}
	tmpl, err := template.New("base.html").ParseFS(templateFS, templates...)
	if err != nil {
		return "", fmt.Errorf("parse email template %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "email", data); err != nil {
		return "", fmt.Errorf("execute email template %s: %w", name, err)
	}
	return buf.String(), nil
}

func ctaLabel(url, label string) string {
	if url == "" {
		return ""
	}
	return label
}

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
