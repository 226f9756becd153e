// Package channels sends due nurturing tasks over email, WhatsApp, SMS, or
// as a callback reminder for the operator.
package channels

import (
	"context"
	"errors"
	"strings"

	"engagement_backend/internal/email"
	"engagement_backend/internal/nurturing"
	"engagement_backend/internal/nurturing/sequences"
	"engagement_backend/internal/whatsapp"
	"engagement_backend/platform/logger"
	"engagement_backend/platform/phone"

	"github.com/google/uuid"
)

// Contact is the addressable part of a lead.
type Contact struct {
	Name          string
	Email         *string
	Phone         string
	WhatsAppOptIn bool
}

// ContactReader resolves a lead's contact details.
type ContactReader interface {
	GetContact(ctx context.Context, organizationID, leadID uuid.UUID) (Contact, error)
}

// EmailSender is the subset of email.Sender used for nurturing.
type EmailSender interface {
	SendNurturingEmail(ctx context.Context, toEmail string, data email.NurturingEmail) error
}

// WhatsAppSender sends a WhatsApp text.
type WhatsAppSender interface {
	SendMessage(ctx context.Context, phoneNumber, message string) error
}

// SMSSender sends a text message.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// ReminderWriter puts a callback reminder in front of the operators.
type ReminderWriter interface {
	LogActivity(ctx context.Context, organizationID, leadID uuid.UUID, activityType, content string, metadata map[string]any) error
}

// Dispatcher routes a task to its channel. Nil senders disable a channel;
// disabled channels and missing addresses yield skipped executions.
type Dispatcher struct {
	contacts  ContactReader
	email     EmailSender
	whatsapp  WhatsAppSender
	sms       SMSSender
	reminders ReminderWriter
	ctaURL    string
	log       *logger.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

func WithEmail(s EmailSender) Option       { return func(d *Dispatcher) { d.email = s } }
func WithWhatsApp(s WhatsAppSender) Option { return func(d *Dispatcher) { d.whatsapp = s } }
func WithSMS(s SMSSender) Option           { return func(d *Dispatcher) { d.sms = s } }
func WithReminders(w ReminderWriter) Option {
	return func(d *Dispatcher) { d.reminders = w }
}

// WithBookingURL sets the call-to-action link used in emails.
func WithBookingURL(url string) Option { return func(d *Dispatcher) { d.ctaURL = url } }

// NewDispatcher creates a dispatcher reading contacts from contacts.
func NewDispatcher(contacts ContactReader, log *logger.Logger, opts ...Option) *Dispatcher {
	if log == nil {
		log = logger.Nop()
	}
	d := &Dispatcher{contacts: contacts, log: log.WithComponent("nurturing.channels")}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

var _ nurturing.Dispatcher = (*Dispatcher)(nil)

// Dispatch sends the task. Only transient delivery errors are returned; the
// task then stays pending and the trigger retries it.
func (d *Dispatcher) Dispatch(ctx context.Context, task nurturing.Task) (map[string]any, error) {
	contact, err := d.contacts.GetContact(ctx, task.OrganizationID, task.LeadID)
	if err != nil {
		return nil, err
	}

	switch task.Channel {
	case sequences.ChannelEmail:
		return d.sendEmail(ctx, task, contact)
	case sequences.ChannelWhatsApp:
		return d.sendWhatsApp(ctx, task, contact)
	case sequences.ChannelSMS:
		return d.sendSMS(ctx, task, contact)
	case sequences.ChannelCall:
		return d.writeReminder(ctx, task, contact)
	default:
		return skipped("unknown channel"), nil
	}
}

func (d *Dispatcher) sendEmail(ctx context.Context, task nurturing.Task, contact Contact) (map[string]any, error) {
	if d.email == nil {
		return skipped("email channel disabled"), nil
	}
	if contact.Email == nil || strings.TrimSpace(*contact.Email) == "" {
		return skipped("no email address"), nil
	}
	err := d.email.SendNurturingEmail(ctx, *contact.Email, email.NurturingEmail{
		LeadName: contact.Name,
		Template: task.Template,
		CTAURL:   d.ctaURL,
	})
	if err != nil {
		return nil, err
	}
	return sent("email", *contact.Email), nil
}

func (d *Dispatcher) sendWhatsApp(ctx context.Context, task nurturing.Task, contact Contact) (map[string]any, error) {
	if d.whatsapp == nil {
		return skipped("whatsapp channel disabled"), nil
	}
	if !contact.WhatsAppOptIn {
		return skipped("no whatsapp opt-in"), nil
	}
	if strings.TrimSpace(contact.Phone) == "" {
		return skipped("no phone number"), nil
	}
	err := d.whatsapp.SendMessage(ctx, contact.Phone, renderText(task.Template, contact.Name))
	if errors.Is(err, whatsapp.ErrInvalidPhone) {
		return skipped("invalid phone number"), nil
	}
	if err != nil {
		return nil, err
	}
	return sent("whatsapp", contact.Phone), nil
}

func (d *Dispatcher) sendSMS(ctx context.Context, task nurturing.Task, contact Contact) (map[string]any, error) {
	if d.sms == nil {
		return skipped("sms channel disabled"), nil
	}
	to, err := phone.ParseE164(contact.Phone, phone.DefaultRegion)
	if err != nil {
		return skipped("invalid phone number"), nil
	}
	if err := d.sms.SendSMS(ctx, to, renderText(task.Template, contact.Name)); err != nil {
		return nil, err
	}
	return sent("sms", to), nil
}

func (d *Dispatcher) writeReminder(ctx context.Context, task nurturing.Task, contact Contact) (map[string]any, error) {
	if d.reminders == nil {
		return skipped("reminders disabled"), nil
	}
	content := "Rappeler " + contact.Name
	if contact.Name == "" {
		content = "Rappeler le prospect"
	}
	metadata := map[string]any{"taskId": task.ID.String(), "phone": contact.Phone}
	if err := d.reminders.LogActivity(ctx, task.OrganizationID, task.LeadID, "callback_reminder", content, metadata); err != nil {
		return nil, err
	}
	return map[string]any{"skipped": false, "channel": "call"}, nil
}

func skipped(reason string) map[string]any {
	return map[string]any{"skipped": true, "reason": reason}
}

func sent(channel, recipient string) map[string]any {
	return map[string]any{"skipped": false, "channel": channel, "recipient": recipient}
}
