package telephony

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/url"
	"strings"

	"engagement_backend/platform/httpkit"
	"engagement_backend/platform/logger"

	"github.com/gin-gonic/gin"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Telephony-Signature"

const maxWebhookBody = 64 << 10

// StatusRouter receives parsed status callbacks.
type StatusRouter interface {
	HandleStatus(providerCallID, status, message string) bool
}

// StatusForm is the status callback payload (form encoded).
type StatusForm struct {
	CallSid      string
	CallStatus   string
	ErrorMessage string
}

// ParseStatusForm decodes a form-encoded status callback body.
func ParseStatusForm(body []byte) (StatusForm, error) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return StatusForm{}, err
	}
	return StatusForm{
		CallSid:      strings.TrimSpace(values.Get("CallSid")),
		CallStatus:   strings.TrimSpace(values.Get("CallStatus")),
		ErrorMessage: strings.TrimSpace(values.Get("ErrorMessage")),
	}, nil
}

// Sign returns the signature for body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature compares signature against the expected HMAC of body.
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	expected, err := hex.DecodeString(Sign(secret, body))
	if err != nil {
		return false
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	return hmac.Equal(expected, got)
}

// StatusWebhook authenticates provider status callbacks and routes them.
type StatusWebhook struct {
	Router StatusRouter
	Secret string
	Log    *logger.Logger
}

func (h StatusWebhook) Handle(c *gin.Context) {
	log := h.Log
	if log == nil {
		log = logger.Nop()
	}
	log = log.WithContext(c.Request.Context())

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	if !VerifySignature(h.Secret, body, c.GetHeader(SignatureHeader)) {
		log.Warn("telephony webhook signature rejected", "client_ip", c.ClientIP())
		httpkit.Error(c, http.StatusUnauthorized, "invalid signature", nil)
		return
	}

	form, err := ParseStatusForm(body)
	if err != nil || form.CallSid == "" {
		httpkit.Error(c, http.StatusBadRequest, "invalid form", nil)
		return
	}

	routed := h.Router.HandleStatus(form.CallSid, form.CallStatus, form.ErrorMessage)
	log.Debug("telephony status received", "provider_call_id", form.CallSid, "status", form.CallStatus, "routed", routed)
	c.Status(http.StatusNoContent)
}
