package templates

import (
	"time"

	"github.com/oksasatya/homekeep/config"
)

// Option pattern
type Option func(*EmailData)

const timeLayout = "02 January 2006, 15:04 MST"

func WithIP(ip string) Option        { return func(d *EmailData) { d.IP = ip } }
func WithUserAgent(ua string) Option { return func(d *EmailData) { d.UserAgent = ua } }
func WithTime(t time.Time) Option {
	return func(d *EmailData) {
		utc := t.UTC()
		d.TimeAt = utc
		d.Time = utc.Format(timeLayout)
	}
}
func WithVerifyURL(url string) Option { return func(d *EmailData) { d.VerifyURL = url } }
func WithResetURL(url string) Option  { return func(d *EmailData) { d.ResetURL = url } }

func WithExpiresIn(dur time.Duration) Option {
	return func(d *EmailData) {
		utc := time.Now().Add(dur).UTC()
		d.ExpiresAt = utc
		d.ExpiresAtText = utc.Format(timeLayout)
	}
}

// NewBaseEmailData fills the fields shared by every template from cfg.
func NewBaseEmailData(cfg *config.Config, typ string, name, email, recipient string, opts ...Option) EmailData {
	d := EmailData{
		Name:           name,
		Email:          email,
		RecipientEmail: recipient,
		Type:           typ,
	}
	if cfg != nil {
		d.CompanyName = cfg.CompanyName
		d.CompanyAddress = cfg.CompanyAddress
		d.AppName = cfg.AppName
		d.LogoURL = cfg.LogoURL
		d.SupportURL = cfg.SupportURL
		d.PrivacyURL = cfg.PrivacyURL
		d.UnsubscribeURL = cfg.UnsubscribeURL
		d.ResetURL = cfg.ResetPasswordURL
		d.VerifyURL = cfg.VerifyEmailURL
	}
	for _, opt := range opts {
		opt(&d)
	}
	return d
}

func NewVerifyEmailData(cfg *config.Config, name, email, verifyURL string, opts ...Option) map[string]any {
	opts = append([]Option{WithVerifyURL(verifyURL)}, opts...)
	return ToMap(NewBaseEmailData(cfg, VerifyEmail, name, email, email, opts...))
}

func NewForgotPasswordData(cfg *config.Config, name, email, recipient string, opts ...Option) map[string]any {
	return ToMap(NewBaseEmailData(cfg, ForgotPassword, name, email, recipient, opts...))
}

// NewHouseholdInviteData is addressed to a person who may not have an account
// yet, so Name is left empty.
func NewHouseholdInviteData(cfg *config.Config, email, inviterName, householdName, code, joinURL string, opts ...Option) map[string]any {
	d := NewBaseEmailData(cfg, HouseholdInvite, "", email, email, opts...)
	d.InviterName = inviterName
	d.HouseholdName = householdName
	d.InviteCode = code
	d.JoinURL = joinURL
	return ToMap(d)
}
