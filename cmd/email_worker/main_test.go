package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oksasatya/homekeep/pkg/mailer"
)

type fakeSender struct {
	out []mailer.Message
	err error
}

func (f *fakeSender) Send(_ context.Context, m mailer.Message) error {
	f.out = append(f.out, m)
	return f.err
}

func TestProcessRendersTemplate(t *testing.T) {
	s := &fakeSender{}
	body := `{"to":"bob@example.com","template":"household_invite","data":{"InviterName":"Alice","HouseholdName":"Flat 4","InviteCode":"ABC234","JoinURL":"https://homekeep.test/join?code=ABC234"}}`
	job, err := process(context.Background(), s, []byte(body))
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", job.Data["Email"])
	require.Len(t, s.out, 1)
	assert.Contains(t, s.out[0].Subject, "Flat 4")
	assert.Contains(t, s.out[0].HTML, "ABC234")
	assert.Equal(t, "household_invite", s.out[0].Tag)
}

func TestProcessRawEmail(t *testing.T) {
	s := &fakeSender{}
	_, err := process(context.Background(), s, []byte(`{"to":"a@b.c","subject":"hi","text":"hello"}`))
	require.NoError(t, err)
	assert.Equal(t, "hello", s.out[0].Text)
	assert.Empty(t, s.out[0].Tag)
}

func TestProcessPermanentFailures(t *testing.T) {
	for name, body := range map[string]string{
		"bad json":         `{`,
		"no recipient":     `{"template":"verify_email"}`,
		"unknown template": `{"to":"a@b.c","template":"newsletter"}`,
		"empty":            `{"to":"a@b.c"}`,
	} {
		t.Run(name, func(t *testing.T) {
			s := &fakeSender{}
			_, err := process(context.Background(), s, []byte(body))
			assert.ErrorIs(t, err, errPermanent)
			assert.Empty(t, s.out)
		})
	}
}

func TestProcessSendFailureIsRetryable(t *testing.T) {
	s := &fakeSender{err: errors.New("mailgun: 502")}
	_, err := process(context.Background(), s, []byte(`{"to":"a@b.c","subject":"hi","text":"x"}`))
	require.Error(t, err)
	assert.NotErrorIs(t, err, errPermanent)
}
