package mailer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeFillsBlanks(t *testing.T) {
	j := EmailJob{To: "a@b.c", Template: "verify_email", Data: map[string]any{"Email": "", "RecipientEmail": "kept@b.c"}}
	j.Normalize()
	assert.Equal(t, "a@b.c", j.Data["Email"])
	assert.Equal(t, "kept@b.c", j.Data["RecipientEmail"])
	assert.Equal(t, "verify_email", j.Data["Type"])

	raw := EmailJob{To: "a@b.c"}
	raw.Normalize()
	assert.NotContains(t, raw.Data, "Type")
}

func TestMessageEmpty(t *testing.T) {
	assert.True(t, Message{Text: "body"}.Empty())
	assert.True(t, Message{Subject: "s"}.Empty())
	assert.False(t, Message{Subject: "s", HTML: "<p>x</p>"}.Empty())
}
