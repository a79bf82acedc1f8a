package mailer

import "fmt"

// EmailJob is the queue payload. A job carries either Template with Data or
// a ready Subject with Text and/or HTML.
type EmailJob struct {
	To       string         `json:"to"`
	Subject  string         `json:"subject,omitempty"`
	Text     string         `json:"text,omitempty"`
	HTML     string         `json:"html,omitempty"`
	Template string         `json:"template,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// Normalize fills the address fields every template renders when the
// producer left them blank.
func (j *EmailJob) Normalize() {
	if j.Data == nil {
		j.Data = map[string]any{}
	}
	fill := func(k, v string) {
		if cur, ok := j.Data[k]; !ok || fmt.Sprint(cur) == "" {
			j.Data[k] = v
		}
	}
	fill("Email", j.To)
	fill("RecipientEmail", j.To)
	if j.Template != "" {
		fill("Type", j.Template)
	}
}

// Message is one rendered email ready for a Sender.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
	Tag     string
}

func (m Message) Empty() bool {
	return m.Subject == "" || (m.Text == "" && m.HTML == "")
}
