package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/template"
	"time"

	"github.com/pkg/errors"
)

const defaultUsername = "moor"

// messageTemplate renders the one-line summary; details ride along as
// attachments.
const messageTemplate = `Rollout of {{.Artifact}} to {{.Service}} in {{.Environment}}: {{.Status}}.`

var httpClient = &http.Client{Timeout: 5 * time.Second}

type SlackMsg struct {
	Username    string            `json:"username"`
	Text        string            `json:"text"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

type SlackAttachment struct {
	Fallback string `json:"fallback,omitempty"`
	Text     string `json:"text"`
	Color    string `json:"color,omitempty"`
}

// SlackNotifier posts notes to a Slack incoming-webhook URL.
type SlackNotifier struct {
	HookURL  string
	Username string
}

var _ Notifier = &SlackNotifier{}

func (s *SlackNotifier) Notify(ctx context.Context, note Note) error {
	text, err := instantiateTemplate("rollout", messageTemplate, note)
	if err != nil {
		return err
	}

	var attachments []SlackAttachment
	if note.Error != "" {
		attachments = append(attachments, SlackAttachment{
			Fallback: note.Error,
			Text:     note.Error,
			Color:    colorFor(note.Status),
		})
	} else if note.Revision != "" {
		attachments = append(attachments, SlackAttachment{
			Fallback: note.Revision,
			Text:     "revision " + note.Revision,
			Color:    colorFor(note.Status),
		})
	}

	username := s.Username
	if username == "" {
		username = defaultUsername
	}
	return s.post(ctx, SlackMsg{
		Username:    username,
		Text:        text,
		Attachments: attachments,
	})
}

func (s *SlackNotifier) post(ctx context.Context, msg SlackMsg) error {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(msg); err != nil {
		return errors.Wrap(err, "encoding Slack POST request")
	}

	req, err := http.NewRequest("POST", s.HookURL, buf)
	if err != nil {
		return errors.Wrap(err, "constructing Slack HTTP request")
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := httpClient.Do(req.WithContext(ctx))
	if err != nil {
		return errors.Wrap(err, "executing HTTP POST to Slack")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024*1024))
		return fmt.Errorf("%s from Slack (%s)", resp.Status, strings.TrimSpace(string(body)))
	}
	return nil
}

func colorFor(status string) string {
	switch status {
	case "Stable":
		return "good"
	case "TimedOut":
		return "warning"
	default:
		return "danger"
	}
}

func instantiateTemplate(tmplName, tmplStr string, args interface{}) (string, error) {
	tmpl, err := template.New(tmplName).Parse(tmplStr)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, args); err != nil {
		return "", err
	}
	return buf.String(), nil
}
