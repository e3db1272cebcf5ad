package export

import (
	"bytes"
	"embed"
	"html/template"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var transcriptTemplate = template.Must(
	template.New("transcript.html").
		Funcs(template.FuncMap{
			"formatTime": func(t time.Time) string {
				return t.UTC().Format("Jan 2, 2006 15:04 UTC")
			},
		}).
		ParseFS(templateFS, "templates/transcript.html"),
)

// TranscriptData holds data for transcript template rendering
type TranscriptData struct {
	Title       string
	UserName    string
	UserEmail   string
	AdminName   string
	StartedAt   time.Time
	GeneratedAt time.Time
	Messages    []TranscriptMessage
}

type TranscriptMessage struct {
	Sender        string
	FromAdmin     bool
	Kind          string
	Content       string
	AttachmentURL string
	Filename      string
	MediaType     string
	SentAt        time.Time
	Read          bool
}

// RenderTranscriptHTML renders the transcript template. Message content is
// always escaped.
func RenderTranscriptHTML(data TranscriptData) (string, error) {
	var buf bytes.Buffer
	if err := transcriptTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
