package core

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"gwi.com/chatcore/internal/store"
)

const (
	artifactFence  = "````"
	artifactOpener = artifactFence + "artifact("
)

var (
	artifactPattern = regexp.MustCompile(artifactFence + `artifact\("([^"]+)","([^"]+)"\)\n\s*([\s\S]*?)\s*\n\s*` + artifactFence)
	followUpPattern = regexp.MustCompile(`(?s)<FOLLOWUP>(.*?)</FOLLOWUP>`)
)

// ExtractedArtifact is an artifact that does not yet belong to a message.
type ExtractedArtifact struct {
	FileExtension string
	Label         string
	Content       string
}

// ExtractArtifacts removes every well-formed artifact block from text.
// Malformed blocks stay in the text.
func ExtractArtifacts(text string) (string, []ExtractedArtifact) {
	var (
		artifacts []ExtractedArtifact
		cleaned   strings.Builder
		last, pos int
	)
	for pos < len(text) {
		m := artifactPattern.FindStringSubmatchIndex(text[pos:])
		if m == nil {
			break
		}
		for i := range m {
			m[i] += pos
		}
		// A match that swallows another opener started at an unclosed
		// fence; rescan from the inner opener.
		if inner := strings.Index(text[m[0]+len(artifactFence):m[1]], artifactOpener); inner >= 0 {
			pos = m[0] + len(artifactFence) + inner
			continue
		}

		artifacts = append(artifacts, ExtractedArtifact{
			FileExtension: text[m[2]:m[3]],
			Label:         text[m[4]:m[5]],
			Content:       strings.TrimSpace(text[m[6]:m[7]]),
		})
		cleaned.WriteString(text[last:m[0]])
		last, pos = m[1], m[1]
	}
	if len(artifacts) == 0 {
		return text, nil
	}
	cleaned.WriteString(text[last:])
	return strings.TrimSpace(cleaned.String()), artifacts
}

// ExtractFollowUps removes every closed <FOLLOWUP> tag from text and returns
// the non-empty questions in order. Unclosed tags stay in the text.
func ExtractFollowUps(text string) (string, []string) {
	matches := followUpPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return text, nil
	}

	questions := make([]string, 0, len(matches))
	for _, m := range matches {
		if q := strings.TrimSpace(m[1]); q != "" {
			questions = append(questions, q)
		}
	}
	return strings.TrimSpace(followUpPattern.ReplaceAllString(text, "")), questions
}

// ExtractResponse runs the artifact pass and then the follow-up pass.
func ExtractResponse(text string) (string, []ExtractedArtifact, []string) {
	text, artifacts := ExtractArtifacts(text)
	text, questions := ExtractFollowUps(text)
	return text, artifacts, questions
}

// StampArtifacts assigns ids and the owning message to extracted artifacts.
func StampArtifacts(extracted []ExtractedArtifact, messageID string, now time.Time) []store.Artifact {
	artifacts := make([]store.Artifact, 0, len(extracted))
	for _, a := range extracted {
		artifacts = append(artifacts, store.Artifact{
			ID:            uuid.NewString(),
			ChatMessageID: messageID,
			FileExtension: a.FileExtension,
			Label:         a.Label,
			Content:       a.Content,
			CreatedAt:     now,
		})
	}
	return artifacts
}

func StampFollowUps(questions []string, messageID string) []store.FollowUpQuestion {
	followUps := make([]store.FollowUpQuestion, 0, len(questions))
	for _, q := range questions {
		followUps = append(followUps, store.FollowUpQuestion{
			ID:            uuid.NewString(),
			ChatMessageID: messageID,
			Content:       q,
		})
	}
	return followUps
}
