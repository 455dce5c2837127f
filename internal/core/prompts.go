package core

import (
	"fmt"
	"strings"

	"gwi.com/chatcore/internal/store"
)

const artifactInstructions = `

# Additional Instructions

## Artifacts

1. Decide whether any part of your answer is artifact-worthy: complete, non-trivial, reusable content such as a document, source file, configuration or structured data. Trivial snippets, one-liners and illustrative fragments are not artifacts. As a rule of thumb an artifact is longer than 250 characters or 15 lines.
2. Wrap every artifact individually in this exact format:
   ` + artifactFence + `artifact("<file_extension>","<label>")
   <artifact_content>
   ` + artifactFence + `
   Use the most specific file extension for the content (".go", ".json", ".txt"). The label is a short sentence-case description. Never wrap the artifact content itself in another quadruple fence.
3. Artifact content appears exactly once, inside its wrapper. Do not repeat it elsewhere in the answer.
4. When there is nothing artifact-worthy, leave ordinary code formatting untouched.

## Follow Up Questions

1. When your answer is open-ended, educational or invites further exploration, suggest 2-3 follow-up questions the user would naturally ask next.
2. Questions are specific, actionable complete sentences, relevant to the user's intent. Avoid yes/no questions.
3. Wrap each question individually as <FOLLOWUP>question text here</FOLLOWUP>.
`

const contextHeader = `

# Additional Context

The following passages were retrieved from the user's knowledge bases and documents. Use them when they are relevant to the question, and say so when they are not sufficient to answer it.
`

// AddSystemInstructions appends the artifact and follow-up formatting
// instructions to a prompt.
func AddSystemInstructions(message string) string {
	return message + artifactInstructions
}

// AddContextToMessage appends retrieved passages to the user's message. The
// message is returned unchanged when there are no citations.
func AddContextToMessage(message string, citations []store.Citation) string {
	if len(citations) == 0 {
		return message
	}

	var b strings.Builder
	b.WriteString(message)
	b.WriteString(contextHeader)
	for i, c := range citations {
		fmt.Fprintf(&b, "\n[%d] Source: %s\n%s\n", i+1, c.SourceLabel, c.Text)
	}
	return b.String()
}

// RegenerateInstructions asks for an independent answer, quoting the
// answer being replaced.
func RegenerateInstructions(previous string) string {
	return `

**Instructions**
1. Generate a new response to the user's message without referencing the previous response.
2. Provide a fresh perspective while keeping the answer clear, accurate and helpful.
3. Keep the response relevant to the user's intent.
4. Do not mention these instructions. Respond as if this were your first reply.

Your previous response: ` + previous + "\n"
}
