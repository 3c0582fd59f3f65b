package narrator

import (
	"fmt"
	"strings"

	"github.com/eigensight/pkg/matrix"
)

var conceptDefinitions = map[string]string{
	"basis": "A basis vector is one of the two arrows <1,0> and <0,1>. Together they span the plane.",
	"test":  "Test vectors are extra sample arrows so you can see how random directions move.",
	"eigen": "An eigenvector keeps its direction after the transform—only its length changes by λ.",
}

const casualTone = "Write like you're texting a friend. Keep it short, casual, and easy to understand. No markdown formatting."

// buildNarratorPrompt produces the prompt for a fresh narration of the given
// matrix state. changes are the notable differences from the previous state;
// concepts are the definitions to weave in.
func buildNarratorPrompt(state matrix.State, changes, concepts []string) string {
	changeSentence := "Watch how the arrows reposition."
	if len(changes) > 0 {
		changeSentence = strings.Join(changes, " ")
	}

	var defs []string
	for _, c := range concepts {
		if d, ok := conceptDefinitions[c]; ok {
			defs = append(defs, d)
		}
	}
	definitionSnippets := ""
	if len(defs) > 0 {
		definitionSnippets = " " + strings.Join(defs, " ")
	}

	return fmt.Sprintf(`You are describing a matrix visualization that the user is currently seeing on screen.
The visualization shows a 2×2 transformation matrix and its effect on vectors in 2D space.
The current matrix is %s with values a=%.2f, b=%.2f, c=%.2f, d=%.2f.
The determinant is %.2f and discriminant is %.2f.
%s%s

IMPORTANT: Don't use phrases like "imagine" or hypotheticals - the user is already looking at this transformation.
Describe what they ARE seeing, not what they COULD see. Refer directly to the visual elements on screen.
%s`,
		state.Format(), state.A, state.B, state.C, state.D,
		state.Det, state.Disc,
		changeSentence, definitionSnippets,
		casualTone)
}

// matrixContext renders the system-context block shared by the comment and
// chat prompts: what the app is, the current matrix, and how to talk.
func matrixContext(state *matrix.State) string {
	var det, disc float64
	if state != nil {
		det = state.Det
		disc = state.Disc
	}

	eigenLine := "No real eigenvectors exist for this matrix (complex eigenvalues)."
	if state.HasRealEigenvectors() {
		eigenLine = "Real eigenvectors exist and are shown as orange arrows."
	}

	var orientationLine string
	switch {
	case det < 0:
		orientationLine = "The determinant is negative, so the orientation is flipped.\n"
	case det == 0:
		orientationLine = "The determinant is zero, so the transformation collapses space.\n"
	}

	return fmt.Sprintf(`You are an assistant in an educational app about linear transformations and matrices.
The app shows a 2×2 transformation matrix [[a,b],[c,d]] and visualizes how it transforms vectors in 2D space.
Current matrix %s with determinant=%.2f, discriminant=%.2f.
%s
%s
IMPORTANT: Write in simple, accessible language as if you're texting a friend. Assume the user is new to linear algebra concepts.
Keep your responses concise and conversational - like a text message, not an essay. Don't use markdown formatting.
Be casual and friendly. Use short sentences, contractions (don't instead of do not), and relate concepts to what they can see on screen.
When relevant, suggest specific changes they could make to the matrix sliders to illustrate your points - for example:
'Try setting a=1, b=0, c=0, d=2 to see a pure scaling transformation' or
'Move the c slider all the way negative to see what happens to the basis vectors'
`,
		state.Format(), det, disc, eigenLine, orientationLine)
}

// buildCommentPrompt produces the prompt answering a comment anchored to a
// highlighted snippet. Follow-ups skip re-quoting the paragraph.
func buildCommentPrompt(state *matrix.State, snippet, paragraph, text string, isFollowup bool) string {
	ctx := matrixContext(state)
	if isFollowup {
		return fmt.Sprintf(`%s
This is a follow-up question in a comment thread. The user previously highlighted: '%s'.
Their new comment: '%s'.
Respond to their follow-up in a casual, text message-like style. Be concise, friendly, and straight to the point - like you're texting with a friend. Don't use markdown formatting. When it would help illustrate a concept, suggest specific matrix values they could try.`,
			ctx, snippet, text)
	}
	return fmt.Sprintf(`%s
Paragraph: '%s'.
Highlighted snippet: '%s'.
Visitor comment: '%s'.
Respond to their comment in a casual, text message-like style. Be concise, friendly, and straight to the point - like you're texting with a friend. Don't use markdown formatting. When it would help illustrate a concept, suggest specific matrix values they could try (like 'Try a=0, b=1, c=-1, d=0 to see rotation').`,
		ctx, paragraph, snippet, text)
}

// buildChatContext produces the system message for free-form chat, which
// additionally carries the last narration the user is reading.
func buildChatContext(state *matrix.State, lastNarrative string) string {
	return fmt.Sprintf(`%sLast explanation: '%s'.

Answer their questions about the matrix in a casual, text-message style. Keep it short and sweet while still being helpful.`,
		matrixContext(state), lastNarrative)
}
