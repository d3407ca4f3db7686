package rag

import (
	"fmt"
	"math"
	"strings"

	"github.com/mohammad-safakhou/omegarag/models"
	"github.com/mohammad-safakhou/omegarag/provider/llm"
)

const notAvailable = "N/A"

// SystemPrompt is the fixed persona and formatting contract sent with every completion.
func SystemPrompt(language string) string {
	if strings.TrimSpace(language) == "" {
		language = "Polish"
	}
	return fmt.Sprintf(`You are an assistant specialising in the analysis of clinical trials on omega-3 fatty acids.
You answer questions using only the clinical studies provided with the question. Your answers are factual and evidence based.
Always answer in %s.

Formatting rules:
- Open with a single sentence that directly answers the question, written in bold.
- Cite the studies you rely on inline with their numbers in square brackets, e.g. [1] or [2][4].
- Use bullet lists for enumerable findings such as doses, outcomes or study populations.
- Close with a short practical summary for the reader.
- Do not cite studies that are not in the provided context.

VERY IMPORTANT: if the question is not directly about the effect of omega-3 fatty acids on human health, politely decline to answer.`, language)
}

// RelevancePercent renders a canonical relevance score as a percentage with one decimal.
func RelevancePercent(score float64) string {
	return fmt.Sprintf("%.1f%%", math.Round(score*1000)/10)
}

// FormatContext renders sources as numbered blocks separated by a blank line.
func FormatContext(sources []models.Source) string {
	blocks := make([]string, 0, len(sources))
	for i, s := range sources {
		var b strings.Builder
		fmt.Fprintf(&b, "[%d] Title: %s\n", i+1, orNA(s.Title))
		fmt.Fprintf(&b, "Journal: %s\n", orNA(s.Journal))
		fmt.Fprintf(&b, "Publication date: %s\n", orNA(s.PublicationDate))
		fmt.Fprintf(&b, "Relevance: %s\n", RelevancePercent(s.RelevanceScore))
		fmt.Fprintf(&b, "Abstract: %s", orNA(s.Abstract))
		if s.Population != "" {
			fmt.Fprintf(&b, "\nStudy population: %s", s.Population)
		}
		if len(s.MeasuredOutcomes) > 0 {
			fmt.Fprintf(&b, "\nMeasured outcomes: %s", s.MeasuredOutcomes)
		}
		if len(s.ObservedOutcomes) > 0 {
			fmt.Fprintf(&b, "\nObserved outcomes: %s", s.ObservedOutcomes)
		}
		blocks = append(blocks, b.String())
	}
	return strings.Join(blocks, "\n\n")
}

func orNA(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return notAvailable
	}
	return s
}

// BuildMessages replays the prior conversation and appends the context-augmented question.
// User turns are replayed with their original text; system and empty entries are dropped.
func BuildMessages(history []models.ChatMessage, contextText, question string) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+1)
	for _, h := range history {
		var m llm.Message
		switch h.Role {
		case models.RoleUser:
			m = llm.Message{Role: models.RoleUser, Content: strings.TrimSpace(h.QueryText())}
		case models.RoleAssistant:
			m = llm.Message{Role: models.RoleAssistant, Content: strings.TrimSpace(h.Content)}
		default:
			continue
		}
		if m.Content == "" {
			continue
		}
		// The Messages API rejects conversations that open with an assistant turn.
		if len(msgs) == 0 && m.Role == models.RoleAssistant {
			continue
		}
		msgs = append(msgs, m)
	}
	return append(msgs, llm.Message{
		Role:    models.RoleUser,
		Content: fmt.Sprintf("Context from clinical studies:\n\n%s\n\nQuestion: %s", contextText, question),
	})
}

// DeriveQueries returns the retrieval query set for a new message. In QueryModeAll every prior
// user turn is included in chronological order before the new message.
func DeriveQueries(history []models.ChatMessage, message string, mode models.QueryMode) []string {
	var queries []string
	if mode == models.QueryModeAll {
		for _, h := range history {
			if h.Role != models.RoleUser {
				continue
			}
			if q := strings.TrimSpace(h.QueryText()); q != "" {
				queries = append(queries, q)
			}
		}
	}
	if m := strings.TrimSpace(message); m != "" {
		queries = append(queries, m)
	}
	return queries
}
