package analysis

import (
	"fmt"
	"strings"

	"paperlens/internal/models"
)

// Operation names double as audit labels.
const (
	OpAnalyzePaper = "analyze_paper"
	OpTimeliness   = "check_timeliness"
	OpLinkLookup   = "timeliness_link_lookup"
	OpVenue        = "check_venue"
	OpIntegrity    = "check_integrity"
	OpFollowUp     = "follow_up"
	OpTrends       = "synthesize_trends"
)

const (
	tempAnalyze    = 0.3
	tempTimeliness = 0.2
	tempLinkLookup = 0.1
	tempVenue      = 0.2
	tempIntegrity  = 0.2
	tempFollowUp   = 0.5
	tempTrends     = 0.4
)

const analystSystem = `You are a rigorous academic research analyst. Identify the paper the user refers to, then produce a structured critical analysis in Markdown with these sections:
## Bibliographic Details (title, authors, year, venue, DOI or arXiv id when known)
## Summary
## Methodology
## Key Findings
## Strengths
## Limitations and Threats to Validity
## Reproducibility
## Verdict
Never invent citations. If a detail cannot be confirmed, say so explicitly.`

const timelinessSystem = `You assess whether an academic paper is still state of the art. Respond with a single JSON object and nothing else.`

const linkSystem = `You locate canonical web pages for academic papers. Respond with a single JSON object and nothing else.`

const venueSystem = `You evaluate the reputation of academic publication venues, including predatory publishing risk. Respond with a single JSON object and nothing else.`

const integritySystem = `You check public records for research integrity issues such as retractions, expressions of concern, and documented misconduct. Be conservative: report only verifiable findings with sources. Respond with a single JSON object and nothing else.`

const followUpSystem = `You answer follow-up questions about a paper analysis. Think through the question, critique your draft for errors or unsupported claims, then give the corrected answer wrapped in <final_answer></final_answer>. Only the text inside the tags is shown to the user.`

const trendsSystem = `You are a research strategist. Synthesize the supplied paper analyses into a Markdown report on research trends.`

func searchPrompt(query string) string {
	return fmt.Sprintf(`Find and analyze the following academic paper.

Query: %s

Use web search to confirm the bibliographic details before analyzing.`, query)
}

func documentPrompt(name, instructions string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze the attached paper (%s).", name)
	if strings.TrimSpace(instructions) != "" {
		fmt.Fprintf(&b, "\n\nAdditional instructions from the user: %s", instructions)
	}
	return b.String()
}

func timelinessPrompt(title, authorYear string) string {
	return fmt.Sprintf(`Paper: %q (%s)

Decide whether this paper has been superseded by newer work. Recommend at least one very recent paper (published within the last two years) that a reader should consult instead of or in addition to it.

Return JSON of the form:
{"isOutdated": boolean, "status": "Current" | "Aging" | "Outdated", "summary": string,
 "recommendations": [{"title": string, "authors": string, "year": string, "reason": string}]}`, title, authorYear)
}

func linkPrompt(rec models.Recommendation) string {
	return fmt.Sprintf(`Find the canonical URL (publisher page, DOI resolver, or arXiv abstract page) for this paper:
Title: %s
Authors: %s
Year: %s

Return JSON: {"url": string, "title": string}. Use an empty url if you cannot find one.`, rec.Title, rec.Authors, rec.Year)
}

func venuePrompt(venue string) string {
	return fmt.Sprintf(`Venue: %s

Assess this venue. Return JSON of the form:
{"venue": string, "status": "Reputable" | "Questionable" | "Predatory" | "Unknown", "tier": string,
 "isPredatory": boolean, "indexing": [string], "summary": string}`, venue)
}

func integrityPrompt(authors string) string {
	return fmt.Sprintf(`Authors: %s

Search for retractions, corrections, or misconduct findings involving these authors. Return JSON of the form:
{"status": "Clean" | "Concerns Found" | "Unknown", "hasConcerns": boolean, "summary": string,
 "findings": [{"author": string, "issue": string, "source": string}]}`, authors)
}

// maxChatTurns bounds how much transcript is replayed into a follow-up prompt.
const maxChatTurns = 20

func followUpPrompt(question, originalContext string, history []models.ChatMessage) string {
	var b strings.Builder
	b.WriteString("Original analysis:\n")
	b.WriteString(originalContext)
	if len(history) > maxChatTurns {
		history = history[len(history)-maxChatTurns:]
	}
	if len(history) > 0 {
		b.WriteString("\n\nConversation so far:\n")
		for _, m := range history {
			fmt.Fprintf(&b, "%s: %s\n", strings.ToUpper(m.Role), m.Content)
		}
	}
	fmt.Fprintf(&b, "\nQuestion: %s", question)
	return b.String()
}

func trendsPrompt(block string, n int) string {
	return fmt.Sprintf(`Below are excerpts from %d paper analyses.

%s

Write a report with these sections: ## Overview, ## Emerging Themes, ## Methodological Shifts, ## Open Problems, ## Suggested Reading Directions. Use web search to connect the themes to the latest literature.`, n, block)
}
