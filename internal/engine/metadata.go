// ABOUTME: Response metadata computation over final generated text
// ABOUTME: Token/cost accounting, legal citation extraction, and markdown structure

package engine

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/Dacosmicgiant/LawBuddy/internal/store"
)

// costPerToken is the blended per-token price estimate used for session
// cost accounting.
const costPerToken = 0.000002

// defaultConfidence is reported when the engine gives no confidence signal.
const defaultConfidence = 0.9

// legalSourcePatterns match citations of Indian traffic law provisions.
var legalSourcePatterns = []*regexp.Regexp{
	regexp.MustCompile(`Section \d+[A-Z]?(?: of the [A-Z][\w\s]+ Act,? \d{4})?`),
	regexp.MustCompile(`Motor Vehicles? (?:\(Amendment\) )?Act,? \d{4}`),
	regexp.MustCompile(`Central Motor Vehicles? Rules,? \d{4}`),
	regexp.MustCompile(`Rule \d+[A-Z]?(?: of the [A-Z][\w\s]+ Rules,? \d{4})?`),
	regexp.MustCompile(`Indian Penal Code`),
	regexp.MustCompile(`IPC Section \d+`),
}

// EstimateTokens approximates token usage by word count. Used when the
// engine reports no usage metadata.
func EstimateTokens(text string) int {
	return len(strings.Fields(text))
}

// EstimateCost converts a token count into an approximate cost.
func EstimateCost(tokens int) float64 {
	return float64(tokens) * costPerToken
}

// ExtractLegalSources returns the distinct legal citations found in text,
// in order of first appearance.
func ExtractLegalSources(text string) []string {
	seen := make(map[string]bool)
	var sources []string
	for _, pattern := range legalSourcePatterns {
		for _, match := range pattern.FindAllString(text, -1) {
			match = strings.TrimSpace(match)
			if !seen[match] {
				seen[match] = true
				sources = append(sources, match)
			}
		}
	}
	return sources
}

// ExtractFormatting parses the response as markdown and reports its
// structure: section headings and legal citations.
func ExtractFormatting(content string) *store.Formatting {
	src := []byte(content)
	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	formatting := &store.Formatting{}

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Heading:
			formatting.HasFormatting = true
			if title := nodeText(node, src); title != "" {
				formatting.Sections = append(formatting.Sections, title)
			}
		case *ast.List, *ast.Emphasis, *ast.CodeSpan, *ast.FencedCodeBlock:
			formatting.HasFormatting = true
		}
		return ast.WalkContinue, nil
	})

	formatting.Citations = ExtractLegalSources(content)
	return formatting
}

func nodeText(n ast.Node, src []byte) string {
	var buf bytes.Buffer
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			buf.Write(t.Segment.Value(src))
		}
	}
	return strings.TrimSpace(buf.String())
}

// BuildMetadata assembles the stored metadata for a completed generation.
// Falls back to estimated token counts when the engine reported none.
func BuildMetadata(result *Result, processingSeconds float64) *store.GenerationMetadata {
	tokens := result.TokenCount
	if tokens == 0 {
		tokens = EstimateTokens(result.Text)
	}
	return &store.GenerationMetadata{
		Model:             result.Model,
		TokenCount:        tokens,
		CostEstimate:      EstimateCost(tokens),
		ProcessingSeconds: processingSeconds,
		LegalSources:      ExtractLegalSources(result.Text),
		ConfidenceScore:   defaultConfidence,
	}
}
