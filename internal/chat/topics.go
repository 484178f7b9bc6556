// ABOUTME: Topic tag detection over message content
// ABOUTME: Keyword lookup per legal category for session aggregate tagging

package chat

import "strings"

// topicKeywords maps each topic tag to the substrings that signal it.
var topicKeywords = map[string][]string{
	"traffic_violations":   {"speed", "speeding", "red light", "signal", "violation", "challan"},
	"fines_penalties":      {"fine", "penalty", "amount", "pay", "fee"},
	"license_registration": {"license", "licence", "registration", "rc", "dl", "permit"},
	"insurance":            {"insurance", "claim", "policy", "coverage"},
	"accidents":            {"accident", "crash", "collision", "hit", "damage"},
	"documents":            {"documents", "papers", "certificate", "proof"},
	"police_procedures":    {"police", "officer", "stop", "check", "procedure"},
	"court_legal":          {"court", "legal", "lawyer", "case", "hearing"},
}

// topicOrder keeps tag output deterministic.
var topicOrder = []string{
	"traffic_violations",
	"fines_penalties",
	"license_registration",
	"insurance",
	"accidents",
	"documents",
	"police_procedures",
	"court_legal",
}

// DetectTopics returns the topic tags whose keywords appear in content.
func DetectTopics(content string) []string {
	lower := strings.ToLower(content)
	var topics []string
	for _, topic := range topicOrder {
		for _, keyword := range topicKeywords[topic] {
			if strings.Contains(lower, keyword) {
				topics = append(topics, topic)
				break
			}
		}
	}
	return topics
}
