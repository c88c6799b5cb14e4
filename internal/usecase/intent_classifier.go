package usecase

import (
	"embed"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/cloudflare/ahocorasick"
	"github.com/coregx/coregex"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/html"
	"gopkg.in/yaml.v3"

	"github.com/hesto/backend/internal/dom"
	"github.com/hesto/backend/internal/logging"
)

//go:embed rules/intent.yaml
var embeddedRules embed.FS

// IntentRules is the vocabulary used to recognise purchase buttons
type IntentRules struct {
	Keywords        []string `yaml:"keywords"`
	LabelAttributes []string `yaml:"label_attributes"`
	IDMarkers       []string `yaml:"id_markers"`
	ClassMarkers    []string `yaml:"class_markers"`
}

// LoadIntentRules reads the embedded rule file
func LoadIntentRules() (IntentRules, error) {
	data, err := embeddedRules.ReadFile("rules/intent.yaml")
	if err != nil {
		return IntentRules{}, fmt.Errorf("read intent rules: %w", err)
	}
	var rules IntentRules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return IntentRules{}, fmt.Errorf("parse intent rules: %w", err)
	}
	if len(rules.Keywords) == 0 {
		return IntentRules{}, fmt.Errorf("intent rules define no keywords")
	}
	return rules, nil
}

// IntentClassifier decides whether an actionable element signals intent to buy.
// It is a recall-oriented heuristic: false positives are acceptable.
type IntentClassifier struct {
	rules   IntentRules
	matcher *ahocorasick.Matcher

	// coregex lazy DFA is not safe for concurrent use
	regexMu sync.Mutex
	regex   *coregex.Regexp

	log *logrus.Entry
}

// NewIntentClassifier compiles the keyword matcher and alternation regex
func NewIntentClassifier(rules IntentRules) (*IntentClassifier, error) {
	keywords := make([]string, 0, len(rules.Keywords))
	alternation := make([]string, 0, len(rules.Keywords))
	for _, kw := range rules.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		keywords = append(keywords, kw)
		alternation = append(alternation, regexp.QuoteMeta(kw))
	}
	if len(keywords) == 0 {
		return nil, fmt.Errorf("intent classifier needs at least one keyword")
	}

	re, err := coregex.Compile("(" + strings.Join(alternation, "|") + ")")
	if err != nil {
		return nil, fmt.Errorf("compile intent regex: %w", err)
	}

	return &IntentClassifier{
		rules:   rules,
		matcher: ahocorasick.NewStringMatcher(keywords),
		regex:   re,
		log:     logging.NewLogger("classifier"),
	}, nil
}

// NewDefaultIntentClassifier builds a classifier from the embedded rules
func NewDefaultIntentClassifier() (*IntentClassifier, error) {
	rules, err := LoadIntentRules()
	if err != nil {
		return nil, err
	}
	return NewIntentClassifier(rules)
}

// IsPurchaseIntent applies, in order: deep text, label attribute, id/class
// markers. The first match wins.
func (c *IntentClassifier) IsPurchaseIntent(el *html.Node) bool {
	if el == nil {
		return false
	}

	// Step 1: visible text
	if text := strings.ToLower(dom.DeepText(el)); text != "" && c.matchesText(text) {
		c.log.WithField("text", text).Debug("Purchase intent from element text")
		return true
	}

	// Step 2: accessibility / label attributes
	if label := c.label(el); label != "" && c.matchesText(label) {
		c.log.WithField("label", label).Debug("Purchase intent from label attribute")
		return true
	}

	// Step 3: id and class markers
	id := strings.ToLower(dom.ID(el))
	class := strings.ToLower(dom.ClassName(el))
	if containsAny(id, c.rules.IDMarkers) || containsAny(class, c.rules.ClassMarkers) {
		c.log.WithFields(logrus.Fields{"id": id, "class": class}).Debug("Purchase intent from id/class")
		return true
	}

	return false
}

// label returns the first non-empty label attribute, lowercased
func (c *IntentClassifier) label(el *html.Node) string {
	for _, attr := range c.rules.LabelAttributes {
		if v := strings.TrimSpace(dom.Attr(el, attr)); v != "" {
			return strings.ToLower(v)
		}
	}
	return ""
}

// matchesText expects lowercase input
func (c *IntentClassifier) matchesText(s string) bool {
	if len(c.matcher.MatchThreadSafe([]byte(s))) > 0 {
		return true
	}
	c.regexMu.Lock()
	defer c.regexMu.Unlock()
	return c.regex.MatchString(s)
}

func containsAny(s string, markers []string) bool {
	if s == "" {
		return false
	}
	for _, m := range markers {
		if m != "" && strings.Contains(s, strings.ToLower(m)) {
			return true
		}
	}
	return false
}
