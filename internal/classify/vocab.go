package classify

import (
	"embed"
	"fmt"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed topics.yaml
var vocabFS embed.FS

// Topic labels. The set is closed; the model stage is constrained to it.
const (
	TopicBalance       = "balance"
	TopicContributions = "contributions"
	TopicWithdrawal    = "withdrawal"
	TopicProjection    = "projection"
	TopicEligibility   = "eligibility"
	TopicGeneral       = "general"
	TopicOffTopic      = "off_topic"
)

type topicEntry struct {
	Patterns  []string `yaml:"patterns"`
	Exemplars []string `yaml:"exemplars"`
}

type vocabFile struct {
	OffTopic topicEntry            `yaml:"off_topic"`
	Topics   map[string]topicEntry `yaml:"topics"`
}

type compiledTopic struct {
	name      string
	patterns  []*regexp.Regexp
	exemplars []string
}

// vocabulary holds the compiled pattern and exemplar sets. Off-topic is
// evaluated before the advisory topics so paid stages are never reached for
// clearly unrelated queries.
type vocabulary struct {
	offTopic compiledTopic
	topics   []compiledTopic
}

func loadVocabulary() (*vocabulary, error) {
	raw, err := vocabFS.ReadFile("topics.yaml")
	if err != nil {
		return nil, fmt.Errorf("reading topic vocabulary: %w", err)
	}
	var file vocabFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parsing topic vocabulary: %w", err)
	}

	v := &vocabulary{}
	v.offTopic, err = compileTopic(TopicOffTopic, file.OffTopic)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(file.Topics))
	for name := range file.Topics {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ct, err := compileTopic(name, file.Topics[name])
		if err != nil {
			return nil, err
		}
		v.topics = append(v.topics, ct)
	}
	return v, nil
}

func compileTopic(name string, entry topicEntry) (compiledTopic, error) {
	ct := compiledTopic{name: name, exemplars: entry.Exemplars}
	for _, p := range entry.Patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return ct, fmt.Errorf("topic %s pattern %q: %w", name, p, err)
		}
		ct.patterns = append(ct.patterns, re)
	}
	return ct, nil
}

// matchPattern returns the single topic whose patterns match the query, or
// ("", false) when zero or multiple topics match. Ambiguous matches fall
// through to the next stage rather than guessing.
func (v *vocabulary) matchPattern(query string) (string, bool) {
	if matches(v.offTopic, query) {
		return TopicOffTopic, true
	}
	matched := ""
	for _, ct := range v.topics {
		if matches(ct, query) {
			if matched != "" {
				return "", false
			}
			matched = ct.name
		}
	}
	return matched, matched != ""
}

func matches(ct compiledTopic, query string) bool {
	for _, re := range ct.patterns {
		if re.MatchString(query) {
			return true
		}
	}
	return false
}

// topicNames returns the advisory topic labels in stable order.
func (v *vocabulary) topicNames() []string {
	names := make([]string, len(v.topics))
	for i, ct := range v.topics {
		names[i] = ct.name
	}
	return names
}
