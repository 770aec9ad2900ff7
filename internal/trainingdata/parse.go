package trainingdata

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"
)

// entityAnnotation matches [text](entity) markup in NLU examples.
var entityAnnotation = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)

func stripEntities(s string) string {
	return entityAnnotation.ReplaceAllString(s, "$1")
}

// =============================================================================
// JSON
// =============================================================================

// ParseJSON reads an array of {"user", "bot", "intent"} objects. Items missing
// user or bot are skipped.
func ParseJSON(content string) ([]Example, error) {
	if !gjson.Valid(content) {
		return nil, errors.New("invalid JSON")
	}
	root := gjson.Parse(content)
	if !root.IsArray() {
		return nil, errors.New("JSON must be an array")
	}

	var examples []Example
	root.ForEach(func(_, item gjson.Result) bool {
		user, bot := item.Get("user"), item.Get("bot")
		if !user.Exists() || !bot.Exists() {
			return true
		}
		intent := UnknownIntent
		if v := item.Get("intent"); v.Exists() {
			intent = v.String()
		}
		examples = append(examples, Example{User: user.String(), Bot: bot.String(), Intent: intent})
		return true
	})
	return examples, nil
}

// =============================================================================
// YAML
// =============================================================================

type rasaNLU struct {
	NLU []struct {
		Intent   string `yaml:"intent"`
		Examples string `yaml:"examples"`
	} `yaml:"nlu"`
}

// ParseYAML reads either a Rasa NLU document (nlu: [{intent, examples}]) or a
// plain list of {user, bot, intent} mappings.
func ParseYAML(content string) ([]Example, error) {
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(content), &node); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	if len(node.Content) == 0 {
		return nil, errors.New("unsupported YAML format")
	}

	doc := node.Content[0]
	switch doc.Kind {
	case yaml.MappingNode:
		var nlu rasaNLU
		if err := doc.Decode(&nlu); err != nil {
			return nil, fmt.Errorf("invalid NLU document: %w", err)
		}
		if nlu.NLU == nil {
			return nil, errors.New("unsupported YAML format")
		}
		return parseRasaNLU(nlu), nil

	case yaml.SequenceNode:
		var items []map[string]any
		if err := doc.Decode(&items); err != nil {
			return nil, fmt.Errorf("invalid YAML list: %w", err)
		}
		var examples []Example
		for _, item := range items {
			user, hasUser := item["user"]
			bot, hasBot := item["bot"]
			if !hasUser || !hasBot {
				continue
			}
			intent := UnknownIntent
			if v, ok := item["intent"]; ok && v != nil {
				intent = fmt.Sprint(v)
			}
			examples = append(examples, Example{User: fmt.Sprint(user), Bot: fmt.Sprint(bot), Intent: intent})
		}
		return examples, nil
	}
	return nil, errors.New("unsupported YAML format")
}

func parseRasaNLU(nlu rasaNLU) []Example {
	var examples []Example
	for _, block := range nlu.NLU {
		if block.Intent == "" || block.Examples == "" {
			continue
		}
		for _, line := range strings.Split(strings.TrimSpace(block.Examples), "\n") {
			line = strings.TrimSpace(line)
			if !strings.HasPrefix(line, "-") {
				continue
			}
			examples = append(examples, Example{
				User:   stripEntities(strings.TrimSpace(line[1:])),
				Bot:    placeholderResponse(block.Intent),
				Intent: block.Intent,
			})
		}
	}
	return examples
}

// =============================================================================
// CSV
// =============================================================================

// Column aliases, first match wins.
var (
	userColumns   = []string{"user", "User", "question", "Question", "user_message"}
	botColumns    = []string{"bot", "Bot", "answer", "Answer", "bot_response"}
	intentColumns = []string{"intent", "Intent", "category", "Category"}
)

// ParseCSV reads a CSV file with a header row. Rows without both a user and a
// bot value are skipped.
func ParseCSV(content string) ([]Example, error) {
	r := csv.NewReader(strings.NewReader(content))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("invalid CSV: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimPrefix(name, "\ufeff")
		if _, dup := index[name]; !dup {
			index[name] = i
		}
	}

	field := func(row []string, aliases []string) string {
		for _, alias := range aliases {
			if i, ok := index[alias]; ok && i < len(row) {
				if v := strings.TrimSpace(row[i]); v != "" {
					return v
				}
			}
		}
		return ""
	}

	var examples []Example
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("invalid CSV: %w", err)
		}
		user, bot := field(row, userColumns), field(row, botColumns)
		if user == "" || bot == "" {
			continue
		}
		intent := field(row, intentColumns)
		if intent == "" {
			intent = UnknownIntent
		}
		examples = append(examples, Example{User: user, Bot: bot, Intent: intent})
	}
	return examples, nil
}

// =============================================================================
// TXT
// =============================================================================

var (
	userPrefix   = regexp.MustCompile(`(?i)^(user:|q:)\s*`)
	botPrefix    = regexp.MustCompile(`(?i)^(bot:|a:)\s*`)
	intentPrefix = regexp.MustCompile(`(?i)^(intent:|#)\s*`)
)

// ParseTXT reads blocks separated by blank lines or "---". Within a block,
// lines may be tagged (User:/Q:, Bot:/A:, Intent:/#) or simply alternate
// between user and bot. Blocks without an intent get one from DetectIntent.
func ParseTXT(content string) []Example {
	var (
		examples []Example
		cur      Example
		hasUser  bool
		hasBot   bool
	)
	flush := func() {
		if hasUser && hasBot {
			if cur.Intent == "" {
				cur.Intent = DetectIntent(cur.User)
			}
			examples = append(examples, cur)
		}
		cur, hasUser, hasBot = Example{}, false, false
	}

	for _, line := range strings.Split(strings.TrimSpace(content), "\n") {
		line = strings.TrimSpace(line)
		lower := strings.ToLower(line)

		switch {
		case line == "" || line == "---":
			flush()
		case strings.HasPrefix(lower, "user:") || strings.HasPrefix(lower, "q:"):
			cur.User, hasUser = userPrefix.ReplaceAllString(line, ""), true
		case strings.HasPrefix(lower, "bot:") || strings.HasPrefix(lower, "a:"):
			cur.Bot, hasBot = botPrefix.ReplaceAllString(line, ""), true
		case strings.HasPrefix(lower, "intent:") || strings.HasPrefix(line, "#"):
			cur.Intent = intentPrefix.ReplaceAllString(line, "")
		case !hasUser:
			cur.User, hasUser = line, true
		case !hasBot:
			cur.Bot, hasBot = line, true
		}
	}
	flush()
	return examples
}

// intentRules are checked in order against the lowercased message.
var intentRules = []struct {
	intent  string
	pattern *regexp.Regexp
}{
	{"chao_hoi", regexp.MustCompile(`^(xin )?chào|^hi$|^hello`)},
	{"hoi_gia", regexp.MustCompile(`giá|bao nhiêu|tiền|chi phí`)},
	{"lien_he", regexp.MustCompile(`liên hệ|số điện thoại|email|địa chỉ`)},
	{"tinh_nang", regexp.MustCompile(`tính năng|chức năng|làm gì`)},
	{"cam_on", regexp.MustCompile(`cảm ơn|thanks`)},
	{"tam_biet", regexp.MustCompile(`tạm biệt|bye`)},
}

// DetectIntent guesses an intent for an untagged user message.
func DetectIntent(text string) string {
	lower := strings.ToLower(text)
	for _, rule := range intentRules {
		if rule.pattern.MatchString(lower) {
			return rule.intent
		}
	}
	return UnknownIntent
}
