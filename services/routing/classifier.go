package routing

import "strings"

// Task types produced by ClassifyTask
const (
	TaskCoding      = "coding"
	TaskAnalysis    = "analysis"
	TaskCreative    = "creative"
	TaskTranslation = "translation"
	TaskGeneral     = "general"
)

// taskRules are checked in order; the first rule with a matching keyword wins
var taskRules = []struct {
	task     string
	keywords []string
}{
	{TaskCoding, []string{"code", "programming", "debug"}},
	{TaskAnalysis, []string{"analyze", "data", "research"}},
	{TaskCreative, []string{"creative", "story", "write"}},
	{TaskTranslation, []string{"translate", "language"}},
}

// ClassifyTask maps a prompt to a task type by lower-cased substring match
func ClassifyTask(prompt string) string {
	lower := strings.ToLower(prompt)
	for _, rule := range taskRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.task
			}
		}
	}
	return TaskGeneral
}

// DefaultSpecializations maps each task type to its designated provider
func DefaultSpecializations() map[string]string {
	return map[string]string{
		TaskCoding:      "openai",
		TaskAnalysis:    "anthropic",
		TaskCreative:    "google",
		TaskTranslation: "cohere",
		TaskGeneral:     "openai",
	}
}
