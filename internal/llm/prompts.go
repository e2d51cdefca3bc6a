package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// EntityPrompt builds the prompts for named-entity extraction from catalog text.
func EntityPrompt(text string) (system, user string) {
	system = `You are an archival cataloguing assistant. Extract named entities from the description of an archival record.

Entity types:
- PERSON: people
- ORG: organizations, companies, institutions, government bodies
- GPE: places, cities, countries, regions
- DATE: dates and date ranges exactly as written

Respond with a single JSON object and nothing else, mapping each type to a list of strings, for example:
{"PERSON": ["Jan Smuts"], "ORG": [], "GPE": ["Pretoria"], "DATE": ["12 March 1921"]}

Only include entities that appear in the text. Do not invent or normalize names.`

	user = fmt.Sprintf("Text:\n%s\n\nEntities:", text)
	return system, user
}

// ParseEntities decodes the extractor's JSON answer into type -> values.
// Surrounding prose and code fences are ignored; type keys are upper-cased
// and blank values dropped.
func ParseEntities(raw string) (map[string][]string, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("parse entities: no JSON object in response")
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw[start:end+1]), &decoded); err != nil {
		return nil, fmt.Errorf("parse entities: %w", err)
	}

	out := make(map[string][]string, len(decoded))
	for key, v := range decoded {
		typ := strings.ToUpper(strings.TrimSpace(key))
		items, ok := v.([]any)
		if !ok {
			continue
		}
		for _, item := range items {
			s, ok := item.(string)
			if !ok || strings.TrimSpace(s) == "" {
				continue
			}
			out[typ] = append(out[typ], s)
		}
	}
	return out, nil
}

// SummaryPrompt builds the prompts for a scope and content summary.
func SummaryPrompt(text string, minLength, maxLength int) (system, user string) {
	system = fmt.Sprintf(`You are an archivist writing scope and content notes following ISAD(G).
Summarize the material described below in plain prose, between %d and %d characters.
Do not add facts that are not in the text. Respond with the summary only.`, minLength, maxLength)

	user = fmt.Sprintf("Record metadata:\n%s\n\nSummary:", text)
	return system, user
}

// CleanSummary trims whitespace and surrounding quotes and cuts the text to
// maxLength runes at a word boundary.
func CleanSummary(s string, maxLength int) string {
	s = strings.Trim(strings.TrimSpace(s), `"`)
	runes := []rune(s)
	if maxLength <= 0 || len(runes) <= maxLength {
		return s
	}
	cut := string(runes[:maxLength])
	if i := strings.LastIndexAny(cut, " \n"); i > maxLength/2 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut)
}

// TranslatePrompt builds the prompts to translate a set of named fields.
func TranslatePrompt(fields map[string]string, from, to string) (system, user string, err error) {
	payload, err := json.Marshal(fields)
	if err != nil {
		return "", "", fmt.Errorf("encode fields: %w", err)
	}
	system = fmt.Sprintf(`You translate archival descriptions from the language with code %q to the language with code %q.
Keep proper names, reference codes and dates unchanged.
Respond with a single JSON object with the same keys as the input and translated string values.`, from, to)
	user = string(payload)
	return system, user, nil
}

// ParseTranslation decodes the translator's JSON answer, keeping only the
// keys that were requested.
func ParseTranslation(raw string, requested map[string]string) (map[string]string, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("parse translation: no JSON object in response")
	}
	var decoded map[string]string
	if err := json.Unmarshal([]byte(raw[start:end+1]), &decoded); err != nil {
		return nil, fmt.Errorf("parse translation: %w", err)
	}
	out := make(map[string]string, len(requested))
	for k := range requested {
		if v := strings.TrimSpace(decoded[k]); v != "" {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("parse translation: no requested fields in response")
	}
	return out, nil
}
