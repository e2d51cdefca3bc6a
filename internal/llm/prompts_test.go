package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEntities(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    map[string][]string
		wantErr bool
	}{
		{
			name: "plain object",
			raw:  `{"PERSON": ["Jan Smuts"], "GPE": ["Pretoria", " "], "DATE": []}`,
			want: map[string][]string{"PERSON": {"Jan Smuts"}, "GPE": {"Pretoria"}},
		},
		{
			name: "code fence and lowercase keys",
			raw:  "Here you go:\n```json\n{\"org\": [\"Union Parliament\"]}\n```",
			want: map[string][]string{"ORG": {"Union Parliament"}},
		},
		{
			name: "non list values ignored",
			raw:  `{"PERSON": "nobody", "DATE": ["1921", 4]}`,
			want: map[string][]string{"DATE": {"1921"}},
		},
		{name: "no json", raw: "I could not find entities", wantErr: true},
		{name: "broken json", raw: `{"PERSON": [}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEntities(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCleanSummary(t *testing.T) {
	assert.Equal(t, "Letters and photographs.", CleanSummary(`  "Letters and photographs."  `, 100))
	assert.Equal(t, "one two", CleanSummary("one two three four", 10))
	assert.Equal(t, "abc", CleanSummary("abc", 0))
}

func TestParseTranslation(t *testing.T) {
	requested := map[string]string{"title": "Letters", "scope_and_content": "Family letters"}

	got, err := ParseTranslation(`{"title": "Briewe", "scope_and_content": "Familiebriewe", "extra": "x"}`, requested)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"title": "Briewe", "scope_and_content": "Familiebriewe"}, got)

	_, err = ParseTranslation(`{"other": "x"}`, requested)
	require.Error(t, err)

	_, err = ParseTranslation("nope", requested)
	require.Error(t, err)
}

func TestPromptsMentionInput(t *testing.T) {
	_, user := EntityPrompt("Minutes of the town council")
	assert.Contains(t, user, "Minutes of the town council")

	system, _ := SummaryPrompt("text", 200, 1000)
	assert.Contains(t, system, "between 200 and 1000")

	system, user, err := TranslatePrompt(map[string]string{"title": "Letters"}, "en", "af")
	require.NoError(t, err)
	assert.Contains(t, system, `"af"`)
	assert.JSONEq(t, `{"title":"Letters"}`, user)
}
