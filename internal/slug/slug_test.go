package slug

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Test Tool", "test-tool"},
		{"Hello@World#Test", "helloworldtest"},
		{"Test---Multiple---Dashes", "test-multiple-dashes"},
		{"  Leading and trailing  ", "leading-and-trailing"},
		{"snake_case_name", "snake-case-name"},
		{"--Already-Hyphenated--", "already-hyphenated"},
		{"Tabs\tand\nnewlines", "tabs-and-newlines"},
		{"GPT-4 (Turbo)!", "gpt-4-turbo"},
		{"a\u00a0b", "a-b"},
		{"ideographic\u3000space", "ideographic-space"},
		{"", ""},
		{"@#$%", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Slugify(tt.in))
		})
	}
}

func TestSlugifyIsIdempotent(t *testing.T) {
	inputs := []string{
		"Test Tool",
		"Hello@World#Test",
		"  __Weird -- Spacing__  ",
		"Ünïcödé Tool",
		"a_b-c d",
	}
	for _, in := range inputs {
		once := Slugify(in)
		assert.Equal(t, once, Slugify(once), "input %q", in)
	}
}
