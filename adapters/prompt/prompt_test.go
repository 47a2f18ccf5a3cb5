package prompt_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/artpar/mergedash/adapters/prompt"
)

func TestTerminal_Confirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"  yes  \n", true},
		{"n\n", false},
		{"\n", false},
		{"sure\n", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			var out bytes.Buffer
			p := prompt.NewTerminal(strings.NewReader(tt.input), &out)

			if got := p.Confirm("Reload now?"); got != tt.want {
				t.Errorf("Confirm() = %v, want %v", got, tt.want)
			}
			if out.String() != "? Reload now? [y/N]: " {
				t.Errorf("prompt = %q", out.String())
			}
		})
	}
}

func TestTerminal_ReadsOneLinePerQuestion(t *testing.T) {
	var out bytes.Buffer
	p := prompt.NewTerminal(strings.NewReader("n\ny\n"), &out)

	if p.Confirm("first?") {
		t.Error("first answer should be no")
	}
	if !p.Confirm("second?") {
		t.Error("second answer should be yes")
	}
}

func TestDecline(t *testing.T) {
	if (prompt.Decline{}).Confirm("Reload now?") {
		t.Error("Decline confirmed")
	}
}
