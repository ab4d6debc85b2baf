package mrkdwn

import "testing"

func TestConvert(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "All good.", "All good."},
		{"empty", "", ""},
		{"emphasis", "**bold** and _it_ and `x`", "*bold* and _it_ and `x`"},
		{"strikethrough", "~~old~~ new", "~old~ new"},
		{"link", "[PR #12](https://github.com/o/r/pull/12)", "<https://github.com/o/r/pull/12|PR #12>"},
		{"bare url", "see https://github.com/o/r", "see <https://github.com/o/r>"},
		{"heading", "# Summary\n\nTwo PRs are open.", "*Summary*\n\nTwo PRs are open."},
		{"bullets", "- a\n- b", "• a\n• b"},
		{"ordered", "1. one\n2. two", "1. one\n2. two"},
		{"nested", "- a\n  - b", "• a\n    • b"},
		{"fence", "```go\nfmt.Println(1)\n```", "```\nfmt.Println(1)\n```"},
		{"escaping", "a < b & c", "a &lt; b &amp; c"},
		{"code escaping", "`a<b`", "`a&lt;b`"},
		{"quote", "> quoted", "> quoted"},
		{"generic type", "Use List<T> here", "Use List&lt;T&gt; here"},
		{"branch in angle brackets", "merge into <main> branch", "merge into &lt;main&gt; branch"},
		{"inline tag", "x <br> y", "x &lt;br&gt; y"},
		{"tag in code", "`<main>`", "`&lt;main&gt;`"},
		{"html block", "<div>\nhi\n</div>\n\nafter", "&lt;div&gt;\nhi\n&lt;/div&gt;\n\nafter"},
		{"soft break", "line1\nline2", "line1\nline2"},
		{
			name: "mixed",
			in:   "Open PRs:\n\n1. **#12** fix build\n2. **#13** docs\n\nDone.",
			want: "Open PRs:\n\n1. *#12* fix build\n2. *#13* docs\n\nDone.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Convert(tt.in); got != tt.want {
				t.Errorf("Convert(%q) =\n%q\nwant\n%q", tt.in, got, tt.want)
			}
		})
	}
}

func TestEscape(t *testing.T) {
	if got := Escape("<@U1> & co"); got != "&lt;@U1&gt; &amp; co" {
		t.Errorf("Escape = %q", got)
	}
}
