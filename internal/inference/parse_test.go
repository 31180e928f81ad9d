package inference

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONArray(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr error
	}{
		{
			name: "bare array",
			in:   `[{"a":1}]`,
			want: `[{"a":1}]`,
		},
		{
			name: "prose around array",
			in:   "Here are the bugs I found:\n[{\"a\":1}]\nLet me know if you need more.",
			want: `[{"a":1}]`,
		},
		{
			name: "markdown fenced array",
			in:   "```json\n[1, 2, 3]\n```",
			want: `[1, 2, 3]`,
		},
		{
			name: "nested arrays",
			in:   `result: [[1,2],[3,4]]`,
			want: `[[1,2],[3,4]]`,
		},
		{
			name: "brackets inside strings",
			in:   `[{"msg":"unexpected ] in input"}]`,
			want: `[{"msg":"unexpected ] in input"}]`,
		},
		{
			name: "escaped quote inside string",
			in:   `[{"msg":"say \"hi]\" now"}]`,
			want: `[{"msg":"say \"hi]\" now"}]`,
		},
		{
			name: "empty array",
			in:   "No issues found: []",
			want: "[]",
		},
		{
			name:    "no array",
			in:      "I could not find any bugs.",
			wantErr: ErrNoJSONArray,
		},
		{
			name:    "unterminated array",
			in:      `[{"a":1}`,
			wantErr: ErrNoJSONArray,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSONArray(tt.in)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractCodeBlock(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr error
	}{
		{
			name: "with language tag",
			in:   "Here is the fixed file:\n```go\npackage main\n```\nDone.",
			want: "package main\n",
		},
		{
			name: "without language tag",
			in:   "```\nconst x = 1;\n```",
			want: "const x = 1;\n",
		},
		{
			name: "language tag with plus",
			in:   "```c++\nint main() {}\n```",
			want: "int main() {}\n",
		},
		{
			name: "preserves inner blank lines",
			in:   "```python\ndef f():\n\n    return 1\n```",
			want: "def f():\n\n    return 1\n",
		},
		{
			name:    "no fence",
			in:      "just some text",
			wantErr: ErrNoCodeBlock,
		},
		{
			name:    "unterminated fence",
			in:      "```go\npackage main\n",
			wantErr: ErrNoCodeBlock,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractCodeBlock(tt.in)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
