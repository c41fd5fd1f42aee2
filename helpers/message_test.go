package helpers

import (
	"errors"
	"strings"
	"testing"

	"github.com/migadu/filter-contentstrings/consts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractSubject(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    *string
		wantErr bool
	}{
		{
			name: "plain subject with LF line endings",
			raw:  "From: sender@example.com\nSubject: Hello there\n\nBody text.\n",
			want: strPtr("Hello there"),
		},
		{
			name: "CRLF line endings",
			raw:  "Subject: Windows\r\n\r\nbody\r\n",
			want: strPtr("Windows"),
		},
		{
			name: "encoded word is decoded",
			raw:  "Subject: =?UTF-8?B?c3BhbSBvZmZlcg==?=\n\n",
			want: strPtr("spam offer"),
		},
		{
			name: "folded subject",
			raw:  "Subject: first\n second\n\n",
			want: strPtr("first second"),
		},
		{
			name: "no subject",
			raw:  "From: sender@example.com\n\nSubject: only in body\n",
			want: nil,
		},
		{
			name: "headers without body separator",
			raw:  "Subject: headers only\n",
			want: strPtr("headers only"),
		},
		{
			name:    "empty buffer",
			raw:     "",
			wantErr: true,
		},
		{
			name:    "empty header block",
			raw:     "\nSubject: only in body\n",
			wantErr: true,
		},
		{
			name:    "line without colon",
			raw:     "this is not a header\n\nbody\n",
			wantErr: true,
		},
		{
			name:    "only continuation lines",
			raw:     " folded\n\tmore\n\nbody\n",
			wantErr: true,
		},
		{
			name: "stray line next to a valid subject",
			raw:  "From: a@example.com\nSubject: buy badword now\nX-Junk-no-colon\n\nbody\n",
			want: strPtr("buy badword now"),
		},
		{
			name: "stray line before the subject",
			raw:  "garbage line\r\nSubject: after garbage\r\n\r\nbody\r\n",
			want: strPtr("after garbage"),
		},
		{
			name: "leading whitespace on first line",
			raw:  " indented\nSubject: still found\n\n",
			want: strPtr("still found"),
		},
		{
			name: "continuation of a dropped line is dropped",
			raw:  "no colon here\n Subject: not a field\nX-Other: x\n\n",
			want: nil,
		},
		{
			name: "folded and encoded subject in a damaged header",
			raw:  "broken\nSubject: =?UTF-8?B?c3BhbQ==?=\n offer\n\n",
			want: strPtr("spam offer"),
		},
		{
			name: "first subject wins in a damaged header",
			raw:  "broken\nSubject: first\nSubject: second\n\n",
			want: strPtr("first"),
		},
		{
			name: "header block larger than one mebibyte",
			raw:  "Subject: buy badword now\n" + strings.Repeat("X-Pad: "+strings.Repeat("p", 900)+"\n", 1300) + "\nbody\n",
			want: strPtr("buy badword now"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractSubject([]byte(tt.raw))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, consts.ErrMalformedMessage))
				return
			}
			require.NoError(t, err)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, *tt.want, *got)
		})
	}
}

func TestHashContent(t *testing.T) {
	a := HashContent([]byte("Subject: a\n"))
	b := HashContent([]byte("Subject: b\n"))

	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, HashContent([]byte("Subject: a\n")))
}

func TestSanitizeUTF8(t *testing.T) {
	assert.Equal(t, "hello", SanitizeUTF8("hello"))
	assert.Equal(t, "ab", SanitizeUTF8("a\x00b"))
	assert.Equal(t, "ab", SanitizeUTF8("a\xffb"))
	assert.Equal(t, "日本", SanitizeUTF8("日本"))
}

func strPtr(s string) *string { return &s }
