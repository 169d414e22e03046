package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloseUnbalancedJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "balanced", in: `{"a":[1,2]}`, want: `{"a":[1,2]}`},
		{name: "missing brace", in: `{"a":[1,2]`, want: `{"a":[1,2]}`},
		{name: "nested order", in: `[{"a":{"b":[1`, want: `[{"a":{"b":[1]}}]`},
		{name: "brackets inside strings", in: `{"text":"a } ] {"`, want: `{"text":"a } ] {"}`},
		{name: "cut inside string", in: `{"text":"hello`, want: `{"text":"hello"}`},
		{name: "trailing comma", in: `[1,2,`, want: `[1,2]`},
		{name: "empty", in: ``, want: ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, closeUnbalancedJSON(tt.in))
		})
	}
}

func TestDecodeModelJSON_RepairsTruncatedOutput(t *testing.T) {
	var got struct {
		Title string `json:"title"`
		Pages []struct {
			PageNumber int `json:"pageNumber"`
		} `json:"pages"`
	}
	raw := "```json\n{\"title\": \"Moon Garden\", \"pages\": [{\"pageNumber\": 1}, {\"pageNumber\": 2}\n```"

	require.NoError(t, decodeModelJSON(raw, &got))
	assert.Equal(t, "Moon Garden", got.Title)
	assert.Len(t, got.Pages, 2)
}

func TestDecodeModelJSON_Garbage(t *testing.T) {
	var v map[string]any
	assert.Error(t, decodeModelJSON("no json here", &v))
}
