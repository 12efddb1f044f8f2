package extraction

import (
	"reflect"
	"testing"
)

func TestExtractHashtags(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "flat and hierarchical",
			text: "Planning #project/alpha and #sprint/planning today",
			want: []string{"project/alpha", "sprint/planning"},
		},
		{
			name: "case-insensitive dedup preserves order",
			text: "#A #a/b #A/b #c",
			want: []string{"a", "a/b", "c"},
		},
		{
			name: "hyphens and underscores",
			text: "#work-stuff #client_acme",
			want: []string{"work-stuff", "client_acme"},
		},
		{
			name: "depth capped at three levels",
			text: "#a/b/c/d",
			want: []string{"a/b/c"},
		},
		{
			name: "no tags",
			text: "plain text without any tags",
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractHashtags(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ExtractHashtags(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestExtractHashtagsIdempotent(t *testing.T) {
	text := "#project/alpha #urgent #Project/Alpha"
	once := ExtractHashtags(text)
	again := ExtractHashtags("#" + once[0] + " #" + once[1])
	if !reflect.DeepEqual(once, again) {
		t.Errorf("extraction not idempotent: %v vs %v", once, again)
	}
}
