package matcher

import (
	"testing"

	"github.com/tidwall/gjson"
)

func TestExtractATURI(t *testing.T) {
	tests := []struct {
		name      string
		aturiPath string
		event     string
		want      string
		wantOK    bool
	}{
		{
			name:   "post commit builds uri from did/collection/rkey",
			event:  `{"did":"did:plc:A","commit":{"collection":"app.bsky.feed.post","rkey":"r1","record":{"$type":"app.bsky.feed.post"}}}`,
			want:   "at://did:plc:A/app.bsky.feed.post/r1",
			wantOK: true,
		},
		{
			name:   "like commit uses the subject uri",
			event:  `{"did":"did:plc:A","commit":{"collection":"app.bsky.feed.like","rkey":"r2","record":{"$type":"app.bsky.feed.like","subject":{"uri":"at://did:plc:B/app.bsky.feed.post/r9"}}}}`,
			want:   "at://did:plc:B/app.bsky.feed.post/r9",
			wantOK: true,
		},
		{
			name:      "explicit aturi path wins over derivation",
			aturiPath: "commit.record.embed.uri",
			event:     `{"did":"did:plc:A","commit":{"collection":"app.bsky.feed.post","rkey":"r1","record":{"$type":"app.bsky.feed.post","embed":{"uri":"at://did:plc:C/app.bsky.feed.post/quoted"}}}}`,
			want:      "at://did:plc:c/app.bsky.feed.post/quoted",
			wantOK:    true,
		},
		{
			name:      "aturi path without at:// result falls through to derivation",
			aturiPath: "commit.record.text",
			event:     `{"did":"did:plc:A","commit":{"collection":"app.bsky.feed.post","rkey":"r1","record":{"$type":"app.bsky.feed.post","text":"hello"}}}`,
			want:      "at://did:plc:A/app.bsky.feed.post/r1",
			wantOK:    true,
		},
		{
			name:   "unknown record type is discarded",
			event:  `{"did":"did:plc:A","commit":{"collection":"app.bsky.graph.follow","rkey":"r3","record":{"$type":"app.bsky.graph.follow"}}}`,
			wantOK: false,
		},
		{
			name:   "post commit missing rkey is discarded",
			event:  `{"did":"did:plc:A","commit":{"collection":"app.bsky.feed.post","record":{"$type":"app.bsky.feed.post"}}}`,
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := extractATURI(tt.aturiPath, gjson.Parse(tt.event))
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
