package procmon

import (
	"strings"
	"testing"
)

func TestExtractSQL(t *testing.T) {
	cases := []struct {
		name     string
		response string
		want     string
		wantErr  bool
	}{
		{
			name:     "bare query",
			response: `SELECT COUNT(*) FROM events`,
			want:     `SELECT COUNT(*) FROM events`,
		},
		{
			name:     "fenced block with language tag",
			response: "Here is the query:\n```sql\nSELECT * FROM events LIMIT 5\n```\nThat should work.",
			want:     `SELECT * FROM events LIMIT 5`,
		},
		{
			name:     "fenced block without tag",
			response: "```\nSELECT 1\n```",
			want:     `SELECT 1`,
		},
		{
			name:     "longest keyword line wins",
			response: "I think you want:\nSELECT 1\nSELECT Operation, COUNT(*) FROM events GROUP BY Operation",
			want:     `SELECT Operation, COUNT(*) FROM events GROUP BY Operation`,
		},
		{
			name:     "with clause",
			response: `WITH r AS (SELECT * FROM events) SELECT COUNT(*) FROM r`,
			want:     `WITH r AS (SELECT * FROM events) SELECT COUNT(*) FROM r`,
		},
		{
			// Modification statements are extracted so the read-only
			// guard can reject them as unsafe.
			name:     "modification statement passes through",
			response: `DELETE FROM events`,
			want:     `DELETE FROM events`,
		},
		{
			name:     "fenced modification statement passes through",
			response: "```sql\nDROP TABLE events\n```",
			want:     `DROP TABLE events`,
		},
		{
			name:     "model declined",
			response: "ERROR: the data has no network columns",
			wantErr:  true,
		},
		{
			name:     "no query at all",
			response: "I'm not sure what you mean.",
			wantErr:  true,
		},
		{
			name:     "empty",
			response: "   ",
			wantErr:  true,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := ExtractSQL(c.response)
			if c.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != c.want {
				t.Fatalf("got %q, want %q", got, c.want)
			}
		})
	}
}

func TestExtractSQL_DeclineReasonSurfaced(t *testing.T) {
	_, err := ExtractSQL("ERROR: no such data")
	if err == nil || !strings.Contains(err.Error(), "no such data") {
		t.Fatalf("decline reason lost: %v", err)
	}
}
