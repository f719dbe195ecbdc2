package procmon

import (
	"errors"
	"strings"
)

// ExtractSQL pulls a single statement out of a model response. The
// model is instructed to emit only the query, but commentary slips
// through; in that case the first fenced code block wins, then the
// longest line beginning with an SQL keyword. Extraction deliberately
// accepts modification statements too, so the read-only guard sees them
// and rejects them as unsafe instead of them vanishing as "no query
// found". A response starting with "ERROR:" is the model declining to
// answer and comes back as an error.
func ExtractSQL(response string) (string, error) {
	text := strings.TrimSpace(response)
	if text == "" {
		return "", errors.New("empty model response")
	}
	if strings.HasPrefix(text, "ERROR:") {
		return "", errors.New(strings.TrimSpace(strings.TrimPrefix(text, "ERROR:")))
	}

	if i := strings.Index(text, "```"); i >= 0 {
		rest := text[i+3:]
		if j := strings.Index(rest, "```"); j >= 0 {
			block := rest[:j]
			// Drop a language tag like "sql" on the fence line.
			if k := strings.IndexByte(block, '\n'); k >= 0 {
				first := strings.TrimSpace(block[:k])
				if first != "" && !startsWithStatementKeyword(first) {
					block = block[k+1:]
				}
			}
			if q := strings.TrimSpace(block); q != "" {
				return q, nil
			}
		}
	}

	if startsWithStatementKeyword(text) {
		return text, nil
	}

	var best string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if startsWithStatementKeyword(line) && len(line) > len(best) {
			best = line
		}
	}
	if best == "" {
		return "", errors.New("no query found in model response")
	}
	return best, nil
}

func startsWithStatementKeyword(s string) bool {
	u := strings.ToUpper(s)
	if strings.HasPrefix(u, "SELECT") || strings.HasPrefix(u, "WITH") {
		return true
	}
	for _, kw := range modificationKeywords {
		ukw := strings.ToUpper(kw)
		if u == ukw || strings.HasPrefix(u, ukw+" ") {
			return true
		}
	}
	return false
}
