package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Request is the part of an HTTP request that identifies it for
// deduplication.
type Request struct {
	ClientKey string
	Method    string
	Path      string
	Query     url.Values
	Body      []byte
	Parts     []Part
}

// Part is one binary multipart field.
type Part struct {
	Field     string
	Filename  string
	MediaType string
	Data      []byte
}

// Key returns the client key verbatim when present, otherwise a SHA-256
// fingerprint of the canonical request.
func Key(req Request) string {
	if k := strings.TrimSpace(req.ClientKey); k != "" {
		return req.ClientKey
	}

	doc := struct {
		Method string              `json:"method"`
		Path   string              `json:"path"`
		Query  map[string][]string `json:"query"`
		Body   json.RawMessage     `json:"body"`
		Parts  string              `json:"parts"`
	}{
		Method: strings.ToUpper(req.Method),
		Path:   req.Path,
		Query:  normalizeQuery(req.Query),
		Body:   canonicalBody(req.Body),
		Parts:  partsDigest(req.Parts),
	}

	// encoding/json sorts map keys, so doc marshals canonically.
	raw, _ := json.Marshal(doc)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func normalizeQuery(q url.Values) map[string][]string {
	out := make(map[string][]string, len(q))
	for k, vs := range q {
		sorted := append([]string(nil), vs...)
		sort.Strings(sorted)
		out[k] = sorted
	}
	return out
}

// canonicalBody re-encodes a JSON body with sorted keys and numbers kept as
// written. Non-JSON bodies are carried as a JSON string.
func canonicalBody(body []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return json.RawMessage("null")
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err == nil && !dec.More() {
		if out, err := json.Marshal(v); err == nil {
			return out
		}
	}
	out, _ := json.Marshal(string(trimmed))
	return out
}

// partsDigest hashes binary parts ordered by field name, then by position
// within the field.
func partsDigest(parts []Part) string {
	if len(parts) == 0 {
		return ""
	}
	ordered := append([]Part(nil), parts...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Field < ordered[j].Field
	})

	h := sha256.New()
	for _, p := range ordered {
		ph := sha256.New()
		for _, s := range []string{p.Field, p.Filename, p.MediaType, strconv.Itoa(len(p.Data))} {
			ph.Write([]byte(s))
			ph.Write([]byte{0})
		}
		ph.Write(p.Data)
		h.Write(ph.Sum(nil))
	}
	return hex.EncodeToString(h.Sum(nil))
}
