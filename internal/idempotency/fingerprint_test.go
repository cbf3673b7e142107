package idempotency

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKey_ClientKeyVerbatim(t *testing.T) {
	assert.Equal(t, "abc-123", Key(Request{ClientKey: "abc-123", Method: "POST", Path: "/routine"}))
}

func TestKey_FieldOrderInsensitive(t *testing.T) {
	a := Request{Method: "POST", Path: "/routine", Body: []byte(`{"goal":"jaw","days":7,"meta":{"b":1,"a":2}}`)}
	b := Request{Method: "post", Path: "/routine", Body: []byte(`{ "meta":{"a":2,"b":1}, "days":7, "goal":"jaw" }`)}
	assert.Equal(t, Key(a), Key(b))
	assert.Len(t, Key(a), 64)
}

func TestKey_NumbersPreserved(t *testing.T) {
	a := Request{Method: "POST", Path: "/explain", Body: []byte(`{"score":1}`)}
	b := Request{Method: "POST", Path: "/explain", Body: []byte(`{"score":1.0}`)}
	assert.NotEqual(t, Key(a), Key(b))
}

func TestKey_QueryNormalized(t *testing.T) {
	a := Request{Method: "GET", Path: "/x", Query: url.Values{"b": {"2", "1"}, "a": {"x"}}}
	b := Request{Method: "GET", Path: "/x", Query: url.Values{"a": {"x"}, "b": {"1", "2"}}}
	assert.Equal(t, Key(a), Key(b))
}

func TestKey_DistinguishesPathAndBody(t *testing.T) {
	base := Request{Method: "POST", Path: "/explain", Body: []byte(`{"metric":"jawline"}`)}
	other := base
	other.Path = "/routine"
	assert.NotEqual(t, Key(base), Key(other))

	other = base
	other.Body = []byte(`{"metric":"eyes_symmetry"}`)
	assert.NotEqual(t, Key(base), Key(other))
}

func TestKey_BinaryParts(t *testing.T) {
	frontal := Part{Field: "frontal", Filename: "f.jpg", MediaType: "image/jpeg", Data: []byte{1, 2, 3}}
	side := Part{Field: "side", Filename: "s.jpg", MediaType: "image/jpeg", Data: []byte{4, 5}}

	a := Request{Method: "POST", Path: "/analyze", Parts: []Part{frontal, side}}
	b := Request{Method: "POST", Path: "/analyze", Parts: []Part{side, frontal}}
	assert.Equal(t, Key(a), Key(b), "parts are ordered by field name")

	changed := frontal
	changed.Data = []byte{1, 2, 4}
	c := Request{Method: "POST", Path: "/analyze", Parts: []Part{changed, side}}
	assert.NotEqual(t, Key(a), Key(c))

	renamed := frontal
	renamed.Filename = "other.jpg"
	d := Request{Method: "POST", Path: "/analyze", Parts: []Part{renamed, side}}
	assert.NotEqual(t, Key(a), Key(d))
}

func TestKey_NonJSONBody(t *testing.T) {
	a := Request{Method: "POST", Path: "/x", Body: []byte("plain text")}
	b := Request{Method: "POST", Path: "/x", Body: []byte("plain text ")}
	assert.Equal(t, Key(a), Key(b))
}
