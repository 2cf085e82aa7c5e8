// Package paseto locates PASETO tokens in HTTP requests and substitutes operator
// edits into the one future request they were made for.
package paseto

import (
	"encoding/base64"
	"regexp"
	"strings"
)

// Pattern matches a token anywhere in a string. Matching is purely syntactic;
// nothing is decoded or verified.
var Pattern = regexp.MustCompile(`v[0-9]\.(?:local|public)\.[A-Za-z0-9_-]+(?:\.[A-Za-z0-9_-]+)?`)

var anchored = regexp.MustCompile(`^` + Pattern.String() + `$`)

// Token is a token split on '.'.
type Token struct {
	Version string `json:"version"`
	Purpose string `json:"purpose"`
	Payload string `json:"payload"`
	Footer  string `json:"footer,omitempty"`
}

// Decompose splits s into its fields. It never fails: missing trailing
// fields are left empty, and anything after a fourth segment is ignored.
func Decompose(s string) Token {
	parts := strings.SplitN(s, ".", 5)
	var t Token
	fields := []*string{&t.Version, &t.Purpose, &t.Payload, &t.Footer}
	for i := 0; i < len(parts) && i < len(fields); i++ {
		*fields[i] = parts[i]
	}
	return t
}

// Recompose joins the fields back into a token. The payload separator is
// always written, so a token decomposed from "v2.local" comes back as
// "v2.local."; the footer and its separator only appear when footer is set.
func Recompose(version, purpose, payload, footer string) string {
	var sb strings.Builder
	sb.Grow(len(version) + len(purpose) + len(payload) + len(footer) + 3)
	sb.WriteString(version)
	sb.WriteByte('.')
	sb.WriteString(purpose)
	sb.WriteByte('.')
	sb.WriteString(payload)
	if footer != "" {
		sb.WriteByte('.')
		sb.WriteString(footer)
	}
	return sb.String()
}

// String recomposes t.
func (t Token) String() string {
	return Recompose(t.Version, t.Purpose, t.Payload, t.Footer)
}

// Valid reports whether s is exactly one token.
func Valid(s string) bool {
	return anchored.MatchString(s)
}

// FieldEdit holds replacement values for individual token fields. nil leaves a field as is.
type FieldEdit struct {
	Version *string `json:"version,omitempty"`
	Purpose *string `json:"purpose,omitempty"`
	Payload *string `json:"payload,omitempty"`
	Footer  *string `json:"footer,omitempty"`
}

// Empty reports whether no field is set.
func (e FieldEdit) Empty() bool {
	return e.Version == nil && e.Purpose == nil && e.Payload == nil && e.Footer == nil
}

// Apply returns t with the set fields replaced. Values are trimmed of surrounding whitespace.
func (t Token) Apply(e FieldEdit) Token {
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = strings.TrimSpace(*v)
		}
	}
	set(&t.Version, e.Version)
	set(&t.Purpose, e.Purpose)
	set(&t.Payload, e.Payload)
	set(&t.Footer, e.Footer)
	return t
}

// EditToken resolves an operator edit of original into the token to send.
// A non-blank whole replacement wins; otherwise field edits are applied to the
// decomposed original. With neither, the original is returned.
func EditToken(original, whole string, fields FieldEdit) string {
	if w := strings.TrimSpace(whole); w != "" {
		return w
	} else if fields.Empty() {
		return original
	}
	return Decompose(original).Apply(fields).String()
}

// Preview is a best-effort view of a token's base64url sections.
type Preview struct {
	Token
	PayloadBytes int    `json:"payload_bytes"`
	FooterText   string `json:"footer_text,omitempty"`
	// PublicClaims is the message part of a v*.public payload when it reads as text.
	PublicClaims string `json:"public_claims,omitempty"`
}

// signature sizes of the public purpose by version; the message precedes the signature
var publicSigLen = map[string]int{"v1": 256, "v2": 64, "v3": 96, "v4": 64}

// Inspect decomposes s and decodes what can be read without keys.
// Undecodable sections are left empty rather than reported.
func Inspect(s string) Preview {
	p := Preview{Token: Decompose(s)}
	payload, err := base64.RawURLEncoding.DecodeString(p.Payload)
	if err == nil {
		p.PayloadBytes = len(payload)
		if sig, ok := publicSigLen[p.Version]; ok && p.Purpose == "public" && len(payload) > sig {
			if msg := payload[:len(payload)-sig]; printable(msg) {
				p.PublicClaims = string(msg)
			}
		}
	}
	if footer, err := base64.RawURLEncoding.DecodeString(p.Footer); err == nil && printable(footer) {
		p.FooterText = string(footer)
	}
	return p
}

func printable(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	for _, c := range b {
		if (c < 0x20 || c > 0x7e) && c != '\n' && c != '\r' && c != '\t' {
			return false
		}
	}
	return true
}
