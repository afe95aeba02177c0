// Package payload locates chat message lists inside arbitrary request
// envelopes and patches individual messages back in place. Documents are
// treated as opaque JSON: nothing outside the patched field is re-encoded,
// so provider-specific envelope fields and ordering survive untouched.
package payload

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// DefaultMessagesKey is the object key the locator searches for.
const DefaultMessagesKey = "messages"

var (
	// ErrDocumentMalformed reports input that is not a JSON object or array.
	ErrDocumentMalformed = errors.New("payload: document malformed")
	// ErrNoMessages reports a well-formed document with no message list.
	ErrNoMessages = errors.New("payload: no message list found")
	// ErrNoMatchingMessage reports that no message satisfied the selector.
	ErrNoMatchingMessage = errors.New("payload: no message matches selector")
)

// Message is a read-only view of one element of a located message list.
type Message struct {
	// Index is the element's position within the list.
	Index int
	raw   gjson.Result
}

// Role returns the message role, or "" when absent or not a string.
func (m Message) Role() string {
	role := m.raw.Get("role")
	if role.Type != gjson.String {
		return ""
	}
	return role.Str
}

// Content returns the message content when it is a JSON string. Structured
// content (arrays of parts, objects) reports false.
func (m Message) Content() (string, bool) {
	content := m.raw.Get("content")
	if content.Type != gjson.String {
		return "", false
	}
	return content.Str, true
}

// Has reports whether the message carries the given top-level field.
func (m Message) Has(field string) bool {
	return m.raw.Get(escapePathComponent(field)).Exists()
}

// Field returns the raw value of a top-level message field.
func (m Message) Field(field string) gjson.Result {
	return m.raw.Get(escapePathComponent(field))
}

// MessageList is a located message array together with the path that
// reaches it from the document root.
type MessageList struct {
	// Path is the dot path of the array, usable with gjson and sjson.
	Path     string
	messages []gjson.Result
}

// Len returns the number of messages in the list.
func (l MessageList) Len() int { return len(l.messages) }

// Message returns the i'th message of the list.
func (l MessageList) Message(i int) Message {
	return Message{Index: i, raw: l.messages[i]}
}

// ElementPath returns the dot path of the i'th message.
func (l MessageList) ElementPath(i int) string {
	return l.Path + "." + strconv.Itoa(i)
}

// LocateMessages finds the first message list in doc under the default key.
func LocateMessages(doc []byte) (MessageList, error) {
	return LocateMessageList(doc, DefaultMessagesKey)
}

// LocateMessageList walks doc depth-first, document order, and returns the
// first non-empty array under key whose elements are all objects. The check
// runs against the key at each object before descending into children, so an
// outer envelope wins over a nested one. An empty array, a non-array value,
// or an array holding non-object elements does not match and the walk
// continues past it.
func LocateMessageList(doc []byte, key string) (MessageList, error) {
	if strings.TrimSpace(key) == "" {
		key = DefaultMessagesKey
	}
	root, err := parseDocument(doc)
	if err != nil {
		return MessageList{}, err
	}
	if list, path, ok := findMessageList(root, key, ""); ok {
		return MessageList{Path: path, messages: list.Array()}, nil
	}
	return MessageList{}, ErrNoMessages
}

func parseDocument(doc []byte) (gjson.Result, error) {
	if !gjson.ValidBytes(doc) {
		return gjson.Result{}, fmt.Errorf("%w: not valid JSON", ErrDocumentMalformed)
	}
	root := gjson.ParseBytes(doc)
	if !root.IsObject() && !root.IsArray() {
		return gjson.Result{}, fmt.Errorf("%w: root is not an object or array", ErrDocumentMalformed)
	}
	return root, nil
}

func findMessageList(node gjson.Result, key, path string) (gjson.Result, string, bool) {
	if node.IsObject() {
		if list, ok := messageListAt(node, key); ok {
			return list, joinPath(path, escapePathComponent(key)), true
		}
	}

	var (
		found     gjson.Result
		foundPath string
		done      bool
	)
	node.ForEach(func(childKey, child gjson.Result) bool {
		childPath := joinPath(path, pathComponent(node, childKey))
		switch {
		case child.IsObject():
			found, foundPath, done = findMessageList(child, key, childPath)
		case child.IsArray() && node.IsObject():
			child.ForEach(func(idx, elem gjson.Result) bool {
				if !elem.IsObject() {
					return true
				}
				elemPath := childPath + "." + strconv.Itoa(int(idx.Int()))
				found, foundPath, done = findMessageList(elem, key, elemPath)
				return !done
			})
		}
		return !done
	})
	return found, foundPath, done
}

// messageListAt reports whether node carries key with a non-empty array of
// objects, the duck-typed shape of a message list.
func messageListAt(node gjson.Result, key string) (gjson.Result, bool) {
	value := node.Get(escapePathComponent(key))
	if !value.IsArray() {
		return gjson.Result{}, false
	}
	elems := value.Array()
	if len(elems) == 0 {
		return gjson.Result{}, false
	}
	for _, elem := range elems {
		if !elem.IsObject() {
			return gjson.Result{}, false
		}
	}
	return value, true
}

func joinPath(base, component string) string {
	if base == "" {
		return component
	}
	return base + "." + component
}

// pathComponent renders the ForEach key of a child as a dot path component:
// array children index by position, object children by escaped key.
func pathComponent(parent, key gjson.Result) string {
	if parent.IsArray() {
		return strconv.Itoa(int(key.Int()))
	}
	return escapePathComponent(key.Str)
}

// escapePathComponent backslash-escapes the characters the path syntax
// treats specially so a literal object key can appear inside a path.
func escapePathComponent(key string) string {
	if !strings.ContainsAny(key, `.\|#@*?`) {
		return key
	}
	var b strings.Builder
	b.Grow(len(key) + 4)
	for _, r := range key {
		switch r {
		case '.', '\\', '|', '#', '@', '*', '?':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
