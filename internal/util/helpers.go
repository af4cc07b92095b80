package util

import (
	"html/template"
	"log/slog"
	"os"
	"slices"
	"strings"
)

// MustCompileTemplate parses a template at startup and exits on failure
func MustCompileTemplate(name string, funcs template.FuncMap, content string) *template.Template {
	t, err := template.New(name).Funcs(funcs).Parse(content)
	if err != nil {
		slog.Error("failed to compile template", "template", name, "error", err)
		os.Exit(1)
	}
	return t
}

var internalSuffixes = []string{".local", ".internal", ".onion", ".localhost"}

// IsInternalHost reports hostnames under private or special-use suffixes
func IsInternalHost(host string) bool {
	host = strings.ToLower(host)
	return slices.ContainsFunc(internalSuffixes, func(suffix string) bool {
		return strings.HasSuffix(host, suffix)
	})
}

// IsLoopbackHost reports localhost names and loopback literals
func IsLoopbackHost(host string) bool {
	switch host = strings.ToLower(host); host {
	case "localhost", "::1", "[::1]":
		return true
	}
	return strings.HasPrefix(host, "127.")
}

// GetTagValues returns the first value of every tag named tagName, in tag order.
// GetTagValues(evt.Tags, "p") lists the pubkeys of a contact list.
func GetTagValues(tags [][]string, tagName string) []string {
	var values []string
	for _, tag := range tags {
		if len(tag) > 1 && tag[0] == tagName {
			values = append(values, tag[1])
		}
	}
	return values
}

// LimitSlice returns at most the first n elements; nil when n <= 0
func LimitSlice[T any](slice []T, n int) []T {
	switch {
	case n <= 0:
		return nil
	case n < len(slice):
		return slice[:n]
	default:
		return slice
	}
}

// Chunk splits a slice into consecutive groups of at most size elements.
// The last group may be shorter. Returns nil for an empty slice or size <= 0.
func Chunk[T any](slice []T, size int) [][]T {
	if len(slice) == 0 || size <= 0 {
		return nil
	}
	chunks := make([][]T, 0, (len(slice)+size-1)/size)
	for len(slice) > size {
		chunks = append(chunks, slice[:size:size])
		slice = slice[size:]
	}
	return append(chunks, slice)
}

// TruncateStringRunes shortens s to maxLen runes, ending in "..." when cut
func TruncateStringRunes(s string, maxLen int) string {
	runes := []rune(s)
	if maxLen <= 3 || len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}
