package mcpx

import (
	"encoding/json"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Field weights: a keyword hit in a tool's name outranks one in its
// description, which outranks one in its parameter names.
const (
	nameWeight        = 3.0
	descriptionWeight = 2.0
	paramWeight       = 1.0

	// BM25 constants.
	bm25K1 = 1.2
	bm25B  = 0.75
)

// DefaultSearchLimit bounds search results when the caller does not ask
// for a specific count.
const DefaultSearchLimit = 10

// SearchHit is one scored index match.
type SearchHit struct {
	Tool  *mcp.Tool
	Score float64
}

// ToolIndex is an in-memory inverted index over aggregated tool metadata.
// It is built synchronously when the owning Aggregator is constructed and
// is not rebuilt afterwards; queries only read.
type ToolIndex struct {
	docs      []indexedTool
	docFreq   map[string]int
	avgLength float64
}

type indexedTool struct {
	tool   *mcp.Tool
	terms  map[string]float64 // token → weighted term frequency
	length float64
}

// NewToolIndex builds an index over the given prefixed tools.
func NewToolIndex(tools []*mcp.Tool) *ToolIndex {
	idx := &ToolIndex{
		docFreq: make(map[string]int),
	}

	var totalLength float64
	for _, tool := range tools {
		doc := indexedTool{
			tool:  tool,
			terms: make(map[string]float64),
		}

		for _, tok := range tokenize(tool.Name) {
			doc.terms[tok] += nameWeight
		}
		for _, tok := range tokenize(tool.Description) {
			doc.terms[tok] += descriptionWeight
		}
		for _, name := range schemaPropertyNames(tool.InputSchema) {
			for _, tok := range tokenize(name) {
				doc.terms[tok] += paramWeight
			}
		}

		for _, weight := range doc.terms {
			doc.length += weight
		}
		for tok := range doc.terms {
			idx.docFreq[tok]++
		}

		totalLength += doc.length
		idx.docs = append(idx.docs, doc)
	}

	if len(idx.docs) > 0 {
		idx.avgLength = totalLength / float64(len(idx.docs))
	}
	return idx
}

// Search scores every indexed tool against the keywords (OR semantics) and
// returns up to limit hits ordered by descending score, ties broken by
// tool name.
func (idx *ToolIndex) Search(keywords []string, limit int) []SearchHit {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	terms := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		terms = append(terms, tokenize(kw)...)
	}
	if len(terms) == 0 {
		return nil
	}

	n := float64(len(idx.docs))
	var hits []SearchHit
	for _, doc := range idx.docs {
		var score float64
		for _, term := range terms {
			freq, ok := doc.terms[term]
			if !ok {
				continue
			}
			df := float64(idx.docFreq[term])
			idf := math.Log(1 + (n-df+0.5)/(df+0.5))
			norm := 1 - bm25B + bm25B*doc.length/idx.avgLength
			score += idf * freq * (bm25K1 + 1) / (freq + bm25K1*norm)
		}
		if score > 0 {
			hits = append(hits, SearchHit{Tool: doc.tool, Score: score})
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Tool.Name < hits[j].Tool.Name
	})

	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// tokenize lowercases and splits on every non-alphanumeric rune, so
// "fs__read_file" yields fs, read, file.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// schemaPropertyNames walks a JSON schema for property names at any depth.
// The schema arrives as whatever the downstream sent; round-tripping
// through JSON flattens the representation.
func schemaPropertyNames(schema any) []string {
	if schema == nil {
		return nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil
	}

	var names []string
	var walk func(node any)
	walk = func(node any) {
		m, ok := node.(map[string]any)
		if !ok {
			return
		}
		if props, ok := m["properties"].(map[string]any); ok {
			for name, sub := range props {
				names = append(names, name)
				walk(sub)
			}
		}
		if items, ok := m["items"]; ok {
			walk(items)
		}
	}
	walk(decoded)
	return names
}
