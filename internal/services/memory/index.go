package memory

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/alfan-chat/relay/internal/models"
)

// vectorIndex is a TF-IDF index over the stored memories.
type vectorIndex struct {
	Vocabulary map[string]int      `json:"vocabulary"`
	IDF        map[string]float64  `json:"idf"`
	Vectors    map[int64][]float32 `json:"vectors"`
	DocIDs     []int64             `json:"doc_ids"`

	docs map[int64]models.MemoryRecord
}

func newVectorIndex() *vectorIndex {
	return &vectorIndex{
		Vocabulary: make(map[string]int),
		IDF:        make(map[string]float64),
		Vectors:    make(map[int64][]float32),
		docs:       make(map[int64]models.MemoryRecord),
	}
}

// build replaces the index contents with the given records.
func (x *vectorIndex) build(records []models.MemoryRecord) {
	x.Vocabulary = make(map[string]int)
	x.IDF = make(map[string]float64)
	x.Vectors = make(map[int64][]float32, len(records))
	x.docs = make(map[int64]models.MemoryRecord, len(records))
	x.DocIDs = x.DocIDs[:0]

	df := make(map[string]int)
	for _, rec := range records {
		seen := make(map[string]bool)
		for _, token := range tokenize(rec.Text) {
			if _, ok := x.Vocabulary[token]; !ok {
				x.Vocabulary[token] = len(x.Vocabulary)
			}
			if !seen[token] {
				df[token]++
				seen[token] = true
			}
		}
	}

	// Smoothed so a term shared by every memory still carries weight.
	total := float64(len(records))
	for token, freq := range df {
		x.IDF[token] = math.Log((1+total)/(1+float64(freq))) + 1
	}

	for _, rec := range records {
		x.Vectors[rec.ID] = x.embed(rec.Text)
		x.docs[rec.ID] = rec
		x.DocIDs = append(x.DocIDs, rec.ID)
	}
	sort.Slice(x.DocIDs, func(i, j int) bool { return x.DocIDs[i] < x.DocIDs[j] })
}

// attach binds rows loaded from the database to a persisted index. It reports
// false when the index was built for a different set of rows.
func (x *vectorIndex) attach(records []models.MemoryRecord) bool {
	if len(records) != len(x.DocIDs) || len(x.Vectors) != len(records) {
		return false
	}
	ids := make([]int64, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for i, id := range ids {
		if x.DocIDs[i] != id {
			return false
		}
		if len(x.Vectors[id]) != len(x.Vocabulary) {
			return false
		}
	}

	x.docs = make(map[int64]models.MemoryRecord, len(records))
	for _, rec := range records {
		x.docs[rec.ID] = rec
	}
	return true
}

func (x *vectorIndex) embed(text string) []float32 {
	tokens := tokenize(text)
	vector := make([]float32, len(x.Vocabulary))
	if len(tokens) == 0 {
		return vector
	}

	tf := make(map[string]int)
	for _, token := range tokens {
		tf[token]++
	}
	for token, freq := range tf {
		if idx, ok := x.Vocabulary[token]; ok {
			vector[idx] = float32(float64(freq) / float64(len(tokens)) * x.IDF[token])
		}
	}
	return vector
}

type scored struct {
	record models.MemoryRecord
	score  float64
}

// rank scores every memory against query, best first. A literal substring hit
// on the text or type is boosted above pure vector similarity.
func (x *vectorIndex) rank(query string) []scored {
	needle := strings.ToLower(strings.TrimSpace(query))
	qv := x.embed(query)

	var results []scored
	for id, rec := range x.docs {
		score := cosineSimilarity(qv, x.Vectors[id])
		if needle != "" && strings.Contains(strings.ToLower(rec.Text), needle) {
			score += 1
		}
		if needle != "" && strings.Contains(rec.Type, needle) {
			score += 0.5
		}
		if score > 0 {
			results = append(results, scored{record: rec, score: score})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if !a.record.CreatedAt.Equal(b.record.CreatedAt) {
			return a.record.CreatedAt.After(b.record.CreatedAt)
		}
		return a.record.ID > b.record.ID
	})
	return results
}

func (x *vectorIndex) save(path string) error {
	if path == "" {
		return nil
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create index directory %s: %w", dir, err)
		}
	}

	data, err := json.Marshal(x)
	if err != nil {
		return fmt.Errorf("failed to encode memory index: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write memory index: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace memory index: %w", err)
	}
	return nil
}

func loadVectorIndex(path string) (*vectorIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	x := newVectorIndex()
	if err := json.Unmarshal(data, x); err != nil {
		return nil, fmt.Errorf("failed to decode memory index: %w", err)
	}
	return x, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

var punctuation = strings.NewReplacer(
	".", " ", ",", " ", ";", " ", ":", " ",
	"!", " ", "?", " ", "(", " ", ")", " ",
	"[", " ", "]", " ", "{", " ", "}", " ",
	"\"", " ", "'", " ", "_", " ", "/", " ",
	"\n", " ", "\t", " ", "\r", " ",
)

// tokenize lower-cases text and splits it into words. Hyphenated words such as
// "lo-fi" stay whole.
func tokenize(text string) []string {
	words := strings.Fields(punctuation.Replace(strings.ToLower(text)))

	var tokens []string
	for _, word := range words {
		word = strings.Trim(word, "-")
		if len([]rune(word)) < 2 || isNumber(word) {
			continue
		}
		tokens = append(tokens, word)
	}
	return tokens
}

func isNumber(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
