package persona

import (
	"context"
	"strings"

	"github.com/alfan-chat/relay/internal/config"
	"github.com/alfan-chat/relay/internal/models"
	"github.com/alfan-chat/relay/internal/services/memory"
	"github.com/sirupsen/logrus"
)

// BuildSystemPrompt joins the persona prompt with optional memory and search
// context, separated by blank lines.
func BuildSystemPrompt(personaPrompt, memorySnippet, searchContext string) string {
	parts := []string{strings.TrimSpace(personaPrompt)}
	if snippet := strings.TrimSpace(memorySnippet); snippet != "" {
		parts = append(parts, "Catatan konteks dari obrolan sebelumnya: "+snippet+
			"\nGunakan konteks ini secara natural dalam percakapan, jangan sebutkan sebagai daftar memori.")
	}
	if facts := strings.TrimSpace(searchContext); facts != "" {
		parts = append(parts, facts)
	}
	return strings.Join(parts, "\n\n")
}

// MemorySnippet renders retrieved memories as one sentence.
func MemorySnippet(records []models.MemoryRecord) string {
	if len(records) == 0 {
		return ""
	}
	texts := make([]string, 0, len(records))
	for _, r := range records {
		texts = append(texts, r.Text)
	}
	return "Hal yang pernah kamu ceritain sebelumnya: " + strings.Join(texts, ", ") + "."
}

// WebSearcher fetches prompt-ready web context.
type WebSearcher interface {
	Search(ctx context.Context, query string, n int) (string, error)
}

// Request is the part of a chat request the assembler needs.
type Request struct {
	Persona   string
	Messages  []models.Message
	UseMemory bool
	UseSearch bool
}

// Assembly is the resolved persona and the prompt built for it.
type Assembly struct {
	Persona      Persona
	SystemPrompt string
	Memories     int
	Searched     bool
}

// Assembler builds system prompts from personas, memories and web search.
type Assembler struct {
	table    *Table
	memory   memory.Service
	searcher WebSearcher
	topK     int
	search   bool
	logger   *logrus.Logger
}

// NewAssembler creates an assembler. searcher may be nil.
func NewAssembler(cfg *config.Config, table *Table, mem memory.Service, searcher WebSearcher, logger *logrus.Logger) *Assembler {
	topK := cfg.Memory.TopK
	if topK <= 0 {
		topK = 3
	}
	return &Assembler{
		table:    table,
		memory:   mem,
		searcher: searcher,
		topK:     topK,
		search:   cfg.Search.Enabled && searcher != nil,
		logger:   logger,
	}
}

// Assemble resolves the persona and builds its system prompt. Memory and search
// failures only drop that context.
func (a *Assembler) Assemble(ctx context.Context, req Request) Assembly {
	p := a.table.Resolve(req.Persona)
	out := Assembly{Persona: p}

	last, ok := models.LastUserMessage(req.Messages)
	query := ""
	if ok {
		query = last.Content
	}

	var snippet string
	if req.UseMemory && query != "" && a.memory != nil {
		q := query
		if runes := []rune(q); len(runes) > memory.MaxQueryLength {
			q = string(runes[:memory.MaxQueryLength])
		}
		records, err := a.memory.Search(ctx, q, a.topK)
		if err != nil {
			a.logger.WithError(err).Warn("Memory lookup failed, continuing without it")
		} else {
			snippet = MemorySnippet(records)
			out.Memories = len(records)
		}
	}

	var webContext string
	if req.UseSearch && a.search && query != "" {
		found, err := a.searcher.Search(ctx, query, 0)
		if err != nil {
			a.logger.WithError(err).Warn("Web search failed, continuing without it")
		} else {
			webContext = found
			out.Searched = found != ""
		}
	}

	out.SystemPrompt = BuildSystemPrompt(p.Prompt, snippet, webContext)
	a.logger.WithFields(logrus.Fields{
		"requested": req.Persona,
		"resolved":  p.Name,
		"memories":  out.Memories,
		"searched":  out.Searched,
	}).Debug("System prompt assembled")
	return out
}
