package persona

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/alfan-chat/relay/internal/config"
	"github.com/alfan-chat/relay/internal/models"
	"github.com/alfan-chat/relay/pkg/logger"
)

func TestTable_Resolve(t *testing.T) {
	table := NewTable("ceria")

	tests := []struct {
		in   string
		want string
	}{
		{"formal", Formal},
		{"  TSUNDERE ", Tsundere},
		{"", Ceria},
		{"pirate", Ceria},
	}
	for _, tt := range tests {
		got := table.Resolve(tt.in)
		if got.Name != tt.want {
			t.Errorf("Resolve(%q) = %q, want %q", tt.in, got.Name, tt.want)
		}
		if got.Prompt == "" {
			t.Errorf("Resolve(%q) returned an empty prompt", tt.in)
		}
	}
}

func TestNewTable_UnknownDefault(t *testing.T) {
	if got := NewTable("robot").Default(); got != Ceria {
		t.Errorf("Default() = %q, want %q", got, Ceria)
	}
	if got := NewTable(" Santai").Default(); got != Santai {
		t.Errorf("Default() = %q, want %q", got, Santai)
	}
}

func TestBuildSystemPrompt(t *testing.T) {
	if got := BuildSystemPrompt("  persona  ", "", ""); got != "persona" {
		t.Errorf("persona only = %q", got)
	}

	got := BuildSystemPrompt("persona", "Hal yang pernah kamu ceritain sebelumnya: suka kopi.", "FAKTA DARI INTERNET:\nx")
	want := "persona\n\n" +
		"Catatan konteks dari obrolan sebelumnya: Hal yang pernah kamu ceritain sebelumnya: suka kopi." +
		"\nGunakan konteks ini secara natural dalam percakapan, jangan sebutkan sebagai daftar memori." +
		"\n\nFAKTA DARI INTERNET:\nx"
	if got != want {
		t.Errorf("BuildSystemPrompt() =\n%q\nwant\n%q", got, want)
	}
}

func TestMemorySnippet(t *testing.T) {
	if got := MemorySnippet(nil); got != "" {
		t.Errorf("MemorySnippet(nil) = %q", got)
	}
	got := MemorySnippet([]models.MemoryRecord{{Text: "suka kopi"}, {Text: "tinggal di Bandung"}})
	want := "Hal yang pernah kamu ceritain sebelumnya: suka kopi, tinggal di Bandung."
	if got != want {
		t.Errorf("MemorySnippet() = %q, want %q", got, want)
	}
}

type fakeMemory struct {
	records []models.MemoryRecord
	err     error
	query   string
	k       int
}

func (f *fakeMemory) Upsert(context.Context, string, string) (models.MemoryRecord, error) {
	return models.MemoryRecord{}, nil
}

func (f *fakeMemory) Search(_ context.Context, query string, k int) ([]models.MemoryRecord, error) {
	f.query, f.k = query, k
	return f.records, f.err
}

func (f *fakeMemory) Clear(context.Context) error { return nil }

type fakeSearcher struct {
	result string
	err    error
	calls  int
}

func (f *fakeSearcher) Search(context.Context, string, int) (string, error) {
	f.calls++
	return f.result, f.err
}

func testConfig(searchEnabled bool) *config.Config {
	cfg := &config.Config{}
	cfg.Memory.TopK = 3
	cfg.Search.Enabled = searchEnabled
	return cfg
}

func TestAssembler_MemoryAndSearch(t *testing.T) {
	mem := &fakeMemory{records: []models.MemoryRecord{{Text: "suka musik lo-fi"}}}
	web := &fakeSearcher{result: "FAKTA DARI INTERNET (Gunakan ini untuk menjawab):\nSumber 1 (x): y\n"}
	a := NewAssembler(testConfig(true), NewTable("ceria"), mem, web, logger.Discard())

	out := a.Assemble(context.Background(), Request{
		Persona: "santai",
		Messages: []models.Message{
			{Role: models.RoleUser, Content: "halo"},
			{Role: models.RoleAssistant, Content: "hai juga!"},
			{Role: models.RoleUser, Content: "rekomendasi lagu buat belajar?"},
		},
		UseMemory: true,
		UseSearch: true,
	})

	if out.Persona.Name != Santai {
		t.Errorf("persona = %q", out.Persona.Name)
	}
	if mem.query != "rekomendasi lagu buat belajar?" || mem.k != 3 {
		t.Errorf("memory searched with (%q, %d)", mem.query, mem.k)
	}
	if out.Memories != 1 || !out.Searched {
		t.Errorf("Assembly = %+v", out)
	}
	if !strings.HasPrefix(out.SystemPrompt, prompts[Santai]) {
		t.Error("system prompt does not start with the persona prompt")
	}
	if !strings.Contains(out.SystemPrompt, "suka musik lo-fi") || !strings.Contains(out.SystemPrompt, "FAKTA DARI INTERNET") {
		t.Errorf("system prompt missing context:\n%s", out.SystemPrompt)
	}
}

func TestAssembler_FlagsAndFailures(t *testing.T) {
	msgs := []models.Message{{Role: models.RoleUser, Content: "apa kabar?"}}

	t.Run("flags off", func(t *testing.T) {
		mem := &fakeMemory{records: []models.MemoryRecord{{Text: "x"}}}
		web := &fakeSearcher{result: "y"}
		a := NewAssembler(testConfig(true), NewTable("ceria"), mem, web, logger.Discard())

		out := a.Assemble(context.Background(), Request{Persona: "formal", Messages: msgs})
		if out.SystemPrompt != prompts[Formal] {
			t.Errorf("SystemPrompt = %q, want bare persona", out.SystemPrompt)
		}
		if mem.query != "" || web.calls != 0 {
			t.Error("collaborators called with flags off")
		}
	})

	t.Run("search disabled in config", func(t *testing.T) {
		web := &fakeSearcher{result: "y"}
		a := NewAssembler(testConfig(false), NewTable("ceria"), &fakeMemory{}, web, logger.Discard())
		a.Assemble(context.Background(), Request{Messages: msgs, UseSearch: true})
		if web.calls != 0 {
			t.Error("searcher called while disabled")
		}
	})

	t.Run("failures degrade", func(t *testing.T) {
		mem := &fakeMemory{err: errors.New("disk gone")}
		web := &fakeSearcher{err: errors.New("timeout")}
		a := NewAssembler(testConfig(true), NewTable("ceria"), mem, web, logger.Discard())

		out := a.Assemble(context.Background(), Request{Persona: "netral", Messages: msgs, UseMemory: true, UseSearch: true})
		if out.SystemPrompt != prompts[Netral] {
			t.Errorf("SystemPrompt = %q, want bare persona", out.SystemPrompt)
		}
	})
}
