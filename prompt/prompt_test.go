package prompt

import (
	"strings"
	"testing"

	"github.com/becomeliminal/nim-recall/memory"
)

func TestFormatContext_Empty(t *testing.T) {
	if got := FormatContext(nil); got != "" {
		t.Errorf("FormatContext(nil) = %q, want empty", got)
	}
	if got := FormatContext([]memory.Turn{}); got != "" {
		t.Errorf("FormatContext([]) = %q, want empty", got)
	}
}

func TestFormatContext_SingleTurn(t *testing.T) {
	got := FormatContext([]memory.Turn{{ID: "t1", User: "My name is Alex.", Bot: "Nice to meet you, Alex!"}})

	if strings.Count(got, "User: ") != 1 || strings.Count(got, "Bot: ") != 1 {
		t.Errorf("expected one User/Bot pair, got:\n%s", got)
	}
	if strings.Count(got, Separator+"\n") != 2 {
		t.Errorf("expected separators after the header and the turn, got:\n%s", got)
	}
	if !strings.HasSuffix(got, "Bot: Nice to meet you, Alex!\n---\n") {
		t.Errorf("expected trailing separator after the turn, got:\n%s", got)
	}
	if !strings.HasPrefix(got, ContextHeader+"\n"+Separator+"\n") {
		t.Errorf("expected header first, got:\n%s", got)
	}
}

func TestFormatContext_KeepsOrder(t *testing.T) {
	got := FormatContext([]memory.Turn{
		{ID: "b", User: "second-most", Bot: "x"},
		{ID: "a", User: "least", Bot: "y"},
	})
	want := ContextHeader + "\n" + "---\n" +
		"User: second-most\nBot: x\n---\n" +
		"User: least\nBot: y\n---\n"
	if got != want {
		t.Errorf("FormatContext() =\n%q\nwant\n%q", got, want)
	}
}

func TestAssemble_WithoutContext(t *testing.T) {
	got := Assemble("SYS", "", "hello")
	want := "SYS\n\nCurrent conversation:\nUser: hello\nBot:"
	if got != want {
		t.Errorf("Assemble() = %q, want %q", got, want)
	}
	if strings.Contains(got, ContextHeader) {
		t.Error("empty context must not emit a header")
	}
}

func TestAssemble_WithContext(t *testing.T) {
	block := FormatContext([]memory.Turn{{ID: "t1", User: "I like tea", Bot: "Noted"}})
	got := Assemble(DefaultSystemPrompt, block, "What do I like?")

	if !strings.HasPrefix(got, DefaultSystemPrompt+"\n\n"+ContextHeader) {
		t.Errorf("expected system prompt then context, got:\n%s", got)
	}
	if !strings.HasSuffix(got, "---\n\nCurrent conversation:\nUser: What do I like?\nBot:") {
		t.Errorf("unexpected tail:\n%s", got)
	}
	if !strings.HasSuffix(got, Cue) {
		t.Error("prompt must end with the cue")
	}
}
