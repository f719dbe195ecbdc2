package procmon

import (
	"context"
	"strings"
	"testing"
)

func TestSnapshotSchema(t *testing.T) {
	e := loadFixtureEngine(t, registryFixture())
	snap, err := SnapshotSchema(e)
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Columns) != 27 {
		t.Fatalf("expected 27 columns, got %d", len(snap.Columns))
	}
	ops := snap.Distinct["Operation"]
	if len(ops) != 2 {
		t.Fatalf("expected 2 distinct operations, got %v", ops)
	}
	if len(snap.Samples) == 0 {
		t.Fatalf("no sample rows collected")
	}
}

func TestSystemPromptGroundsTheModel(t *testing.T) {
	e := loadFixtureEngine(t, registryFixture())
	snap, err := SnapshotSchema(e)
	if err != nil {
		t.Fatal(err)
	}
	prompt := snap.SystemPrompt()
	if !strings.Contains(prompt, e.TableName()) {
		t.Fatalf("prompt does not carry the table path")
	}
	if !strings.Contains(prompt, `"Process Name"`) {
		t.Fatalf("prompt does not show quoted column names")
	}
	if !strings.Contains(prompt, "RegSetValue") {
		t.Fatalf("prompt missing distinct operation values")
	}
	if !strings.Contains(prompt, "RESPOND WITH ONLY THE SQL QUERY") {
		t.Fatalf("prompt missing response format instruction")
	}
}

func TestTranslator_AskExecutesGeneratedQuery(t *testing.T) {
	e := loadFixtureEngine(t, registryFixture())
	fake := &fakeModelClient{responses: []string{
		"```sql\nSELECT COUNT(*) FROM events WHERE Operation = 'RegSetValue'\n```",
	}}
	tr, err := NewTranslator(e, fake)
	if err != nil {
		t.Fatal(err)
	}
	query, res, err := tr.Ask(context.Background(), "how many registry writes happened")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(query, "RegSetValue") {
		t.Fatalf("unexpected query: %q", query)
	}
	if res.Rows[0][0] != "3" {
		t.Fatalf("expected count 3, got %+v", res.Rows)
	}
	// The translation call carries the schema snapshot as system
	// context and the question as the single user turn.
	call := fake.calls[0]
	if !strings.Contains(call.system, "COLUMNS (27 total)") {
		t.Fatalf("schema context missing from system prompt")
	}
	if len(call.turns) != 1 || call.turns[0].Role != "user" {
		t.Fatalf("unexpected translation turns: %+v", call.turns)
	}
}

func TestTranslator_ModelDeclineIsError(t *testing.T) {
	e := loadFixtureEngine(t, registryFixture())
	fake := &fakeModelClient{responses: []string{"ERROR: question not answerable"}}
	tr, err := NewTranslator(e, fake)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tr.Translate(context.Background(), "nonsense"); err == nil {
		t.Fatalf("expected error for declined translation")
	}
}
