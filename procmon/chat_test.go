package procmon

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

type fakeCall struct {
	system    string
	turns     []Turn
	maxTokens int
}

type fakeModelClient struct {
	calls     []fakeCall
	responses []string
	err       error
}

func (f *fakeModelClient) Complete(_ context.Context, system string, turns []Turn, maxTokens int) (string, error) {
	copied := make([]Turn, len(turns))
	copy(copied, turns)
	f.calls = append(f.calls, fakeCall{system: system, turns: copied, maxTokens: maxTokens})
	if f.err != nil {
		return "", f.err
	}
	if len(f.responses) == 0 {
		return "analysis complete", nil
	}
	r := f.responses[0]
	f.responses = f.responses[1:]
	return r, nil
}

func TestChat_AskBeforeLoadFails(t *testing.T) {
	c := NewChat(&fakeModelClient{}, ChatConfig{})
	_, err := c.Ask(context.Background(), "anything")
	if !errors.Is(err, ErrNoCapture) {
		t.Fatalf("expected ErrNoCapture, got %v", err)
	}
	if _, err := c.RawQuery("SELECT 1"); !errors.Is(err, ErrNoCapture) {
		t.Fatalf("expected ErrNoCapture from RawQuery, got %v", err)
	}
}

func TestChat_HistoryNeverExceedsRetainedExchanges(t *testing.T) {
	fake := &fakeModelClient{}
	c := NewChat(fake, ChatConfig{HistoryExchanges: 2})
	if err := c.Load(writeCaptureCSV(t, registryFixture())); err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	ctx := context.Background()
	for i := 0; i < 6; i++ {
		if _, err := c.Ask(ctx, fmt.Sprintf("question %d about the registry", i)); err != nil {
			t.Fatal(err)
		}
	}
	if len(c.History()) > 4 {
		t.Fatalf("history has %d turns, cap is 4", len(c.History()))
	}
	for _, turn := range c.History() {
		if strings.Contains(turn.Content, "question 0") {
			t.Fatalf("oldest turn still present: %q", turn.Content)
		}
	}
	// The window handed to the model must open on a user turn.
	last := fake.calls[len(fake.calls)-1]
	if last.turns[0].Role != "user" {
		t.Fatalf("model context starts with %q turn", last.turns[0].Role)
	}
}

func TestChat_ClearKeepsCapture(t *testing.T) {
	c := NewChat(&fakeModelClient{}, ChatConfig{})
	if err := c.Load(writeCaptureCSV(t, registryFixture())); err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if _, err := c.Ask(context.Background(), "what registry keys changed?"); err != nil {
		t.Fatal(err)
	}
	c.Clear()
	if len(c.History()) != 0 {
		t.Fatalf("history not cleared")
	}
	if !c.Loaded() {
		t.Fatalf("capture reference lost on clear")
	}
}

func TestChat_ModelFailureLeavesHistoryCleanForReissue(t *testing.T) {
	fake := &fakeModelClient{err: &ModelRequestError{Status: 429, Body: "rate limited"}}
	c := NewChat(fake, ChatConfig{})
	if err := c.Load(writeCaptureCSV(t, registryFixture())); err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	_, err := c.Ask(context.Background(), "what registry keys changed?")
	var me *ModelRequestError
	if !errors.As(err, &me) {
		t.Fatalf("expected ModelRequestError, got %v", err)
	}
	if len(c.History()) != 0 {
		t.Fatalf("failed turn left in history: %+v", c.History())
	}
}

func TestChat_AskRoutesFilteredRowsToModel(t *testing.T) {
	fake := &fakeModelClient{}
	c := NewChat(fake, ChatConfig{})
	if err := c.Load(writeCaptureCSV(t, []Event{
		testEvent("evil.exe", "RegSetValue", `HKCU\Run\x`, "SUCCESS", ""),
		testEvent("evil.exe", "ReadFile", `C:\x`, "SUCCESS", ""),
	})); err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if _, err := c.Ask(context.Background(), "what registry keys were modified?"); err != nil {
		t.Fatal(err)
	}
	sent := fake.calls[len(fake.calls)-1].turns
	content := sent[len(sent)-1].Content
	if !strings.Contains(content, "REGISTRY EVENTS") || !strings.Contains(content, `HKCU\Run\x`) {
		t.Fatalf("registry rows not in model context: %q", content)
	}
	if strings.Contains(content, `C:\x`) {
		t.Fatalf("non-registry row leaked into context: %q", content)
	}
}

func TestChat_NoMatchingRowsSkipsModelCall(t *testing.T) {
	fake := &fakeModelClient{}
	c := NewChat(fake, ChatConfig{})
	if err := c.Load(writeCaptureCSV(t, []Event{
		testEvent("a.exe", "ReadFile", `C:\x`, "SUCCESS", ""),
	})); err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	calls := len(fake.calls)
	answer, err := c.Ask(context.Background(), "what network connections were made?")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(answer, "No events found") {
		t.Fatalf("expected empty-match message, got %q", answer)
	}
	if len(fake.calls) != calls {
		t.Fatalf("model called for empty row set")
	}
}

func TestChat_SQLStrategyExecutesGeneratedQuery(t *testing.T) {
	fake := &fakeModelClient{responses: []string{
		`SELECT COUNT(*) FROM events WHERE Operation = 'RegSetValue'`,
		"there were 3 registry writes",
	}}
	c := NewChat(fake, ChatConfig{Strategy: StrategySQL})
	if err := c.Load(writeCaptureCSV(t, registryFixture())); err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	answer, err := c.Ask(context.Background(), "how many registry writes happened")
	if err != nil {
		t.Fatal(err)
	}
	if answer != "there were 3 registry writes" {
		t.Fatalf("unexpected answer: %q", answer)
	}
	// The prose call receives both the generated query and its result.
	last := fake.calls[len(fake.calls)-1]
	content := last.turns[len(last.turns)-1].Content
	if !strings.Contains(content, "RegSetValue") || !strings.Contains(content, "3") {
		t.Fatalf("query results missing from model context: %q", content)
	}
}

func TestChat_UnsafeGeneratedQueryNeverExecutes(t *testing.T) {
	fake := &fakeModelClient{responses: []string{`DELETE FROM events`}}
	c := NewChat(fake, ChatConfig{Strategy: StrategySQL})
	if err := c.Load(writeCaptureCSV(t, registryFixture())); err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	_, err := c.Ask(context.Background(), "remove everything")
	var ue *UnsafeQueryError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UnsafeQueryError, got %v", err)
	}
}

func TestChat_RetryFailedSQLPolicy(t *testing.T) {
	// First generated query references a bad column; with the retry
	// policy on, the engine error goes back to the model once.
	fake := &fakeModelClient{responses: []string{
		`SELECT "Bogus Column" FROM events`,
		`SELECT COUNT(*) FROM events WHERE Operation = 'RegSetValue'`,
		"3 registry writes",
	}}
	c := NewChat(fake, ChatConfig{Strategy: StrategySQL, RetryFailedSQL: true})
	if err := c.Load(writeCaptureCSV(t, registryFixture())); err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	answer, err := c.Ask(context.Background(), "how many registry writes happened")
	if err != nil {
		t.Fatal(err)
	}
	if answer != "3 registry writes" {
		t.Fatalf("unexpected answer: %q", answer)
	}
}

func TestChat_FailedSQLSurfacesWithoutRetryByDefault(t *testing.T) {
	fake := &fakeModelClient{responses: []string{`SELECT "Bogus Column" FROM events`}}
	c := NewChat(fake, ChatConfig{Strategy: StrategySQL})
	if err := c.Load(writeCaptureCSV(t, registryFixture())); err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	_, err := c.Ask(context.Background(), "how many registry writes happened")
	var qe *QueryExecutionError
	if !errors.As(err, &qe) {
		t.Fatalf("expected QueryExecutionError, got %v", err)
	}
}

func TestChat_LoadAndRawQueryNeedNoModelCall(t *testing.T) {
	// Local analysis must work with no usable credential: a client that
	// fails every call is never invoked by load or a raw query.
	fake := &fakeModelClient{err: errors.New("no API key configured")}
	c := NewChat(fake, ChatConfig{})
	if err := c.Load(writeCaptureCSV(t, registryFixture())); err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	res, err := c.RawQuery(`SELECT COUNT(*) FROM events`)
	if err != nil {
		t.Fatal(err)
	}
	if res.Rows[0][0] != "4" {
		t.Fatalf("expected count 4, got %+v", res.Rows)
	}
	if len(fake.calls) != 0 {
		t.Fatalf("model called %d times for local-only operations", len(fake.calls))
	}
}

func TestChat_SearchUsesPathColumnOnly(t *testing.T) {
	fake := &fakeModelClient{}
	c := NewChat(fake, ChatConfig{})
	if err := c.Load(writeCaptureCSV(t, []Event{
		testEvent("schtasks.exe", "CreateFile", `C:\Windows\System32\Tasks\backdoor`, "SUCCESS", ""),
		testEvent("a.exe", "ReadFile", `C:\other`, "SUCCESS", "mentions Tasks in detail"),
	})); err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if _, err := c.Search(context.Background(), "Tasks", ""); err != nil {
		t.Fatal(err)
	}
	sent := fake.calls[len(fake.calls)-1].turns
	content := sent[len(sent)-1].Content
	if !strings.Contains(content, "backdoor") {
		t.Fatalf("path match missing: %q", content)
	}
	if strings.Contains(content, `C:\other`) {
		t.Fatalf("detail-only match leaked into path search: %q", content)
	}
}
