package procmon

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNoCapture is returned by chat operations before a tabular file has
// been loaded.
var ErrNoCapture = errors.New("no capture loaded")

// Query strategies for answering questions.
const (
	StrategyRows = "rows"
	StrategySQL  = "sql"
)

const chatMaxTokens = 2000

// Chat is one analysis session over one loaded capture. It owns the
// conversation history, the analytical engine, and the system prompt;
// the CLI creates it and threads it through every command, there is no
// hidden global session.
type Chat struct {
	client     ModelClient
	cfg        ChatConfig
	csvPath    string
	engine     *Engine
	translator *Translator
	system     string
	history    []Turn
}

func NewChat(client ModelClient, cfg ChatConfig) *Chat {
	if cfg.HistoryExchanges <= 0 {
		cfg.HistoryExchanges = 4
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = DefaultRowCap
	}
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyRows
	}
	return &Chat{client: client, cfg: cfg}
}

// Load replaces the session's capture. The conversation is reset; a new
// data set invalidates prior context.
func (c *Chat) Load(csvPath string) error {
	eng, err := LoadEngine(csvPath)
	if err != nil {
		return err
	}
	tr, err := NewTranslator(eng, c.client)
	if err != nil {
		eng.Close()
		return err
	}
	system, err := buildAnalystPrompt(eng)
	if err != nil {
		eng.Close()
		return err
	}
	if c.engine != nil {
		c.engine.Close()
	}
	c.engine = eng
	c.translator = tr
	c.csvPath = csvPath
	c.system = system
	c.history = nil
	return nil
}

func (c *Chat) Loaded() bool    { return c.engine != nil }
func (c *Chat) CSVPath() string { return c.csvPath }

// History returns the retained conversation turns.
func (c *Chat) History() []Turn { return c.history }

// Clear forgets the conversation but keeps the loaded capture.
func (c *Chat) Clear() { c.history = nil }

func (c *Chat) Close() error {
	if c.engine == nil {
		return nil
	}
	err := c.engine.Close()
	c.engine = nil
	c.translator = nil
	c.csvPath = ""
	c.history = nil
	return err
}

func buildAnalystPrompt(e *Engine) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, `You are a security analyst examining Windows Process Monitor (Procmon) data.

CAPTURE OVERVIEW:
- File: %s
- Total Events: %d

`, e.CSVPath(), e.RowCount())

	for _, section := range []struct{ title, column string }{
		{"TOP OPERATIONS", "Operation"},
		{"TOP PROCESSES", "Process Name"},
	} {
		res, err := e.Query(fmt.Sprintf(
			`SELECT %s, COUNT(*) AS n FROM events GROUP BY %s ORDER BY n DESC LIMIT 8`,
			quoteIdent(section.column), quoteIdent(section.column)))
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "%s:\n", section.title)
		for _, row := range res.Rows {
			fmt.Fprintf(&b, "  %s: %s\n", row[0], row[1])
		}
		b.WriteByte('\n')
	}

	b.WriteString(`When analyzing events:
1. Focus on security-relevant patterns (persistence, lateral movement, data exfiltration)
2. Identify suspicious registry keys (Run, RunOnce, Services, etc.)
3. Flag unusual file operations (executables in temp, writes to system folders)
4. Note process creation chains that may indicate malware
5. Be concise but thorough in your analysis

The user will provide specific event data to analyze. Focus on what the data shows.`)
	return b.String(), nil
}

// trim drops the oldest turns until at most the configured number of
// exchanges remains. The retained window must start on a user turn.
func (c *Chat) trim() {
	max := c.cfg.HistoryExchanges * 2
	if len(c.history) > max {
		c.history = c.history[len(c.history)-max:]
	}
	for len(c.history) > 0 && c.history[0].Role != "user" {
		c.history = c.history[1:]
	}
}

// complete appends the user turn, calls the model, and appends the
// assistant turn. On model failure the user turn is dropped again so a
// re-issued question does not duplicate context.
func (c *Chat) complete(ctx context.Context, userMsg string) (string, error) {
	c.history = append(c.history, Turn{Role: "user", Content: userMsg})
	c.trim()
	resp, err := c.client.Complete(ctx, c.system, c.history, chatMaxTokens)
	if err != nil {
		c.history = c.history[:len(c.history)-1]
		return "", err
	}
	c.history = append(c.history, Turn{Role: "assistant", Content: resp})
	return resp, nil
}

// Ask answers a free-text question using the configured strategy.
func (c *Chat) Ask(ctx context.Context, question string) (string, error) {
	if !c.Loaded() {
		return "", ErrNoCapture
	}
	if c.cfg.Strategy == StrategySQL {
		return c.askSQL(ctx, question)
	}
	return c.askRows(ctx, question)
}

func (c *Chat) askRows(ctx context.Context, question string) (string, error) {
	topic := ClassifyQuestion(question)

	var (
		rows  []Event
		err   error
		label string
	)
	switch topic {
	case TopicRegistry:
		rows, err = FilterRows(c.csvPath, RowFilter{Category: CategoryRegistry, Cap: c.cfg.MaxRows})
		label = "REGISTRY EVENTS"
	case TopicFiles:
		rows, err = FilterRows(c.csvPath, RowFilter{Category: CategoryFiles, Cap: c.cfg.MaxRows})
		label = "FILE EVENTS"
	case TopicNetwork:
		rows, err = FilterRows(c.csvPath, RowFilter{Category: CategoryNetwork, Cap: c.cfg.MaxRows})
		label = "NETWORK EVENTS"
	case TopicProcesses:
		rows, err = FilterRows(c.csvPath, RowFilter{Category: CategoryProcesses, Cap: c.cfg.MaxRows})
		label = "PROCESS CREATION EVENTS"
	case TopicTasks:
		rows, err = FilterRows(c.csvPath, RowFilter{PathPat: "Task", Cap: c.cfg.MaxRows})
		label = "SCHEDULED TASK EVENTS"
	default:
		rows, err = ReadEvents(c.csvPath, nil, 100)
		label = "SAMPLE EVENTS"
	}
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "No events found matching the filter criteria.", nil
	}

	msg := fmt.Sprintf("%s (%d rows):\n%s\nQUESTION: %s",
		label, len(rows), FormatRows(rows), question)
	return c.complete(ctx, msg)
}

func (c *Chat) askSQL(ctx context.Context, question string) (string, error) {
	query, res, err := c.translator.Ask(ctx, question)
	if err != nil {
		var qe *QueryExecutionError
		if c.cfg.RetryFailedSQL && errors.As(err, &qe) {
			corrected := fmt.Sprintf(
				"%s\n\nThe previous query failed.\nQuery: %s\nEngine error: %v\nProduce a corrected query.",
				question, qe.Query, qe.Err)
			query, res, err = c.translator.Ask(ctx, corrected)
		}
		if err != nil {
			return "", err
		}
	}

	msg := fmt.Sprintf("QUERY:\n%s\n\nQUERY RESULTS (%d rows):\n%s\nQUESTION: %s",
		query, len(res.Rows), formatResult(res), question)
	return c.complete(ctx, msg)
}

// AskTopic is the category shortcut: the rows-strategy path with the
// topic forced instead of sniffed from the question.
func (c *Chat) AskTopic(ctx context.Context, topic QuestionTopic, question string) (string, error) {
	if !c.Loaded() {
		return "", ErrNoCapture
	}
	if question == "" {
		question = defaultTopicQuestion(topic)
	}
	filter := RowFilter{Cap: c.cfg.MaxRows}
	label := strings.ToUpper(topic.String()) + " EVENTS"
	switch topic {
	case TopicRegistry:
		filter.Category = CategoryRegistry
	case TopicFiles:
		filter.Category = CategoryFiles
	case TopicNetwork:
		filter.Category = CategoryNetwork
	case TopicProcesses:
		filter.Category = CategoryProcesses
	case TopicTasks:
		filter.PathPat = "Task"
	default:
		return c.askRows(ctx, question)
	}
	rows, err := FilterRows(c.csvPath, filter)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return fmt.Sprintf("No %s events found.", topic), nil
	}
	msg := fmt.Sprintf("%s (%d rows):\n%s\nQUESTION: %s",
		label, len(rows), FormatRows(rows), question)
	return c.complete(ctx, msg)
}

func defaultTopicQuestion(topic QuestionTopic) string {
	switch topic {
	case TopicRegistry:
		return "What registry changes were made? Are there any persistence mechanisms?"
	case TopicFiles:
		return "What files were created or modified? Any executables written?"
	case TopicNetwork:
		return "What network connections were made? Any suspicious destinations?"
	case TopicProcesses:
		return "What processes were created? Show the process tree and any suspicious spawns."
	case TopicTasks:
		return "What scheduled task activity occurred?"
	default:
		return "What does this capture show?"
	}
}

// Search asks about events whose path contains the pattern.
func (c *Chat) Search(ctx context.Context, pattern, question string) (string, error) {
	if !c.Loaded() {
		return "", ErrNoCapture
	}
	if question == "" {
		question = fmt.Sprintf("What activity involved '%s'?", pattern)
	}
	rows, err := FilterRows(c.csvPath, RowFilter{PathPat: pattern, Cap: c.cfg.MaxRows})
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return fmt.Sprintf("No events found with path containing '%s'.", pattern), nil
	}
	msg := fmt.Sprintf("SEARCH RESULTS for '%s' (%d rows):\n%s\nQUESTION: %s",
		pattern, len(rows), FormatRows(rows), question)
	return c.complete(ctx, msg)
}

// RawQuery runs a user-written read-only query directly, bypassing the
// model.
func (c *Chat) RawQuery(query string) (*QueryResult, error) {
	if !c.Loaded() {
		return nil, ErrNoCapture
	}
	return c.engine.Query(query)
}

// Translate exposes the NL-to-SQL step without executing the result.
func (c *Chat) Translate(ctx context.Context, question string) (string, error) {
	if !c.Loaded() {
		return "", ErrNoCapture
	}
	return c.translator.Translate(ctx, question)
}

func formatResult(res *QueryResult) string {
	var b strings.Builder
	b.WriteString(strings.Join(res.Columns, " | "))
	b.WriteByte('\n')
	for _, row := range res.Rows {
		b.WriteString(strings.Join(row, " | "))
		b.WriteByte('\n')
	}
	return b.String()
}
