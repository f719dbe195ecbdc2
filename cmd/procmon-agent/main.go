package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"procmon-agent/procmon"

	"github.com/joho/godotenv"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// API credentials come from the environment; a local .env is
	// convenient for analyst workstations.
	_ = godotenv.Load()

	var configPath string
	var dbPath string
	var dbFolder string
	var dbPrefix string
	var procmonPath string
	var captureDir string
	var archiveDir string
	var debug bool
	var modelName string
	var strategy string

	flag.StringVar(&configPath, "config", "", "YAML config file path.")
	flag.StringVar(&dbPath, "db", "captures.db", "SQLite capture catalog path.")
	flag.StringVar(&dbFolder, "db-folder", "", "Monthly rolling DB folder (overrides config.database.folder).")
	flag.StringVar(&dbPrefix, "db-prefix", "", "Monthly rolling DB prefix (overrides config.database.prefix).")
	flag.StringVar(&procmonPath, "procmon", "Procmon.exe", "Process Monitor executable path.")
	flag.StringVar(&captureDir, "capture-dir", ".", "Directory for trace and tabular files.")
	flag.StringVar(&archiveDir, "archive-dir", "", "Move trace files here after conversion.")
	flag.BoolVar(&debug, "debug", false, "Enable debug logs.")
	flag.StringVar(&modelName, "model", "", "Hosted model name (overrides config.model.name).")
	flag.StringVar(&strategy, "strategy", "", "Question strategy: rows or sql (overrides config.chat.strategy).")
	flag.Parse()

	visited := map[string]bool{}
	flag.CommandLine.Visit(func(f *flag.Flag) {
		visited[f.Name] = true
	})

	// Base config from file (optional)
	fileCfg := &procmon.FileConfig{}
	if configPath != "" {
		cfg, err := procmon.LoadConfig(configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		fileCfg = cfg
	}

	// Merge config + CLI overrides
	finalDBFolder := fileCfg.Database.Folder
	finalDBPrefix := fileCfg.Database.Prefix
	if visited["db-folder"] {
		finalDBFolder = dbFolder
	}
	if visited["db-prefix"] {
		finalDBPrefix = dbPrefix
	}
	finalDB := fileCfg.DB
	if finalDB == "" || visited["db"] {
		finalDB = dbPath
	}

	finalProcmon := fileCfg.Capture.ProcmonPath
	if finalProcmon == "" || visited["procmon"] {
		finalProcmon = procmonPath
	}
	finalCaptureDir := fileCfg.Capture.Dir
	if finalCaptureDir == "" || visited["capture-dir"] {
		finalCaptureDir = captureDir
	}
	finalArchiveDir := fileCfg.Capture.ArchiveDir
	if visited["archive-dir"] {
		finalArchiveDir = archiveDir
	}
	finalDebug := fileCfg.Debug
	if visited["debug"] {
		finalDebug = debug
	}

	modelCfg := fileCfg.Model
	if modelCfg.Name == "" {
		modelCfg.Name = procmon.DefaultModel
	}
	if visited["model"] {
		modelCfg.Name = modelName
	}
	if modelCfg.BaseURL == "" {
		modelCfg.BaseURL = procmon.DefaultBaseURL
	}
	if modelCfg.APIKeyEnv == "" {
		modelCfg.APIKeyEnv = "ANTHROPIC_API_KEY"
	}
	if modelCfg.MaxTokens <= 0 {
		modelCfg.MaxTokens = 4096
	}
	if v := os.Getenv("ANTHROPIC_MODEL"); v != "" && !visited["model"] && fileCfg.Model.Name == "" {
		modelCfg.Name = v
	}

	chatCfg := fileCfg.Chat
	if visited["strategy"] {
		chatCfg.Strategy = strategy
	}

	runner, err := procmon.NewRunner(procmon.RunnerConfig{
		ProcmonPath: finalProcmon,
		CaptureDir:  finalCaptureDir,
		DBPath:      finalDB,
		DBFolder:    finalDBFolder,
		DBPrefix:    finalDBPrefix,
		ArchiveDir:  finalArchiveDir,
		Debug:       finalDebug,
	})
	if err != nil {
		log.Fatalf("init runner: %v", err)
	}
	defer runner.Close()

	app := &app{
		runner:         runner,
		chat:           procmon.NewChat(&lazyClient{cfg: modelCfg}, chatCfg),
		runtimeSeconds: fileCfg.Capture.RuntimeSeconds,
	}
	defer app.chat.Close()
	app.repl()
}

type app struct {
	runner         *procmon.Runner
	runtimeSeconds int
	chat           *procmon.Chat
	lastCSV        string
}

// lazyClient defers API client construction to the first model call, so
// capture, convert, load, and raw queries all work without a credential
// in the environment.
type lazyClient struct {
	cfg    procmon.ModelConfig
	client procmon.ModelClient
}

func (l *lazyClient) Complete(ctx context.Context, system string, turns []procmon.Turn, maxTokens int) (string, error) {
	if l.client == nil {
		c, err := procmon.NewAnthropicClient(l.cfg)
		if err != nil {
			return "", err
		}
		l.client = c
	}
	return l.client.Complete(ctx, system, turns, maxTokens)
}

func (a *app) repl() {
	fmt.Println(strings.Repeat("=", 60))
	fmt.Println("PROCMON AGENT - Capture, Convert, Analyze")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Println("Type 'help' for commands.")

	sc := bufio.NewScanner(os.Stdin)
	sc.Buffer(make([]byte, 64*1024), 64*1024)
	ctx := context.Background()

	for {
		fmt.Print("> ")
		if !sc.Scan() {
			fmt.Println()
			return
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		verb, rest := splitVerb(line)

		var err error
		switch verb {
		case "quit", "exit", "q":
			return
		case "help":
			printHelp()
		case "start":
			err = a.cmdStart(rest)
		case "stop":
			err = a.cmdStop(ctx)
		case "convert":
			err = a.cmdConvert(ctx, rest)
		case "load":
			err = a.cmdLoad(rest)
		case "chat", "ask":
			err = a.cmdChat(ctx, rest)
		case "analyze":
			err = a.cmdAnalyze(ctx, rest)
		case "search":
			err = a.cmdSearch(ctx, rest)
		case "sql":
			err = a.cmdSQL(rest)
		case "summary":
			err = a.cmdSummary(rest)
		case "stats":
			err = a.cmdStats()
		case "inspect":
			err = a.cmdInspect(rest)
		case "report":
			err = a.cmdReport(rest)
		case "clear":
			a.chat.Clear()
			fmt.Println("[conversation cleared]")
		default:
			fmt.Printf("unknown command %q, type 'help'\n", verb)
		}
		// a failed command ends at the prompt, never the process
		if err != nil {
			fmt.Printf("[error] %v\n", err)
		}
	}
}

func splitVerb(line string) (string, string) {
	parts := strings.SplitN(line, " ", 2)
	verb := strings.ToLower(parts[0])
	rest := ""
	if len(parts) == 2 {
		rest = strings.TrimSpace(parts[1])
	}
	return verb, rest
}

func printHelp() {
	fmt.Print(`Commands:
  start [scenario] [seconds]   Start a capture (scenarios: malware,
                               privilege_escalation, file_tracking,
                               network, software_install, custom)
  stop                         Stop the capture, finalize the trace
  convert <trace.pml> [process-filter]
                               Convert a trace to tabular form
  load <file.csv>              Load a tabular file for analysis
  chat <question>              Ask the model about the loaded capture
  analyze <registry|files|network|processes|tasks> [question]
                               Category-focused analysis
  search <pattern> [question]  Ask about events with matching paths
  sql <query>                  Run a read-only query directly
  summary [process-filter]     Local categorized summary, no model call
  stats                        Loaded capture statistics
  inspect [n | catalog.db]     List cataloged conversions
  report [out.xlsx]            Write a multi-sheet Excel report
  clear                        Forget the conversation, keep the data
  quit                         Exit
`)
}

func (a *app) cmdStart(rest string) error {
	fields := strings.Fields(rest)
	scenario := procmon.ScenarioCustom
	runtime := a.runtimeSeconds
	if len(fields) > 0 {
		scenario = procmon.ParseScenario(fields[0])
	}
	if len(fields) > 1 {
		n, err := strconv.Atoi(fields[1])
		if err != nil {
			return fmt.Errorf("runtime seconds: %v", err)
		}
		runtime = n
	}
	sess, err := a.runner.StartCapture(scenario, runtime)
	if err != nil {
		return err
	}
	fmt.Printf("[capture started] scenario=%s trace=%s\n", sess.Scenario, sess.PMLPath)
	return nil
}

func (a *app) cmdStop(ctx context.Context) error {
	pml, err := a.runner.StopCapture(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("[capture stopped] trace=%s\n", pml)
	fmt.Printf("Next: convert %s\n", pml)
	return nil
}

func (a *app) cmdConvert(ctx context.Context, rest string) error {
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return fmt.Errorf("usage: convert <trace.pml> [process-filter]")
	}
	opts := procmon.ExportOptions{}
	if len(fields) > 1 {
		opts.ProcessName = fields[1]
	}
	if len(fields) > 2 {
		opts.Scenario = procmon.ParseScenario(fields[2])
	}
	csvPath, rows, err := a.runner.Convert(ctx, fields[0], opts, "")
	if err != nil {
		return err
	}
	a.lastCSV = csvPath
	fmt.Printf("[converted] %s (%d rows)\n", csvPath, rows)
	fmt.Printf("Next: load %s\n", csvPath)
	return nil
}

func (a *app) cmdLoad(rest string) error {
	if rest == "" {
		if a.lastCSV == "" {
			return fmt.Errorf("usage: load <file.csv>")
		}
		rest = a.lastCSV
	}
	if err := a.chat.Load(rest); err != nil {
		return err
	}
	a.lastCSV = rest
	fmt.Printf("[loaded] %s\n", rest)
	return nil
}

func (a *app) cmdChat(ctx context.Context, question string) error {
	if question == "" {
		return fmt.Errorf("usage: chat <question>")
	}
	answer, err := a.chat.Ask(ctx, question)
	if err != nil {
		return err
	}
	fmt.Println("\n" + answer)
	return nil
}

func (a *app) cmdAnalyze(ctx context.Context, rest string) error {
	verb, question := splitVerb(rest)
	var topic procmon.QuestionTopic
	switch verb {
	case "registry":
		topic = procmon.TopicRegistry
	case "files":
		topic = procmon.TopicFiles
	case "network":
		topic = procmon.TopicNetwork
	case "processes":
		topic = procmon.TopicProcesses
	case "tasks":
		topic = procmon.TopicTasks
	default:
		return fmt.Errorf("usage: analyze <registry|files|network|processes|tasks> [question]")
	}
	answer, err := a.chat.AskTopic(ctx, topic, question)
	if err != nil {
		return err
	}
	fmt.Println("\n" + answer)
	return nil
}

func (a *app) cmdSearch(ctx context.Context, rest string) error {
	pattern, question := splitVerb(rest)
	if pattern == "" {
		return fmt.Errorf("usage: search <pattern> [question]")
	}
	answer, err := a.chat.Search(ctx, pattern, question)
	if err != nil {
		return err
	}
	fmt.Println("\n" + answer)
	return nil
}

func (a *app) cmdSQL(query string) error {
	if query == "" {
		return fmt.Errorf("usage: sql <query>")
	}
	res, err := a.chat.RawQuery(query)
	if err != nil {
		return err
	}
	fmt.Println(strings.Join(res.Columns, " | "))
	for _, row := range res.Rows {
		fmt.Println(strings.Join(row, " | "))
	}
	fmt.Printf("(%d rows)\n", len(res.Rows))
	return nil
}

func (a *app) cmdSummary(rest string) error {
	if a.lastCSV == "" {
		return fmt.Errorf("no tabular file (convert or load one first)")
	}
	s, err := procmon.Summarize(a.lastCSV, rest)
	if err != nil {
		return err
	}
	fmt.Print(s.Render())
	return nil
}

func (a *app) cmdStats() error {
	if !a.chat.Loaded() {
		return procmon.ErrNoCapture
	}
	res, err := a.chat.RawQuery(
		`SELECT Operation, COUNT(*) AS n FROM events GROUP BY Operation ORDER BY n DESC LIMIT 15`)
	if err != nil {
		return err
	}
	fmt.Printf("File: %s\n", a.chat.CSVPath())
	fmt.Println("Top operations:")
	for _, row := range res.Rows {
		fmt.Printf("  %s: %s\n", row[0], row[1])
	}
	return nil
}

func (a *app) cmdInspect(rest string) error {
	limit := 20
	dbPath := ""
	if rest != "" {
		if n, err := strconv.Atoi(rest); err == nil {
			limit = n
		} else {
			// non-numeric argument is a catalog file from an earlier month
			dbPath = rest
		}
	}
	var captures []procmon.Capture
	var err error
	if dbPath != "" {
		captures, err = procmon.CapturesFrom(dbPath, limit)
	} else {
		captures, err = a.runner.Captures(limit)
	}
	if err != nil {
		return err
	}
	if len(captures) == 0 {
		fmt.Println("no cataloged conversions")
		return nil
	}
	for _, c := range captures {
		fmt.Printf("%s  rows=%d  scenario=%s  %s\n",
			c.ConvertedAt.Format("2006-01-02 15:04:05"), c.RowCount, c.Scenario, c.CSVPath)
	}
	return nil
}

func (a *app) cmdReport(rest string) error {
	if a.lastCSV == "" {
		return fmt.Errorf("no tabular file (convert or load one first)")
	}
	out, err := procmon.WriteReport(a.lastCSV, rest)
	if err != nil {
		return err
	}
	fmt.Printf("[report written] %s\n", out)
	return nil
}
