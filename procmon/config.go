package procmon

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type DatabaseConfig struct {
	Folder string `yaml:"folder"`
	Prefix string `yaml:"prefix"`
}

// ModelConfig configures the hosted model used for chat and SQL
// translation. The API key itself never lives in the YAML file; only the
// name of the environment variable that holds it does.
type ModelConfig struct {
	Name      string `yaml:"name"`
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
	MaxTokens int    `yaml:"max_tokens"`
}

type ChatConfig struct {
	// Strategy picks how questions are answered: "rows" hands filtered
	// rows to the model, "sql" asks the model for a query first.
	Strategy string `yaml:"strategy"`
	// RetryFailedSQL controls whether a failed generated query is sent
	// back to the model once for correction before the error is surfaced.
	RetryFailedSQL bool `yaml:"retry_failed_sql"`
	// HistoryExchanges is the number of past question/answer pairs kept
	// as model context. Older pairs are dropped oldest-first.
	HistoryExchanges int `yaml:"history_exchanges"`
	// MaxRows caps how many matching rows a keyword search hands to the
	// model as context.
	MaxRows int `yaml:"max_rows"`
}

type CaptureConfig struct {
	// ProcmonPath is the Process Monitor executable used for capture and
	// for trace-to-tabular conversion.
	ProcmonPath string `yaml:"procmon_path"`
	// Dir is where trace and tabular files are written.
	Dir string `yaml:"dir"`
	// RuntimeSeconds bounds an unattended capture; 0 means run until
	// stopped explicitly.
	RuntimeSeconds int `yaml:"runtime_seconds"`
	// ArchiveDir, when set, receives source trace files after a
	// successful conversion instead of leaving them in Dir.
	ArchiveDir string `yaml:"archive_dir"`
}

type FileConfig struct {
	// Legacy single DB path (kept for compatibility). Prefer Database for
	// monthly rolling.
	DB string `yaml:"db"`

	// Database config for the capture catalog (recommended).
	Database DatabaseConfig `yaml:"database"`

	Job   string `yaml:"job"`
	Debug bool   `yaml:"debug"`

	Capture CaptureConfig `yaml:"capture"`
	Model   ModelConfig   `yaml:"model"`
	Chat    ChatConfig    `yaml:"chat"`
}

func LoadConfig(path string) (*FileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg FileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *FileConfig) applyDefaults() {
	if strings.TrimSpace(c.Model.Name) == "" {
		c.Model.Name = DefaultModel
	}
	if strings.TrimSpace(c.Model.BaseURL) == "" {
		c.Model.BaseURL = DefaultBaseURL
	}
	if strings.TrimSpace(c.Model.APIKeyEnv) == "" {
		c.Model.APIKeyEnv = "ANTHROPIC_API_KEY"
	}
	if c.Model.MaxTokens <= 0 {
		c.Model.MaxTokens = 4096
	}
	if strings.TrimSpace(c.Chat.Strategy) == "" {
		c.Chat.Strategy = StrategyRows
	}
	if c.Chat.HistoryExchanges <= 0 {
		c.Chat.HistoryExchanges = 4
	}
	if c.Chat.MaxRows <= 0 {
		c.Chat.MaxRows = 150
	}
	if strings.TrimSpace(c.Capture.ProcmonPath) == "" {
		c.Capture.ProcmonPath = "Procmon.exe"
	}
	if strings.TrimSpace(c.Capture.Dir) == "" {
		c.Capture.Dir = "."
	}
}

// CatalogPath resolves the catalog DB file. The rolling form places one
// file per month under Database.Folder; the legacy DB field wins when set.
func (c *FileConfig) CatalogPath(now time.Time) string {
	if strings.TrimSpace(c.DB) != "" {
		return c.DB
	}
	return rollingCatalogPath(c.Database.Folder, c.Database.Prefix, now)
}

// rollingCatalogPath names the monthly catalog file. The prefix carries
// its own separator, so "captures_" yields captures_202608.db.
func rollingCatalogPath(folder, prefix string, now time.Time) string {
	if strings.TrimSpace(folder) == "" {
		folder = "."
	}
	if strings.TrimSpace(prefix) == "" {
		prefix = "captures_"
	}
	return filepath.Join(folder, prefix+now.Format("200601")+".db")
}
