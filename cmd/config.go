package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/joescharf/tracelink/internal/config"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "tracelink"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage tracelink configuration.

Running bare 'tracelink config' is the same as 'tracelink config show'.
Secrets are always masked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# tracelink configuration
# See: tracelink config show (for effective values and sources)

# Issue key prefixes accepted on branches, commits and PR titles
project_keys:
{{- range .ProjectKeys }}
  - {{ . }}
{{- end }}

# SQLite event history used by 'tracelink metrics' (default: ~/.config/tracelink/tracelink.db)
# db_path: {{ .DBPath }}

log:
  # debug, info, warn, error
  level: {{ .LogLevel }}
  # auto (text on a terminal, json otherwise), text or json
  format: {{ .LogFormat }}

jira:
  # Also read from JIRA_BASE_URL, JIRA_USER_EMAIL and JIRA_API_TOKEN
  base_url: "{{ .JiraBaseURL }}"
  email: "{{ .JiraEmail }}"
  # token: set TRACELINK_JIRA_TOKEN or JIRA_API_TOKEN instead of storing it here
  # basic (email + API token) or bearer (personal access token)
  auth: {{ .JiraAuth }}
  # Workflow transition names or IDs; leave empty to skip that transition
  transition_in_review: "{{ .TransitionInReview }}"
  transition_done: "{{ .TransitionDone }}"
  # Status name that counts as "in review" when reading issue state
  status_in_review: "{{ .StatusInReview }}"

reconcile:
  # all: every key referenced by the PR; first: only the first key found
  key_policy: {{ .KeyPolicy }}
  # Also scan the PR title for keys
  include_title: {{ .IncludeTitle }}
  # Post a comment on the issue when a link or transition is written
  comments: {{ .Comments }}
  # Issues reconciled in parallel per event
  concurrency: {{ .Concurrency }}
  # Timeout for each tracker call
  call_timeout: {{ .CallTimeout }}
  retry:
    initial_interval: {{ .RetryInitial }}
    max_interval: {{ .RetryMax }}
    multiplier: {{ .RetryMultiplier }}
    max_attempts: {{ .RetryAttempts }}

server:
  addr: "{{ .ServerAddr }}"
  # webhook_secret: set TRACELINK_SERVER_WEBHOOK_SECRET
  request_timeout: {{ .RequestTimeout }}

otel:
  # Export traces and metrics to stderr
  enabled: {{ .OTelEnabled }}

metrics:
  # Default look-back window for reports
  days_back: {{ .DaysBack }}
`

type configTemplateData struct {
	ProjectKeys        []string
	DBPath             string
	LogLevel           string
	LogFormat          string
	JiraBaseURL        string
	JiraEmail          string
	JiraAuth           string
	TransitionInReview string
	TransitionDone     string
	StatusInReview     string
	KeyPolicy          string
	IncludeTitle       bool
	Comments           bool
	Concurrency        int
	CallTimeout        string
	RetryInitial       string
	RetryMax           string
	RetryMultiplier    float64
	RetryAttempts      int
	ServerAddr         string
	RequestTimeout     string
	OTelEnabled        bool
	DaysBack           int
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	// Build template data from current viper values
	data := configTemplateData{
		ProjectKeys:        viper.GetStringSlice("project_keys"),
		DBPath:             viper.GetString("db_path"),
		LogLevel:           viper.GetString("log.level"),
		LogFormat:          viper.GetString("log.format"),
		JiraBaseURL:        viper.GetString("jira.base_url"),
		JiraEmail:          viper.GetString("jira.email"),
		JiraAuth:           viper.GetString("jira.auth"),
		TransitionInReview: viper.GetString("jira.transition_in_review"),
		TransitionDone:     viper.GetString("jira.transition_done"),
		StatusInReview:     viper.GetString("jira.status_in_review"),
		KeyPolicy:          viper.GetString("reconcile.key_policy"),
		IncludeTitle:       viper.GetBool("reconcile.include_title"),
		Comments:           viper.GetBool("reconcile.comments"),
		Concurrency:        viper.GetInt("reconcile.concurrency"),
		CallTimeout:        viper.GetDuration("reconcile.call_timeout").String(),
		RetryInitial:       viper.GetDuration("reconcile.retry.initial_interval").String(),
		RetryMax:           viper.GetDuration("reconcile.retry.max_interval").String(),
		RetryMultiplier:    viper.GetFloat64("reconcile.retry.multiplier"),
		RetryAttempts:      viper.GetInt("reconcile.retry.max_attempts"),
		ServerAddr:         viper.GetString("server.addr"),
		RequestTimeout:     viper.GetDuration("server.request_timeout").String(),
		OTelEnabled:        viper.GetBool("otel.enabled"),
		DaysBack:           viper.GetInt("metrics.days_back"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	if dryRun {
		ui.DryRunMsg("Would create config file: %s", cfgPath)
		fmt.Fprintln(ui.Out)
		fmt.Fprint(ui.Out, buf.String())
		return nil
	}

	// Create config directory
	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// envAliases lists the variables read in addition to TRACELINK_<KEY>.
var envAliases = map[string]string{
	"jira.base_url":             "JIRA_BASE_URL",
	"jira.email":                "JIRA_USER_EMAIL",
	"jira.token":                "JIRA_API_TOKEN",
	"jira.transition_in_review": "JIRA_TRANSITION_IN_REVIEW",
	"jira.transition_done":      "JIRA_TRANSITION_DONE",
	"metrics.days_back":         "DAYS_BACK",
}

// envVarFor returns the TRACELINK_ variable for a dotted key.
func envVarFor(key string) string {
	return "TRACELINK_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// sourceEnvVar picks the variable that actually supplies key, preferring
// the TRACELINK_ name when both are set.
func sourceEnvVar(key string) string {
	envVar := envVarFor(key)
	if _, set := os.LookupEnv(envVar); set {
		return envVar
	}
	if alias, ok := envAliases[key]; ok {
		if _, set := os.LookupEnv(alias); set {
			return alias
		}
	}
	return envVar
}

func configShowRun() error {
	cfgPath := viper.ConfigFileUsed()
	if cfgPath == "" {
		var err error
		if cfgPath, err = configFilePath(); err != nil {
			return err
		}
	}

	// Check if config file exists
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	c, err := config.Load(viper.GetViper())
	if err != nil {
		ui.Error("%v", err)
		fmt.Fprintln(ui.Out)
		return err
	}

	// Read config file values to determine file source
	fileValues := readConfigFileValues(cfgPath)

	for _, s := range c.Values() {
		fmt.Fprintf(ui.Out, "  %-34s %v  %s\n", s.Key, s.Value, detectSource(s.Key, sourceEnvVar(s.Key), fileValues))
	}

	return nil
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	// Flatten nested keys with dot notation
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set; set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'tracelink config init' first)", cfgPath)
	}

	if dryRun {
		ui.DryRunMsg("Would open %s in %s", cfgPath, editor)
		return nil
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
