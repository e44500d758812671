// Package config turns viper settings into the immutable Config value
// shared by every tracelink command.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/spf13/viper"

	"github.com/joescharf/tracelink/internal/issuekey"
	"github.com/joescharf/tracelink/internal/models"
)

// Key policies for events that reference several issues.
const (
	KeyPolicyAll   = "all"
	KeyPolicyFirst = "first"
)

// Jira authentication schemes.
const (
	AuthBasic  = "basic"
	AuthBearer = "bearer"
)

// ErrTrackerNotConfigured is returned by RequireTracker when the Jira
// connection settings are incomplete.
var ErrTrackerNotConfigured = errors.New("jira is not configured (set jira.base_url and jira.token)")

// Config is read once at startup. Slices are unexported and copied on
// access so a Config can be shared freely between goroutines.
type Config struct {
	prefixes []string
	grammar  *issuekey.Grammar

	DBPath      string          `json:"db_path"`
	Log         LogConfig       `json:"log"`
	Jira        JiraConfig      `json:"jira"`
	Reconcile   ReconcileConfig `json:"reconcile"`
	Server      ServerConfig    `json:"server"`
	OTelEnabled bool            `json:"otel_enabled"`
	DaysBack    int             `json:"days_back"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

func (c LogConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Level, validation.Required, validation.In("debug", "info", "warn", "error")),
		validation.Field(&c.Format, validation.Required, validation.In("auto", "json", "text")),
	)
}

// JiraConfig holds tracker connection settings. Transition values may be a
// transition id or a transition name; empty means "never transition".
type JiraConfig struct {
	BaseURL            string `json:"base_url"`
	Email              string `json:"email"`
	Token              string `json:"token"`
	Auth               string `json:"auth"`
	TransitionInReview string `json:"transition_in_review"`
	TransitionDone     string `json:"transition_done"`
	StatusInReview     string `json:"status_in_review"`
}

func (c JiraConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.BaseURL, is.URL),
		validation.Field(&c.Auth, validation.Required, validation.In(AuthBasic, AuthBearer)),
		validation.Field(&c.Email, is.Email, validation.By(c.requireEmail)),
	)
}

func (c JiraConfig) requireEmail(value interface{}) error {
	email, _ := value.(string)
	if c.Auth == AuthBasic && c.Token != "" && email == "" {
		return errors.New("is required for basic authentication")
	}
	return nil
}

// Configured reports whether enough settings exist to talk to Jira.
func (c JiraConfig) Configured() bool {
	return c.BaseURL != "" && c.Token != ""
}

// Transition returns the configured transition for a target state.
func (c JiraConfig) Transition(target models.TransitionState) (string, bool) {
	var v string
	switch target {
	case models.StateInReview:
		v = c.TransitionInReview
	case models.StateDone:
		v = c.TransitionDone
	}
	return v, v != ""
}

type RetryConfig struct {
	InitialInterval time.Duration `json:"initial_interval"`
	MaxInterval     time.Duration `json:"max_interval"`
	Multiplier      float64       `json:"multiplier"`
	MaxAttempts     int           `json:"max_attempts"`
}

func (c RetryConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.InitialInterval, validation.Required, validation.Min(10*time.Millisecond), validation.Max(time.Minute)),
		validation.Field(&c.MaxInterval, validation.Required, validation.Min(c.InitialInterval)),
		validation.Field(&c.Multiplier, validation.Required, validation.Min(1.0), validation.Max(10.0)),
		validation.Field(&c.MaxAttempts, validation.Required, validation.Min(1), validation.Max(20)),
	)
}

type ReconcileConfig struct {
	KeyPolicy    string        `json:"key_policy"`
	IncludeTitle bool          `json:"include_title"`
	Comments     bool          `json:"comments"`
	Concurrency  int           `json:"concurrency"`
	CallTimeout  time.Duration `json:"call_timeout"`
	Retry        RetryConfig   `json:"retry"`
}

func (c ReconcileConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.KeyPolicy, validation.Required, validation.In(KeyPolicyAll, KeyPolicyFirst)),
		validation.Field(&c.Concurrency, validation.Required, validation.Min(1), validation.Max(64)),
		validation.Field(&c.CallTimeout, validation.Required, validation.Min(time.Second), validation.Max(time.Minute)),
		validation.Field(&c.Retry),
	)
}

type ServerConfig struct {
	Addr           string        `json:"addr"`
	WebhookSecret  string        `json:"webhook_secret"`
	RequestTimeout time.Duration `json:"request_timeout"`
}

func (c ServerConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Addr, validation.Required),
		validation.Field(&c.RequestTimeout, validation.Required, validation.Min(time.Second)),
	)
}

// SetDefaults registers default values and the JIRA_* environment aliases
// used by existing CI workflows.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("project_keys", []string{"SECO"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "auto")
	v.SetDefault("jira.base_url", "")
	v.SetDefault("jira.email", "")
	v.SetDefault("jira.token", "")
	v.SetDefault("jira.auth", AuthBasic)
	v.SetDefault("jira.transition_in_review", "")
	v.SetDefault("jira.transition_done", "")
	v.SetDefault("jira.status_in_review", "In Review")
	v.SetDefault("reconcile.key_policy", KeyPolicyAll)
	v.SetDefault("reconcile.include_title", false)
	v.SetDefault("reconcile.comments", true)
	v.SetDefault("reconcile.concurrency", 4)
	v.SetDefault("reconcile.call_timeout", 20*time.Second)
	v.SetDefault("reconcile.retry.initial_interval", time.Second)
	v.SetDefault("reconcile.retry.max_interval", 30*time.Second)
	v.SetDefault("reconcile.retry.multiplier", 2.0)
	v.SetDefault("reconcile.retry.max_attempts", 5)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.webhook_secret", "")
	v.SetDefault("server.request_timeout", 60*time.Second)
	v.SetDefault("otel.enabled", false)
	v.SetDefault("metrics.days_back", 30)

	_ = v.BindEnv("jira.base_url", "TRACELINK_JIRA_BASE_URL", "JIRA_BASE_URL")
	_ = v.BindEnv("jira.email", "TRACELINK_JIRA_EMAIL", "JIRA_USER_EMAIL")
	_ = v.BindEnv("jira.token", "TRACELINK_JIRA_TOKEN", "JIRA_API_TOKEN")
	_ = v.BindEnv("jira.transition_in_review", "TRACELINK_JIRA_TRANSITION_IN_REVIEW", "JIRA_TRANSITION_IN_REVIEW")
	_ = v.BindEnv("jira.transition_done", "TRACELINK_JIRA_TRANSITION_DONE", "JIRA_TRANSITION_DONE")
	_ = v.BindEnv("metrics.days_back", "TRACELINK_METRICS_DAYS_BACK", "DAYS_BACK")
}

// Load converts viper settings into a validated Config. All validation
// problems are returned together.
func Load(v *viper.Viper) (Config, error) {
	c := Config{
		prefixes: splitList(v.GetStringSlice("project_keys")),
		DBPath:   v.GetString("db_path"),
		Log: LogConfig{
			Level:  strings.ToLower(v.GetString("log.level")),
			Format: strings.ToLower(v.GetString("log.format")),
		},
		Jira: JiraConfig{
			BaseURL:            strings.TrimRight(v.GetString("jira.base_url"), "/"),
			Email:              v.GetString("jira.email"),
			Token:              v.GetString("jira.token"),
			Auth:               strings.ToLower(v.GetString("jira.auth")),
			TransitionInReview: v.GetString("jira.transition_in_review"),
			TransitionDone:     v.GetString("jira.transition_done"),
			StatusInReview:     v.GetString("jira.status_in_review"),
		},
		Reconcile: ReconcileConfig{
			KeyPolicy:    strings.ToLower(v.GetString("reconcile.key_policy")),
			IncludeTitle: v.GetBool("reconcile.include_title"),
			Comments:     v.GetBool("reconcile.comments"),
			Concurrency:  v.GetInt("reconcile.concurrency"),
			CallTimeout:  v.GetDuration("reconcile.call_timeout"),
			Retry: RetryConfig{
				InitialInterval: v.GetDuration("reconcile.retry.initial_interval"),
				MaxInterval:     v.GetDuration("reconcile.retry.max_interval"),
				Multiplier:      v.GetFloat64("reconcile.retry.multiplier"),
				MaxAttempts:     v.GetInt("reconcile.retry.max_attempts"),
			},
		},
		Server: ServerConfig{
			Addr:           v.GetString("server.addr"),
			WebhookSecret:  v.GetString("server.webhook_secret"),
			RequestTimeout: v.GetDuration("server.request_timeout"),
		},
		OTelEnabled: v.GetBool("otel.enabled"),
		DaysBack:    v.GetInt("metrics.days_back"),
	}

	if err := c.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}

	g, err := issuekey.NewGrammar(c.prefixes)
	if err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	c.grammar = g
	return c, nil
}

// Validate checks every section and returns a validation.Errors map keyed
// by setting name.
func (c Config) Validate() error {
	errs := validation.Errors{}
	err := validation.ValidateStruct(&c,
		validation.Field(&c.Log),
		validation.Field(&c.Jira),
		validation.Field(&c.Reconcile),
		validation.Field(&c.Server),
		validation.Field(&c.DaysBack, validation.Min(0)),
	)
	if err != nil {
		var fieldErrs validation.Errors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		for k, e := range fieldErrs {
			errs[k] = e
		}
	}
	errs["project_keys"] = validateProjectKeys(c.prefixes)
	return errs.Filter()
}

func validateProjectKeys(prefixes []string) error {
	if len(prefixes) == 0 {
		return errors.New("at least one project key is required")
	}
	for _, p := range prefixes {
		if !issuekey.ValidPrefix(p) {
			return fmt.Errorf("%q must be 2-10 uppercase letters or digits", p)
		}
	}
	return nil
}

// ProjectKeys returns a copy of the configured issue key prefixes.
func (c Config) ProjectKeys() []string {
	return append([]string(nil), c.prefixes...)
}

// Grammar returns the key grammar built from ProjectKeys. It is nil on a
// zero Config.
func (c Config) Grammar() *issuekey.Grammar {
	return c.grammar
}

// RequireTracker returns ErrTrackerNotConfigured unless Jira can be reached.
func (c Config) RequireTracker() error {
	if !c.Jira.Configured() {
		return ErrTrackerNotConfigured
	}
	return nil
}

// Redacted returns a copy safe to print or log.
func (c Config) Redacted() Config {
	r := c
	r.prefixes = c.ProjectKeys()
	r.Jira.Token = mask(c.Jira.Token)
	r.Server.WebhookSecret = mask(c.Server.WebhookSecret)
	return r
}

// Values returns the redacted settings flattened to dotted keys, in the
// same order as `tracelink config show`.
func (c Config) Values() []Setting {
	r := c.Redacted()
	return []Setting{
		{"project_keys", strings.Join(r.prefixes, ",")},
		{"db_path", r.DBPath},
		{"log.level", r.Log.Level},
		{"log.format", r.Log.Format},
		{"jira.base_url", r.Jira.BaseURL},
		{"jira.email", r.Jira.Email},
		{"jira.token", r.Jira.Token},
		{"jira.auth", r.Jira.Auth},
		{"jira.transition_in_review", r.Jira.TransitionInReview},
		{"jira.transition_done", r.Jira.TransitionDone},
		{"jira.status_in_review", r.Jira.StatusInReview},
		{"reconcile.key_policy", r.Reconcile.KeyPolicy},
		{"reconcile.include_title", fmt.Sprint(r.Reconcile.IncludeTitle)},
		{"reconcile.comments", fmt.Sprint(r.Reconcile.Comments)},
		{"reconcile.concurrency", fmt.Sprint(r.Reconcile.Concurrency)},
		{"reconcile.call_timeout", r.Reconcile.CallTimeout.String()},
		{"reconcile.retry.initial_interval", r.Reconcile.Retry.InitialInterval.String()},
		{"reconcile.retry.max_interval", r.Reconcile.Retry.MaxInterval.String()},
		{"reconcile.retry.multiplier", fmt.Sprint(r.Reconcile.Retry.Multiplier)},
		{"reconcile.retry.max_attempts", fmt.Sprint(r.Reconcile.Retry.MaxAttempts)},
		{"server.addr", r.Server.Addr},
		{"server.webhook_secret", r.Server.WebhookSecret},
		{"server.request_timeout", r.Server.RequestTimeout.String()},
		{"otel.enabled", fmt.Sprint(r.OTelEnabled)},
		{"metrics.days_back", fmt.Sprint(r.DaysBack)},
	}
}

// Setting is one flattened configuration value.
type Setting struct {
	Key   string
	Value string
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}

// splitList accepts both YAML lists and comma or space separated env values.
func splitList(in []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, item := range in {
		for _, p := range strings.FieldsFunc(item, func(r rune) bool { return r == ',' || r == ' ' }) {
			p = strings.ToUpper(strings.TrimSpace(p))
			if p == "" || seen[p] {
				continue
			}
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}
