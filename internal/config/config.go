// Package config provides configuration types and loading for autonomy.
package config

// Config is the root configuration struct.
// Top-level groups: Paths, Run, Scoring, Hygiene, Channels, StopLoss, Inbound,
// Kafka, Report, Metrics, Scheduler.
type Config struct {
	Paths     PathsConfig     `json:"paths"`
	Run       RunConfig       `json:"run"`
	Scoring   ScoringConfig   `json:"scoring"`
	Hygiene   HygieneConfig   `json:"hygiene"`
	Channels  ChannelsConfig  `json:"channels"`
	StopLoss  StopLossConfig  `json:"stopLoss"`
	Inbound   InboundConfig   `json:"inbound"`
	Kafka     KafkaConfig     `json:"kafka"`
	Report    ReportConfig    `json:"report"`
	Metrics   MetricsConfig   `json:"metrics"`
	Scheduler SchedulerConfig `json:"scheduler"`
}

// ---------------------------------------------------------------------------
// Paths – filesystem locations
// ---------------------------------------------------------------------------

// PathsConfig groups all filesystem path settings.
type PathsConfig struct {
	DBPath       string `json:"dbPath" envconfig:"DB_PATH"`
	AuditLogPath string `json:"auditLogPath" envconfig:"AUDIT_LOG_PATH"`
	StatePath    string `json:"statePath" envconfig:"STATE_PATH"`
	LockPath     string `json:"lockPath" envconfig:"LOCK_PATH"`
}

// ---------------------------------------------------------------------------
// Run – orchestration behaviour
// ---------------------------------------------------------------------------

// Run modes.
const (
	ModeLive   = "live"
	ModeDryRun = "dry-run"
)

// RunConfig controls a single orchestration run.
type RunConfig struct {
	Mode string `json:"mode" envconfig:"MODE"`
	// Priority is the channel tie-break order when a lead qualifies for more
	// than one channel in the same run.
	Priority            []string `json:"priority" envconfig:"PRIORITY"`
	DispatchConcurrency int      `json:"dispatchConcurrency" envconfig:"DISPATCH_CONCURRENCY"`
	DispatchRatePerSec  float64  `json:"dispatchRatePerSec" envconfig:"DISPATCH_RATE_PER_SEC"`
	LeadSources         []string `json:"leadSources" envconfig:"LEAD_SOURCES"`
	MaxLeads            int      `json:"maxLeads" envconfig:"MAX_LEADS"`
}

// ---------------------------------------------------------------------------
// Scoring – lead quality weights
// ---------------------------------------------------------------------------

// ScoringConfig holds the additive completeness weights.
type ScoringConfig struct {
	Company  int `json:"company" envconfig:"COMPANY"`
	Phone    int `json:"phone" envconfig:"PHONE"`
	Service  int `json:"service" envconfig:"SERVICE"`
	Location int `json:"location" envconfig:"LOCATION"`
	Email    int `json:"email" envconfig:"EMAIL"`
}

// ---------------------------------------------------------------------------
// Hygiene – contact validation
// ---------------------------------------------------------------------------

// HygieneConfig controls contact normalization and validation.
type HygieneConfig struct {
	CheckMX             bool     `json:"checkMx" envconfig:"CHECK_MX"`
	MXTimeoutSeconds    int      `json:"mxTimeoutSeconds" envconfig:"MX_TIMEOUT_SECONDS"`
	ExcludedDomains     []string `json:"excludedDomains" envconfig:"EXCLUDED_DOMAINS"`
	AllowedEmailMethods []string `json:"allowedEmailMethods" envconfig:"ALLOWED_EMAIL_METHODS"`
	ExcludeRoleInboxes  bool     `json:"excludeRoleInboxes" envconfig:"EXCLUDE_ROLE_INBOXES"`
}

// ---------------------------------------------------------------------------
// Channels – outreach transports and their policy thresholds
// ---------------------------------------------------------------------------

// ChannelsConfig contains all channel configurations.
type ChannelsConfig struct {
	Email  EmailConfig  `json:"email"`
	SMS    SMSConfig    `json:"sms"`
	Voice  VoiceConfig  `json:"voice"`
	Twilio TwilioConfig `json:"twilio"`
}

// ChannelPolicy holds the thresholds every enabled channel must declare.
// None of these have defaults; Validate rejects zero values.
type ChannelPolicy struct {
	Enabled        bool    `json:"enabled" envconfig:"ENABLED"`
	MinScore       int     `json:"minScore" envconfig:"MIN_SCORE"`
	WindowDays     int     `json:"windowDays" envconfig:"WINDOW_DAYS"`
	MinSample      int     `json:"minSample" envconfig:"MIN_SAMPLE"`
	MaxFailureRate float64 `json:"maxFailureRate" envconfig:"MAX_FAILURE_RATE"`
	MinDaysBetween int     `json:"minDaysBetween" envconfig:"MIN_DAYS_BETWEEN"`
	MaxSteps       int     `json:"maxSteps" envconfig:"MAX_STEPS"`
	MaxPerRun      int     `json:"maxPerRun" envconfig:"MAX_PER_RUN"`
	TimeoutSeconds int     `json:"timeoutSeconds" envconfig:"TIMEOUT_SECONDS"`
}

// MessageTemplate is a text/template pair for one sequence step.
type MessageTemplate struct {
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body"`
}

// EmailConfig configures the email channel and its SMTP relay.
type EmailConfig struct {
	ChannelPolicy
	SMTPHost       string            `json:"smtpHost" envconfig:"SMTP_HOST"`
	SMTPPort       int               `json:"smtpPort" envconfig:"SMTP_PORT"`
	SMTPUsername   string            `json:"smtpUsername" envconfig:"SMTP_USERNAME"`
	SMTPPassword   string            `json:"smtpPassword" envconfig:"SMTP_PASSWORD"`
	From           string            `json:"from" envconfig:"FROM"`
	ReplyTo        string            `json:"replyTo" envconfig:"REPLY_TO"`
	UnsubscribeURL string            `json:"unsubscribeUrl" envconfig:"UNSUBSCRIBE_URL"`
	MailingAddress string            `json:"mailingAddress" envconfig:"MAILING_ADDRESS"`
	Templates      []MessageTemplate `json:"templates" ignored:"true"`
}

// BusinessHours restricts phone channels to local working hours of the lead.
type BusinessHours struct {
	StartHour       int    `json:"startHour" envconfig:"START_HOUR"`
	EndHour         int    `json:"endHour" envconfig:"END_HOUR"`
	AllowWeekends   bool   `json:"allowWeekends" envconfig:"ALLOW_WEEKENDS"`
	DefaultTimezone string `json:"defaultTimezone" envconfig:"DEFAULT_TIMEZONE"`
}

// SMSConfig configures the SMS channel.
type SMSConfig struct {
	ChannelPolicy
	FromNumber    string            `json:"fromNumber" envconfig:"FROM_NUMBER"`
	Templates     []MessageTemplate `json:"templates" ignored:"true"`
	BusinessHours BusinessHours     `json:"businessHours"`
}

// VoiceConfig configures the voice channel.
type VoiceConfig struct {
	ChannelPolicy
	FromNumber          string `json:"fromNumber" envconfig:"FROM_NUMBER"`
	TwimlURL            string `json:"twimlUrl" envconfig:"TWIML_URL"`
	PollIntervalSeconds int    `json:"pollIntervalSeconds" envconfig:"POLL_INTERVAL_SECONDS"`
	// OutcomeMap extends the built-in carrier disposition table. Values must
	// be one of spoke, voicemail, no_answer, failed.
	OutcomeMap    map[string]string `json:"outcomeMap"`
	BusinessHours BusinessHours     `json:"businessHours"`
}

// TwilioConfig holds the carrier credentials shared by SMS and voice.
type TwilioConfig struct {
	AccountSID string `json:"accountSid" envconfig:"ACCOUNT_SID"`
	AuthToken  string `json:"authToken" envconfig:"AUTH_TOKEN"`
	APIBase    string `json:"apiBase" envconfig:"API_BASE"`
}

// ---------------------------------------------------------------------------
// StopLoss – paid channel governor
// ---------------------------------------------------------------------------

// StopLossConfig configures the zero-outcome stop-loss governor.
type StopLossConfig struct {
	Enabled           bool `json:"enabled" envconfig:"ENABLED"`
	MaxZeroRuns       int  `json:"maxZeroRuns" envconfig:"MAX_ZERO_RUNS"`
	MaxZeroDays       int  `json:"maxZeroDays" envconfig:"MAX_ZERO_DAYS"`
	AllowFreeChannels bool `json:"allowFreeChannels" envconfig:"ALLOW_FREE_CHANNELS"`
}

// ---------------------------------------------------------------------------
// Inbound – reply / bounce / opt-out signals
// ---------------------------------------------------------------------------

// InboundConfig configures inbound signal sources.
type InboundConfig struct {
	DropFile string `json:"dropFile" envconfig:"DROP_FILE"`
}

// ---------------------------------------------------------------------------
// Kafka – ledger fan-out and signal intake
// ---------------------------------------------------------------------------

// KafkaConfig configures optional Kafka integration.
type KafkaConfig struct {
	Brokers            []string `json:"brokers" envconfig:"BROKERS"`
	LedgerTopic        string   `json:"ledgerTopic" envconfig:"LEDGER_TOPIC"`
	SignalsTopic       string   `json:"signalsTopic" envconfig:"SIGNALS_TOPIC"`
	ReportTopic        string   `json:"reportTopic" envconfig:"REPORT_TOPIC"`
	GroupID            string   `json:"groupId" envconfig:"GROUP_ID"`
	IdleTimeoutSeconds int      `json:"idleTimeoutSeconds" envconfig:"IDLE_TIMEOUT_SECONDS"`
}

// Enabled reports whether any broker is configured.
func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

// ---------------------------------------------------------------------------
// Report – operator run summary
// ---------------------------------------------------------------------------

// ReportConfig configures report delivery.
type ReportConfig struct {
	Path         string `json:"path" envconfig:"PATH"`
	SlackToken   string `json:"slackToken" envconfig:"SLACK_TOKEN"`
	SlackChannel string `json:"slackChannel" envconfig:"SLACK_CHANNEL"`
	SlackAPIURL  string `json:"slackApiUrl" envconfig:"SLACK_API_URL"`
}

// ---------------------------------------------------------------------------
// Metrics – prometheus exposition
// ---------------------------------------------------------------------------

// MetricsConfig configures metrics output.
type MetricsConfig struct {
	TextfilePath string `json:"textfilePath" envconfig:"TEXTFILE_PATH"`
	ListenAddr   string `json:"listenAddr" envconfig:"LISTEN_ADDR"`
}

// ---------------------------------------------------------------------------
// Scheduler – daemon mode
// ---------------------------------------------------------------------------

// SchedulerConfig contains settings for the cron scheduler.
type SchedulerConfig struct {
	Cron         string `json:"cron" envconfig:"CRON"`
	TickSeconds  int    `json:"tickSeconds" envconfig:"TICK_SECONDS"`
	RunOnStartup bool   `json:"runOnStartup" envconfig:"RUN_ON_STARTUP"`
}

// DefaultConfig returns infrastructure defaults. Policy thresholds are left
// at zero so that a config without them fails validation.
func DefaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			DBPath:       "~/.autonomy/autonomy.db",
			AuditLogPath: "~/.autonomy/audit.jsonl",
			StatePath:    "~/.autonomy/stop_loss.json",
			LockPath:     "~/.autonomy/run.lock",
		},
		Run: RunConfig{
			Mode:                ModeDryRun,
			Priority:            []string{"voice", "sms", "email"},
			DispatchConcurrency: 4,
			MaxLeads:            500,
		},
		Scoring: ScoringConfig{
			Company:  20,
			Phone:    15,
			Service:  10,
			Location: 10,
			Email:    20,
		},
		Hygiene: HygieneConfig{
			CheckMX:             false,
			MXTimeoutSeconds:    3,
			AllowedEmailMethods: []string{"direct", "scrape"},
			ExcludeRoleInboxes:  true,
		},
		Channels: ChannelsConfig{
			Email: EmailConfig{SMTPPort: 587},
			SMS: SMSConfig{
				BusinessHours: BusinessHours{StartHour: 9, EndHour: 17, DefaultTimezone: "America/Chicago"},
			},
			Voice: VoiceConfig{
				PollIntervalSeconds: 5,
				BusinessHours:       BusinessHours{StartHour: 9, EndHour: 17, DefaultTimezone: "America/Chicago"},
			},
			Twilio: TwilioConfig{APIBase: "https://api.twilio.com"},
		},
		StopLoss: StopLossConfig{
			Enabled:           true,
			AllowFreeChannels: true,
		},
		Inbound: InboundConfig{
			DropFile: "~/.autonomy/signals.jsonl",
		},
		Kafka: KafkaConfig{
			LedgerTopic:        "autonomy.ledger",
			SignalsTopic:       "autonomy.signals",
			ReportTopic:        "autonomy.reports",
			GroupID:            "autonomy",
			IdleTimeoutSeconds: 3,
		},
		Report: ReportConfig{
			Path: "~/.autonomy/reports/latest.txt",
		},
		Scheduler: SchedulerConfig{
			Cron:        "0 15 * * 1-5",
			TickSeconds: 60,
		},
	}
}
