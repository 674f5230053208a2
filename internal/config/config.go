package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/chai-dev682/plivo-interview-phone-agent/pkg/logger"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress string
	PublicHost  string // external hostname Plivo connects back to; empty = derive from request
	Debug       bool

	DatabaseURL string

	PlivoAuthID    string
	PlivoAuthToken string

	OpenAIKey           string
	OpenAIRealtimeModel string
	OpenAIEvalModel     string

	DeepgramKey string

	SupabaseURL    string
	SupabaseKey    string
	SupabaseBucket string

	WebhookURL     string
	EndPhrasesFile string

	Agent AgentProfile
}

// AgentProfile is the per-call configuration snapshot. It is read once at
// startup and handed to every session as an immutable value, so a config
// change never mutates a call that is already in flight.
type AgentProfile struct {
	WelcomePrompt     string
	InterviewerPrompt string
	GoodbyePrompt     string
	Voice             string

	KeepAliveInterval   time.Duration
	InactivityTimeout   time.Duration
	EndingGrace         time.Duration
	MaxRecordingSeconds int
}

const (
	defaultWelcomePrompt = "Greet the candidate warmly in {language}. Introduce yourself as a recruiter " +
		"conducting their interview today and ask them to tell you their name. Keep it brief and welcoming. " +
		"Do not mention being an assistant or an AI model."

	defaultInterviewerPrompt = "You are a recruiter conducting a phone interview in {language}. " +
		"Ask each question you are given one at a time. Acknowledge the candidate's answer briefly, " +
		"but do not provide feedback or follow-up questions. After all questions are asked, thank the " +
		"candidate and end the call."

	defaultGoodbyePrompt = "Thank the candidate for their time in {language} and say goodbye. " +
		"Keep it to one or two short sentences."
)

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		logger.Base().Info("no .env file loaded")
	}

	cfg := Config{
		HTTPAddress:         getenv("HTTP_ADDRESS", ":8080"),
		PublicHost:          os.Getenv("PUBLIC_HOST"),
		Debug:               os.Getenv("DEBUG") == "true",
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		PlivoAuthID:         os.Getenv("PLIVO_AUTH_ID"),
		PlivoAuthToken:      os.Getenv("PLIVO_AUTH_TOKEN"),
		OpenAIKey:           os.Getenv("OPENAI_API_KEY"),
		OpenAIRealtimeModel: getenv("OPENAI_REALTIME_MODEL", "gpt-4o-realtime-preview"),
		OpenAIEvalModel:     getenv("OPENAI_EVAL_MODEL", "gpt-4o"),
		DeepgramKey:         os.Getenv("DEEPGRAM_API_KEY"),
		SupabaseURL:         os.Getenv("SUPABASE_URL"),
		SupabaseKey:         os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
		SupabaseBucket:      getenv("SUPABASE_BUCKET", "call-recordings"),
		WebhookURL:          os.Getenv("RESULT_WEBHOOK_URL"),
		EndPhrasesFile:      os.Getenv("END_PHRASES_FILE"),
		Agent: AgentProfile{
			WelcomePrompt:       getenv("AGENT_WELCOME_PROMPT", defaultWelcomePrompt),
			InterviewerPrompt:   getenv("AGENT_INTERVIEWER_PROMPT", defaultInterviewerPrompt),
			GoodbyePrompt:       getenv("AGENT_GOODBYE_PROMPT", defaultGoodbyePrompt),
			Voice:               getenv("AGENT_VOICE", "alloy"),
			KeepAliveInterval:   getdur("KEEPALIVE_INTERVAL", 25*time.Second),
			InactivityTimeout:   getdur("INACTIVITY_TIMEOUT", 30*time.Second),
			EndingGrace:         getdur("ENDING_GRACE", 8*time.Second),
			MaxRecordingSeconds: getint("MAX_RECORDING_SECONDS", 600),
		},
	}

	if cfg.PlivoAuthID == "" || cfg.PlivoAuthToken == "" {
		logger.Base().Warn("PLIVO_AUTH_ID/PLIVO_AUTH_TOKEN not set - call recording will not work")
	}
	if cfg.OpenAIKey == "" {
		logger.Base().Warn("OPENAI_API_KEY not set - interview sessions will not work")
	}
	if cfg.DeepgramKey == "" {
		logger.Base().Warn("DEEPGRAM_API_KEY not set - fallback announcements will be silent")
	}
	if cfg.DatabaseURL == "" {
		logger.Base().Warn("DATABASE_URL not set - interview store unavailable")
	}

	logger.Base().Info("config loaded", zap.String("http_address", cfg.HTTPAddress))
	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getdur(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logger.Base().Warn("invalid duration, using default", zap.String("key", key), zap.String("value", v))
		return def
	}
	return d
}

func getint(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logger.Base().Warn("invalid integer, using default", zap.String("key", key), zap.String("value", v))
		return def
	}
	return n
}
