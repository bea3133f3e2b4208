package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime settings for the bot process. Everything is
// sourced from environment variables; defaults cover local development.
type Config struct {
	Discord struct {
		BotToken string
	}
	Agent struct {
		BaseURL      string
		ProjectID    string
		Region       string
		AppID        string
		DeploymentID string
		AuthToken    string
		TimeoutMs    int
		UseStreaming bool
	}
	Speech struct {
		STTURL       string
		TTSURL       string
		AuthToken    string
		LanguageCode string
		VoiceName    string
		TimeoutMs    int
	}
	Voice struct {
		AutoJoin        bool
		IdleTimeout     time.Duration
		SilenceWindow   time.Duration
		JoinReadyWait   time.Duration
		ReconnectWait   time.Duration
		SaveAudioDir    string
		SaveAudioMaxAge time.Duration
	}
	Server struct {
		HealthPort int
	}
}

// AppResource returns the agent app resource name, e.g.
// projects/p/locations/us/apps/a.
func (c Config) AppResource() string {
	return fmt.Sprintf("projects/%s/locations/%s/apps/%s",
		c.Agent.ProjectID, c.Agent.Region, c.Agent.AppID)
}

// DeploymentResource returns the full deployment resource name, or empty
// when no deployment is configured.
func (c Config) DeploymentResource() string {
	if c.Agent.DeploymentID == "" {
		return ""
	}
	return c.AppResource() + "/deployments/" + c.Agent.DeploymentID
}

// SessionResource returns the full session resource name for a session ID.
func (c Config) SessionResource(sessionID string) string {
	return c.AppResource() + "/sessions/" + sessionID
}

// Load reads configuration from the environment, applies defaults, and
// validates required settings.
func Load() (Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("agent.base_url", "https://ces.googleapis.com/v1beta")
	v.SetDefault("agent.region", "us")
	v.SetDefault("agent.timeout_ms", 30000)
	v.SetDefault("agent.use_streaming", false)
	v.SetDefault("speech.language_code", "en-US")
	v.SetDefault("speech.voice_name", "en-US-Neural2-C")
	v.SetDefault("speech.timeout_ms", 15000)
	v.SetDefault("voice.auto_join", true)
	v.SetDefault("voice.idle_timeout_s", 30)
	v.SetDefault("voice.silence_window_ms", 1000)
	v.SetDefault("voice.join_ready_wait_s", 30)
	v.SetDefault("voice.reconnect_wait_s", 5)
	v.SetDefault("voice.save_audio_max_age_h", 24)
	v.SetDefault("server.health_port", 8080)

	// Map envs
	v.BindEnv("discord.bot_token", "DISCORD_BOT_TOKEN")
	v.BindEnv("agent.base_url", "AGENT_BASE_URL")
	v.BindEnv("agent.project_id", "GCP_PROJECT_ID")
	v.BindEnv("agent.region", "GCP_REGION")
	v.BindEnv("agent.app_id", "AGENT_APP_ID")
	v.BindEnv("agent.deployment_id", "AGENT_DEPLOYMENT_ID")
	v.BindEnv("agent.auth_token", "AGENT_AUTH_TOKEN")
	v.BindEnv("agent.timeout_ms", "AGENT_TIMEOUT_MS")
	v.BindEnv("agent.use_streaming", "AGENT_USE_STREAMING")
	v.BindEnv("speech.stt_url", "STT_URL")
	v.BindEnv("speech.tts_url", "TTS_URL")
	v.BindEnv("speech.auth_token", "SPEECH_AUTH_TOKEN")
	v.BindEnv("speech.language_code", "SPEECH_LANGUAGE_CODE")
	v.BindEnv("speech.voice_name", "SPEECH_VOICE_NAME")
	v.BindEnv("speech.timeout_ms", "SPEECH_TIMEOUT_MS")
	v.BindEnv("voice.auto_join", "VOICE_AUTO_JOIN")
	v.BindEnv("voice.idle_timeout_s", "VOICE_IDLE_TIMEOUT_S")
	v.BindEnv("voice.silence_window_ms", "VOICE_SILENCE_WINDOW_MS")
	v.BindEnv("voice.join_ready_wait_s", "VOICE_JOIN_READY_WAIT_S")
	v.BindEnv("voice.reconnect_wait_s", "VOICE_RECONNECT_WAIT_S")
	v.BindEnv("voice.save_audio_dir", "SAVE_AUDIO_DIR")
	v.BindEnv("voice.save_audio_max_age_h", "SAVE_AUDIO_MAX_AGE_H")
	v.BindEnv("server.health_port", "HEALTH_PORT")

	var c Config
	c.Discord.BotToken = v.GetString("discord.bot_token")
	c.Agent.BaseURL = strings.TrimRight(v.GetString("agent.base_url"), "/")
	c.Agent.ProjectID = v.GetString("agent.project_id")
	c.Agent.Region = v.GetString("agent.region")
	c.Agent.AppID = v.GetString("agent.app_id")
	c.Agent.DeploymentID = v.GetString("agent.deployment_id")
	c.Agent.AuthToken = v.GetString("agent.auth_token")
	c.Agent.TimeoutMs = v.GetInt("agent.timeout_ms")
	c.Agent.UseStreaming = v.GetBool("agent.use_streaming")
	c.Speech.STTURL = v.GetString("speech.stt_url")
	c.Speech.TTSURL = v.GetString("speech.tts_url")
	c.Speech.AuthToken = v.GetString("speech.auth_token")
	c.Speech.LanguageCode = v.GetString("speech.language_code")
	c.Speech.VoiceName = v.GetString("speech.voice_name")
	c.Speech.TimeoutMs = v.GetInt("speech.timeout_ms")
	c.Voice.AutoJoin = v.GetBool("voice.auto_join")
	c.Voice.IdleTimeout = time.Duration(v.GetInt("voice.idle_timeout_s")) * time.Second
	c.Voice.SilenceWindow = time.Duration(v.GetInt("voice.silence_window_ms")) * time.Millisecond
	c.Voice.JoinReadyWait = time.Duration(v.GetInt("voice.join_ready_wait_s")) * time.Second
	c.Voice.ReconnectWait = time.Duration(v.GetInt("voice.reconnect_wait_s")) * time.Second
	c.Voice.SaveAudioDir = strings.TrimSpace(v.GetString("voice.save_audio_dir"))
	c.Voice.SaveAudioMaxAge = time.Duration(v.GetInt("voice.save_audio_max_age_h")) * time.Hour
	c.Server.HealthPort = v.GetInt("server.health_port")

	if c.Discord.BotToken == "" {
		return c, fmt.Errorf("DISCORD_BOT_TOKEN is required")
	}
	if c.Agent.ProjectID == "" {
		return c, fmt.Errorf("GCP_PROJECT_ID is required")
	}
	if c.Agent.AppID == "" {
		return c, fmt.Errorf("AGENT_APP_ID is required")
	}
	if c.Agent.TimeoutMs <= 0 {
		return c, fmt.Errorf("AGENT_TIMEOUT_MS must be positive")
	}
	return c, nil
}
