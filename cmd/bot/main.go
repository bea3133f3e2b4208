package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Yash-Kavaiya/cx-agent-studio-channels/internal/agent"
	"github.com/Yash-Kavaiya/cx-agent-studio-channels/internal/chat"
	"github.com/Yash-Kavaiya/cx-agent-studio-channels/internal/config"
	"github.com/Yash-Kavaiya/cx-agent-studio-channels/internal/logging"
	"github.com/Yash-Kavaiya/cx-agent-studio-channels/internal/stt"
	"github.com/Yash-Kavaiya/cx-agent-studio-channels/internal/tts"
	"github.com/Yash-Kavaiya/cx-agent-studio-channels/internal/voice"
)

// discordSender adapts a discordgo session to the chat handler.
type discordSender struct {
	s *discordgo.Session
}

func (d discordSender) Send(channelID, content string) error {
	_, err := d.s.ChannelMessageSend(channelID, content)
	return err
}

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	sugar := logging.Init()
	if sugar == nil {
		l, _ := zap.NewProduction()
		sugar = l.Sugar()
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.FatalExitf("config load failed", "err", err)
	}

	dg, err := discordgo.New("Bot " + cfg.Discord.BotToken)
	if err != nil {
		logging.FatalExitf("discordgo.New failed", "err", err)
	}

	// Guilds + voice states drive the voice pipeline; messages + content
	// drive the text path. MessageContent is privileged and must be enabled
	// in the Developer Portal.
	dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent

	agentTimeout := time.Duration(cfg.Agent.TimeoutMs) * time.Millisecond
	var agentClient agent.Caller
	if cfg.Agent.UseStreaming {
		agentClient = agent.NewStreamClient(cfg.Agent.BaseURL, cfg.AppResource(),
			cfg.DeploymentResource(), cfg.Agent.AuthToken, agentTimeout)
	} else {
		agentClient = agent.NewClient(cfg.Agent.BaseURL, cfg.AppResource(),
			cfg.DeploymentResource(), cfg.Agent.AuthToken, agentTimeout)
	}

	speechTimeout := time.Duration(cfg.Speech.TimeoutMs) * time.Millisecond
	recognizer := stt.NewClient(cfg.Speech.STTURL, cfg.Speech.AuthToken,
		cfg.Speech.LanguageCode, speechTimeout)
	synthesizer := tts.NewClient(cfg.Speech.TTSURL, cfg.Speech.AuthToken,
		cfg.Speech.LanguageCode, cfg.Speech.VoiceName, speechTimeout)

	mgr := voice.NewManager(voice.NewDiscordTransport(dg),
		cfg.Voice.JoinReadyWait, cfg.Voice.ReconnectWait, cfg.Voice.SilenceWindow)
	roster := voice.NewDiscordRoster(dg)
	coord := voice.NewCoordinator(mgr, voice.NewTranscriber(recognizer),
		agentClient, synthesizer, roster, cfg.Voice.AutoJoin, cfg.Voice.IdleTimeout)

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	if cfg.Voice.SaveAudioDir != "" {
		dumper := &voice.Dumper{Dir: cfg.Voice.SaveAudioDir}
		coord.SetDumper(dumper)
		wg.Add(1)
		dumper.StartCleaner(shutdownCtx, &wg, cfg.Voice.SaveAudioMaxAge, time.Hour)
		sugar.Infow("utterance dumping enabled", "dir", cfg.Voice.SaveAudioDir)
	}

	chatHandler := chat.NewHandler(agentClient, discordSender{s: dg})

	dg.AddHandler(func(s *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
		if s.State != nil && s.State.User != nil && vs.UserID == s.State.User.ID {
			// Our own voice state: an empty channel means the gateway
			// dropped us; give the connection its self-heal window.
			if vs.ChannelID == "" {
				go mgr.HandleDisconnect(vs.GuildID)
			}
			return
		}
		go coord.HandleVoiceState(vs.GuildID, vs.ChannelID, roster.IsBot(vs.UserID))
	})

	dg.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil {
			return
		}
		if s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
			return
		}
		go chatHandler.HandleMessage(context.Background(),
			m.ChannelID, m.Author.ID, m.Content, m.Author.Bot)
	})

	if err := dg.Open(); err != nil {
		logging.FatalExitf("discord session open failed", "err", err)
	}
	sugar.Infow("discord session opened", "intents", dg.Identify.Intents)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"ok"}`)
	})
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HealthPort),
		Handler: mux,
	}
	go func() {
		sugar.Infow("health server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Errorw("health server failed", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	sugar.Infow("shutdown signal received, closing resources")

	shutdownCancel()
	mgr.DestroyAll()
	if err := dg.Close(); err != nil {
		sugar.Warnw("discord session close error", "err", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		sugar.Warnw("health server shutdown error", "err", err)
	}
	wg.Wait()
	sugar.Infow("shutdown complete")
}
