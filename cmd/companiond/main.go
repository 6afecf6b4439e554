package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"hionago/internal/assets"
	"hionago/internal/audio"
	"hionago/internal/bus"
	"hionago/internal/config"
	"hionago/internal/domain"
	"hionago/internal/emotion"
	"hionago/internal/llm"
	"hionago/internal/mqtt"
	"hionago/internal/orchestrator"
	"hionago/internal/playback"
	"hionago/internal/script"
	"hionago/internal/settings"
	"hionago/internal/transcript"
	"hionago/internal/tts"
	"hionago/internal/weather"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	cfg := config.LoadCompaniondConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := settings.NewStore(cfg.CredentialsPath(), cfg.DefaultsPath(), cfg.SettingsPath(), logger)
	snap := store.Load()

	resolver := emotion.NewResolver(logger)
	resolver.Rebuild(snap.Roster, snap.SemanticOverrides, cfg.SupplementPath())

	index := assets.NewIndex(cfg.SpriteDir, cfg.ModelDir, cfg.ModelPath(), snap.Roster, snap.AssetDefault, logger)
	table := index.Rebuild()
	if err := store.SaveAssetTable(table); err != nil {
		logger.Warn("persist asset table failed", "error", err)
	}

	httpClient := &http.Client{Timeout: cfg.RequestTimeout}

	tstore := transcript.NewStore(cfg.HistoryPath(), cfg.FavoritesPath(), logger)
	synth := tts.NewSynthesizer(httpClient, cfg.VoiceDir(), store.Current, logger)
	weatherSvc := weather.NewService(httpClient, func() string { return store.Current().City }, logger)

	var player audio.Player = audio.NewOtoPlayer(logger)
	if cfg.DisableAudio {
		player = audio.NullPlayer{}
		logger.Info("audio output disabled")
	}

	evbus := bus.New(cfg.EventBusSize, logger)

	sequencer := playback.NewSequencer(
		synth,
		player,
		evbus.Publish,
		store.VoiceEnabled,
		func() domain.Roster { return store.Current().Roster },
		logger,
	)

	orch := orchestrator.NewService(
		store,
		resolver,
		index,
		tstore,
		sequencer,
		evbus.Publish,
		weatherSvc.Line,
		func(snap settings.Snapshot) orchestrator.ScriptParser {
			return script.NewParser(snap.ResolveAlias, snap.Roster.Default, logger)
		},
		func(snap settings.Snapshot) llm.Provider {
			return llm.NewClient(httpClient, snap.LLMBaseURL, snap.APIKey)
		},
		cfg.RequestTimeout,
		logger,
	)

	var hub *mqtt.Hub
	if cfg.MQTTBrokerURL != "" {
		hub = mqtt.NewHub(mqtt.HubConfig{
			BrokerURL:   cfg.MQTTBrokerURL,
			ClientID:    cfg.MQTTClientID,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
			TopicPrefix: cfg.MQTTTopicPrefix,
		}, sequencer, orch, logger)
		if err := hub.Start(ctx); err != nil {
			logger.Error("start mqtt hub failed", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Info("mqtt disabled, overlay events served over http only")
	}

	go evbus.Run(ctx, func(ev domain.Event) {
		logger.Debug("event", "kind", ev.Kind())
		if hub != nil {
			hub.PublishEvent(ev)
		}
	})

	if err := assets.Watch(ctx, index, logger, func(table assets.Table) {
		if err := store.SaveAssetTable(table); err != nil {
			logger.Warn("persist asset table failed", "error", err)
		}
		evbus.Publish(domain.AssetsRescanned{
			StaticCount: countEntries(table.Static),
			Live2DCount: countEntries(table.Live2D),
		})
	}); err != nil {
		logger.Warn("asset watcher unavailable", "error", err)
	}

	if err := settings.Watch(ctx, store, logger, func(snap settings.Snapshot) {
		resolver.Rebuild(snap.Roster, snap.SemanticOverrides, cfg.SupplementPath())
		index.SetRoster(snap.Roster, snap.AssetDefault)
		if err := store.SaveAssetTable(index.Rebuild()); err != nil {
			logger.Warn("persist asset table failed", "error", err)
		}
		evbus.Publish(domain.SettingsReloaded{})
	}); err != nil {
		logger.Warn("settings watcher unavailable", "error", err)
	}

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Post("/v1/turn", func(w http.ResponseWriter, req *http.Request) {
		var turnReq domain.TurnRequest
		if err := json.NewDecoder(req.Body).Decode(&turnReq); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
			return
		}
		id, err := orch.Submit(turnReq)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"turn_id": id})
	})

	r.Post("/v1/turn/perceive", func(w http.ResponseWriter, req *http.Request) {
		var perceiveReq struct {
			WindowTitle string             `json:"window_title,omitempty"`
			Forced      domain.CharacterID `json:"forced_speaker,omitempty"`
		}
		if req.ContentLength > 0 {
			if err := json.NewDecoder(req.Body).Decode(&perceiveReq); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
				return
			}
		}
		id, err := orch.Submit(domain.TurnRequest{
			Mode:        "short",
			Forced:      perceiveReq.Forced,
			WindowTitle: perceiveReq.WindowTitle,
		})
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"turn_id": id})
	})

	r.Post("/v1/advance", func(w http.ResponseWriter, _ *http.Request) {
		sequencer.Advance()
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Get("/v1/history", func(w http.ResponseWriter, req *http.Request) {
		limit := 50
		if v := req.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = n
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": tstore.ReadEntries(limit)})
	})

	r.Post("/v1/favorites", func(w http.ResponseWriter, _ *http.Request) {
		turn, ok := orch.LastTurn()
		if !ok {
			writeJSON(w, http.StatusConflict, map[string]any{"error": "no completed turn yet"})
			return
		}
		if err := tstore.AppendFavorite(turn.Lines); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "turn_id": turn.ID})
	})

	r.Get("/v1/state", func(w http.ResponseWriter, _ *http.Request) {
		snap := store.Current()
		state := map[string]any{
			"playing":       sequencer.Active(),
			"voice_enabled": store.VoiceEnabled(),
			"asset_mode":    index.Snapshot().ActiveMode,
			"modes":         snap.DialogueModes,
			"characters":    snap.Roster.Characters,
		}
		if turn, ok := orch.LastTurn(); ok {
			state["last_turn_id"] = turn.ID
		}
		writeJSON(w, http.StatusOK, state)
	})

	r.Get("/v1/assets", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, index.Snapshot())
	})

	r.Post("/v1/assets/rescan", func(w http.ResponseWriter, _ *http.Request) {
		table := index.Rebuild()
		if err := store.SaveAssetTable(table); err != nil {
			logger.Warn("persist asset table failed", "error", err)
		}
		evbus.Publish(domain.AssetsRescanned{
			StaticCount: countEntries(table.Static),
			Live2DCount: countEntries(table.Live2D),
		})
		writeJSON(w, http.StatusOK, table)
	})

	r.Post("/v1/voice/clone", func(w http.ResponseWriter, req *http.Request) {
		var cloneReq struct {
			File string `json:"file"`
			Name string `json:"name"`
			Text string `json:"text,omitempty"`
		}
		if err := json.NewDecoder(req.Body).Decode(&cloneReq); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
			return
		}
		if cloneReq.File == "" || cloneReq.Name == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "file and name are required"})
			return
		}
		text := cloneReq.Text
		if text == "" {
			recognized, err := synth.Transcribe(req.Context(), cloneReq.File)
			if err != nil {
				writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error()})
				return
			}
			text = recognized
		}
		uri, err := synth.UploadReferenceVoice(req.Context(), cloneReq.File, cloneReq.Name, text)
		if err != nil {
			writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"uri": uri, "text": text})
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("companiond started", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("received shutdown signal")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	player.Stop()
}

func countEntries(table map[domain.CharacterID]map[string]string) int {
	total := 0
	for _, m := range table {
		total += len(m)
	}
	return total
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
