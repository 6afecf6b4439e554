package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// CompaniondConfig holds the daemon's environment-level configuration.
// Everything user-editable (characters, modes, semantic maps, voice
// toggle) lives in the settings files instead, so the settings editor
// can rewrite it while the daemon runs.
type CompaniondConfig struct {
	HTTPAddr string

	ResourceDir string
	SpriteDir   string
	ModelDir    string

	MQTTBrokerURL   string
	MQTTClientID    string
	MQTTUsername    string
	MQTTPassword    string
	MQTTTopicPrefix string

	RequestTimeout time.Duration
	EventBusSize   int
	DisableAudio   bool
}

func LoadCompaniondConfig() CompaniondConfig {
	baseDir := getenvDefault("COMPANION_BASE_DIR", ".")
	return CompaniondConfig{
		HTTPAddr:        getenvDefault("COMPANION_HTTP_ADDR", ":9030"),
		ResourceDir:     getenvDefault("COMPANION_RESOURCE_DIR", filepath.Join(baseDir, "Resource")),
		SpriteDir:       getenvDefault("COMPANION_SPRITE_DIR", filepath.Join(baseDir, "Sprites")),
		ModelDir:        getenvDefault("COMPANION_MODEL_DIR", filepath.Join(baseDir, "Model")),
		MQTTBrokerURL:   os.Getenv("MQTT_BROKER_URL"),
		MQTTClientID:    getenvDefault("COMPANION_MQTT_CLIENT_ID", "companiond"),
		MQTTUsername:    os.Getenv("MQTT_USERNAME"),
		MQTTPassword:    os.Getenv("MQTT_PASSWORD"),
		MQTTTopicPrefix: getenvDefault("MQTT_TOPIC_PREFIX", "companion"),
		RequestTimeout:  time.Duration(getenvIntDefault("COMPANION_REQUEST_TIMEOUT_SECONDS", 60)) * time.Second,
		EventBusSize:    getenvIntDefault("COMPANION_EVENT_BUS_SIZE", 256),
		DisableAudio:    os.Getenv("COMPANION_DISABLE_AUDIO") != "",
	}
}

// Derived resource paths. The file names are part of the on-disk
// contract shared with the settings editor and the browsing panels.

func (c CompaniondConfig) SettingsPath() string { return filepath.Join(c.ResourceDir, "settings.json") }

func (c CompaniondConfig) DefaultsPath() string {
	return filepath.Join(c.ResourceDir, "default_settings.json")
}

func (c CompaniondConfig) CredentialsPath() string {
	return filepath.Join(c.ResourceDir, "api_credentials.json")
}

func (c CompaniondConfig) SupplementPath() string {
	return filepath.Join(c.ResourceDir, "Assets", "supplement.json")
}

func (c CompaniondConfig) VoiceDir() string { return filepath.Join(c.ResourceDir, "output_audio") }

func (c CompaniondConfig) HistoryPath() string { return filepath.Join(c.ResourceDir, "chat_history.txt") }

func (c CompaniondConfig) FavoritesPath() string { return filepath.Join(c.ResourceDir, "favorites.txt") }

func (c CompaniondConfig) ModelPath() string { return filepath.Join(c.ModelDir, "cat.model3.json") }

func getenvDefault(key, val string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return val
}

func getenvIntDefault(key string, val int) int {
	v := os.Getenv(key)
	if v == "" {
		return val
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return val
	}
	return n
}
