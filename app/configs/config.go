package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

type Config struct {
	Bot         BotConfig           `json:"bot"`
	Server      ServerConfig        `json:"server"`
	Extractor   ExtractorConfig     `json:"extractor"`
	Remind      RemindConfig        `json:"remind"`
	Departments map[string][]string `json:"departments"`
	Admin       AdminConfig         `json:"admin"`
}

type BotConfig struct {
	Name    string `json:"name"`
	DataDir string `json:"data_dir"`
	LogDir  string `json:"log_dir"`
}

type ServerConfig struct {
	Port         int    `json:"port"`
	PushURL      string `json:"push_url"`
	PushTokenEnv string `json:"push_token_env"`
}

type ExtractorConfig struct {
	BaseURL    string `json:"base_url"`
	APIKeyEnv  string `json:"api_key_env"`
	Model      string `json:"model"`
	TimeoutSec int    `json:"timeout_sec"`
}

type RemindConfig struct {
	Enabled bool   `json:"enabled"`
	Cron    string `json:"cron"`
}

type AdminConfig struct {
	BootstrapSuperAdmins []string `json:"bootstrap_super_admins"`
}

type Manager struct {
	path string
	mu   sync.RWMutex
	cfg  Config
}

func DefaultPath() string {
	return filepath.Join("config", "config.json")
}

func NewManager(path string) (*Manager, error) {
	cfg := defaultConfig()
	mgr := &Manager{
		path: path,
		cfg:  cfg,
	}
	if err := mgr.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}
	if err := mgr.save(); err != nil {
		return nil, err
	}
	return mgr, nil
}

func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) Update(apply func(*Config)) (Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	apply(&m.cfg)
	applyDefaults(&m.cfg)
	if err := m.saveLocked(); err != nil {
		return Config{}, err
	}
	return m.cfg, nil
}

// DepartmentScopes returns the scope keys mapped to a department, nil when
// the department is unknown.
func (m *Manager) DepartmentScopes(department string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	scopes := m.cfg.Departments[strings.TrimSpace(department)]
	if len(scopes) == 0 {
		return nil
	}
	out := make([]string, len(scopes))
	copy(out, scopes)
	return out
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return err
	}
	var fileCfg Config
	if err := json.Unmarshal(data, &fileCfg); err != nil {
		return err
	}
	m.cfg = fileCfg
	applyDefaults(&m.cfg)
	return nil
}

func (m *Manager) save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked()
}

func (m *Manager) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m.cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.path, data, 0644)
}

func defaultConfig() Config {
	cfg := Config{
		Bot: BotConfig{
			Name:    "Minuteman",
			DataDir: "data",
			LogDir:  "logs",
		},
		Server: ServerConfig{
			Port:         8090,
			PushTokenEnv: "MINUTEMAN_PUSH_TOKEN",
		},
		Extractor: ExtractorConfig{
			APIKeyEnv:  "MINUTEMAN_API_KEY",
			Model:      "gpt-4o-mini",
			TimeoutSec: 30,
		},
		Remind: RemindConfig{
			Enabled: true,
			Cron:    "0 9 * * 1-5",
		},
		Departments: map[string][]string{},
	}
	applyDefaults(&cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Bot.Name) == "" {
		cfg.Bot.Name = "Minuteman"
	}
	if strings.TrimSpace(cfg.Bot.DataDir) == "" {
		cfg.Bot.DataDir = "data"
	}
	if strings.TrimSpace(cfg.Bot.LogDir) == "" {
		cfg.Bot.LogDir = "logs"
	}
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8090
	}
	if strings.TrimSpace(cfg.Server.PushTokenEnv) == "" {
		cfg.Server.PushTokenEnv = "MINUTEMAN_PUSH_TOKEN"
	}
	if strings.TrimSpace(cfg.Extractor.APIKeyEnv) == "" {
		cfg.Extractor.APIKeyEnv = "MINUTEMAN_API_KEY"
	}
	if strings.TrimSpace(cfg.Extractor.Model) == "" {
		cfg.Extractor.Model = "gpt-4o-mini"
	}
	if cfg.Extractor.TimeoutSec <= 0 {
		cfg.Extractor.TimeoutSec = 30
	}
	if strings.TrimSpace(cfg.Remind.Cron) == "" {
		cfg.Remind.Cron = "0 9 * * 1-5"
	}
	if cfg.Departments == nil {
		cfg.Departments = map[string][]string{}
	}
}
