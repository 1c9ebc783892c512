package config

import (
	"crypto/ed25519"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/charterhq/charter/internal/common/uuid"
)

// KeyPair holds an Ed25519 key pair.
type KeyPair struct {
	PrivateKey []byte `json:"private_key"`
	PublicKey  []byte `json:"public_key"`
}

// RuntimeConfig holds state generated on first run and persisted across
// restarts: the instance identity and the audit trail signing key.
type RuntimeConfig struct {
	OrchestratorID uuid.UUID `json:"orchestrator_id"`
	LogSigningKey  KeyPair   `json:"log_signing_key"`
}

var runtimeConfig *RuntimeConfig

// GetRuntimeConfig returns the current runtime configuration instance.
func GetRuntimeConfig() *RuntimeConfig {
	return runtimeConfig
}

// GetAuditLogDir returns the directory path for audit trail storage.
func GetAuditLogDir() string {
	return filepath.Join(Config().WorkingDir, "auditlogs")
}

// GetArtifactDir returns the directory path for capture artifacts.
func GetArtifactDir() string {
	return filepath.Join(Config().WorkingDir, "artifacts")
}

// GetRuntimeConfigDir returns the directory path for runtime configuration
// storage. Test mode uses a separate directory for isolation.
func GetRuntimeConfigDir() string {
	if isTestMode {
		return filepath.Join(Config().WorkingDir, "runtime-test")
	}
	return filepath.Join(Config().WorkingDir, "runtime")
}

// RuntimeInit initializes runtime configuration and creates the directories
// the orchestrator writes into. Must be called after configuration loading.
func RuntimeInit() {
	for _, dir := range []string{GetRuntimeConfigDir(), GetAuditLogDir(), GetArtifactDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatal().Err(err).Str("dir", dir).Msg("failed to create runtime directory")
		}
	}
	if err := LoadRuntimeConfig(); err != nil {
		log.Fatal().Err(err).Msg("failed to load runtime config")
	}
}

// LoadRuntimeConfig loads runtime configuration from persistent storage,
// generating a fresh identity and signing key on first run.
func LoadRuntimeConfig() error {
	configPath := filepath.Join(GetRuntimeConfigDir(), "runtime.json")
	runtimeConfig = &RuntimeConfig{}

	if _, err := os.Stat(configPath); err == nil {
		f, err := os.Open(configPath)
		if err != nil {
			return err
		}
		defer f.Close()
		return json.NewDecoder(f).Decode(runtimeConfig)
	}

	runtimeConfig.OrchestratorID = uuid.New()
	key, err := createKeyPair()
	if err != nil {
		return err
	}
	runtimeConfig.LogSigningKey = key
	return saveRuntimeConfig()
}

func saveRuntimeConfig() error {
	configPath := filepath.Join(GetRuntimeConfigDir(), "runtime.json")
	f, err := os.Create(configPath)
	if err != nil {
		log.Error().Err(err).Msg("failed to create runtime config file")
		return err
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(runtimeConfig); err != nil {
		log.Error().Err(err).Msg("failed to encode runtime config")
		return err
	}
	return nil
}

// deleteRuntimeConfig removes the runtime configuration file. Used for
// cleanup during testing.
func deleteRuntimeConfig() {
	os.Remove(filepath.Join(GetRuntimeConfigDir(), "runtime.json"))
}

func createKeyPair() (KeyPair, error) {
	pubKey, privKey, err := ed25519.GenerateKey(nil)
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{PrivateKey: privKey, PublicKey: pubKey}, nil
}

var isTestMode bool

// SetTestMode switches runtime configuration to test-specific directories.
func SetTestMode(testMode bool) {
	isTestMode = testMode
}
