package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// SettlementConfig holds the tuning knobs of the settlement pipeline. It is
// read from settlement.yml and reloaded when the file changes.
type SettlementConfig struct {
	StorageTimeout     time.Duration `mapstructure:"storageTimeout"`
	LeaseTTL           time.Duration `mapstructure:"leaseTTL"`
	SignatureTolerance time.Duration `mapstructure:"signatureTolerance"`
	NotifyTimeout      time.Duration `mapstructure:"notifyTimeout"`
	Retry              RetryConfig   `mapstructure:"retry"`
}

type RetryConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	BaseBackoff time.Duration `mapstructure:"baseBackoff"`
	MaxBackoff  time.Duration `mapstructure:"maxBackoff"`
	BatchSize   int           `mapstructure:"batchSize"`
	MaxAttempts int           `mapstructure:"maxAttempts"`
}

func DefaultSettlementConfig() SettlementConfig {
	return SettlementConfig{
		StorageTimeout:     5 * time.Second,
		LeaseTTL:           2 * time.Minute,
		SignatureTolerance: 5 * time.Minute,
		NotifyTimeout:      3 * time.Second,
		Retry: RetryConfig{
			Interval:    30 * time.Second,
			BaseBackoff: 30 * time.Second,
			MaxBackoff:  10 * time.Minute,
			BatchSize:   50,
			MaxAttempts: 20,
		},
	}
}

type SettlementConfigHolder struct {
	current atomic.Value // holds SettlementConfig
}

// NewStaticSettlementConfigHolder returns a holder that never reloads.
func NewStaticSettlementConfigHolder(cfg SettlementConfig) *SettlementConfigHolder {
	holder := &SettlementConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewSettlementConfigHolder() (*SettlementConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("settlement")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/gocart")
	v.AddConfigPath(".")

	v.SetEnvPrefix("GOCART")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	cfg := DefaultSettlementConfig()
	if err := v.UnmarshalKey("settlement", &cfg); err != nil {
		return nil, err
	}
	if err := validateSettlementConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticSettlementConfigHolder(cfg)
	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated := DefaultSettlementConfig()
		if err := v.UnmarshalKey("settlement", &updated); err != nil {
			log.Printf("[settlement-config] reload failed: %v", err)
			return
		}
		if err := validateSettlementConfig(updated); err != nil {
			log.Printf("[settlement-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[settlement-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *SettlementConfigHolder) Get() SettlementConfig {
	if h == nil {
		return DefaultSettlementConfig()
	}
	return h.current.Load().(SettlementConfig)
}

func validateSettlementConfig(cfg SettlementConfig) error {
	if cfg.StorageTimeout <= 0 {
		return errors.New("settlement.storageTimeout must be positive")
	}
	if cfg.LeaseTTL <= 0 {
		return errors.New("settlement.leaseTTL must be positive")
	}
	if cfg.Retry.Interval <= 0 {
		return errors.New("settlement.retry.interval must be positive")
	}
	if cfg.Retry.BaseBackoff <= 0 || cfg.Retry.MaxBackoff < cfg.Retry.BaseBackoff {
		return errors.New("settlement.retry backoff bounds are invalid")
	}
	if cfg.Retry.BatchSize <= 0 {
		return errors.New("settlement.retry.batchSize must be positive")
	}
	if cfg.Retry.MaxAttempts <= 0 {
		return errors.New("settlement.retry.maxAttempts must be positive")
	}
	return nil
}
