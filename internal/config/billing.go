package config

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// BillingConfig carries shop-wide billing defaults used when an organization
// has no explicit setting of its own.
type BillingConfig struct {
	// DefaultTaxRateBps applies when an agreement is created without a tax
	// rate, in basis points (825 = 8.25%).
	DefaultTaxRateBps int64 `mapstructure:"defaultTaxRateBps"`
	// DefaultLaborRate is the fallback hourly labor rate in minor units.
	DefaultLaborRate int64 `mapstructure:"defaultLaborRate"`
	// InvoiceNumberBase is the first number issued for an organization with
	// no prior invoices and no configured starting offset.
	InvoiceNumberBase int64 `mapstructure:"invoiceNumberBase"`
	// InvoicePrefix is the fallback invoice number prefix template. The
	// {year} placeholder is resolved at issuance time.
	InvoicePrefix string `mapstructure:"invoicePrefix"`
}

func DefaultBillingConfig() BillingConfig {
	return BillingConfig{
		DefaultTaxRateBps: 0,
		DefaultLaborRate:  9500,
		InvoiceNumberBase: 1001,
		InvoicePrefix:     "INV-{year}-",
	}
}

// BillingConfigHolder exposes the current billing defaults and hot-reloads
// them when the mounted config file changes.
type BillingConfigHolder struct {
	current atomic.Value // holds BillingConfig
}

func NewBillingConfigHolder(log *zap.Logger) (*BillingConfigHolder, error) {
	log = log.Named("billing.config")
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/torqvoice/config") // Volume-mounted config
	v.AddConfigPath("/etc/torqvoice")            // System config
	v.AddConfigPath(".")                         // Current directory (dev mode)

	v.SetEnvPrefix("TORQVOICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultBillingConfig()
	v.SetDefault("billing.defaultTaxRateBps", defaults.DefaultTaxRateBps)
	v.SetDefault("billing.defaultLaborRate", defaults.DefaultLaborRate)
	v.SetDefault("billing.invoiceNumberBase", defaults.InvoiceNumberBase)
	v.SetDefault("billing.invoicePrefix", defaults.InvoicePrefix)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg BillingConfig
	if err := v.UnmarshalKey("billing", &cfg); err != nil {
		return nil, err
	}
	if err := validateBillingConfig(cfg); err != nil {
		return nil, err
	}

	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated BillingConfig
		if err := v.UnmarshalKey("billing", &updated); err != nil {
			log.Error("billing config reload failed", zap.Error(err))
			return
		}
		if err := validateBillingConfig(updated); err != nil {
			log.Warn("invalid billing config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("billing config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

// NewStaticBillingConfigHolder wraps a fixed config with no file watching.
func NewStaticBillingConfigHolder(cfg BillingConfig) *BillingConfigHolder {
	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *BillingConfigHolder) Get() BillingConfig {
	return h.current.Load().(BillingConfig)
}

func validateBillingConfig(cfg BillingConfig) error {
	if cfg.DefaultTaxRateBps < 0 {
		return errors.New("billing.defaultTaxRateBps cannot be negative")
	}
	if cfg.DefaultLaborRate < 0 {
		return errors.New("billing.defaultLaborRate cannot be negative")
	}
	if cfg.InvoiceNumberBase <= 0 {
		return errors.New("billing.invoiceNumberBase must be positive")
	}
	if strings.TrimSpace(cfg.InvoicePrefix) == "" {
		return errors.New("billing.invoicePrefix cannot be empty")
	}
	return nil
}
