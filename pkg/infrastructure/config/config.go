package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

// Config is built once in main and injected everywhere. Adapters never read
// environment state at call time; in particular the webhook signing secrets
// only exist here.
type Config struct {
	HTTPAddr      string `envconfig:"HTTP_ADDR" default:":8080"`
	MySQLDSN      string `envconfig:"MYSQL_DSN" default:"payments:payments@tcp(localhost:3306)/payments?parseTime=true"`
	MigrationsDir string `envconfig:"MIGRATIONS_DIR" default:"migrations"`
	FrontendURL   string `envconfig:"FRONTEND_URL" default:"http://localhost:3000"`

	ResetTokenTTLHours int `envconfig:"RESET_TOKEN_TTL_HOURS" default:"48"`

	EffectsQueueSize     int `envconfig:"EFFECTS_QUEUE_SIZE" default:"256"`
	EffectsJobTimeoutSec int `envconfig:"EFFECTS_JOB_TIMEOUT_SEC" default:"30"`

	Stripe      StripeConfig
	PayU        PayUConfig
	SMTP        SMTPConfig
	Fakturownia FakturowniaConfig
}

type StripeConfig struct {
	SecretKey     string `envconfig:"STRIPE_SECRET_KEY"`
	WebhookSecret string `envconfig:"STRIPE_WEBHOOK_SECRET"`
	APIURL        string `envconfig:"STRIPE_API_URL"`
}

type PayUConfig struct {
	APIURL       string `envconfig:"PAYU_API_URL" default:"https://secure.payu.com"`
	PosID        string `envconfig:"PAYU_POS_ID"`
	ClientID     string `envconfig:"PAYU_CLIENT_ID"`
	ClientSecret string `envconfig:"PAYU_CLIENT_SECRET"`
	SecondKey    string `envconfig:"PAYU_SECOND_KEY"`
	NotifyURL    string `envconfig:"PAYU_NOTIFY_URL"`
}

type SMTPConfig struct {
	Host     string `envconfig:"SMTP_HOST"`
	Port     int    `envconfig:"SMTP_PORT" default:"587"`
	Username string `envconfig:"SMTP_USERNAME"`
	Password string `envconfig:"SMTP_PASSWORD"`
	From     string `envconfig:"SMTP_FROM"`
}

type FakturowniaConfig struct {
	APIToken  string `envconfig:"FAKTUROWNIA_API_TOKEN"`
	Subdomain string `envconfig:"FAKTUROWNIA_SUBDOMAIN"`

	SellerName        string `envconfig:"FAKTUROWNIA_SELLER_NAME"`
	SellerTaxNo       string `envconfig:"FAKTUROWNIA_SELLER_TAX_NO"`
	SellerStreet      string `envconfig:"FAKTUROWNIA_SELLER_STREET"`
	SellerPostCode    string `envconfig:"FAKTUROWNIA_SELLER_POST_CODE"`
	SellerCity        string `envconfig:"FAKTUROWNIA_SELLER_CITY"`
	SellerCountry     string `envconfig:"FAKTUROWNIA_SELLER_COUNTRY" default:"PL"`
	SellerBank        string `envconfig:"FAKTUROWNIA_SELLER_BANK"`
	SellerBankAccount string `envconfig:"FAKTUROWNIA_SELLER_BANK_ACCOUNT"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "load configuration")
	}
	return &cfg, nil
}

func (c *Config) ResetTokenTTL() time.Duration {
	return time.Duration(c.ResetTokenTTLHours) * time.Hour
}

func (c *Config) EffectsJobTimeout() time.Duration {
	return time.Duration(c.EffectsJobTimeoutSec) * time.Second
}
