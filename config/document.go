// Package config loads the core's two config layers: a YAML document
// declaring IMAP accounts and the intent catalog, and an environment-variable
// overlay for connection secrets (broker DSN, object-store credentials). The
// YAML document is validated against a JSON Schema before it is accepted, and
// the intent catalog portion of it can be hot-reloaded from disk without a
// process restart.
package config

import (
	"time"

	"github.com/relaywire/eventcore/imapsource"
	"github.com/relaywire/eventcore/intent"
)

// Document is the on-disk shape of the YAML config file, before it is
// converted into the domain types (imapsource.Account, intent.Entry) the
// rest of the core consumes. Keeping this as its own document type — rather
// than putting yaml tags on the domain structs — mirrors store's
// catalogDocument/intent.Entry split.
type Document struct {
	Accounts []AccountDocument `yaml:"accounts"`
	Catalog  []CatalogDocument `yaml:"catalog"`
	Broker   BrokerDocument    `yaml:"broker"`
	Storage  StorageDocument   `yaml:"object_store"`
}

// AccountDocument is one configured IMAP mailbox.
type AccountDocument struct {
	ID              string `yaml:"id"`
	Name            string `yaml:"name"`
	Active          bool   `yaml:"active"`
	Host            string `yaml:"imap_host"`
	Port            int    `yaml:"imap_port"`
	Username        string `yaml:"imap_user"`
	Password        string `yaml:"imap_password"`
	UseSSL          bool   `yaml:"imap_use_ssl"`
	Folder          string `yaml:"imap_folder"`
	MarkAsRead      bool   `yaml:"imap_mark_as_read"`
	SyncDays        *int   `yaml:"imap_sync_days"`
	UnseenOnly      bool   `yaml:"imap_unseen_only"`
	FetchLimit      int    `yaml:"imap_fetch_limit"`
	IntervalSeconds int    `yaml:"interval_seconds"`
}

// toAccount converts to the imapsource domain type. intervalSeconds of zero
// defaults to 60s.
func (d AccountDocument) toAccount() imapsource.Account {
	interval := time.Duration(d.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return imapsource.Account{
		ID:         d.ID,
		Name:       d.Name,
		Host:       d.Host,
		Port:       d.Port,
		Username:   d.Username,
		Password:   d.Password,
		UseTLS:     d.UseSSL,
		Folder:     d.Folder,
		UnseenOnly: d.UnseenOnly,
		MarkAsRead: d.MarkAsRead,
		SyncDays:   d.SyncDays,
		FetchLimit: d.FetchLimit,
		Interval:   interval,
	}
}

// CatalogDocument is one intent catalog entry, as authored in YAML.
type CatalogDocument struct {
	Name               string   `yaml:"name"`
	Label              string   `yaml:"label"`
	Description        string   `yaml:"description"`
	Exemplars          []string `yaml:"exemplars"`
	Keywords           []string `yaml:"keywords"`
	Priority           int      `yaml:"priority"`
	Active             bool     `yaml:"active"`
	HandlerKind        string   `yaml:"handler_kind"`
	HandlerConfig      string   `yaml:"handler_config"`
	Escalation         string   `yaml:"escalation"`
	EscalationWorkflow string   `yaml:"escalation_workflow"`
}

func (d CatalogDocument) toEntry() intent.Entry {
	return intent.Entry{
		Name:               d.Name,
		Label:              d.Label,
		Description:        d.Description,
		Exemplars:          d.Exemplars,
		Keywords:           d.Keywords,
		Priority:           d.Priority,
		Active:             d.Active,
		HandlerKind:        intent.HandlerKind(d.HandlerKind),
		HandlerConfig:      d.HandlerConfig,
		Escalation:         d.Escalation,
		EscalationWorkflow: d.EscalationWorkflow,
	}
}

// BrokerDocument holds the stream broker's connection string. The
// EVENTCORE_BROKER_DSN environment variable overrides the YAML value.
// cmd/eventcore does not read this field: it connects to Redis from the
// REDIS_ADDR and REDIS_PASSWORD environment variables.
type BrokerDocument struct {
	DSN string `yaml:"dsn"`
}

// StorageDocument configures the object-store gateway: local-disk fallback
// plus optional S3-compatible remote credentials.
type StorageDocument struct {
	LocalStorageEnabled bool   `yaml:"local_storage_enabled"`
	LocalBaseDir        string `yaml:"local_base_dir"`
	LocalDownloadURL    string `yaml:"local_download_url"`

	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

// AppConfig is the converted, validated configuration the rest of the core
// consumes.
type AppConfig struct {
	Accounts []imapsource.Account
	Catalog  []intent.Entry
	Broker   BrokerDocument
	Storage  StorageDocument
}

func (d Document) toAppConfig() AppConfig {
	accounts := make([]imapsource.Account, 0, len(d.Accounts))
	for _, a := range d.Accounts {
		if !a.Active {
			continue
		}
		accounts = append(accounts, a.toAccount())
	}
	entries := make([]intent.Entry, 0, len(d.Catalog))
	for _, c := range d.Catalog {
		entries = append(entries, c.toEntry())
	}
	return AppConfig{
		Accounts: accounts,
		Catalog:  entries,
		Broker:   d.Broker,
		Storage:  d.Storage,
	}
}
