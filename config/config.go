package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const envPrefix = "EVENTCORE"

// Load reads the YAML config document at path, validates it against the
// embedded JSON Schema, overlays environment-variable secrets on top of it,
// and returns the converted AppConfig. This is the entry point cmd/eventcore
// calls at startup.
func Load(path string) (*AppConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return parse(raw, viper.New())
}

func parse(raw []byte, v *viper.Viper) (*AppConfig, error) {
	var generic any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	asJSON, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("config: normalize document: %w", err)
	}
	if err := validate(asJSON); err != nil {
		return nil, err
	}

	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("config: decode document: %w", err)
	}

	overlayEnv(&doc, v)

	app := doc.toAppConfig()
	return &app, nil
}

// overlayEnv applies the environment-variable overlay for the connection
// secrets the spec calls out by name: broker DSN, object-store credentials,
// and the local_storage_enabled toggle. Every other field is config-file or
// admin-managed only. v.AutomaticEnv with SetEnvPrefix means
// EVENTCORE_BROKER_DSN, EVENTCORE_OBJECT_STORE_BUCKET, etc. each take
// precedence over the YAML value when set.
func overlayEnv(doc *Document, v *viper.Viper) {
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	keys := []string{
		"broker_dsn",
		"object_store_local_storage_enabled",
		"object_store_local_base_dir",
		"object_store_local_download_url",
		"object_store_bucket",
		"object_store_region",
		"object_store_endpoint",
		"object_store_access_key_id",
		"object_store_secret_access_key",
		"object_store_use_path_style",
	}
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	if s := v.GetString("broker_dsn"); s != "" {
		doc.Broker.DSN = s
	}
	if v.IsSet("object_store_local_storage_enabled") {
		doc.Storage.LocalStorageEnabled = v.GetBool("object_store_local_storage_enabled")
	}
	if s := v.GetString("object_store_local_base_dir"); s != "" {
		doc.Storage.LocalBaseDir = s
	}
	if s := v.GetString("object_store_local_download_url"); s != "" {
		doc.Storage.LocalDownloadURL = s
	}
	if s := v.GetString("object_store_bucket"); s != "" {
		doc.Storage.Bucket = s
	}
	if s := v.GetString("object_store_region"); s != "" {
		doc.Storage.Region = s
	}
	if s := v.GetString("object_store_endpoint"); s != "" {
		doc.Storage.Endpoint = s
	}
	if s := v.GetString("object_store_access_key_id"); s != "" {
		doc.Storage.AccessKeyID = s
	}
	if s := v.GetString("object_store_secret_access_key"); s != "" {
		doc.Storage.SecretAccessKey = s
	}
	if v.IsSet("object_store_use_path_style") {
		doc.Storage.UsePathStyle = v.GetBool("object_store_use_path_style")
	}
}
