package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tigerroll/feedpipe/pkg/batch/support/util/exception"
	"github.com/tigerroll/feedpipe/pkg/batch/support/util/logger"
)

// Package config provides utilities for loading and managing application configuration
// from various sources, including YAML files and environment variables.

const moduleName = "config"

// loadConfig loads configuration from the embedded YAML, the .env file and environment variables.
//
// Order: defaults from NewConfig, then ${VAR}-expanded YAML merged on top, then
// FEEDPIPE_* environment variables derived from the yaml tags.
func loadConfig(envFilePath string, embeddedConfig EmbeddedConfig, expander EnvironmentExpander) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			logger.Warnf(".env file (%s) not found or could not be loaded: %v", envFilePath, err)
		}
	} else {
		if err := godotenv.Load(); err != nil {
			logger.Debugf(".env file not found or could not be loaded: %v", err)
		}
	}

	cfg := NewConfig()

	if expander == nil {
		expander = NewOsEnvironmentExpander()
	}
	expanded, err := expander.Expand(embeddedConfig)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to expand environment variables in embedded config", err)
	}

	var yamlConfig Config
	if err := yaml.Unmarshal(expanded, &yamlConfig); err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to unmarshal embedded config", err)
	}
	mergeConfig(cfg, &yamlConfig)

	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem(), ""); err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to load config from environment variables", err)
	}
	cfg.EmbeddedConfig = embeddedConfig
	return cfg, nil
}

// Load loads the configuration, applies its log level and validates it.
func Load(envFilePath string, embeddedConfig EmbeddedConfig) (*Config, error) {
	cfg, err := loadConfig(envFilePath, embeddedConfig, nil)
	if err != nil {
		return nil, err
	}

	logger.SetLogLevel(cfg.Feedpipe.System.Logging.Level)
	logger.Debugf("Log level set to: %s", cfg.Feedpipe.System.Logging.Level)

	if err := Validate(cfg); err != nil {
		return nil, exception.NewBatchError(moduleName, "invalid configuration", err)
	}
	return cfg, nil
}

// LoadConfig loads configuration from configuration files and environment variables.
func LoadConfig(envFilePath string, embeddedConfig EmbeddedConfig) (*Config, error) {
	return loadConfig(envFilePath, embeddedConfig, nil)
}

// Validate checks settings that cannot be defaulted.
func Validate(cfg *Config) error {
	p := cfg.Feedpipe.Pipeline
	if p.MaxConcurrency < 0 {
		return fmt.Errorf("pipeline.max_concurrency must not be negative: %d", p.MaxConcurrency)
	}
	switch SuccessPolicy(lower(p.SuccessPolicy)) {
	case SuccessPolicyAllStages, SuccessPolicyFinalStage:
	default:
		return fmt.Errorf("pipeline.success_policy must be %q or %q: %q", SuccessPolicyAllStages, SuccessPolicyFinalStage, p.SuccessPolicy)
	}
	for name, sc := range p.Stages {
		if sc.TimeoutSeconds < 0 {
			return fmt.Errorf("pipeline.stages.%s.timeout_seconds must not be negative", name)
		}
		switch lower(sc.Target) {
		case "", "source", "destination":
		default:
			return fmt.Errorf("pipeline.stages.%s.target must be \"source\" or \"destination\": %q", name, sc.Target)
		}
		for i, cmd := range sc.Commands {
			if len(cmd.Args) == 0 {
				return fmt.Errorf("pipeline.stages.%s.commands[%d] has no args", name, i)
			}
		}
	}
	if cfg.UsesInMemoryStateStore() {
		logger.Warnf("No database configuration found for state store reference '%s'; using the in-memory state store.", cfg.Feedpipe.Infrastructure.StateStoreDBRef)
	}
	return nil
}

// mergeConfig performs a deep merge from sourceConfig into destConfig.
// Values in sourceConfig overwrite corresponding values in destConfig
// if they are not zero/empty values for their type.
func mergeConfig(destConfig, sourceConfig *Config) {
	dest, source := &destConfig.Feedpipe, &sourceConfig.Feedpipe

	mergeSystemConfig(&dest.System, &source.System)

	if source.Infrastructure.StateStoreDBRef != "" {
		dest.Infrastructure.StateStoreDBRef = source.Infrastructure.StateStoreDBRef
	}
	if source.Infrastructure.CatalogDBRef != "" {
		dest.Infrastructure.CatalogDBRef = source.Infrastructure.CatalogDBRef
	}
	// A YAML file cannot switch migrations off through the zero-value merge; use the env override.
	dest.Infrastructure.RunMigrations = dest.Infrastructure.RunMigrations || source.Infrastructure.RunMigrations

	mergePipelineConfig(&dest.Pipeline, &source.Pipeline)

	if source.Metrics.Enabled {
		dest.Metrics.Enabled = true
	}
	if source.Metrics.ListenAddress != "" {
		dest.Metrics.ListenAddress = source.Metrics.ListenAddress
	}

	if source.Tracing.Enabled {
		dest.Tracing.Enabled = true
	}
	if source.Tracing.Insecure {
		dest.Tracing.Insecure = true
	}
	if source.Tracing.Endpoint != "" {
		dest.Tracing.Endpoint = source.Tracing.Endpoint
	}
	if source.Tracing.Protocol != "" {
		dest.Tracing.Protocol = source.Tracing.Protocol
	}
	if source.Tracing.ServiceName != "" {
		dest.Tracing.ServiceName = source.Tracing.ServiceName
	}

	if source.Report.Enabled {
		dest.Report.Enabled = true
	}
	if source.Report.StorageRef != "" {
		dest.Report.StorageRef = source.Report.StorageRef
	}
	if source.Report.Bucket != "" {
		dest.Report.Bucket = source.Report.Bucket
	}
	if source.Report.Prefix != "" {
		dest.Report.Prefix = source.Report.Prefix
	}
	if source.Report.Compression != "" {
		dest.Report.Compression = source.Report.Compression
	}
	if source.Report.Retain > 0 {
		dest.Report.Retain = source.Report.Retain
	}

	mergeMap(&dest.AdaptorConfigs, source.AdaptorConfigs)
	mergeMap(&dest.StorageConfigs, source.StorageConfigs)
}

func mergeSystemConfig(dest, source *SystemConfig) {
	if source.Timezone != "" {
		dest.Timezone = source.Timezone
	}
	if source.Logging.Level != "" {
		dest.Logging.Level = source.Logging.Level
	}
}

func mergePipelineConfig(dest, source *PipelineConfig) {
	if source.RunMode != "" {
		dest.RunMode = source.RunMode
	}
	if source.Until != "" {
		dest.Until = source.Until
	}
	if source.MaxConcurrency != 0 {
		dest.MaxConcurrency = source.MaxConcurrency
	}
	if source.SuccessPolicy != "" {
		dest.SuccessPolicy = source.SuccessPolicy
	}
	if source.HeavyStages != nil {
		dest.HeavyStages = source.HeavyStages
	}
	if source.WorkDir != "" {
		dest.WorkDir = source.WorkDir
	}
	if source.Entities != nil {
		dest.Entities = source.Entities
	}
	if dest.Stages == nil {
		dest.Stages = make(map[string]StageConfig)
	}
	for name, sc := range source.Stages {
		dest.Stages[lower(name)] = sc
	}
}

func mergeMap(dest *map[string]interface{}, source map[string]interface{}) {
	if source == nil {
		return
	}
	if *dest == nil {
		*dest = make(map[string]interface{})
	}
	for key, value := range source {
		(*dest)[key] = value
	}
}

// loadStructFromEnv recursively loads configuration values into a struct from environment variables.
// It uses the "yaml" tag to determine the environment variable name.
func loadStructFromEnv(val reflect.Value, prefix string) error {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		yamlTag := fieldType.Tag.Get("yaml")
		if yamlTag == "" || yamlTag == "-" {
			continue
		}
		envVarName := strings.ToUpper(prefix + yamlTag)

		if field.Kind() == reflect.Struct {
			if err := loadStructFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
			continue
		}

		if field.Kind() == reflect.Map && field.Type().Key().Kind() == reflect.String && field.Type().Elem().Kind() == reflect.Struct {
			// e.g. FEEDPIPE_PIPELINE_STAGES_IMAGE_TIMEOUT_SECONDS
			if err := loadMapOfStructsFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
			continue
		}

		envValue, exists := os.LookupEnv(envVarName)
		if !exists {
			continue
		}
		if err := setField(field, envValue); err != nil {
			return fmt.Errorf("failed to set field '%s' from env var '%s': %w", fieldType.Name, envVarName, err)
		}
	}
	return nil
}

// loadMapOfStructsFromEnv loads fields of type map[string]struct{} from environment variables.
// The first underscore-separated segment after prefix is the map key; the remainder names
// the struct field through its yaml tag.
func loadMapOfStructsFromEnv(mapField reflect.Value, prefix string) error {
	if mapField.IsNil() {
		mapField.Set(reflect.MakeMap(mapField.Type()))
	}
	elemType := mapField.Type().Elem()

	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, prefix) {
			continue
		}
		parts := strings.SplitN(strings.TrimPrefix(env, prefix), "=", 2)
		if len(parts) != 2 {
			continue
		}
		keyAndField := strings.SplitN(parts[0], "_", 2)
		if len(keyAndField) < 2 {
			continue
		}
		mapKey := lower(keyAndField[0])

		structVal := reflect.New(elemType).Elem()
		if existing := mapField.MapIndex(reflect.ValueOf(mapKey)); existing.IsValid() {
			structVal.Set(existing)
		}
		if err := setStructFieldFromEnv(structVal, keyAndField[1], parts[1]); err != nil {
			return err
		}
		mapField.SetMapIndex(reflect.ValueOf(mapKey), structVal)
	}
	return nil
}

// setStructFieldFromEnv sets the struct field whose yaml tag matches fieldName case-insensitively.
func setStructFieldFromEnv(structVal reflect.Value, fieldName string, value string) error {
	typ := structVal.Type()
	for i := 0; i < typ.NumField(); i++ {
		yamlTag := typ.Field(i).Tag.Get("yaml")
		if yamlTag == "" || yamlTag == "-" {
			continue
		}
		if strings.EqualFold(yamlTag, fieldName) {
			return setField(structVal.Field(i), value)
		}
	}
	return nil
}

// setField sets the value of a reflect.Value field based on its kind.
// String slices are read as comma-separated lists.
func setField(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(intValue)
	case reflect.Float64, reflect.Float32:
		floatValue, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatValue)
	case reflect.Bool:
		boolValue, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolValue)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return nil
		}
		var items []string
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		field.Set(reflect.ValueOf(items))
	}
	return nil
}

func lower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
