package services

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/custodia-labs/carbon-cli/internal/core/domain"
	"github.com/custodia-labs/carbon-cli/internal/core/ports/driven"
	"github.com/custodia-labs/carbon-cli/internal/core/ports/driving"
)

// Ensure SettingsService implements the interface.
var _ driving.SettingsService = (*SettingsService)(nil)

// Config keys for settings storage.
//
//nolint:gosec // G101: These are config key names, not actual credentials.
const (
	keySourceURL        = "source.url"
	keySourceContainer  = "source.container"
	keySourceQuery      = "source.query"
	keyDestURL          = "destination.url"
	keyDestContainer    = "destination.container"
	keyDestPartitionKey = "destination.partition_key"
	keyDestThroughput   = "destination.throughput"
	keyDestDropIfExists = "destination.drop_if_exists"
	keySnapshotBackend  = "snapshot.backend"
	keySnapshotDir      = "snapshot.dir"
	keySnapshotBucket   = "snapshot.bucket"
	keySnapshotPrefix   = "snapshot.prefix"
	keySnapshotGCSEnd   = "snapshot.gcs_endpoint"
	keySnapshotGCSToken = "snapshot.gcs_token"
	keyReadCapacity     = "pipeline.read_capacity"
	keyWriteCapacity    = "pipeline.write_capacity"
	keyParallelism      = "pipeline.parallelism"
	keyRetryDefaultMS   = "pipeline.retry_default_ms"
	keyPageSize         = "pipeline.page_size"
	keyMaxUpsertsPerSec = "pipeline.max_upserts_per_second"
	keySurrealNamespace = "surreal.namespace"
	keySurrealDatabase  = "surreal.database"
	keySurrealUsername  = "surreal.username"
	keySurrealPassword  = "surreal.password"
	keyScheduleInterval = "schedule.interval"
	keyScheduleKeep     = "schedule.keep"
)

type settingKind int

const (
	kindString settingKind = iota
	kindInt
	kindBool
	kindFloat
	kindDuration
	kindBackend
)

// setting binds a config key to a field of domain.Settings.
type setting struct {
	kind   settingKind
	secret bool
	field  func(*domain.Settings) any
}

var settingTable = map[string]setting{
	keySourceURL:        {kind: kindString, field: func(s *domain.Settings) any { return &s.Source.URL }},
	keySourceContainer:  {kind: kindString, field: func(s *domain.Settings) any { return &s.Source.Container }},
	keySourceQuery:      {kind: kindString, field: func(s *domain.Settings) any { return &s.Source.Query }},
	keyDestURL:          {kind: kindString, field: func(s *domain.Settings) any { return &s.Destination.URL }},
	keyDestContainer:    {kind: kindString, field: func(s *domain.Settings) any { return &s.Destination.Container }},
	keyDestPartitionKey: {kind: kindString, field: func(s *domain.Settings) any { return &s.Destination.PartitionKeyPath }},
	keyDestThroughput:   {kind: kindInt, field: func(s *domain.Settings) any { return &s.Destination.Throughput }},
	keyDestDropIfExists: {kind: kindBool, field: func(s *domain.Settings) any { return &s.Destination.DropIfExists }},
	keySnapshotBackend:  {kind: kindBackend, field: func(s *domain.Settings) any { return &s.Snapshot.Backend }},
	keySnapshotDir:      {kind: kindString, field: func(s *domain.Settings) any { return &s.Snapshot.Dir }},
	keySnapshotBucket:   {kind: kindString, field: func(s *domain.Settings) any { return &s.Snapshot.Bucket }},
	keySnapshotPrefix:   {kind: kindString, field: func(s *domain.Settings) any { return &s.Snapshot.Prefix }},
	keySnapshotGCSEnd:   {kind: kindString, field: func(s *domain.Settings) any { return &s.Snapshot.GCSEndpoint }},
	keySnapshotGCSToken: {kind: kindString, secret: true, field: func(s *domain.Settings) any { return &s.Snapshot.GCSToken }},
	keyReadCapacity:     {kind: kindInt, field: func(s *domain.Settings) any { return &s.Pipeline.ReadCapacity }},
	keyWriteCapacity:    {kind: kindInt, field: func(s *domain.Settings) any { return &s.Pipeline.WriteCapacity }},
	keyParallelism:      {kind: kindInt, field: func(s *domain.Settings) any { return &s.Pipeline.Parallelism }},
	keyRetryDefaultMS:   {kind: kindDuration, field: func(s *domain.Settings) any { return &s.Pipeline.RetryDefault }},
	keyPageSize:         {kind: kindInt, field: func(s *domain.Settings) any { return &s.Pipeline.PageSize }},
	keyMaxUpsertsPerSec: {kind: kindFloat, field: func(s *domain.Settings) any { return &s.Pipeline.MaxUpsertsPerSecond }},
	keySurrealNamespace: {kind: kindString, field: func(s *domain.Settings) any { return &s.Surreal.Namespace }},
	keySurrealDatabase:  {kind: kindString, field: func(s *domain.Settings) any { return &s.Surreal.Database }},
	keySurrealUsername:  {kind: kindString, field: func(s *domain.Settings) any { return &s.Surreal.Username }},
	keySurrealPassword:  {kind: kindString, secret: true, field: func(s *domain.Settings) any { return &s.Surreal.Password }},
	keyScheduleInterval: {kind: kindDuration, field: func(s *domain.Settings) any { return &s.Schedule.Interval }},
	keyScheduleKeep:     {kind: kindInt, field: func(s *domain.Settings) any { return &s.Schedule.Keep }},
}

// SettingsService manages application settings.
type SettingsService struct {
	configStore driven.ConfigStore
}

// NewSettingsService creates a new settings service.
func NewSettingsService(configStore driven.ConfigStore) *SettingsService {
	return &SettingsService{configStore: configStore}
}

// Get retrieves current settings. Keys that are missing or hold a value
// of the wrong type fall back to their defaults.
func (s *SettingsService) Get() (*domain.Settings, error) {
	settings := domain.DefaultSettings()
	for key, def := range settingTable {
		s.load(key, def, def.field(&settings))
	}
	return &settings, nil
}

// Set parses value for key and persists it.
func (s *SettingsService) Set(key, value string) error {
	def, ok := settingTable[key]
	if !ok {
		return fmt.Errorf("%w: unknown setting %q", domain.ErrInvalidInput, key)
	}

	stored, err := parseSetting(key, def.kind, value)
	if err != nil {
		return err
	}
	if err := s.configStore.Set(key, stored); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// Keys lists every supported setting key in sorted order.
func (s *SettingsService) Keys() []string {
	keys := make([]string, 0, len(settingTable))
	for key := range settingTable {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Lookup returns the effective value of key. Secrets are masked.
func (s *SettingsService) Lookup(key string) (string, error) {
	def, ok := settingTable[key]
	if !ok {
		return "", fmt.Errorf("%w: unknown setting %q", domain.ErrInvalidInput, key)
	}
	settings, err := s.Get()
	if err != nil {
		return "", err
	}

	text := formatSetting(def.kind, def.field(settings))
	if def.secret && text != "" {
		return "********", nil
	}
	return text, nil
}

// Validate checks the current settings.
func (s *SettingsService) Validate() error {
	settings, err := s.Get()
	if err != nil {
		return err
	}
	return settings.Validate()
}

// load copies a stored value into dst when it has the expected type.
func (s *SettingsService) load(key string, def setting, dst any) {
	raw, ok := s.configStore.Get(key)
	if !ok {
		return
	}

	switch def.kind {
	case kindString:
		if v, ok := raw.(string); ok {
			*dst.(*string) = v
		}
	case kindBackend:
		if v, ok := raw.(string); ok && domain.SnapshotBackendType(v).IsValid() {
			*dst.(*domain.SnapshotBackendType) = domain.SnapshotBackendType(v)
		}
	case kindBool:
		if v, ok := raw.(bool); ok {
			*dst.(*bool) = v
		}
	case kindInt:
		if _, isNum := numeric(raw); isNum {
			*dst.(*int) = s.configStore.GetInt(key)
		}
	case kindFloat:
		if _, isNum := numeric(raw); isNum {
			*dst.(*float64) = s.configStore.GetFloat(key)
		}
	case kindDuration:
		*dst.(*time.Duration) = loadDuration(key, raw, *dst.(*time.Duration))
	}
}

// loadDuration reads millisecond integers for *_ms keys and Go duration
// strings otherwise.
func loadDuration(key string, raw any, fallback time.Duration) time.Duration {
	if key == keyRetryDefaultMS {
		if v, ok := numeric(raw); ok && v > 0 {
			return time.Duration(v * float64(time.Millisecond))
		}
		return fallback
	}
	if str, ok := raw.(string); ok {
		if d, err := time.ParseDuration(str); err == nil {
			return d
		}
	}
	return fallback
}

func numeric(raw any) (float64, bool) {
	switch v := raw.(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

func parseSetting(key string, kind settingKind, value string) (any, error) {
	invalid := func(err error) error {
		return fmt.Errorf("%w: %s: %v", domain.ErrInvalidInput, key, err)
	}

	switch kind {
	case kindInt:
		v, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, invalid(err)
		}
		return v, nil
	case kindFloat:
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, invalid(err)
		}
		return v, nil
	case kindBool:
		v, err := strconv.ParseBool(value)
		if err != nil {
			return nil, invalid(err)
		}
		return v, nil
	case kindDuration:
		if key == keyRetryDefaultMS {
			v, err := strconv.ParseInt(value, 10, 64)
			if err != nil || v <= 0 {
				return nil, invalid(fmt.Errorf("want a positive number of milliseconds, got %q", value))
			}
			return v, nil
		}
		if _, err := time.ParseDuration(value); err != nil {
			return nil, invalid(err)
		}
		return value, nil
	case kindBackend:
		if !domain.SnapshotBackendType(value).IsValid() {
			return nil, fmt.Errorf("%w: snapshot backend %q", domain.ErrUnsupportedType, value)
		}
		return value, nil
	default:
		if key == keyDestPartitionKey {
			if _, err := domain.ParsePartitionKeyPath(value); err != nil {
				return nil, err
			}
		}
		return value, nil
	}
}

func formatSetting(kind settingKind, field any) string {
	switch kind {
	case kindInt:
		return strconv.Itoa(*field.(*int))
	case kindFloat:
		return strconv.FormatFloat(*field.(*float64), 'f', -1, 64)
	case kindBool:
		return strconv.FormatBool(*field.(*bool))
	case kindDuration:
		return field.(*time.Duration).String()
	case kindBackend:
		return field.(*domain.SnapshotBackendType).String()
	default:
		return *field.(*string)
	}
}
