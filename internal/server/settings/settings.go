// Package settings reads and validates the remote storage parameters kept in
// the config_parameters table.
package settings

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

const (
	KeyAccessKeyID     = "aws_access_key_id"
	KeySecretAccessKey = "aws_secret_access_key"
	KeyRegion          = "aws_region_name"
	KeyBucket          = "aws_bucket_name"
	KeyUploadCondition = "aws_upload_condition"
	KeyStageCondition  = "aws_stage_condition"
	KeyMaxUpload       = "aws_max_upload"
	KeyEndpoint        = "aws_endpoint_url"
	KeyPathStyle       = "aws_path_style"
)

// Keys lists every parameter the service knows about.
var Keys = []string{
	KeyAccessKeyID, KeySecretAccessKey, KeyRegion, KeyBucket,
	KeyUploadCondition, KeyStageCondition, KeyMaxUpload, KeyEndpoint, KeyPathStyle,
}

const (
	DefaultMaxUpload = 1000
	maxBatch         = 1000
)

var (
	ErrConfigurationMissing = errors.New("remote storage configuration missing")
	ErrMalformedCondition   = errors.New("malformed upload condition")
	ErrUnknownKey           = errors.New("unknown setting")
	ErrInvalidValue         = errors.New("invalid setting value")
)

var modelName = regexp.MustCompile(`^[a-z0-9_.]+$`)

// S3 is a snapshot of the remote storage parameters.
type S3 struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Bucket          string
	UploadCondition string
	StageCondition  string
	MaxUpload       int
	Endpoint        string
	PathStyle       bool
}

// Configured reports whether all four connection parameters are set.
func (s S3) Configured() bool {
	return s.AccessKeyID != "" && s.SecretAccessKey != "" && s.Region != "" && s.Bucket != ""
}

// Check returns ErrConfigurationMissing naming the unset parameters.
func (s S3) Check() error {
	var missing []string
	for _, kv := range []struct{ key, val string }{
		{KeyAccessKeyID, s.AccessKeyID},
		{KeySecretAccessKey, s.SecretAccessKey},
		{KeyRegion, s.Region},
		{KeyBucket, s.Bucket},
	} {
		if kv.val == "" {
			missing = append(missing, kv.key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrConfigurationMissing, strings.Join(missing, ", "))
	}
	return nil
}

// ActiveIn reports whether remote storage is enabled for the given process stage.
func (s S3) ActiveIn(stage string) bool {
	return s.StageCondition != "" && s.StageCondition == stage
}

// UploadModels returns the record types whose attachments go to the remote tier.
func (s S3) UploadModels() []string {
	return splitCondition(s.UploadCondition)
}

func (s S3) Uploads(resModel string) bool {
	return resModel != "" && slices.Contains(s.UploadModels(), resModel)
}

// BatchSize is MaxUpload clamped to 1..1000.
func (s S3) BatchSize() int {
	switch {
	case s.MaxUpload <= 0:
		return DefaultMaxUpload
	case s.MaxUpload > maxBatch:
		return maxBatch
	default:
		return s.MaxUpload
	}
}

func splitCondition(cond string) []string {
	var out []string
	for _, p := range strings.Split(cond, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// fromValues builds a snapshot from raw parameter values. Unparseable
// numbers and booleans fall back to their defaults.
func fromValues(v map[string]string) S3 {
	s := S3{
		AccessKeyID:     v[KeyAccessKeyID],
		SecretAccessKey: v[KeySecretAccessKey],
		Region:          v[KeyRegion],
		Bucket:          v[KeyBucket],
		UploadCondition: v[KeyUploadCondition],
		StageCondition:  v[KeyStageCondition],
		Endpoint:        v[KeyEndpoint],
		MaxUpload:       DefaultMaxUpload,
	}
	if n, err := strconv.Atoi(strings.TrimSpace(v[KeyMaxUpload])); err == nil && n > 0 {
		s.MaxUpload = n
	}
	if b, err := strconv.ParseBool(strings.TrimSpace(v[KeyPathStyle])); err == nil {
		s.PathStyle = b
	}
	return s
}

// Validate checks a value before it is stored. An empty value unsets the key
// and is always accepted.
func Validate(key, value string) error {
	if !slices.Contains(Keys, key) {
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	if value == "" {
		return nil
	}
	switch key {
	case KeyMaxUpload:
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n <= 0 {
			return fmt.Errorf("%w: %s must be a positive integer, got %q", ErrInvalidValue, key, value)
		}
	case KeyPathStyle:
		if _, err := strconv.ParseBool(strings.TrimSpace(value)); err != nil {
			return fmt.Errorf("%w: %s must be a boolean, got %q", ErrInvalidValue, key, value)
		}
	case KeyUploadCondition:
		parts := strings.Split(value, ",")
		for _, p := range parts {
			if !modelName.MatchString(strings.TrimSpace(p)) {
				return fmt.Errorf("%w: %q is not a record type name", ErrMalformedCondition, p)
			}
		}
	}
	return nil
}
