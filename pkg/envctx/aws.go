package envctx

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"

	"github.com/openfroyo/infractl/pkg/engine"
)

// DefaultRegion is used when neither the settings nor the variables name a region.
const DefaultRegion = "us-east-1"

// AWSSettings are the "settings" of an aws context.yaml.
type AWSSettings struct {
	// Region is the AWS region. Falls back to AWS_REGION, then AWS_DEFAULT_REGION.
	Region string `yaml:"region" validate:"omitempty,min=1"`

	// Endpoint overrides the service endpoint, e.g. a local emulator.
	// Falls back to AWS_ENDPOINT_URL.
	Endpoint string `yaml:"endpoint" validate:"omitempty,url"`

	// Profile selects a shared config profile.
	Profile string `yaml:"profile"`
}

// AWS is an environment context for projects deployed to AWS. Handlers obtain
// an SDK configuration through AWSConfig.
type AWS struct {
	*Base

	settings AWSSettings

	once   sync.Once
	cfg    aws.Config
	cfgErr error
}

var _ Context = (*AWS)(nil)

// NewAWS wraps base with AWS settings.
func NewAWS(base *Base, settings AWSSettings) *AWS {
	base.kind = KindAWS
	return &AWS{Base: base, settings: settings}
}

// ConfigDir returns <envdir>/aws_config, where shared config and credentials
// files for the environment may be kept.
func (a *AWS) ConfigDir() string {
	return filepath.Join(a.EnvironmentDir(), "aws_config")
}

// Region returns the effective region.
func (a *AWS) Region() string {
	if a.settings.Region != "" {
		return a.settings.Region
	}
	if v, ok := a.Get("AWS_REGION"); ok && v != "" {
		return v
	}
	if v, ok := a.Get("AWS_DEFAULT_REGION"); ok && v != "" {
		return v
	}
	return DefaultRegion
}

// Endpoint returns the effective endpoint override, or "".
func (a *AWS) Endpoint() string {
	if a.settings.Endpoint != "" {
		return a.settings.Endpoint
	}
	v, _ := a.Get("AWS_ENDPOINT_URL")
	return v
}

// AWSConfig builds the SDK configuration from the loaded variables. The result
// is computed once. Static credentials are used when AWS_ACCESS_KEY_ID and
// AWS_SECRET_ACCESS_KEY are loaded; otherwise the default chain applies.
func (a *AWS) AWSConfig(ctx context.Context) (aws.Config, error) {
	if !a.Loaded() {
		return aws.Config{}, engine.NewConfigurationError("aws context is not loaded", nil).
			WithCode(engine.ErrCodeContextLoad)
	}

	a.once.Do(func() {
		a.cfg, a.cfgErr = a.buildConfig(ctx)
	})
	return a.cfg, a.cfgErr
}

func (a *AWS) buildConfig(ctx context.Context) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(a.Region()),
	}

	if a.settings.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(a.settings.Profile))
	}

	if files := a.sharedFiles("config"); len(files) > 0 {
		opts = append(opts, config.WithSharedConfigFiles(files))
	}
	if files := a.sharedFiles("credentials"); len(files) > 0 {
		opts = append(opts, config.WithSharedCredentialsFiles(files))
	}

	keyID, _ := a.Get("AWS_ACCESS_KEY_ID")
	secret, _ := a.Get("AWS_SECRET_ACCESS_KEY")
	if keyID != "" && secret != "" {
		session, _ := a.Get("AWS_SESSION_TOKEN")
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(keyID, secret, session),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, engine.NewConfigurationError("failed to load AWS configuration", err).
			WithCode(engine.ErrCodeContextLoad)
	}

	if endpoint := a.Endpoint(); endpoint != "" {
		cfg.BaseEndpoint = aws.String(endpoint)
	}

	a.logger.Debug().
		Str("region", cfg.Region).
		Str("endpoint", a.Endpoint()).
		Str("profile", a.settings.Profile).
		Msg("AWS configuration ready")

	return cfg, nil
}

// sharedFiles returns ConfigDir()/name when the file exists.
func (a *AWS) sharedFiles(name string) []string {
	path := filepath.Join(a.ConfigDir(), name)
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return []string{path}
}
