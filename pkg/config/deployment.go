package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/sinanzx3473-web/0xzero-nation-state/pkg/identity"
)

// SupportedDeploymentVersions is the range of deployment file versions this
// build understands.
const SupportedDeploymentVersions = ">= 1.0.0, < 2.0.0"

const schemaURL = "https://defcon.local/schemas/deployment.json"

var ErrInvalidDeployment = errors.New("invalid deployment")

//go:embed deployment.schema.json
var deploymentSchema []byte

var compileSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, bytes.NewReader(deploymentSchema)); err != nil {
		return nil, fmt.Errorf("failed to add deployment schema: %w", err)
	}
	return c.Compile(schemaURL)
})

// RateLimit bounds mutation requests per client IP.
type RateLimit struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// Deployment is the construction-time governance configuration. Owner and
// Oracle are the genesis role holders; later oracle rotations live in the
// audit log, not here.
type Deployment struct {
	Version            *semver.Version
	Owner              identity.Address
	Oracle             identity.Address
	Timelock           time.Duration
	OracleUpdatePolicy string
	RateLimit          RateLimit
}

type deploymentFile struct {
	Version            string     `yaml:"version"`
	Owner              string     `yaml:"owner"`
	Oracle             string     `yaml:"oracle"`
	Timelock           string     `yaml:"timelock"`
	OracleUpdatePolicy string     `yaml:"oracle_update_policy"`
	RateLimit          *RateLimit `yaml:"rate_limit"`
}

// LoadDeployment reads and validates the deployment file at path.
func LoadDeployment(path string) (*Deployment, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("load deployment: %w", err)
	}
	return ParseDeployment(data)
}

// ParseDeployment validates raw YAML against the embedded schema and the
// supported version range, then resolves identities and durations.
func ParseDeployment(data []byte) (*Deployment, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: parse yaml: %w", ErrInvalidDeployment, err)
	}
	// Round-trip through JSON so the validator sees JSON types.
	asJSON, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDeployment, err)
	}
	var instance any
	if err := json.Unmarshal(asJSON, &instance); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDeployment, err)
	}

	schema, err := compileSchema()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(instance); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDeployment, err)
	}

	var f deploymentFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDeployment, err)
	}
	return f.resolve()
}

func (f deploymentFile) resolve() (*Deployment, error) {
	version, err := semver.NewVersion(f.Version)
	if err != nil {
		return nil, fmt.Errorf("%w: version %q: %w", ErrInvalidDeployment, f.Version, err)
	}
	supported, err := semver.NewConstraint(SupportedDeploymentVersions)
	if err != nil {
		return nil, err
	}
	if !supported.Check(version) {
		return nil, fmt.Errorf("%w: version %s outside %s", ErrInvalidDeployment, version, SupportedDeploymentVersions)
	}

	owner, err := identity.Parse(f.Owner)
	if err != nil {
		return nil, fmt.Errorf("%w: owner: %w", ErrInvalidDeployment, err)
	}
	oracle, err := identity.Parse(f.Oracle)
	if err != nil {
		return nil, fmt.Errorf("%w: oracle: %w", ErrInvalidDeployment, err)
	}
	if owner.IsZero() || oracle.IsZero() {
		return nil, fmt.Errorf("%w: owner and oracle must not be the zero address", ErrInvalidDeployment)
	}

	var timelock time.Duration
	if f.Timelock != "" {
		timelock, err = time.ParseDuration(f.Timelock)
		if err != nil {
			return nil, fmt.Errorf("%w: timelock: %w", ErrInvalidDeployment, err)
		}
		if timelock <= 0 {
			return nil, fmt.Errorf("%w: timelock must be positive", ErrInvalidDeployment)
		}
		if timelock%time.Second != 0 {
			return nil, fmt.Errorf("%w: timelock must be a whole number of seconds, got %s", ErrInvalidDeployment, timelock)
		}
	}

	rl := RateLimit{RPS: 10, Burst: 20}
	if f.RateLimit != nil {
		if f.RateLimit.RPS > 0 {
			rl.RPS = f.RateLimit.RPS
		}
		if f.RateLimit.Burst > 0 {
			rl.Burst = f.RateLimit.Burst
		}
	}

	return &Deployment{
		Version:            version,
		Owner:              owner,
		Oracle:             oracle,
		Timelock:           timelock,
		OracleUpdatePolicy: f.OracleUpdatePolicy,
		RateLimit:          rl,
	}, nil
}
