// Package config loads service configuration from a YAML file overlaid by
// OROZARNA_* environment variables. Configuration is read once at startup.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/erazemk/orozarna/internal/model"
	"github.com/erazemk/orozarna/internal/origin"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "OROZARNA"

type Config struct {
	Listen           string        `yaml:"listen"           envconfig:"LISTEN"`
	MetricsListen    string        `yaml:"metricsListen"    envconfig:"METRICS_LISTEN"`
	Database         string        `yaml:"database"         envconfig:"DATABASE"`
	AuditDatabase    string        `yaml:"auditDatabase"    envconfig:"AUDIT_DATABASE"`
	LogFile          string        `yaml:"logFile"          envconfig:"LOG_FILE"`
	AdminUser        string        `yaml:"adminUser"        envconfig:"ADMIN_USER"`
	RequestTimeout   time.Duration `yaml:"requestTimeout"   envconfig:"REQUEST_TIMEOUT"`
	LockWait         time.Duration `yaml:"lockWait"         envconfig:"LOCK_WAIT"`
	LockTTL          time.Duration `yaml:"lockTtl"          envconfig:"LOCK_TTL"`
	RedisURL         string        `yaml:"redisUrl"         envconfig:"REDIS_URL"`
	AuditBuffer      int           `yaml:"auditBuffer"      envconfig:"AUDIT_BUFFER"`
	SerialMaxRetries int           `yaml:"serialMaxRetries" envconfig:"SERIAL_MAX_RETRIES"`

	Network Network `yaml:"network" envconfig:"NETWORK"`

	Devices []Device                `yaml:"devices" ignored:"true"`
	Policy  map[model.Operation]Rule `yaml:"policy"  ignored:"true"`
	Serials map[string]SerialFormat  `yaml:"serials" ignored:"true"`
}

// Network describes which addresses and ingress interfaces belong to each
// origin class.
type Network struct {
	LANCIDRs       []string `yaml:"lanCidrs"       envconfig:"LAN_CIDRS"`
	VPNCIDRs       []string `yaml:"vpnCidrs"       envconfig:"VPN_CIDRS"`
	LANInterfaces  []string `yaml:"lanInterfaces"  envconfig:"LAN_INTERFACES"`
	VPNInterfaces  []string `yaml:"vpnInterfaces"  envconfig:"VPN_INTERFACES"`
	TrustedProxies []string `yaml:"trustedProxies" envconfig:"TRUSTED_PROXIES"`
}

// Device is an authorized custody terminal.
type Device struct {
	Address  string `yaml:"address"`
	Identity string `yaml:"identity"`
}

// Rule is the policy for one operation.
type Rule struct {
	Origins       []model.OriginClass `yaml:"origins"`
	Roles         []string            `yaml:"roles"`
	RequireDevice bool                `yaml:"requireDevice"`
	// VPNSelfRoles are roles that may only see their own records when the
	// request comes over the VPN.
	VPNSelfRoles []string `yaml:"vpnSelfRoles"`
}

// SerialFormat is how serials for one classification or item kind look.
type SerialFormat struct {
	Prefix string `yaml:"prefix"`
	Width  int    `yaml:"width"`
}

var allRoles = []string{model.RoleAdmin, model.RoleArmorer, model.RoleCommander, model.RolePersonnel}

// DefaultPolicy is the built-in operation policy.
func DefaultPolicy() map[model.Operation]Rule {
	read := Rule{
		Origins:      []model.OriginClass{model.OriginLAN, model.OriginVPNRemote},
		Roles:        allRoles,
		VPNSelfRoles: []string{model.RolePersonnel},
	}
	adminOnly := Rule{
		Origins: []model.OriginClass{model.OriginLAN},
		Roles:   []string{model.RoleAdmin},
	}
	return map[model.Operation]Rule{
		model.OpReadInventory:       read,
		model.OpReadPersonnelStatus: read,
		model.OpCreateCustodyTransaction: {
			Origins:       []model.OriginClass{model.OriginLAN},
			Roles:         []string{model.RoleArmorer, model.RoleAdmin},
			RequireDevice: true,
		},
		model.OpModifyPersonnel: adminOnly,
		model.OpModifyItem:      adminOnly,
		model.OpAdminFunctions:  adminOnly,
	}
}

// DefaultSerials is the built-in serial prefix table.
func DefaultSerials() map[string]SerialFormat {
	return map[string]SerialFormat{
		model.ClassificationEnlisted:  {Prefix: "E-", Width: 5},
		model.ClassificationOfficer:   {Prefix: "O-", Width: 5},
		model.ClassificationSuperuser: {Prefix: "S-", Width: 5},
		model.ItemKindWeapon:          {Prefix: "W-", Width: 5},
		model.ItemKindMagazine:        {Prefix: "M-", Width: 5},
		model.ItemKindAmmunitionLot:   {Prefix: "A-", Width: 5},
	}
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Listen:           ":8080",
		MetricsListen:    "127.0.0.1:9090",
		Database:         "orozarna.sqlite3",
		AuditDatabase:    "orozarna-audit.sqlite3",
		AdminUser:        "admin",
		RequestTimeout:   15 * time.Second,
		LockWait:         2 * time.Second,
		LockTTL:          30 * time.Second,
		AuditBuffer:      1024,
		SerialMaxRetries: 16,
		Policy:           DefaultPolicy(),
		Serials:          DefaultSerials(),
	}
}

// Load reads path (if non-empty) over the defaults, then applies environment
// overrides and validates the result. Policy and serial entries in the file
// replace the default entry for the same key and keep the others.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		buf, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		var file Config
		if err := yaml.Unmarshal(buf, &file); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
		// Decode again onto the defaults for the scalar fields, then merge
		// the keyed tables entry by entry.
		policy, serials := cfg.Policy, cfg.Serials
		if err := yaml.Unmarshal(buf, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
		cfg.Policy, cfg.Serials = policy, serials
		for op, rule := range file.Policy {
			cfg.Policy[op] = rule
		}
		for key, format := range file.Serials {
			cfg.Serials[key] = format
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("processing environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []error

	if c.LockWait <= 0 {
		errs = append(errs, errors.New("lockWait must be positive"))
	}
	if c.SerialMaxRetries < 1 {
		errs = append(errs, errors.New("serialMaxRetries must be at least 1"))
	}
	if c.AuditBuffer < 0 {
		errs = append(errs, errors.New("auditBuffer must not be negative"))
	}

	for name, values := range map[string][]string{
		"network.lanCidrs":       c.Network.LANCIDRs,
		"network.vpnCidrs":       c.Network.VPNCIDRs,
		"network.trustedProxies": c.Network.TrustedProxies,
	} {
		if _, err := origin.ParsePrefixes(values); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	for i, d := range c.Devices {
		if _, err := origin.ParsePrefix(d.Address); err != nil {
			errs = append(errs, fmt.Errorf("devices[%d]: %w", i, err))
		}
		if d.Identity == "" {
			errs = append(errs, fmt.Errorf("devices[%d]: identity is required", i))
		}
	}

	for op, rule := range c.Policy {
		if !slices.Contains(model.Operations, op) {
			errs = append(errs, fmt.Errorf("policy: unknown operation %q", op))
			continue
		}
		for _, o := range rule.Origins {
			if o != model.OriginLAN && o != model.OriginVPNRemote {
				errs = append(errs, fmt.Errorf("policy.%s: invalid origin %q", op, o))
			}
			if op.Mutating() && o != model.OriginLAN {
				errs = append(errs, fmt.Errorf("policy.%s: state-changing operations are LAN only", op))
			}
		}
		for _, r := range append(slices.Clone(rule.Roles), rule.VPNSelfRoles...) {
			if !model.ValidRole(r) {
				errs = append(errs, fmt.Errorf("policy.%s: unknown role %q", op, r))
			}
		}
	}

	prefixes := make(map[string]string)
	for key, f := range c.Serials {
		if f.Prefix == "" {
			errs = append(errs, fmt.Errorf("serials.%s: prefix is required", key))
			continue
		}
		if f.Width < 1 || f.Width > 12 {
			errs = append(errs, fmt.Errorf("serials.%s: width must be between 1 and 12", key))
		}
		if other, ok := prefixes[f.Prefix]; ok {
			errs = append(errs, fmt.Errorf("serials.%s: prefix %q already used by %s", key, f.Prefix, other))
		}
		prefixes[f.Prefix] = key
	}

	return errors.Join(errs...)
}

// OriginConfig converts the network section into classifier configuration.
// Call it only on a validated Config.
func (c *Config) OriginConfig() origin.Config {
	lan, _ := origin.ParsePrefixes(c.Network.LANCIDRs)
	vpn, _ := origin.ParsePrefixes(c.Network.VPNCIDRs)
	return origin.Config{
		LANPrefixes: lan,
		VPNPrefixes: vpn,
		LANTags:     c.Network.LANInterfaces,
		VPNTags:     c.Network.VPNInterfaces,
	}
}

// Resolver builds the request metadata resolver for the configured proxies.
// Call it only on a validated Config.
func (c *Config) Resolver() origin.Resolver {
	trusted, _ := origin.ParsePrefixes(c.Network.TrustedProxies)
	return origin.Resolver{TrustedProxies: trusted}
}
