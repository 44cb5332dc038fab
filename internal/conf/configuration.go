package conf

import (
	"crypto/ed25519"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/clanwyse/halo/internal/crypto"
)

// PoolConfiguration holds the voting parameters for one proposal pool.
type PoolConfiguration struct {
	VotingPeriod     time.Duration `json:"voting_period" split_words:"true"`
	QuorumPercent    int64         `json:"quorum_percent" split_words:"true"`
	ThresholdPercent int64         `json:"threshold_percent" split_words:"true"`
	BurnMultiplier   string        `json:"burn_multiplier" split_words:"true"`
	CreatorRoles     []string      `json:"creator_roles" split_words:"true"`
	OwnerOverride    bool          `json:"owner_override" split_words:"true"`
}

// Quorum returns the minimum turnout share as a decimal fraction.
func (p *PoolConfiguration) Quorum() decimal.Decimal {
	return decimal.NewFromInt(p.QuorumPercent).Div(decimal.NewFromInt(100))
}

// Threshold returns the minimum winning share as a decimal fraction.
func (p *PoolConfiguration) Threshold() decimal.Decimal {
	return decimal.NewFromInt(p.ThresholdPercent).Div(decimal.NewFromInt(100))
}

// Multiplier returns the burn cost multiplier for this pool.
func (p *PoolConfiguration) Multiplier() decimal.Decimal {
	return decimal.RequireFromString(p.BurnMultiplier)
}

// CanCreate reports whether the given role name may create proposals in this
// pool.
func (p *PoolConfiguration) CanCreate(role string) bool {
	for _, r := range p.CreatorRoles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

func (p *PoolConfiguration) validate(name string) error {
	if p.VotingPeriod <= 0 {
		return errors.Errorf("conf: pool %q voting period must be positive", name)
	}
	if p.QuorumPercent < 0 || p.QuorumPercent > 100 {
		return errors.Errorf("conf: pool %q quorum percent out of range", name)
	}
	if p.ThresholdPercent < 0 || p.ThresholdPercent > 100 {
		return errors.Errorf("conf: pool %q threshold percent out of range", name)
	}
	if _, err := decimal.NewFromString(p.BurnMultiplier); err != nil {
		return errors.Wrapf(err, "conf: pool %q burn multiplier", name)
	}
	if len(p.CreatorRoles) == 0 {
		return errors.Errorf("conf: pool %q has no creator roles", name)
	}
	return nil
}

// PoolTable enumerates the six proposal pools.
type PoolTable struct {
	Governance PoolConfiguration `json:"governance"`
	Budget     PoolConfiguration `json:"budget"`
	Membership PoolConfiguration `json:"membership"`
	Content    PoolConfiguration `json:"content"`
	Events     PoolConfiguration `json:"events"`
	Alliance   PoolConfiguration `json:"alliance"`
}

// Pool looks up one pool configuration by its lowercase name.
func (t *PoolTable) Pool(name string) (*PoolConfiguration, bool) {
	switch strings.ToLower(name) {
	case "governance":
		return &t.Governance, true
	case "budget":
		return &t.Budget, true
	case "membership":
		return &t.Membership, true
	case "content":
		return &t.Content, true
	case "events":
		return &t.Events, true
	case "alliance":
		return &t.Alliance, true
	}
	return nil, false
}

// Names returns the pool names in table order.
func (t *PoolTable) Names() []string {
	return []string{"governance", "budget", "membership", "content", "events", "alliance"}
}

func (t *PoolTable) applyDefaults() {
	defaults := map[string]PoolConfiguration{
		"governance": {VotingPeriod: 168 * time.Hour, QuorumPercent: 33, ThresholdPercent: 67, BurnMultiplier: "2.0", CreatorRoles: []string{"owner", "admin", "moderator"}, OwnerOverride: true},
		"budget":     {VotingPeriod: 72 * time.Hour, QuorumPercent: 25, ThresholdPercent: 60, BurnMultiplier: "1.5", CreatorRoles: []string{"owner", "admin"}, OwnerOverride: true},
		"membership": {VotingPeriod: 48 * time.Hour, QuorumPercent: 20, ThresholdPercent: 55, BurnMultiplier: "1.0", CreatorRoles: []string{"owner", "admin", "moderator"}, OwnerOverride: true},
		"content":    {VotingPeriod: 24 * time.Hour, QuorumPercent: 15, ThresholdPercent: 50, BurnMultiplier: "0.5", CreatorRoles: []string{"owner", "admin", "moderator", "officer"}, OwnerOverride: false},
		"events":     {VotingPeriod: 48 * time.Hour, QuorumPercent: 15, ThresholdPercent: 50, BurnMultiplier: "0.75", CreatorRoles: []string{"owner", "admin", "moderator", "officer"}, OwnerOverride: false},
		"alliance":   {VotingPeriod: 96 * time.Hour, QuorumPercent: 25, ThresholdPercent: 60, BurnMultiplier: "1.25", CreatorRoles: []string{"owner", "admin"}, OwnerOverride: true},
	}
	for _, name := range t.Names() {
		pool, _ := t.Pool(name)
		def := defaults[name]
		if pool.VotingPeriod == 0 {
			pool.VotingPeriod = def.VotingPeriod
		}
		if pool.QuorumPercent == 0 {
			pool.QuorumPercent = def.QuorumPercent
		}
		if pool.ThresholdPercent == 0 {
			pool.ThresholdPercent = def.ThresholdPercent
		}
		if pool.BurnMultiplier == "" {
			pool.BurnMultiplier = def.BurnMultiplier
		}
		if len(pool.CreatorRoles) == 0 {
			pool.CreatorRoles = def.CreatorRoles
			pool.OwnerOverride = def.OwnerOverride
		}
	}
}

// BurnConfiguration controls how token burns convert into extra votes.
type BurnConfiguration struct {
	// CostProgression is the per-vote cost, in token minor units, before the
	// pool multiplier. The super-linear progression makes vote concentration
	// expensive.
	CostProgression    []int64 `json:"cost_progression" split_words:"true" default:"2,4,6,8,10"`
	MaxAdditionalVotes int     `json:"max_additional_votes" split_words:"true" default:"5"`
}

// CostFor returns the cumulative cost of the first k additional votes, before
// the pool multiplier is applied. The second return is false when k is out of
// range.
func (b *BurnConfiguration) CostFor(k int) (int64, bool) {
	if k < 1 || k > len(b.CostProgression) || k > b.MaxAdditionalVotes {
		return 0, false
	}
	var total int64
	for i := 0; i < k; i++ {
		total += b.CostProgression[i]
	}
	return total, true
}

// RoleConfiguration controls role assignment workflows.
type RoleConfiguration struct {
	// ChangeCooldown is the minimum interval between role changes for the
	// same (clan, user).
	ChangeCooldown time.Duration `json:"change_cooldown" split_words:"true" default:"24h"`
	// AssignmentRate caps assignment requests per actor.
	AssignmentRate Rate `json:"assignment_rate" split_words:"true" default:"10/24h"`
	// RequestExpiry bounds how long a pending multi-approver request lives.
	RequestExpiry time.Duration `json:"request_expiry" split_words:"true" default:"72h"`
}

// ProposalConfiguration controls proposal creation limits.
type ProposalConfiguration struct {
	CreationRate Rate `json:"creation_rate" split_words:"true" default:"3/24h"`
	// ExpiryGrace is how long past voting_ends_at an unfinalized proposal may
	// linger before it is swept to Expired.
	ExpiryGrace time.Duration `json:"expiry_grace" split_words:"true" default:"72h"`
}

// DelegationConfiguration controls vote delegation.
type DelegationConfiguration struct {
	MaxInbound   int           `json:"max_inbound" split_words:"true" default:"10"`
	NoticePeriod time.Duration `json:"notice_period" split_words:"true" default:"24h"`
	MaxPeriod    time.Duration `json:"max_period" split_words:"true" default:"2160h"`
}

// AuthorityConfiguration identifies the token ledger that mints burn
// receipts.
type AuthorityConfiguration struct {
	// PublicKey is the base64 encoded ed25519 key receipts are signed with.
	PublicKey string `json:"public_key" split_words:"true"`
}

// Key parses the configured authority public key.
func (a *AuthorityConfiguration) Key() (ed25519.PublicKey, error) {
	return crypto.ParsePublicKey(a.PublicKey)
}

// AnalyticsConfiguration bounds analytics queries, which scan clan history.
type AnalyticsConfiguration struct {
	QueryRate Rate `json:"query_rate" split_words:"true" default:"30/1m"`
}

// GovernanceConfiguration is the root configuration for the governance core.
type GovernanceConfiguration struct {
	Logging    LoggingConfig           `json:"logging" envconfig:"LOG"`
	Pools      PoolTable               `json:"pools"`
	Burn       BurnConfiguration       `json:"burn"`
	Role       RoleConfiguration       `json:"role"`
	Proposal   ProposalConfiguration   `json:"proposal"`
	Delegation DelegationConfiguration `json:"delegation"`
	Authority  AuthorityConfiguration  `json:"authority"`
	Analytics  AnalyticsConfiguration  `json:"analytics"`
}

// ApplyDefaults fills in the pool table entries that were not overridden by
// the environment.
func (c *GovernanceConfiguration) ApplyDefaults() error {
	c.Pools.applyDefaults()
	return nil
}

// Validate checks the configuration for internal consistency.
func (c *GovernanceConfiguration) Validate() error {
	for _, name := range c.Pools.Names() {
		pool, _ := c.Pools.Pool(name)
		if err := pool.validate(name); err != nil {
			return err
		}
	}
	if len(c.Burn.CostProgression) == 0 {
		return errors.New("conf: burn cost progression is empty")
	}
	if c.Burn.MaxAdditionalVotes > len(c.Burn.CostProgression) {
		return errors.New("conf: burn max additional votes exceeds cost progression length")
	}
	if c.Delegation.MaxInbound < 1 {
		return errors.New("conf: delegation max inbound must be at least 1")
	}
	if c.Authority.PublicKey != "" {
		if _, err := c.Authority.Key(); err != nil {
			return err
		}
	}
	return nil
}

func loadEnvironment(filename string) error {
	var err error
	if filename != "" {
		err = godotenv.Overload(filename)
	} else {
		err = godotenv.Load()
		// a missing .env file is fine
		if os.IsNotExist(err) {
			return nil
		}
	}
	return err
}

// LoadGovernance loads the governance configuration from the environment,
// optionally overlaid with the given dotenv file.
func LoadGovernance(filename string) (*GovernanceConfiguration, error) {
	if err := loadEnvironment(filename); err != nil {
		return nil, err
	}

	config := new(GovernanceConfiguration)
	if err := envconfig.Process("halo", config); err != nil {
		return nil, err
	}
	if err := config.ApplyDefaults(); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}
