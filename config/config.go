// Package config holds the settings of a migration run: where the forked
// node is, where contract data comes from and the parameters the
// migration uses on chain.
package config

import (
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/nexusmutual/forkmigrate/chain"
	"github.com/nexusmutual/forkmigrate/registry"
	"github.com/nexusmutual/forkmigrate/scripts"
	"github.com/nexusmutual/forkmigrate/telemetry"
)

// Environment variables read by ApplyEnv.
const (
	EnvProviderURL = "PROVIDER_URL"
	EnvForkRPCURL  = "FORK_RPC_URL"
)

// Addresses are the external mainnet contracts new modules are wired to.
type Addresses struct {
	DAI             common.Address `yaml:"dai"`
	SwapController  common.Address `yaml:"swapController"`
	StETH           common.Address `yaml:"stETH"`
	PriceFeedOracle common.Address `yaml:"priceFeedOracle"`
	TWAPOracle      common.Address `yaml:"twapOracle"`
}

// Registry configures the version-data download.
type Registry struct {
	URL     string        `yaml:"url"`
	Network string        `yaml:"network"`
	Timeout time.Duration `yaml:"timeout"`
}

// Governance configures proposal submission.
type Governance struct {
	VotingPeriod  time.Duration `yaml:"votingPeriod"`
	CloseGasLimit uint64        `yaml:"closeGasLimit"`
	// CategoriesFile overrides the default proposal categories.
	CategoriesFile string `yaml:"categoriesFile"`
}

// Staking configures the pooled staking drain and staker migration.
type Staking struct {
	PendingActionsBatch uint64 `yaml:"pendingActionsBatch"`
	// MaxRounds caps processPendingActions calls; 0 is unlimited.
	MaxRounds  int              `yaml:"maxRounds"`
	TopStakers []common.Address `yaml:"topStakers"`
}

// Config is the full run configuration.
type Config struct {
	// RPCURL is the forked node the harness drives.
	RPCURL string `yaml:"rpcURL"`
	// ProviderURL is handed to data-migration scripts. Defaults to RPCURL.
	ProviderURL  string        `yaml:"providerURL"`
	Dialect      string        `yaml:"dialect"`
	PollInterval time.Duration `yaml:"pollInterval"`
	ArtifactsDir string        `yaml:"artifactsDir"`

	Registry   Registry   `yaml:"registry"`
	Governance Governance `yaml:"governance"`
	Staking    Staking    `yaml:"staking"`
	Addresses  Addresses  `yaml:"addresses"`

	// FundMembers, when set, is the ETH balance given to each impersonated
	// advisory board member, e.g. "1000".
	FundMembers string `yaml:"fundMembers"`

	Scripts map[string]scripts.Command `yaml:"scripts"`

	MetricsAddr string           `yaml:"metricsAddr"`
	Telemetry   telemetry.Config `yaml:"telemetry"`
	LogLevel    string           `yaml:"logLevel"`
}

// TopStakers are the accounts whose v1 stakes are moved to v2 pools.
var TopStakers = []common.Address{
	common.HexToAddress("0x1337DEF1FC06783D4b03CB8C1Bf3EBf7D0593FC4"),
	common.HexToAddress("0x87B2a7559d85f4653f13E6546A14189cd5455d45"),
	common.HexToAddress("0x4a9fA34da6d2378c8f3B9F6b83532B169beaEDFc"),
	common.HexToAddress("0x46de0C6F149BE3885f28e54bb4d302Cb2C505bC2"),
	common.HexToAddress("0xE1Ad30971b83c17E2A24c0334CB45f808AbEBc87"),
	common.HexToAddress("0x5FAdEA9d64FFbe0b8A6799B8f0c72250F92E2B1d"),
	common.HexToAddress("0x9c657DB2B697846BE13Ca0B2bB5a6D17f860a395"),
	common.HexToAddress("0xF99b3a13d46A04735BF3828eB3030cfED5Ea0087"),
	common.HexToAddress("0x8C878B8f805472C0b70eD66a71c0B33da3d233c8"),
	common.HexToAddress("0x4544e2Fae244eA4Ca20d075bb760561Ce5990DC3"),
}

// DefaultConfig returns the settings of a mainnet fork run against a local
// Hardhat node.
func DefaultConfig() Config {
	return Config{
		RPCURL:       "http://127.0.0.1:8545",
		Dialect:      string(chain.DialectHardhat),
		PollInterval: 250 * time.Millisecond,
		ArtifactsDir: "artifacts",
		Registry: Registry{
			URL:     registry.DefaultURL,
			Network: registry.DefaultNetwork,
			Timeout: 30 * time.Second,
		},
		Governance: Governance{
			VotingPeriod:  7 * 24 * time.Hour,
			CloseGasLimit: 15_000_000,
		},
		Staking: Staking{
			PendingActionsBatch: 100,
			TopStakers:          append([]common.Address(nil), TopStakers...),
		},
		Addresses: Addresses{
			DAI:             common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F"),
			SwapController:  common.HexToAddress("0x551D5500F613a4beC77BA8B834b5eEd52ad5764f"),
			StETH:           common.HexToAddress("0xae7ab96520DE3A18E5e111B5EaAb095312D7fE84"),
			PriceFeedOracle: common.HexToAddress("0xcafea55b2d62399DcFe3DfA3CFc71E4076B14b71"),
			TWAPOracle:      common.HexToAddress("0xcafea1C9f94e077DF44D95c4A1ad5a5747a18b5C"),
		},
		Scripts:  map[string]scripts.Command{},
		LogLevel: "info",
	}
}

// Load reads a YAML file over DefaultConfig.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "config: read")
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "config: parse %s", path)
	}
	return cfg, nil
}

// ApplyEnv loads a .env file from the working directory, when present,
// and applies FORK_RPC_URL and PROVIDER_URL over the file settings.
func (c *Config) ApplyEnv() error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "config: .env")
	}
	if v := os.Getenv(EnvForkRPCURL); v != "" {
		c.RPCURL = v
	}
	if v := os.Getenv(EnvProviderURL); v != "" {
		c.ProviderURL = v
	}
	return nil
}

// ScriptProviderURL is the node URL handed to scripts.
func (c *Config) ScriptProviderURL() string {
	if c.ProviderURL != "" {
		return c.ProviderURL
	}
	return c.RPCURL
}

// Validate checks configuration values for correctness.
func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return errors.New("config: rpc url must not be empty")
	}
	if _, err := chain.ParseDialect(c.Dialect); err != nil {
		return errors.Wrap(err, "config")
	}
	if c.Registry.URL == "" || c.Registry.Network == "" {
		return errors.New("config: registry url and network must be set")
	}
	if c.Governance.VotingPeriod <= 0 {
		return errors.Errorf("config: invalid voting period %s", c.Governance.VotingPeriod)
	}
	if c.Governance.CloseGasLimit == 0 {
		return errors.New("config: close gas limit must be positive")
	}
	if c.Staking.PendingActionsBatch == 0 {
		return errors.New("config: pending actions batch must be positive")
	}
	if c.Staking.MaxRounds < 0 {
		return errors.Errorf("config: invalid max rounds %d", c.Staking.MaxRounds)
	}
	if c.FundMembers != "" {
		if _, err := chain.ParseEther(c.FundMembers); err != nil {
			return errors.Wrapf(err, "config: fundMembers %q", c.FundMembers)
		}
	}
	for name, addr := range map[string]common.Address{
		"dai":             c.Addresses.DAI,
		"swapController":  c.Addresses.SwapController,
		"stETH":           c.Addresses.StETH,
		"priceFeedOracle": c.Addresses.PriceFeedOracle,
		"twapOracle":      c.Addresses.TWAPOracle,
	} {
		if addr == (common.Address{}) {
			return errors.Errorf("config: address %s must be set", name)
		}
	}
	for i, s := range c.Staking.TopStakers {
		if s == (common.Address{}) {
			return errors.Errorf("config: top staker %d is the zero address", i)
		}
	}
	return nil
}
