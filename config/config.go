// Package config loads auction and server settings from flags, environment
// (prefix DUTCH_AUCTION_) and an optional config file through viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/cloudx-io/dutchauction/core"
)

const EnvPrefix = "DUTCH_AUCTION"

// Keys. Environment names are the upper-cased key with dashes as
// underscores, e.g. reserve-price -> DUTCH_AUCTION_RESERVE_PRICE.
const (
	KeyReservePrice  = "reserve-price"
	KeyDecrement     = "decrement"
	KeyDuration      = "duration"
	KeyDecimals      = "decimals"
	KeyCreator       = "creator"
	KeyAdmin         = "admin"
	KeyAssetContract = "asset-contract"
	KeyTokenID       = "token-id"
	KeyPaymentToken  = "payment-token"
	KeyChainID       = "chain-id"
	KeyTimeUnit      = "time-unit"
	KeyFund          = "fund"

	KeyTransport     = "transport"
	KeyListenAddress = "listen-address"
	KeyVsockPort     = "vsock-port"
	KeyMaxWorkers    = "max-workers"
	KeyHTTPAddress   = "http-address"
	KeySignReceipts  = "sign-receipts"
	KeyAttestKey     = "attest-key"
	KeyLogicVersion  = "logic-version"

	KeyRedisURI           = "redis-uri"
	KeyRedisTTL           = "redis-ttl"
	KeyPostgresURL        = "db"
	KeyMaxDBConnections   = "max-db-connections"
	KeyMaxIdleConnections = "max-idle-connections"
	KeyMaxIdleTimeout     = "max-idle-timeout"

	KeyMQTTBroker   = "mqtt-broker"
	KeyMQTTPort     = "mqtt-port"
	KeyMQTTClientID = "mqtt-client"
	KeyMQTTUserName = "mqtt-username"
	KeyMQTTPassword = "mqtt-password"

	KeyLogLevel = "log-level"
)

type Auction struct {
	ReservePrice  string
	Decrement     string
	Duration      uint64
	Decimals      int32
	Creator       string
	Admin         string
	AssetContract string
	TokenID       string
	PaymentToken  string
	ChainID       uint64
	TimeUnit      time.Duration
	// Fund lists "address=amount" balances minted to bidders on the
	// in-memory ledger at startup.
	Fund []string
}

type Server struct {
	Transport     string
	ListenAddress string
	VsockPort     uint32
	MaxWorkers    int
	HTTPAddress   string
	SignReceipts  bool
	AttestKey     bool
	LogicVersion  uint64
}

type Storage struct {
	RedisURI           string
	RedisTTL           time.Duration
	PostgresURL        string
	MaxDBConnections   int
	MaxIdleConnections int
	MaxIdleTimeout     time.Duration
}

type MQTT struct {
	Broker   string
	Port     uint64
	ClientID string
	UserName string
	Password string
}

type Config struct {
	Auction  Auction
	Server   Server
	Storage  Storage
	MQTT     MQTT
	LogLevel string
}

// New returns a viper instance reading DUTCH_AUCTION_* variables.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// RegisterAuctionFlags adds the auction terms shared by every subcommand.
func RegisterAuctionFlags(fs *pflag.FlagSet) {
	fs.String(KeyReservePrice, "0", "reserve price in whole units")
	fs.String(KeyDecrement, "0", "price decrement per time unit in whole units")
	fs.Uint64(KeyDuration, 0, "auction duration in time units")
	fs.Int32(KeyDecimals, core.DefaultDecimals, "decimals used to convert whole units to base units")
	fs.String(KeyCreator, "", "creator address")
	fs.String(KeyAdmin, "", "upgrade admin address (defaults to the creator)")
	fs.String(KeyAssetContract, "", "NFT contract address (omit for the native variant)")
	fs.String(KeyTokenID, "", "NFT token id")
	fs.String(KeyPaymentToken, "", "payment token address (omit to pay in native currency)")
	fs.Uint64(KeyChainID, 31337, "chain id bound into permit signatures")
	fs.Duration(KeyTimeUnit, time.Second, "wall-clock length of one time unit")
	fs.StringSlice(KeyFund, nil, "address=amount balances to mint to bidders")
}

func RegisterServerFlags(fs *pflag.FlagSet) {
	fs.String(KeyTransport, "tcp", "socket transport: tcp or vsock")
	fs.String(KeyListenAddress, "localhost:5000", "tcp listen address")
	fs.Uint32(KeyVsockPort, 5000, "vsock port")
	fs.Int(KeyMaxWorkers, 16, "maximum concurrent socket connections")
	fs.String(KeyHTTPAddress, "", "HTTP bridge listen address (empty disables it)")
	fs.Bool(KeySignReceipts, true, "sign settlement receipts")
	fs.Bool(KeyAttestKey, false, "attest the receipt key with the Nitro Security Module")
	fs.Uint64(KeyLogicVersion, 1, "auction logic version to start with")

	fs.String(KeyRedisURI, "", "redis uri for the receipt cache")
	fs.Duration(KeyRedisTTL, 24*time.Hour, "receipt cache ttl")
	fs.String(KeyPostgresURL, "", "PostgreSQL DSN for the receipt archive")
	fs.Int(KeyMaxDBConnections, 100, "Maximum DB Connections")
	fs.Int(KeyMaxIdleConnections, 100, "Maximum Idle Connections")
	fs.Duration(KeyMaxIdleTimeout, 100*time.Second, "Maximum Idle Timeout")

	fs.String(KeyMQTTBroker, "", "MQTT broker host (empty disables events)")
	fs.Uint64(KeyMQTTPort, 1883, "MQTT broker port")
	fs.String(KeyMQTTClientID, "dutchauction", "MQTT client id")
	fs.String(KeyMQTTUserName, "", "MQTT username")
	fs.String(KeyMQTTPassword, "", "MQTT password")
}

func RegisterLogFlags(fs *pflag.FlagSet) {
	fs.String(KeyLogLevel, "info", "log level")
}

// Load reads every known key from v. Flags must already be bound.
func Load(v *viper.Viper) (*Config, error) {
	c := &Config{
		Auction: Auction{
			ReservePrice:  v.GetString(KeyReservePrice),
			Decrement:     v.GetString(KeyDecrement),
			Duration:      v.GetUint64(KeyDuration),
			Decimals:      v.GetInt32(KeyDecimals),
			Creator:       v.GetString(KeyCreator),
			Admin:         v.GetString(KeyAdmin),
			AssetContract: v.GetString(KeyAssetContract),
			TokenID:       v.GetString(KeyTokenID),
			PaymentToken:  v.GetString(KeyPaymentToken),
			ChainID:       v.GetUint64(KeyChainID),
			TimeUnit:      v.GetDuration(KeyTimeUnit),
			Fund:          v.GetStringSlice(KeyFund),
		},
		Server: Server{
			Transport:     v.GetString(KeyTransport),
			ListenAddress: v.GetString(KeyListenAddress),
			VsockPort:     v.GetUint32(KeyVsockPort),
			MaxWorkers:    v.GetInt(KeyMaxWorkers),
			HTTPAddress:   v.GetString(KeyHTTPAddress),
			SignReceipts:  v.GetBool(KeySignReceipts),
			AttestKey:     v.GetBool(KeyAttestKey),
			LogicVersion:  v.GetUint64(KeyLogicVersion),
		},
		Storage: Storage{
			RedisURI:           v.GetString(KeyRedisURI),
			RedisTTL:           v.GetDuration(KeyRedisTTL),
			PostgresURL:        v.GetString(KeyPostgresURL),
			MaxDBConnections:   v.GetInt(KeyMaxDBConnections),
			MaxIdleConnections: v.GetInt(KeyMaxIdleConnections),
			MaxIdleTimeout:     v.GetDuration(KeyMaxIdleTimeout),
		},
		MQTT: MQTT{
			Broker:   v.GetString(KeyMQTTBroker),
			Port:     v.GetUint64(KeyMQTTPort),
			ClientID: v.GetString(KeyMQTTClientID),
			UserName: v.GetString(KeyMQTTUserName),
			Password: v.GetString(KeyMQTTPassword),
		},
		LogLevel: v.GetString(KeyLogLevel),
	}
	if c.Auction.TimeUnit <= 0 {
		return nil, fmt.Errorf("%w: %s must be positive", core.ErrInvalidConfig, KeyTimeUnit)
	}
	return c, nil
}

// AuctionConfig converts the configured terms to base units.
func (a Auction) AuctionConfig() (core.AuctionConfig, error) {
	reserve, err := core.ParseUnits(a.ReservePrice, a.Decimals)
	if err != nil {
		return core.AuctionConfig{}, fmt.Errorf("%w: %s: %w", core.ErrInvalidConfig, KeyReservePrice, err)
	}
	decrement, err := core.ParseUnits(a.Decrement, a.Decimals)
	if err != nil {
		return core.AuctionConfig{}, fmt.Errorf("%w: %s: %w", core.ErrInvalidConfig, KeyDecrement, err)
	}
	creator, err := parseAddress(KeyCreator, a.Creator)
	if err != nil {
		return core.AuctionConfig{}, err
	}

	cfg := core.AuctionConfig{
		ReservePrice: reserve,
		Decrement:    decrement,
		Duration:     a.Duration,
		Creator:      creator,
	}

	if a.AssetContract != "" {
		contract, err := parseAddress(KeyAssetContract, a.AssetContract)
		if err != nil {
			return core.AuctionConfig{}, err
		}
		tokenID, err := uint256.FromDecimal(a.TokenID)
		if err != nil {
			return core.AuctionConfig{}, fmt.Errorf("%w: %s %q: %v", core.ErrInvalidConfig, KeyTokenID, a.TokenID, err)
		}
		cfg.Asset = &core.AssetRef{Contract: contract, TokenID: tokenID}
	}
	if a.PaymentToken != "" {
		token, err := parseAddress(KeyPaymentToken, a.PaymentToken)
		if err != nil {
			return core.AuctionConfig{}, err
		}
		cfg.PaymentToken = &token
	}
	return cfg, cfg.Validate()
}

// AdminAddress falls back to the creator.
func (a Auction) AdminAddress() (common.Address, error) {
	if a.Admin == "" {
		return parseAddress(KeyCreator, a.Creator)
	}
	return parseAddress(KeyAdmin, a.Admin)
}

// Balance is one parsed Fund entry.
type Balance struct {
	Owner  common.Address
	Amount *uint256.Int
}

func (a Auction) Balances() ([]Balance, error) {
	out := make([]Balance, 0, len(a.Fund))
	for _, entry := range a.Fund {
		addr, amount, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("%w: %s entry %q is not address=amount", core.ErrInvalidConfig, KeyFund, entry)
		}
		owner, err := parseAddress(KeyFund, strings.TrimSpace(addr))
		if err != nil {
			return nil, err
		}
		value, err := core.ParseUnits(strings.TrimSpace(amount), a.Decimals)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", core.ErrInvalidConfig, KeyFund, err)
		}
		out = append(out, Balance{Owner: owner, Amount: value})
	}
	return out, nil
}

func parseAddress(key, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %s %q is not an address", core.ErrInvalidConfig, key, s)
	}
	return common.HexToAddress(s), nil
}
