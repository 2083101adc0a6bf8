package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/Genius-Foundation/genius-contracts-sub003/internal/types"
)

// NetworkConfig describes one chain the settlement ledger is deployed on.
type NetworkConfig struct {
	Name               string
	RPCURL             string
	ChainID            uint64
	Stablecoin         types.Account
	StablecoinDecimals uint8
	// PriceFeed is the Chainlink stablecoin/USD aggregator; zero disables the price guard.
	PriceFeed types.Account
}

// getEnvWithDefault gets an environment variable with a default fallback
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvUint64 gets an environment variable as uint64 with a default fallback
func getEnvUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseUint(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvAccount(key, defaultValue string) types.Account {
	a, err := types.ParseAccount(getEnvWithDefault(key, defaultValue))
	if err != nil {
		return types.ZeroAccount
	}
	return a
}

// Networks contains all network configurations. Populated by InitializeNetworks.
var Networks = map[string]NetworkConfig{}

// InitializeNetworks builds the network table from the environment. Call it
// after .env has been loaded.
func InitializeNetworks() {
	Networks = map[string]NetworkConfig{
		"Ethereum": {
			Name:               "Ethereum",
			RPCURL:             getEnvWithDefault("ETHEREUM_RPC_URL", "http://localhost:8545"),
			ChainID:            getEnvUint64("ETHEREUM_CHAIN_ID", 1),
			Stablecoin:         getEnvAccount("ETHEREUM_STABLECOIN", "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"),
			StablecoinDecimals: 6,
			PriceFeed:          getEnvAccount("ETHEREUM_PRICE_FEED", "0x8fFfFfd4AfB6115b954Bd326cbe7B4BA576818f6"),
		},
		"Optimism": {
			Name:               "Optimism",
			RPCURL:             getEnvWithDefault("OPTIMISM_RPC_URL", "http://localhost:8546"),
			ChainID:            getEnvUint64("OPTIMISM_CHAIN_ID", 10),
			Stablecoin:         getEnvAccount("OPTIMISM_STABLECOIN", "0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85"),
			StablecoinDecimals: 6,
			PriceFeed:          getEnvAccount("OPTIMISM_PRICE_FEED", "0x16a9FA2FDa030272Ce99B29CF780dFA30361E0f3"),
		},
		"Arbitrum": {
			Name:               "Arbitrum",
			RPCURL:             getEnvWithDefault("ARBITRUM_RPC_URL", "http://localhost:8547"),
			ChainID:            getEnvUint64("ARBITRUM_CHAIN_ID", 42161),
			Stablecoin:         getEnvAccount("ARBITRUM_STABLECOIN", "0xaf88d065e77c8cC2239327C5EDb3A432268e5831"),
			StablecoinDecimals: 6,
			PriceFeed:          getEnvAccount("ARBITRUM_PRICE_FEED", "0x50834F3163758fcC1Df9973b6e91f0F0F0434aD3"),
		},
		"Base": {
			Name:               "Base",
			RPCURL:             getEnvWithDefault("BASE_RPC_URL", "http://localhost:8548"),
			ChainID:            getEnvUint64("BASE_CHAIN_ID", 8453),
			Stablecoin:         getEnvAccount("BASE_STABLECOIN", "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"),
			StablecoinDecimals: 6,
			PriceFeed:          getEnvAccount("BASE_PRICE_FEED", "0x7e860098F58bBFC8648a4311b374B1D669a2bc6B"),
		},
		"BNB": {
			Name:               "BNB",
			RPCURL:             getEnvWithDefault("BNB_RPC_URL", "http://localhost:8549"),
			ChainID:            getEnvUint64("BNB_CHAIN_ID", 56),
			Stablecoin:         getEnvAccount("BNB_STABLECOIN", "0x8AC76a51cc950d9822D68b83fE1Ad97B32Cd580d"),
			StablecoinDecimals: 18,
			PriceFeed:          getEnvAccount("BNB_PRICE_FEED", "0x51597f405303C4377E36123cBc172b13269EA163"),
		},
		"Starknet": {
			Name:               "Starknet",
			RPCURL:             getEnvWithDefault("STARKNET_RPC_URL", "http://localhost:5050"),
			ChainID:            getEnvUint64("STARKNET_CHAIN_ID", 23448594291968334), // "SN_MAIN"
			Stablecoin:         getEnvAccount("STARKNET_STABLECOIN", "0x053c91253bc9682c04929ca02ed00b3e423f6710d2ee7e0d5ebb06f3ecf368a8"),
			StablecoinDecimals: 6,
		},
	}
}

// GetNetworkConfig returns the configuration for a given network name
func GetNetworkConfig(networkName string) (NetworkConfig, error) {
	if config, exists := Networks[networkName]; exists {
		return config, nil
	}
	return NetworkConfig{}, fmt.Errorf("network not found: %s", networkName)
}

// GetNetworkByChainID returns the configuration for a given chain ID
func GetNetworkByChainID(chainID uint64) (NetworkConfig, error) {
	for _, network := range Networks {
		if network.ChainID == chainID {
			return network, nil
		}
	}
	return NetworkConfig{}, fmt.Errorf("network not found for chain ID: %d", chainID)
}

// ChainDecimals maps every configured chain ID to its stablecoin decimals.
func ChainDecimals() map[uint64]uint8 {
	out := make(map[uint64]uint8, len(Networks))
	for _, network := range Networks {
		out[network.ChainID] = network.StablecoinDecimals
	}
	return out
}

// GetNetworkNames returns all available network names, sorted
func GetNetworkNames() []string {
	names := make([]string, 0, len(Networks))
	for name := range Networks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
