package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"

	"github.com/Genius-Foundation/genius-contracts-sub003/internal/auth"
	"github.com/Genius-Foundation/genius-contracts-sub003/internal/config"
	"github.com/Genius-Foundation/genius-contracts-sub003/internal/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/joho/godotenv"
)

const usage = `usage: sign-revert <network> <custody> <order-digest>

Signs the revert approval for an order on the source network's ledger.
The orchestrator key is read from ORCHESTRATOR_PRIVATE_KEY.`

type approval struct {
	Network      config.NetworkConfig
	Order        types.Digest
	CancelDigest types.Digest
	Signer       common.Address
	Signature    []byte
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("Error loading .env file: %v", err)
	}
	if len(os.Args) != 4 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	keyHex := os.Getenv("ORCHESTRATOR_PRIVATE_KEY")
	if keyHex == "" {
		log.Fatal("ORCHESTRATOR_PRIVATE_KEY environment variable is required")
	}

	config.InitializeNetworks()
	a, err := signRevert(keyHex, os.Args[1], os.Args[2], os.Args[3])
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("✍️  Revert approval for %s on %s (chain %d)\n", a.Order.Hex(), a.Network.Name, a.Network.ChainID)
	fmt.Printf("   Signer:    %s\n", a.Signer.Hex())
	fmt.Printf("   Digest:    %s\n", a.CancelDigest.Hex())
	fmt.Printf("   Signature: %s\n", hexutil.Encode(a.Signature))
}

func signRevert(keyHex, networkName, custodyHex, digestHex string) (*approval, error) {
	signer, err := auth.NewPrivateKeySigner(keyHex)
	if err != nil {
		return nil, fmt.Errorf("failed to parse orchestrator private key: %w", err)
	}
	network, err := config.GetNetworkConfig(networkName)
	if err != nil {
		return nil, err
	}
	custody, err := types.ParseAccount(custodyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid custody account: %w", err)
	}
	raw, err := hexutil.Decode(digestHex)
	if err != nil || len(raw) != common.HashLength {
		return nil, fmt.Errorf("invalid order digest %q", digestHex)
	}
	order := common.BytesToHash(raw)

	sig, err := signer.SignCancel(network.ChainID, custody, order)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	return &approval{
		Network:      network,
		Order:        order,
		CancelDigest: auth.CancelDigest(network.ChainID, custody, order),
		Signer:       signer.Address(),
		Signature:    sig,
	}, nil
}
