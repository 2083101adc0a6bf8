package ledger

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/Genius-Foundation/genius-contracts-sub003/internal/auth"
	"github.com/Genius-Foundation/genius-contracts-sub003/internal/fees"
	"github.com/Genius-Foundation/genius-contracts-sub003/internal/liquidity"
	"github.com/Genius-Foundation/genius-contracts-sub003/internal/priceguard"
	"github.com/Genius-Foundation/genius-contracts-sub003/internal/token"
	"github.com/Genius-Foundation/genius-contracts-sub003/internal/types"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/vmihailenco/msgpack/v5"
)

// SchemaVersion is the snapshot layout written by Snapshot.
//
//	v1: rebalance threshold in percent, no fee refund, no revert grace
//	v2: threshold in bps, fee refund bps, revert grace, price guard settings
//	v3: insurance fee of each open order, balances of in-process tokens
const SchemaVersion = 3

type snapshotHeader struct {
	Version int `msgpack:"version"`
}

type snapshotV3 struct {
	Version            int                 `msgpack:"version"`
	ChainID            uint64              `msgpack:"chain_id"`
	Statuses           map[string]uint8    `msgpack:"statuses"`
	Decimals           map[uint64]uint8    `msgpack:"decimals"`
	Pool               poolRecord          `msgpack:"pool"`
	Fees               feeRecord           `msgpack:"fees"`
	Roles              map[string][]string `msgpack:"roles"`
	Paused             bool                `msgpack:"paused"`
	Price              *priceRecord        `msgpack:"price,omitempty"`
	RevertGraceSeconds int64               `msgpack:"revert_grace_seconds"`
	OrderInsurance     map[string]string   `msgpack:"order_insurance,omitempty"`
	Balances           map[string]string   `msgpack:"balances,omitempty"`
}

type poolRecord struct {
	ThresholdBps  uint64            `msgpack:"threshold_bps"`
	TotalStaked   string            `msgpack:"total_staked"`
	TotalShares   string            `msgpack:"total_shares"`
	ProtocolFees  string            `msgpack:"protocol_fees"`
	Shares        map[string]string `msgpack:"shares"`
	BridgeTargets []string          `msgpack:"bridge_targets"`
}

type tierRecord struct {
	Threshold string `msgpack:"threshold"`
	Bps       uint64 `msgpack:"bps"`
}

type baseFeeRecord struct {
	Token       string `msgpack:"token"`
	DestChainID uint64 `msgpack:"dest_chain_id"`
	Fee         string `msgpack:"fee"`
}

type feeRecord struct {
	Trading   []tierRecord    `msgpack:"trading"`
	Insurance []tierRecord    `msgpack:"insurance"`
	BaseFees  []baseFeeRecord `msgpack:"base_fees"`
	RefundBps uint64          `msgpack:"refund_bps"`
}

type priceRecord struct {
	Lower            string `msgpack:"lower"`
	Upper            string `msgpack:"upper"`
	HeartbeatSeconds int64  `msgpack:"heartbeat_seconds"`
}

type snapshotV1 struct {
	Version  int                 `msgpack:"version"`
	ChainID  uint64              `msgpack:"chain_id"`
	Statuses map[string]uint8    `msgpack:"statuses"`
	Decimals map[uint64]uint8    `msgpack:"decimals"`
	Pool     poolRecordV1        `msgpack:"pool"`
	Fees     feeRecordV1         `msgpack:"fees"`
	Roles    map[string][]string `msgpack:"roles"`
	Paused   bool                `msgpack:"paused"`
}

type poolRecordV1 struct {
	ThresholdPercent uint64            `msgpack:"threshold_percent"`
	TotalStaked      string            `msgpack:"total_staked"`
	TotalShares      string            `msgpack:"total_shares"`
	ProtocolFees     string            `msgpack:"protocol_fees"`
	Shares           map[string]string `msgpack:"shares"`
	BridgeTargets    []string          `msgpack:"bridge_targets"`
}

type feeRecordV1 struct {
	Trading   []tierRecord    `msgpack:"trading"`
	Insurance []tierRecord    `msgpack:"insurance"`
	BaseFees  []baseFeeRecord `msgpack:"base_fees"`
}

// migrateV1 converts the percent threshold to bps. v1 ledgers never refunded fees.
func migrateV1(old snapshotV1) (snapshotV3, error) {
	if old.Pool.ThresholdPercent > 100 {
		return snapshotV3{}, fmt.Errorf("%w: v1 threshold %d%%", types.ErrInvalidThreshold, old.Pool.ThresholdPercent)
	}
	return snapshotV3{
		Version:  SchemaVersion,
		ChainID:  old.ChainID,
		Statuses: old.Statuses,
		Decimals: old.Decimals,
		Pool: poolRecord{
			ThresholdBps:  old.Pool.ThresholdPercent * 100,
			TotalStaked:   old.Pool.TotalStaked,
			TotalShares:   old.Pool.TotalShares,
			ProtocolFees:  old.Pool.ProtocolFees,
			Shares:        old.Pool.Shares,
			BridgeTargets: old.Pool.BridgeTargets,
		},
		Fees: feeRecord{
			Trading:   old.Fees.Trading,
			Insurance: old.Fees.Insurance,
			BaseFees:  old.Fees.BaseFees,
		},
		Roles:  old.Roles,
		Paused: old.Paused,
	}, nil
}

// decodeSnapshot reads any supported version and migrates it to the current one.
func decodeSnapshot(data []byte) (snapshotV3, error) {
	var header snapshotHeader
	if err := msgpack.Unmarshal(data, &header); err != nil {
		return snapshotV3{}, fmt.Errorf("failed to decode snapshot header: %w", err)
	}
	switch header.Version {
	case 1:
		var old snapshotV1
		if err := msgpack.Unmarshal(data, &old); err != nil {
			return snapshotV3{}, fmt.Errorf("failed to decode v1 snapshot: %w", err)
		}
		return migrateV1(old)
	case 2, SchemaVersion:
		// v3 only adds fields; a v2 snapshot has no insurance records, so its
		// open orders refund fees from protocol fees alone.
		var s snapshotV3
		if err := msgpack.Unmarshal(data, &s); err != nil {
			return snapshotV3{}, fmt.Errorf("failed to decode v%d snapshot: %w", header.Version, err)
		}
		s.Version = SchemaVersion
		return s, nil
	default:
		return snapshotV3{}, fmt.Errorf("%w: version %d", types.ErrUnsupportedSchema, header.Version)
	}
}

// Snapshot encodes every stored field of the ledger. Token balances are only
// included for tokens that live in process (token.Snapshotter).
func (l *Ledger) Snapshot(ctx context.Context) ([]byte, error) {
	var s snapshotV3
	err := l.read(ctx, func(context.Context) error {
		s = l.exportLocked()
		return nil
	})
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(&s); err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

func (l *Ledger) exportLocked() snapshotV3 {
	s := snapshotV3{
		Version:            SchemaVersion,
		ChainID:            l.cfg.ChainID,
		Statuses:           make(map[string]uint8, len(l.statuses)),
		Decimals:           make(map[uint64]uint8, len(l.decimals)),
		Roles:              make(map[string][]string),
		RevertGraceSeconds: int64(l.cfg.RevertGracePeriod / time.Second),
	}
	for d, status := range l.statuses {
		s.Statuses[d.Hex()] = uint8(status)
	}
	for chain, dec := range l.decimals {
		s.Decimals[chain] = dec
	}
	if len(l.insurance) > 0 {
		s.OrderInsurance = make(map[string]string, len(l.insurance))
		for d, fee := range l.insurance {
			s.OrderInsurance[d.Hex()] = fee.Dec()
		}
	}
	if snap, ok := l.pool.Token().(token.Snapshotter); ok {
		if balances := snap.Balances(); len(balances) > 0 {
			s.Balances = make(map[string]string, len(balances))
			for account, b := range balances {
				s.Balances[account.Hex()] = b.Dec()
			}
		}
	}

	ps := l.pool.Export()
	s.Pool = poolRecord{
		ThresholdBps: ps.ThresholdBps,
		TotalStaked:  ps.TotalStaked.Dec(),
		TotalShares:  ps.TotalShares.Dec(),
		ProtocolFees: ps.ProtocolFees.Dec(),
		Shares:       make(map[string]string, len(ps.Shares)),
	}
	for owner, shares := range ps.Shares {
		s.Pool.Shares[owner.Hex()] = shares.Dec()
	}
	for _, target := range ps.BridgeTargets {
		s.Pool.BridgeTargets = append(s.Pool.BridgeTargets, target.Hex())
	}

	s.Fees = feeRecord{
		Trading:   tierRecords(l.fees.TradingTiers()),
		Insurance: tierRecords(l.fees.InsuranceTiers()),
		RefundBps: l.fees.RefundBps(),
	}
	for _, bf := range l.fees.BaseFees() {
		s.Fees.BaseFees = append(s.Fees.BaseFees, baseFeeRecord{Token: bf.Token.Hex(), DestChainID: bf.DestChainID, Fee: bf.Fee.Dec()})
	}

	gs := l.gate.Export()
	for role, members := range gs.Members {
		for _, m := range members {
			s.Roles[string(role)] = append(s.Roles[string(role)], m.Hex())
		}
	}
	s.Paused = gs.Paused

	if l.guard != nil {
		lower, upper := l.guard.Bounds()
		s.Price = &priceRecord{
			Lower:            lower.String(),
			Upper:            upper.String(),
			HeartbeatSeconds: int64(l.guard.Heartbeat() / time.Second),
		}
	}
	return s
}

// Restore replaces the stored state with a snapshot of this chain, migrating
// older versions. Nothing changes if any part fails to decode or validate.
func (l *Ledger) Restore(ctx context.Context, data []byte) error {
	s, err := decodeSnapshot(data)
	if err != nil {
		return err
	}
	if s.ChainID != l.cfg.ChainID {
		return fmt.Errorf("%w: snapshot of chain %d restored on %d", types.ErrChainMismatch, s.ChainID, l.cfg.ChainID)
	}

	statuses := make(map[types.Digest]types.OrderStatus, len(s.Statuses))
	for key, status := range s.Statuses {
		raw, err := hexutil.Decode(key)
		if err != nil || len(raw) != len(types.Digest{}) {
			return fmt.Errorf("%w: bad digest key %q", types.ErrUnsupportedSchema, key)
		}
		if status > uint8(types.StatusReverted) {
			return fmt.Errorf("%w: bad status %d", types.ErrUnsupportedSchema, status)
		}
		if types.OrderStatus(status) != types.StatusNonexistent {
			statuses[types.Digest(raw)] = types.OrderStatus(status)
		}
	}
	insurance := make(map[types.Digest]*uint256.Int, len(s.OrderInsurance))
	for key, fee := range s.OrderInsurance {
		raw, err := hexutil.Decode(key)
		if err != nil || len(raw) != len(types.Digest{}) {
			return fmt.Errorf("%w: bad insurance key %q", types.ErrUnsupportedSchema, key)
		}
		d := types.Digest(raw)
		if statuses[d] != types.StatusCreated {
			return fmt.Errorf("%w: insurance recorded for %s which is not open", types.ErrUnsupportedSchema, d.Hex())
		}
		if insurance[d], err = decodeAmount(fee); err != nil {
			return err
		}
	}
	balances, err := decodeBalances(s.Balances)
	if err != nil {
		return err
	}
	snap, ok := l.pool.Token().(token.Snapshotter)
	if balances != nil && !ok {
		return fmt.Errorf("%w: snapshot has balances but the token keeps its own", types.ErrUnsupportedSchema)
	}
	decimals := map[uint64]uint8{l.cfg.ChainID: l.cfg.Decimals}
	for chain, dec := range s.Decimals {
		if chain != l.cfg.ChainID {
			decimals[chain] = dec
		}
	}

	poolState, err := decodePool(s.Pool)
	if err != nil {
		return err
	}
	engine, err := decodeFees(s.Fees)
	if err != nil {
		return err
	}
	gate, err := decodeRoles(s.Roles, s.Paused)
	if err != nil {
		return err
	}
	var lower, upper *big.Int
	if s.Price != nil {
		if l.guard == nil {
			return fmt.Errorf("%w: snapshot has price settings but no guard is configured", types.ErrPriceFeedUnavailable)
		}
		var ok bool
		lower, ok = new(big.Int).SetString(s.Price.Lower, 10)
		if !ok {
			return fmt.Errorf("%w: price lower bound %q", types.ErrUnsupportedSchema, s.Price.Lower)
		}
		upper, ok = new(big.Int).SetString(s.Price.Upper, 10)
		if !ok {
			return fmt.Errorf("%w: price upper bound %q", types.ErrUnsupportedSchema, s.Price.Upper)
		}
		if _, err := priceguard.New(nil, time.Duration(s.Price.HeartbeatSeconds)*time.Second, lower, upper); err != nil {
			return err
		}
	}
	if s.RevertGraceSeconds < 0 || s.RevertGraceSeconds > int64(math.MaxInt64/time.Second) {
		return fmt.Errorf("%w: revert grace %ds", types.ErrUnsupportedSchema, s.RevertGraceSeconds)
	}

	return l.run(ctx, "restore", types.ZeroAccount, false, func(c *call) error {
		if err := l.pool.Import(poolState); err != nil {
			return err
		}
		if s.Price != nil {
			_ = l.guard.SetBounds(lower, upper)
			_ = l.guard.SetHeartbeat(time.Duration(s.Price.HeartbeatSeconds) * time.Second)
		}
		if balances != nil {
			snap.SetBalances(balances)
		}
		l.statuses = statuses
		l.insurance = insurance
		l.decimals = decimals
		l.fees = engine
		l.gate = gate
		l.cfg.RevertGracePeriod = time.Duration(s.RevertGraceSeconds) * time.Second
		l.log.WithField("orders", len(statuses)).Info("Ledger state restored")
		return nil
	})
}

func decodePool(r poolRecord) (liquidity.State, error) {
	if r.ThresholdBps > liquidity.MaxThresholdBps {
		return liquidity.State{}, fmt.Errorf("%w: %d bps", types.ErrInvalidThreshold, r.ThresholdBps)
	}
	s := liquidity.State{ThresholdBps: r.ThresholdBps, Shares: make(map[types.Account]*uint256.Int, len(r.Shares))}
	var err error
	if s.TotalStaked, err = decodeAmount(r.TotalStaked); err != nil {
		return s, err
	}
	if s.TotalShares, err = decodeAmount(r.TotalShares); err != nil {
		return s, err
	}
	if s.ProtocolFees, err = decodeAmount(r.ProtocolFees); err != nil {
		return s, err
	}
	for owner, shares := range r.Shares {
		a, err := types.ParseAccount(owner)
		if err != nil {
			return s, fmt.Errorf("%w: share owner: %v", types.ErrUnsupportedSchema, err)
		}
		if s.Shares[a], err = decodeAmount(shares); err != nil {
			return s, err
		}
	}
	for _, target := range r.BridgeTargets {
		a, err := types.ParseAccount(target)
		if err != nil {
			return s, fmt.Errorf("%w: bridge target: %v", types.ErrUnsupportedSchema, err)
		}
		s.BridgeTargets = append(s.BridgeTargets, a)
	}
	return s, nil
}

func decodeBalances(r map[string]string) (map[types.Account]*uint256.Int, error) {
	if len(r) == 0 {
		return nil, nil
	}
	out := make(map[types.Account]*uint256.Int, len(r))
	for owner, amount := range r {
		a, err := types.ParseAccount(owner)
		if err != nil {
			return nil, fmt.Errorf("%w: balance owner: %v", types.ErrUnsupportedSchema, err)
		}
		if out[a], err = decodeAmount(amount); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func decodeFees(r feeRecord) (*fees.Engine, error) {
	e := fees.NewEngine()
	trading, err := decodeTiers(r.Trading)
	if err != nil {
		return nil, err
	}
	if err := e.SetTradingTiers(trading); err != nil {
		return nil, err
	}
	insurance, err := decodeTiers(r.Insurance)
	if err != nil {
		return nil, err
	}
	if err := e.SetInsuranceTiers(insurance); err != nil {
		return nil, err
	}
	if err := e.SetRefundBps(r.RefundBps); err != nil {
		return nil, err
	}
	for _, bf := range r.BaseFees {
		tok, err := types.ParseAccount(bf.Token)
		if err != nil {
			return nil, fmt.Errorf("%w: base fee token: %v", types.ErrUnsupportedSchema, err)
		}
		fee, err := decodeAmount(bf.Fee)
		if err != nil {
			return nil, err
		}
		e.SetBaseFee(tok, bf.DestChainID, fee)
	}
	return e, nil
}

func decodeRoles(roles map[string][]string, paused bool) (*auth.Gate, error) {
	state := auth.State{Members: make(map[auth.Role][]types.Account, len(roles)), Paused: paused}
	for role, members := range roles {
		for _, m := range members {
			a, err := types.ParseAccount(m)
			if err != nil {
				return nil, fmt.Errorf("%w: %s member: %v", types.ErrUnsupportedSchema, role, err)
			}
			state.Members[auth.Role(role)] = append(state.Members[auth.Role(role)], a)
		}
	}
	admins := state.Members[auth.RoleAdmin]
	if len(admins) == 0 {
		return nil, fmt.Errorf("%w: snapshot has no admin", types.ErrUnsupportedSchema)
	}
	gate, err := auth.NewGate(admins[0])
	if err != nil {
		return nil, err
	}
	if err := gate.Import(state); err != nil {
		return nil, err
	}
	return gate, nil
}

func decodeTiers(records []tierRecord) ([]fees.Tier, error) {
	tiers := make([]fees.Tier, len(records))
	for i, r := range records {
		threshold, err := decodeAmount(r.Threshold)
		if err != nil {
			return nil, err
		}
		tiers[i] = fees.Tier{Threshold: threshold, Bps: r.Bps}
	}
	return tiers, nil
}

func tierRecords(tiers []fees.Tier) []tierRecord {
	out := make([]tierRecord, len(tiers))
	for i, t := range tiers {
		out[i] = tierRecord{Threshold: t.Threshold.Dec(), Bps: t.Bps}
	}
	return out
}

func decodeAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: amount %q: %v", types.ErrUnsupportedSchema, s, err)
	}
	return v, nil
}
