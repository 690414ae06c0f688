// Package chainobserver implements the adapter that pulls new shields
// from a chain starting at a given block, and resolves a txid to its
// receipt and block timestamp. It only needs enough of an EVM client to
// locate Shield log events and resolve transaction receipts, so it is
// built directly on go-ethereum's own public client rather than a
// heavier wallet/indexing library.
package chainobserver

import (
	"context"
	"encoding/binary"
	"math/big"
	"strings"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"

	"github.com/zy0n/proof-of-innocence/internal/model"
)

// ShieldObservation is one shield as reported by the adapter, before
// it has been persisted into the shield queue.
type ShieldObservation struct {
	TXID              string
	Hash              string
	BlindedCommitment string
	Timestamp         int64
	BlockNumber       uint64
}

// Receipt is the subset of a transaction receipt the validation poller
// needs: the block-confirmed timestamp and the sender address.
type Receipt struct {
	FromAddress string // lowercase hex, 0x-prefixed
	Timestamp   int64  // unix millis of the receipt's block
	BlockNumber uint64
}

// Observer lets pollers be tested against a fake without dialing a
// real RPC endpoint.
type Observer interface {
	FetchNewShields(ctx context.Context, network model.Network, fromBlock uint64) ([]ShieldObservation, error)
	FetchReceipt(ctx context.Context, network model.Network, txid string) (Receipt, error)
}

// NetworkClient pairs an ethclient.Client with the shield contract it
// should be filtered against.
type NetworkClient struct {
	Client          *ethclient.Client
	ShieldContract  common.Address
	ShieldEventSig  common.Hash // topic0 of the Shield log
	ChainID         *big.Int
	LogChunkBlocks  uint64 // max block span per eth_getLogs call
}

// EthObserver is the real Observer implementation, one ethclient per
// network.
type EthObserver struct {
	clients       map[model.Network]NetworkClient
	receiptCache  *fastcache.Cache
	log           log.Logger
}

// NewEthObserver builds an observer over the given per-network
// clients. receiptCacheBytes sizes the bounded receipt cache (spec
// §4.4 step 3b re-fetches receipts across passes until a shield ages
// past the pending period; the cache avoids redundant RPC calls for
// rows re-examined within the same process lifetime).
func NewEthObserver(clients map[model.Network]NetworkClient, receiptCacheBytes int) *EthObserver {
	if receiptCacheBytes <= 0 {
		receiptCacheBytes = 32 * 1024 * 1024
	}
	return &EthObserver{
		clients:      clients,
		receiptCache: fastcache.New(receiptCacheBytes),
		log:          log.New("component", "chainobserver"),
	}
}

// FetchNewShields scans [fromBlock, latest] in bounded chunks for
// Shield log events and returns them in ascending block order.
func (o *EthObserver) FetchNewShields(ctx context.Context, network model.Network, fromBlock uint64) ([]ShieldObservation, error) {
	nc, ok := o.clients[network]
	if !ok {
		return nil, errors.Newf("chainobserver: unconfigured network %q", network)
	}

	latest, err := nc.Client.BlockNumber(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch latest block on %s", network)
	}
	if fromBlock > latest {
		return nil, nil
	}

	chunk := nc.LogChunkBlocks
	if chunk == 0 {
		chunk = 2000
	}

	var out []ShieldObservation
	for start := fromBlock; start <= latest; start += chunk {
		end := start + chunk - 1
		if end > latest {
			end = latest
		}
		query := ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(start),
			ToBlock:   new(big.Int).SetUint64(end),
			Addresses: []common.Address{nc.ShieldContract},
			Topics:    [][]common.Hash{{nc.ShieldEventSig}},
		}
		logs, err := nc.Client.FilterLogs(ctx, query)
		if err != nil {
			return nil, errors.Wrapf(err, "filter shield logs on %s [%d,%d]", network, start, end)
		}
		for _, lg := range logs {
			obs, err := decodeShieldLog(ctx, nc, lg)
			if err != nil {
				o.log.Warn("dropping undecodable shield log", "network", network, "txid", lg.TxHash.Hex(), "err", err)
				continue
			}
			out = append(out, obs)
		}
	}
	return out, nil
}

func decodeShieldLog(ctx context.Context, nc NetworkClient, lg types.Log) (ShieldObservation, error) {
	if len(lg.Topics) < 2 || len(lg.Data) < 32 {
		return ShieldObservation{}, errors.New("shield log missing commitment hash or blinded commitment")
	}
	header, err := nc.Client.HeaderByNumber(ctx, new(big.Int).SetUint64(lg.BlockNumber))
	if err != nil {
		return ShieldObservation{}, errors.Wrap(err, "fetch block header for shield log")
	}
	return ShieldObservation{
		TXID:              strings.ToLower(lg.TxHash.Hex()),
		Hash:              strings.ToLower(lg.Topics[1].Hex()),
		BlindedCommitment: strings.ToLower(common.BytesToHash(lg.Data[:32]).Hex()),
		Timestamp:         int64(header.Time) * 1000,
		BlockNumber:       lg.BlockNumber,
	}, nil
}

// FetchReceipt resolves txid to its receipt, re-deriving the block
// timestamp and the sender address. Results are cached; callers
// re-deriving an already-cached receipt for a still-pending row get it
// without another round trip.
func (o *EthObserver) FetchReceipt(ctx context.Context, network model.Network, txid string) (Receipt, error) {
	cacheKey := []byte(string(network) + "|" + txid)
	if cached := o.receiptCache.Get(nil, cacheKey); len(cached) > 0 {
		return decodeCachedReceipt(cached), nil
	}

	nc, ok := o.clients[network]
	if !ok {
		return Receipt{}, errors.Newf("chainobserver: unconfigured network %q", network)
	}

	txHash := common.HexToHash(txid)
	receipt, err := nc.Client.TransactionReceipt(ctx, txHash)
	if err != nil {
		return Receipt{}, errors.Wrapf(err, "fetch receipt %s on %s", txid, network)
	}
	header, err := nc.Client.HeaderByNumber(ctx, receipt.BlockNumber)
	if err != nil {
		return Receipt{}, errors.Wrapf(err, "fetch header for receipt %s on %s", txid, network)
	}
	tx, _, err := nc.Client.TransactionByHash(ctx, txHash)
	if err != nil {
		return Receipt{}, errors.Wrapf(err, "fetch transaction %s on %s", txid, network)
	}
	signer := types.LatestSignerForChainID(nc.ChainID)
	from, err := types.Sender(signer, tx)
	if err != nil {
		return Receipt{}, errors.Wrapf(err, "recover sender for %s on %s", txid, network)
	}

	r := Receipt{
		FromAddress: strings.ToLower(from.Hex()),
		Timestamp:   int64(header.Time) * 1000,
		BlockNumber: receipt.BlockNumber.Uint64(),
	}
	o.receiptCache.Set(cacheKey, encodeCachedReceipt(r))
	return r, nil
}

// encodeCachedReceipt/decodeCachedReceipt pack a Receipt into a flat
// byte slice for fastcache, which only stores []byte values.
func encodeCachedReceipt(r Receipt) []byte {
	buf := make([]byte, 8+8+len(r.FromAddress))
	binary.BigEndian.PutUint64(buf[0:8], uint64(r.Timestamp))
	binary.BigEndian.PutUint64(buf[8:16], r.BlockNumber)
	copy(buf[16:], r.FromAddress)
	return buf
}

func decodeCachedReceipt(buf []byte) Receipt {
	return Receipt{
		Timestamp:   int64(binary.BigEndian.Uint64(buf[0:8])),
		BlockNumber: binary.BigEndian.Uint64(buf[8:16]),
		FromAddress: string(buf[16:]),
	}
}
