package rpcnode

import (
	"fmt"
	"strconv"

	"github.com/ore-pool/stratum/internal/mining"
)

// daemonTemplate mirrors a getblocktemplate response, the fields a
// Bitcoin-derived daemon returns for all BIP22/BIP23-compatible coins.
type daemonTemplate struct {
	Version                  int64               `json:"version"`
	PreviousBlockHash        string              `json:"previousblockhash"`
	Transactions             []daemonTransaction `json:"transactions"`
	CoinbaseValue            int64               `json:"coinbasevalue"`
	CurTime                  int64               `json:"curtime"`
	Bits                     string              `json:"bits"`
	Height                   int64               `json:"height"`
	DefaultWitnessCommitment string              `json:"default_witness_commitment"`
}

type daemonTransaction struct {
	Data string `json:"data"`
	TxID string `json:"txid"`
	Hash string `json:"hash"`
}

func (d *daemonTemplate) toBlockTemplate() (*mining.BlockTemplate, error) {
	bits, err := strconv.ParseUint(d.Bits, 16, 32)
	if err != nil {
		return nil, fmt.Errorf("rpcnode: invalid bits %q: %w", d.Bits, err)
	}

	txs := make([]mining.TemplateTransaction, len(d.Transactions))
	for i, tx := range d.Transactions {
		txid := tx.TxID
		if txid == "" {
			txid = tx.Hash
		}
		txs[i] = mining.TemplateTransaction{Hash: txid, Data: tx.Data}
	}

	return mining.NewBlockTemplate(
		d.PreviousBlockHash,
		uint32(d.Version),
		uint32(bits),
		uint32(d.CurTime),
		d.Height,
		uint64(d.CoinbaseValue),
		d.DefaultWitnessCommitment,
		txs,
	), nil
}
