package decoder

import (
	"encoding/base64"
	"fmt"

	"captable-indexer/internal/domain"
)

// Encode serializes an event as the payload of a "Program data:" log line.
// It is the inverse of Decode and is used to build replay fixtures.
func Encode(ev domain.Event) (string, error) {
	w := &writer{}
	switch e := ev.(type) {
	case domain.TokenInitialized:
		d := discTokenInitialized
		w.buf = append(w.buf, d[:]...)
		w.pubkey(e.Authority)
		w.pubkey(e.Mint)
		w.str(e.Symbol)
		w.str(e.Name)
		w.u8(e.Decimals)
	case domain.WalletApproved:
		d := discWalletApproved
		w.buf = append(w.buf, d[:]...)
		w.pubkey(e.Mint)
		w.pubkey(e.Wallet)
		w.pubkey(e.ApprovedBy)
		w.i64(e.Timestamp)
	case domain.WalletRevoked:
		d := discWalletRevoked
		w.buf = append(w.buf, d[:]...)
		w.pubkey(e.Mint)
		w.pubkey(e.Wallet)
		w.pubkey(e.RevokedBy)
		w.i64(e.Timestamp)
	case domain.TokensMinted:
		d := discTokensMinted
		w.buf = append(w.buf, d[:]...)
		w.pubkey(e.Mint)
		w.pubkey(e.Recipient)
		w.u64(e.Amount)
		w.u64(e.NewSupply)
	case domain.TokensTransferred:
		d := discTokensTransferred
		w.buf = append(w.buf, d[:]...)
		w.pubkey(e.Mint)
		w.pubkey(e.From)
		w.pubkey(e.To)
		w.u64(e.Amount)
	default:
		return "", fmt.Errorf("unsupported event %T", ev)
	}
	if w.err != nil {
		return "", w.err
	}
	return base64.StdEncoding.EncodeToString(w.buf), nil
}

// ProgramLogs wraps events in the invoke/success frame the runtime emits for programID.
func ProgramLogs(programID string, events ...domain.Event) ([]string, error) {
	logs := []string{"Program " + programID + " invoke [1]"}
	for _, ev := range events {
		data, err := Encode(ev)
		if err != nil {
			return nil, err
		}
		logs = append(logs, "Program log: Instruction: "+ev.EventName(), dataPrefix+data)
	}
	logs = append(logs, "Program "+programID+" success")
	return logs, nil
}
