// Package decoder turns Anchor program logs into domain events.
//
// Anchor emits each event as a "Program data: <base64>" log line whose payload
// is an 8-byte discriminator, sha256("event:<Name>")[:8], followed by the
// Borsh-encoded fields.
package decoder

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	"captable-indexer/internal/domain"
)

const (
	dataPrefix     = "Program data: "
	programPrefix  = "Program "
	invokeMarker   = " invoke ["
	successSuffix  = " success"
	failedMarker   = " failed"
	discriminatorN = 8
)

// Decoded is an event with its position among the transaction's log lines.
type Decoded struct {
	Index int
	Event domain.Event
}

// Decoder extracts events from transaction logs.
type Decoder interface {
	// Decode returns every recognized event in log order. Lines that fail to
	// decode are reported as errors wrapping domain.ErrDecode and skipped.
	Decode(logs []string) ([]Decoded, []error)
}

// AnchorDecoder decodes events emitted by one Anchor program.
type AnchorDecoder struct {
	programID string
}

// NewAnchorDecoder creates a decoder for programID.
func NewAnchorDecoder(programID string) *AnchorDecoder {
	return &AnchorDecoder{programID: programID}
}

// Discriminator returns the Anchor event discriminator for an event name.
func Discriminator(name string) [discriminatorN]byte {
	sum := sha256.Sum256([]byte("event:" + name))
	var d [discriminatorN]byte
	copy(d[:], sum[:discriminatorN])
	return d
}

var (
	discTokenInitialized  = Discriminator(domain.TokenInitialized{}.EventName())
	discWalletApproved    = Discriminator(domain.WalletApproved{}.EventName())
	discWalletRevoked     = Discriminator(domain.WalletRevoked{}.EventName())
	discTokensMinted      = Discriminator(domain.TokensMinted{}.EventName())
	discTokensTransferred = Discriminator(domain.TokensTransferred{}.EventName())
)

// Decode implements Decoder. Only data lines emitted while our program is on
// top of the invoke stack are considered.
func (d *AnchorDecoder) Decode(logs []string) ([]Decoded, []error) {
	var (
		events []Decoded
		errs   []error
		stack  []string
	)

	for i, line := range logs {
		switch {
		case strings.HasPrefix(line, dataPrefix):
			if len(stack) > 0 && stack[len(stack)-1] != d.programID {
				continue
			}
			ev, ok, err := decodeData(strings.TrimPrefix(line, dataPrefix))
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: log line %d: %v", domain.ErrDecode, i, err))
				continue
			}
			if ok {
				events = append(events, Decoded{Index: i, Event: ev})
			}

		case strings.HasPrefix(line, programPrefix):
			rest := strings.TrimPrefix(line, programPrefix)
			if j := strings.Index(rest, invokeMarker); j > 0 {
				stack = append(stack, rest[:j])
				continue
			}
			if strings.HasSuffix(rest, successSuffix) || strings.Contains(rest, failedMarker) {
				if len(stack) > 0 {
					stack = stack[:len(stack)-1]
				}
			}
		}
	}
	return events, errs
}

// decodeData decodes one base64 payload. Unknown discriminators are not errors;
// they report ok=false.
func decodeData(payload string) (domain.Event, bool, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return nil, false, fmt.Errorf("base64: %v", err)
	}
	if len(raw) < discriminatorN {
		return nil, false, fmt.Errorf("payload of %d bytes has no discriminator", len(raw))
	}

	var disc [discriminatorN]byte
	copy(disc[:], raw[:discriminatorN])
	r := &reader{buf: raw, off: discriminatorN}

	var ev domain.Event
	switch disc {
	case discTokenInitialized:
		ev, err = readTokenInitialized(r)
	case discWalletApproved:
		ev, err = readWalletApproved(r)
	case discWalletRevoked:
		ev, err = readWalletRevoked(r)
	case discTokensMinted:
		ev, err = readTokensMinted(r)
	case discTokensTransferred:
		ev, err = readTokensTransferred(r)
	default:
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return ev, true, nil
}

func readTokenInitialized(r *reader) (domain.Event, error) {
	var (
		e   domain.TokenInitialized
		err error
	)
	if e.Authority, err = r.pubkey(); err != nil {
		return nil, err
	}
	if e.Mint, err = r.pubkey(); err != nil {
		return nil, err
	}
	if e.Symbol, err = r.str(); err != nil {
		return nil, err
	}
	if e.Name, err = r.str(); err != nil {
		return nil, err
	}
	if e.Decimals, err = r.u8(); err != nil {
		return nil, err
	}
	return e, nil
}

func readWalletApproved(r *reader) (domain.Event, error) {
	var (
		e   domain.WalletApproved
		err error
	)
	if e.Mint, err = r.pubkey(); err != nil {
		return nil, err
	}
	if e.Wallet, err = r.pubkey(); err != nil {
		return nil, err
	}
	if e.ApprovedBy, err = r.pubkey(); err != nil {
		return nil, err
	}
	if e.Timestamp, err = r.i64(); err != nil {
		return nil, err
	}
	return e, nil
}

func readWalletRevoked(r *reader) (domain.Event, error) {
	var (
		e   domain.WalletRevoked
		err error
	)
	if e.Mint, err = r.pubkey(); err != nil {
		return nil, err
	}
	if e.Wallet, err = r.pubkey(); err != nil {
		return nil, err
	}
	if e.RevokedBy, err = r.pubkey(); err != nil {
		return nil, err
	}
	if e.Timestamp, err = r.i64(); err != nil {
		return nil, err
	}
	return e, nil
}

func readTokensMinted(r *reader) (domain.Event, error) {
	var (
		e   domain.TokensMinted
		err error
	)
	if e.Mint, err = r.pubkey(); err != nil {
		return nil, err
	}
	if e.Recipient, err = r.pubkey(); err != nil {
		return nil, err
	}
	if e.Amount, err = r.u64(); err != nil {
		return nil, err
	}
	if e.NewSupply, err = r.u64(); err != nil {
		return nil, err
	}
	return e, nil
}

func readTokensTransferred(r *reader) (domain.Event, error) {
	var (
		e   domain.TokensTransferred
		err error
	)
	if e.Mint, err = r.pubkey(); err != nil {
		return nil, err
	}
	if e.From, err = r.pubkey(); err != nil {
		return nil, err
	}
	if e.To, err = r.pubkey(); err != nil {
		return nil, err
	}
	if e.Amount, err = r.u64(); err != nil {
		return nil, err
	}
	return e, nil
}

var _ Decoder = (*AnchorDecoder)(nil)
