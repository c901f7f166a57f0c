package reporting

import (
	"encoding/csv"
	"io"
	"strconv"

	"captable-indexer/internal/domain"
)

var csvHeader = []string{"wallet", "amount", "percentage", "allowlist_status", "last_slot"}

// WriteCSV writes one row per holder, largest first as the table orders them.
func WriteCSV(w io.Writer, t *domain.CapTable) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, h := range t.Holders {
		row := []string{
			h.Wallet,
			h.Amount.String(),
			h.Percentage.StringFixed(4),
			string(h.AllowlistStatus),
			strconv.FormatInt(h.LastSlot, 10),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
