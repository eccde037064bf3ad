package sync

import (
	"time"

	"github.com/finsync/integration-connector/internal/domain"
	"github.com/finsync/integration-connector/internal/integrations"

	"github.com/sirupsen/logrus"
)

// NormalizeBatch converts one vendor page into raw objects ready for the
// persistence gateway.  Records missing the external id or a usable update
// timestamp are dropped and counted rather than failing the batch - one
// malformed record must never stall the account's entire change stream.
func NormalizeBatch(log *logrus.Entry, account domain.IntegrationAccount, kind domain.ObjectKind, records []integrations.VendorRecord, now time.Time) []domain.RawExternalObject {

	normalized := make([]domain.RawExternalObject, 0, len(records))

	var skipped int

	for _, record := range records {

		if record.ExternalID == "" || record.UpdatedAt.IsZero() {
			skipped++
			continue
		}

		normalized = append(normalized, domain.RawExternalObject{
			AccountID:        account.ID,
			ObjectKind:       kind,
			ExternalObjectID: record.ExternalID,
			Payload:          record.Payload,
			VendorUpdatedAt:  record.UpdatedAt.UTC(),
			IngestedAt:       now,
		})
	}

	if skipped > 0 {
		metrics.malformedRecordsSkipped.Add(float64(skipped))
		log.WithFields(logrus.Fields{"skipped": skipped}).Warn("Skipped malformed vendor records")
	}

	return normalized
}
