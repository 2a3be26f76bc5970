package merge

import "github.com/shopflow/etl/extract"

// Deduplicate collapses a change batch to one record per business ID,
// keeping the record with the maximum version timestamp. When two records
// for the same ID share a version timestamp, the later one in batch order
// wins, the same rule as a stable sort that keeps the last row. Output
// order follows the first appearance of each ID, so deduplication is
// deterministic for identical input.
func Deduplicate(batch extract.ChangeBatch) extract.ChangeBatch {
	if len(batch) < 2 {
		return batch
	}

	index := make(map[int64]int, len(batch))
	out := make(extract.ChangeBatch, 0, len(batch))

	for _, record := range batch {
		i, seen := index[record.ID]
		if !seen {
			index[record.ID] = len(out)
			out = append(out, record)
			continue
		}
		if !record.VersionTimestamp.Before(out[i].VersionTimestamp) {
			out[i] = record
		}
	}

	return out
}
