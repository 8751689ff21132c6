package scheduler

import "github.com/heymumford/ztoq/internal/model"

// Partition splits a stable item enumeration into fixed-size batches.
// Batch n always covers items [n*size, (n+1)*size) of the enumeration, so
// re-partitioning the same snapshot yields identical batches and a resumed
// run can trust previously recorded batch numbers.
func Partition(project string, phase model.Phase, kind model.EntityKind, itemIDs []string, batchSize int) []*model.Batch {
	if batchSize <= 0 {
		batchSize = 50
	}

	batches := make([]*model.Batch, 0, (len(itemIDs)+batchSize-1)/batchSize)
	for start := 0; start < len(itemIDs); start += batchSize {
		end := start + batchSize
		if end > len(itemIDs) {
			end = len(itemIDs)
		}
		batches = append(batches, &model.Batch{
			Project:     project,
			Phase:       phase,
			Kind:        kind,
			BatchNumber: len(batches),
			TotalItems:  end - start,
			Status:      model.BatchStatusPending,
			ItemIDs:     itemIDs[start:end],
		})
	}
	return batches
}
