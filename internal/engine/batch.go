package engine

import "github.com/agentpay/agentpay/internal/domain"

// DefaultMaxBatch bounds how many occurrences one recurring request may
// expand into, to bound the cost of a single call.
const DefaultMaxBatch = 52

const secondsPerDay = 86400

// paymentDates expands a recurring schedule into discrete due dates:
// occurrence k falls at startDate + k*intervalDays days. The whole
// schedule is validated up front so a batch is accepted or rejected as a
// unit.
func paymentDates(startDate, intervalDays, count, now int64, maxBatch int) ([]int64, error) {
	if count < 1 || count > int64(maxBatch) {
		return nil, domain.ErrInvalidDate
	}
	if intervalDays <= 0 {
		return nil, domain.ErrInvalidDate
	}
	if startDate < now {
		return nil, domain.ErrInvalidDate
	}

	dates := make([]int64, count)
	for k := int64(0); k < count; k++ {
		dates[k] = startDate + k*intervalDays*secondsPerDay
	}
	return dates, nil
}
