package state

// TotalRecordsKey is the facet holding the number of records of a task.
const TotalRecordsKey = "total_records"

// Counts maps record state names to the number of records in that state,
// plus TotalRecordsKey.
type Counts map[string]int

// NewCounts tallies per-state counts and sets the total to their sum.
func NewCounts(perState map[RecordState]int) Counts {
	c := Counts{}
	total := 0
	for s, n := range perState {
		c[string(s)] = n
		total += n
	}
	c[TotalRecordsKey] = total
	return c
}

// Total returns the number of records.
func (c Counts) Total() int {
	return c[TotalRecordsKey]
}

// Get returns the count of records in s.
func (c Counts) Get(s RecordState) int {
	return c[string(s)]
}

// Calculate derives the task state from record counts. It is a pure
// function of its input. Counts naming an unknown state, negative counts, or
// counts exceeding the total yield TaskDamaged. Records missing from the
// per-state counts are tolerated; they are still being written.
func Calculate(c Counts) TaskState {
	total := c.Total()
	if total == 0 {
		return TaskCreated
	}

	sum := 0
	for k, n := range c {
		if k == TotalRecordsKey {
			continue
		}
		if n < 0 || !RecordState(k).Valid() {
			return TaskDamaged
		}
		sum += n
	}
	if sum > total {
		return TaskDamaged
	}

	var (
		created    = c.Get(RecordCreated)
		validating = c.Get(RecordValidating)
		invalid    = c.Get(RecordSerializerValidationFailed) + c.Get(RecordValidationFailed)
		validated  = c.Get(RecordValidated)
		importing  = c.Get(RecordImporting)
		failed     = c.Get(RecordImportFailed)
		success    = c.Get(RecordSuccess)
	)

	switch {
	case success == total:
		return TaskSuccess
	case created == total:
		return TaskCreated
	case created+validating > 0:
		return TaskValidating
	case importing > 0, validated > 0 && success+failed > 0:
		return TaskImporting
	case validated == total:
		return TaskValidated
	case validated > 0:
		return TaskValidatedWithFailure
	case success+failed > 0:
		return TaskImportedWithFailure
	case invalid == total:
		return TaskValidatedWithFailure
	default:
		return TaskDamaged
	}
}
