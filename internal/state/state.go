// Package state holds the record and task lifecycle states and the
// calculator that derives a task's state from its record status counts.
package state

// RecordState is the lifecycle state of one import record.
type RecordState string

const (
	RecordCreated                    RecordState = "created"
	RecordValidating                 RecordState = "validating"
	RecordSerializerValidationFailed RecordState = "serializer validation failed"
	RecordValidationFailed           RecordState = "validation failed"
	RecordValidated                  RecordState = "validated"
	RecordImporting                  RecordState = "importing"
	RecordImportFailed               RecordState = "import failed"
	RecordSuccess                    RecordState = "success"
)

// RecordStates lists every record state in lifecycle order.
var RecordStates = []RecordState{
	RecordCreated,
	RecordValidating,
	RecordSerializerValidationFailed,
	RecordValidationFailed,
	RecordValidated,
	RecordImporting,
	RecordImportFailed,
	RecordSuccess,
}

// Valid reports whether s is a known record state.
func (s RecordState) Valid() bool {
	for _, v := range RecordStates {
		if v == s {
			return true
		}
	}
	return false
}

// ValidationDone reports whether validation of the record has finished,
// successfully or not.
func (s RecordState) ValidationDone() bool {
	switch s {
	case RecordCreated, RecordValidating:
		return false
	default:
		return true
	}
}

// Imported reports whether an import of the record was started.
func (s RecordState) Imported() bool {
	switch s {
	case RecordImporting, RecordImportFailed, RecordSuccess:
		return true
	default:
		return false
	}
}

// TaskState is the aggregate lifecycle state of an import task.
type TaskState string

const (
	TaskCreated              TaskState = "created"
	TaskValidating           TaskState = "validating"
	TaskValidatedWithFailure TaskState = "validated with failures"
	TaskValidated            TaskState = "validated"
	TaskImporting            TaskState = "importing"
	TaskImportedWithFailure  TaskState = "imported with failures"
	TaskSuccess              TaskState = "success"
	TaskDamaged              TaskState = "damaged"
)

// Terminal reports whether no further record work is expected for the
// task without an explicit new action.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskValidatedWithFailure, TaskValidated, TaskImportedWithFailure, TaskSuccess, TaskDamaged:
		return true
	default:
		return false
	}
}

// CanBeginImport reports whether an import may be started from s.
func (s TaskState) CanBeginImport() bool {
	switch s {
	case TaskValidated, TaskValidatedWithFailure, TaskImporting, TaskImportedWithFailure:
		return true
	default:
		return false
	}
}
