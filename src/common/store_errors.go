package common

import "fmt"

// StoreErrType ...
type StoreErrType uint32

const (
	// KeyNotFound ...
	KeyNotFound StoreErrType = iota
	// KeyAlreadyExists is returned on duplicate inserts. Duplicates are
	// expected with gossip delivery and are benign.
	KeyAlreadyExists
	// PendingDependency is returned when an item references another item that
	// has not been stored yet. The item is parked in a pending buffer until
	// the dependency arrives.
	PendingDependency
	// UnknownTask ...
	UnknownTask
	// UnknownParticipant ...
	UnknownParticipant
	// RecordExists is returned when trying to overwrite a consensus record.
	// Records are write-once.
	RecordExists
	// InvalidSignature is returned when an item's signature does not verify
	// against its claimed creator. The item is refused: it is not the content
	// it claims to be, and storing it would block the validly-signed copy.
	InvalidSignature
	// Empty ...
	Empty
)

// StoreErr ...
type StoreErr struct {
	dataType string
	errType  StoreErrType
	key      string
}

// NewStoreErr ...
func NewStoreErr(dataType string, errType StoreErrType, key string) StoreErr {
	return StoreErr{
		dataType: dataType,
		errType:  errType,
		key:      key,
	}
}

// Error ...
func (e StoreErr) Error() string {
	m := ""
	switch e.errType {
	case KeyNotFound:
		m = "Not Found"
	case KeyAlreadyExists:
		m = "Key Already Exists"
	case PendingDependency:
		m = "Pending Dependency"
	case UnknownTask:
		m = "Unknown Task"
	case UnknownParticipant:
		m = "Unknown Participant"
	case RecordExists:
		m = "Record Exists"
	case InvalidSignature:
		m = "Invalid Signature"
	case Empty:
		m = "Empty"
	}

	return fmt.Sprintf("%s, %s, %s", e.dataType, e.key, m)
}

// IsStore checks that an error is of type StoreErr and that its code matches
// the provided StoreErr code.
func IsStore(err error, t StoreErrType) bool {
	storeErr, ok := err.(StoreErr)
	return ok && storeErr.errType == t
}
