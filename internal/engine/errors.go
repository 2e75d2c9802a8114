package engine

import (
	"errors"

	"github.com/voltex/trade-engine/internal/executor"
	"github.com/voltex/trade-engine/internal/ledger"
	"github.com/voltex/trade-engine/internal/store"
	"github.com/voltex/trade-engine/internal/stream"
)

// Failure classes for stream entry processing. Domain failures are final for
// this delivery: the entry is logged and skipped without acknowledgment.
// Everything else is treated as transient I/O and retried after a fixed
// pause. There is no fatal class; the per-message boundary catches all.
const (
	classDomain    = "domain"
	classTransient = "transient"
)

var domainErrors = []error{
	ErrNoPriceData,
	ledger.ErrOrderNotFound,
	ledger.ErrInsufficientBalance,
	store.ErrAssetUnknown,
	stream.ErrBadEntry,
	executor.ErrInvalidSide,
	executor.ErrInvalidLeverage,
	executor.ErrInvalidMargin,
	executor.ErrInvalidPrice,
}

// failureClass classifies an error as domain or transient.
func failureClass(err error) string {
	for _, sentinel := range domainErrors {
		if errors.Is(err, sentinel) {
			return classDomain
		}
	}
	return classTransient
}
