package ports

import "github.com/alejandrodnm/blitzrace/internal/domain"

// CallRecorder registra el resultado de cada llamada aplicada por el ledger.
type CallRecorder interface {
	ObserveCall(op domain.Op, err error)
	ObserveSubscriberDropped()
}

// KeeperRecorder registra los envíos de keepers y del registro de automatización.
type KeeperRecorder interface {
	ObserveSubmit(keeper string, op domain.Op, err error)
}
