package acse

import (
	"time"

	"github.com/caio-sobreiro/dicomacse/transport"
)

// SelectReadableAssociation waits up to timeout for one of assocs to have
// data to read. When it returns true, every entry that is not readable
// has been set to nil. Nil entries are ignored.
func SelectReadableAssociation(assocs []*Association, timeout time.Duration) bool {
	return selectReadableAssociation(transport.SelectReadable, assocs, timeout)
}

func selectReadableAssociation(sel func([]transport.Connection, time.Duration) bool, assocs []*Association, timeout time.Duration) bool {
	if len(assocs) == 0 {
		return false
	}
	conns := make([]transport.Connection, len(assocs))
	for i, a := range assocs {
		if a != nil {
			conns[i] = a.Connection()
		}
	}
	if !sel(conns, timeout) {
		return false
	}
	for i := range assocs {
		if conns[i] == nil {
			assocs[i] = nil
		}
	}
	return true
}
