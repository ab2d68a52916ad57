package transport

import "time"

// connID is one sequence-numbered connection ID, either one the peer has
// offered us (held in dcidSet) or one we have offered the peer (held in
// scidSet), RFC 9000 Section 5.1.
type connID struct {
	seq        uint64
	cid        []byte
	resetToken []byte
	retired    bool
}

// dcidSet tracks the destination connection IDs the peer has issued us via
// NEW_CONNECTION_ID, any of which we may address future packets to.
type dcidSet struct {
	ids []connID
}

func (d *dcidSet) insert(seq uint64, cid, resetToken []byte) {
	for _, e := range d.ids {
		if e.seq == seq {
			return
		}
	}
	d.ids = append(d.ids, connID{seq: seq, cid: append([]byte(nil), cid...), resetToken: append([]byte(nil), resetToken...)})
}

// retireBelow marks every id with seq < threshold as retired and returns
// their sequence numbers, RFC 9000 Section 5.1.2's Retire Prior To handling.
func (d *dcidSet) retireBelow(threshold uint64) []uint64 {
	var retired []uint64
	for i := range d.ids {
		if !d.ids[i].retired && d.ids[i].seq < threshold {
			d.ids[i].retired = true
			retired = append(retired, d.ids[i].seq)
		}
	}
	return retired
}

// active returns an unretired destination CID, if any are available.
func (d *dcidSet) active() *connID {
	for i := range d.ids {
		if !d.ids[i].retired {
			return &d.ids[i]
		}
	}
	return nil
}

// scidSet tracks the source connection IDs this endpoint has issued to the
// peer via NEW_CONNECTION_ID, so a RETIRE_CONNECTION_ID naming one of them
// can be matched and accounted for.
type scidSet struct {
	ids []connID
}

func (s *scidSet) insert(seq uint64, cid []byte) {
	s.ids = append(s.ids, connID{seq: seq, cid: append([]byte(nil), cid...)})
}

func (s *scidSet) retire(seq uint64) {
	for i := range s.ids {
		if s.ids[i].seq == seq {
			s.ids[i].retired = true
			return
		}
	}
}

// queueRetireConnectionID records that a RETIRE_CONNECTION_ID frame naming
// seq must go out; sendFrames drains pendingRetireConnectionID opportunistically.
func (s *Conn) queueRetireConnectionID(seq uint64) {
	s.pendingRetireConnectionID = append(s.pendingRetireConnectionID, seq)
}

// queuePathResponse records that an inbound PATH_CHALLENGE must be mirrored
// back in a PATH_RESPONSE, RFC 9000 Section 8.2.2.
func (s *Conn) queuePathResponse(data [8]byte) {
	s.pendingPathResponse = &data
}

// onPathResponse checks an inbound PATH_RESPONSE against the challenge this
// endpoint most recently sent; a match confirms the peer is reachable on
// the path the response arrived on.
func (s *Conn) onPathResponse(data [8]byte, now time.Time) {
	if s.pathChallengeSent != nil && *s.pathChallengeSent == data {
		s.pathValidated = true
		s.pathChallengeSent = nil
	}
}

// onNonProbingReceived notes that a non-probing frame arrived in the
// Application space, which per RFC 9000 Section 9.3 is taken as an implicit
// signal that the sender still considers the current path usable.
func (s *Conn) onNonProbingReceived(now time.Time) {
	s.lastNonProbingRecv = now
}
