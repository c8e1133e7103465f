package cluster

import (
	"clusterkv/internal/redisx"
)

// ErrSubReplyMissing is returned when a fragment's reply array has fewer
// elements than the keys it was asked to serve — only possible if the
// server and the fragmenter disagree about arity, which indicates a
// protocol-level bug rather than a routing failure.
var ErrSubReplyMissing = newErr(KindProtocol, nil, "sub-reply missing for key")

// reassemble merges per-fragment replies back into one reply matching the
// semantics of the original (unfragmented) command. fragments and
// replies are parallel slices in dispatch order, not necessarily in
// KeyIndexes order.
func reassemble(verb string, fragments []Fragment, replies []interface{}, keyCount int) (interface{}, error) {
	for _, r := range replies {
		if replyErr, ok := r.(*redisx.ReplyError); ok {
			return nil, replyErr
		}
	}

	switch verb {
	case "MGET":
		out := make([]interface{}, keyCount)
		for fi, frag := range fragments {
			arr, ok := replies[fi].([]interface{})
			if !ok {
				return nil, ErrSubReplyMissing
			}
			if len(arr) < len(frag.KeyIndexes) {
				return nil, ErrSubReplyMissing
			}
			for j, keyIdx := range frag.KeyIndexes {
				out[keyIdx] = arr[j]
			}
		}
		return out, nil

	case "DEL", "UNLINK", "EXISTS", "TOUCH":
		var sum int64
		for _, r := range replies {
			n, err := redisx.ToInt64(r)
			if err != nil {
				return nil, newErr(KindProtocol, err, "non-integer sub-reply for %s: %v", verb, err)
			}
			sum += n
		}
		return sum, nil

	case "MSET", "MSETNX":
		for _, r := range replies {
			s, err := redisx.ToString(r)
			if err != nil || s != "OK" {
				return r, nil
			}
		}
		return "OK", nil

	default:
		if len(replies) > 0 {
			return replies[0], nil
		}
		return nil, nil
	}
}
