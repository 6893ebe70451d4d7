package enrollment

import "net/url"

// SuccessMarker is the query parameter the payment provider appends when it
// redirects back after a payment method was saved.
const SuccessMarker = "fcpEnrollmentSuccess"

func HasMarker(q url.Values) bool {
	return q.Has(SuccessMarker)
}

// WithoutMarker returns a copy of q without the success marker.
func WithoutMarker(q url.Values) url.Values {
	out := make(url.Values, len(q))
	for k, v := range q {
		if k == SuccessMarker {
			continue
		}
		out[k] = append([]string(nil), v...)
	}
	return out
}
