package cbcl

// Quality at or below this value masks the basecall to N. Q35 is the
// top of the instrument's "marginal" quality bins.
const nMaskQual = 35

// BaseFor translates a 2-bit basecall and its decoded quality into an
// ASCII base. Low-quality calls are masked to N; the quality itself is
// reported unchanged.
func BaseFor(v, q byte) byte {
	if q <= nMaskQual {
		return 'N'
	}
	switch v {
	case 0:
		return 'A'
	case 1:
		return 'C'
	case 2:
		return 'G'
	case 3:
		return 'T'
	}
	return 'N'
}

// AppendBasecalls unpacks a tile block into (base, quality) pairs,
// appending them to dst. Each input byte holds two clusters, low
// nibble first: basecall in the low two bits of the nibble, quality-bin
// index in the high two. keep has one entry per cluster represented in
// data; clusters whose entry is false are dropped.
//
// When the header was written with NonPFClustersExcluded, the caller
// must pass the reduced pass-filter keep slice; otherwise the full
// per-cluster filter.
func (h *Header) AppendBasecalls(dst []byte, data []byte, keep []bool) []byte {
	cluster := 0
	for _, b := range data {
		if cluster < len(keep) && keep[cluster] {
			q := h.DecodeQscore((b >> 2) & 3)
			dst = append(dst, BaseFor(b&3, q), q)
		}
		cluster++
		if cluster < len(keep) && keep[cluster] {
			q := h.DecodeQscore((b >> 6) & 3)
			dst = append(dst, BaseFor((b>>4)&3, q), q)
		}
		cluster++
	}
	return dst
}
