package acse

import "log/slog"

// computeSendPDVLength derives the usable PDV payload length from the
// peer's advertised max receive size. Peer limits too small to carry a
// PDV header fall back to MinimumPDUSize-12 and the engine splits PDVs.
func computeSendPDVLength(theirMax uint32, logger *slog.Logger) uint32 {
	sendLen := int64(theirMax)
	if sendLen < 1 || sendLen > MaximumPDUSize {
		// Zero means unlimited.
		sendLen = MaximumPDUSize
	}
	if sendLen%2 != 0 {
		logger.Warn("PDV send length is odd", "length", sendLen, "using", sendLen-1)
		sendLen--
	}
	sendLen -= pduOverhead
	if sendLen < 1 {
		logger.Warn("PDV send length too small, using default", "length", sendLen)
		sendLen = MinimumPDUSize - pduOverhead
	}
	if sendLen < pduOverhead {
		logger.Warn("PDV send length too small, letting the upper layer split larger PDVs", "length", sendLen)
		sendLen = MinimumPDUSize - pduOverhead
	}
	return uint32(sendLen)
}
