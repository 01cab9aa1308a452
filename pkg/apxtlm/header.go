package apxtlm

// HeaderSize is the fixed size of the APXTLM header in bytes, and the
// value written into the header's payload-offset field.
const HeaderSize = 44

// FormatVersion is the current APXTLM format version.
const FormatVersion uint16 = 1

// magic is the fixed ASCII identifier at offset 0.
const magic = "APXTLM"

func (e *Encoder) writeHeader() {
	e.w.Raw([]byte(magic))       // offset 0, 6 bytes
	e.w.Raw(make([]byte, 10))    // offset 6, 10 bytes padding
	e.w.U16(FormatVersion)       // offset 16, 2 bytes
	e.w.U16(HeaderSize)          // offset 18, 2 bytes
	e.w.Raw(make([]byte, 12))    // offset 20, 12 bytes padding
	e.w.U64(e.startTimestampMS)  // offset 32, 8 bytes
	e.w.I32(e.utcOffsetSeconds)  // offset 40, 4 bytes
}
