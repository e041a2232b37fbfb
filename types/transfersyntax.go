package types

// DICOM Transfer Syntax UIDs (PS3.5 section 8, PS3.6 annex A)

// Uncompressed transfer syntaxes
const (
	// ImplicitVRLittleEndian is the default transfer syntax every peer must support.
	// It is also the placeholder carried by refused presentation contexts.
	ImplicitVRLittleEndian = "1.2.840.10008.1.2"

	ExplicitVRLittleEndian         = "1.2.840.10008.1.2.1"
	ExplicitVRBigEndian            = "1.2.840.10008.1.2.2"
	DeflatedExplicitVRLittleEndian = "1.2.840.10008.1.2.1.99"
)

// Compressed transfer syntaxes
const (
	JPEGBaseline8Bit   = "1.2.840.10008.1.2.4.50"
	JPEGExtended12Bit  = "1.2.840.10008.1.2.4.51"
	JPEGLossless       = "1.2.840.10008.1.2.4.57"
	JPEGLosslessSV1    = "1.2.840.10008.1.2.4.70"
	JPEGLSLossless     = "1.2.840.10008.1.2.4.80"
	JPEGLSNearLossless = "1.2.840.10008.1.2.4.81"
	JPEG2000Lossless   = "1.2.840.10008.1.2.4.90"
	JPEG2000           = "1.2.840.10008.1.2.4.91"
	RLELossless        = "1.2.840.10008.1.2.5"
	MPEG2MainProfile   = "1.2.840.10008.1.2.4.100"
	MPEG4AVCH264       = "1.2.840.10008.1.2.4.102"
	HTJ2KLossless      = "1.2.840.10008.1.2.4.201"
	HTJ2K              = "1.2.840.10008.1.2.4.203"
)

// TransferSyntaxInfo describes the wire encoding a transfer syntax selects.
type TransferSyntaxInfo struct {
	UID        string
	Name       string
	ExplicitVR bool
	BigEndian  bool
	Compressed bool
	Lossless   bool
	Retired    bool
}

// GetTransferSyntaxInfo returns information about a transfer syntax UID.
// Unknown UIDs are reported as explicit VR little endian encapsulated data.
func GetTransferSyntaxInfo(uid string) *TransferSyntaxInfo {
	info, ok := transferSyntaxRegistry[uid]
	if !ok {
		return &TransferSyntaxInfo{
			UID:        uid,
			Name:       "Unknown",
			ExplicitVR: true,
			Compressed: true,
		}
	}
	return &info
}

// IsKnownTransferSyntax reports whether uid is in the registry.
func IsKnownTransferSyntax(uid string) bool {
	_, ok := transferSyntaxRegistry[uid]
	return ok
}

// IsExplicitVRUncompressed reports whether uid is one of the two native
// explicit VR encodings (little or big endian).
func IsExplicitVRUncompressed(uid string) bool {
	return uid == ExplicitVRLittleEndian || uid == ExplicitVRBigEndian
}

// IsCompressed returns true if the transfer syntax uses encapsulated pixel data
func IsCompressed(uid string) bool {
	return GetTransferSyntaxInfo(uid).Compressed
}

var transferSyntaxRegistry = map[string]TransferSyntaxInfo{
	ImplicitVRLittleEndian:         {UID: ImplicitVRLittleEndian, Name: "Little Endian Implicit", Lossless: true},
	ExplicitVRLittleEndian:         {UID: ExplicitVRLittleEndian, Name: "Little Endian Explicit", ExplicitVR: true, Lossless: true},
	ExplicitVRBigEndian:            {UID: ExplicitVRBigEndian, Name: "Big Endian Explicit", ExplicitVR: true, BigEndian: true, Lossless: true, Retired: true},
	DeflatedExplicitVRLittleEndian: {UID: DeflatedExplicitVRLittleEndian, Name: "Deflated Explicit VR Little Endian", ExplicitVR: true, Lossless: true},
	JPEGBaseline8Bit:               {UID: JPEGBaseline8Bit, Name: "JPEG Baseline", ExplicitVR: true, Compressed: true},
	JPEGExtended12Bit:              {UID: JPEGExtended12Bit, Name: "JPEG Extended (Process 2 & 4)", ExplicitVR: true, Compressed: true},
	JPEGLossless:                   {UID: JPEGLossless, Name: "JPEG Lossless, Non-hierarchical (Process 14)", ExplicitVR: true, Compressed: true, Lossless: true},
	JPEGLosslessSV1:                {UID: JPEGLosslessSV1, Name: "JPEG Lossless, Non-hierarchical, 1st Order Prediction", ExplicitVR: true, Compressed: true, Lossless: true},
	JPEGLSLossless:                 {UID: JPEGLSLossless, Name: "JPEG-LS Lossless", ExplicitVR: true, Compressed: true, Lossless: true},
	JPEGLSNearLossless:             {UID: JPEGLSNearLossless, Name: "JPEG-LS Lossy (Near-lossless)", ExplicitVR: true, Compressed: true},
	JPEG2000Lossless:               {UID: JPEG2000Lossless, Name: "JPEG 2000 (Lossless only)", ExplicitVR: true, Compressed: true, Lossless: true},
	JPEG2000:                       {UID: JPEG2000, Name: "JPEG 2000", ExplicitVR: true, Compressed: true},
	RLELossless:                    {UID: RLELossless, Name: "RLE Lossless", ExplicitVR: true, Compressed: true, Lossless: true},
	MPEG2MainProfile:               {UID: MPEG2MainProfile, Name: "MPEG2 Main Profile @ Main Level", ExplicitVR: true, Compressed: true},
	MPEG4AVCH264:                   {UID: MPEG4AVCH264, Name: "MPEG-4 AVC/H.264 High Profile / Level 4.1", ExplicitVR: true, Compressed: true},
	HTJ2KLossless:                  {UID: HTJ2KLossless, Name: "High-Throughput JPEG 2000 (Lossless Only)", ExplicitVR: true, Compressed: true, Lossless: true},
	HTJ2K:                          {UID: HTJ2K, Name: "High-Throughput JPEG 2000", ExplicitVR: true, Compressed: true},
}

// GetCommonTransferSyntaxes returns the transfer syntaxes an acceptor offers by
// default, most preferred first.
func GetCommonTransferSyntaxes() []string {
	return []string{
		ExplicitVRLittleEndian,
		ExplicitVRBigEndian,
		ImplicitVRLittleEndian,
	}
}
