package types

// ApplicationContextUID is the DICOM application context name (PS3.7 annex A.2.1).
const ApplicationContextUID = "1.2.840.10008.3.1.1.1"

// Implementation identity stamped into every A-ASSOCIATE-RQ/AC we send.
const (
	ImplementationClassUID    = "1.2.826.0.1.3680043.10.1245.1.0"
	ImplementationVersionName = "DICOMACSE_100"
)

// SOP Class UIDs (PS3.4 annex B) commonly used as abstract syntaxes
const (
	VerificationSOPClass = "1.2.840.10008.1.1"

	ComputedRadiographyImageStorage = "1.2.840.10008.5.1.4.1.1.1"
	CTImageStorage                  = "1.2.840.10008.5.1.4.1.1.2"
	EnhancedCTImageStorage          = "1.2.840.10008.5.1.4.1.1.2.1"
	MRImageStorage                  = "1.2.840.10008.5.1.4.1.1.4"
	EnhancedMRImageStorage          = "1.2.840.10008.5.1.4.1.1.4.1"
	UltrasoundImageStorage          = "1.2.840.10008.5.1.4.1.1.6.1"
	SecondaryCaptureImageStorage    = "1.2.840.10008.5.1.4.1.1.7"
	XRayAngiographicImageStorage    = "1.2.840.10008.5.1.4.1.1.12.1"
	NuclearMedicineImageStorage     = "1.2.840.10008.5.1.4.1.1.20"
	PositronEmissionTomographyImage = "1.2.840.10008.5.1.4.1.1.128"
	RTStructureSetStorage           = "1.2.840.10008.5.1.4.1.1.481.3"
	BasicTextSRStorage              = "1.2.840.10008.5.1.4.1.1.88.11"
	EncapsulatedPDFStorage          = "1.2.840.10008.5.1.4.1.1.104.1"

	PatientRootQueryRetrieveInformationModelFind = "1.2.840.10008.5.1.4.1.2.1.1"
	PatientRootQueryRetrieveInformationModelMove = "1.2.840.10008.5.1.4.1.2.1.2"
	StudyRootQueryRetrieveInformationModelFind   = "1.2.840.10008.5.1.4.1.2.2.1"
	StudyRootQueryRetrieveInformationModelMove   = "1.2.840.10008.5.1.4.1.2.2.2"
	StudyRootQueryRetrieveInformationModelGet    = "1.2.840.10008.5.1.4.1.2.2.3"
	ModalityWorklistInformationModelFind         = "1.2.840.10008.5.1.4.31"
)

// SOPClassInfo provides human-readable information about a SOP Class UID
type SOPClassInfo struct {
	UID      string
	Name     string
	Category string
}

// GetSOPClassInfo returns information about a SOP Class UID
func GetSOPClassInfo(uid string) *SOPClassInfo {
	info, ok := sopClassRegistry[uid]
	if !ok {
		return &SOPClassInfo{
			UID:      uid,
			Name:     "Unknown",
			Category: "Unknown",
		}
	}
	return &info
}

// IsStorageSOPClass returns true if the UID is a storage SOP class
func IsStorageSOPClass(uid string) bool {
	return GetSOPClassInfo(uid).Category == "Storage"
}

// StorageSOPClasses returns every storage SOP class in the registry.
func StorageSOPClasses() []string {
	var out []string
	for uid, info := range sopClassRegistry {
		if info.Category == "Storage" {
			out = append(out, uid)
		}
	}
	return out
}

// UIDName returns a readable name for a SOP class, transfer syntax or
// application context UID, or the empty string when unknown.
func UIDName(uid string) string {
	if info, ok := sopClassRegistry[uid]; ok {
		return info.Name
	}
	if info, ok := transferSyntaxRegistry[uid]; ok {
		return info.Name
	}
	if uid == ApplicationContextUID {
		return "DICOM Application Context Name"
	}
	return ""
}

var sopClassRegistry = map[string]SOPClassInfo{
	VerificationSOPClass:            {VerificationSOPClass, "VerificationSOPClass", "Verification"},
	ComputedRadiographyImageStorage: {ComputedRadiographyImageStorage, "ComputedRadiographyImageStorage", "Storage"},
	CTImageStorage:                  {CTImageStorage, "CTImageStorage", "Storage"},
	EnhancedCTImageStorage:          {EnhancedCTImageStorage, "EnhancedCTImageStorage", "Storage"},
	MRImageStorage:                  {MRImageStorage, "MRImageStorage", "Storage"},
	EnhancedMRImageStorage:          {EnhancedMRImageStorage, "EnhancedMRImageStorage", "Storage"},
	UltrasoundImageStorage:          {UltrasoundImageStorage, "UltrasoundImageStorage", "Storage"},
	SecondaryCaptureImageStorage:    {SecondaryCaptureImageStorage, "SecondaryCaptureImageStorage", "Storage"},
	XRayAngiographicImageStorage:    {XRayAngiographicImageStorage, "XRayAngiographicImageStorage", "Storage"},
	NuclearMedicineImageStorage:     {NuclearMedicineImageStorage, "NuclearMedicineImageStorage", "Storage"},
	PositronEmissionTomographyImage: {PositronEmissionTomographyImage, "PositronEmissionTomographyImageStorage", "Storage"},
	RTStructureSetStorage:           {RTStructureSetStorage, "RTStructureSetStorage", "Storage"},
	BasicTextSRStorage:              {BasicTextSRStorage, "BasicTextSRStorage", "Storage"},
	EncapsulatedPDFStorage:          {EncapsulatedPDFStorage, "EncapsulatedPDFStorage", "Storage"},

	PatientRootQueryRetrieveInformationModelFind: {PatientRootQueryRetrieveInformationModelFind, "FINDPatientRootQueryRetrieveInformationModel", "Query/Retrieve"},
	PatientRootQueryRetrieveInformationModelMove: {PatientRootQueryRetrieveInformationModelMove, "MOVEPatientRootQueryRetrieveInformationModel", "Query/Retrieve"},
	StudyRootQueryRetrieveInformationModelFind:   {StudyRootQueryRetrieveInformationModelFind, "FINDStudyRootQueryRetrieveInformationModel", "Query/Retrieve"},
	StudyRootQueryRetrieveInformationModelMove:   {StudyRootQueryRetrieveInformationModelMove, "MOVEStudyRootQueryRetrieveInformationModel", "Query/Retrieve"},
	StudyRootQueryRetrieveInformationModelGet:    {StudyRootQueryRetrieveInformationModelGet, "GETStudyRootQueryRetrieveInformationModel", "Query/Retrieve"},
	ModalityWorklistInformationModelFind:         {ModalityWorklistInformationModelFind, "FINDModalityWorklistInformationModel", "Worklist"},
}
