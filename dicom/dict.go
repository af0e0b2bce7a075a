package dicom

// Tags used by the worklist service. The command-group tags (0000,xxxx)
// appear in event reports only.
const (
	TagAffectedSOPClassUID    Tag = 0x00000002
	TagMessageID              Tag = 0x00000110
	TagAffectedSOPInstanceUID Tag = 0x00001000
	TagEventTypeID            Tag = 0x00001002

	TagSOPClassUID    Tag = 0x00080016
	TagSOPInstanceUID Tag = 0x00080018

	TagAccessionNumber        Tag = 0x00080050
	TagCodeValue              Tag = 0x00080100
	TagCodingSchemeDesignator Tag = 0x00080102
	TagCodeMeaning            Tag = 0x00080104
	TagTransactionUID         Tag = 0x00081195

	TagPatientName      Tag = 0x00100010
	TagPatientID        Tag = 0x00100020
	TagPatientBirthDate Tag = 0x00100030
	TagPatientSex       Tag = 0x00100040

	TagHumanPerformerCodeSequence                 Tag = 0x00404009
	TagScheduledProcedureStepStartDateTime        Tag = 0x00404005
	TagScheduledProcedureStepModificationDateTime Tag = 0x00404010
	TagScheduledWorkitemCodeSequence              Tag = 0x00404018
	TagScheduledStationNameCodeSequence           Tag = 0x00404025
	TagScheduledHumanPerformersSequence           Tag = 0x00404034
	TagHumanPerformersOrganization                Tag = 0x00404036
	TagHumanPerformerName                         Tag = 0x00404037
	TagInputReadinessState                        Tag = 0x00404041

	TagProcedureStepState                       Tag = 0x00741000
	TagProcedureStepProgressInformationSequence Tag = 0x00741002
	TagProcedureStepProgress                    Tag = 0x00741004
	TagProcedureStepProgressDescription         Tag = 0x00741006
	TagProcedureStepCommunicationsURISequence   Tag = 0x00741008
	TagContactURI                               Tag = 0x0074100A
	TagContactDisplayName                       Tag = 0x0074100C
	TagScheduledProcedureStepPriority           Tag = 0x00741200
	TagWorklistLabel                            Tag = 0x00741202
	TagProcedureStepLabel                       Tag = 0x00741204
	TagReceivingAE                              Tag = 0x00741234
	TagRequestingAE                             Tag = 0x00741236
	TagReasonForCancellation                    Tag = 0x00741238
	TagSCPStatus                                Tag = 0x00741242
	TagSubscriptionListStatus                   Tag = 0x00741244
	TagUnifiedProcedureStepListStatus           Tag = 0x00741246
)

// dictEntry carries the keyword and VR of a known tag.
type dictEntry struct {
	keyword string
	vr      string
}

var dictionary = map[Tag]dictEntry{
	TagAffectedSOPClassUID:    {"AffectedSOPClassUID", "UI"},
	TagMessageID:              {"MessageID", "US"},
	TagAffectedSOPInstanceUID: {"AffectedSOPInstanceUID", "UI"},
	TagEventTypeID:            {"EventTypeID", "US"},

	TagSOPClassUID:    {"SOPClassUID", "UI"},
	TagSOPInstanceUID: {"SOPInstanceUID", "UI"},

	TagAccessionNumber:        {"AccessionNumber", "SH"},
	TagCodeValue:              {"CodeValue", "SH"},
	TagCodingSchemeDesignator: {"CodingSchemeDesignator", "SH"},
	TagCodeMeaning:            {"CodeMeaning", "LO"},
	TagTransactionUID:         {"TransactionUID", "UI"},

	TagPatientName:      {"PatientName", "PN"},
	TagPatientID:        {"PatientID", "LO"},
	TagPatientBirthDate: {"PatientBirthDate", "DA"},
	TagPatientSex:       {"PatientSex", "CS"},

	TagHumanPerformerCodeSequence:                 {"HumanPerformerCodeSequence", "SQ"},
	TagScheduledProcedureStepStartDateTime:        {"ScheduledProcedureStepStartDateTime", "DT"},
	TagScheduledProcedureStepModificationDateTime: {"ScheduledProcedureStepModificationDateTime", "DT"},
	TagScheduledWorkitemCodeSequence:              {"ScheduledWorkitemCodeSequence", "SQ"},
	TagScheduledStationNameCodeSequence:           {"ScheduledStationNameCodeSequence", "SQ"},
	TagScheduledHumanPerformersSequence:           {"ScheduledHumanPerformersSequence", "SQ"},
	TagHumanPerformersOrganization:                {"HumanPerformersOrganization", "LO"},
	TagHumanPerformerName:                         {"HumanPerformerName", "PN"},
	TagInputReadinessState:                        {"InputReadinessState", "CS"},

	TagProcedureStepState:                       {"ProcedureStepState", "CS"},
	TagProcedureStepProgressInformationSequence: {"ProcedureStepProgressInformationSequence", "SQ"},
	TagProcedureStepProgress:                    {"ProcedureStepProgress", "DS"},
	TagProcedureStepProgressDescription:         {"ProcedureStepProgressDescription", "ST"},
	TagProcedureStepCommunicationsURISequence:   {"ProcedureStepCommunicationsURISequence", "SQ"},
	TagContactURI:                               {"ContactURI", "UR"},
	TagContactDisplayName:                       {"ContactDisplayName", "LO"},
	TagScheduledProcedureStepPriority:           {"ScheduledProcedureStepPriority", "CS"},
	TagWorklistLabel:                            {"WorklistLabel", "LO"},
	TagProcedureStepLabel:                       {"ProcedureStepLabel", "LO"},
	TagReceivingAE:                              {"ReceivingAE", "AE"},
	TagRequestingAE:                             {"RequestingAE", "AE"},
	TagReasonForCancellation:                    {"ReasonForCancellation", "LT"},
	TagSCPStatus:                                {"SCPStatus", "CS"},
	TagSubscriptionListStatus:                   {"SubscriptionListStatus", "CS"},
	TagUnifiedProcedureStepListStatus:           {"UnifiedProcedureStepListStatus", "CS"},
}

var keywordToTag = func() map[string]Tag {
	m := make(map[string]Tag, len(dictionary))
	for t, e := range dictionary {
		m[e.keyword] = t
	}
	return m
}()

// KeywordToTag resolves a DICOM keyword to its tag.
func KeywordToTag(keyword string) (Tag, bool) {
	t, ok := keywordToTag[keyword]
	return t, ok
}

// TagKeyword returns the keyword of a known tag.
func TagKeyword(t Tag) (string, bool) {
	e, ok := dictionary[t]
	if !ok {
		return "", false
	}
	return e.keyword, true
}

// TagVR returns the VR of a known tag, or "UN" for tags outside the
// dictionary.
func TagVR(t Tag) string {
	if e, ok := dictionary[t]; ok {
		return e.vr
	}
	return "UN"
}

// ResolveQueryKey accepts either an 8-hex-digit tag code or a keyword, the
// two spellings search parameters arrive in.
func ResolveQueryKey(key string) (Tag, bool) {
	if t, err := ParseTag(key); err == nil {
		return t, true
	}
	t, ok := KeywordToTag(key)
	return t, ok
}
